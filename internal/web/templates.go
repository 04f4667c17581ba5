package web

import (
	"html/template"
)

// The dashboard must work on an isolated network, so it pulls nothing
// from a CDN.
var dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <meta http-equiv="refresh" content="15">
    <title>RescueMesh {{.node_id}}</title>
    <style>
        * { box-sizing: border-box; margin: 0; padding: 0; }

        :root {
            --bg-primary: #0a0f0a;
            --bg-card: rgba(0, 40, 0, 0.4);
            --border-color: #1a4a1a;
            --text-primary: #00ff41;
            --text-secondary: #00cc33;
            --text-dim: #336633;
            --accent: #00ff41;
            --danger: #ff3333;
            --success: #00ff41;
        }

        body {
            font-family: 'Courier New', monospace;
            background: var(--bg-primary);
            color: var(--text-primary);
            min-height: 100vh;
            padding: 1.5rem;
        }

        .container { max-width: 1400px; margin: 0 auto; }

        header {
            display: flex;
            justify-content: space-between;
            align-items: center;
            margin-bottom: 1.5rem;
            padding-bottom: 1rem;
            border-bottom: 1px solid var(--border-color);
        }

        h1 { font-size: 1.6rem; color: var(--accent); letter-spacing: 3px; }

        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(320px, 1fr)); gap: 1rem; margin-bottom: 1rem; }

        .card { background: var(--bg-card); border: 1px solid var(--border-color); padding: 1rem; }
        .card-title {
            font-size: 0.85rem;
            color: var(--text-secondary);
            margin-bottom: 0.75rem;
            text-transform: uppercase;
            letter-spacing: 1px;
        }
        .card-title::before { content: '> '; color: var(--accent); }

        .stat-row { display: flex; justify-content: space-between; padding: 0.4rem 0; border-bottom: 1px dashed var(--border-color); }
        .stat-label { color: var(--text-dim); font-size: 0.85rem; }
        .stat-value { color: var(--accent); font-weight: bold; font-size: 0.85rem; }

        .status-badge { padding: 0.15rem 0.5rem; font-size: 0.7rem; text-transform: uppercase; }
        .status-running { color: var(--success); border: 1px solid var(--success); }
        .status-stopped { color: var(--danger); border: 1px solid var(--danger); }

        table { width: 100%; border-collapse: collapse; font-size: 0.8rem; }
        th, td { text-align: left; padding: 0.5rem; }
        th { color: var(--text-secondary); font-weight: normal; text-transform: uppercase; font-size: 0.7rem; border-bottom: 1px solid var(--border-color); }
        td { border-bottom: 1px dashed var(--border-color); }

        .btn { display: inline-block; padding: 0.5rem 1rem; color: var(--accent); border: 1px solid var(--accent); text-decoration: none; font-size: 0.75rem; }
        .empty-state { color: var(--text-dim); font-size: 0.85rem; }
    </style>
</head>
<body>
<div class="container">
    <header>
        <h1>RESCUEMESH :: {{.node_id}}</h1>
        <a class="btn" href="/report">Download report</a>
    </header>

    <div class="grid">
        <div class="card">
            <div class="card-title">Node</div>
            <div class="stat-row"><span class="stat-label">Daemon</span>
                <span>{{if .daemon_running}}<span class="status-badge status-running">Running</span>{{else}}<span class="status-badge status-stopped">Stopped</span>{{end}}</span></div>
            <div class="stat-row"><span class="stat-label">Internet</span>
                <span>{{if .has_internet}}<span class="status-badge status-running">Goal node</span>{{else}}<span class="status-badge status-stopped">Offline</span>{{end}}</span></div>
            <div class="stat-row"><span class="stat-label">Link</span><span class="stat-value">{{.link_state}}</span></div>
        </div>
        <div class="card">
            <div class="card-title">Relay</div>
            <div class="stat-row"><span class="stat-label">Sent</span><span class="stat-value">{{.stats.PacketsSent}}</span></div>
            <div class="stat-row"><span class="stat-label">Failed</span><span class="stat-value">{{.stats.PacketsFailed}}</span></div>
            <div class="stat-row"><span class="stat-label">Delivered here</span><span class="stat-value">{{.stats.PacketsDelivered}}</span></div>
            <div class="stat-row"><span class="stat-label">Pending</span><span class="stat-value">{{.stats.PendingCount}}</span></div>
            <div class="stat-row"><span class="stat-label">Failure streak</span><span class="stat-value">{{.stats.ConsecutiveFailures}}</span></div>
        </div>
    </div>

    <div class="card" style="margin-bottom:1rem">
        <div class="card-title">Neighbors</div>
        {{if .neighbors}}
        <table>
            <thead><tr><th>ID</th><th>Name</th><th>Address</th><th>Battery</th><th>Internet</th><th>Signal</th><th>Role</th><th>Seen</th></tr></thead>
            <tbody>{{range .neighbors}}<tr><td>{{.ID}}</td><td>{{.DisplayName}}</td><td>{{.Address}}</td><td>{{.Battery}}%</td><td>{{if .HasInternet}}yes{{else}}no{{end}}</td><td>{{.SignalStrength}} dBm</td><td>{{.Role}}</td><td>{{.LastSeen.Format "15:04:05"}}</td></tr>{{end}}</tbody>
        </table>
        {{else}}<p class="empty-state">> No neighbors in range</p>{{end}}
    </div>

    <div class="card" style="margin-bottom:1rem">
        <div class="card-title">Recent relay events</div>
        {{if .events}}
        <table>
            <thead><tr><th>Time</th><th>Packet</th><th>Status</th><th>Next hop</th><th>Hops</th><th>Message</th></tr></thead>
            <tbody>{{range .events}}<tr><td>{{.Timestamp.Format "15:04:05"}}</td><td>{{.PacketID}}</td><td>{{.Status}}</td><td>{{.TargetID}}</td><td>{{.HopCount}}</td><td>{{.Message}}</td></tr>{{end}}</tbody>
        </table>
        {{else}}<p class="empty-state">> No relay activity yet</p>{{end}}
    </div>

    <div class="card">
        <div class="card-title">Route cache</div>
        {{if .routes}}
        <table>
            <thead><tr><th>Destination</th><th>Next hop</th><th>Score</th><th>Active</th><th>Success</th><th>Failure</th></tr></thead>
            <tbody>{{range .routes}}<tr><td>{{.DestinationID}}</td><td>{{.NextHopID}}</td><td>{{printf "%.0f" .Score}}</td><td>{{.IsActive}}</td><td>{{.SuccessCount}}</td><td>{{.FailureCount}}</td></tr>{{end}}</tbody>
        </table>
        {{else}}<p class="empty-state">> No routes learned</p>{{end}}
    </div>
</div>
</body>
</html>`

func getDashboardTemplate() *template.Template {
	return template.Must(template.New("dashboard").Parse(dashboardHTML))
}
