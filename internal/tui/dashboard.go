package tui

import (
	"fmt"
	"strings"

	"github.com/user/rescuemesh/internal/model"
)

// DashboardData holds data for the dashboard view.
type DashboardData struct {
	NodeID        string
	Running       bool
	HasInternet   bool
	LinkState     string
	Uptime        string
	Stats         model.RelayStats
	Counts        map[model.RelayStatus]int
	OutboxPending int
	Neighbors     []model.NodeInfo
	Events        []model.RelayEvent
}

// Dashboard is the main dashboard view.
type Dashboard struct {
	data   *DashboardData
	width  int
	height int
}

// NewDashboard creates a new dashboard.
func NewDashboard(msg dataMsg, width, height int) *Dashboard {
	return &Dashboard{
		data:   msg.Data,
		width:  width,
		height: height,
	}
}

// SetSize updates the dashboard size.
func (d *Dashboard) SetSize(width, height int) {
	d.width = width
	d.height = height
}

// View renders the dashboard.
func (d *Dashboard) View() string {
	var sb strings.Builder

	sb.WriteString(HeaderStyle.Width(d.width).Render("RescueMesh :: " + d.data.NodeID))
	sb.WriteString("\n\n")

	sb.WriteString(d.renderNodeSection())
	sb.WriteString("\n")
	sb.WriteString(d.renderStatsSection())
	sb.WriteString("\n")
	sb.WriteString(d.renderNeighborsSection())
	sb.WriteString("\n")
	sb.WriteString(d.renderEventsSection())
	sb.WriteString("\n")

	sb.WriteString(HelpStyle.Render("Press 'r' to refresh • 'q' to quit"))

	return sb.String()
}

func (d *Dashboard) sectionWidth() int {
	w := d.width - 4
	if w < 60 {
		w = 60
	}
	return w
}

func (d *Dashboard) renderNodeSection() string {
	uptime := d.data.Uptime
	if uptime == "" || !d.data.Running {
		uptime = "-"
	}

	content := fmt.Sprintf(
		"%s %s\n%s %s\n%s %s\n%s %s",
		LabelStyle.Render("Daemon:"),
		RenderStatus(d.data.Running, "running", "stopped"),
		LabelStyle.Render("Internet:"),
		RenderStatus(d.data.HasInternet, "goal node", "offline"),
		LabelStyle.Render("Link:"),
		ValueStyle.Render(d.data.LinkState),
		LabelStyle.Render("Uptime:"),
		ValueStyle.Render(uptime),
	)

	return SectionStyle.Width(d.sectionWidth()).Render(
		SectionTitleStyle.Render("Node") + "\n" + content)
}

func (d *Dashboard) renderStatsSection() string {
	s := d.data.Stats
	content := fmt.Sprintf(
		"%s %s\n%s %s\n%s %s\n%s %s\n%s %s\n%s %s",
		LabelStyle.Render("Sent:"),
		ValueStyle.Render(fmt.Sprintf("%d", s.PacketsSent)),
		LabelStyle.Render("Failed:"),
		ValueStyle.Render(fmt.Sprintf("%d", s.PacketsFailed)),
		LabelStyle.Render("Delivered:"),
		ValueStyle.Render(fmt.Sprintf("%d", s.PacketsDelivered)),
		LabelStyle.Render("Queued:"),
		ValueStyle.Render(fmt.Sprintf("%d", s.PendingCount)),
		LabelStyle.Render("Outbox:"),
		ValueStyle.Render(fmt.Sprintf("%d", d.data.OutboxPending)),
		LabelStyle.Render("24h events:"),
		ValueStyle.Render(formatCounts(d.data.Counts)),
	)

	return SectionStyle.Width(d.sectionWidth()).Render(
		SectionTitleStyle.Render("Relay") + "\n" + content)
}

func (d *Dashboard) renderNeighborsSection() string {
	title := SectionTitleStyle.Render(fmt.Sprintf("Neighbors (%d)", len(d.data.Neighbors)))
	if len(d.data.Neighbors) == 0 {
		return SectionStyle.Width(d.sectionWidth()).Render(
			title + "\n" + DimStyle.Render("No neighbors in range"))
	}

	var rows []string
	rows = append(rows, fmt.Sprintf("%-18s %-16s %-12s %-4s %s", "ID", "Address", "Battery", "Net", "Role"))
	rows = append(rows, strings.Repeat("─", 60))
	for _, n := range d.data.Neighbors {
		net := "-"
		if n.HasInternet {
			net = SuccessStyle.Render("yes")
		}
		rows = append(rows, fmt.Sprintf("%-18s %-16s %s %3d%% %-4s %s",
			truncate(n.ID, 18), n.Address, RenderBar(n.Battery, 100, 6), n.Battery, net, n.Role))
	}

	return SectionStyle.Width(d.sectionWidth()).Render(title + "\n" + strings.Join(rows, "\n"))
}

func (d *Dashboard) renderEventsSection() string {
	title := SectionTitleStyle.Render("Recent Activity")
	if len(d.data.Events) == 0 {
		return SectionStyle.Width(d.sectionWidth()).Render(
			title + "\n" + DimStyle.Render("No relay activity yet"))
	}

	var rows []string
	for _, e := range d.data.Events {
		target := e.TargetID
		if target == "" {
			target = "-"
		}
		rows = append(rows, fmt.Sprintf("%s  %s  %-10s %-18s %s",
			e.Timestamp.Local().Format("15:04:05"),
			truncate(e.PacketID, 8),
			StatusStyle(e.Status).Render(string(e.Status)),
			truncate(target, 18),
			DimStyle.Render(truncate(e.Message, 40)),
		))
	}

	return SectionStyle.Width(d.sectionWidth()).Render(title + "\n" + strings.Join(rows, "\n"))
}

func formatCounts(counts map[model.RelayStatus]int) string {
	if len(counts) == 0 {
		return "none"
	}
	order := []model.RelayStatus{
		model.StatusSuccess, model.StatusFailure, model.StatusDelivered,
		model.StatusQueued, model.StatusDropped,
	}
	var parts []string
	for _, st := range order {
		if c := counts[st]; c > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", st, c))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " · ")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
