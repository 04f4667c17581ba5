package report

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/user/rescuemesh/internal/model"
)

// pathDiagramLimit caps per-packet diagrams; the topology covers the rest.
const pathDiagramLimit = 10

var statusOrder = []model.RelayStatus{
	model.StatusSuccess,
	model.StatusDelivered,
	model.StatusQueued,
	model.StatusFailure,
	model.StatusCooldown,
	model.StatusDropped,
	model.StatusDuplicate,
	model.StatusBusy,
}

// FormatMarkdown renders the report as Markdown with Mermaid diagrams.
func FormatMarkdown(data *ReportData) string {
	var sb strings.Builder

	sb.WriteString("# RescueMesh Relay Report\n\n")
	sb.WriteString(fmt.Sprintf("- **Node:** %s\n", data.NodeID))
	sb.WriteString(fmt.Sprintf("- **Period:** %s to %s\n",
		data.Since.Format("2006-01-02 15:04"), data.Until.Format("2006-01-02 15:04")))
	sb.WriteString(fmt.Sprintf("- **Generated:** %s\n\n", data.GeneratedAt.Format("2006-01-02 15:04:05")))

	sb.WriteString("## Summary\n\n")
	sb.WriteString("| Status | Events |\n|---|---|\n")
	for _, st := range statusOrder {
		sb.WriteString(fmt.Sprintf("| %s | %d |\n", st, data.StatusCounts[st]))
	}
	sb.WriteString(fmt.Sprintf("\nDelivered here: **%d** packets.\n\n", len(data.Delivered)))

	if len(data.Paths) > 0 {
		sb.WriteString("## Mesh Topology\n\n")
		sb.WriteString(GenerateMeshTopology(data.Paths, data.NodeID))
		sb.WriteString("\n## Packet Paths\n\n")
		for i, p := range data.Paths {
			if i == pathDiagramLimit {
				sb.WriteString(fmt.Sprintf("_%d more paths omitted._\n\n", len(data.Paths)-pathDiagramLimit))
				break
			}
			sb.WriteString(fmt.Sprintf("### %s (%s, %s)\n\n", shortID(p.PacketID), p.Status,
				p.Timestamp.Format("15:04:05")))
			sb.WriteString(GenerateHopDiagram(p))
			sb.WriteString("\n")
		}
	}

	if len(data.Reroutes) > 0 {
		sb.WriteString("## Reroutes\n\n")
		sb.WriteString("| Time | Packet | From | To |\n|---|---|---|---|\n")
		for _, r := range data.Reroutes {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s |\n",
				r.Timestamp.Format("15:04:05"), shortID(r.PacketID), r.From, r.To))
		}
		sb.WriteString("\n")
	}

	if len(data.Failures) > 0 {
		sb.WriteString("## Failures by Next Hop\n\n")
		sb.WriteString("| Next hop | Failures | Last error |\n|---|---|---|\n")
		for _, f := range data.Failures {
			sb.WriteString(fmt.Sprintf("| %s | %d | %s |\n", f.TargetID, f.Count, escapeCell(f.Last)))
		}
		sb.WriteString("\n")
	}

	if len(data.Delivered) > 0 {
		sb.WriteString("## Delivered Packets\n\n")
		sb.WriteString("| Delivered | Packet | Type | Priority | Origin | Hops | Payload |\n|---|---|---|---|---|---|---|\n")
		for _, d := range data.Delivered {
			p := d.Packet
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %d | %s |\n",
				d.DeliveredAt.Format("2006-01-02 15:04:05"), shortID(p.ID), p.Type, p.Priority,
				p.OriginatorID, p.HopCount(), escapeCell(p.Payload)))
		}
		sb.WriteString("\n")
	}

	if len(data.Routes) > 0 {
		sb.WriteString("## Route Cache\n\n")
		sb.WriteString("| Destination | Next hop | Score | Active | Success | Failure |\n|---|---|---|---|---|---|\n")
		for _, r := range data.Routes {
			sb.WriteString(fmt.Sprintf("| %s | %s | %.0f | %v | %d | %d |\n",
				r.DestinationID, r.NextHopID, r.Score, r.IsActive, r.SuccessCount, r.FailureCount))
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

// WriteMarkdownFile writes the report to dir and returns the file path.
func WriteMarkdownFile(data *ReportData, dir string) (string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create report dir: %w", err)
	}
	name := fmt.Sprintf("rescuemesh_report_%s.md", data.GeneratedAt.Format("20060102_150405"))
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(FormatMarkdown(data)), 0644); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}
	return path, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	return strings.ReplaceAll(s, "\n", " ")
}
