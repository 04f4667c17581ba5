package main

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/user/rescuemesh/internal/daemon"
	"github.com/user/rescuemesh/internal/model"
	"github.com/user/rescuemesh/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long:  "Show the current status of the rescuemesh daemon, its neighbors and recent relay activity.",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	// Styles
	titleStyle := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("99")).
		MarginBottom(1)

	labelStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))

	valueStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("86"))

	runningStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("46")).
		Bold(true)

	stoppedStyle := lipgloss.NewStyle().
		Foreground(lipgloss.Color("196")).
		Bold(true)

	// Check daemon status
	running, pid := daemon.CheckRunning(cfg.DataDir)

	fmt.Println(titleStyle.Render("RescueMesh Status"))
	fmt.Println()

	fmt.Print(labelStyle.Render("Node: "))
	fmt.Println(valueStyle.Render(cfg.NodeID))

	// Daemon status
	fmt.Print(labelStyle.Render("Daemon: "))
	if running {
		fmt.Println(runningStyle.Render(fmt.Sprintf("Running (PID %d)", pid)))
	} else {
		fmt.Println(stoppedStyle.Render("Stopped"))
	}

	// Try to read status file for more details
	if sf, err := daemon.ReadStatusFile(cfg.DataDir); err == nil {
		fmt.Print(labelStyle.Render("Started: "))
		fmt.Println(valueStyle.Render(sf.StartTime))

		fmt.Print(labelStyle.Render("Uptime: "))
		fmt.Println(valueStyle.Render(sf.Uptime))

		fmt.Print(labelStyle.Render("Internet: "))
		if sf.HasInternet {
			fmt.Println(runningStyle.Render("available (goal node)"))
		} else {
			fmt.Println(valueStyle.Render("none"))
		}

		fmt.Print(labelStyle.Render("Link: "))
		fmt.Println(valueStyle.Render(sf.LinkState))

		fmt.Println()
		fmt.Println(titleStyle.Render("Relay"))
		fmt.Printf("  %s %s\n", labelStyle.Render("Sent:"), valueStyle.Render(fmt.Sprintf("%d", sf.Stats.PacketsSent)))
		fmt.Printf("  %s %s\n", labelStyle.Render("Failed:"), valueStyle.Render(fmt.Sprintf("%d", sf.Stats.PacketsFailed)))
		fmt.Printf("  %s %s\n", labelStyle.Render("Delivered:"), valueStyle.Render(fmt.Sprintf("%d", sf.Stats.PacketsDelivered)))
		fmt.Printf("  %s %s\n", labelStyle.Render("Queued:"), valueStyle.Render(fmt.Sprintf("%d", sf.Stats.PendingCount)))

		if len(sf.Neighbors) > 0 {
			fmt.Println()
			fmt.Println(titleStyle.Render(fmt.Sprintf("Neighbors (%d)", len(sf.Neighbors))))
			for _, n := range sf.Neighbors {
				net := ""
				if n.HasInternet {
					net = " internet"
				}
				fmt.Printf("  %s %s\n",
					labelStyle.Render(n.ID),
					valueStyle.Render(fmt.Sprintf("%s bat %d%%%s", n.Address, n.Battery, net)))
			}
		}

		if len(sf.Pending) > 0 {
			fmt.Println()
			fmt.Println(titleStyle.Render("Queued Packets"))
			for _, p := range sf.Pending {
				fmt.Printf("  %s %s\n",
					labelStyle.Render(p.ID),
					valueStyle.Render(fmt.Sprintf("%s %s ttl %d", p.Type, p.Priority, p.TTL)))
			}
		}

		if len(sf.Jobs) > 0 {
			fmt.Println()
			fmt.Println(titleStyle.Render("Jobs"))

			for _, job := range sf.Jobs {
				statusStr := "idle"
				if job.Running {
					statusStr = "running"
				}
				fmt.Printf("  %s: %s (last: %s, errors: %d)\n",
					labelStyle.Render(job.Name),
					valueStyle.Render(statusStr),
					job.LastRun.Format("15:04:05"),
					job.ErrorCount)
			}
		}
	}

	// Get database stats
	db, err := storage.Initialize(cfg.DataDir)
	if err == nil {
		fmt.Println()
		fmt.Println(titleStyle.Render("Last 24h"))

		counts, err := storage.NewEventStorage(db).CountByStatus(time.Now().Add(-24 * time.Hour))
		if err == nil {
			for _, st := range []model.RelayStatus{
				model.StatusSuccess, model.StatusFailure, model.StatusDelivered,
				model.StatusQueued, model.StatusDropped,
			} {
				fmt.Printf("  %s %s\n",
					labelStyle.Render(string(st)+":"),
					valueStyle.Render(fmt.Sprintf("%d", counts[st])))
			}
		}

		if count, err := storage.NewOutboxStorage(db).PendingCount(); err == nil && count > 0 {
			fmt.Printf("  %s %s\n",
				labelStyle.Render("outbox:"),
				valueStyle.Render(fmt.Sprintf("%d waiting for pickup", count)))
		}
	}

	return nil
}
