package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/rescuemesh/internal/daemon"
	"github.com/user/rescuemesh/internal/model"
)

var stopWait time.Duration

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the rescuemesh daemon",
	Long: `Stop the running relay node. Packets still queued when it exits stay in
the outbox and are relayed again on the next start.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().DurationVar(&stopWait, "wait", 30*time.Second,
		"How long to wait for the node to exit")
}

func runStop(cmd *cobra.Command, args []string) error {
	running, pid := daemon.CheckRunning(cfg.DataDir)
	if !running {
		fmt.Println("Daemon is not running")
		return nil
	}

	// Snapshot before signalling; the node rewrites it on its way out.
	before, _ := daemon.ReadStatusFile(cfg.DataDir)

	fmt.Printf("Stopping node %s (PID %d)...\n", nodeLabel(before), pid)
	if err := daemon.SendStop(cfg.DataDir); err != nil {
		return fmt.Errorf("failed to stop daemon: %w", err)
	}

	deadline := time.Now().Add(stopWait)
	for time.Now().Before(deadline) {
		time.Sleep(250 * time.Millisecond)
		if running, _ := daemon.CheckRunning(cfg.DataDir); running {
			continue
		}
		final, err := daemon.ReadStatusFile(cfg.DataDir)
		if err != nil {
			final = before
		}
		fmt.Print(stopSummary(final))
		return nil
	}

	return fmt.Errorf("node still running after %s (PID %d)", stopWait, pid)
}

func nodeLabel(sf *daemon.StatusFile) string {
	if sf == nil || sf.NodeID == "" {
		return cfg.NodeID
	}
	return sf.NodeID
}

// stopSummary describes what the node relayed and what it left queued.
func stopSummary(sf *daemon.StatusFile) string {
	var b strings.Builder
	b.WriteString("Daemon stopped\n")
	if sf == nil {
		return b.String()
	}

	if sf.Uptime != "" {
		fmt.Fprintf(&b, "  Uptime:    %s\n", sf.Uptime)
	}
	fmt.Fprintf(&b, "  Relayed:   %d sent, %d delivered, %d failed\n",
		sf.Stats.PacketsSent, sf.Stats.PacketsDelivered, sf.Stats.PacketsFailed)

	pending := len(sf.Pending)
	if pending == 0 {
		pending = sf.Stats.PendingCount
	}
	if pending == 0 {
		b.WriteString("  Queue:     empty\n")
		return b.String()
	}

	sos := 0
	for _, p := range sf.Pending {
		if p.Type == model.PacketSOS {
			sos++
		}
	}
	fmt.Fprintf(&b, "  Queue:     %d packet(s) pending", pending)
	if sos > 0 {
		fmt.Fprintf(&b, ", %d SOS", sos)
	}
	b.WriteString("; they will be relayed on next start\n")
	return b.String()
}
