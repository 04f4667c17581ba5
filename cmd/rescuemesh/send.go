package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/user/rescuemesh/internal/daemon"
	"github.com/user/rescuemesh/internal/model"
	"github.com/user/rescuemesh/internal/storage"
)

var (
	sendType     string
	sendPriority string
	sendTTL      int
)

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Originate a packet from this node",
	Long: `Create a packet originating at this node and hand it to the daemon.

The packet is written to the outbox; the running daemon picks it up within
a couple of seconds and relays it toward a node with internet access.

Examples:
  rescuemesh send "trapped under rubble, 2 people"
  rescuemesh send --priority high --type data "water needed at school"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	sendCmd.Flags().StringVarP(&sendType, "type", "t", "sos",
		"Packet type (sos, data)")
	sendCmd.Flags().StringVarP(&sendPriority, "priority", "p", "critical",
		"Priority (low, medium, high, critical)")
	sendCmd.Flags().IntVar(&sendTTL, "ttl", 0,
		"Hop limit (default from config)")
}

func runSend(cmd *cobra.Command, args []string) error {
	typ, err := model.ParsePacketType(sendType)
	if err != nil {
		return err
	}
	if typ == model.PacketAck {
		return fmt.Errorf("ACK packets are generated by the mesh, not sent by hand")
	}
	priority, err := model.ParsePriority(sendPriority)
	if err != nil {
		return err
	}
	ttl := sendTTL
	if ttl <= 0 {
		ttl = cfg.DefaultTTL
	}

	db, err := storage.Initialize(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	p := model.NewPacket(cfg.NodeID, typ, priority, strings.Join(args, " "), ttl)
	if _, err := storage.NewOutboxStorage(db).Add(p); err != nil {
		return fmt.Errorf("failed to queue packet: %w", err)
	}

	fmt.Printf("Packet %s queued (%s, %s, ttl %d)\n", p.ID, p.Type, p.Priority, p.TTL)
	if running, _ := daemon.CheckRunning(cfg.DataDir); !running {
		fmt.Println("Daemon is not running; the packet will be sent once it starts.")
	}
	return nil
}
