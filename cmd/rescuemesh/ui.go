package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/user/rescuemesh/internal/storage"
	"github.com/user/rescuemesh/internal/tui"
)

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Launch the terminal dashboard",
	Long: `Launch an interactive terminal dashboard showing live relay status.

The dashboard shows:
- Daemon, internet and link state
- Relay counters and queue depth
- Neighbors in range
- Recent relay activity

Press 'r' to refresh, 'q' to quit.`,
	RunE: runUI,
}

func runUI(cmd *cobra.Command, args []string) error {
	// Initialize database
	db, err := storage.Initialize(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	app := tui.NewApp(db, cfg)
	return app.Run()
}
