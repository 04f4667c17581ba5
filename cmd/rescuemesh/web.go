package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/user/rescuemesh/internal/storage"
	"github.com/user/rescuemesh/internal/web"
)

var webPort int

var webCmd = &cobra.Command{
	Use:   "web",
	Short: "Start the web dashboard",
	Long: `Start a lightweight web dashboard for viewing relay activity.

The web server provides:
- Node status, neighbors and route cache
- Relay event history and delivered packets
- A JSON API under /api
- Downloadable reports

Node state is read from the daemon's status file. Use 'start --with-web'
to serve live state and /metrics from inside the daemon.

Examples:
  rescuemesh web
  rescuemesh web --port 8080`,
	RunE: runWeb,
}

func init() {
	webCmd.Flags().IntVarP(&webPort, "port", "p", 8080, "Web server port")
}

func runWeb(cmd *cobra.Command, args []string) error {
	// Initialize database
	db, err := storage.Initialize(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Starting web server on http://localhost:%d\n", webPort)
	fmt.Println("Press Ctrl+C to stop")

	srv := web.NewServer(db, cfg, webPort)
	return srv.Start(ctx)
}
