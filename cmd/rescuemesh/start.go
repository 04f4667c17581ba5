package main

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/rescuemesh/internal/daemon"
	"github.com/user/rescuemesh/internal/util"
	"github.com/user/rescuemesh/internal/web"
)

var (
	foreground   bool
	withWeb      bool
	startWebPort int
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the rescuemesh daemon",
	Long:  "Start the relay node in the background: advertise, discover neighbors and relay queued packets.",
	RunE:  runStart,
}

func init() {
	startCmd.Flags().BoolVarP(&foreground, "foreground", "f", false,
		"Run in foreground instead of daemonizing")
	startCmd.Flags().BoolVar(&withWeb, "with-web", false,
		"Also start the web dashboard server")
	startCmd.Flags().IntVar(&startWebPort, "web-port", 8080,
		"Port for web server (when using --with-web)")
}

func runStart(cmd *cobra.Command, args []string) error {
	// Check if already running
	running, pid := daemon.CheckRunning(cfg.DataDir)
	if running {
		fmt.Printf("Daemon is already running (PID %d)\n", pid)
		return nil
	}

	if foreground {
		return runForeground()
	}

	return runDaemon()
}

func runForeground() error {
	fmt.Printf("Starting rescuemesh node %s in foreground mode...\n", cfg.NodeID)

	d, err := daemon.New(cfg, nil)
	if err != nil {
		return fmt.Errorf("failed to create daemon: %w", err)
	}

	if err := d.Start(); err != nil {
		return fmt.Errorf("failed to start daemon: %w", err)
	}

	// The in-process server reads live node state and exposes /metrics.
	if withWeb {
		node := d.Node()
		srv := web.NewServer(d.GetDB(), cfg, startWebPort).WithLive(node, node.Metrics().Handler())
		go func() {
			fmt.Printf("Web dashboard: http://localhost:%d\n", startWebPort)
			if err := srv.Start(d.GetContext()); err != nil {
				util.Error("Web server error: %v", err)
			}
		}()
	}

	fmt.Println("RescueMesh daemon started. Press Ctrl+C to stop.")

	// Wait for daemon to finish
	d.Wait()

	return nil
}

// daemonArgs rebuilds the command line for the detached foreground child.
func daemonArgs() []string {
	args := []string{"start", "--foreground"}
	if cfgFile != "" {
		args = append(args, "--config", cfgFile)
	}
	if withWeb {
		args = append(args, "--with-web", "--web-port", strconv.Itoa(startWebPort))
	}
	return args
}

func runDaemon() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to get executable path: %w", err)
	}

	logFile, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()

	child := exec.Command(executable, daemonArgs()...)
	child.Dir = "/"
	child.Stdout = logFile
	child.Stderr = logFile
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("failed to start daemon process: %w", err)
	}
	pid := child.Process.Pid
	if err := child.Process.Release(); err != nil {
		util.Warn("Failed to release process: %v", err)
	}

	// The child writes its PID file once the node has opened the database.
	for i := 0; i < 20; i++ {
		if running, _ := daemon.CheckRunning(cfg.DataDir); running {
			fmt.Printf("Node %s relaying in background (PID %d)\n", cfg.NodeID, pid)
			fmt.Printf("Logs: %s\n", cfg.LogFile)
			if withWeb {
				fmt.Printf("Web dashboard: http://localhost:%d\n", startWebPort)
			}
			return nil
		}
		time.Sleep(250 * time.Millisecond)
	}

	return fmt.Errorf("node did not come up (PID %d), see %s", pid, cfg.LogFile)
}
