// Package daemon runs the relay node as a background service.
package daemon

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/user/rescuemesh/internal/storage"
	"github.com/user/rescuemesh/internal/util"
)

// Daemon manages the background service.
type Daemon struct {
	config    *util.Config
	scheduler *Scheduler
	db        *storage.DB
	node      *Node
	pidFile   string
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	stopped   chan struct{}
	running   bool
	startTime time.Time
	mu        sync.RWMutex
}

// New creates a new daemon instance. reg receives the relay metrics; nil
// means the default Prometheus registry.
func New(cfg *util.Config, reg prometheus.Registerer) (*Daemon, error) {
	db, err := storage.Initialize(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	node, err := NewNode(cfg, db, reg)
	if err != nil {
		return nil, fmt.Errorf("failed to assemble node: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	d := &Daemon{
		config:  cfg,
		db:      db,
		node:    node,
		pidFile: filepath.Join(cfg.DataDir, pidFileName),
		stopped: make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}

	d.scheduler = NewScheduler(ctx)

	return d, nil
}

// Start starts the daemon.
func (d *Daemon) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return fmt.Errorf("daemon already running")
	}
	d.running = true
	d.startTime = time.Now()
	d.mu.Unlock()

	if err := d.writePIDFile(); err != nil {
		return fmt.Errorf("failed to write PID file: %w", err)
	}

	util.Info("Daemon starting...")

	if err := d.node.Start(d.ctx); err != nil {
		d.removePIDFile()
		return fmt.Errorf("failed to start node: %w", err)
	}

	d.registerJobs()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.scheduler.Run()
	}()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.handleSignals()
	}()

	util.Info("Daemon started with PID %d", os.Getpid())

	return nil
}

// Wait blocks until Stop has finished.
func (d *Daemon) Wait() {
	<-d.stopped
}

// Stop stops the daemon gracefully.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.mu.Unlock()

	util.Info("Daemon stopping...")

	d.cancel()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		util.Info("Daemon stopped gracefully")
	case <-time.After(30 * time.Second):
		util.Warn("Daemon stop timed out")
	}

	d.node.Close()
	if err := WriteStatusFile(d.config.DataDir, d.statusFile()); err != nil {
		util.Warn("Failed to write final status: %v", err)
	}

	d.removePIDFile()
	if d.db != nil {
		d.db.Close()
	}
	close(d.stopped)

	return nil
}

func (d *Daemon) handleSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		util.Info("Received signal: %v", sig)
		// Stop waits on wg, which includes this goroutine
		go d.Stop()
	case <-d.ctx.Done():
		return
	}
}

func (d *Daemon) writePIDFile() error {
	pid := os.Getpid()
	return os.WriteFile(d.pidFile, []byte(strconv.Itoa(pid)), 0644)
}

func (d *Daemon) removePIDFile() {
	os.Remove(d.pidFile)
}

// IsRunning returns whether the daemon is running.
func (d *Daemon) IsRunning() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// GetStatus returns the daemon status.
func (d *Daemon) GetStatus() *DaemonStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return &DaemonStatus{
		Running:   d.running,
		PID:       os.Getpid(),
		StartTime: d.startTime,
		Uptime:    time.Since(d.startTime),
		Jobs:      d.scheduler.GetJobStatuses(),
	}
}

func (d *Daemon) statusFile() *StatusFile {
	st := d.GetStatus()
	orch := d.node.orch
	return &StatusFile{
		Running:     st.Running,
		PID:         st.PID,
		NodeID:      d.config.NodeID,
		StartTime:   st.StartTime.Format("2006-01-02 15:04:05"),
		Uptime:      st.Uptime.Truncate(time.Second).String(),
		HasInternet: orch.HasInternet(),
		LinkState:   d.node.LinkState(),
		Stats:       orch.Stats(),
		Neighbors:   d.node.Neighbors(),
		Pending:     orch.Pending(),
		Jobs:        st.Jobs,
	}
}

// DaemonStatus holds the current daemon status.
type DaemonStatus struct {
	Running   bool
	PID       int
	StartTime time.Time
	Uptime    time.Duration
	Jobs      []JobStatus
}

// GetDB returns the database instance.
func (d *Daemon) GetDB() *storage.DB {
	return d.db
}

// GetConfig returns the configuration.
func (d *Daemon) GetConfig() *util.Config {
	return d.config
}

// GetContext returns the daemon context.
func (d *Daemon) GetContext() context.Context {
	return d.ctx
}

// Node returns the assembled mesh node.
func (d *Daemon) Node() *Node {
	return d.node
}
