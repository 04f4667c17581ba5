// Package web provides a lightweight web dashboard and JSON API.
package web

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/user/rescuemesh/internal/model"
	"github.com/user/rescuemesh/internal/storage"
	"github.com/user/rescuemesh/internal/util"
)

// LiveSource is the in-process view of a running node. Without one the
// server reads the daemon's status file.
type LiveSource interface {
	Stats() model.RelayStats
	Neighbors() []model.NodeInfo
	Routes() []model.RoutingEntry
	HasInternet() bool
	LinkState() string
}

// Server is the web server.
type Server struct {
	db      *storage.DB
	config  *util.Config
	port    int
	live    LiveSource
	metrics http.Handler
	srv     *http.Server
}

// NewServer creates a new web server.
func NewServer(db *storage.DB, cfg *util.Config, port int) *Server {
	return &Server{
		db:     db,
		config: cfg,
		port:   port,
	}
}

// WithLive serves node state straight from a running node and mounts its
// metrics handler on /metrics.
func (s *Server) WithLive(live LiveSource, metrics http.Handler) *Server {
	s.live = live
	s.metrics = metrics
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	h := NewHandlers(s.db, s.config, s.live)

	mux.HandleFunc("/", h.Dashboard)
	mux.HandleFunc("/api/status", h.APIGetStatus)
	mux.HandleFunc("/api/events", h.APIGetEvents)
	mux.HandleFunc("/api/neighbors", h.APIGetNeighbors)
	mux.HandleFunc("/api/routes", h.APIGetRoutes)
	mux.HandleFunc("/api/delivered", h.APIGetDelivered)
	mux.HandleFunc("/report", h.DownloadReport)
	if s.metrics != nil {
		mux.Handle("/metrics", s.metrics)
	}

	return mux
}

// Start serves until ctx is done or the server fails.
func (s *Server) Start(ctx context.Context) error {
	s.srv = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	util.Info("Web server starting on port %d", s.port)

	if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Stop stops the web server.
func (s *Server) Stop() error {
	if s.srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.srv.Shutdown(ctx)
}
