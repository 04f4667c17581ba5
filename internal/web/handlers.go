package web

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/user/rescuemesh/internal/daemon"
	"github.com/user/rescuemesh/internal/model"
	"github.com/user/rescuemesh/internal/report"
	"github.com/user/rescuemesh/internal/storage"
	"github.com/user/rescuemesh/internal/util"
)

// Handlers contains HTTP handlers.
type Handlers struct {
	db     *storage.DB
	config *util.Config
	live   LiveSource
}

// NewHandlers creates new handlers. live may be nil.
func NewHandlers(db *storage.DB, cfg *util.Config, live LiveSource) *Handlers {
	return &Handlers{
		db:     db,
		config: cfg,
		live:   live,
	}
}

// nodeSnapshot is the node state served by /api/status.
type nodeSnapshot struct {
	NodeID        string                    `json:"node_id"`
	Running       bool                      `json:"running"`
	PID           int                       `json:"pid,omitempty"`
	HasInternet   bool                      `json:"has_internet"`
	LinkState     string                    `json:"link_state"`
	Stats         model.RelayStats          `json:"stats"`
	Neighbors     []model.NodeInfo          `json:"neighbors"`
	EventCounts   map[model.RelayStatus]int `json:"event_counts_24h,omitempty"`
	OutboxPending int                       `json:"outbox_pending"`
}

func (h *Handlers) snapshot() nodeSnapshot {
	snap := nodeSnapshot{NodeID: h.config.NodeID, LinkState: "unknown"}

	running, pid := daemon.CheckRunning(h.config.DataDir)
	snap.Running, snap.PID = running, pid

	if h.live != nil {
		snap.Running = true
		snap.HasInternet = h.live.HasInternet()
		snap.LinkState = h.live.LinkState()
		snap.Stats = h.live.Stats()
		snap.Neighbors = h.live.Neighbors()
	} else if sf, err := daemon.ReadStatusFile(h.config.DataDir); err == nil {
		snap.HasInternet = sf.HasInternet
		snap.LinkState = sf.LinkState
		snap.Stats = sf.Stats
		snap.Neighbors = sf.Neighbors
	}

	if counts, err := storage.NewEventStorage(h.db).CountByStatus(time.Now().Add(-24 * time.Hour)); err == nil {
		snap.EventCounts = counts
	}
	if n, err := storage.NewOutboxStorage(h.db).PendingCount(); err == nil {
		snap.OutboxPending = n
	}
	if snap.Neighbors == nil {
		snap.Neighbors = []model.NodeInfo{}
	}
	return snap
}

func (h *Handlers) routes() ([]model.RoutingEntry, error) {
	if h.live != nil {
		return h.live.Routes(), nil
	}
	return storage.NewRouteStorage(h.db).Load()
}

// Dashboard serves the main dashboard page.
func (h *Handlers) Dashboard(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	snap := h.snapshot()
	data := map[string]interface{}{
		"node_id":        snap.NodeID,
		"daemon_running": snap.Running,
		"has_internet":   snap.HasInternet,
		"link_state":     snap.LinkState,
		"stats":          snap.Stats,
		"neighbors":      snap.Neighbors,
	}
	if events, err := storage.NewEventStorage(h.db).Recent(25); err == nil {
		data["events"] = events
	}
	if routes, err := h.routes(); err == nil {
		data["routes"] = routes
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := getDashboardTemplate().Execute(w, data); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// APIGetStatus returns node and daemon status.
func (h *Handlers) APIGetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.snapshot())
}

// APIGetEvents returns relay events. ?packet=<id> returns one packet's
// history, otherwise ?since=<duration> (default 24h) and ?limit.
func (h *Handlers) APIGetEvents(w http.ResponseWriter, r *http.Request) {
	events := storage.NewEventStorage(h.db)

	if id := r.URL.Query().Get("packet"); id != "" {
		list, err := events.ForPacket(id)
		if err != nil {
			writeError(w, err, http.StatusInternalServerError)
			return
		}
		writeJSON(w, nonNil(list))
		return
	}

	since := sinceParam(r, 24*time.Hour)
	limit := 100
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 && n <= 1000 {
			limit = n
		}
	}

	list, err := events.GetSince(since, time.Time{})
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	// newest last; keep the tail
	if len(list) > limit {
		list = list[len(list)-limit:]
	}
	writeJSON(w, nonNil(list))
}

// APIGetNeighbors returns the current neighbor view.
func (h *Handlers) APIGetNeighbors(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.snapshot().Neighbors)
}

// APIGetRoutes returns the route cache.
func (h *Handlers) APIGetRoutes(w http.ResponseWriter, r *http.Request) {
	routes, err := h.routes()
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, nonNil(routes))
}

// APIGetDelivered returns packets delivered at this node.
func (h *Handlers) APIGetDelivered(w http.ResponseWriter, r *http.Request) {
	list, err := storage.NewDeliveredStorage(h.db).List(sinceParam(r, 24*time.Hour))
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}
	writeJSON(w, nonNil(list))
}

// DownloadReport generates and downloads a report.
func (h *Handlers) DownloadReport(w http.ResponseWriter, r *http.Request) {
	gen := report.NewGenerator(h.db, h.config)
	opts := model.ReportOptions{
		Since:  sinceParam(r, 24*time.Hour),
		Until:  time.Now(),
		Format: "markdown",
	}

	data, err := gen.Generate(opts)
	if err != nil {
		writeError(w, err, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", "attachment; filename=rescuemesh_report.md")
	w.Write([]byte(report.FormatMarkdown(data)))
}

func sinceParam(r *http.Request, def time.Duration) time.Time {
	d := def
	if s := r.URL.Query().Get("since"); s != "" {
		if parsed, err := time.ParseDuration(s); err == nil && parsed > 0 {
			d = parsed
		}
	}
	return time.Now().Add(-d)
}

// nonNil keeps empty results encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
