// Package report generates relay activity reports.
package report

import (
	"fmt"
	"sort"
	"time"

	"github.com/user/rescuemesh/internal/model"
	"github.com/user/rescuemesh/internal/storage"
	"github.com/user/rescuemesh/internal/util"
)

// Generator creates relay activity reports.
type Generator struct {
	db     *storage.DB
	config *util.Config
}

// NewGenerator creates a new report generator.
func NewGenerator(db *storage.DB, cfg *util.Config) *Generator {
	return &Generator{
		db:     db,
		config: cfg,
	}
}

// ReportData holds all data for a report.
type ReportData struct {
	GeneratedAt time.Time
	Since       time.Time
	Until       time.Time
	NodeID      string

	// Relay section
	Events       []model.RelayEvent
	StatusCounts map[model.RelayStatus]int
	Paths        []PacketPath
	Reroutes     []Reroute
	Failures     []FailureSummary

	// Delivery section
	Delivered []storage.DeliveredPacket

	// Route cache at generation time
	Routes []model.RoutingEntry
}

// PacketPath is the hop sequence a packet took through this node.
type PacketPath struct {
	PacketID  string
	Hops      []string
	Status    model.RelayStatus
	Timestamp time.Time
}

// Reroute records a packet whose next hop changed between attempts.
type Reroute struct {
	PacketID  string
	From      string
	To        string
	Timestamp time.Time
}

// FailureSummary groups failures by next hop.
type FailureSummary struct {
	TargetID string
	Count    int
	Last     string
}

// Generate creates a report for the specified time range.
func (g *Generator) Generate(opts model.ReportOptions) (*ReportData, error) {
	data := &ReportData{
		GeneratedAt: time.Now(),
		Since:       opts.Since,
		Until:       opts.Until,
		NodeID:      g.config.NodeID,
	}

	events, err := storage.NewEventStorage(g.db).GetSince(opts.Since, opts.Until)
	if err != nil {
		return nil, fmt.Errorf("failed to get relay events: %w", err)
	}
	data.Events = events
	data.StatusCounts = countStatuses(events)
	data.Paths = buildPaths(events, g.config.NodeID)
	data.Reroutes = detectReroutes(events)
	data.Failures = summarizeFailures(events)

	delivered, err := storage.NewDeliveredStorage(g.db).List(opts.Since)
	if err != nil {
		return nil, fmt.Errorf("failed to get delivered packets: %w", err)
	}
	data.Delivered = delivered

	routes, err := storage.NewRouteStorage(g.db).Load()
	if err != nil {
		return nil, fmt.Errorf("failed to get routes: %w", err)
	}
	data.Routes = routes

	return data, nil
}

func countStatuses(events []model.RelayEvent) map[model.RelayStatus]int {
	counts := make(map[model.RelayStatus]int)
	for _, e := range events {
		counts[e.Status]++
	}
	return counts
}

// buildPaths reconstructs full hop sequences from success and delivery
// events. Events carry the trace as received, so the local node and the
// chosen target are appended for relays.
func buildPaths(events []model.RelayEvent, self string) []PacketPath {
	var paths []PacketPath
	for _, e := range events {
		var hops []string
		switch e.Status {
		case model.StatusSuccess:
			hops = append(hops, e.Trace...)
			hops = appendHop(hops, self)
			hops = appendHop(hops, e.TargetID)
		case model.StatusDelivered:
			hops = append(hops, e.Trace...)
			hops = appendHop(hops, self)
		default:
			continue
		}
		paths = append(paths, PacketPath{
			PacketID:  e.PacketID,
			Hops:      hops,
			Status:    e.Status,
			Timestamp: e.Timestamp,
		})
	}
	return paths
}

func appendHop(hops []string, id string) []string {
	if id == "" || (len(hops) > 0 && hops[len(hops)-1] == id) {
		return hops
	}
	return append(hops, id)
}

// detectReroutes walks each packet's attempts in order and reports every
// change of target.
func detectReroutes(events []model.RelayEvent) []Reroute {
	last := make(map[string]string)
	var reroutes []Reroute
	for _, e := range events {
		if e.TargetID == "" {
			continue
		}
		if e.Status != model.StatusSuccess && e.Status != model.StatusFailure {
			continue
		}
		if prev, ok := last[e.PacketID]; ok && prev != e.TargetID {
			reroutes = append(reroutes, Reroute{
				PacketID:  e.PacketID,
				From:      prev,
				To:        e.TargetID,
				Timestamp: e.Timestamp,
			})
		}
		last[e.PacketID] = e.TargetID
	}
	return reroutes
}

func summarizeFailures(events []model.RelayEvent) []FailureSummary {
	byTarget := make(map[string]*FailureSummary)
	for _, e := range events {
		if e.Status != model.StatusFailure {
			continue
		}
		target := e.TargetID
		if target == "" {
			target = "(none)"
		}
		s, ok := byTarget[target]
		if !ok {
			s = &FailureSummary{TargetID: target}
			byTarget[target] = s
		}
		s.Count++
		s.Last = e.Message
	}

	out := make([]FailureSummary, 0, len(byTarget))
	for _, s := range byTarget {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].TargetID < out[j].TargetID
	})
	return out
}
