package daemon

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/user/rescuemesh/internal/connection"
	"github.com/user/rescuemesh/internal/discovery"
	"github.com/user/rescuemesh/internal/framing"
	"github.com/user/rescuemesh/internal/metrics"
	"github.com/user/rescuemesh/internal/model"
	"github.com/user/rescuemesh/internal/probes"
	"github.com/user/rescuemesh/internal/relay"
	"github.com/user/rescuemesh/internal/routing"
	"github.com/user/rescuemesh/internal/storage"
	"github.com/user/rescuemesh/internal/transport"
	"github.com/user/rescuemesh/internal/util"
)

const batteryPath = "/sys/class/power_supply/BAT0/capacity"

// Node is the assembled mesh stack of one device.
type Node struct {
	cfg *util.Config

	table      *discovery.NeighborTable
	advertiser *discovery.Advertiser
	browser    *discovery.Browser
	manager    *connection.Manager
	server     *framing.Server
	orch       *relay.Orchestrator
	metrics    *metrics.Collector
	probe      *probes.ConnectivityProbe

	events    *storage.EventStorage
	outbox    *storage.OutboxStorage
	delivered *storage.DeliveredStorage
	routes    *storage.RouteStorage

	log *util.Logger
}

// NewNode wires every component from cfg. Nothing touches the network
// until Start.
func NewNode(cfg *util.Config, db *storage.DB, reg prometheus.Registerer) (*Node, error) {
	collector, err := metrics.NewCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	n := &Node{
		cfg:       cfg,
		metrics:   collector,
		probe:     probes.NewConnectivityProbe(probes.DefaultEndpoints()),
		events:    storage.NewEventStorage(db),
		outbox:    storage.NewOutboxStorage(db),
		delivered: storage.NewDeliveredStorage(db),
		routes:    storage.NewRouteStorage(db),
		log:       util.Named("node"),
	}

	n.table = discovery.NewNeighborTable(nil, cfg.NeighborStaleAfter, cfg.NodeID)
	n.browser = discovery.NewBrowser(cfg.MDNSService, 3*time.Second, n.table)
	n.advertiser = discovery.NewAdvertiser(cfg.MDNSService, cfg.ListenPort, nil, n.SelfInfo)

	resolver := connection.NewResolver(
		probes.NewARPTable(""),
		probes.NewSubnetScanner(cfg.ScanBatchSize, cfg.ScanTimeout, []int{cfg.ListenPort}),
		cfg.GroupSubnet, cfg.GroupOwnerIP,
	)
	n.manager = connection.NewManager(transport.NewLAN(cfg.ListenPort, n.rediscover), resolver, connection.DefaultTimings())
	if err := n.manager.SetLinkRetries(cfg.LinkRetries); err != nil {
		return nil, err
	}
	n.manager.SetStateHook(func(from, to connection.State, device string) {
		collector.ObserveTransition(to.String())
	})

	cache := routing.NewRouteCache()
	if saved, err := n.routes.Load(); err != nil {
		n.log.Warn("Failed to load saved routes: %v", err)
	} else {
		cache.Load(saved)
	}

	policy := relay.DefaultPolicy()
	policy.Port = cfg.ListenPort
	policy.MaxQueueAttempts = cfg.MaxQueueAttempts

	n.orch, err = relay.New(relay.Options{
		NodeID:    cfg.NodeID,
		Routes:    cache,
		Connector: n.manager,
		Sender:    framing.NewClient(),
		Neighbors: n.table,
		Events:    n.eventSink(),
		Pauser:    n.advertiser,
		Deliverer: n.delivered,
		Observer:  collector,
		Policy:    policy,
	})
	if err != nil {
		return nil, err
	}

	n.server = framing.NewServer(cfg.ListenPort, n.orch.HandleIncoming)
	n.server.OnFrame(collector.ObserveFrame)

	switch cfg.InternetMode {
	case "on":
		n.orch.SetInternet(true)
	case "off":
		n.orch.SetInternet(false)
	}

	return n, nil
}

// Start binds the frame listener and starts advertising. ctx bounds the
// listener's lifetime.
func (n *Node) Start(ctx context.Context) error {
	n.recoverOutbox()

	if err := n.server.Listen(); err != nil {
		return err
	}
	go func() {
		if err := n.server.Serve(ctx); err != nil {
			n.log.Error("Frame server stopped: %v", err)
		}
	}()

	// multicast may be unavailable on an isolated interface; neighbors
	// can still reach us by address
	if err := n.advertiser.Start(); err != nil {
		n.log.Warn("mDNS advertisement unavailable: %v", err)
	}

	n.orch.SetRunning(true)
	n.log.Info("Node %s listening on port %d", n.cfg.NodeID, n.cfg.ListenPort)
	return nil
}

// Close stops advertising, drops any link and persists routes.
func (n *Node) Close() {
	n.orch.SetRunning(false)

	if err := n.advertiser.Stop(); err != nil {
		n.log.Debug("Advertiser stop: %v", err)
	}
	n.server.Close()

	if n.orch.LinkActive() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		n.manager.Disconnect(ctx)
		cancel()
	}

	if err := n.routes.Replace(n.orch.Routes().Snapshot()); err != nil {
		n.log.Warn("Failed to persist routes: %v", err)
	}
}

// SelfInfo is the metadata this node advertises.
func (n *Node) SelfInfo() model.NodeInfo {
	info := model.NodeInfo{
		ID:             n.cfg.NodeID,
		DisplayName:    n.cfg.DisplayName,
		Battery:        n.battery(),
		Latitude:       n.cfg.Latitude,
		Longitude:      n.cfg.Longitude,
		TriageLevel:    n.cfg.TriageLevel,
		Role:           n.cfg.Role,
		RelayAvailable: true,
	}
	if n.orch != nil {
		info.HasInternet = n.orch.HasInternet()
	}
	if n.manager != nil {
		info.RelayAvailable = !n.manager.Busy()
	}
	return info
}

// Orchestrator returns the relay orchestrator.
func (n *Node) Orchestrator() *relay.Orchestrator {
	return n.orch
}

// Neighbors returns the current fresh neighbors.
func (n *Node) Neighbors() []model.NodeInfo {
	return n.table.Neighbors()
}

// Metrics returns the metrics collector.
func (n *Node) Metrics() *metrics.Collector {
	return n.metrics
}

// LinkState names the connection manager state.
func (n *Node) LinkState() string {
	if n.manager == nil {
		return "none"
	}
	return n.manager.State().String()
}

// Stats returns the relay counters.
func (n *Node) Stats() model.RelayStats {
	return n.orch.Stats()
}

// Routes returns the route cache ordered by destination.
func (n *Node) Routes() []model.RoutingEntry {
	return n.orch.Routes().Snapshot()
}

// HasInternet reports whether this node is currently a goal node.
func (n *Node) HasInternet() bool {
	return n.orch.HasInternet()
}

// recoverOutbox hands packets picked up by a previous run, but never sent
// on, back to outbox pickup.
func (n *Node) recoverOutbox() {
	count, err := n.outbox.Requeue()
	if err != nil {
		n.log.Warn("Failed to recover outbox: %v", err)
		return
	}
	if count > 0 {
		n.log.Info("Recovered %d unsent packets from the outbox", count)
	}
}

func (n *Node) eventSink() relay.EventSink {
	return settlingSink{events: n.events, outbox: n.outbox, log: n.log}
}

// settlingSink records relay events and settles outbox rows once their
// packet reaches a terminal outcome.
type settlingSink struct {
	events *storage.EventStorage
	outbox *storage.OutboxStorage
	log    *util.Logger
}

func (s settlingSink) RecordEvent(e model.RelayEvent) error {
	err := s.events.RecordEvent(e)
	switch e.Status {
	case model.StatusSuccess, model.StatusDelivered, model.StatusDropped:
		if serr := s.outbox.Settle(e.PacketID); serr != nil {
			s.log.Warn("%v", serr)
		}
	}
	return err
}

func (n *Node) rediscover() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := n.browser.Query(ctx); err != nil {
		n.log.Debug("Rediscovery: %v", err)
	}
}

// battery prefers the OS reading and falls back to the configured value.
func (n *Node) battery() int {
	data, err := os.ReadFile(batteryPath)
	if err != nil {
		return n.cfg.Battery
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || v < 0 || v > 100 {
		return n.cfg.Battery
	}
	return v
}
