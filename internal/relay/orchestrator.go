// Package relay drives hop-by-hop forwarding: route, connect, send, react.
package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/user/rescuemesh/internal/connection"
	"github.com/user/rescuemesh/internal/framing"
	"github.com/user/rescuemesh/internal/model"
	"github.com/user/rescuemesh/internal/routing"
	"github.com/user/rescuemesh/internal/util"
)

// Outcome codes.
const (
	CodeOK              = "ok"
	CodeTTLExpired      = "ttl_expired"
	CodeNoCandidate     = "no_candidate"
	CodeCooldown        = "cooldown_active"
	CodeBusy            = "busy"
	CodeConnectFailed   = "connect_failed"
	CodeSendFailed      = "send_failed"
	CodeNAK             = "nak"
	CodeDuplicate       = "duplicate"
	CodeQueueExhausted  = "queue_exhausted"
	CodeDeliverFailed   = "deliver_failed"
	CodeInternalFailure = "internal_error"
)

// Outcome is the structured result of every public relay operation.
type Outcome struct {
	Status     model.RelayStatus `json:"status"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	PacketID   string            `json:"packet_id"`
	TargetID   string            `json:"target_id,omitempty"`
	Address    string            `json:"address,omitempty"`
	HopCount   int               `json:"hop_count"`
	RetryAfter time.Duration     `json:"retry_after,omitempty"`
	Reused     bool              `json:"reused,omitempty"`
}

// Policy holds the static tuning parameters.
type Policy struct {
	Port             int
	Cooldown         time.Duration
	KeepAlive        time.Duration
	MaxQueueAttempts int
	DedupSize        int
}

// DefaultPolicy returns the tuned defaults.
func DefaultPolicy() Policy {
	return Policy{
		Port:             framing.DefaultPort,
		Cooldown:         1500 * time.Millisecond,
		KeepAlive:        45 * time.Second,
		MaxQueueAttempts: 10,
		DedupSize:        4096,
	}
}

// Connector establishes and tears down the link to a peer.
type Connector interface {
	Connect(ctx context.Context, deviceAddr string) (string, error)
	Disconnect(ctx context.Context)
}

// Sender delivers one frame.
type Sender interface {
	Send(ctx context.Context, host string, port int, payload []byte) error
}

// NeighborSource supplies the current neighbor view.
type NeighborSource interface {
	Neighbors() []model.NodeInfo
}

// EventSink receives relay events.
type EventSink interface {
	RecordEvent(e model.RelayEvent) error
}

// Pauser is implemented by the discovery layer; it must not touch link
// negotiation while a relay attempt holds the link.
type Pauser interface {
	Pause()
	Resume()
}

// Deliverer accepts packets that reached a goal node.
type Deliverer interface {
	Deliver(p model.MeshPacket) error
}

// Observer receives relay measurements.
type Observer interface {
	ObserveOutcome(status model.RelayStatus, code string, d time.Duration)
	SetQueueDepth(n int)
	SetNeighbors(n int)
}

// Options wires an Orchestrator. Only NodeID, Connector, Sender and
// Neighbors are required.
type Options struct {
	NodeID    string
	Router    *routing.Router
	Routes    *routing.RouteCache
	Connector Connector
	Sender    Sender
	Neighbors NeighborSource
	Events    EventSink
	Pauser    Pauser
	Deliverer Deliverer
	Observer  Observer
	Clock     clock.Clock
	Policy    Policy
}

type activeLink struct {
	device string
	ip     string
}

// Orchestrator owns cross-attempt relay state: the active link, cooldowns,
// the queue and the counters. One relay attempt runs at a time.
type Orchestrator struct {
	nodeID    string
	router    *routing.Router
	routes    *routing.RouteCache
	conn      Connector
	sender    Sender
	neighbors NeighborSource
	events    EventSink
	pauser    Pauser
	deliverer Deliverer
	observer  Observer
	clock     clock.Clock
	policy    Policy

	inFlight    atomic.Bool
	hasInternet atomic.Bool
	running     atomic.Bool

	keepalive *Deferred
	seen      *lru.Cache[string, struct{}]

	mu        sync.Mutex
	link      *activeLink
	cooldowns map[string]time.Time
	stats     model.RelayStats

	queueMu sync.Mutex
	queue   []*queued
	drainMu sync.Mutex

	log *util.Logger
}

// New creates an orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.NodeID == "" {
		return nil, errors.New("node id is required")
	}
	if opts.Connector == nil || opts.Sender == nil || opts.Neighbors == nil {
		return nil, errors.New("connector, sender and neighbor source are required")
	}
	if opts.Router == nil {
		opts.Router = routing.NewRouter()
	}
	if opts.Routes == nil {
		opts.Routes = routing.NewRouteCache()
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}

	seen, err := lru.New[string, struct{}](opts.Policy.DedupSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}

	return &Orchestrator{
		nodeID:    opts.NodeID,
		router:    opts.Router,
		routes:    opts.Routes,
		conn:      opts.Connector,
		sender:    opts.Sender,
		neighbors: opts.Neighbors,
		events:    opts.Events,
		pauser:    opts.Pauser,
		deliverer: opts.Deliverer,
		observer:  opts.Observer,
		clock:     opts.Clock,
		policy:    opts.Policy,
		keepalive: NewDeferred(opts.Clock),
		seen:      seen,
		cooldowns: make(map[string]time.Time),
		log:       util.Named("relay"),
	}, nil
}

// NodeID returns the local node id.
func (o *Orchestrator) NodeID() string {
	return o.nodeID
}

// SetInternet marks whether this node is a goal node.
func (o *Orchestrator) SetInternet(online bool) {
	if o.hasInternet.Swap(online) != online {
		o.log.Info("Internet connectivity changed: %v", online)
	}
}

// HasInternet reports whether this node is a goal node.
func (o *Orchestrator) HasInternet() bool {
	return o.hasInternet.Load()
}

// SetRunning flags the relay loop as started or stopped.
func (o *Orchestrator) SetRunning(running bool) {
	o.running.Store(running)
}

// Routes returns the route cache.
func (o *Orchestrator) Routes() *routing.RouteCache {
	return o.routes
}

// Stats returns the current counters.
func (o *Orchestrator) Stats() model.RelayStats {
	o.mu.Lock()
	s := o.stats
	o.mu.Unlock()

	s.PendingCount = o.QueueLen()
	s.NeighborsCount = len(o.neighbors.Neighbors())
	s.IsRunning = o.running.Load()
	return s
}

// Relay runs one relay attempt for packet. It never panics and never
// returns a raw error.
func (o *Orchestrator) Relay(ctx context.Context, packet model.MeshPacket) (out Outcome) {
	start := o.clock.Now()
	out = Outcome{PacketID: packet.ID, HopCount: packet.HopCount()}

	if !o.inFlight.CompareAndSwap(false, true) {
		out.Status, out.Code, out.Message = model.StatusBusy, CodeBusy, "relay attempt already in progress"
		return out
	}
	defer o.inFlight.Store(false)

	defer func() {
		if r := recover(); r != nil {
			o.log.Error("Relay of %s panicked: %v", packet.ID, r)
			o.dropLink()
			out.Status, out.Code = model.StatusFailure, CodeInternalFailure
			out.Message = fmt.Sprintf("internal error: %v", r)
			o.countFailure()
		}
		o.finish(out, packet, start)
	}()

	return o.relay(ctx, packet, out)
}

func (o *Orchestrator) relay(ctx context.Context, packet model.MeshPacket, out Outcome) Outcome {
	if !packet.IsAlive() {
		out.Status, out.Code, out.Message = model.StatusDropped, CodeTTLExpired, "ttl expired"
		return out
	}

	neighbors := o.neighbors.Neighbors()
	if o.observer != nil {
		o.observer.SetNeighbors(len(neighbors))
	}
	decision := o.router.MakeRoutingDecision(packet, neighbors, o.nodeID)
	if decision.Selected == nil {
		out.Status, out.Code = model.StatusQueued, CodeNoCandidate
		out.Message = fmt.Sprintf("no candidate among %d neighbors", len(neighbors))
		return out
	}
	target := *decision.Selected
	addr := target.Address
	if addr == "" {
		addr = target.ID
	}
	out.TargetID, out.Address = target.ID, addr

	if wait := o.checkCooldown(addr); wait > 0 {
		out.Status, out.Code, out.RetryAfter = model.StatusCooldown, CodeCooldown, wait
		out.Message = fmt.Sprintf("cooldown active for %s, retry in %s", addr, wait.Round(time.Millisecond))
		return out
	}

	forwarded := packet.AddHop(o.nodeID)
	out.HopCount = forwarded.HopCount()

	payload, err := forwarded.Marshal()
	if err != nil {
		out.Status, out.Code, out.Message = model.StatusFailure, CodeSendFailed, err.Error()
		o.countFailure()
		return out
	}

	if o.pauser != nil {
		o.pauser.Pause()
		defer o.pauser.Resume()
	}

	ip, reused, err := o.acquire(ctx, addr)
	out.Reused = reused
	if err != nil {
		status, code := model.StatusFailure, CodeConnectFailed
		if errors.Is(err, connection.ErrBusy) {
			status, code = model.StatusBusy, CodeBusy
		} else {
			o.fail(target.ID)
		}
		o.dropLink()
		out.Status, out.Code, out.Message = status, code, err.Error()
		return out
	}

	if err := o.sender.Send(ctx, ip, o.policy.Port, payload); err != nil {
		code := CodeSendFailed
		if errors.Is(err, framing.ErrNAK) {
			code = CodeNAK
		}
		o.fail(target.ID)
		o.dropLink()
		out.Status, out.Code, out.Message = model.StatusFailure, code, err.Error()
		return out
	}

	o.routes.RecordSuccess(target.ID, target.ID, forwarded.HopCount(), o.clock.Now())
	o.mu.Lock()
	o.stats.PacketsSent++
	o.stats.ConsecutiveFailures = 0
	o.mu.Unlock()

	o.keepalive.Start(o.policy.KeepAlive, func() { o.expireLink(addr) })

	out.Status, out.Code = model.StatusSuccess, CodeOK
	out.Message = fmt.Sprintf("relayed to %s (%s)", target.ID, ip)
	return out
}

// checkCooldown returns the remaining wait for addr, or zero after
// stamping a new attempt.
func (o *Orchestrator) checkCooldown(addr string) time.Duration {
	now := o.clock.Now()
	o.mu.Lock()
	defer o.mu.Unlock()

	if last, ok := o.cooldowns[addr]; ok {
		if elapsed := now.Sub(last); elapsed < o.policy.Cooldown {
			return o.policy.Cooldown - elapsed
		}
	}
	for a, t := range o.cooldowns {
		if now.Sub(t) >= o.policy.Cooldown {
			delete(o.cooldowns, a)
		}
	}
	o.cooldowns[addr] = now
	return 0
}

// acquire reuses the kept-alive link to device or negotiates a new one.
func (o *Orchestrator) acquire(ctx context.Context, device string) (string, bool, error) {
	o.keepalive.Cancel()

	o.mu.Lock()
	link := o.link
	o.mu.Unlock()

	if link != nil && link.device == device {
		o.log.Debug("Reusing link to %s at %s", device, link.ip)
		return link.ip, true, nil
	}

	ip, err := o.conn.Connect(ctx, device)
	if err != nil {
		return "", false, err
	}

	o.mu.Lock()
	o.link = &activeLink{device: device, ip: ip}
	o.mu.Unlock()
	return ip, false, nil
}

// dropLink tears the link down immediately.
func (o *Orchestrator) dropLink() {
	o.keepalive.Cancel()
	o.mu.Lock()
	o.link = nil
	o.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o.conn.Disconnect(ctx)
}

// expireLink is the keep-alive teardown. It claims the single-flight slot
// so it never races a relay attempt for the link.
func (o *Orchestrator) expireLink(device string) {
	if !o.inFlight.CompareAndSwap(false, true) {
		return
	}
	defer o.inFlight.Store(false)

	o.mu.Lock()
	if o.link == nil || o.link.device != device {
		o.mu.Unlock()
		return
	}
	o.link = nil
	o.mu.Unlock()

	o.log.Debug("Idle link to %s expired", device)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o.conn.Disconnect(ctx)
}

// LinkActive reports whether a kept-alive link exists.
func (o *Orchestrator) LinkActive() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.link != nil
}

func (o *Orchestrator) fail(targetID string) {
	o.routes.RecordFailure(targetID, o.clock.Now())
	o.countFailure()
}

func (o *Orchestrator) countFailure() {
	o.mu.Lock()
	o.stats.PacketsFailed++
	o.stats.ConsecutiveFailures++
	o.mu.Unlock()
}

func (o *Orchestrator) finish(out Outcome, packet model.MeshPacket, start time.Time) {
	elapsed := o.clock.Since(start)
	if o.observer != nil {
		o.observer.ObserveOutcome(out.Status, out.Code, elapsed)
	}

	switch out.Status {
	case model.StatusSuccess:
		o.log.Info("Packet %s: %s", packet.ID, out.Message)
	case model.StatusFailure:
		o.log.Warn("Packet %s relay failed (%s): %s", packet.ID, out.Code, out.Message)
	case model.StatusBusy:
		return
	default:
		o.log.Debug("Packet %s %s: %s", packet.ID, out.Status, out.Message)
	}

	o.record(out, packet.Trace)
}

func (o *Orchestrator) record(out Outcome, trace []string) {
	if o.events == nil {
		return
	}
	e := model.RelayEvent{
		PacketID:  out.PacketID,
		TargetID:  out.TargetID,
		Status:    out.Status,
		HopCount:  out.HopCount,
		Trace:     trace,
		Message:   out.Message,
		Timestamp: o.clock.Now(),
	}
	if err := o.events.RecordEvent(e); err != nil {
		o.log.Warn("Failed to record relay event: %v", err)
	}
}
