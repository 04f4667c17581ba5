// Package connection turns the flaky peer-transport negotiation API into a
// single call that yields the peer's socket address.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/rescuemesh/internal/transport"
	"github.com/user/rescuemesh/internal/util"
)

// State is a step of one connection attempt.
type State int

const (
	StateIdle State = iota
	StateRemovingStaleGroup
	StateConnecting
	StateAwaitingLink
	StateResolvingPeer
	StateConnected
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRemovingStaleGroup:
		return "removing_stale_group"
	case StateConnecting:
		return "connecting"
	case StateAwaitingLink:
		return "awaiting_link"
	case StateResolvingPeer:
		return "resolving_peer"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stage names the step an attempt failed in.
type Stage string

const (
	StageRemoveGroup    Stage = "remove_group"
	StageConnect        Stage = "connect"
	StageLinkFormation  Stage = "link_formation"
	StageGroupInfo      Stage = "group_info"
	StageResolveAddress Stage = "resolve_address"
)

// ErrBusy is returned when a connection attempt is already in flight.
var ErrBusy = errors.New("connection attempt already in progress")

// Error is a terminal connection failure.
type Error struct {
	Stage    Stage
	Attempts int
	Reason   string
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Stage, e.Reason)
	if e.Attempts > 0 {
		msg = fmt.Sprintf("%s after %d attempts", msg, e.Attempts)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Timings are the static tuning delays of the state machine.
type Timings struct {
	RemoveSettle      time.Duration
	RemoveBusySettle  time.Duration
	RemoveOtherSettle time.Duration

	MaxConnectAttempts int
	// attempts up to this number ask for the subordinate role
	SubordinateAttempts int
	RediscoveryDelay    time.Duration

	LinkPollInterval time.Duration

	GroupPollAttempts int
	GroupPollInterval time.Duration
	AddressSettle     time.Duration
}

// DefaultTimings returns the tuned delays.
func DefaultTimings() Timings {
	return Timings{
		RemoveSettle:        1 * time.Second,
		RemoveBusySettle:    2500 * time.Millisecond,
		RemoveOtherSettle:   100 * time.Millisecond,
		MaxConnectAttempts:  5,
		SubordinateAttempts: 2,
		RediscoveryDelay:    3500 * time.Millisecond,
		LinkPollInterval:    1 * time.Second,
		GroupPollAttempts:   15,
		GroupPollInterval:   1 * time.Second,
		AddressSettle:       4 * time.Second,
	}
}

// DefaultLinkRetries is the link-formation poll cap.
const DefaultLinkRetries = 15

// StateHook observes state transitions.
type StateHook func(from, to State, device string)

// Manager runs connection attempts against a PeerTransport. Only one
// attempt may run at a time.
type Manager struct {
	transport transport.PeerTransport
	resolver  AddressResolver
	timings   Timings

	linkRetries atomic.Int32
	inFlight    atomic.Bool

	// swapped in tests to observe delays
	sleep func(ctx context.Context, d time.Duration) error

	mu    sync.Mutex
	state State
	hook  StateHook

	log *util.Logger
}

// NewManager creates a connection manager.
func NewManager(t transport.PeerTransport, resolver AddressResolver, timings Timings) *Manager {
	m := &Manager{
		transport: t,
		resolver:  resolver,
		timings:   timings,
		sleep:     sleepCtx,
		log:       util.Named("connection"),
	}
	m.linkRetries.Store(DefaultLinkRetries)
	return m
}

// SetLinkRetries sets the link-formation poll cap.
func (m *Manager) SetLinkRetries(n int) error {
	if n < util.MinLinkRetries || n > util.MaxLinkRetries {
		return fmt.Errorf("link retries must be between %d and %d, got %d",
			util.MinLinkRetries, util.MaxLinkRetries, n)
	}
	m.linkRetries.Store(int32(n))
	return nil
}

// LinkRetries returns the link-formation poll cap.
func (m *Manager) LinkRetries() int {
	return int(m.linkRetries.Load())
}

// SetStateHook installs a transition observer.
func (m *Manager) SetStateHook(hook StateHook) {
	m.mu.Lock()
	m.hook = hook
	m.mu.Unlock()
}

// State returns the current state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Busy reports whether an attempt is in flight.
func (m *Manager) Busy() bool {
	return m.inFlight.Load()
}

func (m *Manager) setState(to State, device string) {
	m.mu.Lock()
	from := m.state
	m.state = to
	hook := m.hook
	m.mu.Unlock()

	m.log.Debug("%s -> %s (%s)", from, to, device)
	if hook != nil {
		hook(from, to, device)
	}
}

// Connect negotiates a link to deviceAddr and returns the IP to open a
// socket against.
func (m *Manager) Connect(ctx context.Context, deviceAddr string) (string, error) {
	if !m.inFlight.CompareAndSwap(false, true) {
		return "", ErrBusy
	}
	defer m.inFlight.Store(false)

	ip, err := m.run(ctx, deviceAddr)
	if err != nil {
		m.setState(StateFailed, deviceAddr)
		m.log.Warn("Connection to %s failed: %v", deviceAddr, err)
		return "", err
	}
	m.setState(StateConnected, deviceAddr)
	m.log.Info("Connected to %s at %s", deviceAddr, ip)
	return ip, nil
}

func (m *Manager) run(ctx context.Context, deviceAddr string) (string, error) {
	m.setState(StateRemovingStaleGroup, deviceAddr)
	if err := m.removeStaleGroup(ctx); err != nil {
		return "", &Error{Stage: StageRemoveGroup, Reason: "interrupted", Err: err}
	}

	m.setState(StateConnecting, deviceAddr)
	if err := m.connect(ctx, deviceAddr); err != nil {
		return "", err
	}

	m.setState(StateAwaitingLink, deviceAddr)
	info, err := m.awaitLink(ctx)
	if err != nil {
		return "", err
	}

	if !info.IsGroupOwner {
		if info.OwnerAddress == "" {
			return "", &Error{Stage: StageLinkFormation, Reason: "link formed without peer address"}
		}
		return info.OwnerAddress, nil
	}

	m.setState(StateResolvingPeer, deviceAddr)
	return m.resolvePeer(ctx)
}

// removeStaleGroup tears down any previous group. The result only decides
// how long to let the platform settle.
func (m *Manager) removeStaleGroup(ctx context.Context) error {
	err := m.transport.Disconnect(ctx)
	settle := m.timings.RemoveSettle
	if err != nil {
		if code, ok := transport.CodeOf(err); ok && code == transport.CodeBusy {
			settle = m.timings.RemoveBusySettle
		} else {
			settle = m.timings.RemoveOtherSettle
		}
		m.log.Debug("Stale group removal: %v", err)
	}
	return m.sleep(ctx, settle)
}

func (m *Manager) connect(ctx context.Context, deviceAddr string) error {
	maxAttempts := m.timings.MaxConnectAttempts
	for attempt := 1; ; attempt++ {
		intent := transport.IntentSubordinate
		if attempt > m.timings.SubordinateAttempts {
			intent = transport.IntentAuthority
		}

		err := m.transport.Connect(ctx, deviceAddr, intent)
		if err == nil {
			return nil
		}

		if !transport.IsTransient(err) || attempt >= maxAttempts {
			return &Error{Stage: StageConnect, Attempts: attempt, Reason: "connect rejected", Err: err}
		}

		m.log.Info("Connect attempt %d/%d to %s failed (%v), rediscovering peers", attempt, maxAttempts, deviceAddr, err)
		if derr := m.transport.DiscoverPeers(ctx); derr != nil {
			m.log.Debug("Peer rediscovery failed: %v", derr)
		}
		if err := m.sleep(ctx, m.timings.RediscoveryDelay); err != nil {
			return &Error{Stage: StageConnect, Attempts: attempt, Reason: "interrupted", Err: err}
		}
	}
}

func (m *Manager) awaitLink(ctx context.Context) (*transport.LinkInfo, error) {
	retries := m.LinkRetries()
	reason := "link info unavailable"
	for attempt := 1; attempt <= retries; attempt++ {
		info, err := m.transport.LinkInfo(ctx)
		switch {
		case err != nil || info == nil:
			reason = "link info unavailable"
		case !info.Formed:
			reason = "link not formed"
		default:
			return info, nil
		}

		if attempt < retries {
			if err := m.sleep(ctx, m.timings.LinkPollInterval); err != nil {
				return nil, &Error{Stage: StageLinkFormation, Attempts: attempt, Reason: "interrupted", Err: err}
			}
		}
	}
	return nil, &Error{Stage: StageLinkFormation, Attempts: retries, Reason: reason}
}

func (m *Manager) resolvePeer(ctx context.Context) (string, error) {
	var members []transport.Device
	polls := m.timings.GroupPollAttempts
	for attempt := 1; attempt <= polls; attempt++ {
		got, err := m.transport.GroupMembers(ctx)
		if err == nil && len(got) > 0 {
			members = got
			break
		}
		if attempt < polls {
			if err := m.sleep(ctx, m.timings.GroupPollInterval); err != nil {
				m.teardown()
				return "", &Error{Stage: StageGroupInfo, Attempts: attempt, Reason: "interrupted", Err: err}
			}
		}
	}
	if len(members) == 0 {
		m.teardown()
		return "", &Error{Stage: StageGroupInfo, Attempts: polls, Reason: "no group members"}
	}

	// address assignment finishes some time after the member shows up
	if err := m.sleep(ctx, m.timings.AddressSettle); err != nil {
		m.teardown()
		return "", &Error{Stage: StageResolveAddress, Reason: "interrupted", Err: err}
	}

	ip, err := m.resolver.Resolve(ctx, members[0].HardwareAddress)
	if err != nil {
		m.teardown()
		return "", &Error{Stage: StageResolveAddress, Reason: "could not resolve peer address", Err: err}
	}
	return ip, nil
}

// Disconnect tears the group down. Teardown failures are only logged.
func (m *Manager) Disconnect(ctx context.Context) {
	if err := m.transport.Disconnect(ctx); err != nil {
		m.log.Debug("Disconnect: %v", err)
	}
	m.setState(StateIdle, "")
}

// teardown runs on failure paths where ctx may already be done.
func (m *Manager) teardown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.transport.Disconnect(ctx); err != nil {
		m.log.Debug("Teardown: %v", err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
