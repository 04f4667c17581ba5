package connection

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/rescuemesh/internal/probes"
	"github.com/user/rescuemesh/internal/transport"
)

func fastTimings() Timings {
	return Timings{
		RemoveSettle:        time.Millisecond,
		RemoveBusySettle:    time.Millisecond,
		RemoveOtherSettle:   time.Millisecond,
		MaxConnectAttempts:  5,
		SubordinateAttempts: 2,
		RediscoveryDelay:    time.Millisecond,
		LinkPollInterval:    time.Millisecond,
		GroupPollAttempts:   3,
		GroupPollInterval:   time.Millisecond,
		AddressSettle:       time.Millisecond,
	}
}

type stubResolver struct {
	ip  string
	err error
	hw  []string
}

func (s *stubResolver) Resolve(ctx context.Context, hw string) (string, error) {
	s.hw = append(s.hw, hw)
	return s.ip, s.err
}

var busy = &transport.Error{Op: "connect", Code: transport.CodeBusy}

func formedLink(owner bool) []*transport.LinkInfo {
	return []*transport.LinkInfo{{Formed: true, IsGroupOwner: owner, OwnerAddress: "192.168.49.1"}}
}

func TestConnectRetriesBusyAndSwitchesIntent(t *testing.T) {
	f := &transport.Fake{
		ConnectErrs: []error{busy, busy, nil},
		Links:       formedLink(false),
	}
	m := NewManager(f, &stubResolver{}, fastTimings())

	ip, err := m.Connect(context.Background(), "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, "192.168.49.1", ip)
	assert.Equal(t, []int{transport.IntentSubordinate, transport.IntentSubordinate, transport.IntentAuthority}, f.Intents())

	connects, _, discovers, _ := f.Calls()
	assert.Equal(t, 3, connects)
	assert.Equal(t, 2, discovers)
	assert.Equal(t, StateConnected, m.State())
}

func TestConnectGivesUpAfterFiveAttempts(t *testing.T) {
	f := &transport.Fake{ConnectErrs: []error{busy}}
	m := NewManager(f, &stubResolver{}, fastTimings())

	_, err := m.Connect(context.Background(), "peer")
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, StageConnect, cerr.Stage)
	assert.Equal(t, 5, cerr.Attempts)
	assert.Contains(t, err.Error(), "after 5 attempts")
	assert.Equal(t, []int{0, 0, 15, 15, 15}, f.Intents())
	assert.Equal(t, StateFailed, m.State())
}

func TestConnectPermanentFailureDoesNotRetry(t *testing.T) {
	f := &transport.Fake{ConnectErrs: []error{&transport.Error{Op: "connect", Code: transport.CodeUnsupported}}}
	m := NewManager(f, &stubResolver{}, fastTimings())

	_, err := m.Connect(context.Background(), "peer")
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, 1, cerr.Attempts)

	code, ok := transport.CodeOf(err)
	require.True(t, ok)
	assert.Equal(t, transport.CodeUnsupported, code)

	_, _, discovers, _ := f.Calls()
	assert.Zero(t, discovers)
}

func TestAwaitLinkReasons(t *testing.T) {
	tests := []struct {
		name   string
		links  []*transport.LinkInfo
		reason string
	}{
		{"no info", nil, "link info unavailable"},
		{"not formed", []*transport.LinkInfo{{Formed: false}}, "link not formed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &transport.Fake{Links: tt.links}
			m := NewManager(f, &stubResolver{}, fastTimings())
			require.NoError(t, m.SetLinkRetries(3))

			_, err := m.Connect(context.Background(), "peer")
			var cerr *Error
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, StageLinkFormation, cerr.Stage)
			assert.Equal(t, tt.reason, cerr.Reason)
			assert.Equal(t, 3, cerr.Attempts)

			_, _, _, links := f.Calls()
			assert.Equal(t, 3, links)
		})
	}
}

func TestLinkFormsAfterPolling(t *testing.T) {
	f := &transport.Fake{
		Links: []*transport.LinkInfo{nil, {Formed: false}, {Formed: true, OwnerAddress: "192.168.49.1"}},
	}
	m := NewManager(f, &stubResolver{}, fastTimings())

	ip, err := m.Connect(context.Background(), "peer")
	require.NoError(t, err)
	assert.Equal(t, "192.168.49.1", ip)
}

func TestGroupOwnerResolvesMemberAddress(t *testing.T) {
	f := &transport.Fake{
		Links:   formedLink(true),
		Members: [][]transport.Device{nil, {{Name: "peer", HardwareAddress: "aa:bb:cc:dd:ee:ff"}}},
	}
	res := &stubResolver{ip: "192.168.49.23"}
	m := NewManager(f, res, fastTimings())

	ip, err := m.Connect(context.Background(), "peer")
	require.NoError(t, err)
	assert.Equal(t, "192.168.49.23", ip)
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:ff"}, res.hw)
}

func TestGroupOwnerWithoutMembersTearsDown(t *testing.T) {
	f := &transport.Fake{Links: formedLink(true)}
	m := NewManager(f, &stubResolver{}, fastTimings())

	_, err := m.Connect(context.Background(), "peer")
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, StageGroupInfo, cerr.Stage)
	assert.Equal(t, 3, cerr.Attempts)

	// stale group removal plus teardown
	_, disconnects, _, _ := f.Calls()
	assert.Equal(t, 2, disconnects)
}

func TestUnresolvableAddressTearsDown(t *testing.T) {
	f := &transport.Fake{
		Links:   formedLink(true),
		Members: [][]transport.Device{{{Name: "peer"}}},
	}
	m := NewManager(f, &stubResolver{err: errors.New("nothing found")}, fastTimings())

	_, err := m.Connect(context.Background(), "peer")
	var cerr *Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, StageResolveAddress, cerr.Stage)
	assert.Contains(t, err.Error(), "could not resolve peer address")

	_, disconnects, _, _ := f.Calls()
	assert.Equal(t, 2, disconnects)
}

func TestConnectIsSingleFlight(t *testing.T) {
	timings := fastTimings()
	timings.RemoveOtherSettle = 300 * time.Millisecond
	f := &transport.Fake{
		DisconnectErr: &transport.Error{Op: "remove group", Code: transport.CodeInternalError},
		Links:         formedLink(false),
	}
	m := NewManager(f, &stubResolver{}, timings)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, err := m.Connect(context.Background(), "first")
		assert.NoError(t, err)
	}()

	require.Eventually(t, m.Busy, time.Second, time.Millisecond)
	_, err := m.Connect(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)

	wg.Wait()
	assert.False(t, m.Busy())
	assert.Equal(t, []string{"first"}, f.ConnectAddrs())
}

func TestConnectHonoursCancellation(t *testing.T) {
	timings := fastTimings()
	timings.RemoveSettle = time.Minute
	m := NewManager(&transport.Fake{}, &stubResolver{}, timings)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Connect(ctx, "peer")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestSetLinkRetriesBounds(t *testing.T) {
	m := NewManager(&transport.Fake{}, &stubResolver{}, fastTimings())
	assert.Equal(t, DefaultLinkRetries, m.LinkRetries())

	assert.Error(t, m.SetLinkRetries(2))
	assert.Error(t, m.SetLinkRetries(31))
	require.NoError(t, m.SetLinkRetries(30))
	assert.Equal(t, 30, m.LinkRetries())
}

func TestStateHookSeesTransitions(t *testing.T) {
	f := &transport.Fake{Links: formedLink(false)}
	m := NewManager(f, &stubResolver{}, fastTimings())

	var seen []State
	m.SetStateHook(func(from, to State, device string) {
		seen = append(seen, to)
	})

	_, err := m.Connect(context.Background(), "peer")
	require.NoError(t, err)
	m.Disconnect(context.Background())

	assert.Equal(t, []State{
		StateRemovingStaleGroup,
		StateConnecting,
		StateAwaitingLink,
		StateConnected,
		StateIdle,
	}, seen)
}

func writeARPFile(t *testing.T, body string) *probes.ARPTable {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arp")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return probes.NewARPTable(path)
}

const arpHeader = "IP address       HW type     Flags       HW address            Mask     Device\n"

func TestResolverPrefersHardwareLookup(t *testing.T) {
	arp := writeARPFile(t, arpHeader+
		"192.168.49.9     0x1         0x2         11:11:11:11:11:11     *        p2p0\n"+
		"192.168.49.23    0x1         0x2         aa:bb:cc:dd:ee:ff     *        p2p0\n")
	r := NewResolver(arp, probes.NewSubnetScanner(0, 0, nil), "192.168.49.0/24", "192.168.49.1").
		WithRetries(0, time.Millisecond)

	ip, err := r.Resolve(context.Background(), "AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.Equal(t, "192.168.49.23", ip)
}

func TestResolverFallsBackToSubnetLookup(t *testing.T) {
	arp := writeARPFile(t, arpHeader+
		"192.168.49.1     0x1         0x2         de:ad:be:ef:00:01     *        p2p0\n"+
		"192.168.49.77    0x1         0x2         22:22:22:22:22:22     *        p2p0\n")
	r := NewResolver(arp, probes.NewSubnetScanner(0, 0, nil), "192.168.49.0/24", "192.168.49.1").
		WithRetries(0, time.Millisecond)

	ip, err := r.Resolve(context.Background(), "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, "192.168.49.77", ip)
}

func TestResolverFallsBackToScan(t *testing.T) {
	arp := writeARPFile(t, arpHeader)
	// loopback refuses port 1, which still proves the host is there
	scanner := probes.NewSubnetScanner(25, 200*time.Millisecond, []int{1})
	r := NewResolver(arp, scanner, "127.0.0.0/29", "127.0.0.1").WithRetries(2, time.Millisecond)

	ip, err := r.Resolve(context.Background(), "aa:bb:cc:dd:ee:ff")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.2", ip)
}

func TestStaleGroupSettleDependsOnRemovalResult(t *testing.T) {
	timings := fastTimings()
	timings.RemoveSettle = 10 * time.Millisecond
	timings.RemoveBusySettle = 20 * time.Millisecond
	timings.RemoveOtherSettle = 30 * time.Millisecond

	cases := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"removed", nil, timings.RemoveSettle},
		{"busy", &transport.Error{Op: "remove_group", Code: transport.CodeBusy}, timings.RemoveBusySettle},
		{"internal error", &transport.Error{Op: "remove_group", Code: transport.CodeInternalError}, timings.RemoveOtherSettle},
		{"uncoded error", errors.New("radio off"), timings.RemoveOtherSettle},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewManager(&transport.Fake{DisconnectErr: tc.err}, &stubResolver{}, timings)
			var slept []time.Duration
			m.sleep = func(ctx context.Context, d time.Duration) error {
				slept = append(slept, d)
				return nil
			}

			require.NoError(t, m.removeStaleGroup(context.Background()))
			assert.Equal(t, []time.Duration{tc.want}, slept)
		})
	}
}
