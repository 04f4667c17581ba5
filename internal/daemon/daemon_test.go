package daemon

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/rescuemesh/internal/discovery"
	"github.com/user/rescuemesh/internal/metrics"
	"github.com/user/rescuemesh/internal/model"
	"github.com/user/rescuemesh/internal/relay"
	"github.com/user/rescuemesh/internal/storage"
	"github.com/user/rescuemesh/internal/util"
)

type nopConnector struct{}

func (nopConnector) Connect(ctx context.Context, device string) (string, error) { return device, nil }
func (nopConnector) Disconnect(ctx context.Context)                             {}

type nopSender struct{ sent atomic.Int32 }

func (s *nopSender) Send(ctx context.Context, host string, port int, payload []byte) error {
	s.sent.Add(1)
	return nil
}

func testNode(t *testing.T, cfg *util.Config) (*Node, *nopSender) {
	t.Helper()

	db, err := storage.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	collector, err := metrics.NewCollector(prometheus.NewRegistry())
	require.NoError(t, err)

	table := discovery.NewNeighborTable(nil, time.Minute, cfg.NodeID)
	adv := discovery.NewAdvertiser(cfg.MDNSService, cfg.ListenPort, nil, func() model.NodeInfo {
		return model.NodeInfo{ID: cfg.NodeID}
	})
	// keep the test off the network
	adv.Pause()

	sender := &nopSender{}
	n := &Node{
		cfg:        cfg,
		table:      table,
		advertiser: adv,
		metrics:    collector,
		events:     storage.NewEventStorage(db),
		outbox:     storage.NewOutboxStorage(db),
		delivered:  storage.NewDeliveredStorage(db),
		routes:     storage.NewRouteStorage(db),
		log:        util.NewNopLogger(),
	}
	n.orch, err = relay.New(relay.Options{
		NodeID:    cfg.NodeID,
		Connector: nopConnector{},
		Sender:    sender,
		Neighbors: table,
		Events:    n.eventSink(),
		Deliverer: n.delivered,
		Observer:  collector,
	})
	require.NoError(t, err)
	return n, sender
}

func testConfig(t *testing.T) *util.Config {
	cfg := util.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.NodeID = "self"
	return cfg
}

func TestSchedulerRunJobRecordsErrors(t *testing.T) {
	s := NewScheduler(context.Background())
	calls := 0
	job := &Job{
		Name:     "flaky",
		Interval: time.Minute,
		Run: func(ctx context.Context) error {
			calls++
			if calls == 1 {
				return errors.New("boom")
			}
			return nil
		},
	}
	s.AddJob(job)

	before := time.Now()
	s.runJob(job)
	st := s.GetJobStatuses()[0]
	assert.Equal(t, "boom", st.LastError)
	assert.Equal(t, 1, st.ErrorCount)
	// errors retry at half the interval
	assert.WithinDuration(t, before.Add(30*time.Second), st.NextRun, 5*time.Second)

	s.runJob(job)
	st = s.GetJobStatuses()[0]
	assert.Empty(t, st.LastError)
	assert.Equal(t, 1, st.ErrorCount)
	assert.False(t, st.Running)
}

func TestSchedulerJobTimeout(t *testing.T) {
	s := NewScheduler(context.Background())
	var deadline time.Duration
	job := &Job{
		Name:     "long",
		Interval: time.Second,
		Timeout:  time.Hour,
		Run: func(ctx context.Context) error {
			dl, ok := ctx.Deadline()
			require.True(t, ok)
			deadline = time.Until(dl)
			return nil
		},
	}
	s.AddJob(job)
	s.runJob(job)
	assert.Greater(t, deadline, 59*time.Minute)
}

func TestSchedulerTriggerJob(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := NewScheduler(ctx)
	s.tick = 10 * time.Millisecond

	var ran atomic.Bool
	s.AddJob(&Job{
		Name:     "manual",
		Interval: time.Hour,
		Run: func(ctx context.Context) error {
			ran.Store(true)
			return nil
		},
	})
	go s.Run()

	assert.False(t, s.TriggerJob("missing"))
	require.True(t, s.TriggerJob("manual"))
	assert.Eventually(t, ran.Load, time.Second, 10*time.Millisecond)
}

func TestStatusFileRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sf := &StatusFile{
		Running:     true,
		PID:         42,
		NodeID:      "self",
		HasInternet: true,
		LinkState:   "idle",
		Stats:       model.RelayStats{PacketsSent: 3, PendingCount: 1},
		Neighbors:   []model.NodeInfo{{ID: "n1", Battery: 50}},
	}
	require.NoError(t, WriteStatusFile(dir, sf))

	got, err := ReadStatusFile(dir)
	require.NoError(t, err)
	assert.Equal(t, 42, got.PID)
	assert.Equal(t, 3, got.Stats.PacketsSent)
	require.Len(t, got.Neighbors, 1)
	assert.Equal(t, "n1", got.Neighbors[0].ID)

	running, _ := CheckRunning(dir)
	assert.False(t, running)
	assert.Error(t, SendStop(dir))
}

func TestOutboxPickupQueuesAndDrainSends(t *testing.T) {
	cfg := testConfig(t)
	n, sender := testNode(t, cfg)
	d := &Daemon{config: cfg, node: n}

	p := model.NewPacket("self", model.PacketSOS, model.PriorityCritical, "help", 5)
	_, err := n.outbox.Add(p)
	require.NoError(t, err)

	require.NoError(t, d.runOutboxPickup(context.Background()))
	assert.Equal(t, 1, n.orch.QueueLen())

	left, err := n.outbox.PendingCount()
	require.NoError(t, err)
	assert.Zero(t, left)

	// a neighbor appears and the next drain relays the packet
	n.table.Upsert(model.NodeInfo{ID: "n1", Address: "10.0.0.2", Battery: 80})
	require.NoError(t, d.runRelayDrain(context.Background()))
	assert.EqualValues(t, 1, sender.sent.Load())
	assert.Zero(t, n.orch.QueueLen())

	events, err := n.events.ForPacket(p.ID)
	require.NoError(t, err)
	require.NotEmpty(t, events)
	assert.Equal(t, model.StatusSuccess, events[len(events)-1].Status)
}

func TestOutboxPickupDeliversLocallyWhenOnline(t *testing.T) {
	cfg := testConfig(t)
	n, sender := testNode(t, cfg)
	n.orch.SetInternet(true)
	d := &Daemon{config: cfg, node: n}

	p := model.NewPacket("self", model.PacketSOS, model.PriorityHigh, "here", 5)
	_, err := n.outbox.Add(p)
	require.NoError(t, err)

	require.NoError(t, d.runOutboxPickup(context.Background()))
	assert.Zero(t, sender.sent.Load())

	list, err := n.delivered.List(time.Now().Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, p.ID, list[0].Packet.ID)
}

func TestConnectivityCheckPinnedMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.InternetMode = "on"
	n, _ := testNode(t, cfg)
	d := &Daemon{config: cfg, node: n}

	require.NoError(t, d.runConnectivityCheck(context.Background()))
	assert.True(t, n.orch.HasInternet())
	assert.Equal(t, 1.0, testutil.ToFloat64(n.metrics.Internet))

	cfg.InternetMode = "off"
	require.NoError(t, d.runConnectivityCheck(context.Background()))
	assert.False(t, n.orch.HasInternet())
}

func TestRoutePrunePersistsSnapshot(t *testing.T) {
	cfg := testConfig(t)
	n, _ := testNode(t, cfg)
	d := &Daemon{config: cfg, node: n}

	now := time.Now()
	n.orch.Routes().RecordSuccess("fresh", "fresh", 1, now)
	n.orch.Routes().RecordSuccess("old", "old", 1, now.Add(-time.Hour))

	require.NoError(t, d.runRoutePrune(context.Background()))

	saved, err := n.routes.Load()
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, "fresh", saved[0].DestinationID)
}

func TestOutboxPacketSurvivesRestartUntilSent(t *testing.T) {
	cfg := testConfig(t)
	n, sender := testNode(t, cfg)
	d := &Daemon{config: cfg, node: n}

	p := model.NewPacket("self", model.PacketSOS, model.PriorityCritical, "trapped", 5)
	_, err := n.outbox.Add(p)
	require.NoError(t, err)

	// picked up, but no neighbor yet: only held in memory
	require.NoError(t, d.runOutboxPickup(context.Background()))
	require.Equal(t, 1, n.orch.QueueLen())

	// a restart loses the in-memory queue; start-up recovery restores it
	n.recoverOutbox()
	left, err := n.outbox.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 1, left)

	// once sent the row is settled and is not recovered again
	n.table.Upsert(model.NodeInfo{ID: "n1", Address: "10.0.0.2", Battery: 80})
	require.NoError(t, d.runOutboxPickup(context.Background()))
	require.NoError(t, d.runRelayDrain(context.Background()))
	assert.EqualValues(t, 1, sender.sent.Load())

	n.recoverOutbox()
	left, err = n.outbox.PendingCount()
	require.NoError(t, err)
	assert.Zero(t, left)
}
