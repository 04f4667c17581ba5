package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/rescuemesh/internal/model"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestEventStorageRecordAndQuery(t *testing.T) {
	events := NewEventStorage(openTestDB(t))
	base := time.Now().Add(-time.Hour).UTC().Truncate(time.Second)

	require.NoError(t, events.RecordEvent(model.RelayEvent{
		PacketID: "p1", TargetID: "n2", Status: model.StatusSuccess,
		HopCount: 2, Trace: []string{"n0", "n1"}, Timestamp: base,
	}))
	require.NoError(t, events.RecordEvent(model.RelayEvent{
		PacketID: "p1", TargetID: "n3", Status: model.StatusFailure,
		Message: "connect rejected", Timestamp: base.Add(time.Minute),
	}))
	require.NoError(t, events.RecordEvent(model.RelayEvent{
		PacketID: "p2", Status: model.StatusQueued, Timestamp: base.Add(2 * time.Minute),
	}))

	all, err := events.GetSince(base.Add(-time.Second), time.Time{})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"n0", "n1"}, all[0].Trace)
	assert.Equal(t, "n2", all[0].TargetID)
	assert.True(t, all[0].Timestamp.Equal(base))

	window, err := events.GetSince(base.Add(30*time.Second), base.Add(90*time.Second))
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, model.StatusFailure, window[0].Status)
	assert.Equal(t, "connect rejected", window[0].Message)

	recent, err := events.Recent(2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, "p2", recent[0].PacketID)

	forP1, err := events.ForPacket("p1")
	require.NoError(t, err)
	assert.Len(t, forP1, 2)

	counts, err := events.CountByStatus(base.Add(-time.Second))
	require.NoError(t, err)
	assert.Equal(t, 1, counts[model.StatusSuccess])
	assert.Equal(t, 1, counts[model.StatusFailure])
	assert.Equal(t, 1, counts[model.StatusQueued])

	n, err := events.Prune(base.Add(90 * time.Second))
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
}

func TestOutboxPickup(t *testing.T) {
	outbox := NewOutboxStorage(openTestDB(t))

	p1 := model.NewPacket("self", model.PacketSOS, model.PriorityCritical, "trapped", 5)
	p2 := model.NewPacket("self", model.PacketData, model.PriorityLow, "ok", 5)

	id1, err := outbox.Add(p1)
	require.NoError(t, err)
	_, err = outbox.Add(p2)
	require.NoError(t, err)

	// same packet twice is rejected
	_, err = outbox.Add(p1)
	assert.Error(t, err)

	pending, err := outbox.Pending(10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, p1.ID, pending[0].Packet.ID)
	assert.Equal(t, model.PriorityCritical, pending[0].Packet.Priority)
	assert.Equal(t, "trapped", pending[0].Packet.Payload)

	require.NoError(t, outbox.MarkPicked(id1))
	n, err := outbox.PendingCount()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	pending, err = outbox.Pending(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, p2.ID, pending[0].Packet.ID)
}

func TestOutboxRequeuesUnsettledPackets(t *testing.T) {
	outbox := NewOutboxStorage(openTestDB(t))

	sent := model.NewPacket("self", model.PacketSOS, model.PriorityCritical, "sent", 5)
	stuck := model.NewPacket("self", model.PacketSOS, model.PriorityCritical, "stuck", 5)
	idSent, err := outbox.Add(sent)
	require.NoError(t, err)
	idStuck, err := outbox.Add(stuck)
	require.NoError(t, err)

	require.NoError(t, outbox.MarkPicked(idSent))
	require.NoError(t, outbox.MarkPicked(idStuck))
	require.NoError(t, outbox.Settle(sent.ID))
	require.NoError(t, outbox.Settle("not-from-outbox"))

	n, err := outbox.Requeue()
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	pending, err := outbox.Pending(10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, stuck.ID, pending[0].Packet.ID)
}

func TestDeliveredStorageIgnoresRedelivery(t *testing.T) {
	delivered := NewDeliveredStorage(openTestDB(t))

	p := model.NewPacket("n0", model.PacketSOS, model.PriorityHigh, "need water", 5).AddHop("n1")
	require.NoError(t, delivered.Deliver(p))
	require.NoError(t, delivered.Deliver(p))

	list, err := delivered.List(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0].Packet
	assert.Equal(t, p.ID, got.ID)
	assert.Equal(t, "n0", got.OriginatorID)
	assert.Equal(t, model.PacketSOS, got.Type)
	assert.Equal(t, model.PriorityHigh, got.Priority)
	assert.Equal(t, []string{"n0", "n1"}, got.Trace)
	assert.Equal(t, "need water", got.Payload)
}

func TestRouteStorageReplaceAndLoad(t *testing.T) {
	routes := NewRouteStorage(openTestDB(t))
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, routes.Replace([]model.RoutingEntry{
		{DestinationID: "b", NextHopID: "b", HopCount: 2, Score: 55, LastUpdated: now, IsActive: true, SuccessCount: 1},
		{DestinationID: "a", NextHopID: "a", HopCount: 1, Score: 10, LastUpdated: now, FailureCount: 5, FailureStreak: 5},
	}))

	loaded, err := routes.Load()
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, "a", loaded[0].DestinationID)
	assert.False(t, loaded[0].IsActive)
	assert.Equal(t, 5, loaded[0].FailureStreak)
	assert.Equal(t, 55.0, loaded[1].Score)
	assert.True(t, loaded[1].LastUpdated.Equal(now))

	require.NoError(t, routes.Replace(nil))
	loaded, err = routes.Load()
	require.NoError(t, err)
	assert.Empty(t, loaded)
}
