package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/mdns"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/rescuemesh/internal/model"
)

func TestNeighborTableKeepsFirstSeenOrder(t *testing.T) {
	mock := clock.NewMock()
	table := NewNeighborTable(mock, time.Minute, "self")

	assert.True(t, table.Upsert(model.NodeInfo{ID: "b", Battery: 10}))
	assert.True(t, table.Upsert(model.NodeInfo{ID: "a", Battery: 20}))
	assert.False(t, table.Upsert(model.NodeInfo{ID: "self"}))

	// re-announcement supersedes the value, not the position
	assert.False(t, table.Upsert(model.NodeInfo{ID: "b", Battery: 90}))

	got := table.Neighbors()
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, 90, got[0].Battery)
	assert.Equal(t, "a", got[1].ID)
}

func TestNeighborTableExpiresStaleEntries(t *testing.T) {
	mock := clock.NewMock()
	table := NewNeighborTable(mock, time.Minute, "self")

	table.Upsert(model.NodeInfo{ID: "old"})
	mock.Add(45 * time.Second)
	table.Upsert(model.NodeInfo{ID: "fresh"})
	mock.Add(30 * time.Second)

	got := table.Neighbors()
	require.Len(t, got, 1)
	assert.Equal(t, "fresh", got[0].ID)
	assert.Equal(t, 2, table.Len())

	assert.Equal(t, []string{"old"}, table.Expire())
	assert.Equal(t, 1, table.Len())

	table.Remove("fresh")
	assert.Empty(t, table.Neighbors())
}

func TestNodeFromEntry(t *testing.T) {
	seen := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	entry := &mdns.ServiceEntry{
		Name:       "rescuemesh-n1._rescuenet._tcp.local.",
		AddrV4:     net.ParseIP("192.168.49.23"),
		Port:       8888,
		InfoFields: []string{"id=n1", "name=Medic", "bat=64", "net=true", "sig=-55", "role=medic"},
	}

	n, err := NodeFromEntry(entry, seen)
	require.NoError(t, err)
	assert.Equal(t, "n1", n.ID)
	assert.Equal(t, "Medic", n.DisplayName)
	assert.Equal(t, "192.168.49.23", n.Address)
	assert.Equal(t, 64, n.Battery)
	assert.True(t, n.HasInternet)
	assert.Equal(t, -55, n.SignalStrength)
	assert.Equal(t, seen, n.LastSeen)

	_, err = NodeFromEntry(&mdns.ServiceEntry{InfoFields: []string{"bat=10"}}, seen)
	assert.Error(t, err)
	_, err = NodeFromEntry(nil, seen)
	assert.Error(t, err)
}

func TestAdvertiserDefersRefreshWhilePaused(t *testing.T) {
	info := model.NodeInfo{ID: "self", DisplayName: "Base", Battery: 77, HasInternet: true}
	a := NewAdvertiser("_rescuenet._tcp", 8888, nil, func() model.NodeInfo { return info })

	a.Pause()
	require.True(t, a.Paused())
	require.NoError(t, a.Refresh())

	a.mu.Lock()
	assert.True(t, a.dirty)
	assert.Nil(t, a.server)
	a.mu.Unlock()

	txt := a.TXT()
	assert.Contains(t, txt, "id=self")
	assert.Contains(t, txt, "bat=77")
	assert.Contains(t, txt, "net=true")
}

func TestInstanceName(t *testing.T) {
	assert.Equal(t, "rescuemesh-node-1-a", instanceName("node.1 a"))
	assert.Equal(t, "rescuemesh-node", instanceName(""))
}
