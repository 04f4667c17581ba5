package tui

import (
	"path/filepath"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/rescuemesh/internal/daemon"
	"github.com/user/rescuemesh/internal/model"
	"github.com/user/rescuemesh/internal/storage"
	"github.com/user/rescuemesh/internal/util"
)

func testEnv(t *testing.T) (*storage.DB, *util.Config) {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "tui.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := util.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.NodeID = "self"
	return db, cfg
}

func TestFetchDashboardData(t *testing.T) {
	db, cfg := testEnv(t)

	require.NoError(t, daemon.WriteStatusFile(cfg.DataDir, &daemon.StatusFile{
		NodeID:      "self",
		HasInternet: true,
		LinkState:   "connected",
		Stats:       model.RelayStats{PacketsSent: 2},
		Neighbors:   []model.NodeInfo{{ID: "n1", Battery: 40}},
	}))
	require.NoError(t, storage.NewEventStorage(db).RecordEvent(model.RelayEvent{
		PacketID: "p1", TargetID: "n1", Status: model.StatusSuccess,
	}))
	_, err := storage.NewOutboxStorage(db).Add(model.NewPacket("self", model.PacketSOS, model.PriorityHigh, "x", 3))
	require.NoError(t, err)

	data, err := fetchDashboardData(db, cfg)
	require.NoError(t, err)
	assert.False(t, data.Running)
	assert.True(t, data.HasInternet)
	assert.Equal(t, "connected", data.LinkState)
	assert.Equal(t, 2, data.Stats.PacketsSent)
	assert.Len(t, data.Neighbors, 1)
	assert.Len(t, data.Events, 1)
	assert.Equal(t, 1, data.Counts[model.StatusSuccess])
	assert.Equal(t, 1, data.OutboxPending)
}

func TestDashboardView(t *testing.T) {
	d := NewDashboard(dataMsg{Data: &DashboardData{
		NodeID:    "self",
		LinkState: "idle",
		Counts:    map[model.RelayStatus]int{model.StatusFailure: 3},
		Neighbors: []model.NodeInfo{{ID: "medic-7", Address: "192.168.49.5", Battery: 80}},
		Events:    []model.RelayEvent{{PacketID: "abcdef123456", Status: model.StatusDropped, Message: "ttl expired"}},
	}}, 100, 40)

	view := d.View()
	assert.Contains(t, view, "RescueMesh :: self")
	assert.Contains(t, view, "medic-7")
	assert.Contains(t, view, "failure 3")
	assert.Contains(t, view, "abcde...")
	assert.Contains(t, view, "ttl expired")
}

func TestDashboardEmpty(t *testing.T) {
	d := NewDashboard(dataMsg{Data: &DashboardData{NodeID: "self"}}, 0, 0)
	view := d.View()
	assert.Contains(t, view, "No neighbors in range")
	assert.Contains(t, view, "No relay activity yet")
}

func TestModelUpdate(t *testing.T) {
	db, cfg := testEnv(t)
	m := newAppModel(db, cfg)

	next, _ := m.Update(dataMsg{Data: &DashboardData{NodeID: "self"}})
	m = next.(appModel)
	assert.True(t, m.ready)

	next, _ = m.Update(tea.WindowSizeMsg{Width: 120, Height: 50})
	m = next.(appModel)
	assert.Equal(t, 120, m.dashboard.width)

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.Equal(t, tea.Quit(), cmd())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 8))
	assert.Equal(t, "lon...", truncate("longvalue", 6))
	assert.Equal(t, "ab", truncate("abcdef", 2))
}
