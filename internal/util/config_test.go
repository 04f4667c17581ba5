package util

import (
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func freshViper(t *testing.T) {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	t.Setenv("HOME", t.TempDir())
	t.Setenv("RESCUEMESH_NODE_ID", "medic-7")
}

func TestLoadConfigDefaults(t *testing.T) {
	freshViper(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "medic-7", cfg.NodeID)
	assert.Equal(t, 8888, cfg.ListenPort)
	assert.Equal(t, 15, cfg.LinkRetries)
	assert.Equal(t, 10, cfg.MaxQueueAttempts)
	assert.Equal(t, 500*time.Millisecond, cfg.ScanTimeout)
}

func TestLoadConfigEnvOverridesEveryKey(t *testing.T) {
	freshViper(t)
	t.Setenv("RESCUEMESH_LINK_RETRIES", "7")
	t.Setenv("RESCUEMESH_MAX_QUEUE_ATTEMPTS", "3")
	t.Setenv("RESCUEMESH_BATTERY", "12")
	t.Setenv("RESCUEMESH_ROLE", "medic")
	t.Setenv("RESCUEMESH_TRIAGE_LEVEL", "red")
	t.Setenv("RESCUEMESH_LATITUDE", "52.5")
	t.Setenv("RESCUEMESH_LONGITUDE", "13.4")
	t.Setenv("RESCUEMESH_SCAN_BATCH_SIZE", "50")
	t.Setenv("RESCUEMESH_SCAN_TIMEOUT", "250ms")
	t.Setenv("RESCUEMESH_CONNECTIVITY_INTERVAL", "2m")
	t.Setenv("RESCUEMESH_ROUTE_PRUNE_INTERVAL", "30s")
	t.Setenv("RESCUEMESH_NEIGHBOR_STALE_AFTER", "90s")
	t.Setenv("RESCUEMESH_LOG_FILE", "/tmp/mesh.log")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.LinkRetries)
	assert.Equal(t, 3, cfg.MaxQueueAttempts)
	assert.Equal(t, 12, cfg.Battery)
	assert.Equal(t, "medic", cfg.Role)
	assert.Equal(t, "red", cfg.TriageLevel)
	assert.InDelta(t, 52.5, cfg.Latitude, 1e-9)
	assert.InDelta(t, 13.4, cfg.Longitude, 1e-9)
	assert.Equal(t, 50, cfg.ScanBatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.ScanTimeout)
	assert.Equal(t, 2*time.Minute, cfg.ConnectivityInterval)
	assert.Equal(t, 30*time.Second, cfg.RoutePruneInterval)
	assert.Equal(t, 90*time.Second, cfg.NeighborStaleAfter)
	assert.Equal(t, "/tmp/mesh.log", cfg.LogFile)
}

func TestLoadConfigRejectsOutOfRangeRetries(t *testing.T) {
	freshViper(t)
	t.Setenv("RESCUEMESH_LINK_RETRIES", "31")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "link_retries")
}
