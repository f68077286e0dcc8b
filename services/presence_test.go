package services

import (
	"context"
	"testing"
	"time"

	"cairn/config"
	"cairn/docstore"
	"cairn/models"
	"cairn/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSweepDemotesStaleDevices(t *testing.T) {
	store := docstore.NewMemoryStore(schema.Default())
	cfg := &config.Config{
		PresenceSweepEvery:   time.Minute,
		PresenceOfflineAfter: 15 * time.Minute,
	}
	presence := NewPresenceService(store, cfg, zap.NewNop())
	ctx := context.Background()

	now := time.Now().UTC()
	devices := []models.Device{
		{SerialNumber: "FRESH-1", Status: models.DeviceActive, LastSyncAt: now.Add(-time.Minute)},
		{SerialNumber: "STALE-1", Status: models.DeviceActive, LastSyncAt: now.Add(-time.Hour)},
		{SerialNumber: "IDLE-1", Status: models.DeviceInactive, LastSyncAt: now.Add(-time.Hour)},
	}
	for _, d := range devices {
		d.CreatedAt = now
		require.NoError(t, store.Create(ctx, docstore.KindDevice, d.SerialNumber, d))
	}

	presence.Sweep(ctx)

	var fresh, stale, idle models.Device
	require.NoError(t, store.Get(ctx, docstore.KindDevice, "FRESH-1", &fresh))
	require.NoError(t, store.Get(ctx, docstore.KindDevice, "STALE-1", &stale))
	require.NoError(t, store.Get(ctx, docstore.KindDevice, "IDLE-1", &idle))

	assert.Equal(t, models.DeviceActive, fresh.Status)
	assert.Equal(t, models.DeviceInactive, stale.Status, "silent device is demoted")
	assert.Equal(t, models.DeviceInactive, idle.Status)
}
