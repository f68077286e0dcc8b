package services

import (
	"context"
	"time"

	"cairn/config"
	"cairn/docstore"
	"cairn/models"

	"go.uber.org/zap"
)

// PresenceService periodically demotes devices that stopped reporting.
// A device whose last sync is older than the offline threshold moves
// from active back to inactive, so status checks and dashboards do not
// trust a stale connection.
type PresenceService struct {
	store  docstore.Store
	config *config.Config
	logger *zap.Logger
}

func NewPresenceService(store docstore.Store, cfg *config.Config, logger *zap.Logger) *PresenceService {
	return &PresenceService{
		store:  store,
		config: cfg,
		logger: logger,
	}
}

// Run sweeps on a fixed interval until ctx is cancelled.
func (p *PresenceService) Run(ctx context.Context) {
	ticker := time.NewTicker(p.config.PresenceSweepEvery)
	defer ticker.Stop()

	p.logger.Info("Presence sweeper started",
		zap.Duration("interval", p.config.PresenceSweepEvery),
		zap.Duration("offline_after", p.config.PresenceOfflineAfter))

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Presence sweeper stopped")
			return
		case <-ticker.C:
			p.Sweep(ctx)
		}
	}
}

// Sweep demotes every active device that has been silent past the
// offline threshold.
func (p *PresenceService) Sweep(ctx context.Context) {
	var devices []models.Device
	err := p.store.Query(ctx, docstore.KindDevice, docstore.Filter{
		"status": models.DeviceActive,
	}, &devices)
	if err != nil {
		p.logger.Error("Presence sweep query failed", zap.Error(err))
		return
	}

	cutoff := time.Now().Add(-p.config.PresenceOfflineAfter)
	demoted := 0

	for _, device := range devices {
		if !device.LastSyncAt.Before(cutoff) {
			continue
		}

		err := p.store.Update(ctx, docstore.KindDevice, device.SerialNumber, map[string]any{
			"status": models.DeviceInactive,
		})
		if err != nil {
			p.logger.Error("Failed to demote stale device",
				zap.String("device_serial", device.SerialNumber),
				zap.Error(err))
			continue
		}

		demoted++
		p.logger.Warn("Device marked inactive after silence",
			zap.String("device_serial", device.SerialNumber),
			zap.Time("last_sync_at", device.LastSyncAt))
	}

	if demoted > 0 {
		p.logger.Info("Presence sweep completed",
			zap.Int("checked", len(devices)),
			zap.Int("demoted", demoted))
	}
}
