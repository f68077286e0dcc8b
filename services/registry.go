package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cairn/docstore"
	"cairn/models"

	"github.com/google/uuid"
	cache "github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// DeviceRegistry resolves reporting devices to stored records and their
// active ownership pairing, and owns the registration lifecycle.
type DeviceRegistry struct {
	store      docstore.Store
	ownerCache *cache.Cache
	logger     *zap.Logger
}

func NewDeviceRegistry(store docstore.Store, ownerTTL time.Duration, logger *zap.Logger) *DeviceRegistry {
	return &DeviceRegistry{
		store:      store,
		ownerCache: cache.New(ownerTTL, 2*ownerTTL),
		logger:     logger,
	}
}

// ResolveDevice looks a device up by its exact serial number.
func (r *DeviceRegistry) ResolveDevice(ctx context.Context, serial string) (*models.Device, error) {
	var device models.Device
	if err := r.store.Get(ctx, docstore.KindDevice, serial, &device); err != nil {
		return nil, err
	}
	return &device, nil
}

// ResolveOwner returns the user behind the device's single active
// pairing. models.ErrUnpaired means telemetry for the device must be
// discarded upstream.
func (r *DeviceRegistry) ResolveOwner(ctx context.Context, serial string) (string, error) {
	if cached, ok := r.ownerCache.Get(serial); ok {
		return cached.(string), nil
	}

	var pairings []models.Pairing
	err := r.store.Query(ctx, docstore.KindPairing, docstore.Filter{
		"device_serial":  serial,
		"pairing_status": models.PairingActive,
	}, &pairings)
	if err != nil {
		return "", fmt.Errorf("resolve owner of %s: %w", serial, err)
	}
	if len(pairings) == 0 {
		return "", models.ErrUnpaired
	}

	userID := pairings[0].UserID
	r.ownerCache.Set(serial, userID, cache.DefaultExpiration)
	return userID, nil
}

// HandleStatus applies a device status message. The status and
// last-sync update is unconditional and idempotent; a first
// inactive->active transition additionally triggers auto-pairing.
func (r *DeviceRegistry) HandleStatus(ctx context.Context, serial string, msg models.StatusMessage) error {
	device, err := r.ResolveDevice(ctx, serial)
	if err != nil {
		return fmt.Errorf("status update for %s: %w", serial, err)
	}

	status := msg.Status
	if status == "" {
		status = string(models.DeviceActive)
	}

	if device.Status == models.DeviceInactive && status == string(models.DeviceActive) {
		r.logger.Info("Device connected for the first time",
			zap.String("device_serial", serial))
		r.autoPair(ctx, serial)
	}

	fields := map[string]any{
		"status":       status,
		"last_sync_at": time.Now().UTC(),
	}
	if msg.BatteryLevel != nil {
		fields["battery_level"] = *msg.BatteryLevel
	}

	if err := r.store.Update(ctx, docstore.KindDevice, serial, fields); err != nil {
		return fmt.Errorf("status update for %s: %w", serial, err)
	}

	r.logger.Info("Device status updated",
		zap.String("device_serial", serial),
		zap.String("status", status))
	return nil
}

// autoPair runs when a device activates without a pairing on record.
// No owner identity is available at this transition, so it logs a
// pending-manual-pairing condition instead of guessing one.
func (r *DeviceRegistry) autoPair(ctx context.Context, serial string) {
	var pairings []models.Pairing
	err := r.store.Query(ctx, docstore.KindPairing, docstore.Filter{
		"device_serial": serial,
	}, &pairings)
	if err != nil {
		r.logger.Error("Failed to look up pairings for auto-pair",
			zap.String("device_serial", serial),
			zap.Error(err))
		return
	}

	if len(pairings) > 0 {
		r.logger.Debug("Pairing already exists, auto-pair skipped",
			zap.String("device_serial", serial))
		return
	}

	r.logger.Info("Auto-pairing pending manual registration",
		zap.String("device_serial", serial))
}

// Register pairs a device to a user, creating the device record on
// first registration. Re-registering a device the user previously
// unpaired reactivates the existing pairing instead of creating a
// duplicate.
func (r *DeviceRegistry) Register(ctx context.Context, userID, serial string) error {
	device, err := r.ResolveDevice(ctx, serial)
	switch {
	case errors.Is(err, models.ErrNotFound):
		newDevice := models.Device{
			SerialNumber: serial,
			Status:       models.DeviceInactive, // becomes active when the device connects
			BatteryLevel: 100,
			Settings:     map[string]any{"sync_interval": 300},
			CreatedAt:    time.Now().UTC(),
		}
		if err := r.store.Create(ctx, docstore.KindDevice, serial, newDevice); err != nil {
			return fmt.Errorf("create device %s: %w", serial, err)
		}
		r.logger.Info("Device record created", zap.String("device_serial", serial))
	case err != nil:
		return fmt.Errorf("register %s: %w", serial, err)
	case device.Status == models.DeviceRetired:
		return fmt.Errorf("register %s: device is retired", serial)
	}

	// A device may have at most one active pairing, so any active
	// pairing blocks registration regardless of which user holds it.
	var active []models.Pairing
	err = r.store.Query(ctx, docstore.KindPairing, docstore.Filter{
		"device_serial":  serial,
		"pairing_status": models.PairingActive,
	}, &active)
	if err != nil {
		return fmt.Errorf("register %s: %w", serial, err)
	}
	if len(active) > 0 {
		if active[0].UserID == userID {
			return models.ErrAlreadyRegistered
		}
		return models.ErrPairedElsewhere
	}

	var unpaired []models.Pairing
	err = r.store.Query(ctx, docstore.KindPairing, docstore.Filter{
		"device_serial":  serial,
		"user_id":        userID,
		"pairing_status": models.PairingUnpaired,
	}, &unpaired)
	if err != nil {
		return fmt.Errorf("register %s: %w", serial, err)
	}

	if len(unpaired) > 0 {
		err := r.store.Update(ctx, docstore.KindPairing, unpaired[0].ID, map[string]any{
			"pairing_status": models.PairingActive,
			"paired_at":      time.Now().UTC(),
			"unpaired_at":    nil,
		})
		if err != nil {
			return fmt.Errorf("reactivate pairing for %s: %w", serial, err)
		}
		r.ownerCache.Delete(serial)
		r.logger.Info("Pairing reactivated",
			zap.String("device_serial", serial),
			zap.String("user_id", userID))
		return nil
	}

	pairing := models.Pairing{
		ID:           uuid.NewString(),
		UserID:       userID,
		DeviceSerial: serial,
		Status:       models.PairingActive,
		Method:       "manual",
		PairedAt:     time.Now().UTC(),
	}
	if err := r.store.Create(ctx, docstore.KindPairing, pairing.ID, pairing); err != nil {
		return fmt.Errorf("create pairing for %s: %w", serial, err)
	}

	r.ownerCache.Delete(serial)
	r.logger.Info("Device registered",
		zap.String("device_serial", serial),
		zap.String("user_id", userID))
	return nil
}

// Unregister moves the user's active pairing to unpaired. The pairing
// record is kept as history.
func (r *DeviceRegistry) Unregister(ctx context.Context, userID, serial string) error {
	var pairings []models.Pairing
	err := r.store.Query(ctx, docstore.KindPairing, docstore.Filter{
		"device_serial":  serial,
		"user_id":        userID,
		"pairing_status": models.PairingActive,
	}, &pairings)
	if err != nil {
		return fmt.Errorf("unregister %s: %w", serial, err)
	}
	if len(pairings) == 0 {
		return models.ErrNotFound
	}

	err = r.store.Update(ctx, docstore.KindPairing, pairings[0].ID, map[string]any{
		"pairing_status": models.PairingUnpaired,
		"unpaired_at":    time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("unregister %s: %w", serial, err)
	}

	r.ownerCache.Delete(serial)
	r.logger.Info("Device unregistered",
		zap.String("device_serial", serial),
		zap.String("user_id", userID))
	return nil
}

// ActiveDeviceForUser returns the user's currently active device: an
// active pairing whose device record is itself active.
func (r *DeviceRegistry) ActiveDeviceForUser(ctx context.Context, userID string) (*models.Device, error) {
	var pairings []models.Pairing
	err := r.store.Query(ctx, docstore.KindPairing, docstore.Filter{
		"user_id":        userID,
		"pairing_status": models.PairingActive,
	}, &pairings)
	if err != nil {
		return nil, fmt.Errorf("active device for %s: %w", userID, err)
	}

	for _, pairing := range pairings {
		device, err := r.ResolveDevice(ctx, pairing.DeviceSerial)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if device.Status == models.DeviceActive {
			return device, nil
		}
	}

	return nil, models.ErrNoActiveDevice
}
