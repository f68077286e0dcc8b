package models

import "time"

// DeviceStatus is the connectivity/lifecycle status of a field device.
type DeviceStatus string

const (
	DeviceInactive    DeviceStatus = "inactive"
	DeviceActive      DeviceStatus = "active"
	DeviceMaintenance DeviceStatus = "maintenance"
	DeviceRetired     DeviceStatus = "retired"
)

// Device is keyed by its serial number in the document store. Devices
// are never deleted; decommissioned units are moved to "retired".
type Device struct {
	SerialNumber string         `json:"serial_number" firestore:"serial_number"`
	Status       DeviceStatus   `json:"status" firestore:"status"`
	BatteryLevel int            `json:"battery_level" firestore:"battery_level"`
	LastSyncAt   time.Time      `json:"last_sync_at" firestore:"last_sync_at"`
	Settings     map[string]any `json:"settings,omitempty" firestore:"settings,omitempty"`
	CreatedAt    time.Time      `json:"created_at" firestore:"created_at"`
}

// PairingStatus is the lifecycle status of a device-user pairing,
// independent of either the device's or the user's own lifecycle.
type PairingStatus string

const (
	PairingActive    PairingStatus = "active"
	PairingUnpaired  PairingStatus = "unpaired"
	PairingSuspended PairingStatus = "suspended"
	PairingExpired   PairingStatus = "expired"
)

// Pairing links one device to one user. At most one pairing per device
// is active at any time; non-active pairings are kept as history and
// never physically deleted.
type Pairing struct {
	ID           string        `json:"id" firestore:"id"`
	UserID       string        `json:"user_id" firestore:"user_id"`
	DeviceSerial string        `json:"device_serial" firestore:"device_serial"`
	Status       PairingStatus `json:"pairing_status" firestore:"pairing_status"`
	Method       string        `json:"pairing_method" firestore:"pairing_method"`
	PairedAt     time.Time     `json:"paired_at" firestore:"paired_at"`
	UnpairedAt   *time.Time    `json:"unpaired_at,omitempty" firestore:"unpaired_at,omitempty"`
}

// User is created and authenticated by the excluded web layer; the
// engine only reads it to resolve display names.
type User struct {
	ID   string `json:"id" firestore:"id"`
	Name string `json:"name" firestore:"name"`
}

// StatusMessage reports device-level connectivity and health, distinct
// from session telemetry.
type StatusMessage struct {
	Status       string `json:"status"`
	BatteryLevel *int   `json:"battery_level,omitempty"`
}
