package models

import "time"

// SessionState is the lifecycle state of a climbing session. END is
// terminal; INCIDENT is treated as terminal but later telemetry may
// still overwrite fields and append events.
type SessionState string

const (
	SessionStart    SessionState = "START"
	SessionActive   SessionState = "ACTIVE"
	SessionEnd      SessionState = "END"
	SessionIncident SessionState = "INCIDENT"
)

// Known reports whether s is one of the states in the transition table.
func (s SessionState) Known() bool {
	switch s {
	case SessionStart, SessionActive, SessionEnd, SessionIncident:
		return true
	}
	return false
}

// Open reports whether the session still expects telemetry.
func (s SessionState) Open() bool {
	return s == SessionStart || s == SessionActive
}

// ClimbingSession is one bounded episode of device-reported activity.
// Its identifier is supplied by the device and correlates all telemetry
// for the episode.
type ClimbingSession struct {
	SessionID    string       `json:"session_id" firestore:"session_id"`
	UserID       string       `json:"user_id" firestore:"user_id"`
	DeviceSerial string       `json:"device_serial" firestore:"device_serial"`
	State        SessionState `json:"session_state" firestore:"session_state"`
	StartAlt     *float64     `json:"start_alt,omitempty" firestore:"start_alt,omitempty"`
	EndAlt       *float64     `json:"end_alt,omitempty" firestore:"end_alt,omitempty"`
	Temperature  *float64     `json:"temp,omitempty" firestore:"temp,omitempty"`
	Humidity     *float64     `json:"humidity,omitempty" firestore:"humidity,omitempty"`
	Latitude     *float64     `json:"latitude,omitempty" firestore:"latitude,omitempty"`
	Longitude    *float64     `json:"longitude,omitempty" firestore:"longitude,omitempty"`
	StartedAt    time.Time    `json:"start_at" firestore:"start_at"`
	EndedAt      *time.Time   `json:"end_at,omitempty" firestore:"end_at,omitempty"`
}

// SessionEvent is an immutable per-sample record. Exactly one is
// appended for every valid telemetry message, whether or not the
// session-level transition was a no-op. Altitude is optional: devices
// may omit it on a sample.
type SessionEvent struct {
	ID           string    `json:"id" firestore:"id"`
	SessionID    string    `json:"session_id" firestore:"session_id"`
	DeviceSerial string    `json:"device_serial" firestore:"device_serial"`
	Alt          *float64  `json:"alt,omitempty" firestore:"alt,omitempty"`
	CreatedAt    time.Time `json:"create_at" firestore:"create_at"`
}

// TelemetryMessage is one sampled point of an activity session as
// reported by the device.
type TelemetryMessage struct {
	SessionID    string   `json:"session_id"`
	SessionState string   `json:"session_state"`
	Alt          *float64 `json:"alt,omitempty"`
	Temperature  *float64 `json:"temp,omitempty"`
	Humidity     *float64 `json:"humidity,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
}

// Location returns the message's geolocation sample.
func (m *TelemetryMessage) Location() Location {
	return Location{
		Latitude:  m.Latitude,
		Longitude: m.Longitude,
		Altitude:  m.Alt,
	}
}

// Location is a point sample; any coordinate may be missing.
type Location struct {
	Latitude  *float64
	Longitude *float64
	Altitude  *float64
}
