package models

import (
	"fmt"
	"time"
)

// StatusRequest is published to a device when an emergency contact asks
// for a live status check. The device echoes chat_id and user_id back
// in its response so the reply can be routed to the requester.
type StatusRequest struct {
	ChatID    int64  `json:"chat_id"`
	UserID    string `json:"user_id"`
	UserName  string `json:"user_name"`
	Timestamp string `json:"timestamp"`
}

// StatusResponse is the device's answer to a StatusRequest.
type StatusResponse struct {
	ChatID       int64    `json:"chat_id"`
	UserID       string   `json:"user_id"`
	UserName     string   `json:"user_name"`
	SessionID    string   `json:"session_id,omitempty"`
	SessionState string   `json:"session_state,omitempty"`
	Alt          *float64 `json:"alt,omitempty"`
	Temperature  *float64 `json:"temp,omitempty"`
	Humidity     *float64 `json:"humidity,omitempty"`
	Latitude     *float64 `json:"latitude,omitempty"`
	Longitude    *float64 `json:"longitude,omitempty"`
}

// PendingStatusRequest lives only in memory while a status check is in
// flight. It is removed by whichever of the device response or the
// timeout watcher wins the race; exactly one of the two may act on it.
type PendingStatusRequest struct {
	ChatID    int64
	UserID    string
	UserName  string
	CreatedAt time.Time
}

// DeliveryReport summarizes one alert fan-out. Partial failure is a
// degraded success, not an error.
type DeliveryReport struct {
	TotalContacts  int
	SentCount      int
	FailedContacts []string
}

// NoRecipients reports whether the user had no active contacts to
// notify. This is an expected operational state.
func (r DeliveryReport) NoRecipients() bool {
	return r.TotalContacts == 0
}

// Summary renders the report for logs.
func (r DeliveryReport) Summary() string {
	if r.NoRecipients() {
		return "no emergency contacts configured"
	}
	return fmt.Sprintf("alert sent to %d of %d contacts", r.SentCount, r.TotalContacts)
}
