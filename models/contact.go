package models

import "time"

// EmergencyContact is a person notified when the owning user's device
// reports an incident. Contacts are soft-deleted via the Active flag;
// hard deletion is a separate explicit purge.
type EmergencyContact struct {
	ID             string    `json:"id" firestore:"id"`
	UserID         string    `json:"user_id" firestore:"user_id"`
	Name           string    `json:"name" firestore:"name"`
	Phone          string    `json:"phone" firestore:"phone"`
	TelegramChatID string    `json:"telegram_chat_id,omitempty" firestore:"telegram_chat_id,omitempty"`
	Relationship   string    `json:"relationship_type" firestore:"relationship_type"`
	Priority       int       `json:"priority" firestore:"priority"`
	Active         bool      `json:"is_active" firestore:"is_active"`
	Notes          string    `json:"notes,omitempty" firestore:"notes,omitempty"`
	CreatedAt      time.Time `json:"created_at" firestore:"created_at"`
}
