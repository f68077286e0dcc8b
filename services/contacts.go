package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cairn/docstore"
	"cairn/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ContactService manages a user's emergency contact list. Removal is
// soft by default so delivery history stays attributable; PurgeContact
// is the only hard-delete path.
type ContactService struct {
	store  docstore.Store
	logger *zap.Logger
}

func NewContactService(store docstore.Store, logger *zap.Logger) *ContactService {
	return &ContactService{
		store:  store,
		logger: logger,
	}
}

// CreateContact stores a new active contact for the user, filling
// defaults for omitted fields.
func (c *ContactService) CreateContact(ctx context.Context, contact models.EmergencyContact) (*models.EmergencyContact, error) {
	if contact.UserID == "" || contact.Name == "" || contact.Phone == "" {
		return nil, fmt.Errorf("contact requires user_id, name and phone")
	}

	contact.ID = uuid.NewString()
	if contact.Relationship == "" {
		contact.Relationship = "other"
	}
	if contact.Priority == 0 {
		contact.Priority = 1
	}
	contact.Active = true
	contact.CreatedAt = time.Now().UTC()

	if err := c.store.Create(ctx, docstore.KindContact, contact.ID, contact); err != nil {
		return nil, fmt.Errorf("create contact for %s: %w", contact.UserID, err)
	}

	c.logger.Info("Emergency contact created",
		zap.String("user_id", contact.UserID),
		zap.String("contact_name", contact.Name))
	return &contact, nil
}

// ListContacts returns the user's active contacts ordered by priority.
func (c *ContactService) ListContacts(ctx context.Context, userID string) ([]models.EmergencyContact, error) {
	var contacts []models.EmergencyContact
	err := c.store.Query(ctx, docstore.KindContact, docstore.Filter{
		"user_id":   userID,
		"is_active": true,
	}, &contacts)
	if err != nil {
		return nil, fmt.Errorf("contacts for %s: %w", userID, err)
	}

	sort.Slice(contacts, func(i, j int) bool {
		return contacts[i].Priority < contacts[j].Priority
	})
	return contacts, nil
}

// DeactivateContact soft-deletes a contact so it stops receiving
// alerts.
func (c *ContactService) DeactivateContact(ctx context.Context, contactID string) error {
	err := c.store.Update(ctx, docstore.KindContact, contactID, map[string]any{
		"is_active": false,
	})
	if err != nil {
		return fmt.Errorf("deactivate contact %s: %w", contactID, err)
	}

	c.logger.Info("Emergency contact deactivated", zap.String("contact_id", contactID))
	return nil
}

// PurgeContact permanently removes a contact record.
func (c *ContactService) PurgeContact(ctx context.Context, contactID string) error {
	if err := c.store.Delete(ctx, docstore.KindContact, contactID); err != nil {
		return fmt.Errorf("purge contact %s: %w", contactID, err)
	}

	c.logger.Info("Emergency contact purged", zap.String("contact_id", contactID))
	return nil
}
