package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"cairn/docstore"
	"cairn/models"

	"go.uber.org/zap"
)

// AlertDispatcher fans an incident notification out to the owning
// user's active emergency contacts. Each delivery succeeds or fails
// independently; there are no retries.
type AlertDispatcher struct {
	store    docstore.Store
	notifier Notifier
	logger   *zap.Logger
}

func NewAlertDispatcher(store docstore.Store, notifier Notifier, logger *zap.Logger) *AlertDispatcher {
	return &AlertDispatcher{
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// DispatchIncident resolves the user's contacts and attempts one send
// per contact. A user with no active contacts yields a no-recipients
// report, not an error.
func (d *AlertDispatcher) DispatchIncident(ctx context.Context, userID, sessionID, deviceSerial string, loc models.Location) (models.DeliveryReport, error) {
	var user models.User
	if err := d.store.Get(ctx, docstore.KindUser, userID, &user); err != nil {
		return models.DeliveryReport{}, fmt.Errorf("resolve user %s: %w", userID, err)
	}

	var contacts []models.EmergencyContact
	err := d.store.Query(ctx, docstore.KindContact, docstore.Filter{
		"user_id":   userID,
		"is_active": true,
	}, &contacts)
	if err != nil {
		return models.DeliveryReport{}, fmt.Errorf("contacts for %s: %w", userID, err)
	}

	if len(contacts) == 0 {
		d.logger.Warn("No emergency contacts configured",
			zap.String("user_id", userID),
			zap.String("session_id", sessionID))
		return models.DeliveryReport{}, nil
	}

	// One message per dispatch, shared by all recipients
	message := d.formatAlertMessage(user.Name, sessionID, deviceSerial, loc)

	report := models.DeliveryReport{TotalContacts: len(contacts)}
	for _, contact := range contacts {
		if contact.TelegramChatID == "" {
			d.logger.Warn("Contact has no chat identifier",
				zap.String("contact_name", contact.Name))
			report.FailedContacts = append(report.FailedContacts, contact.Name)
			continue
		}

		chatID, err := strconv.ParseInt(contact.TelegramChatID, 10, 64)
		if err != nil {
			d.logger.Warn("Contact has an invalid chat identifier",
				zap.String("contact_name", contact.Name),
				zap.String("chat_id", contact.TelegramChatID))
			report.FailedContacts = append(report.FailedContacts, contact.Name)
			continue
		}

		if err := d.notifier.Send(chatID, message); err != nil {
			d.logger.Error("Failed to send alert",
				zap.String("contact_name", contact.Name),
				zap.Error(err))
			report.FailedContacts = append(report.FailedContacts, contact.Name)
			continue
		}

		report.SentCount++
		d.logger.Info("Alert sent to contact", zap.String("contact_name", contact.Name))
	}

	d.logger.Info("Emergency alert completed",
		zap.String("user_id", userID),
		zap.String("session_id", sessionID),
		zap.Int("sent", report.SentCount),
		zap.Int("total", report.TotalContacts))

	return report, nil
}

// formatAlertMessage builds the HTML alert shared by all recipients.
func (d *AlertDispatcher) formatAlertMessage(userName, sessionID, deviceSerial string, loc models.Location) string {
	var sb strings.Builder

	sb.WriteString("🚨 <b>EMERGENCY ALERT</b> 🚨\n\n")
	sb.WriteString(fmt.Sprintf("Incident detected for: <b>%s</b>\n\n", userName))

	sb.WriteString("<b>Location Details:</b>\n")
	if loc.Latitude != nil && loc.Longitude != nil {
		sb.WriteString(fmt.Sprintf("• Latitude: <code>%.6f</code>\n", *loc.Latitude))
		sb.WriteString(fmt.Sprintf("• Longitude: <code>%.6f</code>\n", *loc.Longitude))
		mapsURL := fmt.Sprintf("https://www.google.com/maps?q=%f,%f", *loc.Latitude, *loc.Longitude)
		sb.WriteString(fmt.Sprintf("• <a href=\"%s\">View on Google Maps</a>\n", mapsURL))
	} else {
		sb.WriteString("• Location: <i>Not available</i>\n")
	}

	if loc.Altitude != nil {
		sb.WriteString(fmt.Sprintf("• Altitude: <code>%.1f</code> meters\n", *loc.Altitude))
	}

	sb.WriteString(fmt.Sprintf("\n<b>Device:</b> <code>%s</code>\n", deviceSerial))
	sb.WriteString(fmt.Sprintf("<b>Session ID:</b> <code>%s</code>\n", sessionID))

	return sb.String()
}
