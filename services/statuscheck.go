package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"cairn/docstore"
	"cairn/models"

	"go.uber.org/zap"
)

type pendingKey struct {
	chatID int64
	userID string
}

// StatusCheckService bridges the chat transport and the device
// transport for on-demand status checks. Each outstanding request is
// tracked in the pending map; the device response and the timeout
// watcher race for the entry, and whichever removes it under the lock
// is the only one allowed to reply.
type StatusCheckService struct {
	store     docstore.Store
	registry  *DeviceRegistry
	sessions  *SessionService
	publisher DevicePublisher
	notifier  Notifier
	timeout   time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	pending map[pendingKey]*models.PendingStatusRequest
}

func NewStatusCheckService(
	store docstore.Store,
	registry *DeviceRegistry,
	sessions *SessionService,
	publisher DevicePublisher,
	notifier Notifier,
	timeout time.Duration,
	logger *zap.Logger,
) *StatusCheckService {
	return &StatusCheckService{
		store:     store,
		registry:  registry,
		sessions:  sessions,
		publisher: publisher,
		notifier:  notifier,
		timeout:   timeout,
		logger:    logger,
		pending:   make(map[pendingKey]*models.PendingStatusRequest),
	}
}

// RequestStatus runs the chat side of the protocol for the emergency
// contact behind chatID. All outcomes are reported back on the chat.
func (s *StatusCheckService) RequestStatus(ctx context.Context, chatID int64) {
	contact, err := s.contactByChat(ctx, chatID)
	if err != nil {
		s.logger.Warn("Status check from unknown chat",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
		s.reply(chatID, "You are not registered as an emergency contact.")
		return
	}

	var user models.User
	if err := s.store.Get(ctx, docstore.KindUser, contact.UserID, &user); err != nil {
		s.logger.Error("Failed to resolve user for status check",
			zap.String("user_id", contact.UserID),
			zap.Error(err))
		s.reply(chatID, "Could not resolve the person you are a contact for.")
		return
	}

	device, err := s.registry.ActiveDeviceForUser(ctx, contact.UserID)
	if err != nil {
		s.logger.Info("Status check with no active device",
			zap.String("user_id", contact.UserID),
			zap.Error(err))
		s.reply(chatID, fmt.Sprintf("<b>%s</b> has no active device right now.", user.Name))
		return
	}

	key := pendingKey{chatID: chatID, userID: user.ID}

	s.mu.Lock()
	if _, exists := s.pending[key]; exists {
		s.mu.Unlock()
		s.reply(chatID, "A status check is already in progress, please wait.")
		return
	}
	s.pending[key] = &models.PendingStatusRequest{
		ChatID:    chatID,
		UserID:    user.ID,
		UserName:  user.Name,
		CreatedAt: time.Now(),
	}
	s.mu.Unlock()

	req := models.StatusRequest{
		ChatID:    chatID,
		UserID:    user.ID,
		UserName:  user.Name,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	if err := s.publisher.PublishStatusRequest(device.SerialNumber, req); err != nil {
		// The request never reached the transport: withdraw the entry so
		// no watcher ever fires for it.
		s.take(key)
		s.logger.Error("Failed to publish status request",
			zap.String("device_serial", device.SerialNumber),
			zap.Error(err))
		s.reply(chatID, "Could not reach the device network. Please try again later.")
		return
	}

	s.logger.Info("Status request dispatched",
		zap.Int64("chat_id", chatID),
		zap.String("user_id", user.ID),
		zap.String("device_serial", device.SerialNumber))

	s.reply(chatID, fmt.Sprintf("Checking live status for <b>%s</b>…", user.Name))

	go s.watch(ctx, key)
}

// HandleDeviceResponse completes a pending request with the device's
// answer. A response whose entry was already removed (timeout won, or
// duplicate) is logged and dropped.
func (s *StatusCheckService) HandleDeviceResponse(ctx context.Context, serial string, resp models.StatusResponse) {
	key := pendingKey{chatID: resp.ChatID, userID: resp.UserID}

	pending, ok := s.take(key)
	if !ok {
		s.logger.Debug("Stale or duplicate status response",
			zap.Int64("chat_id", resp.ChatID),
			zap.String("user_id", resp.UserID),
			zap.String("device_serial", serial))
		return
	}

	s.reply(resp.ChatID, s.formatStatusReply(serial, resp, pending))
	s.logger.Info("Status reply delivered",
		zap.Int64("chat_id", resp.ChatID),
		zap.String("device_serial", serial),
		zap.Duration("round_trip", time.Since(pending.CreatedAt)))
}

// watch fires the timeout half of the race. If the entry is already
// gone the response won and the watcher exits silently.
func (s *StatusCheckService) watch(ctx context.Context, key pendingKey) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		// Shutdown: withdraw the entry so the map stays consistent.
		s.take(key)
		return
	case <-timer.C:
	}

	pending, ok := s.take(key)
	if !ok {
		return
	}

	s.logger.Info("Status request timed out",
		zap.Int64("chat_id", key.chatID),
		zap.String("user_id", key.userID))

	open, err := s.sessions.HasOpenSession(ctx, pending.UserID)
	if err != nil {
		s.logger.Error("Failed to check open sessions after timeout",
			zap.String("user_id", pending.UserID),
			zap.Error(err))
		s.reply(key.chatID, fmt.Sprintf("No response from <b>%s</b>'s device.", pending.UserName))
		return
	}

	if open {
		s.reply(key.chatID, fmt.Sprintf(
			"⚠️ <b>%s</b> has an active session but the device did not answer in time. The device may be unreachable.",
			pending.UserName))
	} else {
		s.reply(key.chatID, fmt.Sprintf(
			"ℹ️ <b>%s</b> has no active session right now.", pending.UserName))
	}
}

// take atomically removes and returns the pending entry for key. The
// caller that gets ok=true owns the reply; everyone else must no-op.
func (s *StatusCheckService) take(key pendingKey) (*models.PendingStatusRequest, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending, ok := s.pending[key]
	if ok {
		delete(s.pending, key)
	}
	return pending, ok
}

// PendingCount reports the number of outstanding requests.
func (s *StatusCheckService) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *StatusCheckService) contactByChat(ctx context.Context, chatID int64) (*models.EmergencyContact, error) {
	var contacts []models.EmergencyContact
	err := s.store.Query(ctx, docstore.KindContact, docstore.Filter{
		"telegram_chat_id": strconv.FormatInt(chatID, 10),
		"is_active":        true,
	}, &contacts)
	if err != nil {
		return nil, fmt.Errorf("contact for chat %d: %w", chatID, err)
	}
	if len(contacts) == 0 {
		return nil, models.ErrNotFound
	}
	return &contacts[0], nil
}

func (s *StatusCheckService) formatStatusReply(serial string, resp models.StatusResponse, pending *models.PendingStatusRequest) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("📍 <b>Live Status: %s</b>\n\n", pending.UserName))

	state := resp.SessionState
	if state == "" {
		state = "UNKNOWN"
	}
	sb.WriteString(fmt.Sprintf("<b>Session State:</b> %s\n", state))
	if resp.SessionID != "" {
		sb.WriteString(fmt.Sprintf("<b>Session ID:</b> <code>%s</code>\n", resp.SessionID))
	}

	if resp.Latitude != nil && resp.Longitude != nil {
		mapsURL := fmt.Sprintf("https://www.google.com/maps?q=%f,%f", *resp.Latitude, *resp.Longitude)
		sb.WriteString(fmt.Sprintf("<b>Location:</b> <a href=\"%s\">View on Google Maps</a>\n", mapsURL))
	} else {
		sb.WriteString("<b>Location:</b> <i>Not available</i>\n")
	}

	if resp.Alt != nil {
		sb.WriteString(fmt.Sprintf("<b>Altitude:</b> %.1f m\n", *resp.Alt))
	}
	if resp.Temperature != nil {
		sb.WriteString(fmt.Sprintf("<b>Temperature:</b> %.1f°C\n", *resp.Temperature))
	}
	if resp.Humidity != nil {
		sb.WriteString(fmt.Sprintf("<b>Humidity:</b> %.1f%%\n", *resp.Humidity))
	}

	sb.WriteString(fmt.Sprintf("\n<b>Device:</b> <code>%s</code>", serial))

	return sb.String()
}

func (s *StatusCheckService) reply(chatID int64, message string) {
	if err := s.notifier.Send(chatID, message); err != nil {
		s.logger.Error("Failed to send chat reply",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
	}
}
