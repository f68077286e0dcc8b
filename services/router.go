package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cairn/models"

	"go.uber.org/zap"
)

// MessageClass is the routing class parsed from a transport topic.
type MessageClass string

const (
	ClassStatus         MessageClass = "status"
	ClassTelemetry      MessageClass = "telemetry"
	ClassStatusResponse MessageClass = "status-response"
)

// Router demultiplexes inbound transport messages by topic and inbound
// chat messages by command. Each message is handled in total isolation:
// a failure is logged and never stops the loop or affects the next
// message.
type Router struct {
	registry    *DeviceRegistry
	sessions    *SessionService
	statusCheck *StatusCheckService
	notifier    Notifier
	topicPrefix string
	logger      *zap.Logger
}

func NewRouter(
	registry *DeviceRegistry,
	sessions *SessionService,
	statusCheck *StatusCheckService,
	notifier Notifier,
	topicPrefix string,
	logger *zap.Logger,
) *Router {
	return &Router{
		registry:    registry,
		sessions:    sessions,
		statusCheck: statusCheck,
		notifier:    notifier,
		topicPrefix: topicPrefix,
		logger:      logger,
	}
}

// Run consumes inbound transport messages until ctx is cancelled.
func (r *Router) Run(ctx context.Context, inbound <-chan InboundMessage) {
	r.logger.Info("Message router started")

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Message router stopped")
			return
		case msg, ok := <-inbound:
			if !ok {
				r.logger.Warn("Inbound channel closed")
				return
			}
			r.Dispatch(ctx, msg)
		}
	}
}

// Dispatch routes a single raw transport message.
func (r *Router) Dispatch(ctx context.Context, msg InboundMessage) {
	serial, class, err := r.parseTopic(msg.Topic)
	if err != nil {
		r.logger.Warn("Dropping message with unroutable topic",
			zap.String("topic", msg.Topic),
			zap.Error(err))
		return
	}

	switch class {
	case ClassStatus:
		var status models.StatusMessage
		if !r.decode(msg, &status) {
			return
		}
		if err := r.registry.HandleStatus(ctx, serial, status); err != nil {
			r.logger.Warn("Status update failed",
				zap.String("device_serial", serial),
				zap.Error(err))
		}

	case ClassStatusResponse:
		var resp models.StatusResponse
		if !r.decode(msg, &resp) {
			return
		}
		if resp.ChatID == 0 {
			r.logger.Warn("Status response without chat_id",
				zap.String("device_serial", serial))
			return
		}
		r.statusCheck.HandleDeviceResponse(ctx, serial, resp)

	case ClassTelemetry:
		var telemetry models.TelemetryMessage
		if !r.decode(msg, &telemetry) {
			return
		}
		r.handleTelemetry(ctx, serial, telemetry)
	}
}

// handleTelemetry gates session mutations on ownership: telemetry from
// an unknown or unpaired device is discarded with a log and no side
// effects.
func (r *Router) handleTelemetry(ctx context.Context, serial string, msg models.TelemetryMessage) {
	if _, err := r.registry.ResolveDevice(ctx, serial); err != nil {
		r.logger.Warn("Telemetry from unknown device",
			zap.String("device_serial", serial),
			zap.Error(err))
		return
	}

	userID, err := r.registry.ResolveOwner(ctx, serial)
	if err != nil {
		r.logger.Warn("Discarding telemetry from unpaired device",
			zap.String("device_serial", serial),
			zap.Error(err))
		return
	}

	if err := r.sessions.HandleTelemetry(ctx, serial, userID, msg); err != nil {
		r.logger.Warn("Telemetry discarded",
			zap.String("device_serial", serial),
			zap.String("session_id", msg.SessionID),
			zap.Error(err))
	}
}

// parseTopic extracts (device_serial, message_class) from a topic of
// the form prefix/{serial}[/suffix]. A bare prefix/{serial} topic is
// telemetry, and so is any unrecognized suffix.
func (r *Router) parseTopic(topic string) (string, MessageClass, error) {
	parts := strings.Split(topic, "/")
	if len(parts) < 2 || parts[0] != r.topicPrefix {
		return "", "", fmt.Errorf("topic %q does not match prefix %q", topic, r.topicPrefix)
	}
	if parts[1] == "" {
		return "", "", fmt.Errorf("topic %q has an empty device serial", topic)
	}

	serial := parts[1]
	if len(parts) < 3 {
		return serial, ClassTelemetry, nil
	}

	switch parts[2] {
	case "status":
		return serial, ClassStatus, nil
	case "telegram":
		return serial, ClassStatusResponse, nil
	default:
		return serial, ClassTelemetry, nil
	}
}

func (r *Router) decode(msg InboundMessage, out any) bool {
	if err := json.Unmarshal(msg.Payload, out); err != nil {
		r.logger.Warn("Dropping undecodable payload",
			zap.String("topic", msg.Topic),
			zap.Error(err))
		return false
	}
	return true
}

// HandleChat dispatches one inbound chat message. Anything not starting
// with the command prefix is ignored.
func (r *Router) HandleChat(ctx context.Context, chatID int64, text string) {
	if !strings.HasPrefix(text, "/") {
		return
	}

	command := strings.TrimPrefix(strings.Fields(text)[0], "/")
	// Group chats address commands as /status@botname
	if at := strings.Index(command, "@"); at >= 0 {
		command = command[:at]
	}

	r.logger.Info("Chat command received",
		zap.Int64("chat_id", chatID),
		zap.String("command", command))

	switch command {
	case "status":
		r.statusCheck.RequestStatus(ctx, chatID)
	case "start", "help":
		r.sendChat(chatID, "👋 I relay emergency alerts and live status checks.\n\n"+
			"/status - request the current status of the person you are an emergency contact for")
	default:
		r.sendChat(chatID, "Unknown command. Try /status.")
	}
}

func (r *Router) sendChat(chatID int64, message string) {
	if err := r.notifier.Send(chatID, message); err != nil {
		r.logger.Error("Failed to send chat message",
			zap.Int64("chat_id", chatID),
			zap.Error(err))
	}
}
