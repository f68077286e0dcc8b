package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cairn/docstore"
	"cairn/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// SessionService owns the climbing-session lifecycle. Inbound telemetry
// drives the state machine; every valid message additionally appends
// exactly one immutable SessionEvent, whether or not the session-level
// transition was a no-op.
type SessionService struct {
	store  docstore.Store
	alerts *AlertDispatcher
	logger *zap.Logger
}

func NewSessionService(store docstore.Store, alerts *AlertDispatcher, logger *zap.Logger) *SessionService {
	return &SessionService{
		store:  store,
		alerts: alerts,
		logger: logger,
	}
}

// HandleTelemetry applies one telemetry message for a device already
// resolved to its owning user. Messages missing their session
// identifier or state label are invalid and produce no side effects.
func (s *SessionService) HandleTelemetry(ctx context.Context, serial, userID string, msg models.TelemetryMessage) error {
	if msg.SessionID == "" || msg.SessionState == "" {
		return fmt.Errorf("telemetry missing session_id or session_state")
	}

	state := models.SessionState(msg.SessionState)
	if !state.Known() {
		return fmt.Errorf("unknown session_state %q", msg.SessionState)
	}

	s.logger.Info("Processing telemetry",
		zap.String("device_serial", serial),
		zap.String("session_id", msg.SessionID),
		zap.String("session_state", string(state)))

	switch state {
	case models.SessionStart:
		return s.handleStart(ctx, serial, userID, msg)
	case models.SessionActive:
		return s.handleActive(ctx, serial, msg)
	case models.SessionEnd:
		return s.handleEnd(ctx, serial, msg)
	default:
		return s.handleIncident(ctx, serial, userID, msg)
	}
}

func (s *SessionService) handleStart(ctx context.Context, serial, userID string, msg models.TelemetryMessage) error {
	var existing models.ClimbingSession
	err := s.store.Get(ctx, docstore.KindSession, msg.SessionID, &existing)
	if err == nil {
		// Duplicate START: keep the session as-is but still record the
		// sample.
		s.logger.Warn("START for existing session, skipping creation",
			zap.String("session_id", msg.SessionID))
		return s.appendEvent(ctx, serial, msg)
	}
	if !errors.Is(err, models.ErrNotFound) {
		return err
	}

	session := models.ClimbingSession{
		SessionID:    msg.SessionID,
		UserID:       userID,
		DeviceSerial: serial,
		State:        models.SessionStart,
		StartAlt:     msg.Alt,
		Temperature:  msg.Temperature,
		Humidity:     msg.Humidity,
		Latitude:     msg.Latitude,
		Longitude:    msg.Longitude,
		StartedAt:    time.Now().UTC(),
	}
	if err := s.store.Create(ctx, docstore.KindSession, msg.SessionID, session); err != nil {
		return fmt.Errorf("create session %s: %w", msg.SessionID, err)
	}

	s.logger.Info("Created climbing session",
		zap.String("session_id", msg.SessionID),
		zap.String("user_id", userID))

	return s.appendEvent(ctx, serial, msg)
}

func (s *SessionService) handleActive(ctx context.Context, serial string, msg models.TelemetryMessage) error {
	session, err := s.GetSession(ctx, msg.SessionID)
	if err != nil {
		return fmt.Errorf("ACTIVE for session %s: %w", msg.SessionID, err)
	}

	if session.State != models.SessionActive {
		err := s.store.Update(ctx, docstore.KindSession, msg.SessionID, map[string]any{
			"session_state": models.SessionActive,
		})
		if err != nil {
			return fmt.Errorf("activate session %s: %w", msg.SessionID, err)
		}
		s.logger.Info("Session state set to ACTIVE", zap.String("session_id", msg.SessionID))
	} else {
		s.logger.Debug("Session already ACTIVE", zap.String("session_id", msg.SessionID))
	}

	return s.appendEvent(ctx, serial, msg)
}

func (s *SessionService) handleEnd(ctx context.Context, serial string, msg models.TelemetryMessage) error {
	if _, err := s.GetSession(ctx, msg.SessionID); err != nil {
		return fmt.Errorf("END for session %s: %w", msg.SessionID, err)
	}

	err := s.store.Update(ctx, docstore.KindSession, msg.SessionID, map[string]any{
		"session_state": models.SessionEnd,
		"end_alt":       msg.Alt,
		"end_at":        time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("end session %s: %w", msg.SessionID, err)
	}

	s.logger.Info("Session ended", zap.String("session_id", msg.SessionID))

	return s.appendEvent(ctx, serial, msg)
}

func (s *SessionService) handleIncident(ctx context.Context, serial, userID string, msg models.TelemetryMessage) error {
	if _, err := s.GetSession(ctx, msg.SessionID); err != nil {
		return fmt.Errorf("INCIDENT for session %s: %w", msg.SessionID, err)
	}

	err := s.store.Update(ctx, docstore.KindSession, msg.SessionID, map[string]any{
		"session_state": models.SessionIncident,
	})
	if err != nil {
		return fmt.Errorf("mark incident for session %s: %w", msg.SessionID, err)
	}

	s.logger.Warn("Session incident reported",
		zap.String("session_id", msg.SessionID),
		zap.String("device_serial", serial),
		zap.String("user_id", userID))

	if err := s.appendEvent(ctx, serial, msg); err != nil {
		return err
	}

	report, err := s.alerts.DispatchIncident(ctx, userID, msg.SessionID, serial, msg.Location())
	if err != nil {
		s.logger.Error("Incident alert dispatch failed",
			zap.String("session_id", msg.SessionID),
			zap.Error(err))
		return nil
	}

	s.logger.Info("Incident alert dispatched",
		zap.String("session_id", msg.SessionID),
		zap.String("result", report.Summary()))
	return nil
}

// appendEvent records the per-sample trace entry for a telemetry
// message.
func (s *SessionService) appendEvent(ctx context.Context, serial string, msg models.TelemetryMessage) error {
	event := models.SessionEvent{
		ID:           uuid.NewString(),
		SessionID:    msg.SessionID,
		DeviceSerial: serial,
		Alt:          msg.Alt,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.store.Create(ctx, docstore.KindSessionEvent, event.ID, event); err != nil {
		return fmt.Errorf("append event for session %s: %w", msg.SessionID, err)
	}
	return nil
}

// GetSession loads a session by its externally supplied identifier.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (*models.ClimbingSession, error) {
	var session models.ClimbingSession
	if err := s.store.Get(ctx, docstore.KindSession, sessionID, &session); err != nil {
		return nil, err
	}
	return &session, nil
}

// HasOpenSession reports whether the user has any session still in
// START or ACTIVE state.
func (s *SessionService) HasOpenSession(ctx context.Context, userID string) (bool, error) {
	var sessions []models.ClimbingSession
	err := s.store.Query(ctx, docstore.KindSession, docstore.Filter{"user_id": userID}, &sessions)
	if err != nil {
		return false, fmt.Errorf("sessions for %s: %w", userID, err)
	}

	for _, session := range sessions {
		if session.State.Open() {
			return true, nil
		}
	}
	return false, nil
}

// ListEvents returns a session's sampled trace ordered by creation
// time, for replay and visualization by the web layer.
func (s *SessionService) ListEvents(ctx context.Context, sessionID string) ([]models.SessionEvent, error) {
	var events []models.SessionEvent
	err := s.store.Query(ctx, docstore.KindSessionEvent, docstore.Filter{"session_id": sessionID}, &events)
	if err != nil {
		return nil, fmt.Errorf("events for %s: %w", sessionID, err)
	}

	sort.Slice(events, func(i, j int) bool {
		return events[i].CreatedAt.Before(events[j].CreatedAt)
	})
	return events, nil
}
