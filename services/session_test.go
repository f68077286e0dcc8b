package services

import (
	"context"
	"testing"
	"time"

	"cairn/docstore"
	"cairn/models"
	"cairn/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestSessions(t *testing.T) (*SessionService, *docstore.MemoryStore, *fakeNotifier) {
	t.Helper()
	store := docstore.NewMemoryStore(schema.Default())
	notifier := newFakeNotifier()
	alerts := NewAlertDispatcher(store, notifier, zap.NewNop())
	return NewSessionService(store, alerts, zap.NewNop()), store, notifier
}

func telemetry(sessionID, state string, alt float64) models.TelemetryMessage {
	return models.TelemetryMessage{
		SessionID:    sessionID,
		SessionState: state,
		Alt:          floatPtr(alt),
		Temperature:  floatPtr(12.5),
		Humidity:     floatPtr(48.0),
		Latitude:     floatPtr(46.5197),
		Longitude:    floatPtr(6.6323),
	}
}

func TestStartCreatesSessionAndEvent(t *testing.T) {
	sessions, _, _ := newTestSessions(t)
	ctx := context.Background()

	err := sessions.HandleTelemetry(ctx, "CAIRN-001", "user-1", telemetry("sess-1", "START", 420))
	require.NoError(t, err)

	session, err := sessions.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStart, session.State)
	assert.Equal(t, "user-1", session.UserID)
	assert.Equal(t, "CAIRN-001", session.DeviceSerial)
	require.NotNil(t, session.StartAlt)
	assert.Equal(t, 420.0, *session.StartAlt)
	assert.Nil(t, session.EndedAt)

	events, err := sessions.ListEvents(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestFullLifecycle(t *testing.T) {
	sessions, _, _ := newTestSessions(t)
	ctx := context.Background()

	require.NoError(t, sessions.HandleTelemetry(ctx, "CAIRN-001", "user-1", telemetry("sess-1", "START", 420)))
	require.NoError(t, sessions.HandleTelemetry(ctx, "CAIRN-001", "user-1", telemetry("sess-1", "ACTIVE", 455)))
	require.NoError(t, sessions.HandleTelemetry(ctx, "CAIRN-001", "user-1", telemetry("sess-1", "ACTIVE", 490)))
	require.NoError(t, sessions.HandleTelemetry(ctx, "CAIRN-001", "user-1", telemetry("sess-1", "END", 510)))

	session, err := sessions.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionEnd, session.State)
	require.NotNil(t, session.StartAlt)
	assert.Equal(t, 420.0, *session.StartAlt)
	require.NotNil(t, session.EndAlt)
	assert.Equal(t, 510.0, *session.EndAlt)
	require.NotNil(t, session.EndedAt)

	events, err := sessions.ListEvents(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, events, 4, "every valid message appends exactly one event")
}

func TestDuplicateStartKeepsSession(t *testing.T) {
	sessions, _, _ := newTestSessions(t)
	ctx := context.Background()

	require.NoError(t, sessions.HandleTelemetry(ctx, "CAIRN-001", "user-1", telemetry("sess-1", "START", 420)))
	require.NoError(t, sessions.HandleTelemetry(ctx, "CAIRN-001", "user-1", telemetry("sess-1", "START", 999)))

	session, err := sessions.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	require.NotNil(t, session.StartAlt)
	assert.Equal(t, 420.0, *session.StartAlt, "second START must not overwrite the session")

	events, err := sessions.ListEvents(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, events, 2, "the duplicate still records its sample")
}

func TestNonStartForUnknownSessionDiscarded(t *testing.T) {
	sessions, _, _ := newTestSessions(t)
	ctx := context.Background()

	for _, state := range []string{"ACTIVE", "END", "INCIDENT"} {
		err := sessions.HandleTelemetry(ctx, "CAIRN-001", "user-1", telemetry("ghost", state, 400))
		assert.ErrorIs(t, err, models.ErrNotFound, state)
	}

	events, err := sessions.ListEvents(ctx, "ghost")
	require.NoError(t, err)
	assert.Empty(t, events, "discarded messages leave no trace")
}

func TestInvalidTelemetryRejected(t *testing.T) {
	sessions, _, _ := newTestSessions(t)
	ctx := context.Background()

	assert.Error(t, sessions.HandleTelemetry(ctx, "CAIRN-001", "user-1", models.TelemetryMessage{
		SessionState: "START",
	}))
	assert.Error(t, sessions.HandleTelemetry(ctx, "CAIRN-001", "user-1", models.TelemetryMessage{
		SessionID: "sess-1",
	}))
	assert.Error(t, sessions.HandleTelemetry(ctx, "CAIRN-001", "user-1", models.TelemetryMessage{
		SessionID:    "sess-1",
		SessionState: "PAUSED",
	}))
}

func TestIncidentDispatchesAlerts(t *testing.T) {
	sessions, store, notifier := newTestSessions(t)
	ctx := context.Background()

	seedUser(t, store, "user-1", "Alex")
	require.NoError(t, store.Create(ctx, docstore.KindContact, "contact-1", models.EmergencyContact{
		ID:             "contact-1",
		UserID:         "user-1",
		Name:           "Sam",
		Phone:          "+41790000000",
		TelegramChatID: "12345",
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	}))

	require.NoError(t, sessions.HandleTelemetry(ctx, "CAIRN-001", "user-1", telemetry("sess-1", "START", 420)))
	require.NoError(t, sessions.HandleTelemetry(ctx, "CAIRN-001", "user-1", telemetry("sess-1", "INCIDENT", 480)))

	session, err := sessions.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionIncident, session.State)

	messages := notifier.sentTo(12345)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "EMERGENCY ALERT")
	assert.Contains(t, messages[0], "Alex")
	assert.Contains(t, messages[0], "CAIRN-001")
}

func TestHasOpenSession(t *testing.T) {
	sessions, _, _ := newTestSessions(t)
	ctx := context.Background()

	open, err := sessions.HasOpenSession(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, open)

	require.NoError(t, sessions.HandleTelemetry(ctx, "CAIRN-001", "user-1", telemetry("sess-1", "START", 420)))

	open, err = sessions.HasOpenSession(ctx, "user-1")
	require.NoError(t, err)
	assert.True(t, open)

	require.NoError(t, sessions.HandleTelemetry(ctx, "CAIRN-001", "user-1", telemetry("sess-1", "END", 500)))

	open, err = sessions.HasOpenSession(ctx, "user-1")
	require.NoError(t, err)
	assert.False(t, open)
}

func TestListEventsOrderedByTime(t *testing.T) {
	sessions, store, _ := newTestSessions(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, offset := range []time.Duration{2 * time.Second, 0, time.Second} {
		event := models.SessionEvent{
			ID:           string(rune('a' + i)),
			SessionID:    "sess-1",
			DeviceSerial: "CAIRN-001",
			CreatedAt:    base.Add(offset),
		}
		require.NoError(t, store.Create(ctx, docstore.KindSessionEvent, event.ID, event))
	}

	events, err := sessions.ListEvents(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.True(t, events[0].CreatedAt.Before(events[1].CreatedAt))
	assert.True(t, events[1].CreatedAt.Before(events[2].CreatedAt))
}
