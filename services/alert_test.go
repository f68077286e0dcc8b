package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"cairn/docstore"
	"cairn/models"
	"cairn/schema"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDispatcher(t *testing.T) (*AlertDispatcher, *docstore.MemoryStore, *fakeNotifier) {
	t.Helper()
	store := docstore.NewMemoryStore(schema.Default())
	notifier := newFakeNotifier()
	return NewAlertDispatcher(store, notifier, zap.NewNop()), store, notifier
}

func seedContact(t *testing.T, store docstore.Store, id, userID, name, chatID string) {
	t.Helper()
	err := store.Create(context.Background(), docstore.KindContact, id, models.EmergencyContact{
		ID:             id,
		UserID:         userID,
		Name:           name,
		Phone:          "+41790000000",
		TelegramChatID: chatID,
		Active:         true,
		CreatedAt:      time.Now().UTC(),
	})
	require.NoError(t, err)
}

func TestDispatchIncidentFanOut(t *testing.T) {
	dispatcher, store, notifier := newTestDispatcher(t)
	ctx := context.Background()

	seedUser(t, store, "user-1", "Alex")
	seedContact(t, store, "c1", "user-1", "Sam", "100")
	seedContact(t, store, "c2", "user-1", "Robin", "200")

	loc := models.Location{
		Latitude:  floatPtr(46.5197),
		Longitude: floatPtr(6.6323),
		Altitude:  floatPtr(480),
	}

	report, err := dispatcher.DispatchIncident(ctx, "user-1", "sess-1", "CAIRN-001", loc)
	require.NoError(t, err)
	assert.Equal(t, 2, report.TotalContacts)
	assert.Equal(t, 2, report.SentCount)
	assert.Empty(t, report.FailedContacts)

	require.Len(t, notifier.sentTo(100), 1)
	require.Len(t, notifier.sentTo(200), 1)
	assert.Contains(t, notifier.sentTo(100)[0], "46.519700")
	assert.Contains(t, notifier.sentTo(100)[0], "google.com/maps")
}

func TestDispatchIncidentPartialFailure(t *testing.T) {
	dispatcher, store, notifier := newTestDispatcher(t)
	ctx := context.Background()

	seedUser(t, store, "user-1", "Alex")
	seedContact(t, store, "c1", "user-1", "Sam", "100")
	seedContact(t, store, "c2", "user-1", "Robin", "200")
	seedContact(t, store, "c3", "user-1", "NoChat", "")
	seedContact(t, store, "c4", "user-1", "BadChat", "not-a-number")

	notifier.failFor[200] = errors.New("blocked by user")

	report, err := dispatcher.DispatchIncident(ctx, "user-1", "sess-1", "CAIRN-001", models.Location{})
	require.NoError(t, err, "partial failure is reported, not returned")
	assert.Equal(t, 4, report.TotalContacts)
	assert.Equal(t, 1, report.SentCount)
	assert.ElementsMatch(t, []string{"Robin", "NoChat", "BadChat"}, report.FailedContacts)
	assert.Equal(t, "alert sent to 1 of 4 contacts", report.Summary())
}

func TestDispatchIncidentNoRecipients(t *testing.T) {
	dispatcher, store, notifier := newTestDispatcher(t)
	ctx := context.Background()

	seedUser(t, store, "user-1", "Alex")

	report, err := dispatcher.DispatchIncident(ctx, "user-1", "sess-1", "CAIRN-001", models.Location{})
	require.NoError(t, err)
	assert.True(t, report.NoRecipients())
	assert.Empty(t, notifier.sent())
}

func TestDispatchIncidentSkipsInactiveContacts(t *testing.T) {
	dispatcher, store, notifier := newTestDispatcher(t)
	ctx := context.Background()

	seedUser(t, store, "user-1", "Alex")
	seedContact(t, store, "c1", "user-1", "Sam", "100")
	require.NoError(t, store.Update(ctx, docstore.KindContact, "c1", map[string]any{"is_active": false}))

	report, err := dispatcher.DispatchIncident(ctx, "user-1", "sess-1", "CAIRN-001", models.Location{})
	require.NoError(t, err)
	assert.True(t, report.NoRecipients())
	assert.Empty(t, notifier.sent())
}

func TestDispatchIncidentUnknownUser(t *testing.T) {
	dispatcher, _, _ := newTestDispatcher(t)

	_, err := dispatcher.DispatchIncident(context.Background(), "ghost", "sess-1", "CAIRN-001", models.Location{})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestAlertMessageWithoutLocation(t *testing.T) {
	dispatcher, store, notifier := newTestDispatcher(t)
	ctx := context.Background()

	seedUser(t, store, "user-1", "Alex")
	seedContact(t, store, "c1", "user-1", "Sam", "100")

	_, err := dispatcher.DispatchIncident(ctx, "user-1", "sess-1", "CAIRN-001", models.Location{})
	require.NoError(t, err)

	messages := notifier.sentTo(100)
	require.Len(t, messages, 1)
	assert.Contains(t, messages[0], "Not available")
	assert.NotContains(t, messages[0], "google.com/maps")
}
