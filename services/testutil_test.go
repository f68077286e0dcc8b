package services

import (
	"sync"

	"cairn/models"
)

// fakeNotifier records outbound chat messages, optionally failing for
// selected chats.
type fakeNotifier struct {
	mu      sync.Mutex
	sends   []sentMessage
	failFor map[int64]error
}

type sentMessage struct {
	ChatID  int64
	Message string
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{failFor: make(map[int64]error)}
}

func (f *fakeNotifier) Send(chatID int64, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.failFor[chatID]; ok {
		return err
	}
	f.sends = append(f.sends, sentMessage{ChatID: chatID, Message: message})
	return nil
}

func (f *fakeNotifier) sent() []sentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentMessage(nil), f.sends...)
}

func (f *fakeNotifier) sentTo(chatID int64) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	var messages []string
	for _, s := range f.sends {
		if s.ChatID == chatID {
			messages = append(messages, s.Message)
		}
	}
	return messages
}

// fakePublisher records status requests pushed toward devices.
type fakePublisher struct {
	mu        sync.Mutex
	published []publishedRequest
	err       error
}

type publishedRequest struct {
	Serial  string
	Request models.StatusRequest
}

func (f *fakePublisher) PublishStatusRequest(serial string, req models.StatusRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, publishedRequest{Serial: serial, Request: req})
	return nil
}

func (f *fakePublisher) requests() []publishedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publishedRequest(nil), f.published...)
}

func floatPtr(f float64) *float64 { return &f }
func intPtr(n int) *int           { return &n }
