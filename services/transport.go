package services

import (
	"cairn/models"
)

// InboundMessage is one raw transport delivery: an opaque topic plus
// payload bytes. Both the MQTT callback and the AMQP bridge produce
// these; the Router consumes them from a single channel.
type InboundMessage struct {
	Topic   string
	Payload []byte
}

// Notifier sends a formatted message to a chat identifier. Sends are
// fire-and-forget with a success/failure result.
type Notifier interface {
	Send(chatID int64, message string) error
}

// DevicePublisher publishes a status request addressed to a device.
type DevicePublisher interface {
	PublishStatusRequest(serial string, req models.StatusRequest) error
}
