package services

import (
	"encoding/json"
	"fmt"
	"time"

	"cairn/config"
	"cairn/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MQTTService owns the device-transport connection. The paho callback
// pushes every delivery onto a buffered channel; the Router consumes
// that channel, keeping transport concerns out of dispatch logic.
type MQTTService struct {
	client  mqtt.Client
	config  *config.Config
	inbound chan InboundMessage
	logger  *zap.Logger
}

func NewMQTTService(cfg *config.Config, logger *zap.Logger) *MQTTService {
	ms := &MQTTService{
		config:  cfg,
		inbound: make(chan InboundMessage, cfg.InboundBufferSize),
		logger:  logger,
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", cfg.MQTTBroker))
	opts.SetClientID(fmt.Sprintf("%s%s", cfg.MQTTClientIDPrefix, uuid.NewString()[:8]))
	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
		opts.SetPassword(cfg.MQTTPassword)
	}
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	// Subscriptions are established here so they survive reconnects.
	opts.OnConnect = ms.onConnect
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		ms.logger.Error("MQTT connection lost", zap.Error(err))
	}

	ms.client = mqtt.NewClient(opts)
	return ms
}

// Connect dials the broker.
func (ms *MQTTService) Connect() error {
	ms.logger.Info("Connecting to MQTT broker", zap.String("broker", ms.config.MQTTBroker))

	if token := ms.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return nil
}

func (ms *MQTTService) onConnect(client mqtt.Client) {
	ms.logger.Info("Connected to MQTT broker", zap.String("broker", ms.config.MQTTBroker))

	prefix := ms.config.MQTTTopicPrefix
	topics := []string{
		fmt.Sprintf("%s/+/status", prefix),
		fmt.Sprintf("%s/+", prefix),
		fmt.Sprintf("%s/+/telegram", prefix),
	}

	for _, topic := range topics {
		if token := client.Subscribe(topic, ms.config.MQTTQoS, ms.onMessage); token.Wait() && token.Error() != nil {
			ms.logger.Error("Failed to subscribe",
				zap.String("topic", topic),
				zap.Error(token.Error()))
			continue
		}
		ms.logger.Info("Subscribed to topic", zap.String("topic", topic))
	}
}

func (ms *MQTTService) onMessage(_ mqtt.Client, msg mqtt.Message) {
	select {
	case ms.inbound <- InboundMessage{Topic: msg.Topic(), Payload: msg.Payload()}:
	default:
		ms.logger.Warn("Inbound buffer full, dropping message",
			zap.String("topic", msg.Topic()))
	}
}

// Inbound returns the channel of raw transport deliveries.
func (ms *MQTTService) Inbound() chan InboundMessage {
	return ms.inbound
}

// PublishStatusRequest sends a status-check request to a device on its
// request topic. A failure here means the request never left the
// service and must be surfaced to the initiating flow.
func (ms *MQTTService) PublishStatusRequest(serial string, req models.StatusRequest) error {
	if !ms.client.IsConnected() {
		return fmt.Errorf("%w: MQTT client not connected", models.ErrTransportUnavailable)
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal status request: %w", err)
	}

	topic := fmt.Sprintf("%s/%s/request", ms.config.MQTTTopicPrefix, serial)
	token := ms.client.Publish(topic, ms.config.MQTTQoS, false, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("%w: publish to %s: %v", models.ErrTransportUnavailable, topic, token.Error())
	}

	ms.logger.Debug("Status request published",
		zap.String("topic", topic),
		zap.String("device_serial", serial))
	return nil
}

// Disconnect closes the broker connection.
func (ms *MQTTService) Disconnect() {
	ms.client.Disconnect(250)
	ms.logger.Info("Disconnected from MQTT broker")
}
