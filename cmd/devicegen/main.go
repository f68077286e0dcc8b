package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"cairn/models"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	serial       = flag.String("serial", "CAIRN-MOCK-001", "Device serial number")
	mqttBroker   = flag.String("broker", "localhost:1883", "MQTT broker address (host:port)")
	mqttUser     = flag.String("user", "", "MQTT username")
	mqttPass     = flag.String("pass", "", "MQTT password")
	topicPrefix  = flag.String("prefix", "climbing", "Topic prefix")
	sampleEvery  = flag.Duration("sample", 5*time.Second, "Interval between telemetry samples")
	climbSamples = flag.Int("samples", 20, "ACTIVE samples per session before END")
	incidentProb = flag.Float64("incident", 0.0, "Probability a session ends in INCIDENT (0.0-1.0)")
	baseLat      = flag.Float64("lat", 46.5197, "Base latitude")
	baseLon      = flag.Float64("lon", 6.6323, "Base longitude")
)

// MockDevice simulates one field device: it climbs through a session
// lifecycle, reports status heartbeats, and answers live status
// requests the way the firmware does.
type MockDevice struct {
	serial string
	client mqtt.Client
	logger *zap.Logger

	mu           sync.Mutex
	sessionID    string
	sessionState string
	altitude     float64
	latitude     float64
	longitude    float64
	temperature  float64
	humidity     float64
}

func NewMockDevice(serial string, client mqtt.Client, logger *zap.Logger) *MockDevice {
	return &MockDevice{
		serial:      serial,
		client:      client,
		logger:      logger,
		altitude:    420.0,
		latitude:    *baseLat,
		longitude:   *baseLon,
		temperature: 14.0,
		humidity:    55.0,
	}
}

func (d *MockDevice) topic(suffix string) string {
	if suffix == "" {
		return fmt.Sprintf("%s/%s", *topicPrefix, d.serial)
	}
	return fmt.Sprintf("%s/%s/%s", *topicPrefix, d.serial, suffix)
}

func (d *MockDevice) publish(topic string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		d.logger.Error("Failed to marshal payload", zap.Error(err))
		return
	}
	token := d.client.Publish(topic, 1, false, data)
	if token.Wait() && token.Error() != nil {
		d.logger.Error("Failed to publish",
			zap.String("topic", topic),
			zap.Error(token.Error()))
		return
	}
	d.logger.Debug("Published", zap.String("topic", topic), zap.String("payload", string(data)))
}

// PublishStatus sends the heartbeat that drives device activation.
func (d *MockDevice) PublishStatus() {
	battery := 60 + rand.Intn(40)
	d.publish(d.topic("status"), models.StatusMessage{
		Status:       "active",
		BatteryLevel: &battery,
	})
}

// step advances the simulated position and environment a little.
func (d *MockDevice) step() {
	d.altitude += 2.0 + rand.Float64()*6.0
	d.latitude += (rand.Float64() - 0.5) * 0.0004
	d.longitude += (rand.Float64() - 0.5) * 0.0004
	d.temperature += (rand.Float64() - 0.5) * 0.6
	d.humidity += (rand.Float64() - 0.5) * 2.0
}

func (d *MockDevice) telemetry(state string) models.TelemetryMessage {
	alt := d.altitude
	temp := d.temperature
	hum := d.humidity
	lat := d.latitude
	lon := d.longitude
	return models.TelemetryMessage{
		SessionID:    d.sessionID,
		SessionState: state,
		Alt:          &alt,
		Temperature:  &temp,
		Humidity:     &hum,
		Latitude:     &lat,
		Longitude:    &lon,
	}
}

// RunSession plays one full session: START, a run of ACTIVE samples,
// then END or INCIDENT.
func (d *MockDevice) RunSession(ctx context.Context) {
	d.mu.Lock()
	d.sessionID = uuid.NewString()
	d.sessionState = "START"
	d.mu.Unlock()

	d.logger.Info("Session starting", zap.String("session_id", d.sessionID))
	d.publish(d.topic(""), d.telemetry("START"))

	ticker := time.NewTicker(*sampleEvery)
	defer ticker.Stop()

	for i := 0; i < *climbSamples; i++ {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		d.mu.Lock()
		d.step()
		d.sessionState = "ACTIVE"
		msg := d.telemetry("ACTIVE")
		d.mu.Unlock()

		d.publish(d.topic(""), msg)
	}

	final := "END"
	if rand.Float64() < *incidentProb {
		final = "INCIDENT"
	}

	d.mu.Lock()
	d.sessionState = final
	msg := d.telemetry(final)
	d.mu.Unlock()

	d.logger.Info("Session finished",
		zap.String("session_id", d.sessionID),
		zap.String("final_state", final))
	d.publish(d.topic(""), msg)

	d.mu.Lock()
	d.sessionID = ""
	d.sessionState = ""
	d.mu.Unlock()
}

// HandleStatusRequest answers a live status request by echoing the
// request's chat and user identifiers with the current readings.
func (d *MockDevice) HandleStatusRequest(_ mqtt.Client, msg mqtt.Message) {
	var req models.StatusRequest
	if err := json.Unmarshal(msg.Payload(), &req); err != nil {
		d.logger.Error("Undecodable status request", zap.Error(err))
		return
	}

	d.logger.Info("Status request received",
		zap.Int64("chat_id", req.ChatID),
		zap.String("user_id", req.UserID))

	d.mu.Lock()
	resp := models.StatusResponse{
		ChatID:       req.ChatID,
		UserID:       req.UserID,
		UserName:     req.UserName,
		SessionID:    d.sessionID,
		SessionState: d.sessionState,
	}
	if d.sessionID != "" {
		alt := d.altitude
		temp := d.temperature
		hum := d.humidity
		lat := d.latitude
		lon := d.longitude
		resp.Alt = &alt
		resp.Temperature = &temp
		resp.Humidity = &hum
		resp.Latitude = &lat
		resp.Longitude = &lon
	}
	d.mu.Unlock()

	d.publish(d.topic("telegram"), resp)
}

func main() {
	flag.Parse()

	// Initialize logger
	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	logger.Info("Mock device started",
		zap.String("serial", *serial),
		zap.String("mqtt_broker", *mqttBroker),
		zap.String("topic_prefix", *topicPrefix),
		zap.Duration("sample_interval", *sampleEvery),
		zap.Float64("incident_probability", *incidentProb),
	)
	logger.Info("Press Ctrl+C to stop gracefully")

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s", *mqttBroker))
	opts.SetClientID(fmt.Sprintf("%s-device", *serial))
	opts.SetUsername(*mqttUser)
	opts.SetPassword(*mqttPass)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)

	opts.OnConnect = func(client mqtt.Client) {
		logger.Info("Connected to MQTT broker", zap.String("broker", *mqttBroker))
	}
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		logger.Error("MQTT connection lost", zap.Error(err))
	}

	mqttClient := mqtt.NewClient(opts)
	if token := mqttClient.Connect(); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(token.Error()))
	}
	defer mqttClient.Disconnect(250)

	device := NewMockDevice(*serial, mqttClient, logger)

	// Answer live status requests like the firmware does
	requestTopic := fmt.Sprintf("%s/%s/request", *topicPrefix, *serial)
	if token := mqttClient.Subscribe(requestTopic, 1, device.HandleStatusRequest); token.Wait() && token.Error() != nil {
		logger.Fatal("Failed to subscribe to status requests", zap.Error(token.Error()))
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping device")
		cancel()
	}()

	// Heartbeat loop
	go func() {
		device.PublishStatus()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				device.PublishStatus()
			}
		}
	}()

	// Session loop with a rest between climbs
	for {
		device.RunSession(ctx)

		select {
		case <-ctx.Done():
			logger.Info("Shutdown complete. Goodbye!")
			return
		case <-time.After(10 * time.Second):
		}
	}
}
