package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cairn/config"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// AMQPService is an alternative ingestion path for deployments where
// the broker bridges MQTT traffic into AMQP via amq.topic. Consumed
// messages are tagged with the MQTT-style topic recovered from the
// routing key and fed into the same inbound channel the Router reads.
type AMQPService struct {
	config    *config.Config
	conn      *amqp.Connection
	channel   *amqp.Channel
	logger    *zap.Logger
	reconnect chan bool
	isClosing bool
}

// NewAMQPService creates a new AMQP bridge instance and connects.
func NewAMQPService(cfg *config.Config, logger *zap.Logger) (*AMQPService, error) {
	service := &AMQPService{
		config:    cfg,
		logger:    logger,
		reconnect: make(chan bool),
		isClosing: false,
	}

	if err := service.connect(); err != nil {
		return nil, err
	}

	return service, nil
}

// connect establishes the connection and declares exchange and queue
func (r *AMQPService) connect() error {
	var err error

	r.logger.Info("Connecting to RabbitMQ", zap.String("url", r.config.RabbitMQURL))

	// Connect with retry
	maxRetries := 5
	for attempt := 1; attempt <= maxRetries; attempt++ {
		r.conn, err = amqp.Dial(r.config.RabbitMQURL)
		if err == nil {
			break
		}

		r.logger.Warn("Failed to connect to RabbitMQ",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * 2 * time.Second)
		}
	}

	if err != nil {
		return fmt.Errorf("failed to connect to RabbitMQ after %d attempts: %w", maxRetries, err)
	}

	r.logger.Info("Connected to RabbitMQ successfully")

	r.channel, err = r.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open channel: %w", err)
	}

	err = r.channel.Qos(
		10,    // prefetch count
		0,     // prefetch size
		false, // global
	)
	if err != nil {
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	queue, err := r.channel.QueueDeclare(
		r.config.RabbitMQQueue, // name
		true,                   // durable
		false,                  // delete when unused
		false,                  // exclusive
		false,                  // no-wait
		nil,                    // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	r.logger.Info("Queue declared", zap.String("queue", queue.Name))

	// Bind to amq.topic so MQTT-bridged traffic lands here. AMQP
	// routing keys use dots where MQTT topics use slashes.
	routingKey := fmt.Sprintf("%s.#", r.config.MQTTTopicPrefix)
	err = r.channel.QueueBind(
		queue.Name,  // queue name
		routingKey,  // routing key pattern
		"amq.topic", // MQTT default exchange
		false,       // no-wait
		nil,         // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to bind queue to MQTT exchange: %w", err)
	}

	r.logger.Info("Queue bound to MQTT exchange",
		zap.String("queue", queue.Name),
		zap.String("exchange", "amq.topic"),
		zap.String("routing_key", routingKey))

	go r.handleReconnect()

	return nil
}

// handleReconnect handles automatic reconnection when connection is lost
func (r *AMQPService) handleReconnect() {
	for {
		closeErr := <-r.conn.NotifyClose(make(chan *amqp.Error))
		if r.isClosing {
			r.logger.Info("RabbitMQ connection closed gracefully")
			return
		}

		r.logger.Error("RabbitMQ connection lost", zap.Error(closeErr))

		for {
			r.logger.Info("Attempting to reconnect to RabbitMQ...")
			err := r.connect()
			if err == nil {
				r.logger.Info("Successfully reconnected to RabbitMQ")
				r.reconnect <- true
				break
			}

			r.logger.Error("Failed to reconnect", zap.Error(err))
			time.Sleep(5 * time.Second)
		}
	}
}

// Consume feeds bridged transport messages into inbound until ctx is
// cancelled.
func (r *AMQPService) Consume(ctx context.Context, inbound chan<- InboundMessage) error {
	for {
		msgs, err := r.channel.Consume(
			r.config.RabbitMQQueue, // queue
			"cairn-bridge",         // consumer tag
			false,                  // auto-ack (false = manual ack)
			false,                  // exclusive
			false,                  // no-local
			false,                  // no-wait
			nil,                    // args
		)
		if err != nil {
			return fmt.Errorf("failed to register consumer: %w", err)
		}

		r.logger.Info("Started consuming bridged messages",
			zap.String("queue", r.config.RabbitMQQueue))

	consumeLoop:
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("Stopping AMQP consumer")
				return nil

			case <-r.reconnect:
				r.logger.Info("Reconnection detected, restarting consumer")
				break consumeLoop

			case msg, ok := <-msgs:
				if !ok {
					r.logger.Warn("Message channel closed")
					time.Sleep(1 * time.Second)
					break consumeLoop
				}

				if err := r.forward(msg, inbound); err != nil {
					r.logger.Error("Failed to forward bridged message",
						zap.String("routing_key", msg.RoutingKey),
						zap.Error(err))
					// Requeue so a transient stall doesn't lose telemetry
					msg.Nack(false, true)
				} else {
					msg.Ack(false)
				}
			}
		}
	}
}

// forward converts one AMQP delivery back into its MQTT topic shape and
// hands it to the inbound channel.
func (r *AMQPService) forward(msg amqp.Delivery, inbound chan<- InboundMessage) error {
	topic := strings.ReplaceAll(msg.RoutingKey, ".", "/")

	select {
	case inbound <- InboundMessage{Topic: topic, Payload: msg.Body}:
		return nil
	case <-time.After(5 * time.Second):
		return fmt.Errorf("timeout sending to inbound channel")
	}
}

// Close gracefully closes the RabbitMQ connection.
func (r *AMQPService) Close() error {
	r.isClosing = true

	r.logger.Info("Closing RabbitMQ connection")

	if r.channel != nil {
		if err := r.channel.Close(); err != nil {
			r.logger.Error("Error closing channel", zap.Error(err))
		}
	}

	if r.conn != nil {
		if err := r.conn.Close(); err != nil {
			r.logger.Error("Error closing connection", zap.Error(err))
			return err
		}
	}

	r.logger.Info("RabbitMQ connection closed")
	return nil
}
