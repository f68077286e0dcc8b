package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cairn/config"
	"cairn/docstore"
	"cairn/log"
	"cairn/schema"
	"cairn/services"

	"go.uber.org/zap"
)

func main() {
	// Initialize structured logger
	logger := log.GetInstance()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	// Validate required configuration
	if cfg.FirebaseProjectID == "" || cfg.FirebaseServiceAccountJSON == "" {
		logger.Fatal("Firebase configuration is required")
	}
	if cfg.TelegramBotToken == "" {
		logger.Fatal("Telegram configuration is required")
	}

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize services
	store, err := docstore.NewFirestoreStore(ctx, cfg.FirebaseProjectID, cfg.FirebaseServiceAccountJSON, schema.Default(), logger)
	if err != nil {
		logger.Fatal("Failed to initialize document store", zap.Error(err))
	}

	telegramService, err := services.NewTelegramService(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize Telegram service", zap.Error(err))
	}

	mqttService := services.NewMQTTService(cfg, logger)
	if err := mqttService.Connect(); err != nil {
		logger.Fatal("Failed to connect to MQTT broker", zap.Error(err))
	}

	registry := services.NewDeviceRegistry(store, cfg.OwnerCacheTTL, logger)
	alerts := services.NewAlertDispatcher(store, telegramService, logger)
	sessions := services.NewSessionService(store, alerts, logger)
	statusCheck := services.NewStatusCheckService(store, registry, sessions, mqttService, telegramService, cfg.StatusCheckTimeout, logger)
	router := services.NewRouter(registry, sessions, statusCheck, telegramService, cfg.MQTTTopicPrefix, logger)
	presence := services.NewPresenceService(store, cfg, logger)

	// Optional AMQP bridge for brokers relaying MQTT through amq.topic
	var amqpService *services.AMQPService
	if cfg.AMQPEnabled {
		amqpService, err = services.NewAMQPService(cfg, logger)
		if err != nil {
			logger.Fatal("Failed to initialize AMQP bridge", zap.Error(err))
		}
		go func() {
			if err := amqpService.Consume(ctx, mqttService.Inbound()); err != nil {
				logger.Error("AMQP bridge consumer stopped", zap.Error(err))
			}
		}()
	}

	go router.Run(ctx, mqttService.Inbound())
	go telegramService.Run(ctx, router.HandleChat)
	go presence.Run(ctx)

	logger.Info("Cairn telemetry service started",
		zap.String("mqtt_broker", cfg.MQTTBroker),
		zap.String("topic_prefix", cfg.MQTTTopicPrefix),
		zap.Bool("amqp_bridge", cfg.AMQPEnabled),
		zap.Duration("status_check_timeout", cfg.StatusCheckTimeout))

	// Set up graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	// Channel to signal when cleanup is complete
	cleanupDone := make(chan bool, 1)

	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping services")

		// Cancel context to stop all goroutines
		cancel()

		// Wait for cleanup to complete or timeout
		select {
		case <-cleanupDone:
			logger.Info("Cleanup completed successfully")
		case <-time.After(5 * time.Second):
			logger.Warn("Cleanup timeout, forcing exit")
		}

		logger.Info("Cairn telemetry service stopped")
		os.Exit(0)
	}()

	// Wait for shutdown signal
	<-ctx.Done()

	// Perform cleanup
	logger.Info("Starting cleanup")

	mqttService.Disconnect()

	if amqpService != nil {
		if err := amqpService.Close(); err != nil {
			logger.Error("Error closing AMQP bridge", zap.Error(err))
		}
	}

	if err := store.Close(); err != nil {
		logger.Error("Error closing document store", zap.Error(err))
	} else {
		logger.Info("Document store closed")
	}

	// Signal cleanup completion
	cleanupDone <- true
}
