package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wearwatch/config"
	"wearwatch/log"
	"wearwatch/services"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		log.GetInstance().Fatal("Failed to load config", zap.Error(err))
	}

	// Initialize structured logger
	if err := log.Init(cfg.LogLevel, cfg.LogFormat); err != nil {
		log.GetInstance().Fatal("Failed to initialize logger", zap.Error(err))
	}
	logger := log.GetInstance()
	defer logger.Sync()

	opts, err := services.OptionsFromConfig(cfg)
	if err != nil {
		logger.Fatal("Invalid engine options", zap.Error(err))
	}
	engine := services.NewEngine(opts, logger.Named("engine"))

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, stopping services")
		cancel()
	}()

	sources := buildSources(ctx, cfg, engine.Schema(), logger)
	if len(sources) == 0 {
		logger.Warn("No transport source configured, engine will only run the watchdog")
	}
	sourceNames := make([]string, 0, len(sources))
	for _, src := range sources {
		sourceNames = append(sourceNames, src.Name())
	}

	// Notifiers
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		throttle := time.Duration(cfg.TelegramThrottleSeconds) * time.Second
		telegram, err := services.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID, throttle, logger.Named("telegram"))
		if err != nil {
			logger.Error("Failed to initialize Telegram notifier", zap.Error(err))
		} else {
			engine.AddNotifier(telegram)
			if err := telegram.SendStartupMessage(sourceNames); err != nil {
				logger.Warn("Failed to send startup message", zap.Error(err))
			}
		}
	}
	if cfg.AlertWebhookURL != "" {
		engine.AddNotifier(services.NewWebhookNotifier(cfg.AlertWebhookURL, logger.Named("webhook")))
		logger.Info("Alert webhook initialized", zap.String("url", cfg.AlertWebhookURL))
	}

	g, gctx := errgroup.WithContext(ctx)

	// Snapshot mirror
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		defer client.Close()

		if err := client.Ping(ctx).Err(); err != nil {
			logger.Error("Redis unreachable, snapshot mirror disabled", zap.Error(err))
		} else {
			mirror := services.NewSnapshotMirror(engine, services.NewRedisKVStore(client),
				cfg.RedisKeyPrefix, time.Duration(cfg.RedisTTLSecond)*time.Second, logger.Named("mirror"))
			changes := engine.Subscribe(64)
			g.Go(func() error {
				return mirror.Run(gctx, changes)
			})
		}
	}

	g.Go(func() error {
		return engine.Run(gctx)
	})
	for _, src := range sources {
		src := src
		g.Go(func() error {
			return src.Run(gctx, engine)
		})
	}

	logger.Info("WEARWATCH monitoring service started",
		zap.Strings("sources", sourceNames),
		zap.Float64("fall_accel_threshold", cfg.FallAccelThreshold),
		zap.Float64("temp_high_threshold", cfg.TempHighThreshold),
		zap.Float64("humidity_high_threshold", cfg.HumidityHighThreshold),
		zap.Int("silence_timeout_seconds", cfg.SilenceTimeoutSeconds),
	)

	if err := g.Wait(); err != nil {
		logger.Error("Service stopped with error", zap.Error(err))
	}

	for _, st := range engine.SourceStatuses() {
		logger.Info("Source final status",
			zap.String("source", st.Name),
			zap.String("health", string(st.Health)),
			zap.Int("consecutive_failures", st.ConsecutiveFailures))
	}
	logger.Info("WEARWATCH monitoring service stopped",
		zap.Int("devices", len(engine.GetAllDeviceStates())),
		zap.Int("alerts", len(engine.GetAlerts())))
}

// buildSources starts nothing; it only creates the transports whose
// address is configured
func buildSources(ctx context.Context, cfg *config.Config, schema services.Schema, logger *zap.Logger) []services.Source {
	var sources []services.Source

	if cfg.MQTTBroker != "" {
		sources = append(sources, services.NewMQTTSource(services.MQTTOptions{
			Broker:   cfg.MQTTBroker,
			ClientID: cfg.MQTTClientID,
			Username: cfg.MQTTUsername,
			Password: cfg.MQTTPassword,
			Topics:   cfg.MQTTTopics,

			DisplayTopic: cfg.MQTTDisplayTopic,
		}, schema, logger.Named("mqtt")))
	}

	if cfg.RabbitMQURL != "" {
		sources = append(sources, services.NewRabbitMQSource(services.RabbitMQOptions{
			URL:      cfg.RabbitMQURL,
			Exchange: cfg.RabbitMQExchange,
			Queue:    cfg.RabbitMQQueue,
			Topics:   cfg.MQTTTopics,
		}, schema, logger.Named("rabbitmq")))
	}

	if cfg.PollURL != "" {
		sources = append(sources, services.NewHTTPPoller(cfg.PollURL, cfg.PollInterval(), cfg.PollTimeout(), schema, logger.Named("http")))
	}

	if cfg.FirebaseDbUrl != "" && cfg.FirebaseServiceAccountJSON != "" {
		client, err := services.NewFirebaseClient(ctx, cfg.FirebaseDbUrl, cfg.FirebaseServiceAccountJSON, logger.Named("firebase"))
		if err != nil {
			logger.Error("Failed to initialize Firebase source", zap.Error(err))
		} else {
			sources = append(sources, services.NewFirebaseSource(client, cfg.FirebasePath, cfg.PollInterval(), schema, logger.Named("firebase")))
		}
	}

	if cfg.SimulatorDevices > 0 {
		interval := time.Duration(cfg.SimulatorIntervalMs) * time.Millisecond
		sources = append(sources, services.NewSimulator(cfg.SimulatorDevices, interval, time.Now().UnixNano(), schema, logger.Named("simulator")))
	}

	return sources
}
