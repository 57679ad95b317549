package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Logging
	LogLevel  string
	LogFormat string

	// Thresholds for event classification
	FallAccelThreshold    float64
	TempHighThreshold     float64
	HumidityHighThreshold float64

	// Engine bounds and timers
	HistoryCapacity       int
	AlertLogCapacity      int
	AlertKinds            []string
	SilenceTimeoutSeconds int
	WatchdogIntervalMs    int
	StatsWindowSeconds    int
	IngestQueueSize       int
	FallbackDeviceID      string
	BatteryEmptyVolts     float64
	BatteryFullVolts      float64

	// Polled sources
	PollIntervalMs int
	PollTimeoutMs  int
	PollURL        string

	FirebaseDbUrl              string
	FirebaseServiceAccountJSON string
	FirebasePath               string

	// Push sources
	MQTTBroker   string
	MQTTClientID string
	MQTTUsername string
	MQTTPassword string
	// MQTTTopics maps topic to implied event ("" for plain status topics)
	MQTTTopics map[string]string
	// MQTTDisplayTopic carries text messages to the bedside unit's screen
	MQTTDisplayTopic string

	RabbitMQURL      string
	RabbitMQExchange string
	RabbitMQQueue    string

	// Synthetic generator
	SimulatorDevices    int
	SimulatorIntervalMs int

	// Notifiers
	TelegramBotToken        string
	TelegramChatID          string
	TelegramThrottleSeconds int
	AlertWebhookURL         string

	// Snapshot mirror
	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string
	RedisTTLSecond int
}

// defaultMQTTTopics mirrors the unit firmware topic layout
const defaultMQTTTopics = "home/user_belt/safety/alert=FALL," +
	"home/bedside/comm/button=HELP," +
	"home/user_belt/safety/status=," +
	"home/living_room/env/telemetry=," +
	"home/living_room/env/status=," +
	"home/bedside/comm/status="

func LoadConfig() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	topics, err := parseTopics(getEnv("MQTT_TOPICS", defaultMQTTTopics))
	if err != nil {
		return nil, err
	}

	config := &Config{
		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "json"),

		FallAccelThreshold:    getEnvFloat("FALL_ACCEL_THRESHOLD", 3.5),
		TempHighThreshold:     getEnvFloat("TEMP_HIGH_THRESHOLD", 38.0),
		HumidityHighThreshold: getEnvFloat("HUMIDITY_HIGH_THRESHOLD", 80.0),

		HistoryCapacity:       getEnvInt("HISTORY_CAPACITY", 30),
		AlertLogCapacity:      getEnvInt("ALERT_LOG_CAPACITY", 50),
		AlertKinds:            getEnvList("ALERT_KINDS", []string{"FALL", "HELP"}),
		SilenceTimeoutSeconds: getEnvInt("SILENCE_TIMEOUT_SECONDS", 40),
		WatchdogIntervalMs:    getEnvInt("WATCHDOG_INTERVAL_MS", 1000),
		StatsWindowSeconds:    getEnvInt("STATS_WINDOW_SECONDS", 60),
		IngestQueueSize:       getEnvInt("INGEST_QUEUE_SIZE", 256),
		FallbackDeviceID:      getEnv("FALLBACK_DEVICE_ID", "Unknown"),
		BatteryEmptyVolts:     getEnvFloat("BATTERY_EMPTY_VOLTS", 3.2),
		BatteryFullVolts:      getEnvFloat("BATTERY_FULL_VOLTS", 4.2),

		PollIntervalMs: getEnvInt("POLL_INTERVAL_MS", 3000),
		PollTimeoutMs:  getEnvInt("POLL_TIMEOUT_MS", 5000),
		PollURL:        getEnv("POLL_URL", ""),

		FirebaseDbUrl:              getEnv("FIREBASE_DB_URL", ""),
		FirebaseServiceAccountJSON: getEnv("FIREBASE_SERVICE_ACCOUNT_JSON", ""),
		FirebasePath:               getEnv("FIREBASE_PATH", "sensor-data"),

		MQTTBroker:   getEnv("MQTT_BROKER", ""),
		MQTTClientID: getEnv("MQTT_CLIENT_ID", "wearwatch-dashboard"),
		MQTTUsername: getEnv("MQTT_USERNAME", ""),
		MQTTPassword: getEnv("MQTT_PASSWORD", ""),
		MQTTTopics:   topics,

		MQTTDisplayTopic: getEnv("MQTT_DISPLAY_TOPIC", "home/bedside/comm/display"),

		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		RabbitMQExchange: getEnv("RABBITMQ_EXCHANGE", "telemetry"),
		RabbitMQQueue:    getEnv("RABBITMQ_QUEUE", "telemetry_queue"),

		SimulatorDevices:    getEnvInt("SIMULATOR_DEVICES", 0),
		SimulatorIntervalMs: getEnvInt("SIMULATOR_INTERVAL_MS", 3000),

		TelegramBotToken:        getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID:          getEnv("TELEGRAM_CHAT_ID", ""),
		TelegramThrottleSeconds: getEnvInt("TELEGRAM_THROTTLE_SECONDS", 15),
		AlertWebhookURL:         getEnv("ALERT_WEBHOOK_URL", ""),

		RedisAddr:      getEnv("REDIS_ADDR", ""),
		RedisPassword:  getEnv("REDIS_PASSWORD", ""),
		RedisDB:        getEnvInt("REDIS_DB", 0),
		RedisKeyPrefix: getEnv("REDIS_KEY_PREFIX", "wearwatch:"),
		RedisTTLSecond: getEnvInt("REDIS_TTL_SECONDS", 300),
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// Validate rejects bounds and intervals the engine cannot run with
func (c *Config) Validate() error {
	positive := map[string]int{
		"HISTORY_CAPACITY":        c.HistoryCapacity,
		"ALERT_LOG_CAPACITY":      c.AlertLogCapacity,
		"SILENCE_TIMEOUT_SECONDS": c.SilenceTimeoutSeconds,
		"WATCHDOG_INTERVAL_MS":    c.WatchdogIntervalMs,
		"POLL_INTERVAL_MS":        c.PollIntervalMs,
		"POLL_TIMEOUT_MS":         c.PollTimeoutMs,
		"INGEST_QUEUE_SIZE":       c.IngestQueueSize,
	}
	for key, v := range positive {
		if v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", key, v)
		}
	}
	if c.SimulatorDevices > 0 && c.SimulatorIntervalMs <= 0 {
		return fmt.Errorf("SIMULATOR_INTERVAL_MS must be positive, got %d", c.SimulatorIntervalMs)
	}
	if c.StatsWindowSeconds < 0 {
		return fmt.Errorf("STATS_WINDOW_SECONDS must not be negative, got %d", c.StatsWindowSeconds)
	}
	if c.BatteryFullVolts <= c.BatteryEmptyVolts {
		return fmt.Errorf("BATTERY_FULL_VOLTS (%.2f) must exceed BATTERY_EMPTY_VOLTS (%.2f)",
			c.BatteryFullVolts, c.BatteryEmptyVolts)
	}
	if c.FallbackDeviceID == "" {
		return fmt.Errorf("FALLBACK_DEVICE_ID must not be empty")
	}
	return nil
}

func (c *Config) SilenceTimeout() time.Duration {
	return time.Duration(c.SilenceTimeoutSeconds) * time.Second
}

func (c *Config) WatchdogInterval() time.Duration {
	return time.Duration(c.WatchdogIntervalMs) * time.Millisecond
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

func (c *Config) PollTimeout() time.Duration {
	return time.Duration(c.PollTimeoutMs) * time.Millisecond
}

func (c *Config) StatsWindow() time.Duration {
	return time.Duration(c.StatsWindowSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// parseTopics reads "topic=EVENT,topic2=" pairs
func parseTopics(raw string) (map[string]string, error) {
	topics := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		topic, event, _ := strings.Cut(pair, "=")
		topic = strings.TrimSpace(topic)
		if topic == "" {
			return nil, fmt.Errorf("invalid MQTT_TOPICS entry %q", pair)
		}
		topics[topic] = strings.ToUpper(strings.TrimSpace(event))
	}
	return topics, nil
}
