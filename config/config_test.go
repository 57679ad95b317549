package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("MQTT_TOPICS", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 3.5, cfg.FallAccelThreshold)
	assert.Equal(t, 38.0, cfg.TempHighThreshold)
	assert.Equal(t, 80.0, cfg.HumidityHighThreshold)
	assert.Equal(t, 30, cfg.HistoryCapacity)
	assert.Equal(t, 50, cfg.AlertLogCapacity)
	assert.Equal(t, []string{"FALL", "HELP"}, cfg.AlertKinds)
	assert.Equal(t, 40*time.Second, cfg.SilenceTimeout())
	assert.Equal(t, time.Second, cfg.WatchdogInterval())
	assert.Equal(t, "Unknown", cfg.FallbackDeviceID)
	assert.Equal(t, "FALL", cfg.MQTTTopics["home/user_belt/safety/alert"])
	assert.Equal(t, "HELP", cfg.MQTTTopics["home/bedside/comm/button"])
	assert.Contains(t, cfg.MQTTTopics, "home/living_room/env/telemetry")
	assert.Equal(t, "home/bedside/comm/display", cfg.MQTTDisplayTopic)
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("FALL_ACCEL_THRESHOLD", "4.25")
	t.Setenv("HISTORY_CAPACITY", "60")
	t.Setenv("ALERT_KINDS", "fall, threshold")
	t.Setenv("MQTT_TOPICS", "a/b=fall, c/d=")
	t.Setenv("SILENCE_TIMEOUT_SECONDS", "not-a-number")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 4.25, cfg.FallAccelThreshold)
	assert.Equal(t, 60, cfg.HistoryCapacity)
	assert.Equal(t, []string{"fall", "threshold"}, cfg.AlertKinds)
	assert.Equal(t, map[string]string{"a/b": "FALL", "c/d": ""}, cfg.MQTTTopics)
	// unparseable values fall back to the default
	assert.Equal(t, 40, cfg.SilenceTimeoutSeconds)
}

func TestLoadConfig_RejectsNonPositiveCapacity(t *testing.T) {
	t.Setenv("ALERT_LOG_CAPACITY", "0")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ALERT_LOG_CAPACITY")
}

func TestValidate_BatteryRange(t *testing.T) {
	t.Setenv("BATTERY_EMPTY_VOLTS", "4.2")
	t.Setenv("BATTERY_FULL_VOLTS", "3.2")

	_, err := LoadConfig()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BATTERY_FULL_VOLTS")
}

func TestParseTopics_Invalid(t *testing.T) {
	_, err := parseTopics("=FALL")
	assert.Error(t, err)
}
