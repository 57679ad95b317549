package services

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"wearwatch/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeBot struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
	err  error
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return tgbotapi.Message{}, b.err
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, msg)
	}
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) texts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.sent))
	for _, m := range b.sent {
		out = append(out, m.Text)
	}
	return out
}

func fallAlert(deviceID string) models.AlertRecord {
	return models.AlertRecord{
		ID:        "a-1",
		DeviceID:  deviceID,
		Kind:      models.AlertFall,
		Timestamp: testNow,
		Magnitude: models.Float(4.2),
	}
}

func sampleDevice(id string) models.DeviceState {
	return models.DeviceState{
		ID:       id,
		Status:   models.StatusCritical,
		LastSeen: testNow,
		Latest: models.CanonicalReading{
			DeviceID:     id,
			Acceleration: models.Float(4.2),
			Temperature:  models.Float(36.6),
		},
		BatteryPercent: models.Float(80),
	}
}

func TestTelegramNotifier_FormatsAlert(t *testing.T) {
	bot := &fakeBot{}
	notifier := newTelegramNotifier(bot, 42, time.Minute, zap.NewNop())

	require.NoError(t, notifier.NotifyAlert(context.Background(), fallAlert("D1"), sampleDevice("D1")))

	require.Len(t, bot.sent, 1)
	msg := bot.sent[0]
	assert.Equal(t, int64(42), msg.ChatID)
	assert.Equal(t, "HTML", msg.ParseMode)
	assert.Contains(t, msg.Text, "FALL DETECTED")
	assert.Contains(t, msg.Text, "D1")
	assert.Contains(t, msg.Text, "4.20 G")
	assert.Contains(t, msg.Text, "36.6°C")
	assert.Contains(t, msg.Text, "Humidity: -", "absent readings render as a dash")
	assert.Contains(t, msg.Text, "80%")
}

func TestTelegramNotifier_ThrottlesPerDeviceAndKind(t *testing.T) {
	bot := &fakeBot{}
	notifier := newTelegramNotifier(bot, 1, time.Minute, zap.NewNop())
	now := testNow
	notifier.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, notifier.NotifyAlert(ctx, fallAlert("D1"), sampleDevice("D1")))
	require.NoError(t, notifier.NotifyAlert(ctx, fallAlert("D1"), sampleDevice("D1")))
	assert.Len(t, bot.texts(), 1, "second fall inside the window is throttled")

	help := fallAlert("D1")
	help.Kind = models.AlertHelp
	help.Magnitude = nil
	require.NoError(t, notifier.NotifyAlert(ctx, help, sampleDevice("D1")))
	require.NoError(t, notifier.NotifyAlert(ctx, fallAlert("D2"), sampleDevice("D2")))
	assert.Len(t, bot.texts(), 3)
	assert.Contains(t, bot.texts()[1], "BUTTON PRESS")

	now = now.Add(time.Minute)
	require.NoError(t, notifier.NotifyAlert(ctx, fallAlert("D1"), sampleDevice("D1")))
	assert.Len(t, bot.texts(), 4)
}

func TestTelegramNotifier_FailedSendIsNotThrottled(t *testing.T) {
	bot := &fakeBot{err: errors.New("chat not found")}
	notifier := newTelegramNotifier(bot, 1, time.Minute, zap.NewNop())
	ctx := context.Background()

	require.Error(t, notifier.NotifyAlert(ctx, fallAlert("D1"), sampleDevice("D1")))

	bot.err = nil
	require.NoError(t, notifier.NotifyAlert(ctx, fallAlert("D1"), sampleDevice("D1")))
	assert.Len(t, bot.texts(), 1)
}

func TestTelegramNotifier_StatusMessages(t *testing.T) {
	bot := &fakeBot{}
	notifier := newTelegramNotifier(bot, 1, time.Minute, zap.NewNop())
	ctx := context.Background()

	offline := sampleDevice("D1")
	offline.Status = models.StatusOffline
	require.NoError(t, notifier.NotifyOffline(ctx, offline, 45*time.Second))

	recovered := sampleDevice("D1")
	recovered.Status = models.StatusActive
	require.NoError(t, notifier.NotifyRecovered(ctx, recovered, 3*time.Minute+5*time.Second))

	require.NoError(t, notifier.SendStartupMessage([]string{"mqtt", "http"}))

	texts := bot.texts()
	require.Len(t, texts, 3)
	assert.Contains(t, texts[0], "DEVICE OFFLINE")
	assert.Contains(t, texts[0], "45 seconds")
	assert.Contains(t, texts[1], "DEVICE BACK ONLINE")
	assert.Contains(t, texts[1], "3 min 5 sec")
	assert.Contains(t, texts[2], "Source: mqtt")
	assert.Contains(t, texts[2], "Source: http")
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "30 seconds", formatDuration(30*time.Second))
	assert.Equal(t, "2 min 10 sec", formatDuration(130*time.Second))
	assert.Equal(t, "1 hr 30 min", formatDuration(90*time.Minute))
	assert.Equal(t, "2 days 3 hr", formatDuration(51*time.Hour))
}

func TestWebhookNotifier_PostsAlert(t *testing.T) {
	var (
		gotPath string
		payload WebhookPayload
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&payload)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL+"/", zap.NewNop())
	require.NoError(t, notifier.NotifyAlert(context.Background(), fallAlert("D1"), sampleDevice("D1")))

	assert.Equal(t, "/api/v1/device-alert", gotPath)
	assert.Equal(t, "critical", payload.Severity)
	assert.Equal(t, "fall", payload.AlertType)
	assert.Equal(t, "D1", payload.Alert.DeviceID)
	require.NotNil(t, payload.Alert.Magnitude)
	assert.InDelta(t, 4.2, *payload.Alert.Magnitude, 1e-9)
	assert.Equal(t, models.StatusCritical, payload.Device.Status)
}

func TestWebhookNotifier_ErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	notifier := NewWebhookNotifier(server.URL, zap.NewNop())
	err := notifier.NotifyAlert(context.Background(), fallAlert("D1"), sampleDevice("D1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, "critical", severityFor(models.AlertFall))
	assert.Equal(t, "high", severityFor(models.AlertHelp))
	assert.Equal(t, "medium", severityFor(models.AlertThreshold))
}

type slowNotifier struct {
	recordingNotifier
	delay time.Duration
}

func (n *slowNotifier) NotifyAlert(ctx context.Context, alert models.AlertRecord, device models.DeviceState) error {
	select {
	case <-time.After(n.delay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return n.recordingNotifier.NotifyAlert(ctx, alert, device)
}

func TestDispatcher_SlowNotifierDoesNotBlockIngest(t *testing.T) {
	engine, _ := newTestEngine(t, func(o *EngineOptions) { o.NotifyTimeout = 50 * time.Millisecond })
	slow := &slowNotifier{delay: time.Second}
	fast := &recordingNotifier{}
	engine.AddNotifier(slow)
	engine.AddNotifier(fast)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go engine.Run(ctx)

	start := time.Now()
	for i := 0; i < 3; i++ {
		engine.IngestOne(map[string]any{"deviceId": "D1", "accel": 4.0})
	}
	assert.Less(t, time.Since(start), 500*time.Millisecond)

	require.Eventually(t, func() bool {
		alerts, _, _ := fast.counts()
		return alerts == 3
	}, 2*time.Second, 10*time.Millisecond)

	alerts, _, _ := slow.counts()
	assert.Equal(t, 0, alerts, "deliveries past the timeout are abandoned")
}
