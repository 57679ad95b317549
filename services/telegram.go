package services

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"wearwatch/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// botSender is the part of the bot API the notifier uses
type botSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// TelegramNotifier posts alerts and device status changes to a chat
type TelegramNotifier struct {
	bot      botSender
	chatID   int64
	throttle time.Duration
	logger   *zap.Logger
	now      func() time.Time

	mu             sync.Mutex
	lastAlertTimes map[string]time.Time // keyed by device and alert kind
}

// NewTelegramNotifier authorizes the bot and checks connectivity
func NewTelegramNotifier(token, chatID string, throttle time.Duration, logger *zap.Logger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("error creating telegram bot: %w", err)
	}

	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("error parsing chat ID: %w", err)
	}

	logger.Info("Telegram bot authorized", zap.String("username", bot.Self.UserName))

	if err := testTelegramConnection(bot, logger); err != nil {
		return nil, fmt.Errorf("telegram connection test failed: %w", err)
	}

	return newTelegramNotifier(bot, id, throttle, logger), nil
}

func newTelegramNotifier(bot botSender, chatID int64, throttle time.Duration, logger *zap.Logger) *TelegramNotifier {
	return &TelegramNotifier{
		bot:            bot,
		chatID:         chatID,
		throttle:       throttle,
		logger:         logger,
		now:            time.Now,
		lastAlertTimes: make(map[string]time.Time),
	}
}

func testTelegramConnection(bot *tgbotapi.BotAPI, logger *zap.Logger) error {
	maxRetries := 3

	for attempt := 1; attempt <= maxRetries; attempt++ {
		logger.Info("Testing Telegram connection", zap.Int("attempt", attempt), zap.Int("max_retries", maxRetries))

		_, err := bot.GetMe()
		if err == nil {
			logger.Info("Telegram connection successful")
			return nil
		}

		logger.Warn("Telegram connection failed",
			zap.Int("attempt", attempt),
			zap.Int("max_retries", maxRetries),
			zap.Error(err))

		if attempt < maxRetries {
			time.Sleep(time.Duration(attempt) * time.Second)
		}
	}

	return fmt.Errorf("failed to connect to Telegram after %d attempts", maxRetries)
}

func (t *TelegramNotifier) Name() string { return "telegram" }

// NotifyAlert sends one alert unless the same device and kind alerted
// within the throttle window
func (t *TelegramNotifier) NotifyAlert(_ context.Context, alert models.AlertRecord, device models.DeviceState) error {
	key := alert.DeviceID + "|" + string(alert.Kind)
	if t.shouldThrottle(key) {
		t.logger.Debug("Throttling alert",
			zap.String("device_id", alert.DeviceID),
			zap.String("alert_kind", string(alert.Kind)))
		return nil
	}

	if err := t.send(formatAlertMessage(alert, device)); err != nil {
		return fmt.Errorf("error sending telegram message: %w", err)
	}

	t.mu.Lock()
	t.lastAlertTimes[key] = t.now()
	t.mu.Unlock()

	t.logger.Info("Sent alert",
		zap.String("device_id", alert.DeviceID),
		zap.String("alert_kind", string(alert.Kind)))
	return nil
}

func (t *TelegramNotifier) shouldThrottle(key string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	last, exists := t.lastAlertTimes[key]
	if !exists {
		return false
	}
	return t.now().Sub(last) < t.throttle
}

// NotifyOffline reports a device that stopped sending
func (t *TelegramNotifier) NotifyOffline(_ context.Context, device models.DeviceState, silentFor time.Duration) error {
	var sb strings.Builder

	sb.WriteString("⚠️ <b>DEVICE OFFLINE</b> ⚠️\n\n")
	sb.WriteString(fmt.Sprintf("📱 <b>Device:</b> %s\n", device.ID))
	sb.WriteString(fmt.Sprintf("🕐 <b>Last Seen:</b> %s\n", device.LastSeen.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Silent For:</b> %s\n\n", formatDuration(silentFor)))
	sb.WriteString("💡 <b>Action Required:</b>\n")
	sb.WriteString("Check the unit's power and connectivity.\n\n")
	sb.WriteString("🔴 <b>Status:</b> OFFLINE")

	if err := t.send(sb.String()); err != nil {
		return fmt.Errorf("error sending offline alert: %w", err)
	}

	t.logger.Info("Sent offline alert",
		zap.String("device_id", device.ID),
		zap.Duration("silent_for", silentFor))
	return nil
}

// NotifyRecovered reports a device that came back after being offline
func (t *TelegramNotifier) NotifyRecovered(_ context.Context, device models.DeviceState, downFor time.Duration) error {
	var sb strings.Builder

	sb.WriteString("✅ <b>DEVICE BACK ONLINE</b> ✅\n\n")
	sb.WriteString(fmt.Sprintf("📱 <b>Device:</b> %s\n", device.ID))
	sb.WriteString(fmt.Sprintf("🕐 <b>Recovery Time:</b> %s\n", device.LastSeen.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("⏱️ <b>Downtime:</b> %s\n\n", formatDuration(downFor)))
	sb.WriteString(fmt.Sprintf("🟢 <b>Status:</b> %s", device.Status))

	if err := t.send(sb.String()); err != nil {
		return fmt.Errorf("error sending recovery alert: %w", err)
	}

	t.logger.Info("Sent recovery alert",
		zap.String("device_id", device.ID),
		zap.Duration("down_duration", downFor))
	return nil
}

// SendStartupMessage announces the service and its active sources
func (t *TelegramNotifier) SendStartupMessage(sources []string) error {
	var sb strings.Builder
	sb.WriteString("🟢 <b>WEARWATCH Monitoring Started</b>\n\n")
	for _, name := range sources {
		sb.WriteString(fmt.Sprintf("📡 Source: %s\n", name))
	}
	sb.WriteString("🤖 Telegram notifications active\n\n")
	sb.WriteString("✅ Watching for falls and help requests")
	return t.send(sb.String())
}

func (t *TelegramNotifier) send(text string) error {
	msg := tgbotapi.NewMessage(t.chatID, text)
	msg.ParseMode = "HTML"
	msg.DisableWebPagePreview = true

	_, err := t.bot.Send(msg)
	return err
}

func formatAlertMessage(alert models.AlertRecord, device models.DeviceState) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s <b>%s</b> %s\n\n", alert.GetAlertEmoji(), alert.GetTitle(), alert.GetAlertEmoji()))
	sb.WriteString(fmt.Sprintf("📱 <b>Device:</b> %s\n", alert.DeviceID))
	sb.WriteString(fmt.Sprintf("🕐 <b>Time:</b> %s\n", alert.Timestamp.Format("2006-01-02 15:04:05")))
	sb.WriteString(fmt.Sprintf("📈 <b>Value:</b> %s\n\n", alert.ValueText()))

	sb.WriteString("📊 <b>Latest Readings:</b>\n")
	sb.WriteString(fmt.Sprintf("🏃 Acceleration: %s\n", formatReading(device.Latest.Acceleration, "%.2f G")))
	sb.WriteString(fmt.Sprintf("🌡️ Temperature: %s\n", formatReading(device.Latest.Temperature, "%.1f°C")))
	sb.WriteString(fmt.Sprintf("💧 Humidity: %s\n", formatReading(device.Latest.Humidity, "%.1f%%")))
	sb.WriteString(fmt.Sprintf("🔋 Battery: %s\n\n", formatReading(device.BatteryPercent, "%.0f%%")))

	sb.WriteString(fmt.Sprintf("🔴 <b>Status:</b> %s", device.Status))
	return sb.String()
}

func formatReading(v *float64, format string) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf(format, *v)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.0f seconds", d.Seconds())
	} else if d < time.Hour {
		minutes := int(d.Minutes())
		seconds := int(d.Seconds()) % 60
		return fmt.Sprintf("%d min %d sec", minutes, seconds)
	} else if d < 24*time.Hour {
		hours := int(d.Hours())
		minutes := int(d.Minutes()) % 60
		return fmt.Sprintf("%d hr %d min", hours, minutes)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%d days %d hr", days, hours)
}
