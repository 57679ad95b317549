package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"wearwatch/models"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// WebhookNotifier posts alert records as JSON to an external endpoint
type WebhookNotifier struct {
	logger   *zap.Logger
	endpoint string
	client   *resty.Client
}

// WebhookPayload is the body sent for each alert
type WebhookPayload struct {
	Alert     models.AlertRecord `json:"alert"`
	Device    models.DeviceState `json:"device"`
	Severity  string             `json:"severity"`
	AlertType string             `json:"alert_type"`
}

func NewWebhookNotifier(apiURL string, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(10*time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "wearwatch/1.0")

	return &WebhookNotifier{
		logger:   logger,
		endpoint: strings.TrimRight(apiURL, "/") + "/api/v1/device-alert",
		client:   client,
	}
}

func (w *WebhookNotifier) Name() string { return "webhook" }

func (w *WebhookNotifier) NotifyAlert(ctx context.Context, alert models.AlertRecord, device models.DeviceState) error {
	payload := WebhookPayload{
		Alert:     alert,
		Device:    device,
		Severity:  severityFor(alert.Kind),
		AlertType: strings.ToLower(string(alert.Kind)),
	}

	resp, err := w.client.R().
		SetContext(ctx).
		SetBody(payload).
		Post(w.endpoint)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	if resp.IsError() {
		w.logger.Error("Alert webhook returned error",
			zap.String("device_id", alert.DeviceID),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("status", resp.Status()))
		return fmt.Errorf("alert webhook error: %s", resp.Status())
	}

	w.logger.Info("Alert webhook sent successfully",
		zap.String("device_id", alert.DeviceID),
		zap.String("severity", payload.Severity),
		zap.Int("status_code", resp.StatusCode()))
	return nil
}

func severityFor(kind models.AlertKind) string {
	switch kind {
	case models.AlertFall:
		return "critical"
	case models.AlertHelp:
		return "high"
	case models.AlertThreshold:
		return "medium"
	default:
		return "low"
	}
}
