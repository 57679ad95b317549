package models

import (
	"fmt"
	"strings"
	"time"
)

// AlertKind represents the kind of alert held in the alert log
type AlertKind string

const (
	AlertFall      AlertKind = "FALL"
	AlertHelp      AlertKind = "HELP"
	AlertThreshold AlertKind = "THRESHOLD"
)

// ParseAlertKind accepts any case, e.g. "fall"
func ParseAlertKind(s string) (AlertKind, error) {
	switch AlertKind(strings.ToUpper(strings.TrimSpace(s))) {
	case AlertFall:
		return AlertFall, nil
	case AlertHelp:
		return AlertHelp, nil
	case AlertThreshold:
		return AlertThreshold, nil
	}
	return "", fmt.Errorf("unknown alert kind %q", s)
}

// AlertRecord is one entry of the alert feed
type AlertRecord struct {
	ID        string    `json:"id"`
	DeviceID  string    `json:"device_id"`
	Kind      AlertKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Magnitude *float64  `json:"magnitude,omitempty"`
	// Metric names the breached field for THRESHOLD alerts
	Metric string `json:"metric,omitempty"`
}

// GetAlertEmoji returns appropriate emoji for the alert kind
func (a *AlertRecord) GetAlertEmoji() string {
	switch a.Kind {
	case AlertFall:
		return "🚨"
	case AlertHelp:
		return "🆘"
	case AlertThreshold:
		return "🌡️"
	default:
		return "⚠️"
	}
}

// GetTitle returns a user-friendly title
func (a *AlertRecord) GetTitle() string {
	switch a.Kind {
	case AlertFall:
		return "FALL DETECTED"
	case AlertHelp:
		return "HELP REQUESTED"
	case AlertThreshold:
		return "THRESHOLD EXCEEDED"
	default:
		return "DEVICE ALERT"
	}
}

// ValueText renders the magnitude the way the dashboard shows it
func (a *AlertRecord) ValueText() string {
	switch {
	case a.Kind == AlertHelp:
		return "BUTTON PRESS"
	case a.Magnitude == nil:
		return "-"
	case a.Kind == AlertFall:
		return fmt.Sprintf("%.2f G", *a.Magnitude)
	case a.Metric == "humidity":
		return fmt.Sprintf("%.1f%%", *a.Magnitude)
	default:
		return fmt.Sprintf("%.1f°C", *a.Magnitude)
	}
}
