package models

import (
	"strings"
	"time"
)

// DeviceStatus represents the display status of a device
type DeviceStatus string

const (
	StatusActive     DeviceStatus = "ACTIVE"
	StatusCritical   DeviceStatus = "CRITICAL"
	StatusHelpNeeded DeviceStatus = "HELP_NEEDED"
	StatusOffline    DeviceStatus = "OFFLINE"
)

// IsAlarm reports whether the status is a sticky alarm state
func (s DeviceStatus) IsAlarm() bool {
	return s == StatusCritical || s == StatusHelpNeeded
}

// DeviceKind is derived from the device identifier
type DeviceKind string

const (
	KindFallDetector DeviceKind = "fall_detector"
	KindEnvMonitor   DeviceKind = "env_monitor"
	KindCommUnit     DeviceKind = "comm_unit"
)

// KindForID guesses the unit kind from its name, e.g. "Belt_Fall_Detector"
func KindForID(id string) DeviceKind {
	switch {
	case strings.Contains(id, "Belt"):
		return KindFallDetector
	case strings.Contains(id, "Env"):
		return KindEnvMonitor
	default:
		return KindCommUnit
	}
}

// BatteryBand groups battery percentages for display
type BatteryBand string

const (
	BatteryUnknown  BatteryBand = "unknown"
	BatteryHealthy  BatteryBand = "healthy"
	BatteryWarning  BatteryBand = "warning"
	BatteryCritical BatteryBand = "critical"
)

// BandForPercent maps a battery percentage to its display band
func BandForPercent(percent *float64) BatteryBand {
	if percent == nil {
		return BatteryUnknown
	}
	switch {
	case *percent < 20:
		return BatteryCritical
	case *percent < 40:
		return BatteryWarning
	default:
		return BatteryHealthy
	}
}

// DeviceState is the merged, latest view of one device
type DeviceState struct {
	ID             string           `json:"id"`
	Kind           DeviceKind       `json:"kind"`
	LastSeen       time.Time        `json:"last_seen"`
	Latest         CanonicalReading `json:"latest"`
	Status         DeviceStatus     `json:"status"`
	BatteryPercent *float64         `json:"battery_percent,omitempty"`
	BatteryBand    BatteryBand      `json:"battery_band"`
	// OfflineSince is set while the device is OFFLINE
	OfflineSince *time.Time `json:"offline_since,omitempty"`
}

// Clone returns a deep copy safe to hand out of the store
func (d DeviceState) Clone() DeviceState {
	out := d
	out.Latest = d.Latest.Clone()
	out.BatteryPercent = CloneFloat(d.BatteryPercent)
	if d.OfflineSince != nil {
		t := *d.OfflineSince
		out.OfflineSince = &t
	}
	return out
}
