package models

import "time"

// HistoryPoint is one charted sample. Timestamp is the device's clock,
// ReceivedAt the ingesting host's.
type HistoryPoint struct {
	Timestamp    time.Time `json:"timestamp"`
	ReceivedAt   time.Time `json:"received_at"`
	Acceleration *float64  `json:"acceleration,omitempty"`
	Temperature  *float64  `json:"temperature,omitempty"`
	Humidity     *float64  `json:"humidity,omitempty"`
	IsEvent      bool      `json:"is_event"`
}

// Stats summarises the fleet or a single device.
// Peak and average are nil when no value was present in the window.
type Stats struct {
	DeviceCount      int      `json:"device_count"`
	PeakAcceleration *float64 `json:"peak_acceleration,omitempty"`
	AvgTemperature   *float64 `json:"avg_temperature,omitempty"`
	AvgHumidity      *float64 `json:"avg_humidity,omitempty"`
	EventCount       int      `json:"event_count"`
}
