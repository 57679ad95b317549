package models

import "time"

// ChangeReason tells subscribers why the snapshot changed
type ChangeReason string

const (
	ChangeIngest  ChangeReason = "ingest"
	ChangeOffline ChangeReason = "offline"
)

// ChangeEvent is emitted after state actually changed
type ChangeEvent struct {
	Reason    ChangeReason `json:"reason"`
	DeviceIDs []string     `json:"device_ids"`
	At        time.Time    `json:"at"`
}

// SourceHealth represents the connectivity state of a transport source
type SourceHealth string

const (
	SourceOK    SourceHealth = "ok"
	SourceError SourceHealth = "error"
)

// SourceStatus is surfaced to the presentation layer as a status indicator
type SourceStatus struct {
	Name                string       `json:"name"`
	Health              SourceHealth `json:"health"`
	LastError           string       `json:"last_error,omitempty"`
	LastErrorAt         time.Time    `json:"last_error_at,omitempty"`
	LastSuccessAt       time.Time    `json:"last_success_at,omitempty"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
}
