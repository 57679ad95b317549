package models

import (
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// EventFlag is a classified condition carried by a reading
type EventFlag string

const (
	EventFall      EventFlag = "FALL"
	EventHelp      EventFlag = "HELP"
	EventThreshold EventFlag = "THRESHOLD"
)

// EventSet is a small set of event flags
type EventSet map[EventFlag]struct{}

// NewEventSet builds a set from the given flags
func NewEventSet(flags ...EventFlag) EventSet {
	s := make(EventSet, len(flags))
	for _, f := range flags {
		s[f] = struct{}{}
	}
	return s
}

func (s EventSet) Has(f EventFlag) bool {
	_, ok := s[f]
	return ok
}

func (s EventSet) Add(f EventFlag) {
	s[f] = struct{}{}
}

// Union returns a new set holding the flags of both sets
func (s EventSet) Union(other EventSet) EventSet {
	out := make(EventSet, len(s)+len(other))
	for f := range s {
		out[f] = struct{}{}
	}
	for f := range other {
		out[f] = struct{}{}
	}
	return out
}

// Sorted returns the flags in a stable order (for logs and JSON)
func (s EventSet) Sorted() []EventFlag {
	out := make([]EventFlag, 0, len(s))
	for f := range s {
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s EventSet) String() string {
	parts := make([]string, 0, len(s))
	for _, f := range s.Sorted() {
		parts = append(parts, string(f))
	}
	return strings.Join(parts, ",")
}

func (s EventSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *EventSet) UnmarshalJSON(data []byte) error {
	var flags []EventFlag
	if err := json.Unmarshal(data, &flags); err != nil {
		return err
	}
	*s = NewEventSet(flags...)
	return nil
}

// CanonicalReading is one normalized sample from a device.
// Numeric fields are nil when the source gave no parseable value.
type CanonicalReading struct {
	DeviceID       string    `json:"device_id"`
	Timestamp      time.Time `json:"timestamp"`
	Acceleration   *float64  `json:"acceleration,omitempty"`
	Temperature    *float64  `json:"temperature,omitempty"`
	Humidity       *float64  `json:"humidity,omitempty"`
	Pressure       *float64  `json:"pressure,omitempty"`
	BatteryVoltage *float64  `json:"battery_voltage,omitempty"`
	// ReportedStatus is the raw status text sent by the device, empty if none
	ReportedStatus string   `json:"reported_status,omitempty"`
	EventFlags     EventSet `json:"event_flags,omitempty"`
	Source         string   `json:"source,omitempty"`
}

// Float returns a pointer to v
func Float(v float64) *float64 {
	return &v
}

// CloneFloat copies the pointed value so callers never share storage
func CloneFloat(p *float64) *float64 {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Clone returns a deep copy of the reading
func (r CanonicalReading) Clone() CanonicalReading {
	out := r
	out.Acceleration = CloneFloat(r.Acceleration)
	out.Temperature = CloneFloat(r.Temperature)
	out.Humidity = CloneFloat(r.Humidity)
	out.Pressure = CloneFloat(r.Pressure)
	out.BatteryVoltage = CloneFloat(r.BatteryVoltage)
	if r.EventFlags != nil {
		out.EventFlags = r.EventFlags.Union(nil)
	}
	return out
}
