package services

import (
	"math"
	"sort"
	"time"

	"wearwatch/models"
)

// BatteryScale maps cell voltage linearly onto 0-100%
type BatteryScale struct {
	EmptyVolts float64
	FullVolts  float64
}

func DefaultBatteryScale() BatteryScale {
	return BatteryScale{EmptyVolts: 3.2, FullVolts: 4.2}
}

// Percent is nil when the voltage is unknown
func (b BatteryScale) Percent(volts *float64) *float64 {
	if volts == nil || b.FullVolts <= b.EmptyVolts {
		return nil
	}
	p := math.Round((*volts - b.EmptyVolts) / (b.FullVolts - b.EmptyVolts) * 100)
	p = math.Max(0, math.Min(100, p))
	return &p
}

// IngestResult describes what a merge did to a device
type IngestResult struct {
	State        models.DeviceState
	Created      bool
	WasOffline   bool
	OfflineSince time.Time
}

type deviceEntry struct {
	state models.DeviceState
	// onlineStatus is the status basis restored when the device leaves OFFLINE
	onlineStatus models.DeviceStatus
}

// DeviceStore owns the merged state of every known device. Devices are
// created on first reading and never removed.
// Not safe for concurrent use; the Engine serializes access.
type DeviceStore struct {
	devices map[string]*deviceEntry
	battery BatteryScale
}

func NewDeviceStore(battery BatteryScale) *DeviceStore {
	return &DeviceStore{
		devices: make(map[string]*deviceEntry),
		battery: battery,
	}
}

// Ingest merges one classified reading into the device's state.
// Present fields overwrite, absent fields keep the last known value.
func (s *DeviceStore) Ingest(reading models.CanonicalReading, flags models.EventSet, now time.Time) IngestResult {
	var result IngestResult

	entry, exists := s.devices[reading.DeviceID]
	if !exists {
		entry = &deviceEntry{
			state: models.DeviceState{
				ID:     reading.DeviceID,
				Kind:   models.KindForID(reading.DeviceID),
				Status: models.StatusActive,
				Latest: models.CanonicalReading{DeviceID: reading.DeviceID},
			},
			onlineStatus: models.StatusActive,
		}
		s.devices[reading.DeviceID] = entry
		result.Created = true
	}
	state := &entry.state

	mergeReading(&state.Latest, reading, flags)

	// lastSeen is wall-clock "last observed" and never moves backwards
	observed := now
	if reading.Timestamp.After(observed) {
		observed = reading.Timestamp
	}
	if observed.After(state.LastSeen) {
		state.LastSeen = observed
	}

	basis := state.Status
	if basis == models.StatusOffline {
		result.WasOffline = true
		if state.OfflineSince != nil {
			result.OfflineSince = *state.OfflineSince
		}
		basis = entry.onlineStatus
	}
	state.Status = nextStatus(basis, flags, reading)
	state.OfflineSince = nil
	entry.onlineStatus = state.Status

	state.BatteryPercent = s.battery.Percent(state.Latest.BatteryVoltage)
	state.BatteryBand = models.BandForPercent(state.BatteryPercent)

	result.State = state.Clone()
	return result
}

// nextStatus keeps alarms sticky until the device explicitly reports a
// non-event status
func nextStatus(basis models.DeviceStatus, flags models.EventSet, reading models.CanonicalReading) models.DeviceStatus {
	switch {
	case flags.Has(models.EventFall):
		return models.StatusCritical
	case flags.Has(models.EventHelp):
		return models.StatusHelpNeeded
	case IsExplicitClear(reading):
		return models.StatusActive
	case basis == models.StatusOffline || basis == "":
		return models.StatusActive
	default:
		return basis
	}
}

func mergeReading(latest *models.CanonicalReading, in models.CanonicalReading, flags models.EventSet) {
	if in.Timestamp.After(latest.Timestamp) {
		latest.Timestamp = in.Timestamp
	}
	if in.Acceleration != nil {
		latest.Acceleration = models.CloneFloat(in.Acceleration)
	}
	if in.Temperature != nil {
		latest.Temperature = models.CloneFloat(in.Temperature)
	}
	if in.Humidity != nil {
		latest.Humidity = models.CloneFloat(in.Humidity)
	}
	if in.Pressure != nil {
		latest.Pressure = models.CloneFloat(in.Pressure)
	}
	if in.BatteryVoltage != nil {
		latest.BatteryVoltage = models.CloneFloat(in.BatteryVoltage)
	}
	if in.ReportedStatus != "" {
		latest.ReportedStatus = in.ReportedStatus
	}
	if in.Source != "" {
		latest.Source = in.Source
	}
	latest.EventFlags = flags.Union(nil)
}

// MarkOffline moves every device silent for longer than timeout to OFFLINE
// and clears its battery readout. Returns the ids that changed, sorted.
func (s *DeviceStore) MarkOffline(now time.Time, timeout time.Duration) []string {
	var changed []string
	for id, entry := range s.devices {
		state := &entry.state
		if state.Status == models.StatusOffline {
			continue
		}
		if now.Sub(state.LastSeen) <= timeout {
			continue
		}
		entry.onlineStatus = state.Status
		state.Status = models.StatusOffline
		offlineAt := now
		state.OfflineSince = &offlineAt
		state.Latest.BatteryVoltage = nil
		state.BatteryPercent = nil
		state.BatteryBand = models.BatteryUnknown
		changed = append(changed, id)
	}
	sort.Strings(changed)
	return changed
}

// Get returns a copy of one device's state
func (s *DeviceStore) Get(id string) (models.DeviceState, bool) {
	entry, ok := s.devices[id]
	if !ok {
		return models.DeviceState{}, false
	}
	return entry.state.Clone(), true
}

// All returns copies of every device's state ordered by id
func (s *DeviceStore) All() []models.DeviceState {
	out := make([]models.DeviceState, 0, len(s.devices))
	for _, entry := range s.devices {
		out = append(out, entry.state.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *DeviceStore) Len() int { return len(s.devices) }

func (s *DeviceStore) has(id string) bool {
	_, ok := s.devices[id]
	return ok
}
