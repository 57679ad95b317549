package services

import (
	"time"

	"wearwatch/models"
)

// ComputeStats summarises the fleet, or one device when scope is set.
// Peak and averages skip absent values and stay nil when nothing is present;
// window <= 0 covers the whole retained history. The window is measured on
// the time a point was received, so a lagging device clock does not hide its
// values. It never mutates its inputs.
func ComputeStats(store *DeviceStore, history *HistoryBuffers, alerts *AlertLog, scope string, window time.Duration, now time.Time) models.Stats {
	var stats models.Stats

	var ids []string
	if scope == "" {
		stats.DeviceCount = store.Len()
		ids = history.DeviceIDs()
	} else {
		if store.has(scope) {
			stats.DeviceCount = 1
		}
		ids = []string{scope}
	}

	var cutoff time.Time
	if window > 0 {
		cutoff = now.Add(-window)
	}

	var peak *float64
	var tempSum, humSum float64
	var tempN, humN int
	for _, id := range ids {
		history.each(id, func(p models.HistoryPoint) {
			if !cutoff.IsZero() && pointTime(p).Before(cutoff) {
				return
			}
			if p.Acceleration != nil && (peak == nil || *p.Acceleration > *peak) {
				peak = models.Float(*p.Acceleration)
			}
			if p.Temperature != nil {
				tempSum += *p.Temperature
				tempN++
			}
			if p.Humidity != nil {
				humSum += *p.Humidity
				humN++
			}
		})
	}

	stats.PeakAcceleration = peak
	if tempN > 0 {
		stats.AvgTemperature = models.Float(tempSum / float64(tempN))
	}
	if humN > 0 {
		stats.AvgHumidity = models.Float(humSum / float64(humN))
	}
	stats.EventCount = alerts.Count(scope)
	return stats
}

// pointTime prefers the receive time; points appended without one fall back
// to the device timestamp
func pointTime(p models.HistoryPoint) time.Time {
	if !p.ReceivedAt.IsZero() {
		return p.ReceivedAt
	}
	return p.Timestamp
}
