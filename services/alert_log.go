package services

import (
	"wearwatch/models"

	"github.com/google/uuid"
)

// AlertLog holds the most recent alerts, newest first. Recording into a full
// log drops the oldest entry from the tail.
// Not safe for concurrent use; the Engine serializes access.
type AlertLog struct {
	capacity int
	records  []models.AlertRecord
}

func NewAlertLog(capacity int) *AlertLog {
	if capacity < 1 {
		capacity = 1
	}
	return &AlertLog{
		capacity: capacity,
		records:  make([]models.AlertRecord, 0, capacity),
	}
}

// Record prepends the alert, assigning an id when it has none
func (l *AlertLog) Record(rec models.AlertRecord) models.AlertRecord {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if len(l.records) < l.capacity {
		l.records = append(l.records, models.AlertRecord{})
	}
	copy(l.records[1:], l.records[:len(l.records)-1])
	l.records[0] = rec
	return rec
}

// Items returns a copy, most recent first
func (l *AlertLog) Items() []models.AlertRecord {
	out := make([]models.AlertRecord, len(l.records))
	for i, rec := range l.records {
		rec.Magnitude = models.CloneFloat(rec.Magnitude)
		out[i] = rec
	}
	return out
}

func (l *AlertLog) Len() int { return len(l.records) }

func (l *AlertLog) Capacity() int { return l.capacity }

// Count returns the number of retained alerts, for one device when deviceID is set
func (l *AlertLog) Count(deviceID string) int {
	if deviceID == "" {
		return len(l.records)
	}
	n := 0
	for _, rec := range l.records {
		if rec.DeviceID == deviceID {
			n++
		}
	}
	return n
}
