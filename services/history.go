package services

import (
	"sort"
	"time"

	"wearwatch/models"
)

// HistoryBuffers keeps a bounded time series per device. History is retained
// for every device at once; which device a chart shows is a presentation concern.
// Not safe for concurrent use; the Engine serializes access.
type HistoryBuffers struct {
	capacity int
	series   map[string]*Ring[models.HistoryPoint]
}

func NewHistoryBuffers(capacity int) *HistoryBuffers {
	return &HistoryBuffers{
		capacity: capacity,
		series:   make(map[string]*Ring[models.HistoryPoint]),
	}
}

// Append adds a point, evicting the device's oldest point when full
func (h *HistoryBuffers) Append(deviceID string, point models.HistoryPoint) {
	ring, ok := h.series[deviceID]
	if !ok {
		ring = NewRing[models.HistoryPoint](h.capacity)
		h.series[deviceID] = ring
	}
	ring.Push(point)
}

// Get returns the device's retained points, oldest first
func (h *HistoryBuffers) Get(deviceID string) []models.HistoryPoint {
	ring, ok := h.series[deviceID]
	if !ok {
		return []models.HistoryPoint{}
	}
	items := ring.Items()
	for i := range items {
		items[i] = clonePoint(items[i])
	}
	return items
}

func (h *HistoryBuffers) Len(deviceID string) int {
	if ring, ok := h.series[deviceID]; ok {
		return ring.Len()
	}
	return 0
}

func (h *HistoryBuffers) Capacity() int { return h.capacity }

// DeviceIDs lists devices with retained history, sorted
func (h *HistoryBuffers) DeviceIDs() []string {
	ids := make([]string, 0, len(h.series))
	for id := range h.series {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// each visits the stored points without copying
func (h *HistoryBuffers) each(deviceID string, fn func(models.HistoryPoint)) {
	ring, ok := h.series[deviceID]
	if !ok {
		return
	}
	for i := 0; i < ring.size; i++ {
		fn(ring.buf[(ring.start+i)%len(ring.buf)])
	}
}

func historyPointFor(reading models.CanonicalReading, flags models.EventSet, receivedAt time.Time) models.HistoryPoint {
	return models.HistoryPoint{
		Timestamp:    reading.Timestamp,
		ReceivedAt:   receivedAt,
		Acceleration: models.CloneFloat(reading.Acceleration),
		Temperature:  models.CloneFloat(reading.Temperature),
		Humidity:     models.CloneFloat(reading.Humidity),
		IsEvent:      flags.Has(models.EventFall) || flags.Has(models.EventHelp),
	}
}

func clonePoint(p models.HistoryPoint) models.HistoryPoint {
	p.Acceleration = models.CloneFloat(p.Acceleration)
	p.Temperature = models.CloneFloat(p.Temperature)
	p.Humidity = models.CloneFloat(p.Humidity)
	return p
}
