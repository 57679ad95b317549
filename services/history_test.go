package services

import (
	"testing"
	"time"

	"wearwatch/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRing_EvictsOldestFirst(t *testing.T) {
	r := NewRing[int](3)
	assert.False(t, r.Push(1))
	assert.False(t, r.Push(2))
	assert.False(t, r.Push(3))
	assert.True(t, r.Push(4))

	assert.Equal(t, []int{2, 3, 4}, r.Items())
	assert.Equal(t, 3, r.Len())
	assert.Equal(t, 3, r.Cap())
}

func TestRing_MinimumCapacity(t *testing.T) {
	r := NewRing[string](0)
	r.Push("a")
	r.Push("b")
	assert.Equal(t, []string{"b"}, r.Items())
}

func TestHistoryBuffers_CapacityPlusOne(t *testing.T) {
	h := NewHistoryBuffers(5)
	for i := 0; i < 6; i++ {
		h.Append("D1", models.HistoryPoint{
			Timestamp:   testNow.Add(time.Duration(i) * time.Second),
			Temperature: models.Float(float64(i)),
		})
	}

	points := h.Get("D1")
	require.Len(t, points, 5)
	assert.Equal(t, 1.0, *points[0].Temperature, "first point evicted")
	assert.Equal(t, 5.0, *points[4].Temperature)
	for i := 1; i < len(points); i++ {
		assert.True(t, points[i].Timestamp.After(points[i-1].Timestamp))
	}
}

func TestHistoryBuffers_RetainedPerDevice(t *testing.T) {
	h := NewHistoryBuffers(3)
	h.Append("A", models.HistoryPoint{Timestamp: testNow})
	h.Append("B", models.HistoryPoint{Timestamp: testNow})
	h.Append("A", models.HistoryPoint{Timestamp: testNow.Add(time.Second)})

	// reading B does not disturb A
	assert.Len(t, h.Get("B"), 1)
	assert.Len(t, h.Get("A"), 2)
	assert.Equal(t, []string{"A", "B"}, h.DeviceIDs())
}

func TestHistoryBuffers_UnknownDeviceIsEmpty(t *testing.T) {
	h := NewHistoryBuffers(3)
	points := h.Get("nope")
	assert.NotNil(t, points)
	assert.Empty(t, points)
	assert.Equal(t, 0, h.Len("nope"))
}

func TestHistoryBuffers_GetReturnsCopies(t *testing.T) {
	h := NewHistoryBuffers(3)
	h.Append("D1", models.HistoryPoint{Timestamp: testNow, Temperature: models.Float(20)})

	points := h.Get("D1")
	*points[0].Temperature = 99

	assert.Equal(t, 20.0, *h.Get("D1")[0].Temperature)
}

func TestHistoryPointFor_EventFlag(t *testing.T) {
	r := sampleReading("D1")
	assert.False(t, historyPointFor(r, models.NewEventSet(models.EventThreshold), testNow).IsEvent)
	assert.True(t, historyPointFor(r, models.NewEventSet(models.EventHelp), testNow).IsEvent)
	assert.True(t, historyPointFor(r, models.NewEventSet(models.EventFall), testNow).IsEvent)
}
