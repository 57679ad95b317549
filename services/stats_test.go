package services

import (
	"testing"
	"time"

	"wearwatch/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeStats_AbsentValuesAreIgnored(t *testing.T) {
	store := NewDeviceStore(DefaultBatteryScale())
	history := NewHistoryBuffers(10)
	alerts := NewAlertLog(10)

	for _, id := range []string{"A", "B"} {
		store.Ingest(sampleReading(id), models.NewEventSet(), testNow)
		history.Append(id, models.HistoryPoint{Timestamp: testNow})
	}

	stats := ComputeStats(store, history, alerts, "", time.Minute, testNow)
	assert.Equal(t, 2, stats.DeviceCount)
	assert.Nil(t, stats.PeakAcceleration)
	assert.Nil(t, stats.AvgTemperature)
	assert.Nil(t, stats.AvgHumidity)
	assert.Equal(t, 0, stats.EventCount)
}

func TestComputeStats_PeakAndAverage(t *testing.T) {
	store := NewDeviceStore(DefaultBatteryScale())
	history := NewHistoryBuffers(10)
	alerts := NewAlertLog(10)

	store.Ingest(sampleReading("A"), models.NewEventSet(), testNow)
	store.Ingest(sampleReading("B"), models.NewEventSet(), testNow)
	history.Append("A", models.HistoryPoint{Timestamp: testNow, Acceleration: models.Float(1.2), Temperature: models.Float(36)})
	history.Append("A", models.HistoryPoint{Timestamp: testNow, Acceleration: models.Float(4.1)})
	history.Append("B", models.HistoryPoint{Timestamp: testNow, Temperature: models.Float(38), Humidity: models.Float(60)})
	alerts.Record(models.AlertRecord{DeviceID: "A", Kind: models.AlertFall})

	stats := ComputeStats(store, history, alerts, "", time.Minute, testNow)
	require.NotNil(t, stats.PeakAcceleration)
	assert.Equal(t, 4.1, *stats.PeakAcceleration)
	require.NotNil(t, stats.AvgTemperature)
	assert.InDelta(t, 37.0, *stats.AvgTemperature, 1e-9)
	require.NotNil(t, stats.AvgHumidity)
	assert.Equal(t, 60.0, *stats.AvgHumidity)
	assert.Equal(t, 1, stats.EventCount)

	scoped := ComputeStats(store, history, alerts, "B", time.Minute, testNow)
	assert.Equal(t, 1, scoped.DeviceCount)
	assert.Nil(t, scoped.PeakAcceleration)
	assert.Equal(t, 38.0, *scoped.AvgTemperature)
	assert.Equal(t, 0, scoped.EventCount)
}

func TestComputeStats_Window(t *testing.T) {
	store := NewDeviceStore(DefaultBatteryScale())
	history := NewHistoryBuffers(10)
	alerts := NewAlertLog(10)

	store.Ingest(sampleReading("A"), models.NewEventSet(), testNow)
	history.Append("A", models.HistoryPoint{Timestamp: testNow.Add(-2 * time.Minute), Acceleration: models.Float(5)})
	history.Append("A", models.HistoryPoint{Timestamp: testNow.Add(-10 * time.Second), Acceleration: models.Float(1)})

	windowed := ComputeStats(store, history, alerts, "", time.Minute, testNow)
	assert.Equal(t, 1.0, *windowed.PeakAcceleration)

	all := ComputeStats(store, history, alerts, "", 0, testNow)
	assert.Equal(t, 5.0, *all.PeakAcceleration)
}

func TestComputeStats_WindowUsesReceiveTime(t *testing.T) {
	store := NewDeviceStore(DefaultBatteryScale())
	history := NewHistoryBuffers(10)
	alerts := NewAlertLog(10)

	// device clock lags the host by ten minutes
	lagging := testNow.Add(-10 * time.Minute)
	store.Ingest(sampleReading("A"), models.NewEventSet(), testNow)
	history.Append("A", models.HistoryPoint{Timestamp: lagging, ReceivedAt: testNow.Add(-5 * time.Second), Temperature: models.Float(36.5)})
	history.Append("A", models.HistoryPoint{Timestamp: lagging, ReceivedAt: testNow.Add(-2 * time.Minute), Temperature: models.Float(40)})

	stats := ComputeStats(store, history, alerts, "A", time.Minute, testNow)
	require.NotNil(t, stats.AvgTemperature)
	assert.Equal(t, 36.5, *stats.AvgTemperature)
}

func TestComputeStats_UnknownScope(t *testing.T) {
	stats := ComputeStats(NewDeviceStore(DefaultBatteryScale()), NewHistoryBuffers(3), NewAlertLog(3), "ghost", time.Minute, testNow)
	assert.Equal(t, 0, stats.DeviceCount)
	assert.Nil(t, stats.AvgTemperature)
}

func TestComputeStats_DoesNotMutate(t *testing.T) {
	store := NewDeviceStore(DefaultBatteryScale())
	history := NewHistoryBuffers(3)
	alerts := NewAlertLog(3)
	history.Append("A", models.HistoryPoint{Timestamp: testNow, Temperature: models.Float(20)})

	ComputeStats(store, history, alerts, "", time.Minute, testNow)
	ComputeStats(store, history, alerts, "A", time.Minute, testNow)

	assert.Equal(t, 1, history.Len("A"))
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 20.0, *history.Get("A")[0].Temperature)
}
