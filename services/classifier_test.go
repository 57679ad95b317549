package services

import (
	"testing"

	"wearwatch/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleReading(id string) models.CanonicalReading {
	return models.CanonicalReading{DeviceID: id, Timestamp: testNow, EventFlags: models.NewEventSet()}
}

func TestClassify_FallFromAccelerationThreshold(t *testing.T) {
	th := DefaultThresholds()

	r := sampleReading("D1")
	r.Acceleration = models.Float(3.5)
	assert.True(t, Classify(r, th).Has(models.EventFall), "threshold is inclusive")

	r.Acceleration = models.Float(3.49)
	assert.False(t, Classify(r, th).Has(models.EventFall))

	r.Acceleration = nil
	assert.Empty(t, Classify(r, th))
}

func TestClassify_ExplicitFlagsPassThrough(t *testing.T) {
	r := sampleReading("D1")
	r.EventFlags = models.NewEventSet(models.EventFall, models.EventHelp)
	r.Acceleration = models.Float(0.9)

	flags := Classify(r, DefaultThresholds())
	assert.True(t, flags.Has(models.EventFall))
	assert.True(t, flags.Has(models.EventHelp))
	assert.False(t, flags.Has(models.EventThreshold))
}

func TestClassify_HelpHasNoFallback(t *testing.T) {
	r := sampleReading("D1")
	r.Acceleration = models.Float(9)
	r.Temperature = models.Float(45)
	assert.False(t, Classify(r, DefaultThresholds()).Has(models.EventHelp))
}

func TestClassify_Threshold(t *testing.T) {
	th := Thresholds{FallAccel: 3.5, TempHigh: 38, HumidityHigh: 80}

	r := sampleReading("D1")
	r.Temperature = models.Float(38)
	assert.True(t, Classify(r, th).Has(models.EventThreshold))

	r.Temperature = models.Float(37.9)
	r.Humidity = models.Float(81)
	flags := Classify(r, th)
	assert.True(t, flags.Has(models.EventThreshold))
	assert.False(t, flags.Has(models.EventFall))
}

func TestClassify_IsDeterministic(t *testing.T) {
	r := sampleReading("D1")
	r.Acceleration = models.Float(4)
	r.Humidity = models.Float(90)

	first := Classify(r, DefaultThresholds())
	second := Classify(r, DefaultThresholds())
	assert.Equal(t, first.Sorted(), second.Sorted())
	assert.Empty(t, r.EventFlags, "input reading is not modified")
}

func TestBreaches_TemperatureFirst(t *testing.T) {
	r := sampleReading("D1")
	r.Temperature = models.Float(39)
	r.Humidity = models.Float(85)

	breaches := Breaches(r, DefaultThresholds())
	require.Len(t, breaches, 2)
	assert.Equal(t, "temperature", breaches[0].Metric)
	assert.Equal(t, 39.0, breaches[0].Value)
	assert.Equal(t, "humidity", breaches[1].Metric)
}

func TestIsExplicitClear(t *testing.T) {
	r := sampleReading("D1")
	assert.False(t, IsExplicitClear(r))

	r.ReportedStatus = "Active"
	assert.True(t, IsExplicitClear(r))

	r.ReportedStatus = "CRITICAL"
	assert.False(t, IsExplicitClear(r))

	r.ReportedStatus = "help-needed"
	assert.False(t, IsExplicitClear(r))
}

func TestVocabulary(t *testing.T) {
	assert.True(t, MatchesFallVocabulary("Fall Detected"))
	assert.True(t, MatchesFallVocabulary(" impact "))
	assert.False(t, MatchesFallVocabulary("Belt_Fall_Detector"))
	assert.True(t, MatchesHelpVocabulary("SOS"))
	assert.True(t, MatchesHelpVocabulary("button-press"))
	assert.False(t, MatchesHelpVocabulary("helpful"))
}
