package services

import (
	"strings"

	"wearwatch/config"
	"wearwatch/models"
)

// Vocabularies are matched against lowercased text with spaces and dashes
// folded to underscores, so "HELP NEEDED" and "help-needed" are the same word.
var (
	fallVocabulary = map[string]struct{}{
		"fall": {}, "fallen": {}, "fall_detected": {}, "fall_alert": {},
		"critical": {}, "impact": {},
	}
	helpVocabulary = map[string]struct{}{
		"help": {}, "help_needed": {}, "help_requested": {}, "call_for_help": {},
		"sos": {}, "emergency": {}, "button_press": {},
	}
)

func foldWord(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

// MatchesFallVocabulary reports whether text names a fall or critical condition
func MatchesFallVocabulary(s string) bool {
	_, ok := fallVocabulary[foldWord(s)]
	return ok
}

// MatchesHelpVocabulary reports whether text names a help request
func MatchesHelpVocabulary(s string) bool {
	_, ok := helpVocabulary[foldWord(s)]
	return ok
}

// Thresholds drive classification
type Thresholds struct {
	FallAccel    float64
	TempHigh     float64
	HumidityHigh float64
}

// DefaultThresholds matches the documented defaults
func DefaultThresholds() Thresholds {
	return Thresholds{FallAccel: 3.5, TempHigh: 38.0, HumidityHigh: 80.0}
}

// ThresholdsFromConfig picks the classification settings out of the config
func ThresholdsFromConfig(cfg *config.Config) Thresholds {
	return Thresholds{
		FallAccel:    cfg.FallAccelThreshold,
		TempHigh:     cfg.TempHighThreshold,
		HumidityHigh: cfg.HumidityHighThreshold,
	}
}

// Breach describes a high-water mark crossed by a reading
type Breach struct {
	Metric    string
	Value     float64
	Threshold float64
}

// Classify derives event flags from a reading. It is pure: the same reading
// and thresholds always produce the same set.
func Classify(reading models.CanonicalReading, th Thresholds) models.EventSet {
	flags := models.NewEventSet()
	if reading.EventFlags.Has(models.EventFall) {
		flags.Add(models.EventFall)
	}
	if reading.EventFlags.Has(models.EventHelp) {
		flags.Add(models.EventHelp)
	}
	if reading.Acceleration != nil && *reading.Acceleration >= th.FallAccel {
		flags.Add(models.EventFall)
	}
	if len(Breaches(reading, th)) > 0 {
		flags.Add(models.EventThreshold)
	}
	return flags
}

// Breaches lists the temperature and humidity marks crossed, temperature first
func Breaches(reading models.CanonicalReading, th Thresholds) []Breach {
	var out []Breach
	if reading.Temperature != nil && *reading.Temperature >= th.TempHigh {
		out = append(out, Breach{Metric: "temperature", Value: *reading.Temperature, Threshold: th.TempHigh})
	}
	if reading.Humidity != nil && *reading.Humidity >= th.HumidityHigh {
		out = append(out, Breach{Metric: "humidity", Value: *reading.Humidity, Threshold: th.HumidityHigh})
	}
	return out
}

// IsExplicitClear reports whether the device sent a status that is not an
// event, e.g. a heartbeat with "status":"Active"
func IsExplicitClear(reading models.CanonicalReading) bool {
	if reading.ReportedStatus == "" {
		return false
	}
	return !MatchesFallVocabulary(reading.ReportedStatus) && !MatchesHelpVocabulary(reading.ReportedStatus)
}
