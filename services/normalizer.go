package services

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"wearwatch/models"

	"github.com/spf13/cast"
)

// Schema lists candidate keys per logical field, tried in order.
// Sources pass their own copy to add hints such as a topic-implied event.
type Schema struct {
	DeviceIDKeys     []string
	TimestampKeys    []string
	AccelerationKeys []string
	AccelAxisKeys    [][3]string
	TemperatureKeys  []string
	HumidityKeys     []string
	PressureKeys     []string
	BatteryKeys      []string
	// FallFlagKeys and HelpFlagKeys accept booleans, positive numbers and truthy strings
	FallFlagKeys []string
	HelpFlagKeys []string
	// SignalKeys carry free text matched against the fall and help vocabularies
	SignalKeys []string
	StatusKeys []string

	FallbackDeviceID string
	ImpliedEvent     models.EventFlag
	Source           string
}

// DefaultSchema covers the unit firmware payloads and the common REST shapes
func DefaultSchema() Schema {
	return Schema{
		DeviceIDKeys:     []string{"unit_id", "device_id", "deviceId", "id", "device", "sensor_id"},
		TimestampKeys:    []string{"timestamp", "ts", "time", "created_at"},
		AccelerationKeys: []string{"g_force", "accel", "acceleration", "accel_g", "magnitude"},
		AccelAxisKeys: [][3]string{
			{"accel_x", "accel_y", "accel_z"},
			{"ax", "ay", "az"},
			{"x", "y", "z"},
		},
		TemperatureKeys: []string{"temp", "temperature", "temperature_dht", "temp_c"},
		HumidityKeys:    []string{"humidity", "hum", "rh"},
		PressureKeys:    []string{"pressure", "pres", "baro"},
		BatteryKeys:     []string{"battery", "battery_voltage", "voltage", "bat"},
		FallFlagKeys:    []string{"isFall", "is_fall", "fall", "fall_detected", "fallDetected"},
		HelpFlagKeys:    []string{"help", "help_needed", "helpNeeded", "emerg", "emergency"},
		SignalKeys:      []string{"event", "type", "priority", "alert", "status"},
		StatusKeys:      []string{"status", "state"},

		FallbackDeviceID: "Unknown",
	}
}

// WithImpliedEvent returns a copy of the schema that asserts the given event
func (s Schema) WithImpliedEvent(event models.EventFlag) Schema {
	s.ImpliedEvent = event
	return s
}

// WithSource returns a copy of the schema tagged with the source name
func (s Schema) WithSource(source string) Schema {
	s.Source = source
	return s
}

// Normalize maps an untrusted payload to canonical readings. It never fails:
// arrays yield one reading per element in order, and anything unresolvable
// becomes absent. now is used when the payload carries no timestamp.
func Normalize(raw any, schema Schema, now time.Time) []models.CanonicalReading {
	var out []models.CanonicalReading
	normalizeInto(&out, raw, schema, now)
	return out
}

func normalizeInto(out *[]models.CanonicalReading, raw any, schema Schema, now time.Time) {
	switch v := raw.(type) {
	case map[string]any:
		*out = append(*out, normalizeObject(v, schema, now))
	case []any:
		for _, elem := range v {
			normalizeInto(out, elem, schema, now)
		}
	case []map[string]any:
		for _, elem := range v {
			*out = append(*out, normalizeObject(elem, schema, now))
		}
	case []byte:
		normalizeInto(out, decodeJSON(v), schema, now)
	case json.RawMessage:
		normalizeInto(out, decodeJSON(v), schema, now)
	case string:
		normalizeInto(out, decodeJSON([]byte(v)), schema, now)
	case nil:
		*out = append(*out, normalizeObject(nil, schema, now))
	default:
		// Typed values (structs, typed maps) go through a JSON round trip
		b, err := json.Marshal(v)
		if err != nil {
			*out = append(*out, normalizeObject(nil, schema, now))
			return
		}
		decoded := decodeJSON(b)
		if _, isMap := decoded.(map[string]any); !isMap {
			if _, isSlice := decoded.([]any); !isSlice {
				*out = append(*out, normalizeObject(nil, schema, now))
				return
			}
		}
		normalizeInto(out, decoded, schema, now)
	}
}

// decodeJSON returns nil for anything that is not an object or array
func decodeJSON(b []byte) any {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil
	}
	switch v.(type) {
	case map[string]any, []any:
		return v
	}
	return nil
}

func normalizeObject(obj map[string]any, schema Schema, now time.Time) models.CanonicalReading {
	fields := newFieldIndex(flattenEnvelope(obj))

	reading := models.CanonicalReading{
		DeviceID:   resolveDeviceID(fields, schema),
		Timestamp:  resolveTimestamp(fields, schema.TimestampKeys, now),
		Source:     schema.Source,
		EventFlags: models.NewEventSet(),
	}
	reading.Acceleration = resolveAcceleration(fields, schema)
	reading.Temperature = resolveFloat(fields, schema.TemperatureKeys)
	reading.Humidity = resolveFloat(fields, schema.HumidityKeys)
	reading.Pressure = resolveFloat(fields, schema.PressureKeys)
	reading.BatteryVoltage = resolveFloat(fields, schema.BatteryKeys)
	reading.ReportedStatus = resolveStatus(fields, schema.StatusKeys)

	for _, key := range schema.FallFlagKeys {
		if v, ok := fields.get(key); ok && isAsserted(v, MatchesFallVocabulary) {
			reading.EventFlags.Add(models.EventFall)
		}
	}
	for _, key := range schema.HelpFlagKeys {
		if v, ok := fields.get(key); ok && isAsserted(v, MatchesHelpVocabulary) {
			reading.EventFlags.Add(models.EventHelp)
		}
	}
	for _, key := range schema.SignalKeys {
		s, ok := fields.getString(key)
		if !ok {
			continue
		}
		if MatchesFallVocabulary(s) {
			reading.EventFlags.Add(models.EventFall)
		}
		if MatchesHelpVocabulary(s) {
			reading.EventFlags.Add(models.EventHelp)
		}
	}
	if schema.ImpliedEvent == models.EventFall || schema.ImpliedEvent == models.EventHelp {
		reading.EventFlags.Add(schema.ImpliedEvent)
	}

	return reading
}

// flattenEnvelope unwraps push envelopes like {"type":"FALL","data":{...}}.
// Nested fields win; envelope fields fill the gaps.
func flattenEnvelope(obj map[string]any) map[string]any {
	inner, ok := obj["data"].(map[string]any)
	if !ok {
		return obj
	}
	merged := make(map[string]any, len(obj)+len(inner))
	for k, v := range obj {
		if k != "data" {
			merged[k] = v
		}
	}
	for k, v := range inner {
		merged[k] = v
	}
	return merged
}

// fieldIndex resolves keys exactly first, then case-insensitively
type fieldIndex struct {
	exact map[string]any
	lower map[string]any
}

func newFieldIndex(obj map[string]any) fieldIndex {
	lower := make(map[string]any, len(obj))
	for k, v := range obj {
		lk := strings.ToLower(k)
		if _, dup := lower[lk]; !dup {
			lower[lk] = v
		}
	}
	return fieldIndex{exact: obj, lower: lower}
}

func (f fieldIndex) get(key string) (any, bool) {
	if v, ok := f.exact[key]; ok && v != nil {
		return v, true
	}
	if v, ok := f.lower[strings.ToLower(key)]; ok && v != nil {
		return v, true
	}
	return nil, false
}

func (f fieldIndex) getString(key string) (string, bool) {
	v, ok := f.get(key)
	if !ok {
		return "", false
	}
	s, isString := v.(string)
	if !isString {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func resolveDeviceID(fields fieldIndex, schema Schema) string {
	for _, key := range schema.DeviceIDKeys {
		v, ok := fields.get(key)
		if !ok {
			continue
		}
		switch v.(type) {
		case bool, map[string]any, []any:
			continue
		}
		if s, err := cast.ToStringE(v); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				return s
			}
		}
	}
	if schema.FallbackDeviceID != "" {
		return schema.FallbackDeviceID
	}
	return "Unknown"
}

// maxClockAhead bounds how far a device timestamp may run ahead of the
// ingesting host before it is treated as unparseable
const maxClockAhead = 24 * time.Hour

// resolveTimestamp returns the first plausible instant among keys, else now.
// A zero now skips the clock-ahead check.
func resolveTimestamp(fields fieldIndex, keys []string, now time.Time) time.Time {
	for _, key := range keys {
		v, ok := fields.get(key)
		if !ok {
			continue
		}
		if t, ok := toTime(v); ok && plausibleInstant(t, now) {
			return t
		}
	}
	return now
}

func plausibleInstant(t, now time.Time) bool {
	if t.Year() < 1970 || t.Year() > 9999 {
		return false
	}
	return now.IsZero() || !t.After(now.Add(maxClockAhead))
}

func toTime(v any) (time.Time, bool) {
	switch tv := v.(type) {
	case time.Time:
		return tv, !tv.IsZero()
	case bool, map[string]any, []any:
		return time.Time{}, false
	case string:
		s := strings.TrimSpace(tv)
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return epochToTime(f)
		}
		t, err := cast.ToTimeE(s)
		if err != nil || t.IsZero() {
			return time.Time{}, false
		}
		return t, true
	}
	if f := toFloat(v); f != nil {
		return epochToTime(*f)
	}
	return time.Time{}, false
}

// epochToTime accepts seconds, milliseconds, microseconds or nanoseconds
// since the epoch, picking the unit by magnitude
func epochToTime(f float64) (time.Time, bool) {
	switch {
	case f <= 0 || f >= math.MaxInt64:
		return time.Time{}, false
	case f > 1e17:
		return time.Unix(0, int64(f)), true
	case f > 1e14:
		return time.UnixMicro(int64(f)), true
	case f > 1e11:
		return time.UnixMilli(int64(f)), true
	}
	sec, frac := math.Modf(f)
	return time.Unix(int64(sec), int64(frac*1e9)), true
}

// toFloat coerces numbers and numeric strings; everything else is absent
func toFloat(v any) *float64 {
	switch tv := v.(type) {
	case nil, bool, map[string]any, []any:
		return nil
	case string:
		v = strings.TrimSpace(tv)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return &f
}

func resolveFloat(fields fieldIndex, keys []string) *float64 {
	for _, key := range keys {
		if v, ok := fields.get(key); ok {
			if f := toFloat(v); f != nil {
				return f
			}
		}
	}
	return nil
}

func resolveAcceleration(fields fieldIndex, schema Schema) *float64 {
	for _, key := range schema.AccelerationKeys {
		v, ok := fields.get(key)
		if !ok {
			continue
		}
		if nested, isMap := v.(map[string]any); isMap {
			if mag := axisMagnitude(newFieldIndex(nested), [3]string{"x", "y", "z"}); mag != nil {
				return mag
			}
			continue
		}
		if f := toFloat(v); f != nil {
			return f
		}
	}
	for _, axes := range schema.AccelAxisKeys {
		if mag := axisMagnitude(fields, axes); mag != nil {
			return mag
		}
	}
	return nil
}

// axisMagnitude is the Euclidean norm, only when all three axes are present
func axisMagnitude(fields fieldIndex, axes [3]string) *float64 {
	var sum float64
	for _, key := range axes {
		v, ok := fields.get(key)
		if !ok {
			return nil
		}
		f := toFloat(v)
		if f == nil {
			return nil
		}
		sum += *f * *f
	}
	mag := math.Sqrt(sum)
	return &mag
}

func resolveStatus(fields fieldIndex, keys []string) string {
	for _, key := range keys {
		if s, ok := fields.getString(key); ok {
			return s
		}
	}
	return ""
}

// isAsserted reads an explicit flag value
func isAsserted(v any, vocabulary func(string) bool) bool {
	switch tv := v.(type) {
	case bool:
		return tv
	case string:
		s := strings.ToLower(strings.TrimSpace(tv))
		switch s {
		case "true", "yes", "on":
			return true
		case "", "false", "no", "off":
			return false
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f > 0
		}
		return vocabulary(s)
	}
	if f := toFloat(v); f != nil {
		return *f > 0
	}
	return false
}
