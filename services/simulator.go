package services

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Simulator generates plausible wearable readings for demos and load tests
type Simulator struct {
	devices  int
	interval time.Duration
	schema   Schema
	logger   *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func NewSimulator(devices int, interval time.Duration, seed int64, schema Schema, logger *zap.Logger) *Simulator {
	if devices < 1 {
		devices = 1
	}
	return &Simulator{
		devices:  devices,
		interval: interval,
		schema:   schema.WithSource("simulator"),
		logger:   logger,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (s *Simulator) Name() string { return "simulator" }

func (s *Simulator) Run(ctx context.Context, sink Sink) error {
	return pollLoop(ctx, s.Name(), s.interval, s.logger, sink, func(ctx context.Context) error {
		return sink.Emit(ctx, s.Generate(time.Now()), s.schema)
	})
}

// Generate returns one reading per simulated device, Device-1..Device-N
func (s *Simulator) Generate(now time.Time) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := make([]map[string]any, 0, s.devices)
	for i := 1; i <= s.devices; i++ {
		batch = append(batch, s.reading(fmt.Sprintf("Device-%d", i), now))
	}
	return batch
}

func (s *Simulator) reading(id string, now time.Time) map[string]any {
	// Resting movement; occasional fall-level impact
	accel := s.between(0.8, 1.6)
	if s.rng.Float64() < 0.05 {
		accel = s.between(3.5, 5.5)
	}

	temp := s.between(35, 39)
	if s.rng.Float64() < 0.02 {
		temp = s.between(38, 39)
	}

	return map[string]any{
		"device_id":   id,
		"timestamp":   now.UnixMilli(),
		"accel":       round(accel, 2),
		"temperature": round(temp, 1),
		"humidity":    round(s.between(40, 70), 1),
		"battery":     round(s.between(3.6, 4.2), 2),
	}
}

func (s *Simulator) between(lo, hi float64) float64 {
	return lo + s.rng.Float64()*(hi-lo)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
