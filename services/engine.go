package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"wearwatch/config"
	"wearwatch/models"

	"go.uber.org/zap"
)

var (
	// ErrEngineStopped is returned by Emit once Run has returned
	ErrEngineStopped = errors.New("engine stopped")
	// ErrQueueFull is returned by Emit when the ingest queue stays full past the emit timeout
	ErrQueueFull = errors.New("ingest queue full")
)

// EngineOptions configures one reconciliation engine instance
type EngineOptions struct {
	Thresholds       Thresholds
	Schema           Schema
	Battery          BatteryScale
	HistoryCapacity  int
	AlertLogCapacity int
	// AlertKinds selects which classified events are written to the alert log
	AlertKinds       []models.AlertKind
	SilenceTimeout   time.Duration
	WatchdogInterval time.Duration
	StatsWindow      time.Duration
	QueueSize        int
	EmitTimeout      time.Duration
	NotifyTimeout    time.Duration
}

func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		Thresholds:       DefaultThresholds(),
		Schema:           DefaultSchema(),
		Battery:          DefaultBatteryScale(),
		HistoryCapacity:  30,
		AlertLogCapacity: 50,
		AlertKinds:       []models.AlertKind{models.AlertFall, models.AlertHelp},
		SilenceTimeout:   40 * time.Second,
		WatchdogInterval: time.Second,
		StatsWindow:      time.Minute,
		QueueSize:        256,
		EmitTimeout:      5 * time.Second,
		NotifyTimeout:    10 * time.Second,
	}
}

// OptionsFromConfig builds engine options from the loaded configuration
func OptionsFromConfig(cfg *config.Config) (EngineOptions, error) {
	opts := DefaultEngineOptions()
	opts.Thresholds = ThresholdsFromConfig(cfg)
	opts.Schema.FallbackDeviceID = cfg.FallbackDeviceID
	opts.Battery = BatteryScale{EmptyVolts: cfg.BatteryEmptyVolts, FullVolts: cfg.BatteryFullVolts}
	opts.HistoryCapacity = cfg.HistoryCapacity
	opts.AlertLogCapacity = cfg.AlertLogCapacity
	opts.SilenceTimeout = cfg.SilenceTimeout()
	opts.WatchdogInterval = cfg.WatchdogInterval()
	opts.StatsWindow = cfg.StatsWindow()
	opts.QueueSize = cfg.IngestQueueSize

	opts.AlertKinds = nil
	for _, raw := range cfg.AlertKinds {
		kind, err := models.ParseAlertKind(raw)
		if err != nil {
			return EngineOptions{}, fmt.Errorf("invalid ALERT_KINDS: %w", err)
		}
		opts.AlertKinds = append(opts.AlertKinds, kind)
	}
	return opts, nil
}

type queuedPayload struct {
	raw    any
	schema Schema
}

type notification struct {
	alert     *models.AlertRecord
	device    models.DeviceState
	offline   bool
	recovered bool
	duration  time.Duration
}

// Engine reconciles readings from every transport into one fleet view.
// All mutation goes through ingest and the watchdog sweep, serialized by mu.
type Engine struct {
	opts   EngineOptions
	logger *zap.Logger

	mu         sync.RWMutex
	store      *DeviceStore
	history    *HistoryBuffers
	alerts     *AlertLog
	alertKinds map[models.AlertKind]bool
	now        func() time.Time

	queue    chan queuedPayload
	notifyCh chan notification

	notifierMu sync.RWMutex
	notifiers  []AlertNotifier

	subsMu      sync.Mutex
	subscribers []chan models.ChangeEvent
	subsClosed  bool

	sourcesMu sync.Mutex
	sources   map[string]*models.SourceStatus

	// emitMu is held shared by every in-flight Emit and exclusively by Run
	// once closing is closed, so no send can land after the final drain
	emitMu  sync.RWMutex
	closing chan struct{}
	running atomic.Bool
	stopped chan struct{}
}

// NewEngine creates an engine. Zero-valued options fall back to the defaults.
func NewEngine(opts EngineOptions, logger *zap.Logger) *Engine {
	defaults := DefaultEngineOptions()
	if opts.HistoryCapacity <= 0 {
		opts.HistoryCapacity = defaults.HistoryCapacity
	}
	if opts.AlertLogCapacity <= 0 {
		opts.AlertLogCapacity = defaults.AlertLogCapacity
	}
	if opts.SilenceTimeout <= 0 {
		opts.SilenceTimeout = defaults.SilenceTimeout
	}
	if opts.WatchdogInterval <= 0 {
		opts.WatchdogInterval = defaults.WatchdogInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaults.QueueSize
	}
	if opts.EmitTimeout <= 0 {
		opts.EmitTimeout = defaults.EmitTimeout
	}
	if opts.NotifyTimeout <= 0 {
		opts.NotifyTimeout = defaults.NotifyTimeout
	}
	if opts.Thresholds == (Thresholds{}) {
		opts.Thresholds = defaults.Thresholds
	}
	if opts.Battery == (BatteryScale{}) {
		opts.Battery = defaults.Battery
	}
	if opts.Schema.DeviceIDKeys == nil {
		fallback := opts.Schema.FallbackDeviceID
		opts.Schema = defaults.Schema
		if fallback != "" {
			opts.Schema.FallbackDeviceID = fallback
		}
	}

	kinds := make(map[models.AlertKind]bool, len(opts.AlertKinds))
	for _, k := range opts.AlertKinds {
		kinds[k] = true
	}

	return &Engine{
		opts:       opts,
		logger:     logger,
		store:      NewDeviceStore(opts.Battery),
		history:    NewHistoryBuffers(opts.HistoryCapacity),
		alerts:     NewAlertLog(opts.AlertLogCapacity),
		alertKinds: kinds,
		now:        time.Now,
		queue:      make(chan queuedPayload, opts.QueueSize),
		notifyCh:   make(chan notification, 64),
		sources:    make(map[string]*models.SourceStatus),
		closing:    make(chan struct{}),
		stopped:    make(chan struct{}),
	}
}

// SetClock replaces the engine's time source (tests, replays)
func (e *Engine) SetClock(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = now
}

func (e *Engine) clock() time.Time {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.now()
}

// Schema returns a copy of the engine's base schema for sources to extend
func (e *Engine) Schema() Schema {
	return e.opts.Schema
}

// Options returns the effective options
func (e *Engine) Options() EngineOptions {
	return e.opts
}

// AddNotifier registers an alert notifier. Notifiers that also implement
// StatusNotifier receive offline and recovery transitions.
func (e *Engine) AddNotifier(n AlertNotifier) {
	e.notifierMu.Lock()
	defer e.notifierMu.Unlock()
	e.notifiers = append(e.notifiers, n)
}

// IngestOne normalizes a single object or an array of objects with the
// engine's schema and ingests each reading in order.
func (e *Engine) IngestOne(raw any) []models.DeviceState {
	return e.IngestWithSchema(raw, e.opts.Schema)
}

// IngestWithSchema is IngestOne with source-specific schema hints
func (e *Engine) IngestWithSchema(raw any, schema Schema) []models.DeviceState {
	readings := Normalize(raw, schema, e.clock())
	states := make([]models.DeviceState, 0, len(readings))
	ids := make([]string, 0, len(readings))
	for _, reading := range readings {
		state, pending := e.ingest(reading)
		e.dispatch(pending)
		states = append(states, state)
		ids = append(ids, state.ID)
	}
	if len(ids) > 0 {
		e.publish(models.ChangeEvent{Reason: models.ChangeIngest, DeviceIDs: uniqueIDs(ids), At: e.clock()})
	}
	return states
}

// IngestReading ingests an already normalized reading
func (e *Engine) IngestReading(reading models.CanonicalReading) models.DeviceState {
	if reading.DeviceID == "" {
		reading.DeviceID = e.opts.Schema.FallbackDeviceID
	}
	state, pending := e.ingest(reading)
	e.dispatch(pending)
	e.publish(models.ChangeEvent{Reason: models.ChangeIngest, DeviceIDs: []string{state.ID}, At: e.clock()})
	return state
}

// ingest is the single critical section for classify, merge, history and alerts
func (e *Engine) ingest(reading models.CanonicalReading) (models.DeviceState, []notification) {
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if reading.Timestamp.IsZero() {
		reading.Timestamp = now
	}
	flags := Classify(reading, e.opts.Thresholds)

	result := e.store.Ingest(reading, flags, now)
	e.history.Append(reading.DeviceID, historyPointFor(reading, flags, now))

	var pending []notification
	for _, rec := range e.alertsFor(reading, flags) {
		recorded := e.alerts.Record(rec)
		pending = append(pending, notification{alert: &recorded, device: result.State})
		e.logger.Warn("Alert recorded",
			zap.String("device_id", recorded.DeviceID),
			zap.String("alert_kind", string(recorded.Kind)),
			zap.String("alert_id", recorded.ID))
	}

	if result.Created {
		e.logger.Info("New device registered", zap.String("device_id", reading.DeviceID))
	}
	if result.WasOffline {
		down := now.Sub(result.OfflineSince)
		e.logger.Info("Device back online",
			zap.String("device_id", reading.DeviceID),
			zap.String("status", string(result.State.Status)),
			zap.Duration("down_duration", down))
		pending = append(pending, notification{device: result.State, recovered: true, duration: down})
	}

	e.logger.Debug("Reading ingested",
		zap.String("device_id", reading.DeviceID),
		zap.String("source", reading.Source),
		zap.String("flags", flags.String()),
		zap.String("status", string(result.State.Status)))

	return result.State, pending
}

// alertsFor yields one record per qualifying event kind in this ingest
func (e *Engine) alertsFor(reading models.CanonicalReading, flags models.EventSet) []models.AlertRecord {
	var out []models.AlertRecord
	if flags.Has(models.EventFall) && e.alertKinds[models.AlertFall] {
		out = append(out, models.AlertRecord{
			DeviceID:  reading.DeviceID,
			Kind:      models.AlertFall,
			Timestamp: reading.Timestamp,
			Magnitude: models.CloneFloat(reading.Acceleration),
		})
	}
	if flags.Has(models.EventHelp) && e.alertKinds[models.AlertHelp] {
		out = append(out, models.AlertRecord{
			DeviceID:  reading.DeviceID,
			Kind:      models.AlertHelp,
			Timestamp: reading.Timestamp,
		})
	}
	if flags.Has(models.EventThreshold) && e.alertKinds[models.AlertThreshold] {
		breach := Breaches(reading, e.opts.Thresholds)[0]
		out = append(out, models.AlertRecord{
			DeviceID:  reading.DeviceID,
			Kind:      models.AlertThreshold,
			Timestamp: reading.Timestamp,
			Magnitude: models.Float(breach.Value),
			Metric:    breach.Metric,
		})
	}
	return out
}

// GetAllDeviceStates returns every device ordered by id
func (e *Engine) GetAllDeviceStates() []models.DeviceState {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.All()
}

func (e *Engine) GetDeviceState(id string) (models.DeviceState, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.store.Get(id)
}

// GetHistory returns the device's retained points, oldest first
func (e *Engine) GetHistory(deviceID string) []models.HistoryPoint {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.history.Get(deviceID)
}

// GetAlerts returns the alert feed, most recent first
func (e *Engine) GetAlerts() []models.AlertRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.alerts.Items()
}

// GetStats summarises the fleet, or one device when scopeDeviceID is set
func (e *Engine) GetStats(scopeDeviceID string) models.Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return ComputeStats(e.store, e.history, e.alerts, scopeDeviceID, e.opts.StatsWindow, e.now())
}

// Emit queues a raw payload for the run loop. It is the entry point for
// transport sources and never blocks longer than the emit timeout.
func (e *Engine) Emit(ctx context.Context, raw any, schema Schema) error {
	e.emitMu.RLock()
	defer e.emitMu.RUnlock()

	select {
	case <-e.closing:
		return ErrEngineStopped
	default:
	}

	timer := time.NewTimer(e.opts.EmitTimeout)
	defer timer.Stop()

	select {
	case e.queue <- queuedPayload{raw: raw, schema: schema}:
		return nil
	case <-e.closing:
		return ErrEngineStopped
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return ErrQueueFull
	}
}

// Subscribe returns a channel of change notifications. Delivery never blocks
// the engine: a subscriber that falls behind misses events. The channel is
// closed when Run returns.
func (e *Engine) Subscribe(buffer int) <-chan models.ChangeEvent {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan models.ChangeEvent, buffer)

	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	if e.subsClosed {
		close(ch)
		return ch
	}
	e.subscribers = append(e.subscribers, ch)
	return ch
}

func (e *Engine) publish(ev models.ChangeEvent) {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	if e.subsClosed {
		return
	}
	for _, ch := range e.subscribers {
		select {
		case ch <- ev:
		default:
			e.logger.Debug("Change subscriber lagging, event dropped",
				zap.String("reason", string(ev.Reason)))
		}
	}
}

func (e *Engine) closeSubscribers() {
	e.subsMu.Lock()
	defer e.subsMu.Unlock()
	if e.subsClosed {
		return
	}
	e.subsClosed = true
	for _, ch := range e.subscribers {
		close(ch)
	}
	e.subscribers = nil
}

func (e *Engine) dispatch(pending []notification) {
	for _, n := range pending {
		select {
		case e.notifyCh <- n:
		default:
			e.logger.Warn("Notification queue full, dropping notification",
				zap.String("device_id", n.device.ID))
		}
	}
}

// Run consumes the ingest queue, runs the staleness watchdog and delivers
// notifications until ctx is cancelled. Queued payloads are drained before
// it returns; state stays queryable afterwards.
func (e *Engine) Run(ctx context.Context) error {
	if !e.running.CompareAndSwap(false, true) {
		return errors.New("engine already running")
	}

	e.logger.Info("Starting reconciliation engine",
		zap.Int("history_capacity", e.opts.HistoryCapacity),
		zap.Int("alert_log_capacity", e.opts.AlertLogCapacity),
		zap.Duration("silence_timeout", e.opts.SilenceTimeout),
		zap.Duration("watchdog_interval", e.opts.WatchdogInterval))

	dispatchCtx, cancelDispatch := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		e.runDispatcher(dispatchCtx)
	}()

	ticker := time.NewTicker(e.opts.WatchdogInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine received shutdown signal")
			close(e.closing)
			// wait for emitters that already passed the closing check
			e.emitMu.Lock()
			drained := e.drainQueue()
			e.emitMu.Unlock()
			close(e.stopped)
			cancelDispatch()
			wg.Wait()
			e.closeSubscribers()
			e.logger.Info("Engine stopped", zap.Int("drained_payloads", drained))
			return nil

		case item := <-e.queue:
			e.IngestWithSchema(item.raw, item.schema)

		case <-ticker.C:
			e.Sweep()
		}
	}
}

func (e *Engine) drainQueue() int {
	n := 0
	for {
		select {
		case item := <-e.queue:
			e.IngestWithSchema(item.raw, item.schema)
			n++
		default:
			return n
		}
	}
}

// Stopped is closed once Run has returned
func (e *Engine) Stopped() <-chan struct{} {
	return e.stopped
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}
