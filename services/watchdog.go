package services

import (
	"time"

	"wearwatch/models"

	"go.uber.org/zap"
)

// Sweep marks every device silent for longer than the silence timeout as
// OFFLINE. Subscribers are only notified when at least one device changed.
// Run calls it on every watchdog tick; it is safe to call directly.
func (e *Engine) Sweep() []string {
	e.mu.Lock()
	now := e.now()
	lastSeen := make(map[string]time.Time)
	for _, d := range e.store.All() {
		if d.Status != models.StatusOffline {
			lastSeen[d.ID] = d.LastSeen
		}
	}
	changed := e.store.MarkOffline(now, e.opts.SilenceTimeout)

	var pending []notification
	for _, id := range changed {
		state, _ := e.store.Get(id)
		silent := now.Sub(lastSeen[id])
		e.logger.Warn("Device silence timeout detected",
			zap.String("device_id", id),
			zap.Time("last_seen", lastSeen[id]),
			zap.Duration("time_since_last_seen", silent))
		pending = append(pending, notification{device: state, offline: true, duration: silent})
	}
	e.mu.Unlock()

	if len(changed) == 0 {
		return nil
	}
	e.dispatch(pending)
	e.publish(models.ChangeEvent{Reason: models.ChangeOffline, DeviceIDs: changed, At: now})
	return changed
}
