package services

import (
	"context"
	"time"

	"wearwatch/models"

	"go.uber.org/zap"
)

// AlertNotifier delivers alert records outside the engine
type AlertNotifier interface {
	Name() string
	NotifyAlert(ctx context.Context, alert models.AlertRecord, device models.DeviceState) error
}

// StatusNotifier is optionally implemented by notifiers that also report
// offline and recovery transitions
type StatusNotifier interface {
	NotifyOffline(ctx context.Context, device models.DeviceState, silentFor time.Duration) error
	NotifyRecovered(ctx context.Context, device models.DeviceState, downFor time.Duration) error
}

// runDispatcher delivers queued notifications until ctx is cancelled, then
// flushes whatever is still queued
func (e *Engine) runDispatcher(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case n := <-e.notifyCh:
					e.deliver(n)
				default:
					return
				}
			}
		case n := <-e.notifyCh:
			e.deliver(n)
		}
	}
}

func (e *Engine) deliver(n notification) {
	e.notifierMu.RLock()
	notifiers := append([]AlertNotifier(nil), e.notifiers...)
	e.notifierMu.RUnlock()

	for _, notifier := range notifiers {
		ctx, cancel := context.WithTimeout(context.Background(), e.opts.NotifyTimeout)
		err := e.deliverOne(ctx, notifier, n)
		cancel()
		if err != nil {
			e.logger.Error("Failed to deliver notification",
				zap.String("notifier", notifier.Name()),
				zap.String("device_id", n.device.ID),
				zap.Error(err))
		}
	}
}

func (e *Engine) deliverOne(ctx context.Context, notifier AlertNotifier, n notification) error {
	switch {
	case n.alert != nil:
		return notifier.NotifyAlert(ctx, *n.alert, n.device)
	case n.offline:
		if sn, ok := notifier.(StatusNotifier); ok {
			return sn.NotifyOffline(ctx, n.device, n.duration)
		}
	case n.recovered:
		if sn, ok := notifier.(StatusNotifier); ok {
			return sn.NotifyRecovered(ctx, n.device, n.duration)
		}
	}
	return nil
}
