package services

import (
	"sort"

	"wearwatch/models"

	"go.uber.org/zap"
)

// ReportSourceSuccess records a successful fetch or delivery for a source
func (e *Engine) ReportSourceSuccess(name string) {
	now := e.clock()

	e.sourcesMu.Lock()
	defer e.sourcesMu.Unlock()

	st := e.sourceLocked(name)
	if st.Health == models.SourceError {
		e.logger.Info("Source recovered",
			zap.String("source", name),
			zap.Int("failures", st.ConsecutiveFailures))
	}
	st.Health = models.SourceOK
	st.ConsecutiveFailures = 0
	st.LastSuccessAt = now
}

// ReportSourceFailure records a transport error. The source keeps running;
// the error is only surfaced through SourceStatuses.
func (e *Engine) ReportSourceFailure(name string, err error) {
	if err == nil {
		return
	}
	now := e.clock()

	e.sourcesMu.Lock()
	defer e.sourcesMu.Unlock()

	st := e.sourceLocked(name)
	st.Health = models.SourceError
	st.LastError = err.Error()
	st.LastErrorAt = now
	st.ConsecutiveFailures++

	e.logger.Warn("Source error",
		zap.String("source", name),
		zap.Int("consecutive_failures", st.ConsecutiveFailures),
		zap.Error(err))
}

// SourceStatuses returns a snapshot of every known source, ordered by name
func (e *Engine) SourceStatuses() []models.SourceStatus {
	e.sourcesMu.Lock()
	defer e.sourcesMu.Unlock()

	out := make([]models.SourceStatus, 0, len(e.sources))
	for _, st := range e.sources {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (e *Engine) sourceLocked(name string) *models.SourceStatus {
	st, ok := e.sources[name]
	if !ok {
		st = &models.SourceStatus{Name: name, Health: models.SourceOK}
		e.sources[name] = st
	}
	return st
}
