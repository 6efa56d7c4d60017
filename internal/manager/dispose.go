package manager

import "context"

// Disposal reasons, used as metric labels.
const (
	disposeReload   = "reload"
	disposeReleased = "released"
	disposeIdle     = "idle"
	disposeShutdown = "shutdown"
)

// UserRequestsDisposal detaches trackingID from the current context. When no
// tracking id remains the context and the model are disposed immediately.
// Unknown ids are ignored.
func (m *Manager) UserRequestsDisposal(trackingID string) {
	set := m.current.tracking()
	if !set.Has(trackingID) {
		return
	}
	m.mu.Lock()
	delete(set, trackingID)
	empty := len(set) == 0
	m.mu.Unlock()
	if empty {
		m.disposeAll(disposeReleased, false)
	}
}

// disposeContext closes the session and context, leaving the model loaded.
func (m *Manager) disposeContext() {
	switch c := m.current.(type) {
	case *chatContext:
		m.closeQuietly("chat session", c.session.Close)
		m.closeQuietly("context", c.handle.Close)
	case *completionContext:
		m.closeQuietly("completion session", c.session.Close)
		m.closeQuietly("context", c.handle.Close)
	case *embeddingContext:
		m.closeQuietly("context", c.handle.Close)
	}
	m.setContext(noContext{})
}

// disposeAll tears down context, session and model, then the engine when
// withEngine is set. It never fails and is safe when nothing is loaded.
func (m *Manager) disposeAll(reason string, withEngine bool) {
	r := m.resident
	hadContext := m.current.kind() != ContextNone
	m.disposeContext()
	if r != nil {
		m.closeQuietly("model", r.handle.Close)
		m.mu.Lock()
		m.resident = nil
		m.state = StateIdle
		m.evictions++
		m.mu.Unlock()
		evictionsTotal.WithLabelValues(reason).Inc()
		m.publish(Event{Name: EventDispose, ModelID: r.Manifest.ID, Fields: map[string]any{"reason": reason}})
		m.log.Info().Str("model", r.Manifest.ID).Str("reason", reason).Msg("model disposed")
	} else if hadContext {
		m.log.Debug().Str("reason", reason).Msg("context disposed without model")
	}
	if withEngine && m.engine != nil {
		m.closeQuietly("engine", m.engine.Close)
	}
}

func (m *Manager) closeQuietly(what string, closeFn func() error) {
	defer func() {
		if p := recover(); p != nil {
			m.log.Error().Interface("panic", p).Str("what", what).Msg("dispose panicked")
		}
	}()
	if err := closeFn(); err != nil {
		m.log.Warn().Err(err).Str("what", what).Msg("dispose failed")
	}
}

// Close disposes everything and stops the idle timer. Queued work ahead of
// the disposal finishes first when a queue is configured.
func (m *Manager) Close(ctx context.Context) error {
	m.timerMu.Lock()
	m.closed = true
	m.idleGen++
	if m.idle != nil {
		m.idle.Stop()
		m.idle = nil
	}
	m.idleAt = timeZero
	m.timerMu.Unlock()

	dispose := func(context.Context) error {
		m.disposeAll(disposeShutdown, true)
		return nil
	}
	if m.queue == nil {
		return dispose(ctx)
	}
	// dispose only fails to run when the queue refused or abandoned it
	if err := m.queue.Push(ctx, dispose); err != nil {
		m.log.Warn().Err(err).Msg("shutdown did not wait for queued work")
		return dispose(context.Background())
	}
	return nil
}
