package manager

import (
	"context"
	"time"
)

var timeZero time.Time

// ScheduleAutoDispose (re)arms the idle timer. When it fires, full disposal
// is pushed onto the request queue so it never races a running operation.
func (m *Manager) ScheduleAutoDispose() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	if m.closed {
		return
	}
	if m.idle != nil {
		m.idle.Stop()
	}
	m.idleGen++
	gen := m.idleGen
	m.idleAt = time.Now().Add(m.idleTimeout)
	m.idle = time.AfterFunc(m.idleTimeout, func() { m.fireIdle(gen) })
}

// UnscheduleAutoDispose cancels a pending idle timer. Safe to call when none is armed.
func (m *Manager) UnscheduleAutoDispose() {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	m.idleGen++
	if m.idle != nil {
		m.idle.Stop()
		m.idle = nil
	}
	m.idleAt = timeZero
}

// IdleDisposeAt returns when the idle timer fires, or the zero time.
func (m *Manager) IdleDisposeAt() time.Time {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	return m.idleAt
}

// idleCurrent reports whether gen is still the armed timer generation.
func (m *Manager) idleCurrent(gen uint64) bool {
	m.timerMu.Lock()
	defer m.timerMu.Unlock()
	return !m.closed && m.idleGen == gen
}

func (m *Manager) fireIdle(gen uint64) {
	if !m.idleCurrent(gen) {
		return
	}
	task := func(context.Context) error {
		// an operation may have started (and unscheduled) while this waited
		if !m.idleCurrent(gen) {
			return nil
		}
		m.UnscheduleAutoDispose()
		m.publish(Event{Name: EventIdleFired})
		m.disposeAll(disposeIdle, true)
		return nil
	}
	if m.queue == nil {
		_ = task(context.Background())
		return
	}
	if err := m.queue.Push(context.Background(), task); err != nil {
		m.log.Warn().Err(err).Msg("idle disposal not queued")
	}
}
