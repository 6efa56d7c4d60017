package manager

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"sessiond/internal/engine"
	"sessiond/internal/queue"
)

// Manager owns the resident model and its current execution context.
//
// Mutating methods must only be called from one goroutine at a time, which
// the request queue guarantees; mu only gives Status readers a consistent view.
type Manager struct {
	engine      engine.Engine
	backends    BackendResolver
	assets      AssetStore
	history     HistoryStore
	queue       *queue.Queue
	publisher   EventPublisher
	idleTimeout time.Duration
	log         zerolog.Logger
	startTime   time.Time

	mu        sync.RWMutex
	state     State
	resident  *ResidentModel
	current   execContext
	lastErr   string
	loads     uint64
	evictions uint64

	timerMu sync.Mutex
	idle    *time.Timer
	idleGen uint64
	idleAt  time.Time
	closed  bool
}

// New constructs a Manager with default settings.
func New(e engine.Engine, backends BackendResolver, assets AssetStore, q *queue.Queue) *Manager {
	return NewWithConfig(ManagerConfig{Engine: e, Backends: backends, Assets: assets, Queue: q})
}

// SetEventPublisher replaces the event sink. Nil restores the no-op sink.
func (m *Manager) SetEventPublisher(p EventPublisher) {
	if p == nil {
		p = noopPublisher{}
	}
	m.mu.Lock()
	m.publisher = p
	m.mu.Unlock()
}

func (m *Manager) publish(e Event) {
	m.mu.RLock()
	p := m.publisher
	m.mu.RUnlock()
	p.Publish(e)
}

// Ready reports whether the manager can serve requests. An idle manager is
// ready: models load on demand.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state != StateError
}

// Resident returns the loaded model, or nil.
func (m *Manager) Resident() *ResidentModel {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.resident
}

// CurrentContext returns the kind of the current execution context and its tracking ids.
func (m *Manager) CurrentContext() (ContextKind, []string) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.current.kind(), m.current.tracking().IDs()
}

func (m *Manager) setContext(c execContext) {
	m.mu.Lock()
	m.current = c
	m.mu.Unlock()
}

func (m *Manager) setState(s State, err error) {
	m.mu.Lock()
	m.state = s
	if err != nil {
		m.lastErr = err.Error()
	}
	m.mu.Unlock()
}
