package manager

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"sessiond/internal/engine"
	"sessiond/internal/history"
	"sessiond/internal/queue"
	"sessiond/pkg/types"
)

// Defaults applied when corresponding ManagerConfig fields are unset.
const (
	defaultIdleTimeout = 5 * time.Minute
	defaultBatchSize   = 512

	// maxGeneratedIDs caps how many generated tracking ids a shared context
	// keeps; the oldest is released first.
	maxGeneratedIDs = 32
)

// BackendResolver picks a concrete backend for a request.
type BackendResolver interface {
	Resolve(ctx context.Context, requested engine.Backend) (engine.Backend, error)
}

// AssetStore resolves model files and records their use.
type AssetStore interface {
	AssetPath(rel string) (string, error)
	MarkModelUsed(ctx context.Context, ref string) error
}

// HistoryStore persists chat histories by fingerprint.
type HistoryStore interface {
	Load(ctx context.Context, trackingID string, m types.Manifest, fp string) ([]engine.Turn, bool, error)
	Save(ctx context.Context, trackingID string, m types.Manifest, turns []engine.Turn) (string, error)
	Remove(ctx context.Context, trackingID string) error
}

// ManagerConfig encapsulates all tunables for Manager construction.
type ManagerConfig struct {
	Engine   engine.Engine
	Backends BackendResolver
	Assets   AssetStore
	History  HistoryStore
	// Queue serializes idle disposal with other operations. Required when
	// the idle timer is used alongside queued work.
	Queue *queue.Queue
	// IdleTimeout disposes everything after this long without operations.
	IdleTimeout time.Duration
	Publisher   EventPublisher
	Logger      *zerolog.Logger
}

// NewWithConfig constructs a Manager from ManagerConfig.
func NewWithConfig(cfg ManagerConfig) *Manager {
	m := &Manager{
		engine:      cfg.Engine,
		backends:    cfg.Backends,
		assets:      cfg.Assets,
		history:     cfg.History,
		queue:       cfg.Queue,
		idleTimeout: cfg.IdleTimeout,
		publisher:   cfg.Publisher,
		state:       StateIdle,
		current:     noContext{},
		startTime:   time.Now(),
		log:         zerolog.Nop(),
	}
	if m.idleTimeout <= 0 {
		m.idleTimeout = defaultIdleTimeout
	}
	if m.publisher == nil {
		m.publisher = noopPublisher{}
	}
	if m.history == nil {
		m.history = history.NewStore(nopHistory{}, nil)
	}
	if cfg.Logger != nil {
		m.log = cfg.Logger.With().Str("component", "manager").Logger()
	}
	return m
}

// nopHistory stores nothing.
type nopHistory struct{}

func (nopHistory) LoadChatHistory(context.Context, string, string, string) ([]byte, bool, error) {
	return nil, false, nil
}
func (nopHistory) SaveChatHistory(context.Context, string, string, string, []byte) error { return nil }
func (nopHistory) RemoveChatHistory(context.Context, string) error                       { return nil }
