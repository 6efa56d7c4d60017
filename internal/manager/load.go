package manager

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sessiond/internal/common/fsutil"
	"sessiond/internal/engine"
	"sessiond/pkg/types"
)

// LoadModel makes m the resident model. A resident model loaded from the same
// manifest with equal options is reused; anything else is fully disposed
// before the new model loads. The idle timer is cancelled either way; the
// caller reschedules it when its operation completes.
func (m *Manager) LoadModel(ctx context.Context, mf types.Manifest, opts ModelLoadOptions) (*ResidentModel, error) {
	m.UnscheduleAutoDispose()
	if opts.Backend == "" {
		opts.Backend = engine.BackendAuto
	}
	if r := m.resident; r != nil && r.matches(mf, opts) {
		m.markUsed(ctx, mf.ID)
		m.publish(Event{Name: EventModelReused, ModelID: mf.ID})
		return r, nil
	}

	if f := strings.ToLower(mf.Format); f != "" && f != "gguf" {
		return nil, ErrUnsupported(fmt.Sprintf("model format %q", mf.Format))
	}
	if m.engine == nil {
		return nil, ErrDependencyUnavailable("no inference engine configured")
	}
	path, err := m.assets.AssetPath(mf.Assets.Model)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", mf.ID, err)
	}
	if !fsutil.PathExists(path) {
		return nil, ErrModelNotFound(mf.ID)
	}

	backend := opts.Backend
	if m.backends != nil {
		backend, err = m.backends.Resolve(ctx, opts.Backend)
		if err != nil {
			return nil, err
		}
	} else if backend == engine.BackendAuto {
		backend = engine.BackendCPU
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.disposeAll(disposeReload, false)

	m.setState(StateLoading, nil)
	m.publish(Event{Name: EventLoadStart, ModelID: mf.ID, Fields: map[string]any{"backend": string(backend), "mmap": opts.UseMMap}})
	start := time.Now()
	h, err := m.engine.LoadModel(ctx, engine.LoadParams{Path: path, Backend: backend, UseMMap: opts.UseMMap})
	if err != nil {
		// a failed load only fails this request; a missing engine fails them all
		state := StateIdle
		if errors.Is(err, engine.ErrUnavailable) {
			err = dependencyUnavailableError{msg: "inference engine unavailable", err: err}
			state = StateError
		}
		m.setState(state, err)
		m.publish(Event{Name: EventLoadFailed, ModelID: mf.ID, Fields: map[string]any{"error": err.Error()}})
		m.log.Error().Err(err).Str("model", mf.ID).Msg("model load failed")
		return nil, err
	}
	r := &ResidentModel{Manifest: mf, Options: opts, Backend: backend, Path: path, LoadedAt: time.Now(), handle: h}
	m.mu.Lock()
	m.resident = r
	m.current = noContext{}
	m.state = StateReady
	m.lastErr = ""
	m.loads++
	m.mu.Unlock()
	modelLoadsTotal.WithLabelValues(string(backend)).Inc()
	modelLoadSeconds.Observe(time.Since(start).Seconds())
	m.publish(Event{Name: EventLoadDone, ModelID: mf.ID, Fields: map[string]any{"backend": string(backend), "ms": time.Since(start).Milliseconds()}})
	m.log.Info().Str("model", mf.ID).Str("backend", string(backend)).Bool("mmap", opts.UseMMap).Dur("took", time.Since(start)).Msg("model loaded")
	m.markUsed(ctx, mf.ID)
	return r, nil
}

// markUsed is bookkeeping only; failures are logged.
func (m *Manager) markUsed(ctx context.Context, ref string) {
	if err := m.assets.MarkModelUsed(ctx, ref); err != nil {
		m.log.Warn().Err(err).Str("model", ref).Msg("mark model used failed")
	}
}
