// Package registry resolves model references to manifests found in a models directory.
package registry

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"sessiond/internal/common/fsutil"
	"sessiond/internal/config"
	"sessiond/pkg/types"
)

// ErrNotFound is returned by ReadManifest for unknown references.
var ErrNotFound = errors.New("model not found")

// Registry holds the manifests of one models directory.
type Registry struct {
	dir string
	log zerolog.Logger

	mu   sync.RWMutex
	byID map[string]types.Manifest
	ids  []string
}

// New scans dir once. Unreadable manifests are logged, not fatal.
func New(dir string, logger *zerolog.Logger) (*Registry, error) {
	base, err := fsutil.ExpandHome(dir)
	if err != nil {
		return nil, err
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("abs path: %w", err)
	}
	r := &Registry{dir: abs, log: zerolog.Nop()}
	if logger != nil {
		r.log = logger.With().Str("component", "registry").Logger()
	}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Dir returns the absolute models directory.
func (r *Registry) Dir() string { return r.dir }

// Reload rescans the directory and swaps the catalog.
func (r *Registry) Reload() error {
	ms, err := Scan(r.dir)
	if ms == nil && err != nil {
		return err
	}
	if err != nil {
		r.log.Warn().Err(err).Msg("skipped invalid manifests")
	}
	byID := make(map[string]types.Manifest, len(ms))
	ids := make([]string, 0, len(ms))
	for _, m := range ms {
		if _, dup := byID[m.ID]; dup {
			r.log.Warn().Str("model", m.ID).Msg("duplicate manifest id ignored")
			continue
		}
		byID[m.ID] = m
		ids = append(ids, m.ID)
	}
	r.mu.Lock()
	r.byID, r.ids = byID, ids
	r.mu.Unlock()
	r.log.Debug().Int("models", len(ids)).Msg("catalog loaded")
	return nil
}

// ReadManifest resolves ref to its manifest.
func (r *Registry) ReadManifest(ref string) (types.Manifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[ref]
	if !ok {
		return types.Manifest{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return m, nil
}

// List returns the listing view of every model, ordered by ID.
func (r *Registry) List() []types.Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]types.Model, 0, len(r.ids))
	for _, id := range r.ids {
		m := r.byID[id]
		out = append(out, types.Model{
			ID:         m.ID,
			Name:       m.Name,
			Path:       filepath.Join(r.dir, filepath.FromSlash(m.Assets.Model)),
			Format:     m.Format,
			Operations: m.Operations,
		})
	}
	return out
}

// Watch reloads the catalog whenever a manifest or model file in the
// directory changes. Bursts of events are coalesced. It blocks until ctx ends.
func (r *Registry) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()
	if err := w.Add(r.dir); err != nil {
		return fmt.Errorf("watch %s: %w", r.dir, err)
	}
	const debounce = 250 * time.Millisecond
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !relevant(ev) {
				continue
			}
			r.log.Debug().Str("path", ev.Name).Str("op", ev.Op.String()).Msg("models dir changed")
			timer.Reset(debounce)
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.Warn().Err(err).Msg("watch error")
		case <-timer.C:
			if err := r.Reload(); err != nil {
				r.log.Error().Err(err).Msg("reload failed")
			}
		}
	}
}

func relevant(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return false
	}
	ext := filepath.Ext(ev.Name)
	return strings.EqualFold(ext, ".gguf") || config.Supported(ext)
}
