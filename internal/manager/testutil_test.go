package manager

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sessiond/internal/assets"
	"sessiond/internal/engine"
	"sessiond/internal/engine/enginetest"
	"sessiond/internal/history"
	"sessiond/internal/probe"
	"sessiond/internal/queue"
	"sessiond/pkg/types"
)

// createModelFile creates an empty weights file and returns its path.
func createModelFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte("GGUF"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	return p
}

func manifest(id, file string) types.Manifest {
	return types.Manifest{ID: id, Name: id, Format: "gguf", Assets: types.ManifestAssets{Model: file}}
}

func cpuOnly() *probe.Prober {
	return probe.New(probe.Config{
		EngineBuilt: true,
		Detectors: map[engine.Backend]probe.Detector{
			engine.BackendCPU: func(context.Context) types.BackendInfo { return types.BackendInfo{Available: true} },
		},
	})
}

type harness struct {
	m       *Manager
	eng     *enginetest.Engine
	assets  *assets.Memory
	history *history.Store
	queue   *queue.Queue
	pub     *MemoryPublisher
	a, b    types.Manifest
}

func newHarness(t *testing.T, idle time.Duration) *harness {
	t.Helper()
	dir := t.TempDir()
	createModelFile(t, dir, "a.gguf")
	createModelFile(t, dir, "b.gguf")
	root, err := assets.NewRoot(dir)
	if err != nil {
		t.Fatalf("root: %v", err)
	}
	h := &harness{
		eng:    &enginetest.Engine{},
		assets: assets.NewMemory(root),
		queue:  queue.New(queue.Config{Name: t.Name()}),
		pub:    NewMemoryPublisher(),
		a:      manifest("acme/a/gguf", "a.gguf"),
		b:      manifest("acme/b/gguf", "b.gguf"),
	}
	h.history = history.NewStore(h.assets, nil)
	h.m = NewWithConfig(ManagerConfig{
		Engine:      h.eng,
		Backends:    cpuOnly(),
		Assets:      h.assets,
		History:     h.history,
		Queue:       h.queue,
		IdleTimeout: idle,
		Publisher:   h.pub,
	})
	t.Cleanup(func() { _ = h.m.Close(context.Background()) })
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
