package registry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"sessiond/pkg/types"
)

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestScan_FiltersGGUF(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"a.gguf", "b.GGUF", "not-model.txt", "model.bin"} {
		write(t, dir, f, "")
	}
	models, err := Scan(dir)
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(models))
	}
	for _, m := range models {
		if !strings.HasSuffix(strings.ToLower(m.ID), ".gguf") {
			t.Fatalf("id not gguf: %s", m.ID)
		}
		if len(m.Operations) != len(AllOperations) || m.Config != DefaultConfig {
			t.Fatalf("synthesized manifest lacks defaults: %+v", m)
		}
	}
}

func TestScan_ManifestFormats(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "tiny.Q4.gguf", "")
	write(t, dir, "embed.gguf", "")
	write(t, dir, "tiny.yaml", `id: acme/tiny/gguf
name: Tiny
assets:
  model: tiny.Q4.gguf
config:
  temperature: {min: 0, default: 0.5, max: 1}
limits:
  max_input_tokens: 1000
operations: [chat, tokenize]
chat_template: chatml
`)
	write(t, dir, "embed.toml", "id = \"acme/embed/gguf\"\noperations = [\"embed\"]\n\n[assets]\nmodel = \"embed.gguf\"\n")
	write(t, dir, "broken.json", `{"name":"no id"}`)

	ms, err := Scan(dir)
	if err == nil {
		t.Fatalf("expected an error for the broken manifest")
	}
	if len(ms) != 2 {
		t.Fatalf("claimed gguf files must not be synthesized again: %+v", ms)
	}
	tiny := ms[1]
	if tiny.ID != "acme/tiny/gguf" || tiny.Config.Temperature.Default != 0.5 || tiny.Config.TopK != DefaultConfig.TopK {
		t.Fatalf("unexpected manifest: %+v", tiny)
	}
	if !tiny.Supports(types.OpChat) || tiny.Supports(types.OpEmbed) {
		t.Fatalf("operations not honored: %v", tiny.Operations)
	}
	if tiny.Limits.MaxInputTokens != 1000 || tiny.Limits.ContextSize != int(DefaultConfig.ContextSize.Max) {
		t.Fatalf("limits: %+v", tiny.Limits)
	}
	if ms[0].ID != "acme/embed/gguf" || !ms[0].Supports(types.OpEmbed) {
		t.Fatalf("toml manifest: %+v", ms[0])
	}
}

func TestScan_ExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home dir on this platform: %v", err)
	}
	hTmp, err := os.MkdirTemp(home, "sessiond-registry-*")
	if err != nil {
		t.Skipf("cannot create temp under home: %v", err)
	}
	defer os.RemoveAll(hTmp)
	write(t, hTmp, "x.gguf", "")
	var tildePath string
	if runtime.GOOS == "windows" {
		tildePath = filepath.Join("~", filepath.Base(hTmp))
	} else {
		tildePath = "~/" + filepath.Base(hTmp)
	}
	models, err := Scan(tildePath)
	if err != nil {
		t.Fatalf("scan error: %v", err)
	}
	if len(models) != 1 || models[0].ID != "x.gguf" {
		t.Fatalf("unexpected models: %+v", models)
	}
}

func TestRegistry_ReadManifestAndList(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "m.gguf", "")
	r, err := New(dir, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	m, err := r.ReadManifest("m.gguf")
	if err != nil || m.Assets.Model != "m.gguf" {
		t.Fatalf("read: %+v %v", m, err)
	}
	if _, err := r.ReadManifest("nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	list := r.List()
	if len(list) != 1 || list[0].Path != filepath.Join(dir, "m.gguf") || list[0].Format != "gguf" {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestRegistry_NewMissingDir(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Fatalf("expected error for missing dir")
	}
}

func TestRegistry_WatchPicksUpNewModel(t *testing.T) {
	dir := t.TempDir()
	r, err := New(dir, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Watch(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		// rewrite until the watcher is registered and reloads
		write(t, dir, "late.gguf", "")
		time.Sleep(300 * time.Millisecond)
		if _, err := r.ReadManifest("late.gguf"); err == nil {
			return
		}
	}
	t.Fatalf("watcher did not reload the catalog")
}
