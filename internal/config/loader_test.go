package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeTempFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return p
}

func TestLoadYAML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.yaml", `addr: :9999
models_dir: /tmp
default_backend: cuda
use_mmap: false
idle_timeout_seconds: 60
log_level: debug
cors:
  enabled: true
  origins: ["http://localhost:3000"]
store:
  type: sqlite
  path: /var/lib/sessiond/db
`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":9999" || cfg.ModelsDir != "/tmp" || cfg.DefaultBackend != "cuda" || cfg.IdleTimeoutSeconds != 60 || cfg.LogLevel != "debug" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.UseMMap == nil || *cfg.UseMMap {
		t.Fatalf("use_mmap not decoded: %+v", cfg.UseMMap)
	}
	if !cfg.CORS.Enabled || len(cfg.CORS.Origins) != 1 || cfg.Store.Type != "sqlite" || cfg.Store.Path != "/var/lib/sessiond/db" {
		t.Fatalf("nested sections not decoded: %+v", cfg)
	}
}

func TestLoadJSON(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.json", `{"addr":":7070","models_dir":"/m","max_queue_depth":4,"rate_limit_rps":2.5,"store":{"type":"redis","redis_addr":"127.0.0.1:6379"}}`)
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" || cfg.ModelsDir != "/m" || cfg.MaxQueueDepth != 4 || cfg.RateLimitRPS != 2.5 {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
	if cfg.Store.Type != "redis" || cfg.Store.RedisAddr != "127.0.0.1:6379" {
		t.Fatalf("unexpected store: %+v", cfg.Store)
	}
}

func TestLoadTOML(t *testing.T) {
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.toml", "addr=\":8081\"\nmodels_dir=\"/x\"\ntool_call_timeout_seconds=30\nmax_body_bytes=1024\n\n[store]\ntype=\"memory\"\n")
	cfg, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8081" || cfg.ModelsDir != "/x" || cfg.ToolCallTimeoutSeconds != 30 || cfg.MaxBodyBytes != 1024 || cfg.Store.Type != "memory" {
		t.Fatalf("unexpected cfg: %+v", cfg)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error on empty path")
	}
	d := t.TempDir()
	p := writeTempFile(t, d, "cfg.txt", "not supported")
	if _, err := Load(p); !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected unsupported extension error, got %v", err)
	}
}

func TestSupported(t *testing.T) {
	for _, ext := range []string{".yaml", ".YML", ".json", ".toml"} {
		if !Supported(ext) {
			t.Fatalf("%s should be supported", ext)
		}
	}
	if Supported(".gguf") {
		t.Fatalf(".gguf is not a config format")
	}
}
