package e2e

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"sessiond/internal/api"
	"sessiond/internal/assets"
	"sessiond/internal/engine"
	"sessiond/internal/engine/enginetest"
	"sessiond/internal/history"
	"sessiond/internal/httpapi"
	"sessiond/internal/manager"
	"sessiond/internal/probe"
	"sessiond/internal/queue"
	"sessiond/internal/registry"
	"sessiond/internal/toolbridge"
	"sessiond/pkg/types"
)

const chatManifest = `id: acme/chat/gguf
name: Chat
assets:
  model: chat.gguf
operations: [prompt, chat, tokenize]
`

// createTempModelsDir creates a temporary models directory with a chat manifest
// and the given bare .gguf files.
func createTempModelsDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	files := map[string]string{"chat.gguf": "GGUF", "chat.yaml": chatManifest}
	for _, n := range names {
		files[n] = "GGUF"
	}
	for name, body := range files {
		p := filepath.Join(dir, name)
		if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
	}
	return dir
}

type stack struct {
	srv *httptest.Server
	eng *enginetest.Engine
	mgr *manager.Manager
}

// newStack wires the full service over a fake engine.
func newStack(t *testing.T, modelsDir string, eng engine.Engine, qcfg queue.Config) *stack {
	t.Helper()
	reg, err := registry.New(modelsDir, nil)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	store, err := assets.NewStore(assets.Config{ModelsDir: modelsDir})
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	prober := probe.New(probe.Config{
		EngineBuilt: true,
		Detectors: map[engine.Backend]probe.Detector{
			engine.BackendCPU: func(context.Context) types.BackendInfo { return types.BackendInfo{Available: true} },
		},
		AvailableMemory: func() (uint64, error) { return 64 << 30, nil },
	})
	q := queue.New(qcfg)
	mgr := manager.NewWithConfig(manager.ManagerConfig{
		Engine:      eng,
		Backends:    prober,
		Assets:      store,
		History:     history.NewStore(store, nil),
		Queue:       q,
		IdleTimeout: time.Hour,
	})
	svc := api.New(api.Config{
		Registry: reg,
		Prober:   prober,
		Manager:  mgr,
		Queue:    q,
		Bridge:   toolbridge.New(toolbridge.Config{Timeout: 5 * time.Second}),
		Assets:   store,
	})
	srv := httptest.NewServer(httpapi.NewMux(svc))
	t.Cleanup(func() {
		srv.Close()
		svc.Close()
		_ = mgr.Close(context.Background())
		_ = store.Close()
	})
	s := &stack{srv: srv, mgr: mgr}
	s.eng, _ = eng.(*enginetest.Engine)
	return s
}

func httpGet(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

func httpPostJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	resp := postStream(t, url, payload)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, body
}

// postStream returns the open response; the caller closes the body.
func postStream(t *testing.T, url string, payload []byte) *http.Response {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do req: %v", err)
	}
	return resp
}

// readEvents decodes NDJSON lines, calling fn for each as it arrives.
func readEvents(t *testing.T, r io.Reader, fn func(types.Event)) []types.Event {
	t.Helper()
	var out []types.Event
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var ev types.Event
		if err := json.Unmarshal(line, &ev); err != nil {
			t.Fatalf("bad ndjson line %q: %v", line, err)
		}
		out = append(out, ev)
		if fn != nil {
			fn(ev)
		}
	}
	return out
}

// doneResult re-decodes the done event's result into v.
func doneResult(t *testing.T, evs []types.Event, v any) {
	t.Helper()
	if len(evs) == 0 || evs[len(evs)-1].Type != types.EventDone {
		t.Fatalf("stream did not end with done: %+v", evs)
	}
	b, _ := json.Marshal(evs[len(evs)-1].Result)
	if err := json.Unmarshal(b, v); err != nil {
		t.Fatalf("done result: %v", err)
	}
}

func status(t *testing.T, base string) types.StatusResponse {
	t.Helper()
	resp, body := httpGet(t, base+"/status")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/status status=%d body=%s", resp.StatusCode, string(body))
	}
	var st types.StatusResponse
	if err := json.Unmarshal(body, &st); err != nil {
		t.Fatalf("/status json: %v body=%s", err, string(body))
	}
	return st
}

// waitFor polls cond for up to two seconds.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
