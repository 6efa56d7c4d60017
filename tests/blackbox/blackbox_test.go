package blackbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// findFreePort picks an available TCP port on localhost.
func findFreePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	return ln.Addr().(*net.TCPAddr).Port
}

func projectRootFromThisFile(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("runtime.Caller failed")
	}
	// this file: <root>/tests/blackbox/blackbox_test.go
	return filepath.Dir(filepath.Dir(filepath.Dir(thisFile)))
}

// buildBinary compiles the default (engine-less) build once per test.
func buildBinary(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping binary build in -short mode")
	}
	binPath := filepath.Join(t.TempDir(), "sessiond")
	cmd := exec.Command("go", "build", "-o", binPath, "./cmd/sessiond")
	cmd.Dir = projectRootFromThisFile(t)
	cmd.Env = append(os.Environ(), "CGO_ENABLED=0")
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("go build failed: %v\n%s", err, string(out))
	}
	return binPath
}

func createTempModelsDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n)
		if err := os.WriteFile(p, []byte("GGUF"), 0o644); err != nil {
			t.Fatalf("write temp model %s: %v", p, err)
		}
	}
	return dir
}

// startServer runs the binary with args and waits for /healthz.
func startServer(t *testing.T, bin string, port int, args ...string) string {
	t.Helper()
	base := fmt.Sprintf("http://127.0.0.1:%d", port)
	cmd := exec.Command(bin, append([]string{"serve", "--addr", fmt.Sprintf("127.0.0.1:%d", port)}, args...)...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		t.Fatalf("start server: %v", err)
	}
	t.Cleanup(func() {
		_ = cmd.Process.Signal(os.Interrupt)
		done := make(chan struct{})
		go func() { _ = cmd.Wait(); close(done) }()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			_ = cmd.Process.Kill()
		}
	})
	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(base + "/healthz")
		if err == nil {
			_ = resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return base
			}
		}
		if time.Now().After(deadline) {
			t.Fatalf("server did not become healthy in time")
		}
		time.Sleep(50 * time.Millisecond)
	}
}

func get(t *testing.T, url string) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, url, nil)
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func postJSON(t *testing.T, url string, payload []byte) (*http.Response, []byte) {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new req: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	b, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	return resp, b
}

func TestBlackbox_Flow(t *testing.T) {
	bin := buildBinary(t)
	modelsDir := createTempModelsDir(t, "alpha.gguf", "beta.gguf")
	base := startServer(t, bin, findFreePort(t), "--models-dir", modelsDir)

	// /models
	resp, body := get(t, base+"/models")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/models %d %s", resp.StatusCode, string(body))
	}
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("/models content-type=%s", ct)
	}
	var modelsResp struct {
		Models []struct {
			ID string `json:"id"`
		} `json:"models"`
	}
	if err := json.Unmarshal(body, &modelsResp); err != nil {
		t.Fatalf("/models json: %v body=%s", err, string(body))
	}
	if len(modelsResp.Models) != 2 {
		t.Fatalf("expected 2 models, got %d", len(modelsResp.Models))
	}

	// /backends: the default build carries no engine
	resp, body = get(t, base+"/backends")
	var backends struct {
		Backends []struct {
			Kind      string `json:"kind"`
			Available bool   `json:"available"`
		} `json:"backends"`
	}
	if err := json.Unmarshal(body, &backends); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("/backends %d %s", resp.StatusCode, string(body))
	}
	for _, b := range backends.Backends {
		if b.Available {
			t.Fatalf("backend %s reported available without an engine", b.Kind)
		}
	}

	// /readyz: an idle manager is ready
	resp, body = get(t, base+"/readyz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/readyz %d %s", resp.StatusCode, string(body))
	}

	// /prompt on a real entry streams a loading line, then an error line
	resp, body = postJSON(t, base+"/prompt", []byte(`{"props":{"model":"alpha.gguf"},"prompt":"hello"}`))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/prompt %d %s", resp.StatusCode, string(body))
	}
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	var last struct {
		Type string `json:"type"`
		Code int    `json:"code"`
	}
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &last); err != nil {
		t.Fatalf("bad ndjson %q: %v", body, err)
	}
	if last.Type != "error" || last.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected trailing 422 error event, got %s", string(body))
	}

	// /status
	resp, body = get(t, base+"/status")
	var st struct {
		State    string `json:"state"`
		QueueLen int    `json:"queue_len"`
	}
	if err := json.Unmarshal(body, &st); err != nil || resp.StatusCode != http.StatusOK {
		t.Fatalf("/status %d %s", resp.StatusCode, string(body))
	}
	if st.QueueLen != 0 {
		t.Fatalf("queue not drained: %+v", st)
	}
}

func TestBlackbox_Prompt_ModelNotFound_404(t *testing.T) {
	bin := buildBinary(t)
	base := startServer(t, bin, findFreePort(t), "--models-dir", createTempModelsDir(t, "alpha.gguf"))

	resp, body := postJSON(t, base+"/prompt", []byte(`{"props":{"model":"missing.gguf"},"prompt":"hi"}`))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d, body=%s", resp.StatusCode, string(body))
	}
}

func TestBlackbox_ConfigFile(t *testing.T) {
	bin := buildBinary(t)
	modelsDir := createTempModelsDir(t, "alpha.gguf")
	cfgPath := filepath.Join(t.TempDir(), "sessiond.toml")
	cfg := fmt.Sprintf("models_dir = %q\n\n[cors]\nenabled = true\norigins = [\"http://example.com\"]\n", modelsDir)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	base := startServer(t, bin, findFreePort(t), "--config", cfgPath)

	req, _ := http.NewRequest(http.MethodGet, base+"/models", nil)
	req.Header.Set("Origin", "http://example.com")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do: %v", err)
	}
	_ = resp.Body.Close()
	if got := resp.Header.Get("Access-Control-Allow-Origin"); got != "http://example.com" {
		t.Fatalf("expected CORS origin echo, got %q", got)
	}
}

func TestBlackbox_BackendsCommand(t *testing.T) {
	bin := buildBinary(t)
	out, err := exec.Command(bin, "backends").Output()
	if err != nil {
		t.Fatalf("backends: %v", err)
	}
	var infos []map[string]any
	if err := json.Unmarshal(out, &infos); err != nil || len(infos) == 0 {
		t.Fatalf("backends output %q: %v", out, err)
	}
}
