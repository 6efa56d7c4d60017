package e2e

import (
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"sessiond/internal/engine"
	"sessiond/internal/queue"
	"sessiond/pkg/types"
)

// TestLlama_Haiku prints a real haiku generated by the compiled-in engine.
// Skips unless:
// - the binary is built with -tags llama, and
// - ~/models/llm (or SESSIOND_E2E_MODELS_DIR) contains at least one real .gguf file.
func TestLlama_Haiku(t *testing.T) {
	if !engine.LlamaBuilt {
		t.Skip("built without -tags llama; skipping haiku test")
	}
	modelsDir := os.Getenv("SESSIOND_E2E_MODELS_DIR")
	if modelsDir == "" {
		home, _ := os.UserHomeDir()
		modelsDir = filepath.Join(home, "models", "llm")
	}
	ents, _ := os.ReadDir(modelsDir)
	var modelID string
	for _, e := range ents {
		if !e.IsDir() && strings.HasSuffix(strings.ToLower(e.Name()), ".gguf") {
			modelID = e.Name()
			break
		}
	}
	if modelID == "" {
		t.Skipf("no GGUF found under %s; skipping haiku test", modelsDir)
	}

	s := newStack(t, modelsDir, engine.New(0), queue.Config{Name: t.Name()})
	req, _ := json.Marshal(types.PromptRequest{
		Props:  types.ModelProps{Model: modelID, MaxTokens: 128, Temperature: 0.7, TopP: 0.95},
		Prompt: "Write a 3-line haiku about the ocean.",
	})
	resp, body := httpPostJSON(t, s.srv.URL+"/prompt", req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/prompt status=%d body=%s", resp.StatusCode, string(body))
	}
	var pr types.PromptResponse
	doneResult(t, readEvents(t, strings.NewReader(string(body)), nil), &pr)
	content := strings.TrimSpace(pr.Text)
	if content == "" {
		t.Fatalf("expected non-empty haiku content")
	}
	t.Logf("\n----- GENERATED HAIKU -----\n%s\n---------------------------\n", content)
}
