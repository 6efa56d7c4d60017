// Package engine defines the contract between the session manager and a native
// inference library. The manager only ever holds one Model at a time and one
// Context derived from it; implementations may assume calls are never concurrent.
//
// The real implementation binds go-llama.cpp and is compiled with `-tags=llama`.
// Default builds get a stub whose LoadModel fails with ErrUnavailable.
package engine

import (
	"context"
	"encoding/json"
)

// Backend is an acceleration backend kind.
type Backend string

const (
	BackendAuto   Backend = "auto"
	BackendCPU    Backend = "cpu"
	BackendCUDA   Backend = "cuda"
	BackendVulkan Backend = "vulkan"
	BackendMetal  Backend = "metal"
)

// ParseBackend maps a caller hint to a Backend. Empty means auto.
func ParseBackend(s string) (Backend, bool) {
	switch Backend(s) {
	case "", BackendAuto:
		return BackendAuto, true
	case BackendCPU, BackendCUDA, BackendVulkan, BackendMetal:
		return Backend(s), true
	}
	return "", false
}

// LoadParams configures a model load.
type LoadParams struct {
	Path    string
	Backend Backend // never auto: the manager resolves it first
	UseMMap bool
}

// ContextParams configures an execution context.
type ContextParams struct {
	ContextSize    int
	BatchSize      int
	Threads        int
	FlashAttention bool
	Embedding      bool
}

// Role of a turn in a chat history.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Turn is one entry of the engine-native chat history.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// GenerateOptions tune a single generation.
type GenerateOptions struct {
	Temperature float64
	TopK        int
	TopP        float64
	MaxTokens   int
	Seed        int
	Stop        []string
	// Grammar is a JSON schema constraining the output. Empty means unconstrained.
	Grammar string
	// OnChunk receives each decoded piece of output. Returning an error stops generation.
	OnChunk func(chunk string) error
}

// Function is a tool the model may invoke during a chat prompt.
type Function struct {
	Description string
	Parameters  json.RawMessage
	// Handler blocks until the external result is available.
	Handler func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// ChatOptions extends GenerateOptions with invokable functions.
type ChatOptions struct {
	GenerateOptions
	Functions map[string]Function
}

// Engine loads models. Close releases process-wide native state.
type Engine interface {
	LoadModel(ctx context.Context, p LoadParams) (Model, error)
	Close() error
}

// Model is a loaded set of weights.
type Model interface {
	NewContext(ctx context.Context, p ContextParams) (Context, error)
	Tokenize(text string) ([]int, error)
	Close() error
}

// Context is a KV-cache bearing execution context.
type Context interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	NewCompletionSession() (CompletionSession, error)
	NewChatSession(template string) (ChatSession, error)
	Close() error
}

// CompletionSession runs raw completions.
type CompletionSession interface {
	Complete(ctx context.Context, prompt string, opts GenerateOptions) (string, error)
	Close() error
}

// ChatSession keeps a mutable history and prompts against it.
type ChatSession interface {
	Prompt(ctx context.Context, text string, opts ChatOptions) (string, error)
	History() []Turn
	SetHistory(turns []Turn)
	Close() error
}
