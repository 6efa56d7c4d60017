package types

import (
	"encoding/json"
	"errors"
)

// ModelProps is the caller-supplied model selection and tuning block.
// Numeric tunables are untrusted and typed as any: they are clamped against
// the manifest ranges, and values of the wrong JSON type fall back to the
// manifest default.
type ModelProps struct {
	// Catalog reference of the model.
	// example: acme/tiny-chat/gguf
	Model string `json:"model" example:"acme/tiny-chat/gguf"`
	// Backend hint: auto, cpu, cuda, vulkan or metal.
	// example: auto
	Backend string `json:"backend,omitempty" example:"auto"`
	// Memory-map model weights instead of reading them into RAM.
	UseMMap *bool `json:"use_mmap,omitempty"`
	// Context window size in tokens.
	ContextSize any `json:"context_size,omitempty" swaggertype:"number" example:"2048"`
	// Sampling temperature.
	Temperature any `json:"temperature,omitempty" swaggertype:"number" example:"0.7"`
	// Top-K sampling.
	TopK any `json:"top_k,omitempty" swaggertype:"number" example:"40"`
	// Nucleus sampling probability.
	TopP any `json:"top_p,omitempty" swaggertype:"number" example:"0.9"`
	// Maximum number of new tokens to generate.
	MaxTokens any `json:"max_tokens,omitempty" swaggertype:"number" example:"256"`
	// Random seed; 0 lets the engine choose.
	Seed int `json:"seed,omitempty" example:"42"`
	// Enable flash attention for the context.
	FlashAttention bool `json:"flash_attention,omitempty"`
}

// ScoreRequest asks how well a model/configuration fits this machine.
type ScoreRequest struct {
	Model          string `json:"model" example:"acme/tiny-chat/gguf"`
	Backend        string `json:"backend,omitempty" example:"auto"`
	FlashAttention *bool  `json:"flash_attention,omitempty"`
	ContextSize    any    `json:"context_size,omitempty" swaggertype:"number" example:"4096"`
}

// ScoreResponse carries a fit score in [0, 1].
type ScoreResponse struct {
	Score float64 `json:"score" example:"0.82"`
}

// PromptRequest runs a raw completion.
type PromptRequest struct {
	// Optional session id; generated when empty and echoed back.
	SessionID string     `json:"session_id,omitempty" example:"3f0c0c3e-5d1e-4b55-bb0e-0bb1c3b0d6a2"`
	Props     ModelProps `json:"props"`
	Prompt    string     `json:"prompt" example:"Write a haiku about the ocean."`
	// Optional JSON schema the output must follow.
	ResponseConstraint json.RawMessage `json:"response_constraint,omitempty" swaggertype:"object"`
}

// PromptResponse is the final line of a prompt stream.
type PromptResponse struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// ContentPart is one element of a multi-part message body.
type ContentPart struct {
	Type  string `json:"type" example:"text"`
	Value string `json:"value" example:"Hello"`
}

// MessageContent is either a plain string or a list of parts on the wire.
type MessageContent []ContentPart

// UnmarshalJSON accepts "text" or [{"type":"text","value":"..."}].
func (c *MessageContent) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*c = MessageContent{{Type: "text", Value: s}}
		return nil
	}
	var parts []ContentPart
	if err := json.Unmarshal(b, &parts); err != nil {
		return errors.New("content must be a string or a list of parts")
	}
	*c = parts
	return nil
}

// ChatMessage is a caller-side role/content message.
type ChatMessage struct {
	// system, user or assistant.
	Role    string         `json:"role" example:"user"`
	Content MessageContent `json:"content" swaggertype:"string" example:"Hello there"`
}

// ToolDecl declares a function the model may call during a chat turn.
type ToolDecl struct {
	Name        string          `json:"name" example:"get_weather"`
	Description string          `json:"description,omitempty" example:"Look up the current weather"`
	Parameters  json.RawMessage `json:"parameters,omitempty" swaggertype:"object"`
}

// ChatRequest runs one chat turn for a session.
type ChatRequest struct {
	SessionID string     `json:"session_id" example:"s1"`
	Props     ModelProps `json:"props"`
	// Fingerprint of the history the caller believes the session holds.
	HistoryFingerprint string `json:"history_fingerprint,omitempty" example:"h1:9b2c..."`
	// Full history, sent when the caller has no usable fingerprint.
	History []ChatMessage `json:"history,omitempty"`
	// Messages making up the new turn.
	Input              []ChatMessage   `json:"input"`
	Tools              []ToolDecl      `json:"tools,omitempty"`
	ResponseConstraint json.RawMessage `json:"response_constraint,omitempty" swaggertype:"object"`
}

// ChatResponse is the final line of a chat stream.
type ChatResponse struct {
	SessionID       string `json:"session_id"`
	Text            string `json:"text"`
	HistoryRestored bool   `json:"history_restored"`
	// Fingerprint of the history after this turn; empty when it could not be persisted.
	Fingerprint string `json:"fingerprint,omitempty"`
}

// EmbeddingsRequest computes one vector per input.
type EmbeddingsRequest struct {
	SessionID string     `json:"session_id,omitempty"`
	Props     ModelProps `json:"props"`
	Inputs    []string   `json:"inputs"`
}

// EmbeddingsResponse is the final line of an embeddings stream.
type EmbeddingsResponse struct {
	SessionID string      `json:"session_id"`
	Vectors   [][]float32 `json:"vectors"`
}

// TokensRequest counts the tokens of text for a model.
type TokensRequest struct {
	SessionID string     `json:"session_id,omitempty"`
	Props     ModelProps `json:"props"`
	Text      string     `json:"text"`
}

// TokensResponse holds a token count.
type TokensResponse struct {
	Count int `json:"count" example:"12"`
}

// ToolResultRequest delivers the outcome of a tool call.
type ToolResultRequest struct {
	Result json.RawMessage `json:"result,omitempty" swaggertype:"object"`
	Error  string          `json:"error,omitempty"`
}

// ToolResultResponse reports whether the result settled a pending call.
type ToolResultResponse struct {
	Accepted bool `json:"accepted"`
}

// Event types streamed as NDJSON lines.
const (
	EventChunk    = "chunk"
	EventToolCall = "toolCall"
	EventLoading  = "loading"
	EventVector   = "vector"
	EventDone     = "done"
	EventError    = "error"
)

// Event is one streamed NDJSON line.
type Event struct {
	Type      string          `json:"type"`
	Chunk     string          `json:"chunk,omitempty"`
	CallID    string          `json:"call_id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Arguments json.RawMessage `json:"arguments,omitempty" swaggertype:"object"`
	Index     int             `json:"index,omitempty"`
	Vector    []float32       `json:"vector,omitempty"`
	Model     string          `json:"model,omitempty"`
	Result    any             `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	Code      int             `json:"code,omitempty"`
}

// BackendInfo describes one acceleration backend.
type BackendInfo struct {
	// example: cuda
	Kind      string `json:"kind" example:"cuda"`
	Available bool   `json:"available"`
	Device    string `json:"device,omitempty" example:"NVIDIA GeForce RTX 4090"`
	Reason    string `json:"reason,omitempty"`
}

// BackendsResponse is returned by GET /backends.
type BackendsResponse struct {
	Backends []BackendInfo `json:"backends"`
}

// ModelsResponse wraps the list of models returned by GET /models.
type ModelsResponse struct {
	// List of available models.
	Models []Model `json:"models"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: invalid JSON body
	Error string `json:"error" example:"invalid JSON body"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// ResidentStatus summarizes the loaded model for /status.
type ResidentStatus struct {
	// example: acme/tiny-chat/gguf
	ModelID string `json:"model_id" example:"acme/tiny-chat/gguf"`
	// Backend the model was loaded on.
	// example: cpu
	Backend string `json:"backend" example:"cpu"`
	UseMMap bool   `json:"use_mmap"`
	// Unix seconds of the load.
	LoadedAt int64 `json:"loaded_at_unix" example:"1700000000"`
}

// StatusResponse is returned by GET /status.
type StatusResponse struct {
	// Overall manager state (idle, loading, ready, error).
	// example: ready
	State string `json:"state" example:"ready"`
	// Resident model, absent when nothing is loaded.
	Model *ResidentStatus `json:"model,omitempty"`
	// Kind of the current execution context: none, embedding, completion or chat.
	// example: chat
	Context string `json:"context" example:"chat"`
	// Tracking ids holding the current context.
	TrackingIDs []string `json:"tracking_ids"`
	// Operations waiting on the request queue.
	QueueLen int `json:"queue_len" example:"0"`
	// Whether an operation is executing.
	Busy bool `json:"busy"`
	// Tool calls awaiting a result.
	PendingToolCalls int `json:"pending_tool_calls" example:"0"`
	// Unix seconds when the idle timer fires; 0 when disarmed.
	IdleDisposeAtUnix int64 `json:"idle_dispose_at_unix,omitempty"`
	// Total number of model loads.
	// example: 12
	LoadsTotal uint64 `json:"loads_total" example:"12"`
	// Total number of model disposals.
	// example: 5
	EvictionsTotal uint64 `json:"evictions_total" example:"5"`
	// Last error observed by the manager (if any).
	LastError string `json:"last_error,omitempty"`
	// Uptime of the server in seconds.
	UptimeSeconds int64 `json:"uptime_seconds" example:"3600"`
	// Server time in unix seconds.
	ServerTimeUnix int64 `json:"server_time_unix" example:"1700000000"`
}
