package manager

import (
	"sort"
	"time"

	"sessiond/internal/engine"
	"sessiond/pkg/types"
)

// State represents the lifecycle state of the manager.
type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// ModelLoadOptions select how a model is loaded. Together with the manifest
// identity they decide whether the resident model can be reused.
type ModelLoadOptions struct {
	Backend engine.Backend
	UseMMap bool
}

// ContextOptions configure an execution context. Values compare by ==.
type ContextOptions struct {
	ContextSize    int
	BatchSize      int
	Threads        int
	FlashAttention bool
}

// ResidentModel is the single loaded model.
type ResidentModel struct {
	Manifest types.Manifest
	Options  ModelLoadOptions
	// Backend is the concrete backend Options.Backend resolved to.
	Backend  engine.Backend
	Path     string
	LoadedAt time.Time

	handle engine.Model
}

// Tokenize runs the model tokenizer.
func (r *ResidentModel) Tokenize(text string) ([]int, error) { return r.handle.Tokenize(text) }

func (r *ResidentModel) matches(m types.Manifest, opts ModelLoadOptions) bool {
	return r.Manifest.ID == m.ID && r.Manifest.Assets.Model == m.Assets.Model && r.Options == opts
}

// ContextKind tags the current execution context.
type ContextKind string

const (
	ContextNone       ContextKind = "none"
	ContextEmbedding  ContextKind = "embedding"
	ContextCompletion ContextKind = "completion"
	ContextChat       ContextKind = "chat"
)

// execContext is the current execution context. Exactly one variant is
// active: noContext, *embeddingContext, *completionContext or *chatContext.
type execContext interface {
	kind() ContextKind
	tracking() TrackingSet
}

type noContext struct{}

func (noContext) kind() ContextKind     { return ContextNone }
func (noContext) tracking() TrackingSet { return nil }

// liveContext holds what every non-empty variant owns.
type liveContext struct {
	opts    ContextOptions
	handle  engine.Context
	members TrackingSet
	// generated ids in the order they were handed out
	generated []string
}

func (c *liveContext) tracking() TrackingSet { return c.members }

type embeddingContext struct{ liveContext }

func (*embeddingContext) kind() ContextKind { return ContextEmbedding }

type completionContext struct {
	liveContext
	session engine.CompletionSession
}

func (*completionContext) kind() ContextKind { return ContextCompletion }

type chatContext struct {
	liveContext
	session engine.ChatSession
}

func (*chatContext) kind() ContextKind { return ContextChat }

// TrackingSet holds the tracking ids referencing a context.
type TrackingSet map[string]struct{}

func newTrackingSet(ids ...string) TrackingSet {
	s := make(TrackingSet, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Has reports membership.
func (s TrackingSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Only reports whether id is the sole member.
func (s TrackingSet) Only(id string) bool { return len(s) == 1 && s.Has(id) }

// IDs returns the members sorted.
func (s TrackingSet) IDs() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Snapshot is a read-only projection of the manager state.
type Snapshot struct {
	State       State
	Resident    *ResidentModel
	Context     ContextKind
	TrackingIDs []string
	Err         string
}
