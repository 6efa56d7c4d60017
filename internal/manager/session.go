package manager

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"sessiond/internal/engine"
	"sessiond/pkg/types"
)

// EmbeddingSession is a handle on the current embedding context. It is valid
// until the next manager operation.
type EmbeddingSession struct {
	TrackingID string
	Model      *ResidentModel
	ctx        *embeddingContext
}

// Embed computes the embedding of text.
func (s *EmbeddingSession) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.ctx.handle.Embed(ctx, text)
}

// CompletionSession is a handle on the current completion context.
type CompletionSession struct {
	TrackingID string
	Model      *ResidentModel
	ctx        *completionContext
}

// Complete runs a raw completion.
func (s *CompletionSession) Complete(ctx context.Context, prompt string, opts engine.GenerateOptions) (string, error) {
	return s.ctx.session.Complete(ctx, prompt, opts)
}

// ChatSession is a handle on the current chat context.
type ChatSession struct {
	TrackingID string
	Model      *ResidentModel
	ctx        *chatContext
}

// Prompt appends a user turn and generates the reply.
func (s *ChatSession) Prompt(ctx context.Context, text string, opts engine.ChatOptions) (string, error) {
	return s.ctx.session.Prompt(ctx, text, opts)
}

// History returns a copy of the in-memory history.
func (s *ChatSession) History() []engine.Turn { return s.ctx.session.History() }

// Append adds turns to the history without generating.
func (s *ChatSession) Append(turns ...engine.Turn) {
	if len(turns) == 0 {
		return
	}
	s.ctx.session.SetHistory(append(s.ctx.session.History(), turns...))
}

// LoadEmbeddingSession loads the model and reuses or builds an embedding
// context. An empty trackingID is replaced by a generated one.
func (m *Manager) LoadEmbeddingSession(ctx context.Context, trackingID string, mf types.Manifest, opts ModelLoadOptions, copts ContextOptions) (*EmbeddingSession, error) {
	r, err := m.LoadModel(ctx, mf, opts)
	if err != nil {
		return nil, err
	}
	generated := trackingID == ""
	if generated {
		trackingID = uuid.NewString()
	}
	if c, ok := m.current.(*embeddingContext); ok && c.opts == copts {
		m.attach(&c.liveContext, trackingID, generated)
		m.reused(ContextEmbedding, mf.ID)
		return &EmbeddingSession{TrackingID: trackingID, Model: r, ctx: c}, nil
	}
	m.disposeContext()
	h, err := r.handle.NewContext(ctx, contextParams(copts, true))
	if err != nil {
		return nil, fmt.Errorf("create embedding context: %w", err)
	}
	c := &embeddingContext{newLiveContext(copts, h, trackingID, generated)}
	m.setContext(c)
	m.created(ContextEmbedding, mf.ID, copts)
	return &EmbeddingSession{TrackingID: trackingID, Model: r, ctx: c}, nil
}

// LoadCompletionSession loads the model and reuses or builds a completion
// context. An empty trackingID is replaced by a generated one.
func (m *Manager) LoadCompletionSession(ctx context.Context, trackingID string, mf types.Manifest, opts ModelLoadOptions, copts ContextOptions) (*CompletionSession, error) {
	r, err := m.LoadModel(ctx, mf, opts)
	if err != nil {
		return nil, err
	}
	generated := trackingID == ""
	if generated {
		trackingID = uuid.NewString()
	}
	if c, ok := m.current.(*completionContext); ok && c.opts == copts {
		m.attach(&c.liveContext, trackingID, generated)
		m.reused(ContextCompletion, mf.ID)
		return &CompletionSession{TrackingID: trackingID, Model: r, ctx: c}, nil
	}
	m.disposeContext()
	h, err := r.handle.NewContext(ctx, contextParams(copts, false))
	if err != nil {
		return nil, fmt.Errorf("create completion context: %w", err)
	}
	sess, err := h.NewCompletionSession()
	if err != nil {
		m.closeQuietly("context", h.Close)
		return nil, fmt.Errorf("create completion session: %w", err)
	}
	c := &completionContext{liveContext: newLiveContext(copts, h, trackingID, generated), session: sess}
	m.setContext(c)
	m.created(ContextCompletion, mf.ID, copts)
	return &CompletionSession{TrackingID: trackingID, Model: r, ctx: c}, nil
}

// LoadChatSession loads the model and reuses the chat context only when it
// belongs to trackingID alone and was built with equal options. Chat state is
// private to one caller, so any other chat context is rebuilt.
func (m *Manager) LoadChatSession(ctx context.Context, trackingID string, mf types.Manifest, opts ModelLoadOptions, copts ContextOptions) (*ChatSession, error) {
	if trackingID == "" {
		return nil, ErrPrecondition("chat session requires a tracking id")
	}
	r, err := m.LoadModel(ctx, mf, opts)
	if err != nil {
		return nil, err
	}
	if c, ok := m.current.(*chatContext); ok && c.opts == copts && c.members.Only(trackingID) {
		m.reused(ContextChat, mf.ID)
		return &ChatSession{TrackingID: trackingID, Model: r, ctx: c}, nil
	}
	m.disposeContext()
	h, err := r.handle.NewContext(ctx, contextParams(copts, false))
	if err != nil {
		return nil, fmt.Errorf("create chat context: %w", err)
	}
	tmpl := mf.ChatTemplate
	if tmpl == "" {
		tmpl = engine.TemplateChatML
	}
	sess, err := h.NewChatSession(tmpl)
	if err != nil {
		m.closeQuietly("context", h.Close)
		return nil, fmt.Errorf("create chat session: %w", err)
	}
	c := &chatContext{liveContext: newLiveContext(copts, h, trackingID, false), session: sess}
	m.setContext(c)
	m.created(ContextChat, mf.ID, copts)
	return &ChatSession{TrackingID: trackingID, Model: r, ctx: c}, nil
}

func newLiveContext(copts ContextOptions, h engine.Context, id string, generated bool) liveContext {
	c := liveContext{opts: copts, handle: h, members: newTrackingSet(id)}
	if generated {
		c.generated = []string{id}
	}
	return c
}

// attach adds id to the context's tracking set. Generated ids beyond
// maxGeneratedIDs push out the oldest generated id.
func (m *Manager) attach(c *liveContext, id string, generated bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.members[id] = struct{}{}
	if !generated {
		return
	}
	c.generated = append(c.generated, id)
	for len(c.generated) > maxGeneratedIDs {
		delete(c.members, c.generated[0])
		c.generated = c.generated[1:]
	}
}

func (m *Manager) reused(kind ContextKind, modelID string) {
	contextsTotal.WithLabelValues(string(kind), "reused").Inc()
	m.publish(Event{Name: EventContextReuse, ModelID: modelID, Fields: map[string]any{"kind": string(kind)}})
}

func (m *Manager) created(kind ContextKind, modelID string, copts ContextOptions) {
	contextsTotal.WithLabelValues(string(kind), "created").Inc()
	m.publish(Event{Name: EventContextNew, ModelID: modelID, Fields: map[string]any{"kind": string(kind), "context_size": copts.ContextSize}})
	m.log.Debug().Str("model", modelID).Str("kind", string(kind)).Int("context_size", copts.ContextSize).Msg("context created")
}

func contextParams(o ContextOptions, embedding bool) engine.ContextParams {
	batch := o.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	return engine.ContextParams{
		ContextSize:    o.ContextSize,
		BatchSize:      batch,
		Threads:        o.Threads,
		FlashAttention: o.FlashAttention,
		Embedding:      embedding,
	}
}
