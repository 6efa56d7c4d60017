// Package enginetest provides an in-memory engine.Engine for tests.
package enginetest

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"sessiond/internal/engine"
)

// Call scripts one function invocation performed before a chat reply.
type Call struct {
	Name string
	Args json.RawMessage
}

// Engine is a scriptable fake. All counters are guarded by mu; use the accessor
// methods when reading them from another goroutine.
type Engine struct {
	mu sync.Mutex

	// Chunks are streamed for every completion and chat reply. Empty echoes the input.
	Chunks []string
	// Calls are invoked, in order, at the start of every chat prompt.
	Calls []Call
	// OverflowAfter > 0 makes generation fail with ErrContextOverflow after that many chunks.
	OverflowAfter int
	// LoadErr fails LoadModel.
	LoadErr error
	// CloseErr is returned from every Close to exercise best-effort disposal.
	CloseErr error
	// Block, when non-nil, is waited on by every generation before streaming.
	Block chan struct{}

	loads, modelCloses, contextCloses, sessionCloses, engineCloses int
	live, maxLive                                                  int
	lastLoad                                                       engine.LoadParams
	lastContext                                                    engine.ContextParams
	lastGenerate                                                   engine.GenerateOptions
	callResults                                                    []string
}

var _ engine.Engine = (*Engine)(nil)

// Stats is a point-in-time copy of the fake's counters.
type Stats struct {
	Loads, ModelCloses, ContextCloses, SessionCloses, EngineCloses int
	Live, MaxLive                                                  int
	LastLoad                                                       engine.LoadParams
	LastContext                                                    engine.ContextParams
	LastGenerate                                                   engine.GenerateOptions
	CallResults                                                    []string
}

// Stats returns the counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Stats{
		Loads: e.loads, ModelCloses: e.modelCloses, ContextCloses: e.contextCloses,
		SessionCloses: e.sessionCloses, EngineCloses: e.engineCloses,
		Live: e.live, MaxLive: e.maxLive,
		LastLoad: e.lastLoad, LastContext: e.lastContext, LastGenerate: e.lastGenerate,
		CallResults: append([]string(nil), e.callResults...),
	}
}

func (e *Engine) LoadModel(ctx context.Context, p engine.LoadParams) (engine.Model, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.LoadErr != nil {
		return nil, e.LoadErr
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.loads++
	e.live++
	if e.live > e.maxLive {
		e.maxLive = e.live
	}
	e.lastLoad = p
	return &model{e: e}, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	e.engineCloses++
	e.mu.Unlock()
	return e.CloseErr
}

type model struct {
	e      *Engine
	closed bool
}

func (m *model) NewContext(ctx context.Context, p engine.ContextParams) (engine.Context, error) {
	m.e.mu.Lock()
	m.e.lastContext = p
	m.e.mu.Unlock()
	return &fakeContext{e: m.e, params: p}, nil
}

func (m *model) Tokenize(text string) ([]int, error) {
	words := strings.Fields(text)
	out := make([]int, len(words))
	for i, w := range words {
		out[i] = len(w)
	}
	return out, nil
}

func (m *model) Close() error {
	m.e.mu.Lock()
	if !m.closed {
		m.closed = true
		m.e.modelCloses++
		m.e.live--
	}
	m.e.mu.Unlock()
	return m.e.CloseErr
}

type fakeContext struct {
	e      *Engine
	params engine.ContextParams
}

func (c *fakeContext) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return []float32{float32(len(text)), float32(len(strings.Fields(text)))}, nil
}

func (c *fakeContext) NewCompletionSession() (engine.CompletionSession, error) {
	return &completion{e: c.e}, nil
}

func (c *fakeContext) NewChatSession(template string) (engine.ChatSession, error) {
	return &chat{e: c.e}, nil
}

func (c *fakeContext) Close() error {
	c.e.mu.Lock()
	c.e.contextCloses++
	c.e.mu.Unlock()
	return c.e.CloseErr
}

// generate streams the scripted chunks for input.
func (e *Engine) generate(ctx context.Context, input string, opts engine.GenerateOptions) (string, error) {
	e.mu.Lock()
	e.lastGenerate = opts
	chunks := append([]string(nil), e.Chunks...)
	overflow := e.OverflowAfter
	block := e.Block
	e.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if len(chunks) == 0 {
		chunks = []string{input}
	}
	var b strings.Builder
	for i, ch := range chunks {
		if overflow > 0 && i == overflow {
			return b.String(), engine.ErrContextOverflow
		}
		if err := ctx.Err(); err != nil {
			return b.String(), err
		}
		if opts.OnChunk != nil {
			if err := opts.OnChunk(ch); err != nil {
				return b.String(), err
			}
		}
		b.WriteString(ch)
	}
	return b.String(), nil
}

type completion struct{ e *Engine }

func (s *completion) Complete(ctx context.Context, prompt string, opts engine.GenerateOptions) (string, error) {
	return s.e.generate(ctx, prompt, opts)
}

func (s *completion) Close() error {
	s.e.mu.Lock()
	s.e.sessionCloses++
	s.e.mu.Unlock()
	return s.e.CloseErr
}

type chat struct {
	e       *Engine
	history []engine.Turn
}

func (s *chat) Prompt(ctx context.Context, text string, opts engine.ChatOptions) (string, error) {
	s.history = append(s.history, engine.Turn{Role: engine.RoleUser, Text: text})
	s.e.mu.Lock()
	calls := append([]Call(nil), s.e.Calls...)
	s.e.mu.Unlock()
	for _, c := range calls {
		fn, ok := opts.Functions[c.Name]
		if !ok {
			continue
		}
		res, err := fn.Handler(ctx, c.Args)
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", ctxErr
		}
		body := engine.FormatFunctionResult(c.Name, res, err)
		s.e.mu.Lock()
		s.e.callResults = append(s.e.callResults, body)
		s.e.mu.Unlock()
		s.history = append(s.history, engine.Turn{Role: engine.RoleTool, Text: body})
	}
	gen := opts.GenerateOptions
	var filter *engine.CallFilter
	if len(opts.Functions) > 0 && gen.OnChunk != nil {
		filter = engine.NewCallFilter(gen.OnChunk)
		gen.OnChunk = filter.Write
	}
	out, err := s.e.generate(ctx, text, gen)
	if filter != nil {
		if ferr := filter.Flush(); ferr != nil && err == nil {
			err = ferr
		}
	}
	if out != "" {
		s.history = append(s.history, engine.Turn{Role: engine.RoleAssistant, Text: out})
	}
	return out, err
}

func (s *chat) History() []engine.Turn { return append([]engine.Turn(nil), s.history...) }

func (s *chat) SetHistory(turns []engine.Turn) { s.history = append([]engine.Turn(nil), turns...) }

func (s *chat) Close() error {
	s.e.mu.Lock()
	s.e.sessionCloses++
	s.e.mu.Unlock()
	return s.e.CloseErr
}
