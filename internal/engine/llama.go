//go:build llama

package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"runtime"
	"strings"

	llama "github.com/go-skynet/go-llama.cpp"
)

// LlamaBuilt indicates this binary was compiled with real llama support.
const LlamaBuilt = true

// maxFunctionRounds bounds tool-call round trips within one chat prompt.
const maxFunctionRounds = 8

type llamaEngine struct {
	threads int
}

// New returns the go-llama.cpp engine. threads <= 0 uses the CPU count.
func New(threads int) Engine {
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return &llamaEngine{threads: threads}
}

func (e *llamaEngine) Close() error { return nil }

// llamaModel owns the native handle. go-llama.cpp binds context size and the
// embedding flag at load time, so NewContext reloads the handle when they change.
type llamaModel struct {
	load    LoadParams
	threads int
	handle  *llama.LLama
	ctxSize int
	embed   bool
}

func (e *llamaEngine) LoadModel(ctx context.Context, p LoadParams) (Model, error) {
	if strings.TrimSpace(p.Path) == "" {
		return nil, errors.New("model path is empty")
	}
	m := &llamaModel{load: p, threads: e.threads}
	if err := m.reload(2048, false); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *llamaModel) reload(ctxSize int, embed bool) error {
	if m.handle != nil && m.ctxSize == ctxSize && m.embed == embed {
		return nil
	}
	if m.handle != nil {
		m.handle.Free()
		m.handle = nil
	}
	opts := []llama.ModelOption{
		llama.SetContext(ctxSize),
		llama.SetMMap(m.load.UseMMap),
	}
	if m.load.Backend != BackendCPU {
		opts = append(opts, llama.SetGPULayers(999))
	}
	if embed {
		opts = append(opts, llama.EnableEmbeddings)
	}
	h, err := llama.New(m.load.Path, opts...)
	if err != nil {
		return fmt.Errorf("load %s: %w", m.load.Path, err)
	}
	m.handle, m.ctxSize, m.embed = h, ctxSize, embed
	return nil
}

func (m *llamaModel) NewContext(ctx context.Context, p ContextParams) (Context, error) {
	size := p.ContextSize
	if size <= 0 {
		size = 2048
	}
	if err := m.reload(size, p.Embedding); err != nil {
		return nil, err
	}
	return &llamaContext{m: m, params: p}, nil
}

func (m *llamaModel) Tokenize(text string) ([]int, error) {
	if m.handle == nil {
		return nil, errors.New("llama model not initialized")
	}
	_, toks, err := m.handle.TokenizeString(text, llama.SetThreads(m.threads))
	if err != nil {
		return nil, err
	}
	out := make([]int, len(toks))
	for i, t := range toks {
		out[i] = int(t)
	}
	return out, nil
}

func (m *llamaModel) Close() error {
	if m.handle != nil {
		m.handle.Free()
		m.handle = nil
	}
	return nil
}

type llamaContext struct {
	m      *llamaModel
	params ContextParams
}

func (c *llamaContext) Embed(ctx context.Context, text string) ([]float32, error) {
	if !c.params.Embedding {
		return nil, errors.New("context was not created for embeddings")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.m.handle.Embeddings(text, llama.SetThreads(c.m.threads))
}

func (c *llamaContext) NewCompletionSession() (CompletionSession, error) {
	return &llamaCompletion{c: c}, nil
}

func (c *llamaContext) NewChatSession(template string) (ChatSession, error) {
	if template == "" {
		template = TemplateChatML
	}
	return &llamaChat{c: c, template: template}, nil
}

// Close is a no-op: the handle belongs to the model.
func (c *llamaContext) Close() error { return nil }

// predict runs one generation, streaming pieces to opts.OnChunk.
func (c *llamaContext) predict(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	h := c.m.handle
	if h == nil {
		return "", errors.New("llama model not initialized")
	}
	po := predictOptions(opts, c.m.threads)
	if opts.Grammar != "" {
		g, err := SchemaGrammar([]byte(opts.Grammar))
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrGrammarUnsupported, err)
		}
		po = append(po, llama.WithGrammar(g))
	}
	var cbErr error
	h.SetTokenCallback(func(tok string) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		if opts.OnChunk != nil {
			if err := opts.OnChunk(tok); err != nil {
				cbErr = err
				return false
			}
		}
		return true
	})
	text, err := h.Predict(prompt, po...)
	if ctx.Err() != nil {
		return text, ctx.Err()
	}
	if cbErr != nil {
		return text, cbErr
	}
	if err != nil {
		if IsContextOverflow(err) {
			return text, fmt.Errorf("%w: %v", ErrContextOverflow, err)
		}
		return text, err
	}
	return text, nil
}

type llamaCompletion struct{ c *llamaContext }

func (s *llamaCompletion) Complete(ctx context.Context, prompt string, opts GenerateOptions) (string, error) {
	return s.c.predict(ctx, prompt, opts)
}

func (s *llamaCompletion) Close() error { return nil }

type llamaChat struct {
	c        *llamaContext
	template string
	history  []Turn
}

func (s *llamaChat) Prompt(ctx context.Context, text string, opts ChatOptions) (string, error) {
	s.history = append(s.history, Turn{Role: RoleUser, Text: text})
	gen := opts.GenerateOptions
	gen.Stop = append(append([]string(nil), gen.Stop...), StopSequences(s.template)...)
	for round := 0; ; round++ {
		prompt := RenderChat(s.template, s.history, opts.Functions)
		stream := gen
		var filter *CallFilter
		if len(opts.Functions) > 0 && gen.OnChunk != nil {
			filter = NewCallFilter(gen.OnChunk)
			stream.OnChunk = filter.Write
		}
		out, err := s.c.predict(ctx, prompt, stream)
		if err != nil {
			if filter != nil {
				_ = filter.Flush()
			}
			if out != "" {
				s.history = append(s.history, Turn{Role: RoleAssistant, Text: out})
			}
			return out, err
		}
		call, before, ok := ParseFunctionCall(out)
		if !ok || round >= maxFunctionRounds {
			if filter != nil {
				if err := filter.Flush(); err != nil {
					return out, err
				}
			}
			s.history = append(s.history, Turn{Role: RoleAssistant, Text: out})
			return out, nil
		}
		if filter != nil {
			filter.Discard()
		}
		fn, known := opts.Functions[call.Name]
		s.history = append(s.history, Turn{Role: RoleAssistant, Text: before + toolCallOpen + string(mustJSON(call)) + toolCallClose})
		var res json.RawMessage
		var callErr error
		if !known {
			callErr = fmt.Errorf("unknown function %q", call.Name)
		} else {
			res, callErr = fn.Handler(ctx, call.Arguments)
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		s.history = append(s.history, Turn{Role: RoleTool, Text: FormatFunctionResult(call.Name, res, callErr)})
	}
}

func (s *llamaChat) History() []Turn { return append([]Turn(nil), s.history...) }

func (s *llamaChat) SetHistory(turns []Turn) { s.history = append([]Turn(nil), turns...) }

func (s *llamaChat) Close() error {
	s.history = nil
	return nil
}

// helpers
func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}

func zn(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

func zf(v float64, def float32) float32 {
	if v > 0 {
		return float32(v)
	}
	return def
}

// predictOptions converts GenerateOptions into go-llama.cpp options.
func predictOptions(o GenerateOptions, threads int) []llama.PredictOption {
	po := []llama.PredictOption{
		llama.SetTokens(zn(o.MaxTokens, 512)),
		llama.SetThreads(zn(threads, 1)),
		llama.SetTopP(zf(o.TopP, llama.DefaultOptions.TopP)),
		llama.SetTopK(zn(o.TopK, llama.DefaultOptions.TopK)),
		llama.SetTemperature(zf(o.Temperature, llama.DefaultOptions.Temperature)),
	}
	if o.Seed != 0 {
		po = append(po, llama.SetSeed(o.Seed))
	}
	if len(o.Stop) > 0 {
		po = append(po, llama.SetStopWords(o.Stop...))
	}
	return po
}
