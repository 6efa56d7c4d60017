// Package api is the caller-facing adapter over the session manager. Every
// operation validates and clamps its input, waits its turn on the request
// queue and streams progress through an Emitter.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/santhosh-tekuri/jsonschema/v6"

	"sessiond/internal/engine"
	"sessiond/internal/manager"
	"sessiond/internal/probe"
	"sessiond/internal/queue"
	"sessiond/internal/registry"
	"sessiond/internal/toolbridge"
	"sessiond/pkg/types"
)

// Registry resolves model references.
type Registry interface {
	ReadManifest(ref string) (types.Manifest, error)
	List() []types.Model
}

// Prober reports backends and scores configurations.
type Prober interface {
	Probe(ctx context.Context) []types.BackendInfo
	Score(ctx context.Context, in probe.ScoreInput) float64
}

// AssetResolver maps manifest asset paths to files.
type AssetResolver interface {
	AssetPath(rel string) (string, error)
}

// Emitter receives streamed events. An error stops the operation.
type Emitter interface {
	Emit(ev types.Event) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ev types.Event) error

func (f EmitterFunc) Emit(ev types.Event) error { return f(ev) }

// Discard drops every event.
var Discard Emitter = EmitterFunc(func(types.Event) error { return nil })

// Config wires a Service.
type Config struct {
	Registry Registry
	Prober   Prober
	Manager  *manager.Manager
	Queue    *queue.Queue
	Bridge   *toolbridge.Bridge
	Assets   AssetResolver
	// DefaultBackend applies when a request carries no backend hint.
	DefaultBackend string
	DefaultUseMMap bool
	Threads        int
	Logger         *zerolog.Logger
}

// Service implements the caller-facing operations.
type Service struct {
	cfg Config
	log zerolog.Logger
}

// New constructs a Service. A nil Bridge gets a default one.
func New(cfg Config) *Service {
	s := &Service{cfg: cfg, log: zerolog.Nop()}
	if cfg.Logger != nil {
		s.log = cfg.Logger.With().Str("component", "api").Logger()
	}
	if s.cfg.Bridge == nil {
		s.cfg.Bridge = toolbridge.New(toolbridge.Config{Logger: cfg.Logger})
	}
	return s
}

// run executes fn on the request queue.
func (s *Service) run(ctx context.Context, op string, fn queue.Task) error {
	_, err := do(ctx, s, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// do executes fn on the request queue and returns its value. The idle timer
// is disarmed while fn runs and rearmed afterwards; any cancellation surfaces
// as ErrAborted.
func do[T any](ctx context.Context, s *Service, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if ctx.Err() != nil {
		return zero, ErrAborted
	}
	out, err := queue.Do(ctx, s.cfg.Queue, func(ctx context.Context) (T, error) {
		s.cfg.Manager.UnscheduleAutoDispose()
		defer s.cfg.Manager.ScheduleAutoDispose()
		if ctx.Err() != nil {
			return zero, ErrAborted
		}
		return fn(ctx)
	})
	err = aborted(ctx, err)
	switch {
	case err == nil:
	case IsAborted(err):
		s.log.Debug().Str("op", op).Msg("aborted")
	case manager.IsPrecondition(err):
		s.log.Error().Err(err).Str("op", op).Msg("precondition violated")
	default:
		s.log.Warn().Err(err).Str("op", op).Msg("operation failed")
	}
	return out, err
}

// manifest resolves ref and checks that it supports op.
func (s *Service) manifest(ref string, op types.Operation) (types.Manifest, error) {
	if ref == "" {
		return types.Manifest{}, ErrInvalid("model is required")
	}
	mf, err := s.cfg.Registry.ReadManifest(ref)
	if err != nil {
		if errors.Is(err, registry.ErrNotFound) {
			return types.Manifest{}, manager.ErrModelNotFound(ref)
		}
		return types.Manifest{}, err
	}
	if op != "" && !mf.Supports(op) {
		return types.Manifest{}, manager.ErrUnsupported("operation " + string(op) + " on " + ref)
	}
	return mf, nil
}

// announceLoad emits a loading event when mf is not the resident model.
func (s *Service) announceLoad(mf types.Manifest, emit Emitter) error {
	if r := s.cfg.Manager.Resident(); r != nil && r.Manifest.ID == mf.ID {
		return nil
	}
	return emit.Emit(types.Event{Type: types.EventLoading, Model: mf.ID})
}

// checkInput enforces max_input_tokens.
func checkInput(r *manager.ResidentModel, text string) error {
	limit := r.Manifest.Limits.MaxInputTokens
	if limit <= 0 {
		return nil
	}
	toks, err := r.Tokenize(text)
	if err != nil {
		return err
	}
	if len(toks) > limit {
		return ErrInputTooLong
	}
	return nil
}

// overflow keeps partial output when generation ran out of context.
func (s *Service) overflow(op, model string, text string, err error) (string, error) {
	if err != nil && engine.IsContextOverflow(err) {
		s.log.Warn().Err(err).Str("op", op).Str("model", model).Int("partial_bytes", len(text)).Msg("context window exhausted; returning partial output")
		return text, nil
	}
	return text, err
}

// constraint compiles an optional response constraint into a grammar.
func constraint(raw json.RawMessage) (*jsonschema.Schema, string, error) {
	sch, err := compileSchema(raw)
	if err != nil {
		return nil, "", ErrInvalid("response_constraint: " + err.Error())
	}
	if sch == nil {
		return nil, "", nil
	}
	if _, err := engine.SchemaGrammar(raw); err != nil {
		return nil, "", fmt.Errorf("%w: %v", engine.ErrGrammarUnsupported, err)
	}
	return sch, string(raw), nil
}

// checkConstraint warns when output does not follow its schema.
func (s *Service) checkConstraint(op string, sch *jsonschema.Schema, text string) {
	if sch == nil {
		return
	}
	if err := validateJSON(sch, []byte(strings.TrimSpace(text))); err != nil {
		s.log.Warn().Err(err).Str("op", op).Msg("output does not match response constraint")
	}
}

func chunkEmitter(emit Emitter) func(string) error {
	return func(chunk string) error {
		return emit.Emit(types.Event{Type: types.EventChunk, Chunk: chunk})
	}
}

// GetSupportedBackends reports every backend with its availability.
func (s *Service) GetSupportedBackends(ctx context.Context) types.BackendsResponse {
	return types.BackendsResponse{Backends: s.cfg.Prober.Probe(ctx)}
}

// GetModelScore rates how well a model and configuration fit this machine.
func (s *Service) GetModelScore(ctx context.Context, req types.ScoreRequest) (types.ScoreResponse, error) {
	mf, err := s.manifest(req.Model, "")
	if err != nil {
		return types.ScoreResponse{}, err
	}
	hint := req.Backend
	if hint == "" {
		hint = s.cfg.DefaultBackend
	}
	backend, ok := engine.ParseBackend(hint)
	if !ok {
		return types.ScoreResponse{}, ErrInvalid("unknown backend " + hint)
	}
	path, err := s.cfg.Assets.AssetPath(mf.Assets.Model)
	if err != nil {
		return types.ScoreResponse{}, ErrInvalid(err.Error())
	}
	fi, err := os.Stat(path)
	if err != nil {
		return types.ScoreResponse{}, manager.ErrModelNotFound(mf.ID)
	}
	in := probe.ScoreInput{
		ModelBytes:  fi.Size(),
		Manifest:    mf,
		Backend:     backend,
		ContextSize: int(Clamp(mf.Config.ContextSize, req.ContextSize)),
	}
	if req.FlashAttention != nil {
		in.FlashAttention = *req.FlashAttention
	}
	score, err := do(ctx, s, "score", func(ctx context.Context) (float64, error) {
		return s.cfg.Prober.Score(ctx, in), nil
	})
	return types.ScoreResponse{Score: score}, err
}

// ExecPrompt runs a raw completion, streaming chunks.
func (s *Service) ExecPrompt(ctx context.Context, req types.PromptRequest, emit Emitter) (types.PromptResponse, error) {
	mf, err := s.manifest(req.Props.Model, types.OpPrompt)
	if err != nil {
		return types.PromptResponse{}, err
	}
	params, err := s.resolveParams(mf, req.Props)
	if err != nil {
		return types.PromptResponse{}, err
	}
	sch, grammar, err := constraint(req.ResponseConstraint)
	if err != nil {
		return types.PromptResponse{}, err
	}
	var resp types.PromptResponse
	err = s.run(ctx, "prompt", func(ctx context.Context) error {
		if err := s.announceLoad(mf, emit); err != nil {
			return err
		}
		sess, err := s.cfg.Manager.LoadCompletionSession(ctx, req.SessionID, mf, params.Load, params.Context)
		if err != nil {
			return err
		}
		if err := checkInput(sess.Model, req.Prompt); err != nil {
			return err
		}
		opts := params.generateOptions(mf)
		opts.Grammar = grammar
		opts.OnChunk = chunkEmitter(emit)
		text, err := sess.Complete(ctx, req.Prompt, opts)
		text, err = s.overflow("prompt", mf.ID, text, err)
		if err != nil {
			return err
		}
		s.checkConstraint("prompt", sch, text)
		resp = types.PromptResponse{SessionID: sess.TrackingID, Text: text}
		return nil
	})
	return resp, err
}

// ExecChatTurn runs one chat turn for a session. When the caller refers to a
// history by fingerprint that neither memory nor the store holds and sends no
// explicit history, nothing runs and HistoryRestored is false: the caller must
// resend the full history.
func (s *Service) ExecChatTurn(ctx context.Context, req types.ChatRequest, emit Emitter) (types.ChatResponse, error) {
	if req.SessionID == "" {
		return types.ChatResponse{}, manager.ErrPrecondition("chat requires a session_id")
	}
	if len(req.Tools) > 0 && len(req.ResponseConstraint) > 0 {
		return types.ChatResponse{}, ErrToolsWithGrammar
	}
	mf, err := s.manifest(req.Props.Model, types.OpChat)
	if err != nil {
		return types.ChatResponse{}, err
	}
	params, err := s.resolveParams(mf, req.Props)
	if err != nil {
		return types.ChatResponse{}, err
	}
	prefix, text, err := splitInput(req.Input)
	if err != nil {
		return types.ChatResponse{}, err
	}
	explicit, err := toTurns(req.History)
	if err != nil {
		return types.ChatResponse{}, err
	}
	if req.HistoryFingerprint == "" && explicit == nil {
		explicit = []engine.Turn{}
	}
	sch, grammar, err := constraint(req.ResponseConstraint)
	if err != nil {
		return types.ChatResponse{}, err
	}
	fns, err := s.functions(req.Tools, emit)
	if err != nil {
		return types.ChatResponse{}, err
	}

	resp := types.ChatResponse{SessionID: req.SessionID}
	err = s.run(ctx, "chat", func(ctx context.Context) error {
		if err := s.announceLoad(mf, emit); err != nil {
			return err
		}
		sess, err := s.cfg.Manager.LoadChatSession(ctx, req.SessionID, mf, params.Load, params.Context)
		if err != nil {
			return err
		}
		if err := checkInput(sess.Model, text); err != nil {
			return err
		}
		_, restored, err := s.cfg.Manager.LoadChatHistory(ctx, req.SessionID, mf, req.HistoryFingerprint, explicit)
		if err != nil {
			return err
		}
		if !restored {
			s.log.Info().Str("session", req.SessionID).Str("fingerprint", req.HistoryFingerprint).Msg("history unknown; caller must resend it")
			return nil
		}
		resp.HistoryRestored = true
		sess.Append(prefix...)
		opts := engine.ChatOptions{GenerateOptions: params.generateOptions(mf), Functions: fns}
		opts.Grammar = grammar
		opts.OnChunk = chunkEmitter(emit)
		out, err := sess.Prompt(ctx, text, opts)
		out, err = s.overflow("chat", mf.ID, out, err)
		if err != nil {
			return err
		}
		resp.Text = out
		s.checkConstraint("chat", sch, out)
		fp, err := s.cfg.Manager.SaveChatHistory(ctx, req.SessionID, mf)
		if err != nil {
			s.log.Warn().Err(err).Str("session", req.SessionID).Msg("save chat history failed")
			return nil
		}
		resp.Fingerprint = fp
		return nil
	})
	return resp, err
}

// GetEmbeddingVectors computes one vector per input, streaming each.
func (s *Service) GetEmbeddingVectors(ctx context.Context, req types.EmbeddingsRequest, emit Emitter) (types.EmbeddingsResponse, error) {
	mf, err := s.manifest(req.Props.Model, types.OpEmbed)
	if err != nil {
		return types.EmbeddingsResponse{}, err
	}
	if len(req.Inputs) == 0 {
		return types.EmbeddingsResponse{}, ErrInvalid("inputs is empty")
	}
	params, err := s.resolveParams(mf, req.Props)
	if err != nil {
		return types.EmbeddingsResponse{}, err
	}
	var resp types.EmbeddingsResponse
	err = s.run(ctx, "embed", func(ctx context.Context) error {
		if err := s.announceLoad(mf, emit); err != nil {
			return err
		}
		sess, err := s.cfg.Manager.LoadEmbeddingSession(ctx, req.SessionID, mf, params.Load, params.Context)
		if err != nil {
			return err
		}
		resp.SessionID = sess.TrackingID
		resp.Vectors = make([][]float32, 0, len(req.Inputs))
		for i, in := range req.Inputs {
			if err := checkInput(sess.Model, in); err != nil {
				return err
			}
			vec, err := sess.Embed(ctx, in)
			if err != nil {
				return err
			}
			if err := emit.Emit(types.Event{Type: types.EventVector, Index: i, Vector: vec}); err != nil {
				return err
			}
			resp.Vectors = append(resp.Vectors, vec)
		}
		return nil
	})
	return resp, err
}

// CountTokens tokenizes text with the model's tokenizer.
func (s *Service) CountTokens(ctx context.Context, req types.TokensRequest) (types.TokensResponse, error) {
	mf, err := s.manifest(req.Props.Model, types.OpTokenize)
	if err != nil {
		return types.TokensResponse{}, err
	}
	params, err := s.resolveParams(mf, req.Props)
	if err != nil {
		return types.TokensResponse{}, err
	}
	var resp types.TokensResponse
	err = s.run(ctx, "tokens", func(ctx context.Context) error {
		r, err := s.cfg.Manager.LoadModel(ctx, mf, params.Load)
		if err != nil {
			return err
		}
		toks, err := r.Tokenize(req.Text)
		if err != nil {
			return err
		}
		resp.Count = len(toks)
		return nil
	})
	return resp, err
}

// DisposeSession releases a session's hold on the current context and
// forgets its stored chat history.
func (s *Service) DisposeSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return ErrInvalid("session id is required")
	}
	return s.run(ctx, "dispose", func(ctx context.Context) error {
		s.cfg.Manager.UserRequestsDisposal(sessionID)
		s.cfg.Manager.ForgetChatHistory(ctx, sessionID)
		return nil
	})
}

// ToolResult settles a pending tool call. It runs outside the queue since
// the turn waiting for the result holds it. It reports whether a pending
// call was settled.
func (s *Service) ToolResult(callID string, req types.ToolResultRequest) bool {
	if req.Error != "" {
		return s.cfg.Bridge.Reject(callID, &toolbridge.RemoteError{Msg: req.Error})
	}
	result := req.Result
	if len(result) == 0 {
		result = json.RawMessage(`null`)
	}
	return s.cfg.Bridge.Resolve(callID, result)
}

// ListModels returns the catalog.
func (s *Service) ListModels() types.ModelsResponse {
	return types.ModelsResponse{Models: s.cfg.Registry.List()}
}

// Status reports manager, queue and tool call state.
func (s *Service) Status() types.StatusResponse {
	st := s.cfg.Manager.Status()
	st.PendingToolCalls = s.cfg.Bridge.Pending()
	return st
}

// Ready reports whether requests can be served.
func (s *Service) Ready() bool { return s.cfg.Manager.Ready() }

// Close rejects pending tool calls.
func (s *Service) Close() { s.cfg.Bridge.Close() }
