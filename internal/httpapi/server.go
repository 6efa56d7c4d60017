package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"sessiond/internal/api"
	"sessiond/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	GetSupportedBackends(ctx context.Context) types.BackendsResponse
	GetModelScore(ctx context.Context, req types.ScoreRequest) (types.ScoreResponse, error)
	ExecPrompt(ctx context.Context, req types.PromptRequest, emit api.Emitter) (types.PromptResponse, error)
	ExecChatTurn(ctx context.Context, req types.ChatRequest, emit api.Emitter) (types.ChatResponse, error)
	GetEmbeddingVectors(ctx context.Context, req types.EmbeddingsRequest, emit api.Emitter) (types.EmbeddingsResponse, error)
	CountTokens(ctx context.Context, req types.TokensRequest) (types.TokensResponse, error)
	DisposeSession(ctx context.Context, sessionID string) error
	ToolResult(callID string, req types.ToolResultRequest) bool
	ListModels() types.ModelsResponse
	Status() types.StatusResponse
	Ready() bool
}

type handlers struct{ svc Service }

func NewMux(svc Service) http.Handler {
	h := &handlers{svc: svc}
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
			ExposedHeaders: []string{"X-Request-Id"},
			MaxAge:         300,
		}))
	}
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/models", h.models)
	r.Get("/status", h.status)
	r.Get("/backends", h.backends)

	r.Group(func(r chi.Router) {
		r.Use(rateLimit)
		r.Post("/score", h.score)
		r.Post("/prompt", h.prompt)
		r.Post("/chat", h.chat)
		r.Post("/embeddings", h.embeddings)
		r.Post("/tokens", h.tokens)
		r.Post("/sessions/{id}/dispose", h.dispose)
	})
	// tool results skip the limiter; a generating turn is waiting on them
	r.Post("/tools/{callID}/result", h.toolResult)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("unavailable"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)
	return r
}

// decode reads a JSON body into v, writing the error response itself.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeJSONError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// opContext joins the server base context with the request and applies the
// configured timeout.
func opContext(r *http.Request) (context.Context, context.CancelFunc) {
	ctx, cancel := joinContexts(serverBaseCtx, r.Context())
	if requestTimeout <= 0 {
		return ctx, cancel
	}
	tctx, tcancel := context.WithTimeout(ctx, requestTimeout)
	return tctx, func() { tcancel(); cancel() }
}

// clientGone reports whether the caller or the server went away.
func clientGone(r *http.Request) bool {
	return r.Context().Err() != nil || serverBaseCtx.Err() != nil
}

// fail reports err either as a JSON error or, once streaming started, as an
// error event.
func fail(w http.ResponseWriter, r *http.Request, st *ndjsonStream, err error) int {
	if clientGone(r) {
		return 0
	}
	code := statusFor(err)
	if st != nil && st.Started() {
		_ = st.Emit(types.Event{Type: types.EventError, Error: err.Error(), Code: code})
		return code
	}
	writeJSONError(w, code, err.Error())
	return code
}

// streamOp runs a streaming operation and finishes with a done event.
func streamOp[Req, Resp any](w http.ResponseWriter, r *http.Request, op string, run func(context.Context, Req, api.Emitter) (Resp, error)) {
	var req Req
	if !decode(w, r, &req) {
		return
	}
	lvl := requestLogLevel(r)
	start := time.Now()
	if lvl >= LevelInfo {
		reqEvent(zlog.Info(), r).Str("op", op).Msg("stream start")
	}
	ctx, cancel := opContext(r)
	defer cancel()
	st := newStream(w, r, lvl)
	resp, err := run(ctx, req, st)
	status := http.StatusOK
	if err != nil {
		status = fail(w, r, st, err)
	} else {
		_ = st.Emit(types.Event{Type: types.EventDone, Result: resp})
	}
	switch {
	case err != nil && lvl >= LevelError:
		reqEvent(zlog.Error(), r).Str("op", op).Int("status", status).Dur("dur", time.Since(start)).Err(err).Msg("stream failed")
	case lvl >= LevelInfo:
		reqEvent(zlog.Info(), r).Str("op", op).Int("status", status).Int("lines", st.lines).Dur("dur", time.Since(start)).Msg("stream end")
	}
}

// models godoc
// @Summary      List models
// @Tags         models
// @Produce      json
// @Success      200  {object}  types.ModelsResponse
// @Router       /models [get]
func (h *handlers) models(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.ListModels())
}

// status godoc
// @Summary      Session manager status
// @Tags         status
// @Produce      json
// @Success      200  {object}  types.StatusResponse
// @Router       /status [get]
func (h *handlers) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Status())
}

// backends godoc
// @Summary      Acceleration backends
// @Tags         capabilities
// @Produce      json
// @Success      200  {object}  types.BackendsResponse
// @Router       /backends [get]
func (h *handlers) backends(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.GetSupportedBackends(r.Context()))
}

// score godoc
// @Summary      Rate how well a model fits this machine
// @Tags         capabilities
// @Accept       json
// @Produce      json
// @Param        request  body      types.ScoreRequest  true  "Model and configuration"
// @Success      200      {object}  types.ScoreResponse
// @Failure      404      {object}  types.ErrorResponse
// @Router       /score [post]
func (h *handlers) score(w http.ResponseWriter, r *http.Request) {
	var req types.ScoreRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := opContext(r)
	defer cancel()
	resp, err := h.svc.GetModelScore(ctx, req)
	if err != nil {
		fail(w, r, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// prompt godoc
// @Summary      Raw completion
// @Description  Streams NDJSON events: loading, chunk, then done with a PromptResponse result.
// @Tags         inference
// @Accept       json
// @Produce      application/x-ndjson
// @Param        request  body      types.PromptRequest  true  "Prompt"
// @Success      200      {object}  types.Event
// @Failure      400      {object}  types.ErrorResponse
// @Failure      404      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Router       /prompt [post]
func (h *handlers) prompt(w http.ResponseWriter, r *http.Request) {
	streamOp(w, r, "prompt", h.svc.ExecPrompt)
}

// chat godoc
// @Summary      Chat turn
// @Description  Streams NDJSON events: loading, chunk, toolCall, then done with a ChatResponse result.
// @Tags         inference
// @Accept       json
// @Produce      application/x-ndjson
// @Param        request  body      types.ChatRequest  true  "Chat turn"
// @Success      200      {object}  types.Event
// @Failure      400      {object}  types.ErrorResponse
// @Failure      404      {object}  types.ErrorResponse
// @Failure      429      {object}  types.ErrorResponse
// @Router       /chat [post]
func (h *handlers) chat(w http.ResponseWriter, r *http.Request) {
	streamOp(w, r, "chat", h.svc.ExecChatTurn)
}

// embeddings godoc
// @Summary      Embedding vectors
// @Description  Streams one vector event per input, then done with an EmbeddingsResponse result.
// @Tags         inference
// @Accept       json
// @Produce      application/x-ndjson
// @Param        request  body      types.EmbeddingsRequest  true  "Inputs"
// @Success      200      {object}  types.Event
// @Router       /embeddings [post]
func (h *handlers) embeddings(w http.ResponseWriter, r *http.Request) {
	streamOp(w, r, "embeddings", h.svc.GetEmbeddingVectors)
}

// tokens godoc
// @Summary      Count tokens
// @Tags         inference
// @Accept       json
// @Produce      json
// @Param        request  body      types.TokensRequest  true  "Text"
// @Success      200      {object}  types.TokensResponse
// @Router       /tokens [post]
func (h *handlers) tokens(w http.ResponseWriter, r *http.Request) {
	var req types.TokensRequest
	if !decode(w, r, &req) {
		return
	}
	ctx, cancel := opContext(r)
	defer cancel()
	resp, err := h.svc.CountTokens(ctx, req)
	if err != nil {
		fail(w, r, nil, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// dispose godoc
// @Summary      Dispose a session
// @Tags         sessions
// @Param        id   path  string  true  "Session id"
// @Success      204
// @Router       /sessions/{id}/dispose [post]
func (h *handlers) dispose(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := opContext(r)
	defer cancel()
	if err := h.svc.DisposeSession(ctx, chi.URLParam(r, "id")); err != nil {
		fail(w, r, nil, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// toolResult godoc
// @Summary      Deliver a tool call result
// @Tags         sessions
// @Accept       json
// @Produce      json
// @Param        callID   path      string                   true  "Tool call id"
// @Param        request  body      types.ToolResultRequest  true  "Result or error"
// @Success      200      {object}  types.ToolResultResponse
// @Router       /tools/{callID}/result [post]
func (h *handlers) toolResult(w http.ResponseWriter, r *http.Request) {
	var req types.ToolResultRequest
	if !decode(w, r, &req) {
		return
	}
	ok := h.svc.ToolResult(chi.URLParam(r, "callID"), req)
	writeJSON(w, http.StatusOK, types.ToolResultResponse{Accepted: ok})
}
