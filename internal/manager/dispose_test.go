package manager

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestUserRequestsDisposalIdempotent(t *testing.T) {
	h := newHarness(t, 0)
	copts := ContextOptions{ContextSize: 256}
	if _, err := h.m.LoadEmbeddingSession(ctxBg, "e1", h.a, ModelLoadOptions{}, copts); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if _, err := h.m.LoadEmbeddingSession(ctxBg, "e2", h.a, ModelLoadOptions{}, copts); err != nil {
		t.Fatalf("embed: %v", err)
	}
	h.m.UserRequestsDisposal("never-registered")
	h.m.UserRequestsDisposal("e1")
	h.m.UserRequestsDisposal("e1")
	if h.m.Resident() == nil {
		t.Fatalf("model must stay while e2 holds the context")
	}
	if st := h.eng.Stats(); st.ContextCloses != 0 {
		t.Fatalf("context closed early: %+v", st)
	}
	h.m.UserRequestsDisposal("e2")
	if h.m.Resident() != nil {
		t.Fatalf("last release must dispose immediately")
	}
	st := h.eng.Stats()
	if st.ContextCloses != 1 || st.ModelCloses != 1 || st.Live != 0 {
		t.Fatalf("unexpected teardown: %+v", st)
	}
	h.m.UserRequestsDisposal("e2")
	if got := h.m.Snapshot(); got.State != StateIdle || got.Context != ContextNone {
		t.Fatalf("unexpected state after disposal: %+v", got)
	}
}

func TestDisposalSwallowsCloseErrors(t *testing.T) {
	h := newHarness(t, 0)
	h.eng.CloseErr = errors.New("native teardown failed")
	if _, err := h.m.LoadChatSession(ctxBg, "s1", h.a, ModelLoadOptions{}, ContextOptions{}); err != nil {
		t.Fatalf("chat: %v", err)
	}
	h.m.UserRequestsDisposal("s1")
	if h.m.Resident() != nil {
		t.Fatalf("resident must be cleared even when close fails")
	}
	// a new model can still be loaded
	if _, err := h.m.LoadModel(ctxBg, h.b, ModelLoadOptions{}); err != nil {
		t.Fatalf("load after failed teardown: %v", err)
	}
	if st := h.eng.Stats(); st.MaxLive != 1 {
		t.Fatalf("at most one model may be live, got %d", st.MaxLive)
	}
}

func TestCloseDisposesEverything(t *testing.T) {
	h := newHarness(t, 0)
	if _, err := h.m.LoadCompletionSession(ctxBg, "p", h.a, ModelLoadOptions{}, ContextOptions{}); err != nil {
		t.Fatalf("completion: %v", err)
	}
	if err := h.m.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
	st := h.eng.Stats()
	if st.SessionCloses != 1 || st.ContextCloses != 1 || st.ModelCloses != 1 || st.EngineCloses != 1 {
		t.Fatalf("unexpected teardown: %+v", st)
	}
	h.m.ScheduleAutoDispose()
	if !h.m.IdleDisposeAt().IsZero() {
		t.Fatalf("closed manager must not arm the idle timer")
	}
}

func TestDisposeWithNothingLoaded(t *testing.T) {
	h := newHarness(t, 0)
	h.m.disposeAll(disposeIdle, true)
	if st := h.eng.Stats(); st.ModelCloses != 0 || st.EngineCloses != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestCloseDisposesWhenShutdownDeadlinePasses(t *testing.T) {
	h := newHarness(t, 0)
	if _, err := h.m.LoadModel(ctxBg, h.a, ModelLoadOptions{}); err != nil {
		t.Fatalf("load: %v", err)
	}
	release := make(chan struct{})
	defer close(release)
	go func() {
		_ = h.queue.Push(ctxBg, func(context.Context) error {
			<-release
			return nil
		})
	}()
	waitFor(t, "queue busy", h.queue.Busy)

	ctx, cancel := context.WithTimeout(ctxBg, 50*time.Millisecond)
	defer cancel()
	if err := h.m.Close(ctx); err != nil {
		t.Fatalf("close: %v", err)
	}
	if h.m.Resident() != nil {
		t.Fatalf("model must be disposed after the shutdown deadline")
	}
	if st := h.eng.Stats(); st.ModelCloses != 1 || st.EngineCloses != 1 {
		t.Fatalf("unexpected teardown: %+v", st)
	}
}
