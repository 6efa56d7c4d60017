package manager

import (
	"testing"

	"sessiond/internal/engine"
)

// Embedding session then chat session on the same model: model reused, the
// embedding context is disposed and the chat context belongs to s1 only.
func TestEmbeddingThenChatReusesModel(t *testing.T) {
	h := newHarness(t, 0)
	opts := ModelLoadOptions{Backend: engine.BackendAuto}
	r, err := h.m.LoadModel(ctxBg, h.a, opts)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	emb, err := h.m.LoadEmbeddingSession(ctxBg, "", h.a, opts, ContextOptions{ContextSize: 512})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if emb.TrackingID == "" {
		t.Fatalf("expected a generated tracking id")
	}
	if st := h.eng.Stats(); !st.LastContext.Embedding || st.LastContext.ContextSize != 512 {
		t.Fatalf("unexpected context params %+v", st.LastContext)
	}
	chat, err := h.m.LoadChatSession(ctxBg, "s1", h.a, opts, ContextOptions{ContextSize: 1024})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if chat.Model != r {
		t.Fatalf("model must be reused")
	}
	st := h.eng.Stats()
	if st.Loads != 1 || st.ContextCloses != 1 {
		t.Fatalf("expected 1 load and the embedding context disposed, got %+v", st)
	}
	kind, ids := h.m.CurrentContext()
	if kind != ContextChat || len(ids) != 1 || ids[0] != "s1" {
		t.Fatalf("expected chat context tracked by {s1}, got %s %v", kind, ids)
	}
}

func TestEmbeddingContextShared(t *testing.T) {
	h := newHarness(t, 0)
	copts := ContextOptions{ContextSize: 256}
	a, err := h.m.LoadEmbeddingSession(ctxBg, "e1", h.a, ModelLoadOptions{}, copts)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	b, err := h.m.LoadEmbeddingSession(ctxBg, "e2", h.a, ModelLoadOptions{}, copts)
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if a.ctx != b.ctx {
		t.Fatalf("equal options must share the embedding context")
	}
	if _, ids := h.m.CurrentContext(); len(ids) != 2 {
		t.Fatalf("expected two tracking ids, got %v", ids)
	}
	vec, err := b.Embed(ctxBg, "two words")
	if err != nil || len(vec) != 2 || vec[1] != 2 {
		t.Fatalf("embed: %v %v", vec, err)
	}
	// options change forces a new context
	if _, err := h.m.LoadEmbeddingSession(ctxBg, "e3", h.a, ModelLoadOptions{}, ContextOptions{ContextSize: 512}); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if _, ids := h.m.CurrentContext(); len(ids) != 1 || ids[0] != "e3" {
		t.Fatalf("expected fresh tracking set, got %v", ids)
	}
}

func TestCompletionSession(t *testing.T) {
	h := newHarness(t, 0)
	h.eng.Chunks = []string{"a", "b"}
	s, err := h.m.LoadCompletionSession(ctxBg, "p1", h.a, ModelLoadOptions{}, ContextOptions{ContextSize: 128})
	if err != nil {
		t.Fatalf("completion: %v", err)
	}
	var got []string
	out, err := s.Complete(ctxBg, "x", engine.GenerateOptions{OnChunk: func(c string) error { got = append(got, c); return nil }})
	if err != nil || out != "ab" || len(got) != 2 {
		t.Fatalf("complete: %q %v %v", out, got, err)
	}
	// switching kind disposes session and context
	if _, err := h.m.LoadEmbeddingSession(ctxBg, "p1", h.a, ModelLoadOptions{}, ContextOptions{ContextSize: 128}); err != nil {
		t.Fatalf("embed: %v", err)
	}
	if st := h.eng.Stats(); st.SessionCloses != 1 || st.ContextCloses != 1 {
		t.Fatalf("expected completion session and context closed, got %+v", st)
	}
}

func TestChatSingleTenancy(t *testing.T) {
	h := newHarness(t, 0)
	copts := ContextOptions{ContextSize: 1024}
	s1, err := h.m.LoadChatSession(ctxBg, "s1", h.a, ModelLoadOptions{}, copts)
	if err != nil {
		t.Fatalf("chat s1: %v", err)
	}
	again, err := h.m.LoadChatSession(ctxBg, "s1", h.a, ModelLoadOptions{}, copts)
	if err != nil {
		t.Fatalf("chat s1 again: %v", err)
	}
	if again.ctx != s1.ctx {
		t.Fatalf("same owner and options must reuse the chat context")
	}
	s2, err := h.m.LoadChatSession(ctxBg, "s2", h.a, ModelLoadOptions{}, copts)
	if err != nil {
		t.Fatalf("chat s2: %v", err)
	}
	if s2.ctx == s1.ctx {
		t.Fatalf("a different tracking id must never reuse the chat context")
	}
	if st := h.eng.Stats(); st.ContextCloses != 1 || st.SessionCloses != 1 {
		t.Fatalf("expected previous chat disposed, got %+v", st)
	}
	if _, ids := h.m.CurrentContext(); len(ids) != 1 || ids[0] != "s2" {
		t.Fatalf("unexpected tracking set %v", ids)
	}
}

func TestChatRequiresTrackingID(t *testing.T) {
	h := newHarness(t, 0)
	if _, err := h.m.LoadChatSession(ctxBg, "", h.a, ModelLoadOptions{}, ContextOptions{}); !IsPrecondition(err) {
		t.Fatalf("expected precondition error, got %v", err)
	}
	if h.eng.Stats().Loads != 0 {
		t.Fatalf("precondition failure must not load anything")
	}
}

func TestChatTemplateDefaultsToChatML(t *testing.T) {
	h := newHarness(t, 0)
	s, err := h.m.LoadChatSession(ctxBg, "s1", h.a, ModelLoadOptions{}, ContextOptions{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	out, err := s.Prompt(ctxBg, "hello", engine.ChatOptions{})
	if err != nil || out != "hello" {
		t.Fatalf("prompt: %q %v", out, err)
	}
	if hist := s.History(); len(hist) != 2 || hist[0].Role != engine.RoleUser || hist[1].Role != engine.RoleAssistant {
		t.Fatalf("unexpected history %+v", hist)
	}
}

func TestChatAppendExtendsHistory(t *testing.T) {
	h := newHarness(t, 0)
	s, err := h.m.LoadChatSession(ctxBg, "s1", h.a, ModelLoadOptions{}, ContextOptions{})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	s.Append()
	s.Append(engine.Turn{Role: engine.RoleSystem, Text: "be brief"})
	if _, err := s.Prompt(ctxBg, "hi", engine.ChatOptions{}); err != nil {
		t.Fatalf("prompt: %v", err)
	}
	got := s.History()
	if len(got) != 3 || got[0].Role != engine.RoleSystem || got[1].Text != "hi" {
		t.Fatalf("unexpected history %+v", got)
	}
}

func TestGeneratedTrackingIDsAreCapped(t *testing.T) {
	h := newHarness(t, 0)
	copts := ContextOptions{ContextSize: 256}
	if _, err := h.m.LoadEmbeddingSession(ctxBg, "keep", h.a, ModelLoadOptions{}, copts); err != nil {
		t.Fatalf("embed: %v", err)
	}
	var ids []string
	for i := 0; i < maxGeneratedIDs+8; i++ {
		s, err := h.m.LoadEmbeddingSession(ctxBg, "", h.a, ModelLoadOptions{}, copts)
		if err != nil {
			t.Fatalf("embed %d: %v", i, err)
		}
		ids = append(ids, s.TrackingID)
	}
	_, members := h.m.CurrentContext()
	if len(members) != maxGeneratedIDs+1 {
		t.Fatalf("tracking set not capped: %d members", len(members))
	}
	set := newTrackingSet(members...)
	if !set.Has("keep") {
		t.Fatalf("caller-chosen id must never be pushed out")
	}
	if set.Has(ids[0]) || !set.Has(ids[len(ids)-1]) {
		t.Fatalf("oldest generated id must go first")
	}
	for _, id := range members {
		h.m.UserRequestsDisposal(id)
	}
	if h.m.Resident() != nil {
		t.Fatalf("releasing every member must dispose the model")
	}
	if st := h.eng.Stats(); st.ContextCloses != 1 {
		t.Fatalf("expected one context, got %+v", st)
	}
}
