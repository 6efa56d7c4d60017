package httpapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"sessiond/pkg/types"
)

// ndjsonStream writes events as newline-delimited JSON. The status line and
// headers are sent with the first event, so errors raised before any event
// can still be reported with a proper status code.
type ndjsonStream struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	r       *http.Request
	enc     *json.Encoder
	flush   func()
	echo    bool
	started bool
	lines   int
}

func newStream(w http.ResponseWriter, r *http.Request, lvl LogLevel) *ndjsonStream {
	s := &ndjsonStream{w: w, r: r, enc: json.NewEncoder(w), echo: lvl >= LevelDebug}
	if f, ok := w.(http.Flusher); ok {
		s.flush = f.Flush
	}
	return s
}

// Emit implements api.Emitter.
func (s *ndjsonStream) Emit(ev types.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.started {
		s.w.Header().Set("Content-Type", "application/x-ndjson")
		s.w.Header().Set("Cache-Control", "no-cache")
		s.w.WriteHeader(http.StatusOK)
		s.started = true
	}
	if err := s.enc.Encode(ev); err != nil {
		return err
	}
	s.lines++
	if s.flush != nil {
		s.flush()
	}
	if s.echo {
		b, _ := json.Marshal(ev)
		reqEvent(zlog.Debug(), s.r).RawJSON("event", b).Msg("stream>")
	}
	return nil
}

// Started reports whether any line was written.
func (s *ndjsonStream) Started() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}
