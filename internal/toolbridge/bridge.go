// Package toolbridge pairs model-initiated function calls with results that
// arrive out of band, bounding every wait with a timeout.
package toolbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds how long a call may wait for its result.
const DefaultTimeout = 5 * time.Minute

var (
	// ErrTimeout rejects a call nobody answered in time.
	ErrTimeout = errors.New("tool call timed out")
	// ErrDuplicateCall is returned when a call id is already pending.
	ErrDuplicateCall = errors.New("tool call id already pending")
	// ErrClosed rejects calls still pending at shutdown.
	ErrClosed = errors.New("tool bridge closed")
)

// RemoteError carries an error reported by the caller that ran the tool.
type RemoteError struct{ Msg string }

func (e *RemoteError) Error() string { return "tool failed: " + e.Msg }

// Config tunes a Bridge.
type Config struct {
	Timeout time.Duration
	Logger  *zerolog.Logger
}

// Bridge tracks pending calls by id.
type Bridge struct {
	mu      sync.Mutex
	calls   map[string]*Pending
	timeout time.Duration
	log     zerolog.Logger
}

// Pending is one call awaiting its result.
type Pending struct {
	ID      string
	b       *Bridge
	done    chan struct{}
	result  json.RawMessage
	err     error
	timer   *time.Timer
	started time.Time
}

// New constructs a Bridge.
func New(cfg Config) *Bridge {
	b := &Bridge{calls: make(map[string]*Pending), timeout: cfg.Timeout}
	if b.timeout <= 0 {
		b.timeout = DefaultTimeout
	}
	if cfg.Logger != nil {
		b.log = cfg.Logger.With().Str("component", "toolbridge").Logger()
	} else {
		b.log = zerolog.Nop()
	}
	return b
}

// Begin registers callID and arms its timeout.
func (b *Bridge) Begin(callID string) (*Pending, error) {
	if callID == "" {
		return nil, errors.New("tool call id is empty")
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.calls[callID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrDuplicateCall, callID)
	}
	p := &Pending{ID: callID, b: b, done: make(chan struct{}), started: time.Now()}
	p.timer = time.AfterFunc(b.timeout, func() {
		if b.settle(callID, nil, ErrTimeout) {
			b.log.Warn().Str("call_id", callID).Dur("after", b.timeout).Msg("tool call timed out")
		}
	})
	b.calls[callID] = p
	return p, nil
}

// Wait blocks until the call settles or ctx ends. Ending ctx rejects the call.
func (p *Pending) Wait(ctx context.Context) (json.RawMessage, error) {
	select {
	case <-p.done:
	case <-ctx.Done():
		p.b.settle(p.ID, nil, ctx.Err())
		<-p.done
	}
	return p.result, p.err
}

// Resolve delivers a successful result. It reports false for unknown or already settled ids.
func (b *Bridge) Resolve(callID string, result json.RawMessage) bool {
	ok := b.settle(callID, result, nil)
	if !ok {
		b.log.Warn().Str("call_id", callID).Msg("late or unknown tool result ignored")
	}
	return ok
}

// Reject delivers a failure. It reports false for unknown or already settled ids.
func (b *Bridge) Reject(callID string, err error) bool {
	ok := b.settle(callID, nil, err)
	if !ok {
		b.log.Warn().Str("call_id", callID).Err(err).Msg("late or unknown tool error ignored")
	}
	return ok
}

// settle completes a call exactly once.
func (b *Bridge) settle(callID string, result json.RawMessage, err error) bool {
	b.mu.Lock()
	p, ok := b.calls[callID]
	if ok {
		delete(b.calls, callID)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	p.timer.Stop()
	p.result, p.err = result, err
	close(p.done)
	b.log.Debug().Str("call_id", callID).Dur("waited", time.Since(p.started)).Err(err).Msg("tool call settled")
	return true
}

// Pending returns the number of unsettled calls.
func (b *Bridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.calls)
}

// Close rejects every pending call.
func (b *Bridge) Close() {
	b.mu.Lock()
	ids := make([]string, 0, len(b.calls))
	for id := range b.calls {
		ids = append(ids, id)
	}
	b.mu.Unlock()
	for _, id := range ids {
		b.settle(id, nil, ErrClosed)
	}
}
