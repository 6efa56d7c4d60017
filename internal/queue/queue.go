// Package queue provides the FIFO admission gate that serializes every
// operation touching the inference engine.
package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrTooBusy signals queue overflow or an admission wait timeout.
	ErrTooBusy = errors.New("queue: too busy")
	// ErrCanceled signals that the caller gave up before the task started.
	ErrCanceled = errors.New("queue: canceled before start")
)

// Task is a unit of serialized work.
type Task func(ctx context.Context) error

// Config tunes admission. Zero values mean unbounded.
type Config struct {
	// Name labels metrics and logs.
	Name string
	// MaxDepth bounds waiting tasks (not counting the running one).
	MaxDepth int
	// MaxWait bounds how long a task may wait before it starts.
	MaxWait time.Duration
	Logger  *zerolog.Logger
}

type job struct {
	ctx     context.Context
	fn      Task
	done    chan error
	started bool
	seq     uint64
}

// Queue runs at most one task at a time, in push order.
type Queue struct {
	mu      sync.Mutex
	pending []*job
	running bool
	seq     uint64

	name     string
	maxDepth int
	maxWait  time.Duration
	log      zerolog.Logger
}

// New constructs a Queue.
func New(cfg Config) *Queue {
	q := &Queue{name: cfg.Name, maxDepth: cfg.MaxDepth, maxWait: cfg.MaxWait}
	if q.name == "" {
		q.name = "default"
	}
	if cfg.Logger != nil {
		q.log = cfg.Logger.With().Str("component", "queue").Str("queue", q.name).Logger()
	} else {
		q.log = zerolog.Nop()
	}
	return q
}

// Push enqueues fn and blocks until it has run, returning its error.
// A task whose caller cancels before it starts is skipped and Push returns
// ErrCanceled. Once started, Push waits for the task to finish regardless of
// cancellation; the task sees the canceled ctx and is expected to stop promptly.
func (q *Queue) Push(ctx context.Context, fn Task) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	j := &job{ctx: ctx, fn: fn, done: make(chan error, 1)}

	q.mu.Lock()
	if q.maxDepth > 0 && len(q.pending) >= q.maxDepth {
		q.mu.Unlock()
		tasksTotal.WithLabelValues(q.name, "rejected").Inc()
		return ErrTooBusy
	}
	q.seq++
	j.seq = q.seq
	q.pending = append(q.pending, j)
	queueDepth.WithLabelValues(q.name).Set(float64(len(q.pending)))
	if !q.running {
		q.running = true
		go q.next()
	}
	q.mu.Unlock()

	var timeout <-chan time.Time
	if q.maxWait > 0 {
		timer := time.NewTimer(q.maxWait)
		defer timer.Stop()
		timeout = timer.C
	}
	select {
	case err := <-j.done:
		return err
	case <-ctx.Done():
		if q.abandon(j) {
			tasksTotal.WithLabelValues(q.name, "canceled").Inc()
			return fmt.Errorf("%w: %w", ErrCanceled, ctx.Err())
		}
		return <-j.done
	case <-timeout:
		if q.abandon(j) {
			tasksTotal.WithLabelValues(q.name, "timeout").Inc()
			return ErrTooBusy
		}
		return <-j.done
	}
}

// Do is Push for tasks that produce a value.
func Do[T any](ctx context.Context, q *Queue, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := q.Push(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		out = v
		return err
	})
	return out, err
}

// abandon removes j if it has not started yet.
func (q *Queue) abandon(j *job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if j.started {
		return false
	}
	for i, p := range q.pending {
		if p == j {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			break
		}
	}
	queueDepth.WithLabelValues(q.name).Set(float64(len(q.pending)))
	return true
}

// next runs the head task. Each completion schedules the following task on a
// fresh goroutine so the chain never grows the stack.
func (q *Queue) next() {
	q.mu.Lock()
	if len(q.pending) == 0 {
		q.running = false
		q.mu.Unlock()
		return
	}
	j := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	j.started = true
	queueDepth.WithLabelValues(q.name).Set(float64(len(q.pending)))
	q.mu.Unlock()

	err := q.run(j)
	if err != nil {
		tasksTotal.WithLabelValues(q.name, "error").Inc()
	} else {
		tasksTotal.WithLabelValues(q.name, "ok").Inc()
	}
	j.done <- err
	go q.next()
}

func (q *Queue) run(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error().Uint64("seq", j.seq).Interface("panic", r).Msg("task panicked")
			err = fmt.Errorf("queue: task panicked: %v", r)
		}
	}()
	if cerr := j.ctx.Err(); cerr != nil {
		return fmt.Errorf("%w: %w", ErrCanceled, cerr)
	}
	start := time.Now()
	err = j.fn(j.ctx)
	q.log.Debug().Uint64("seq", j.seq).Dur("dur", time.Since(start)).Err(err).Msg("task done")
	return err
}

// Len returns the number of waiting tasks.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Busy reports whether a task is executing or waiting.
func (q *Queue) Busy() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}
