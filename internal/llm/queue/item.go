package queue

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/billie-coop/personabot/internal/character"
	"github.com/billie-coop/personabot/internal/llm"
)

var (
	// ErrGenerationFailed means every attempt was used without an acceptable response.
	ErrGenerationFailed = errors.New("failed to generate a response")

	// ErrStopped means the worker shut down before the request was resolved.
	ErrStopped = errors.New("generation worker stopped")

	// ErrClosed is returned when pushing onto a closed queue.
	ErrClosed = errors.New("queue closed")

	// ErrNotStarted is returned by Stop on a manager that is not running.
	ErrNotStarted = errors.New("manager not started")

	// ErrInvalidRequest is returned for requests rejected before enqueueing.
	ErrInvalidRequest = errors.New("invalid generation request")
)

// Result is the outcome of a request: exactly one of Completion or Err is set.
type Result struct {
	Completion *llm.Completion
	Err        error

	// Attempts is how many backend attempts the worker spent.
	Attempts int
}

// OK reports whether the request succeeded.
func (r Result) OK() bool {
	return r.Err == nil && r.Completion != nil
}

// Request represents a single prompt-generation job.
//
// A request is created by the Manager, owned by the Queue while pending, and
// resolved exactly once by the Processor. Producers wait on Done.
type Request struct {
	// ID uniquely identifies this request in logs and the call log
	ID string

	// Prompt is sent verbatim to the model as a single user message
	Prompt string

	// Character selects the model
	Character character.Character

	// Temperature is optional; nil leaves the backend default
	Temperature *float64

	// Source says which handler created the request, for logs only
	// e.g. "talk", "retry", "reply", "message", "console"
	Source string

	// Created timestamp for queue latency
	Created time.Time

	done   chan struct{}
	once   sync.Once
	result Result
}

// Option configures a Request when creating it.
type Option func(*Request)

// WithSource tags the request with the handler that created it.
func WithSource(source string) Option {
	return func(r *Request) {
		r.Source = source
	}
}

// NewRequest creates a pending request. This is typically called by
// Manager.Enqueue, not directly.
func NewRequest(id, prompt string, ch character.Character, temperature *float64, opts ...Option) *Request {
	r := &Request{
		ID:          id,
		Prompt:      prompt,
		Character:   ch,
		Temperature: temperature,
		Source:      "generic",
		Created:     time.Now(),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Done is closed once the request has a result.
func (r *Request) Done() <-chan struct{} {
	return r.done
}

// Result returns the outcome. It is only meaningful after Done is closed.
func (r *Request) Result() Result {
	<-r.done
	return r.result
}

// Wait blocks until the request resolves or ctx ends. When ctx ends first the
// request keeps running; only this caller stops waiting.
func (r *Request) Wait(ctx context.Context) (Result, error) {
	select {
	case <-r.done:
		return r.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

// resolve publishes the result and wakes the waiter. Later calls are ignored.
func (r *Request) resolve(res Result) bool {
	resolved := false
	r.once.Do(func() {
		r.result = res
		close(r.done)
		resolved = true
	})
	return resolved
}
