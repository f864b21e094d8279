package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/billie-coop/personabot/internal/character"
	"github.com/billie-coop/personabot/internal/filter"
	"github.com/billie-coop/personabot/internal/llm"
)

// Temperature bounds accepted by Submit: (MinTemperature, MaxTemperature].
const (
	MinTemperature = 0.01
	MaxTemperature = 2.0
)

// Manager coordinates the queue and its single processor.
// This is the producer API every handler goes through.
type Manager struct {
	queue  *Queue
	proc   *Processor
	logger *zap.Logger

	// Lifecycle
	started bool
	mutex   sync.Mutex
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithLogger attaches a logger to the manager and its processor.
func WithLogger(logger *zap.Logger) ManagerOption {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
			m.proc.SetLogger(logger)
		}
	}
}

// WithObserver reports every backend attempt to o.
func WithObserver(o AttemptObserver) ManagerOption {
	return func(m *Manager) {
		m.proc.SetObserver(o)
	}
}

// NewManager creates a manager. Call Start before submitting.
func NewManager(completer llm.Completer, blocked *filter.BlockList, policy Policy, opts ...ManagerOption) *Manager {
	queue := NewQueue()
	proc := NewProcessor(queue, completer, blocked, policy)

	m := &Manager{
		queue:  queue,
		proc:   proc,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}

	// Hook up callbacks
	proc.OnStart(m.onRequestStart)
	proc.OnComplete(m.onRequestComplete)

	return m
}

// Start begins processing queued requests.
// Call this once during app initialization.
func (m *Manager) Start() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.started {
		return fmt.Errorf("manager already started")
	}
	if err := m.proc.Start(); err != nil {
		return err
	}
	m.started = true
	return nil
}

// Stop shuts the worker down; requests still queued fail with ErrStopped.
// A stopped manager cannot be restarted.
func (m *Manager) Stop() error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if !m.started {
		return ErrNotStarted
	}
	m.proc.Stop()
	m.started = false
	return nil
}

// Enqueue validates and queues a request without waiting for it.
func (m *Manager) Enqueue(prompt string, ch character.Character, temperature *float64, opts ...Option) (*Request, error) {
	if err := validate(prompt, ch, temperature); err != nil {
		return nil, err
	}

	req := NewRequest(uuid.NewString(), prompt, ch, temperature, opts...)
	if err := m.queue.Push(req); err != nil {
		return nil, err
	}

	m.logger.Debug("request queued",
		zap.String("request_id", req.ID),
		zap.String("source", req.Source),
		zap.String("character", ch.ID),
		zap.Int("pending", m.queue.Len()))

	return req, nil
}

// Submit queues a request and blocks until it resolves.
//
// It returns the accepted completion, or an error wrapping
// ErrGenerationFailed when the retry budget ran out. If ctx ends first,
// Submit returns ctx.Err() but the request still runs to completion.
func (m *Manager) Submit(ctx context.Context, prompt string, ch character.Character, temperature *float64, opts ...Option) (*llm.Completion, error) {
	req, err := m.Enqueue(prompt, ch, temperature, opts...)
	if err != nil {
		return nil, err
	}

	res, err := req.Wait(ctx)
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return nil, res.Err
	}
	return res.Completion, nil
}

// Status returns current queue status for monitoring.
type Status struct {
	Pending   int
	Processed int
	Failed    int
	Attempts  int
	AvgTime   time.Duration
}

// GetStatus returns current queue metrics.
func (m *Manager) GetStatus() Status {
	processed, failed, attempts, avgTime := m.proc.GetMetrics()
	return Status{
		Pending:   m.queue.Len(),
		Processed: processed,
		Failed:    failed,
		Attempts:  attempts,
		AvgTime:   avgTime,
	}
}

func validate(prompt string, ch character.Character, temperature *float64) error {
	if prompt == "" {
		return fmt.Errorf("%w: empty prompt", ErrInvalidRequest)
	}
	if ch.Model == "" {
		return fmt.Errorf("%w: character %q has no model", ErrInvalidRequest, ch.ID)
	}
	if temperature != nil && (*temperature < MinTemperature || *temperature > MaxTemperature) {
		return fmt.Errorf("%w: temperature %.2f outside [%.2f, %.1f]", ErrInvalidRequest, *temperature, MinTemperature, MaxTemperature)
	}
	return nil
}

// Internal callbacks

func (m *Manager) onRequestStart(req *Request) {
	m.logger.Debug("starting request",
		zap.String("request_id", req.ID),
		zap.String("source", req.Source),
		zap.String("character", req.Character.ID),
		zap.Duration("queued_for", time.Since(req.Created)))
}

func (m *Manager) onRequestComplete(req *Request, res Result, duration time.Duration) {
	if res.OK() {
		m.logger.Info("request completed",
			zap.String("request_id", req.ID),
			zap.String("character", req.Character.ID),
			zap.Int("attempts", res.Attempts),
			zap.Int("tokens", res.Completion.CompletionTokens),
			zap.Duration("duration", duration))
		return
	}
	m.logger.Warn("request failed",
		zap.String("request_id", req.ID),
		zap.String("character", req.Character.ID),
		zap.Int("attempts", res.Attempts),
		zap.Duration("duration", duration),
		zap.Error(res.Err))
}
