package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/billie-coop/personabot/internal/filter"
	"github.com/billie-coop/personabot/internal/llm"
)

// Policy is the retry and quality policy the worker enforces.
type Policy struct {
	// MinimumTokens is the smallest reported completion token count accepted
	MinimumTokens int

	// MaxRetries is the total number of backend attempts per request
	MaxRetries int

	// MaxTokens is passed to the backend as max_tokens
	MaxTokens int
}

// Reason explains how one attempt was graded.
type Reason string

const (
	ReasonAccepted       Reason = "accepted"
	ReasonTransport      Reason = "transport"
	ReasonEmpty          Reason = "empty"
	ReasonBlocked        Reason = "blocked"
	ReasonUnderThreshold Reason = "under_threshold"
)

// AttemptRecord describes one backend attempt.
type AttemptRecord struct {
	RequestID   string
	Source      string
	CharacterID string
	Model       string
	Attempt     int
	Tokens      int
	Reason      Reason
	Text        string
	Err         error
	Duration    time.Duration
	At          time.Time
}

// AttemptObserver receives every attempt the worker makes.
// Implementations must not block for long; they run on the worker goroutine.
type AttemptObserver interface {
	RecordAttempt(ctx context.Context, rec AttemptRecord)
}

// Processor is the sole consumer of the queue. It pulls one request at a
// time, runs the retry and quality policy against the completer, and
// resolves the request.
//
// Exactly one processor goroutine runs per Manager, so at most one
// completion call is in flight against the backend.
type Processor struct {
	queue     *Queue
	completer llm.Completer
	blocked   *filter.BlockList
	policy    Policy
	logger    *zap.Logger
	observer  AttemptObserver

	// Lifecycle
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	started bool
	stopped bool

	// Metrics
	metrics struct {
		sync.Mutex
		totalProcessed  int
		totalFailed     int
		totalAttempts   int
		avgResponseTime time.Duration
	}

	// Callbacks for monitoring
	onStart    func(req *Request)
	onComplete func(req *Request, res Result, duration time.Duration)
}

// NewProcessor creates a processor. MaxRetries below one is raised to one.
func NewProcessor(queue *Queue, completer llm.Completer, blocked *filter.BlockList, policy Policy) *Processor {
	if policy.MaxRetries < 1 {
		policy.MaxRetries = 1
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Processor{
		queue:     queue,
		completer: completer,
		blocked:   blocked,
		policy:    policy,
		logger:    zap.NewNop(),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// SetLogger attaches a logger.
func (p *Processor) SetLogger(logger *zap.Logger) {
	if logger != nil {
		p.logger = logger
	}
}

// SetObserver attaches an attempt observer.
func (p *Processor) SetObserver(o AttemptObserver) {
	p.observer = o
}

// OnStart sets callback for when a request starts processing.
func (p *Processor) OnStart(fn func(*Request)) {
	p.onStart = fn
}

// OnComplete sets callback for when a request is resolved.
func (p *Processor) OnComplete(fn func(*Request, Result, time.Duration)) {
	p.onComplete = fn
}

// Start launches the worker goroutine. It fails if called twice.
func (p *Processor) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return errors.New("processor already started")
	}
	p.started = true
	p.wg.Add(1)
	go p.run()
	return nil
}

// Stop shuts the worker down. The in-flight request resolves as soon as its
// backend call returns; every request still queued resolves with ErrStopped.
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.cancel()
	p.queue.Close()
	p.wg.Wait()

	for _, req := range p.queue.Drain() {
		req.resolve(Result{Err: ErrStopped})
	}
}

// GetMetrics returns current performance metrics.
func (p *Processor) GetMetrics() (processed, failed, attempts int, avgTime time.Duration) {
	p.metrics.Lock()
	defer p.metrics.Unlock()
	return p.metrics.totalProcessed, p.metrics.totalFailed, p.metrics.totalAttempts, p.metrics.avgResponseTime
}

// run is the main processor loop.
func (p *Processor) run() {
	defer p.wg.Done()

	for {
		// Parks until a request arrives or the queue closes
		req, ok := p.queue.Pop()
		if !ok {
			return
		}
		p.process(req)
	}
}

// process runs the policy for one request and resolves it.
func (p *Processor) process(req *Request) {
	if p.onStart != nil {
		p.onStart(req)
	}

	start := time.Now()
	res := p.generate(req)
	duration := time.Since(start)

	p.updateMetrics(res, duration)
	req.resolve(res)

	if p.onComplete != nil {
		p.onComplete(req, res, duration)
	}
}

// generate is the retry loop. Every attempt, successful or not, consumes one
// slot of the budget; the first acceptable response ends the loop.
func (p *Processor) generate(req *Request) Result {
	var lastErr error

	for attempt := 1; attempt <= p.policy.MaxRetries; attempt++ {
		if p.ctx.Err() != nil {
			return Result{Err: ErrStopped, Attempts: attempt - 1}
		}

		began := time.Now()
		completion, err := p.complete(req)
		rec := AttemptRecord{
			RequestID:   req.ID,
			Source:      req.Source,
			CharacterID: req.Character.ID,
			Model:       req.Character.Model,
			Attempt:     attempt,
			Duration:    time.Since(began),
			At:          began,
		}

		if err != nil {
			lastErr = err
			rec.Reason = ReasonTransport
			rec.Err = err
			p.observe(rec)
			p.logger.Warn("completion attempt failed",
				zap.String("request_id", req.ID),
				zap.Int("attempt", attempt),
				zap.Int("max_retries", p.policy.MaxRetries),
				zap.Error(err))
			continue
		}

		tokens, reason := p.grade(req, completion)
		rec.Tokens = tokens
		rec.Reason = reason
		rec.Text = completion.Text
		p.observe(rec)

		if reason == ReasonAccepted {
			return Result{Completion: completion, Attempts: attempt}
		}

		lastErr = fmt.Errorf("response rejected (%s, %d tokens)", reason, tokens)
		p.logger.Debug("completion attempt rejected",
			zap.String("request_id", req.ID),
			zap.Int("attempt", attempt),
			zap.String("reason", string(reason)),
			zap.Int("tokens", tokens),
			zap.Int("minimum_tokens", p.policy.MinimumTokens))
	}

	p.logger.Warn("generation failed",
		zap.String("request_id", req.ID),
		zap.String("character", req.Character.ID),
		zap.Int("attempts", p.policy.MaxRetries),
		zap.Error(lastErr))

	return Result{
		Err:      fmt.Errorf("%w after %d attempts: %w", ErrGenerationFailed, p.policy.MaxRetries, lastErr),
		Attempts: p.policy.MaxRetries,
	}
}

// complete makes one backend call. A panic in the completer becomes an
// attempt error so one bad request never takes the worker down.
func (p *Processor) complete(req *Request) (completion *llm.Completion, err error) {
	defer func() {
		if r := recover(); r != nil {
			completion = nil
			err = fmt.Errorf("completion attempt panicked: %v", r)
		}
	}()

	completion, err = p.completer.Complete(p.ctx, llm.CompletionRequest{
		Model:       req.Character.Model,
		Messages:    []llm.Message{llm.UserMessage(req.Prompt)},
		Temperature: req.Temperature,
		MaxTokens:   p.policy.MaxTokens,
	})
	if err == nil && completion == nil {
		err = llm.ErrMalformedResponse
	}
	return completion, err
}

// grade applies the quality gate. Empty and blocked output count as zero
// tokens and are never accepted.
func (p *Processor) grade(req *Request, c *llm.Completion) (int, Reason) {
	text := strings.TrimSpace(c.Text)
	if text == "" {
		return 0, ReasonEmpty
	}
	if term, blocked := p.blocked.Match(text); blocked {
		p.logger.Warn("model output contained a blocked term",
			zap.String("request_id", req.ID),
			zap.String("term", term),
			zap.String("content", c.Text))
		return 0, ReasonBlocked
	}
	if c.CompletionTokens < p.policy.MinimumTokens {
		return c.CompletionTokens, ReasonUnderThreshold
	}
	return c.CompletionTokens, ReasonAccepted
}

func (p *Processor) observe(rec AttemptRecord) {
	if p.observer == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("attempt observer panicked", zap.Any("panic", r))
		}
	}()
	p.observer.RecordAttempt(context.WithoutCancel(p.ctx), rec)
}

// updateMetrics records performance data.
func (p *Processor) updateMetrics(res Result, duration time.Duration) {
	p.metrics.Lock()
	defer p.metrics.Unlock()

	p.metrics.totalProcessed++
	p.metrics.totalAttempts += res.Attempts
	if !res.OK() {
		p.metrics.totalFailed++
	}

	// Weight recent measurements more
	if p.metrics.avgResponseTime == 0 {
		p.metrics.avgResponseTime = duration
	} else {
		p.metrics.avgResponseTime = (p.metrics.avgResponseTime*4 + duration) / 5
	}
}
