// Package queue serializes generation requests against the completion backend.
//
// # Overview
//
// The backend is usually a locally hosted inference server that handles one
// request at a time well and several badly. This package lets any number of
// event handlers submit prompts concurrently while exactly one worker talks
// to the backend:
//   - FIFO ordering (insertion order is processing order)
//   - Single-flight (one completion call in flight at any time)
//   - Quality gating with retries (empty, blocked or too-short output is retried)
//   - Per-request wake-up (a producer only wakes when its own request resolves)
//
// # Architecture
//
//   - Request: one prompt, its character and temperature, and its eventual Result
//   - Queue: unbounded FIFO with a blocking Pop
//   - Processor: the sole consumer; owns the retry and quality policy
//   - Manager: the producer API (Submit) and the lifecycle (Start/Stop)
//
// # Integration Points
//
//   - bot: slash commands, buttons, modals and message replies call Submit
//   - console: the terminal front end calls Submit
//   - recorder: receives one AttemptRecord per backend attempt
//
// # Example
//
//	manager := queue.NewManager(client, blocked, queue.Policy{
//	    MinimumTokens: 10,
//	    MaxRetries:    5,
//	    MaxTokens:     512,
//	}, queue.WithLogger(logger))
//	manager.Start()
//	defer manager.Stop()
//
//	completion, err := manager.Submit(ctx, prompt, registry.Current(), nil)
//	if errors.Is(err, queue.ErrGenerationFailed) {
//	    // show "try again" to the user
//	}
package queue
