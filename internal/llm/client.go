package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Message represents a chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UserMessage wraps a prompt as a single user turn.
func UserMessage(content string) Message {
	return Message{Role: "user", Content: content}
}

// CompletionRequest is one call to the completion endpoint.
type CompletionRequest struct {
	Model       string
	Messages    []Message
	Temperature *float64 // nil leaves the backend default
	MaxTokens   int
}

// Completion is a successful response from the backend.
type Completion struct {
	Text             string
	CompletionTokens int
	Model            string
	Raw              json.RawMessage
}

// Completer is the narrow interface the generation worker depends on.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (*Completion, error)
}

// ErrMalformedResponse is returned when the backend answers 200 with a body
// that has no usable choice.
var ErrMalformedResponse = errors.New("malformed completion response")

// APIError is a non-200 answer from the backend.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("completion backend returned status %d: %s", e.StatusCode, e.Body)
}

// retryable reports whether another transport attempt may succeed.
func (e *APIError) retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

const (
	defaultTimeout      = 40 * time.Second
	defaultRetries      = 2
	defaultRetryBackoff = 500 * time.Millisecond
)

// Client talks to an OpenAI-compatible chat completions endpoint
// (LM Studio, llama.cpp server, vLLM, ...).
type Client struct {
	client       *http.Client
	baseURL      string
	apiKey       string
	timeout      time.Duration
	retries      int
	retryBackoff time.Duration
	logger       *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		c.client = hc
	}
}

// WithTimeout sets the per-attempt deadline.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRetries sets how many extra transport attempts a call may make.
func WithRetries(n int) ClientOption {
	return func(c *Client) {
		if n >= 0 {
			c.retries = n
		}
	}
}

// WithRetryBackoff sets the base delay between transport attempts.
// The n-th retry waits n times this value.
func WithRetryBackoff(d time.Duration) ClientOption {
	return func(c *Client) {
		if d >= 0 {
			c.retryBackoff = d
		}
	}
}

// WithAPIKey sends the key as a bearer token.
func WithAPIKey(key string) ClientOption {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewClient creates a client for the endpoint rooted at baseURL,
// e.g. http://localhost:1234/v1.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		client:       &http.Client{},
		baseURL:      strings.TrimRight(baseURL, "/"),
		timeout:      defaultTimeout,
		retries:      defaultRetries,
		retryBackoff: defaultRetryBackoff,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the endpoint root.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Complete sends one completion request, retrying transport failures.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (*Completion, error) {
	payload := map[string]interface{}{
		"model":      normalizeModel(req.Model),
		"messages":   req.Messages,
		"max_tokens": req.MaxTokens,
		"stream":     false,
	}
	if req.Temperature != nil {
		payload["temperature"] = *req.Temperature
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode completion request: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= c.retries; attempt++ {
		if attempt > 0 {
			if err := c.wait(ctx, attempt); err != nil {
				return nil, err
			}
			c.logger.Debug("retrying completion request",
				zap.String("model", req.Model),
				zap.Int("transport_attempt", attempt+1),
				zap.Error(lastErr))
		}

		completion, err := c.completeOnce(ctx, body)
		if err == nil {
			return completion, nil
		}
		lastErr = err

		if !c.shouldRetry(ctx, err) {
			break
		}
	}

	return nil, lastErr
}

func (c *Client) completeOnce(ctx context.Context, body []byte) (*Completion, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read completion response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}

	var result struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}

	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(result.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices", ErrMalformedResponse)
	}

	return &Completion{
		Text:             result.Choices[0].Message.Content,
		CompletionTokens: result.Usage.CompletionTokens,
		Model:            result.Model,
		Raw:              json.RawMessage(raw),
	}, nil
}

func (c *Client) shouldRetry(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, ErrMalformedResponse) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.retryable()
	}
	return true
}

func (c *Client) wait(ctx context.Context, attempt int) error {
	if c.retryBackoff == 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(time.Duration(attempt) * c.retryBackoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// normalizeModel strips the "openai/" provider prefix some configs put in
// front of model ids.
func normalizeModel(model string) string {
	return strings.TrimPrefix(model, "openai/")
}

// Model represents a model the backend reports as available.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	OwnedBy string `json:"owned_by"`
}

// ModelsResponse represents the response from /models.
type ModelsResponse struct {
	Data []Model `json:"data"`
}

// HealthCheck checks that the backend is reachable.
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.ListModels(ctx)
	if err != nil {
		return fmt.Errorf("completion backend not reachable: %w", err)
	}
	return nil
}

// ListModels returns the models the backend reports.
func (c *Client) ListModels(ctx context.Context) ([]Model, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch models: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var modelsResp ModelsResponse
	if err := json.NewDecoder(resp.Body).Decode(&modelsResp); err != nil {
		return nil, fmt.Errorf("failed to decode models response: %w", err)
	}

	return modelsResp.Data, nil
}

// HasModel reports whether id (after prefix normalization) is in models.
func HasModel(models []Model, id string) bool {
	id = normalizeModel(id)
	for _, m := range models {
		if m.ID == id {
			return true
		}
	}
	return false
}
