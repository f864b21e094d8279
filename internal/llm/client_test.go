package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const okBody = `{"model":"mistral","choices":[{"message":{"role":"assistant","content":"hello there"}}],"usage":{"completion_tokens":2}}`

func TestClient_Complete(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/v1/", WithAPIKey("secret"))
	temp := 0.8
	completion, err := c.Complete(context.Background(), CompletionRequest{
		Model:       "openai/mistral",
		Messages:    []Message{UserMessage("hi")},
		Temperature: &temp,
		MaxTokens:   64,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello there", completion.Text)
	assert.Equal(t, 2, completion.CompletionTokens)
	assert.JSONEq(t, okBody, string(completion.Raw))

	assert.Equal(t, "mistral", got["model"])
	assert.Equal(t, 0.8, got["temperature"])
	assert.Equal(t, float64(64), got["max_tokens"])
	msgs := got["messages"].([]interface{})
	require.Len(t, msgs, 1)
	assert.Equal(t, "user", msgs[0].(map[string]interface{})["role"])
}

func TestClient_OmitsTemperatureWhenUnset(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL).Complete(context.Background(), CompletionRequest{Model: "m", MaxTokens: 1})
	require.NoError(t, err)
	_, present := got["temperature"]
	assert.False(t, present)
}

func TestClient_RetriesTransientFailures(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			http.Error(w, "model loading", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(okBody))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetries(2), WithRetryBackoff(0))
	completion, err := c.Complete(context.Background(), CompletionRequest{Model: "m"})
	require.NoError(t, err)
	assert.Equal(t, "hello there", completion.Text)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_GivesUpAfterRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetries(1), WithRetryBackoff(0))
	_, err := c.Complete(context.Background(), CompletionRequest{Model: "m"})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	assert.Equal(t, int32(2), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "unknown model", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, WithRetries(3), WithRetryBackoff(0))
	_, err := c.Complete(context.Background(), CompletionRequest{Model: "m"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_MalformedResponse(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not_json", body: "<html>"},
		{name: "no_choices", body: `{"choices":[],"usage":{"completion_tokens":0}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, WithRetryBackoff(0)).Complete(context.Background(), CompletionRequest{Model: "m"})
			assert.ErrorIs(t, err, ErrMalformedResponse)
		})
	}
}

func TestClient_PerAttemptTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient(srv.URL, WithTimeout(50*time.Millisecond), WithRetries(0))
	start := time.Now()
	_, err := c.Complete(context.Background(), CompletionRequest{Model: "m"})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestClient_ListModels(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/models", r.URL.Path)
		w.Write([]byte(`{"data":[{"id":"mistral","object":"model"},{"id":"llama"}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL + "/v1")
	models, err := c.ListModels(context.Background())
	require.NoError(t, err)
	require.Len(t, models, 2)

	assert.True(t, HasModel(models, "openai/mistral"))
	assert.False(t, HasModel(models, "qwen"))
	assert.NoError(t, c.HealthCheck(context.Background()))
}
