package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billie-coop/personabot/internal/character"
	"github.com/billie-coop/personabot/internal/llm"
	"github.com/billie-coop/personabot/internal/llm/queue"
)

type stubCompleter struct {
	err error
}

func (s stubCompleter) Complete(_ context.Context, req llm.CompletionRequest) (*llm.Completion, error) {
	if s.err != nil {
		return nil, s.err
	}
	return &llm.Completion{Text: "echo: " + req.Messages[0].Content, CompletionTokens: 7}, nil
}

func startQueue(t *testing.T, c llm.Completer) *queue.Manager {
	t.Helper()
	m := queue.NewManager(c, nil, queue.Policy{MinimumTokens: 1, MaxRetries: 2})
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })
	return m
}

func TestCapture(t *testing.T) {
	m := startQueue(t, stubCompleter{})
	ch := character.Character{ID: "default", Name: "Bot", Model: "m"}

	got := capture(m, ch, TestPrompt{Name: "greeting", Prompt: "hi"})
	assert.Empty(t, got.Error)
	assert.Equal(t, "echo: hi", got.Response)
	assert.Equal(t, 7, got.Tokens)
	assert.Equal(t, 1, got.Attempts)
	assert.False(t, got.CapturedAt.IsZero())
}

func TestCapture_Failure(t *testing.T) {
	m := startQueue(t, stubCompleter{err: errors.New("down")})
	ch := character.Character{ID: "default", Name: "Bot", Model: "m"}

	got := capture(m, ch, TestPrompt{Name: "greeting", Prompt: "hi"})
	assert.Contains(t, got.Error, "down")
	assert.Equal(t, 2, got.Attempts)
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "openai-llama-3", sanitizeFilename("openai/llama:3"))
}

func TestDefaultPromptNamesAreUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, p := range DefaultPrompts {
		assert.False(t, seen[p.Name], p.Name)
		seen[p.Name] = true
	}
}
