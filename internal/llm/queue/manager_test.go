package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billie-coop/personabot/internal/character"
	"github.com/billie-coop/personabot/internal/llm"
)

func TestManager_SubmitValidation(t *testing.T) {
	fc := &fakeCompleter{answer: func(int, llm.CompletionRequest) (*llm.Completion, error) {
		return reply("ok", 10)
	}}
	m := startManager(t, fc, nil, Policy{MinimumTokens: 1, MaxRetries: 1})

	tooHot := 2.5
	tooCold := 0.0
	tests := []struct {
		name   string
		prompt string
		ch     character.Character
		temp   *float64
	}{
		{name: "empty_prompt", prompt: "", ch: testCharacter},
		{name: "no_model", prompt: "hi", ch: character.Character{ID: "x", Name: "x"}},
		{name: "temperature_too_high", prompt: "hi", ch: testCharacter, temp: &tooHot},
		{name: "temperature_too_low", prompt: "hi", ch: testCharacter, temp: &tooCold},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.Submit(context.Background(), tt.prompt, tt.ch, tt.temp)
			assert.ErrorIs(t, err, ErrInvalidRequest)
		})
	}
	assert.Equal(t, 0, fc.calls())
}

func TestManager_Submit(t *testing.T) {
	fc := &fakeCompleter{answer: func(int, llm.CompletionRequest) (*llm.Completion, error) {
		return reply("hello back", 10)
	}}
	m := startManager(t, fc, nil, Policy{MinimumTokens: 1, MaxRetries: 1})

	edge := MaxTemperature
	c, err := m.Submit(context.Background(), "hello", testCharacter, &edge, WithSource("talk"))
	require.NoError(t, err)
	assert.Equal(t, "hello back", c.Text)
}

func TestManager_SubmitFailure(t *testing.T) {
	fc := &fakeCompleter{answer: func(int, llm.CompletionRequest) (*llm.Completion, error) {
		return reply("", 0)
	}}
	m := startManager(t, fc, nil, Policy{MinimumTokens: 1, MaxRetries: 2})

	c, err := m.Submit(context.Background(), "hello", testCharacter, nil)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.Equal(t, 1, m.GetStatus().Failed)
	assert.Equal(t, 2, m.GetStatus().Attempts)
}

func TestManager_CallerGivesUpButRequestRuns(t *testing.T) {
	gate := make(chan struct{})
	fc := &fakeCompleter{answer: func(int, llm.CompletionRequest) (*llm.Completion, error) {
		<-gate
		return reply("eventually", 10)
	}}
	m := startManager(t, fc, nil, Policy{MinimumTokens: 1, MaxRetries: 1})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := m.Submit(ctx, "slow", testCharacter, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(gate)
	require.Eventually(t, func() bool { return m.GetStatus().Processed == 1 }, 2*time.Second, time.Millisecond)
	assert.Equal(t, 0, m.GetStatus().Failed)
}

func TestManager_StartTwice(t *testing.T) {
	m := startManager(t, &fakeCompleter{}, nil, Policy{MaxRetries: 1})
	assert.Error(t, m.Start())
}
