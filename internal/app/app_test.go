package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billie-coop/personabot/internal/character"
	"github.com/billie-coop/personabot/internal/config"
	"github.com/billie-coop/personabot/internal/llm/queue"
)

// fakeBackend answers the first call with blocked text and later calls with
// a clean reply.
func fakeBackend(t *testing.T) *httptest.Server {
	t.Helper()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		content := "a perfectly clean reply"
		if calls.Add(1) == 1 {
			content = "something with forbidden words"
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"model": "local",
			"choices": []map[string]any{
				{"message": map[string]string{"role": "assistant", "content": content}},
			},
			"usage": map[string]int{"completion_tokens": 12},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testConfig(t *testing.T, apiURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	terms := filepath.Join(dir, "blocked.csv")
	require.NoError(t, os.WriteFile(terms, []byte("forbidden\n"), 0o644))

	cfg := config.DefaultConfig()
	cfg.APIURL = apiURL
	cfg.BlockedTermsPath = terms
	cfg.CallLogPath = filepath.Join(dir, "calls.db")
	cfg.MinimumTokens = 5
	cfg.MaxRetries = 3
	cfg.Characters["pirate"] = character.Character{Name: "Captain", Model: "openai/llama"}
	require.NoError(t, cfg.Validate())
	return cfg
}

func TestApp_EndToEnd(t *testing.T) {
	srv := fakeBackend(t)
	a, err := New(testConfig(t, srv.URL), nil)
	require.NoError(t, err)
	require.NoError(t, a.Start())
	defer func() { assert.NoError(t, a.Close()) }()

	assert.Equal(t, 1, a.Blocked.Len())
	assert.Equal(t, character.DefaultID, a.Registry.Current().ID)
	assert.Equal(t, []string{"default", "pirate"}, a.Roster.IDs())
	require.NotNil(t, a.Recorder)

	req, err := a.Queue.Enqueue("hello", a.Registry.Current(), nil, queue.WithSource("test"))
	require.NoError(t, err)
	res, err := req.Wait(context.Background())
	require.NoError(t, err)
	require.True(t, res.OK())
	assert.Equal(t, "a perfectly clean reply", res.Completion.Text)
	assert.Equal(t, 2, res.Attempts)

	attempts, err := a.Recorder.ForRequest(context.Background(), req.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.Equal(t, "blocked", attempts[0].Reason)
	assert.Equal(t, "accepted", attempts[1].Reason)
}

func TestApp_WithoutCallLog(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/v1")
	cfg.CallLogPath = ""

	a, err := New(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, a.Recorder)
	assert.NoError(t, a.Close(), "closing an app that never started")
}

func TestApp_MissingBlockedTerms(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1/v1")
	cfg.BlockedTermsPath = filepath.Join(t.TempDir(), "missing.csv")

	_, err := New(cfg, nil)
	assert.Error(t, err)
}
