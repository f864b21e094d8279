package console

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/billie-coop/personabot/internal/character"
	"github.com/billie-coop/personabot/internal/llm"
	"github.com/billie-coop/personabot/internal/llm/queue"
)

var (
	assistant = character.Character{ID: "default", Name: "Assistant", Model: "m"}
	pirate    = character.Character{ID: "pirate", Name: "Captain", Model: "m"}
)

func TestConversation_PromptsBuildOnHistory(t *testing.T) {
	var c conversation
	assert.Equal(t, "hello", c.begin("hello", assistant))
	c.finish("hi there", false)

	assert.Equal(t, "hello\n**Assistant:**\nhi there", c.history())
	assert.Equal(t, "hello\n**Assistant:**\nhi there\n **user:**how are you", c.begin("how are you", assistant))
}

func TestConversation_FailedTurnsAreSkipped(t *testing.T) {
	var c conversation
	c.begin("one", assistant)
	c.finish("first", false)
	c.begin("two", assistant)
	c.finish("Failed to generate a response. Please try again.", true)

	assert.Equal(t, "one\n**Assistant:**\nfirst", c.history())
}

func TestConversation_RetryAndDrop(t *testing.T) {
	var c conversation
	_, ok := c.retry()
	assert.False(t, ok)
	assert.False(t, c.drop())

	prompt := c.begin("hello", assistant)
	c.finish("meh", false)

	last, ok := c.retry()
	require.True(t, ok)
	assert.Equal(t, prompt, last.prompt)
	assert.Empty(t, c.history())

	assert.True(t, c.drop())
	_, ok = c.last()
	assert.False(t, ok)
}

func TestConversation_Log(t *testing.T) {
	var c conversation
	c.begin("hello", pirate)
	c.finish("arr", false)
	assert.Equal(t, "user: hello\nCaptain: arr\n\n", c.log())
	assert.Contains(t, c.markdown(), "**Captain:** arr")
}

type fakeGenerator struct {
	prompts []string
	text    string
	err     error
}

func (f *fakeGenerator) Submit(_ context.Context, prompt string, _ character.Character, _ *float64, _ ...queue.Option) (*llm.Completion, error) {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	return &llm.Completion{Text: f.text, CompletionTokens: 5}, nil
}

func (f *fakeGenerator) GetStatus() queue.Status {
	return queue.Status{Processed: len(f.prompts)}
}

func newTestModel(gen *fakeGenerator) *Model {
	roster := character.NewRoster(map[string]character.Character{
		"default": assistant,
		"pirate":  pirate,
	})
	return New(context.Background(), Options{
		Generator: gen,
		Roster:    roster,
		Registry:  character.NewRegistry(assistant),
		LogPath:   filepath.Join(os.TempDir(), "unused.txt"),
	})
}

func TestModel_SendAndReply(t *testing.T) {
	gen := &fakeGenerator{text: "ahoy"}
	m := newTestModel(gen)

	m.input.SetValue("  hello  ")
	cmd := m.send()
	require.NotNil(t, cmd)
	assert.True(t, m.waiting)
	assert.Nil(t, m.send(), "no second request while waiting")

	m.Update(cmd())
	assert.False(t, m.waiting)
	assert.Equal(t, []string{"hello"}, gen.prompts)

	last, ok := m.conv.last()
	require.True(t, ok)
	assert.Equal(t, "ahoy", last.reply)
	assert.False(t, last.failed)
}

func TestModel_FailureAndRetry(t *testing.T) {
	gen := &fakeGenerator{err: errors.New("exhausted")}
	m := newTestModel(gen)

	m.input.SetValue("hello")
	m.Update(m.send()())
	last, _ := m.conv.last()
	assert.True(t, last.failed)

	gen.err = nil
	gen.text = "second try"
	cmd := m.retry()
	require.NotNil(t, cmd)
	m.Update(cmd())

	last, _ = m.conv.last()
	assert.Equal(t, "second try", last.reply)
	assert.Equal(t, []string{"hello", "hello"}, gen.prompts)
}

func TestModel_CycleCharacter(t *testing.T) {
	m := newTestModel(&fakeGenerator{})

	m.cycleCharacter()
	assert.Equal(t, "pirate", m.opts.Registry.Current().ID)
	m.cycleCharacter()
	assert.Equal(t, "default", m.opts.Registry.Current().ID)
}

func TestModel_WriteLog(t *testing.T) {
	m := newTestModel(&fakeGenerator{text: "hi"})
	m.opts.LogPath = filepath.Join(t.TempDir(), "log.txt")

	m.input.SetValue("hello")
	m.Update(m.send()())

	msg := m.writeLog()()
	written, ok := msg.(logWrittenMsg)
	require.True(t, ok)
	require.NoError(t, written.err)

	data, err := os.ReadFile(m.opts.LogPath)
	require.NoError(t, err)
	assert.Equal(t, "user: hello\nAssistant: hi\n\n", string(data))
}

func TestSidebarWidth(t *testing.T) {
	assert.Equal(t, 20, sidebarWidthFor(50))
	assert.Equal(t, 24, sidebarWidthFor(120))
	assert.Equal(t, 30, sidebarWidthFor(400))
}
