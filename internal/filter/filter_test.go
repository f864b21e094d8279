package filter

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlockList_Contains(t *testing.T) {
	bl := New("badword", "  Worse Word ", "")

	tests := []struct {
		name  string
		input string
		want  bool
	}{
		{name: "mixed_case", input: "This is a BadWord.", want: true},
		{name: "exact", input: "badword", want: true},
		{name: "phrase_with_space", input: "that is a WORSE word indeed", want: true},
		{name: "clean", input: "A perfectly nice sentence.", want: false},
		{name: "empty_input", input: "", want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bl.Contains(tt.input))
		})
	}
}

func TestBlockList_EmptyNeverMatches(t *testing.T) {
	assert.False(t, New().Contains("anything at all"))

	var nilList *BlockList
	assert.False(t, nilList.Contains("anything at all"))
	assert.Equal(t, 0, nilList.Len())
}

func TestBlockList_Match(t *testing.T) {
	bl := New("foo", "bar")

	term, ok := bl.Match("xxBARxx")
	require.True(t, ok)
	assert.Equal(t, "bar", term)
}

func TestParse_FlattensRows(t *testing.T) {
	input := "alpha,beta\ngamma\n\ndelta, Alpha\n"

	bl, err := Parse(strings.NewReader(input))
	require.NoError(t, err)

	assert.Equal(t, 4, bl.Len())
	for _, word := range []string{"ALPHA", "beta", "Gamma", "delta"} {
		assert.True(t, bl.Contains(word), word)
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blocked_llm_terms.csv")
	require.NoError(t, os.WriteFile(path, []byte("one,two\nthree\n"), 0o644))

	bl, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 3, bl.Len())

	empty, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())

	_, err = Load(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}
