package memory

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/tuskbridge/internal/config"
)

func TestBuildPrompt_Order(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, defaultCfg(), &fakeSummarizer{})

	_, err := s.AddPin(ctx, "operator prefers short answers")
	require.NoError(t, err)
	p, err := s.Append(ctx, "what is 2+2?", "4")
	require.NoError(t, err)
	require.NoError(t, s.SetPairPinned(ctx, p.ID, true))
	_, err = s.Append(ctx, "thanks", "you're welcome")
	require.NoError(t, err)
	s.summary = "- talked about math"

	want := `You are a helpful bridge.

## Pinned notes
- [#1] operator prefers short answers

## Summary of earlier conversation
- talked about math

## Recent conversation
[#2] [pinned] User: what is 2+2?
[#2] [pinned] Assistant: 4
[#3] User: thanks
[#3] Assistant: you're welcome
`
	assert.Equal(t, want, s.BuildPrompt())
}

func TestBuildPrompt_Empty(t *testing.T) {
	s := NewStore(t.TempDir(), config.ContextConfig{}, nil)
	assert.Equal(t, "\n", s.BuildPrompt())

	s.SetPreamble("preamble only")
	assert.Equal(t, "preamble only\n", s.BuildPrompt())
	assert.Equal(t, "preamble only", s.Preamble())
}

func TestWritePrompt(t *testing.T) {
	ctx := context.Background()
	s, _ := newTestStore(t, defaultCfg(), &fakeSummarizer{})
	_, err := s.Append(ctx, "q", "a")
	require.NoError(t, err)

	path, err := s.WritePrompt(ctx)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, s.BuildPrompt(), string(data))
}
