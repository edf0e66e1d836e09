package memory

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/pkg/retry"
)

type scriptedProvider struct {
	replies []string
	errs    []error
	calls   int
	last    []core.Message
}

func (p *scriptedProvider) Chat(_ context.Context, history []core.Message) (core.Message, error) {
	i := p.calls
	p.calls++
	p.last = history
	if i < len(p.errs) && p.errs[i] != nil {
		return core.Message{}, p.errs[i]
	}
	reply := ""
	if i < len(p.replies) {
		reply = p.replies[i]
	}
	return core.Message{Role: core.RoleAssistant, Content: reply}, nil
}

type clientErr struct{}

func (clientErr) Error() string   { return "http 401" }
func (clientErr) Temporary() bool { return false }

func fastRetrier() *retry.Retrier {
	return retry.NewRetrier(&retry.Config{
		MaxRetries:    2,
		BackoffFactor: 1,
		InitialDelay:  time.Millisecond,
		MaxDelay:      time.Millisecond,
	})
}

func TestLLMSummarizer(t *testing.T) {
	pairs := []core.MessagePair{
		{ID: 1, UserText: "my cat is called Tom", AssistantText: "nice", Timestamp: testNow.UnixMilli()},
	}

	t.Run("merges previous summary", func(t *testing.T) {
		ai := &scriptedProvider{replies: []string{"  - cat: Tom\n"}}
		s := NewLLMSummarizer(ai, time.Second)
		s.SetRetrier(fastRetrier())

		got, err := s.Summarize(context.Background(), "- lives in Berlin", pairs)
		require.NoError(t, err)
		assert.Equal(t, "- cat: Tom", got)

		require.Len(t, ai.last, 2)
		assert.Equal(t, core.RoleSystem, ai.last[0].Role)
		user := ai.last[1].Content
		assert.True(t, strings.Index(user, "- lives in Berlin") < strings.Index(user, "my cat is called Tom"))
	})

	t.Run("retries transient errors", func(t *testing.T) {
		ai := &scriptedProvider{errs: []error{errors.New("502")}, replies: []string{"", "ok"}}
		s := NewLLMSummarizer(ai, 0)
		s.SetRetrier(fastRetrier())

		got, err := s.Summarize(context.Background(), "", pairs)
		require.NoError(t, err)
		assert.Equal(t, "ok", got)
		assert.Equal(t, 2, ai.calls)
	})

	t.Run("client errors are not retried", func(t *testing.T) {
		ai := &scriptedProvider{errs: []error{clientErr{}}, replies: []string{"", "ok"}}
		s := NewLLMSummarizer(ai, 0)
		s.SetRetrier(fastRetrier())

		_, err := s.Summarize(context.Background(), "", pairs)
		assert.ErrorIs(t, err, clientErr{})
		assert.Equal(t, 1, ai.calls)
	})

	t.Run("empty summary is permanent", func(t *testing.T) {
		ai := &scriptedProvider{replies: []string{"   "}}
		s := NewLLMSummarizer(ai, 0)
		s.SetRetrier(fastRetrier())

		_, err := s.Summarize(context.Background(), "", pairs)
		assert.ErrorIs(t, err, ErrEmptySummary)
		assert.Equal(t, 1, ai.calls)
	})
}

func TestRenderForSummary(t *testing.T) {
	out := renderForSummary("", nil)
	assert.Contains(t, out, "(none)")
	assert.Contains(t, out, "## New exchanges")
}
