package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/pkg/log"
	"github.com/sandevgo/tuskbridge/pkg/retry"
)

type Summarizer interface {
	Summarize(ctx context.Context, previous string, pairs []core.MessagePair) (string, error)
}

const compactionPrompt = `You maintain the long-term memory of a chat between an operator and an assistant.
Merge the existing summary with the new exchanges into one updated summary.

Keep:
- facts about the operator, their projects and preferences
- decisions made and their outcome
- open tasks, promises and questions still pending
- names, paths, numbers and identifiers that may be referenced later

Drop small talk and anything superseded by later exchanges. Write plain markdown bullet points,
grouped by topic, in the same language the operator uses. Reply with the summary only.`

var ErrEmptySummary = errors.New("summarizer returned an empty summary")

// LLMSummarizer asks a chat provider for the merged summary.
type LLMSummarizer struct {
	ai      core.AIProvider
	retrier *retry.Retrier
	timeout time.Duration
}

func NewLLMSummarizer(ai core.AIProvider, timeout time.Duration) *LLMSummarizer {
	return &LLMSummarizer{
		ai:      ai,
		retrier: retry.NewDefaultRetrier(),
		timeout: timeout,
	}
}

func (l *LLMSummarizer) SetRetrier(r *retry.Retrier) {
	l.retrier = r
}

func (l *LLMSummarizer) Summarize(ctx context.Context, previous string, pairs []core.MessagePair) (string, error) {
	logger := log.FromCtx(ctx)

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	messages := []core.Message{
		{Role: core.RoleSystem, Content: compactionPrompt},
		{Role: core.RoleUser, Content: renderForSummary(previous, pairs)},
	}

	var summary string
	err := l.retrier.Do(ctx, func() error {
		resp, err := l.ai.Chat(ctx, messages)
		if err != nil {
			logger.Warn().Err(err).Msg("summarizer call failed")
			if ctx.Err() != nil || !isTemporary(err) {
				return retry.Permanent(err)
			}
			return err
		}
		summary = strings.TrimSpace(resp.Content)
		if summary == "" {
			return retry.Permanent(ErrEmptySummary)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return summary, nil
}

// isTemporary treats errors as retryable unless they say otherwise, as
// HTTP 4xx replies do.
func isTemporary(err error) bool {
	var t interface{ Temporary() bool }
	if errors.As(err, &t) {
		return t.Temporary()
	}
	return true
}

func renderForSummary(previous string, pairs []core.MessagePair) string {
	var sb strings.Builder
	sb.WriteString("## Existing summary\n")
	if strings.TrimSpace(previous) == "" {
		sb.WriteString("(none)\n")
	} else {
		sb.WriteString(strings.TrimSpace(previous))
		sb.WriteString("\n")
	}

	sb.WriteString("\n## New exchanges\n")
	for _, p := range pairs {
		ts := time.UnixMilli(p.Timestamp).Format("2006-01-02 15:04")
		fmt.Fprintf(&sb, "[%s] User: %s\n", ts, p.UserText)
		fmt.Fprintf(&sb, "[%s] Assistant: %s\n", ts, p.AssistantText)
	}
	return sb.String()
}
