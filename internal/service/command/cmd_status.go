package command

import (
	"context"
	"fmt"
	"time"

	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/pkg/tokens"
)

type StatusCommand struct {
	d         Deps
	formatter *ResponseFormatter
}

func NewStatusCommand(d Deps) *StatusCommand {
	return &StatusCommand{d: d, formatter: NewResponseFormatter()}
}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Show backend, queue and context status" }

func (c *StatusCommand) Execute(ctx context.Context, args []string) (core.CommandResult, error) {
	now := c.d.Clock.Now()
	st := c.d.Backend.Status()

	process := st.State.String()
	if st.Alive {
		process = fmt.Sprintf("%s, pid %d, up %s", process, st.PID, since(now, st.SpawnedAt))
	}
	if st.RateLimitRetries > 0 || st.APIErrorRetries > 0 {
		process += fmt.Sprintf(", retries %d/%d", st.RateLimitRetries, st.APIErrorRetries)
	}

	activity := "none"
	if !st.LastActivityAt.IsZero() {
		activity = since(now, st.LastActivityAt) + " ago"
	}

	queue := "idle"
	if busy, d := c.d.Queue.Busy(); busy {
		queue = fmt.Sprintf("busy for %s", d.Round(time.Second))
	}
	if n := c.d.Queue.Len(); n > 0 {
		queue += fmt.Sprintf(", %d waiting", n)
	}

	s := c.d.Store.Stats()
	return core.CommandResult{Text: c.formatter.Combine(
		c.formatter.Info("Status"),
		c.formatter.Label("Backend", fmt.Sprintf("%s / %s (%s)", c.d.State.Backend(), c.d.State.Model(), c.d.State.Mode())),
		c.formatter.Label("Process", process),
		c.formatter.Label("Last activity", activity),
		c.formatter.Label("Queue", queue),
		c.formatter.Label("Context", fmt.Sprintf("%d/%d pairs, %d pins", s.WindowLen, s.CompactAt, s.Pins)),
	)}, nil
}

type ContextCommand struct {
	store     Store
	formatter *ResponseFormatter
}

func NewContextCommand(store Store) *ContextCommand {
	return &ContextCommand{store: store, formatter: NewResponseFormatter()}
}

func (c *ContextCommand) Name() string        { return "context" }
func (c *ContextCommand) Description() string { return "Show the conversation window and summary" }

func (c *ContextCommand) Execute(ctx context.Context, args []string) (core.CommandResult, error) {
	s := c.store.Stats()

	summary := "none"
	if s.SummaryLen > 0 {
		summary = fmt.Sprintf("%d chars, ~%d tokens", s.SummaryLen, tokens.Count(c.store.Summary()))
	}

	window := fmt.Sprintf("%d pairs (%d pinned), target %d, compacts above %d", s.WindowLen, s.PinnedPairs, s.WindowSize, s.CompactAt)
	if s.Compacting {
		window += ", compacting now"
	}

	var recent []string
	pairs := c.store.Recent()
	if len(pairs) > 5 {
		pairs = pairs[len(pairs)-5:]
	}
	for _, p := range pairs {
		line := fmt.Sprintf("#%d %s", p.ID, preview(p.UserText, 60))
		if p.Pinned {
			line += " 📌"
		}
		recent = append(recent, line)
	}

	sections := []string{
		c.formatter.Info("Context"),
		c.formatter.Label("Window", window),
		c.formatter.Label("Pins", fmt.Sprintf("%d", s.Pins)),
		c.formatter.Label("Summary", summary),
		c.formatter.Label("Prompt", fmt.Sprintf("~%d tokens", tokens.Count(c.store.BuildPrompt()))),
		c.formatter.Label("Pairs recorded", fmt.Sprintf("%d", s.TotalPairs)),
	}
	if len(recent) > 0 {
		sections = append(sections, c.formatter.Section("🕘", "Latest", c.formatter.List(recent)))
	}
	return core.CommandResult{Text: c.formatter.Combine(sections...)}, nil
}

func since(now, t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return now.Sub(t).Round(time.Second).String()
}

func preview(s string, n int) string {
	r := []rune(s)
	for i, ch := range r {
		if ch == '\n' {
			r[i] = ' '
		}
	}
	if len(r) <= n {
		return string(r)
	}
	return string(r[:n-1]) + "…"
}
