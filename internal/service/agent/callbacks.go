package agent

import (
	"context"
	"fmt"

	"github.com/sandevgo/tuskbridge/pkg/log"
)

func (a *Agent) onChunk(text string) {
	if agg := a.aggregator(); agg != nil {
		agg.PushText(text)
	}
}

func (a *Agent) onActivity(line string) {
	if agg := a.aggregator(); agg != nil {
		agg.PushTool(line)
	}
}

func (a *Agent) onRateLimit(retrySeconds, attempt int) {
	a.notify(a.baseCtx(), fmt.Sprintf("⏳ Rate limited, retrying in %ds (attempt %d/%d)", retrySeconds, attempt, a.opts.MaxRateLimitRetries))
}

func (a *Agent) onAPIError(retrySeconds, attempt, maxAttempts int) {
	a.notify(a.baseCtx(), fmt.Sprintf("⚠️ API error, retrying in %ds (attempt %d/%d)", retrySeconds, attempt, maxAttempts))
}

func (a *Agent) onExit() {
	log.FromCtx(a.baseCtx()).Debug().Msg("backend process exited")
}

// onStuck runs when a turn outlived the queue's stuck timeout. Killing
// the backend resolves the hung turn with its partial text.
func (a *Agent) onStuck(ctx context.Context) {
	log.FromCtx(ctx).Warn().Msg("turn stuck, killing backend")
	a.sup.Kill(ctx)
	a.notify(ctx, StuckText)
}

func (a *Agent) onPanic(ctx context.Context, err error) {
	log.FromCtx(ctx).Error().Err(err).Msg("turn aborted")
	a.notify(ctx, GenericErrorText)
}
