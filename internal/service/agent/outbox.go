package agent

import (
	"context"
	"fmt"

	"github.com/sandevgo/tuskbridge/internal/service/outbox"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

// drainOutbox delivers what the backend queued through the toolbox
// during the turn.
func (a *Agent) drainOutbox(ctx context.Context) {
	if a.outbox == nil {
		return
	}
	logger := log.FromCtx(ctx)

	envs, err := a.outbox.Drain(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("failed to drain outbox")
		return
	}

	for _, env := range envs {
		switch env.Kind {
		case outbox.KindImage:
			if err := a.messenger.SendImage(ctx, env.Data, env.Caption); err != nil {
				logger.Warn().Err(err).Int("bytes", len(env.Data)).Msg("failed to send image")
				a.notify(ctx, "⚠️ Failed to send an image.")
			}
		case outbox.KindPin:
			pin, err := a.store.AddPin(ctx, env.Text)
			if err != nil {
				logger.Warn().Err(err).Msg("failed to pin note")
				continue
			}
			a.notify(ctx, fmt.Sprintf("📌 Pinned #%d: %s", pin.ID, pin.Text))
		default:
			logger.Warn().Str("kind", string(env.Kind)).Msg("unknown outbox envelope")
		}
	}
}
