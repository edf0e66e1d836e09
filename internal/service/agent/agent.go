// Package agent runs the turn lifecycle: receive, queue, invoke the
// backend, stream, record, compact and deliver.
package agent

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sandevgo/tuskbridge/internal/config"
	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/internal/providers/backend"
	"github.com/sandevgo/tuskbridge/internal/service/memory"
	"github.com/sandevgo/tuskbridge/internal/service/outbox"
	"github.com/sandevgo/tuskbridge/internal/service/queue"
	"github.com/sandevgo/tuskbridge/internal/service/stream"
	"github.com/sandevgo/tuskbridge/pkg/clock"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

const (
	DeliveryErrorText = "⚠️ Error delivering response."
	GenericErrorText  = "⚠️ Something went wrong while processing your message."
	StuckText         = "⚠️ The previous request was stuck and has been stopped."
	EmptyResponseText = "🤷 The backend finished without a reply."
)

type Supervisor interface {
	SetCallbacks(cb backend.Callbacks)
	Send(ctx context.Context, prompt, systemPromptFile string)
	WaitForResponse() <-chan string
	Kill(ctx context.Context)
}

type Store interface {
	WritePrompt(ctx context.Context) (string, error)
	Append(ctx context.Context, userText, assistantText string) (core.MessagePair, error)
	NeedsCompaction() bool
	Compact(ctx context.Context) (memory.CompactResult, error)
	AddPin(ctx context.Context, text string) (core.PinnedItem, error)
}

type Router interface {
	Execute(ctx context.Context, input string) (core.CommandResult, bool)
	IsSerial(input string) bool
}

type Options struct {
	Stream              config.StreamConfig
	Queue               config.QueueConfig
	InboxDir            string
	AvatarPath          string
	MaxRateLimitRetries int
	Clock               clock.Clock
	// OnRestart is called after a /restart reply was sent.
	OnRestart func()
}

type Agent struct {
	messenger core.Messenger
	sup       Supervisor
	store     Store
	outbox    *outbox.Outbox
	router    Router
	opts      Options
	queue     *queue.Queue

	mu  sync.Mutex
	ctx context.Context
	agg *stream.Aggregator
}

func New(
	messenger core.Messenger,
	sup Supervisor,
	store Store,
	ob *outbox.Outbox,
	opts Options,
) *Agent {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.MaxRateLimitRetries <= 0 {
		opts.MaxRateLimitRetries = 5
	}

	a := &Agent{
		messenger: messenger,
		sup:       sup,
		store:     store,
		outbox:    ob,
		opts:      opts,
		ctx:       context.Background(),
	}
	a.queue = queue.New(a.handleTurn, queue.Options{
		StuckTimeout: opts.Queue.StuckTimeout,
		Clock:        opts.Clock,
		OnStuck:      a.onStuck,
		OnPanic:      a.onPanic,
	})
	sup.SetCallbacks(backend.Callbacks{
		OnChunk:     a.onChunk,
		OnActivity:  a.onActivity,
		OnRateLimit: a.onRateLimit,
		OnAPIError:  a.onAPIError,
		OnExit:      a.onExit,
	})
	return a
}

// SetRouter attaches the command router. Commands need the agent for
// queue status, so it is wired after construction.
func (a *Agent) SetRouter(r Router) {
	a.router = r
}

// Start sets the avatar and listens until ctx is done.
func (a *Agent) Start(ctx context.Context) error {
	ctx = log.WithFields(ctx, "component", "agent")
	a.mu.Lock()
	a.ctx = ctx
	a.mu.Unlock()

	a.applyAvatar(ctx)

	log.FromCtx(ctx).Info().Msg("listening for messages")
	return a.messenger.Listen(ctx, a.HandleMessage)
}

func (a *Agent) Shutdown(ctx context.Context) error {
	a.sup.Kill(ctx)
	return a.queue.Stop(ctx)
}

func (a *Agent) Busy() (bool, time.Duration) { return a.queue.Busy() }
func (a *Agent) Len() int                    { return a.queue.Len() }

// HandleMessage answers bypass commands inline and queues everything
// else.
func (a *Agent) HandleMessage(ctx context.Context, msg core.IncomingMessage) {
	logger := log.FromCtx(ctx)
	text := strings.TrimSpace(msg.Text)

	kind := queue.KindText
	if a.router != nil && strings.HasPrefix(text, "/") && len(msg.Attachments) == 0 {
		if a.router.IsSerial(text) {
			kind = queue.KindCommand
		} else if res, ok := a.router.Execute(ctx, text); ok {
			a.applyCommand(ctx, res)
			return
		}
	}

	if text == "" && len(msg.Attachments) == 0 {
		return
	}

	err := a.queue.Enqueue(a.baseCtx(), queue.Item{
		Kind:        kind,
		Text:        text,
		Attachments: msg.Attachments,
		ReceivedAt:  msg.ReceivedAt,
	})
	if errors.Is(err, queue.ErrStopped) {
		logger.Warn().Msg("message dropped, shutting down")
	}
}

func (a *Agent) handleTurn(ctx context.Context, t queue.Turn) {
	ctx = log.WithFields(ctx, "turn_id", uuid.NewString())

	if t.Kind == queue.KindCommand {
		if res, ok := a.router.Execute(ctx, t.Text); ok {
			a.applyCommand(ctx, res)
		}
		return
	}

	if err := a.runTurn(ctx, t); err != nil {
		log.FromCtx(ctx).Error().Err(err).Msg("turn failed")
		a.notify(ctx, GenericErrorText)
	}
}

// runTurn fails only when the exchange could not be recorded. The reply
// has already been delivered by then.
func (a *Agent) runTurn(ctx context.Context, t queue.Turn) error {
	logger := log.FromCtx(ctx)
	start := a.opts.Clock.Now()

	if tn, ok := a.messenger.(core.TypingNotifier); ok {
		if err := tn.Typing(ctx); err != nil {
			logger.Debug().Err(err).Msg("typing notice failed")
		}
	}

	userText := t.Text
	if refs := a.saveAttachments(ctx, t.Attachments); len(refs) > 0 {
		userText = strings.TrimSpace(userText + "\n\n" + strings.Join(refs, "\n"))
	}
	if userText == "" {
		return nil
	}

	promptPath, err := a.store.WritePrompt(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("prompt not written, sending without context")
		promptPath = ""
	}

	agg := stream.New(a.messenger.Send, stream.Options{
		FlushInterval: a.opts.Stream.FlushInterval,
		FlushTimeout:  a.opts.Stream.FlushTimeout,
		Clock:         a.opts.Clock,
	})
	a.setAggregator(agg)
	defer a.clearAggregator(agg)
	agg.Start(ctx)
	// no-op after the final flush below; stops the ticker if the turn panics
	defer func() { _ = agg.Stop(context.WithoutCancel(ctx)) }()

	logger.Info().Int("messages", t.Messages).Int("chars", len(userText)).Msg("turn started")
	a.sup.Send(ctx, userText, promptPath)

	var response string
	select {
	case response = <-a.sup.WaitForResponse():
	case <-ctx.Done():
		a.sup.Kill(context.WithoutCancel(ctx))
		_ = agg.Stop(context.WithoutCancel(ctx))
		logger.Info().Msg("turn aborted by shutdown")
		return nil
	}

	streamErr := agg.Stop(ctx)
	if streamErr != nil {
		logger.Warn().Err(streamErr).Msg("streaming flush failed")
	}

	var recordErr error
	notice := isNotice(response)
	if !notice && strings.TrimSpace(response) != "" {
		if _, err := a.store.Append(ctx, userText, response); err != nil {
			recordErr = fmt.Errorf("record exchange: %w", err)
		}
	}

	a.deliver(ctx, agg, response, notice, streamErr)
	a.drainOutbox(ctx)

	logger.Info().
		Dur("took", a.opts.Clock.Now().Sub(start)).
		Int("response_chars", len(response)).
		Bool("streamed", agg.StreamedText()).
		Msg("turn finished")

	if recordErr != nil {
		return recordErr
	}
	a.maybeCompact(ctx, false)
	return nil
}

// deliver sends the final text unless streaming already showed it.
func (a *Agent) deliver(ctx context.Context, agg *stream.Aggregator, response string, notice bool, streamErr error) {
	logger := log.FromCtx(ctx)

	switch {
	case strings.TrimSpace(response) == "":
		if !agg.Streamed() {
			a.notify(ctx, EmptyResponseText)
		}
		return
	case agg.StreamedText() && !notice:
		if streamErr != nil {
			a.notify(ctx, DeliveryErrorText)
		}
		return
	}

	if err := a.messenger.Send(ctx, response); err != nil {
		logger.Error().Err(err).Msg("failed to deliver response")
		a.notify(ctx, DeliveryErrorText)
	}
}

func (a *Agent) maybeCompact(ctx context.Context, force bool) {
	logger := log.FromCtx(ctx)
	if !force && !a.store.NeedsCompaction() {
		return
	}

	res, err := a.store.Compact(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("compaction failed, window kept")
		if force {
			a.notify(ctx, fmt.Sprintf("⚠️ Compaction failed: %v", err))
		}
		return
	}
	if force {
		if res.Compacted == 0 {
			a.notify(ctx, "Nothing to compact.")
			return
		}
		a.notify(ctx, fmt.Sprintf("🗜️ Summarized %d messages, %d kept (%d pinned).", res.Compacted, res.Kept, res.Pinned))
	}
}

func (a *Agent) applyCommand(ctx context.Context, res core.CommandResult) {
	if res.KillBackend {
		a.sup.Kill(ctx)
	}
	if res.Text != "" {
		a.notify(ctx, res.Text)
	}
	if res.Compact {
		a.maybeCompact(ctx, true)
	}
	if res.Restart && a.opts.OnRestart != nil {
		log.FromCtx(ctx).Info().Msg("restart requested")
		a.opts.OnRestart()
	}
}

func (a *Agent) applyAvatar(ctx context.Context) {
	if a.opts.AvatarPath == "" {
		return
	}
	logger := log.FromCtx(ctx)

	data, err := os.ReadFile(a.opts.AvatarPath)
	if err != nil {
		logger.Warn().Err(err).Str("path", a.opts.AvatarPath).Msg("failed to read avatar")
		return
	}
	err = a.messenger.SetAvatar(ctx, data)
	switch {
	case errors.Is(err, core.ErrUnsupported):
		logger.Debug().Msg("transport cannot set avatar")
	case err != nil:
		logger.Warn().Err(err).Msg("failed to set avatar")
	}
}

// notify sends a best-effort message.
func (a *Agent) notify(ctx context.Context, text string) {
	if err := a.messenger.Send(ctx, text); err != nil {
		log.FromCtx(ctx).Warn().Err(err).Msg("failed to send notice")
	}
}

func (a *Agent) baseCtx() context.Context {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ctx
}

func (a *Agent) setAggregator(agg *stream.Aggregator) {
	a.mu.Lock()
	a.agg = agg
	a.mu.Unlock()
}

// clearAggregator only clears agg if a newer turn has not replaced it.
func (a *Agent) clearAggregator(agg *stream.Aggregator) {
	a.mu.Lock()
	if a.agg == agg {
		a.agg = nil
	}
	a.mu.Unlock()
}

func (a *Agent) aggregator() *stream.Aggregator {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.agg
}

func isNotice(s string) bool {
	return strings.HasPrefix(strings.TrimSpace(s), "⚠️")
}
