// Package queue serializes inbound messages into backend turns. Messages
// that arrive while a turn runs are batched into the next one.
package queue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/pkg/clock"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

var ErrStopped = errors.New("queue stopped")

type Kind int

const (
	KindText Kind = iota
	KindCommand
)

type Item struct {
	Kind        Kind
	Text        string
	Attachments []core.Attachment
	ReceivedAt  time.Time
}

// Turn is one unit handed to the turn handler.
type Turn struct {
	Kind        Kind
	Text        string
	Attachments []core.Attachment
	Messages    int
	ReceivedAt  time.Time
}

// Coalesce joins runs of text items with a blank line. Command items
// always stay separate turns, in order.
func Coalesce(items []Item) []Turn {
	var turns []Turn
	var cur *Turn
	var parts []string

	closeText := func() {
		if cur == nil {
			return
		}
		cur.Text = strings.Join(parts, "\n\n")
		turns = append(turns, *cur)
		cur, parts = nil, nil
	}

	for _, it := range items {
		if it.Kind == KindCommand {
			closeText()
			turns = append(turns, Turn{Kind: KindCommand, Text: it.Text, Messages: 1, ReceivedAt: it.ReceivedAt})
			continue
		}
		if cur == nil {
			cur = &Turn{Kind: KindText, ReceivedAt: it.ReceivedAt}
		}
		if it.Text != "" {
			parts = append(parts, it.Text)
		}
		cur.Attachments = append(cur.Attachments, it.Attachments...)
		cur.Messages++
	}
	closeText()
	return turns
}

type Handler func(ctx context.Context, t Turn)

type Options struct {
	// StuckTimeout is how long a turn may run before a new message
	// force-clears it.
	StuckTimeout time.Duration
	Clock        clock.Clock
	// OnStuck runs when the watchdog fires, before the queue restarts.
	OnStuck func(ctx context.Context)
	// OnPanic receives panics recovered from the handler.
	OnPanic func(ctx context.Context, err error)
}

type Queue struct {
	handle Handler
	opts   Options

	mu         sync.Mutex
	items      []Item
	processing bool
	since      time.Time
	gen        uint64
	stopped    bool

	wg sync.WaitGroup
}

func New(handle Handler, opts Options) *Queue {
	if opts.StuckTimeout <= 0 {
		opts.StuckTimeout = 5 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Queue{handle: handle, opts: opts}
}

// Enqueue adds item and starts draining if no turn is running.
func (q *Queue) Enqueue(ctx context.Context, item Item) error {
	logger := log.FromCtx(ctx)

	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return ErrStopped
	}
	if item.ReceivedAt.IsZero() {
		item.ReceivedAt = q.opts.Clock.Now()
	}
	q.items = append(q.items, item)

	stuck := false
	if q.processing {
		running := q.opts.Clock.Now().Sub(q.since)
		if running <= q.opts.StuckTimeout {
			logger.Debug().Int("queued", len(q.items)).Msg("turn in progress, message queued")
			q.mu.Unlock()
			return nil
		}
		logger.Warn().Dur("running", running).Msg("turn exceeded stuck timeout, restarting queue")
		stuck = true
	}

	q.processing = true
	q.since = q.opts.Clock.Now()
	q.gen++
	gen := q.gen
	q.wg.Add(1)
	q.mu.Unlock()

	go q.drain(ctx, gen, stuck)
	return nil
}

func (q *Queue) drain(ctx context.Context, gen uint64, stuck bool) {
	defer q.wg.Done()

	if stuck && q.opts.OnStuck != nil {
		q.opts.OnStuck(ctx)
	}

	for {
		q.mu.Lock()
		if q.gen != gen {
			// superseded by the watchdog
			q.mu.Unlock()
			return
		}
		if len(q.items) == 0 {
			q.processing = false
			q.mu.Unlock()
			return
		}
		batch := q.items
		q.items = nil
		q.mu.Unlock()

		turns := Coalesce(batch)
		log.FromCtx(ctx).Debug().Int("messages", len(batch)).Int("turns", len(turns)).Msg("queue drained")

		for i, t := range turns {
			q.mu.Lock()
			if q.gen != gen {
				q.requeueLocked(ctx, turns[i:])
				q.mu.Unlock()
				return
			}
			q.since = q.opts.Clock.Now()
			q.mu.Unlock()

			q.run(ctx, t)
		}
	}
}

// requeueLocked hands turns a superseded drain never started back to the
// queue, ahead of anything that arrived since.
func (q *Queue) requeueLocked(ctx context.Context, turns []Turn) {
	rest := make([]Item, 0, len(turns))
	for _, t := range turns {
		rest = append(rest, Item{Kind: t.Kind, Text: t.Text, Attachments: t.Attachments, ReceivedAt: t.ReceivedAt})
	}
	q.items = append(rest, q.items...)

	if !q.processing && !q.stopped {
		q.processing = true
		q.since = q.opts.Clock.Now()
		q.gen++
		q.wg.Add(1)
		go q.drain(ctx, q.gen, false)
	}
}

func (q *Queue) run(ctx context.Context, t Turn) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("turn handler panic: %v", r)
			log.FromCtx(ctx).Error().Err(err).Msg("recovered from panic")
			if q.opts.OnPanic != nil {
				q.opts.OnPanic(ctx, err)
			}
		}
	}()
	q.handle(ctx, t)
}

// Busy reports whether a turn is running and for how long.
func (q *Queue) Busy() (bool, time.Duration) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.processing {
		return false, 0
	}
	return true, q.opts.Clock.Now().Sub(q.since)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Stop rejects new items and waits for running turns, bounded by ctx.
func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	q.stopped = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
