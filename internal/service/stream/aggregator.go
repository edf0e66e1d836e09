// Package stream paces backend output into a bounded number of chat
// messages.
package stream

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sandevgo/tuskbridge/pkg/clock"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

type Kind int

const (
	KindText Kind = iota
	KindTool
)

type Entry struct {
	Kind    Kind
	Content string
}

var repeatSuffix = regexp.MustCompile(`^(.*) \(x(\d+)\)$`)

func splitRepeat(line string) (string, int) {
	if m := repeatSuffix.FindStringSubmatch(line); m != nil {
		if n, err := strconv.Atoi(m[2]); err == nil && n > 0 {
			return m[1], n
		}
	}
	return line, 1
}

type group struct {
	lines    []string
	lastTool bool
}

// Render groups entries into messages. A text entry opens a new group and
// tool entries join the open one; identical consecutive tool lines
// collapse into "line (xN)".
func Render(entries []Entry) []string {
	var groups []*group
	var cur *group

	for _, e := range entries {
		if e.Kind == KindText || cur == nil {
			cur = &group{}
			groups = append(groups, cur)
		}

		if e.Kind == KindText {
			cur.lines = append(cur.lines, e.Content)
			cur.lastTool = false
			continue
		}

		if n := len(cur.lines); n > 0 && cur.lastTool {
			prevBase, prevCount := splitRepeat(cur.lines[n-1])
			base, count := splitRepeat(e.Content)
			if prevBase == base {
				cur.lines[n-1] = fmt.Sprintf("%s (x%d)", base, prevCount+count)
				continue
			}
		}
		cur.lines = append(cur.lines, e.Content)
		cur.lastTool = true
	}

	out := make([]string, 0, len(groups))
	for _, g := range groups {
		msg := strings.TrimSpace(strings.Join(g.lines, "\n"))
		if msg != "" {
			out = append(out, msg)
		}
	}
	return out
}

type Sender func(ctx context.Context, text string) error

type Options struct {
	FlushInterval time.Duration
	FlushTimeout  time.Duration
	Clock         clock.Clock
}

// Aggregator buffers one turn's output. Flushes are serialized: a flush
// waits for the previous one for at most FlushTimeout.
type Aggregator struct {
	send Sender
	opts Options

	mu           sync.Mutex
	buf          []Entry
	sentText     bool
	sentAnything bool

	sem  chan struct{}
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func New(send Sender, opts Options) *Aggregator {
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = 30 * time.Second
	}
	if opts.FlushTimeout <= 0 {
		opts.FlushTimeout = 10 * time.Second
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &Aggregator{
		send: send,
		opts: opts,
		sem:  make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
}

func (a *Aggregator) Push(e Entry) {
	if strings.TrimSpace(e.Content) == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.buf = append(a.buf, e)
}

func (a *Aggregator) PushText(s string) { a.Push(Entry{Kind: KindText, Content: s}) }

func (a *Aggregator) PushTool(line string) { a.Push(Entry{Kind: KindTool, Content: line}) }

// Start runs the periodic flush until Stop.
func (a *Aggregator) Start(ctx context.Context) {
	ticker := a.opts.Clock.NewTicker(a.opts.FlushInterval)
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-a.stop:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := a.Flush(ctx); err != nil {
					log.FromCtx(ctx).Warn().Err(err).Msg("periodic flush failed")
				}
			}
		}
	}()
}

// Stop ends the periodic flush and sends whatever is left.
func (a *Aggregator) Stop(ctx context.Context) error {
	a.once.Do(func() { close(a.stop) })
	a.wg.Wait()
	return a.Flush(ctx)
}

// Flush sends the buffered groups in order.
func (a *Aggregator) Flush(ctx context.Context) error {
	logger := log.FromCtx(ctx)

	select {
	case a.sem <- struct{}{}:
		defer func() { <-a.sem }()
	case <-a.opts.Clock.After(a.opts.FlushTimeout):
		logger.Warn().Dur("timeout", a.opts.FlushTimeout).Msg("previous flush still running, flushing anyway")
	case <-ctx.Done():
		return ctx.Err()
	}

	a.mu.Lock()
	entries := a.buf
	a.buf = nil
	a.mu.Unlock()

	if len(entries) == 0 {
		return nil
	}

	var errs []error
	for _, msg := range Render(entries) {
		if err := a.send(ctx, msg); err != nil {
			errs = append(errs, err)
			continue
		}
		a.mu.Lock()
		a.sentAnything = true
		a.mu.Unlock()
	}

	a.mu.Lock()
	for _, e := range entries {
		if e.Kind == KindText && len(errs) == 0 {
			a.sentText = true
			break
		}
	}
	a.mu.Unlock()

	return errors.Join(errs...)
}

// StreamedText reports whether any assistant text reached the user.
func (a *Aggregator) StreamedText() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sentText
}

// Streamed reports whether anything at all was sent.
func (a *Aggregator) Streamed() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.sentAnything
}
