package queue

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"pgregory.net/rapid"

	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/pkg/clock"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// gatedHandler blocks every turn until release is called for it.
type gatedHandler struct {
	turns   chan Turn
	release chan struct{}
}

func newGatedHandler() *gatedHandler {
	return &gatedHandler{turns: make(chan Turn, 64), release: make(chan struct{}, 64)}
}

func (h *gatedHandler) handle(_ context.Context, t Turn) {
	h.turns <- t
	<-h.release
}

func (h *gatedHandler) next(t *testing.T) Turn {
	t.Helper()
	select {
	case turn := <-h.turns:
		return turn
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for turn")
		return Turn{}
	}
}

func stop(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, q.Stop(ctx))
}

func TestCoalesce(t *testing.T) {
	att := core.Attachment{Ref: "f1", Name: "a.png"}
	tests := []struct {
		name  string
		items []Item
		want  []Turn
	}{
		{"empty", nil, nil},
		{
			"texts joined",
			[]Item{{Text: "a"}, {Text: "b"}, {Text: "c"}},
			[]Turn{{Kind: KindText, Text: "a\n\nb\n\nc", Messages: 3}},
		},
		{
			"attachments concatenated",
			[]Item{{Text: "look", Attachments: []core.Attachment{att}}, {Attachments: []core.Attachment{att}}},
			[]Turn{{Kind: KindText, Text: "look", Attachments: []core.Attachment{att, att}, Messages: 2}},
		},
		{
			"commands split runs",
			[]Item{{Text: "x"}, {Kind: KindCommand, Text: "/compact"}, {Text: "y"}, {Text: "z"}},
			[]Turn{
				{Kind: KindText, Text: "x", Messages: 1},
				{Kind: KindCommand, Text: "/compact", Messages: 1},
				{Kind: KindText, Text: "y\n\nz", Messages: 2},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Coalesce(tt.items))
		})
	}
}

func TestQueue_BatchesWhileBusy(t *testing.T) {
	h := newGatedHandler()
	q := New(h.handle, Options{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Item{Text: "first"}))
	assert.Equal(t, "first", h.next(t).Text)

	require.NoError(t, q.Enqueue(ctx, Item{Text: "second"}))
	require.NoError(t, q.Enqueue(ctx, Item{Text: "third"}))
	assert.Equal(t, 2, q.Len())
	busy, _ := q.Busy()
	assert.True(t, busy)

	h.release <- struct{}{}
	turn := h.next(t)
	assert.Equal(t, "second\n\nthird", turn.Text)
	assert.Equal(t, 2, turn.Messages)

	h.release <- struct{}{}
	require.Eventually(t, func() bool {
		busy, _ := q.Busy()
		return !busy
	}, time.Second, time.Millisecond)

	stop(t, q)
}

func TestQueue_BatchingProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		msgs := rapid.SliceOfN(rapid.StringMatching(`[a-z ]{1,12}`), 1, 10).Draw(rt, "msgs")

		h := newGatedHandler()
		q := New(h.handle, Options{})
		ctx := context.Background()

		_ = q.Enqueue(ctx, Item{Text: "warmup"})
		<-h.turns
		for _, m := range msgs {
			_ = q.Enqueue(ctx, Item{Text: m})
		}
		h.release <- struct{}{}

		turn := <-h.turns
		h.release <- struct{}{}

		if turn.Text != strings.Join(msgs, "\n\n") {
			rt.Fatalf("turn text %q, want join of %q", turn.Text, msgs)
		}
		if turn.Messages != len(msgs) {
			rt.Fatalf("turn has %d messages, want %d", turn.Messages, len(msgs))
		}

		sctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := q.Stop(sctx); err != nil {
			rt.Fatal(err)
		}
		if len(h.turns) != 0 {
			rt.Fatalf("unexpected extra turn")
		}
	})
}

func TestQueue_CommandsKeepOrder(t *testing.T) {
	h := newGatedHandler()
	q := New(h.handle, Options{})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Item{Text: "busy"}))
	h.next(t)

	require.NoError(t, q.Enqueue(ctx, Item{Text: "x"}))
	require.NoError(t, q.Enqueue(ctx, Item{Kind: KindCommand, Text: "/reset"}))
	require.NoError(t, q.Enqueue(ctx, Item{Text: "y"}))
	h.release <- struct{}{}

	var got []string
	for i := 0; i < 3; i++ {
		turn := h.next(t)
		got = append(got, turn.Text)
		h.release <- struct{}{}
	}
	assert.Equal(t, []string{"x", "/reset", "y"}, got)
	stop(t, q)
}

func TestQueue_WatchdogRestarts(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	h := newGatedHandler()

	var mu sync.Mutex
	stuckCalls := 0
	q := New(h.handle, Options{
		StuckTimeout: 5 * time.Minute,
		Clock:        clk,
		OnStuck: func(context.Context) {
			mu.Lock()
			defer mu.Unlock()
			stuckCalls++
		},
	})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Item{Text: "hangs"}))
	h.next(t)

	clk.Advance(4 * time.Minute)
	require.NoError(t, q.Enqueue(ctx, Item{Text: "early"}))
	assert.Equal(t, 1, q.Len())

	clk.Advance(2 * time.Minute)
	require.NoError(t, q.Enqueue(ctx, Item{Text: "late"}))

	// a fresh drain picks up both queued messages
	turn := h.next(t)
	assert.Equal(t, "early\n\nlate", turn.Text)
	mu.Lock()
	assert.Equal(t, 1, stuckCalls)
	mu.Unlock()

	// release the fresh turn and the stale one
	h.release <- struct{}{}
	h.release <- struct{}{}
	stop(t, q)

	select {
	case extra := <-h.turns:
		t.Fatalf("unexpected turn %q", extra.Text)
	default:
	}
}

func TestQueue_RecoversPanics(t *testing.T) {
	panics := make(chan error, 1)
	handled := make(chan string, 4)
	q := New(func(_ context.Context, t Turn) {
		if t.Text == "boom" {
			panic("kaboom")
		}
		handled <- t.Text
	}, Options{OnPanic: func(_ context.Context, err error) { panics <- err }})
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, Item{Text: "boom"}))
	select {
	case err := <-panics:
		assert.Contains(t, err.Error(), "kaboom")
	case <-time.After(2 * time.Second):
		t.Fatal("panic not reported")
	}

	require.Eventually(t, func() bool {
		busy, _ := q.Busy()
		return !busy
	}, time.Second, time.Millisecond)

	require.NoError(t, q.Enqueue(ctx, Item{Text: "after"}))
	select {
	case got := <-handled:
		assert.Equal(t, "after", got)
	case <-time.After(2 * time.Second):
		t.Fatal("queue did not recover")
	}
	stop(t, q)
}

func TestQueue_Stop(t *testing.T) {
	q := New(func(context.Context, Turn) {}, Options{})
	stop(t, q)
	assert.ErrorIs(t, q.Enqueue(context.Background(), Item{Text: "x"}), ErrStopped)
}
