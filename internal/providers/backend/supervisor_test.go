package backend

import (
	"context"
	"os"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sandevgo/tuskbridge/pkg/clock"
)

const (
	lineInit      = `{"type":"system","subtype":"init","session_id":"s1","model":"sonnet"}`
	lineRateLimit = `{"type":"assistant","message":{"content":[]},"error":"rate_limit"}`
	lineEmptyDone = `{"type":"result","subtype":"success","result":"","is_error":true}`
	lineAPI500    = `{"type":"result","subtype":"success","is_error":true,"result":"API Error: 500 {\"type\":\"error\",\"error\":{\"type\":\"api_error\",\"message\":\"Internal server error\"}}"}`
)

type recorder struct {
	mu         sync.Mutex
	chunks     []string
	activities []string
	exits      int
	rateLimit  chan [2]int
	apiError   chan [3]int
}

func newRecorder() *recorder {
	return &recorder{rateLimit: make(chan [2]int, 16), apiError: make(chan [3]int, 16)}
}

func (r *recorder) callbacks() Callbacks {
	return Callbacks{
		OnChunk: func(text string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.chunks = append(r.chunks, text)
		},
		OnActivity: func(line string) {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.activities = append(r.activities, line)
		},
		OnRateLimit: func(secs, attempt int) { r.rateLimit <- [2]int{secs, attempt} },
		OnAPIError:  func(secs, attempt, max int) { r.apiError <- [3]int{secs, attempt, max} },
		OnExit: func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			r.exits++
		},
	}
}

func (r *recorder) snapshot() ([]string, []string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.chunks...), append([]string(nil), r.activities...), r.exits
}

func newTestSupervisor(t *testing.T, profile string) (*Supervisor, *fakeSpawner, *clock.FakeClock, *recorder) {
	t.Helper()
	p, err := LookupProfile(profile)
	require.NoError(t, err)

	sp := newFakeSpawner()
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	sup := NewSupervisor(Options{
		Profile: p,
		Model:   "sonnet",
		Spawner: sp.Spawn,
		Clock:   clk,
	})
	rec := newRecorder()
	sup.SetCallbacks(rec.callbacks())
	return sup, sp, clk, rec
}

func TestSupervisor_StreamsChunksAndResolves(t *testing.T) {
	sup, sp, _, rec := newTestSupervisor(t, "claude")
	ctx := context.Background()

	sup.Send(ctx, "hi there", "")
	wait := sup.WaitForResponse()
	p := sp.next(t)

	assert.True(t, sup.IsAlive())
	assert.Equal(t, StateRunning, sup.Status().State)

	p.emit(
		lineInit,
		"not json at all",
		`{"type":"assistant","message":{"content":[{"type":"text","text":"Hello"}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"ls","description":"list files"}}]}}`,
		`{"type":"user","message":{"content":[{"type":"tool_result","tool_use_id":"t1"}]}}`,
		`{"type":"assistant","message":{"content":[{"type":"text","text":"World"}]}}`,
		`{"type":"result","subtype":"success","result":"Hello\n\nWorld","is_error":false}`,
	)

	assert.Equal(t, "Hello\n\nWorld", recv(t, wait))
	p.exit()

	require.Eventually(t, func() bool {
		_, _, exits := rec.snapshot()
		return exits == 1
	}, 2*time.Second, 5*time.Millisecond)

	chunks, activities, _ := rec.snapshot()
	assert.Equal(t, []string{"Hello", "World"}, chunks)
	assert.Equal(t, []string{"🔧 Bash: list files"}, activities)
	assert.Equal(t, StateIdle, sup.Status().State)
	assert.False(t, sup.Status().Busy)

	cmds := sp.Commands()
	require.Len(t, cmds, 1)
	assert.Equal(t, "claude", cmds[0].Path)
	assert.Equal(t, []string{"--", "hi there"}, cmds[0].Args[len(cmds[0].Args)-2:])
}

func TestSupervisor_ResponseBeforeWaiterIsKept(t *testing.T) {
	sup, sp, _, _ := newTestSupervisor(t, "claude")

	sup.Send(context.Background(), "q", "")
	p := sp.next(t)
	p.emit(`{"type":"result","result":"early"}`)
	p.exit()

	require.Eventually(t, func() bool { return !sup.Status().Busy }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "early", recv(t, sup.WaitForResponse()))
	assert.Equal(t, "", recv(t, sup.WaitForResponse()))
}

func TestSupervisor_GeminiDeltasAreCoalesced(t *testing.T) {
	sup, sp, _, rec := newTestSupervisor(t, "gemini")

	sup.Send(context.Background(), "q", "")
	wait := sup.WaitForResponse()
	p := sp.next(t)
	p.emit(
		`{"type":"init","session_id":"g1","model":"gemini-2.5-pro"}`,
		`{"type":"message","role":"user","content":"q"}`,
		`{"type":"message","role":"assistant","content":"Hel","delta":true}`,
		`{"type":"message","role":"assistant","content":"lo","delta":true}`,
		`{"type":"tool_use","tool_name":"read_file","tool_id":"r1","parameters":{"path":"/tmp/notes.md"}}`,
		`{"type":"tool_result","tool_id":"r1","status":"success"}`,
		`{"type":"message","role":"assistant","content":"Done","delta":true}`,
		`{"type":"result","status":"success","stats":{"total_tokens":10}}`,
	)

	assert.Equal(t, "Hello\n\nDone", recv(t, wait))
	p.exit()

	chunks, activities, _ := rec.snapshot()
	assert.Equal(t, []string{"Hello", "Done"}, chunks)
	assert.Equal(t, []string{"🔧 read_file: notes.md"}, activities)
}

func TestSupervisor_RateLimitRetries(t *testing.T) {
	sup, sp, clk, rec := newTestSupervisor(t, "claude")
	ctx := context.Background()

	sup.Send(ctx, "same prompt", "")
	wait := sup.WaitForResponse()

	for attempt := 1; attempt <= 5; attempt++ {
		p := sp.next(t)
		p.emit(lineRateLimit, lineEmptyDone)
		p.exit()

		got := recv(t, rec.rateLimit)
		assert.Equal(t, [2]int{30, attempt}, got)

		st := sup.Status()
		assert.Equal(t, StateRetryPending, st.State)
		assert.Equal(t, attempt, st.RateLimitRetries)
		assert.True(t, st.Busy)

		clk.Advance(30 * time.Second)
	}

	p := sp.next(t)
	p.emit(lineRateLimit, lineEmptyDone)
	p.exit()

	assert.Equal(t, "⚠️ Rate limited: gave up after 5 retries. Please try again later.", recv(t, wait))
	assert.Equal(t, 0, sup.Status().RateLimitRetries)
	assert.Len(t, rec.rateLimit, 0)

	for _, cmd := range sp.Commands() {
		assert.Equal(t, "same prompt", cmd.Args[len(cmd.Args)-1])
	}
	assert.Len(t, sp.Commands(), 6)
}

func TestSupervisor_RateLimitCounterResetsOnSuccess(t *testing.T) {
	sup, sp, clk, rec := newTestSupervisor(t, "claude")

	sup.Send(context.Background(), "p", "")
	wait := sup.WaitForResponse()

	p := sp.next(t)
	p.emit(lineRateLimit, lineEmptyDone)
	p.exit()
	recv(t, rec.rateLimit)
	clk.Advance(30 * time.Second)

	p = sp.next(t)
	p.emit(`{"type":"result","result":"finally"}`)
	p.exit()

	assert.Equal(t, "finally", recv(t, wait))
	assert.Equal(t, 0, sup.Status().RateLimitRetries)
}

func TestSupervisor_APIErrorRetries(t *testing.T) {
	sup, sp, clk, rec := newTestSupervisor(t, "claude")

	sup.Send(context.Background(), "p", "")
	wait := sup.WaitForResponse()

	delays := []time.Duration{30 * time.Second, 60 * time.Second}
	for i, d := range delays {
		p := sp.next(t)
		p.emit(lineAPI500)
		p.exit()

		assert.Equal(t, [3]int{int(d.Seconds()), i + 1, 2}, recv(t, rec.apiError))
		clk.Advance(d)
	}

	p := sp.next(t)
	p.emit(lineAPI500)
	p.exit()

	assert.Equal(t, APIErrorExhaustedText, recv(t, wait))
	assert.Equal(t, 0, sup.Status().APIErrorRetries)
	assert.Len(t, sp.Commands(), 3)
}

func TestSupervisor_AnswerMentioningServerErrorIsNotRetried(t *testing.T) {
	sup, sp, _, rec := newTestSupervisor(t, "claude")

	sup.Send(context.Background(), "p", "")
	wait := sup.WaitForResponse()

	answer := `An Internal Server Error usually means the upstream crashed. Check the \"type\":\"api_error\" field in the body.`
	p := sp.next(t)
	p.emit(`{"type":"result","subtype":"success","is_error":false,"result":"` + answer + `"}`)
	p.exit()

	assert.Equal(t, `An Internal Server Error usually means the upstream crashed. Check the "type":"api_error" field in the body.`, recv(t, wait))
	assert.Empty(t, rec.apiError)
	assert.Equal(t, 0, sup.Status().APIErrorRetries)
	assert.Len(t, sp.Commands(), 1)
}

func TestSupervisor_KillResolvesPartialText(t *testing.T) {
	sup, sp, _, rec := newTestSupervisor(t, "claude")
	ctx := context.Background()

	sup.Send(ctx, "p", "")
	wait := sup.WaitForResponse()
	p := sp.next(t)
	p.emit(`{"type":"assistant","message":{"content":[{"type":"text","text":"partial"}]}}`)

	sup.Kill(ctx)
	assert.Equal(t, "partial", recv(t, wait))
	assert.False(t, sup.IsAlive())

	// second kill on a dead supervisor is a no-op
	sup.Kill(ctx)
	assert.Equal(t, "", recv(t, sup.WaitForResponse()))

	require.Eventually(t, func() bool {
		_, _, exits := rec.snapshot()
		return exits == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestSupervisor_KillEscalates(t *testing.T) {
	sup, sp, clk, _ := newTestSupervisor(t, "claude")
	sp.setup = func(p *fakeProcess) {
		p.exitOnStdin = false
		p.exitOnTerm = false
	}
	ctx := context.Background()

	sup.Send(ctx, "p", "")
	wait := sup.WaitForResponse()
	p := sp.next(t)

	killed := make(chan struct{})
	go func() {
		sup.Kill(ctx)
		close(killed)
	}()

	// probe ticker + stdin grace
	clk.WaitForTimers(2)
	clk.Advance(5 * time.Second)
	// probe ticker + term grace
	clk.WaitForTimers(2)
	clk.Advance(3 * time.Second)

	recv(t, killed)
	assert.Equal(t, []os.Signal{syscall.SIGTERM}, p.Signals())
	assert.Equal(t, "", recv(t, wait))
}

func TestSupervisor_KillCancelsPendingRetry(t *testing.T) {
	sup, sp, clk, rec := newTestSupervisor(t, "claude")
	ctx := context.Background()

	sup.Send(ctx, "p", "")
	wait := sup.WaitForResponse()
	p := sp.next(t)
	p.emit(lineRateLimit, lineEmptyDone)
	p.exit()
	recv(t, rec.rateLimit)

	sup.Kill(ctx)
	assert.Equal(t, "", recv(t, wait))
	assert.Equal(t, StateIdle, sup.Status().State)

	clk.Advance(time.Minute)
	assert.Len(t, sp.Commands(), 1)
}

func TestSupervisor_SpawnFailureResolves(t *testing.T) {
	sup, sp, _, _ := newTestSupervisor(t, "claude")
	sp.err = errBoom

	sup.Send(context.Background(), "p", "")
	got := recv(t, sup.WaitForResponse())
	assert.Contains(t, got, "Failed to start claude backend")
	assert.Contains(t, got, "boom")
	assert.Equal(t, StateIdle, sup.Status().State)
}

func TestSupervisor_SendKillsStaleProcess(t *testing.T) {
	sup, sp, _, _ := newTestSupervisor(t, "claude")
	ctx := context.Background()

	sup.Send(ctx, "first", "")
	first := sp.next(t)

	sup.Send(ctx, "second", "")
	second := sp.next(t)

	select {
	case <-first.Done():
	default:
		t.Fatal("stale process still running")
	}

	wait := sup.WaitForResponse()
	second.emit(`{"type":"result","result":"ok"}`)
	second.exit()
	assert.Equal(t, "ok", recv(t, wait))
}

func TestSupervisor_ProbeResolvesDeadProcess(t *testing.T) {
	sup, sp, clk, rec := newTestSupervisor(t, "claude")

	sup.Send(context.Background(), "p", "")
	wait := sup.WaitForResponse()
	p := sp.next(t)
	p.emit(`{"type":"assistant","message":{"content":[{"type":"text","text":"half"}]}}`)
	p.die()

	clk.WaitForTimers(1)
	var got string
	require.Eventually(t, func() bool {
		select {
		case got = <-wait:
			return true
		default:
			clk.Advance(20 * time.Second)
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, "half", got)
	_, _, exits := rec.snapshot()
	assert.Equal(t, 1, exits)

	// release the blocked reader
	_ = p.w.Close()
	time.Sleep(10 * time.Millisecond)
	_, _, exits = rec.snapshot()
	assert.Equal(t, 1, exits)
}

func TestSupervisor_SystemPromptFile(t *testing.T) {
	sup, sp, _, _ := newTestSupervisor(t, "claude")

	path := t.TempDir() + "/prompt.md"
	require.NoError(t, os.WriteFile(path, []byte("be brief"), 0o600))

	sup.Send(context.Background(), "q", path)
	p := sp.next(t)
	p.emit(`{"type":"result","result":"ok"}`)
	p.exit()
	recv(t, sup.WaitForResponse())

	args := sp.Commands()[0].Args
	assert.Contains(t, args, "--append-system-prompt")
	assert.Contains(t, args, "be brief")
	assert.Contains(t, args, "--model")
}

func TestSupervisor_SetProfile(t *testing.T) {
	sup, sp, _, _ := newTestSupervisor(t, "claude")

	gemini, err := LookupProfile("gemini")
	require.NoError(t, err)
	sup.SetProfile(gemini, "gemini-2.5-flash")
	assert.Equal(t, "gemini", sup.Backend())
	assert.Equal(t, "gemini-2.5-flash", sup.Model())

	sup.Send(context.Background(), "q", "")
	p := sp.next(t)
	p.emit(`{"type":"message","role":"assistant","content":"hey","delta":true}`, `{"type":"result","status":"success"}`)
	p.exit()
	assert.Equal(t, "hey", recv(t, sup.WaitForResponse()))
	assert.Equal(t, "gemini", sp.Commands()[0].Path)
}
