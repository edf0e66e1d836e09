package memory

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type preambleSink struct {
	mu   sync.Mutex
	last string
}

func (p *preambleSink) set(s string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = s
}

func (p *preambleSink) get() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

func TestPreambleWatcher_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "SYSTEM.md")
	sink := &preambleSink{}
	w := NewPreambleWatcher(path, "built-in", sink.set)

	w.Reload(context.Background())
	assert.Equal(t, "built-in", sink.get())

	require.NoError(t, os.WriteFile(path, []byte("  custom  \n"), 0o644))
	w.Reload(context.Background())
	assert.Equal(t, "custom", sink.get())

	require.NoError(t, os.WriteFile(path, []byte(" \n"), 0o644))
	w.Reload(context.Background())
	assert.Equal(t, "built-in", sink.get())
}

func TestPreambleWatcher_Start(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "SYSTEM.md")
	require.NoError(t, os.WriteFile(path, []byte("v1"), 0o644))

	sink := &preambleSink{}
	w := NewPreambleWatcher(path, "built-in", sink.set)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	require.Eventually(t, func() bool { return sink.get() == "v1" }, 2*time.Second, 10*time.Millisecond)

	// the watch is armed asynchronously; keep rewriting until picked up
	require.Eventually(t, func() bool {
		_ = os.WriteFile(path, []byte("v2"), 0o644)
		return sink.get() == "v2"
	}, 5*time.Second, 100*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, w.Shutdown(context.Background()))
}
