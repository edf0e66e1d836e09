package memory

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/sandevgo/tuskbridge/internal/config"
	"github.com/sandevgo/tuskbridge/internal/core"
)

func fill(t *testing.T, s *Store, n int) []core.MessagePair {
	t.Helper()
	var out []core.MessagePair
	for i := 0; i < n; i++ {
		p, err := s.Append(context.Background(), "q", "a")
		require.NoError(t, err)
		out = append(out, p)
	}
	return out
}

func ids(pairs []core.MessagePair) []int64 {
	out := make([]int64, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, p.ID)
	}
	return out
}

func TestCompact_EvictsOldestUnpinned(t *testing.T) {
	ctx := context.Background()
	sum := &fakeSummarizer{}
	s, dir := newTestStore(t, defaultCfg(), sum)

	pairs := fill(t, s, 7)
	require.NoError(t, s.SetPairPinned(ctx, pairs[1].ID, true))
	assert.True(t, s.NeedsCompaction())

	res, err := s.Compact(ctx)
	require.NoError(t, err)

	// window 4, 1 pinned: keep 3 newest unpinned, evict 1,3,4
	assert.Equal(t, CompactResult{Compacted: 3, Kept: 3, Pinned: 1}, res)
	assert.Equal(t, []int64{1, 3, 4}, sum.gotIDs)
	assert.Equal(t, []int64{2, 5, 6, 7}, ids(s.Recent()))
	assert.Equal(t, "+[1,3,4]", s.Summary())
	assert.False(t, s.NeedsCompaction())

	data, err := os.ReadFile(filepath.Join(dir, summaryFile))
	require.NoError(t, err)
	assert.Equal(t, "+[1,3,4]", string(data))

	// archive still has everything
	archived, err := readPairs(ctx, s.archivePath(testNow))
	require.NoError(t, err)
	assert.Len(t, archived, 7)

	// next compaction merges into the existing summary
	fill(t, s, 2)
	_, err = s.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, "+[1,3,4]", sum.gotPrev)
	assert.Equal(t, []int64{5, 6}, sum.gotIDs)
}

func TestCompact_NoOps(t *testing.T) {
	tests := []struct {
		name   string
		n      int
		pinned []int
	}{
		{"window within size", 4, nil},
		{"pins fill the window", 6, []int{0, 1, 2, 3}},
		{"pins exceed the window", 6, []int{0, 1, 2, 3, 4}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			sum := &fakeSummarizer{}
			s, dir := newTestStore(t, defaultCfg(), sum)
			pairs := fill(t, s, tt.n)
			for _, i := range tt.pinned {
				require.NoError(t, s.SetPairPinned(ctx, pairs[i].ID, true))
			}
			before := s.Recent()
			archived := archiveSnapshot(t, s, dir)

			res, err := s.Compact(ctx)
			require.NoError(t, err)
			assert.Zero(t, res.Compacted)
			assert.Equal(t, 0, sum.calls)
			assert.Equal(t, before, s.Recent())
			assert.Empty(t, s.Summary())
			assert.Equal(t, archived, archiveSnapshot(t, s, dir), "no-op compaction must not touch the archive")
		})
	}
}

// archiveSnapshot maps each archive day to its file content.
func archiveSnapshot(t *testing.T, s *Store, dir string) map[string]string {
	t.Helper()
	days, err := s.ArchiveDays()
	require.NoError(t, err)
	snap := make(map[string]string, len(days))
	for _, day := range days {
		data, err := os.ReadFile(filepath.Join(dir, archiveDir, day+".jsonl"))
		require.NoError(t, err)
		snap[day] = string(data)
	}
	return snap
}

func TestCompact_FailureLeavesWindowUntouched(t *testing.T) {
	ctx := context.Background()
	sum := &fakeSummarizer{err: errors.New("provider down")}
	s, dir := newTestStore(t, defaultCfg(), sum)
	fill(t, s, 7)
	before := s.Recent()

	_, err := s.Compact(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider down")
	assert.Equal(t, before, s.Recent())
	assert.Empty(t, s.Summary())
	assert.NoFileExists(t, filepath.Join(dir, summaryFile))

	// retried on the next call
	sum.err = nil
	res, err := s.Compact(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Compacted)
}

func TestCompact_Overlapping(t *testing.T) {
	ctx := context.Background()
	sum := &fakeSummarizer{block: make(chan struct{})}
	s, _ := newTestStore(t, defaultCfg(), sum)
	fill(t, s, 7)

	done := make(chan error, 1)
	go func() {
		_, err := s.Compact(ctx)
		done <- err
	}()

	require.Eventually(t, func() bool { return s.Stats().Compacting }, time.Second, time.Millisecond)
	_, err := s.Compact(ctx)
	assert.ErrorIs(t, err, ErrCompacting)

	// a pair appended meanwhile survives
	late, err := s.Append(ctx, "late", "x")
	require.NoError(t, err)

	close(sum.block)
	require.NoError(t, <-done)
	assert.Contains(t, ids(s.Recent()), late.ID)
	assert.Equal(t, []int64{4, 5, 6, 7, 8}, ids(s.Recent()))
}

func TestCompact_Properties(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		windowSize := rapid.IntRange(1, 10).Draw(rt, "windowSize")
		n := rapid.IntRange(0, 30).Draw(rt, "pairs")

		window := make([]core.MessagePair, n)
		for i := range window {
			window[i] = core.MessagePair{
				ID:     int64(i + 1),
				Pinned: rapid.Bool().Draw(rt, "pinned"),
			}
		}

		toCompact, _, pinnedCount := planCompaction(window, windowSize)

		unpinned := 0
		for _, p := range window {
			if !p.Pinned {
				unpinned++
			}
		}
		target := windowSize - pinnedCount

		if n <= windowSize || target <= 0 || unpinned <= target {
			if len(toCompact) != 0 {
				rt.Fatalf("expected no-op, got %d evictions", len(toCompact))
			}
			return
		}

		if len(toCompact) != unpinned-target {
			rt.Fatalf("evicted %d, want %d", len(toCompact), unpinned-target)
		}
		evicted := map[int64]bool{}
		for _, p := range toCompact {
			if p.Pinned {
				rt.Fatalf("pinned pair %d evicted", p.ID)
			}
			evicted[p.ID] = true
		}
		// evicted pairs are the oldest unpinned ones
		maxEvicted := toCompact[len(toCompact)-1].ID
		for _, p := range window {
			if !p.Pinned && p.ID < maxEvicted && !evicted[p.ID] {
				rt.Fatalf("pair %d skipped while newer %d evicted", p.ID, maxEvicted)
			}
		}
		if n-len(toCompact) != max(windowSize, pinnedCount) {
			rt.Fatalf("window after compaction %d, want %d", n-len(toCompact), max(windowSize, pinnedCount))
		}
	})
}

func TestCompact_PinnedSurviveStore(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		ctx := context.Background()
		dir, err := os.MkdirTemp("", "compact-prop")
		if err != nil {
			rt.Fatal(err)
		}
		defer os.RemoveAll(dir)

		cfg := config.ContextConfig{WindowSize: rapid.IntRange(1, 6).Draw(rt, "window"), CompactAt: 1}
		s := NewStore(dir, cfg, &fakeSummarizer{})
		if err := s.Load(ctx); err != nil {
			rt.Fatal(err)
		}

		n := rapid.IntRange(1, 15).Draw(rt, "n")
		for i := 0; i < n; i++ {
			p, err := s.Append(ctx, "q", "a")
			if err != nil {
				rt.Fatal(err)
			}
			if rapid.Bool().Draw(rt, "pin") {
				if err := s.SetPairPinned(ctx, p.ID, true); err != nil {
					rt.Fatal(err)
				}
			}
		}

		var pinnedBefore []core.MessagePair
		for _, p := range s.Recent() {
			if p.Pinned {
				pinnedBefore = append(pinnedBefore, p)
			}
		}

		if _, err := s.Compact(ctx); err != nil {
			rt.Fatal(err)
		}

		var pinnedAfter []core.MessagePair
		after := s.Recent()
		for i, p := range after {
			if i > 0 && after[i-1].ID >= p.ID {
				rt.Fatalf("window not sorted by id")
			}
			if p.Pinned {
				pinnedAfter = append(pinnedAfter, p)
			}
		}
		if len(pinnedBefore) != len(pinnedAfter) {
			rt.Fatalf("pinned pairs changed: %d -> %d", len(pinnedBefore), len(pinnedAfter))
		}
		for i := range pinnedBefore {
			if pinnedBefore[i] != pinnedAfter[i] {
				rt.Fatalf("pinned pair %d modified", pinnedBefore[i].ID)
			}
		}
	})
}
