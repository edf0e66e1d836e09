package memory

import (
	"context"
	"fmt"
	"time"

	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/pkg/log"
	"github.com/sandevgo/tuskbridge/pkg/tokens"
)

type CompactResult struct {
	Compacted int
	Kept      int
	Pinned    int
}

func (s *Store) NeedsCompaction() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recent) > s.cfg.CompactAt
}

// Compact folds the oldest unpinned pairs into the rolling summary until
// the window fits WindowSize. The summarizer runs without the lock; on
// failure nothing changes.
func (s *Store) Compact(ctx context.Context) (CompactResult, error) {
	logger := log.FromCtx(ctx)

	s.mu.Lock()
	if s.compacting {
		s.mu.Unlock()
		return CompactResult{}, ErrCompacting
	}

	toCompact, kept, pinned := planCompaction(s.recent, s.cfg.WindowSize)
	if len(toCompact) == 0 {
		s.mu.Unlock()
		return CompactResult{Kept: kept, Pinned: pinned}, nil
	}
	prev := s.summary
	s.compacting = true
	s.mu.Unlock()

	start := time.Now()
	summary, err := s.summarizer.Summarize(ctx, prev, toCompact)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.compacting = false

	if err != nil {
		return CompactResult{}, fmt.Errorf("summarize %d pairs: %w", len(toCompact), err)
	}

	evicted := make(map[int64]struct{}, len(toCompact))
	for _, p := range toCompact {
		evicted[p.ID] = struct{}{}
	}
	// pairs appended or pinned while the summarizer ran are kept
	window := make([]core.MessagePair, 0, len(s.recent))
	for _, p := range s.recent {
		if _, gone := evicted[p.ID]; gone && !p.Pinned {
			continue
		}
		window = append(window, p)
	}
	sortPairs(window)

	if err := s.writeSummary(summary); err != nil {
		return CompactResult{}, err
	}
	oldRecent := s.recent
	s.recent = window
	if err := s.writeRecentLocked(); err != nil {
		s.recent = oldRecent
		_ = s.writeSummary(prev)
		return CompactResult{}, err
	}
	s.summary = summary

	logger.Info().
		Int("compacted", len(toCompact)).
		Int("window", len(window)).
		Int("summary_tokens", tokens.Count(summary)).
		Dur("took", time.Since(start)).
		Msg("context compacted")

	return CompactResult{Compacted: len(toCompact), Kept: kept, Pinned: pinned}, nil
}

// planCompaction picks the oldest unpinned pairs to evict. An empty
// result means the window is left as is.
func planCompaction(window []core.MessagePair, windowSize int) (toCompact []core.MessagePair, kept, pinned int) {
	var unpinned []core.MessagePair
	for _, p := range window {
		if p.Pinned {
			pinned++
		} else {
			unpinned = append(unpinned, p)
		}
	}
	if len(window) <= windowSize {
		return nil, len(unpinned), pinned
	}

	target := windowSize - pinned
	if target <= 0 || len(unpinned) <= target {
		return nil, len(unpinned), pinned
	}

	n := len(unpinned) - target
	return append([]core.MessagePair(nil), unpinned[:n]...), target, pinned
}
