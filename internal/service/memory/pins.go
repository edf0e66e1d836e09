package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

// AddPin stores a free-text note. Its id comes from the same counter as
// message pairs.
func (s *Store) AddPin(ctx context.Context, text string) (core.PinnedItem, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return core.PinnedItem{}, ErrEmptyPin
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pin := core.PinnedItem{
		ID:        s.state.NextID,
		Text:      text,
		Timestamp: s.clock.Now().UnixMilli(),
	}
	s.state.NextID++
	s.state.Pins = append(s.state.Pins, pin)

	if err := s.writeStateLocked(); err != nil {
		return pin, err
	}
	log.FromCtx(ctx).Info().Int64("id", pin.ID).Msg("pin added")
	return pin, nil
}

func (s *Store) RemovePin(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := -1
	for i, p := range s.state.Pins {
		if p.ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("pin #%d: %w", id, ErrNotFound)
	}

	s.state.Pins = append(s.state.Pins[:idx], s.state.Pins[idx+1:]...)
	if err := s.writeStateLocked(); err != nil {
		return err
	}
	log.FromCtx(ctx).Info().Int64("id", id).Msg("pin removed")
	return nil
}

// SetPairPinned marks a pair in the recent window so compaction keeps it.
func (s *Store) SetPairPinned(ctx context.Context, id int64, pinned bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.recent {
		if s.recent[i].ID != id {
			continue
		}
		if s.recent[i].Pinned == pinned {
			return nil
		}
		s.recent[i].Pinned = pinned
		if err := s.writeRecentLocked(); err != nil {
			return err
		}
		log.FromCtx(ctx).Info().Int64("id", id).Bool("pinned", pinned).Msg("pair pin toggled")
		return nil
	}
	return fmt.Errorf("pair #%d: %w", id, ErrNotFound)
}

func (s *Store) Pins() []core.PinnedItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.PinnedItem(nil), s.state.Pins...)
}
