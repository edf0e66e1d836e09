package memory

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sandevgo/tuskbridge/internal/config"
	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/pkg/clock"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

const (
	stateFile   = "state.json"
	recentFile  = "recent.jsonl"
	summaryFile = "summary.md"
	promptFile  = "prompt.md"
	archiveDir  = "archive"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrCompacting = errors.New("compaction already running")
	ErrEmptyPin   = errors.New("pin text is empty")
)

// Store owns the conversation window, pins, rolling summary and
// archive of one channel.
type Store struct {
	mu         sync.Mutex
	dir        string
	cfg        config.ContextConfig
	summarizer Summarizer
	clock      clock.Clock

	preamble   string
	state      core.ContextState
	recent     []core.MessagePair
	summary    string
	compacting bool
}

type Option func(*Store)

func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

func WithPreamble(p string) Option {
	return func(s *Store) { s.preamble = p }
}

func NewStore(dir string, cfg config.ContextConfig, summarizer Summarizer, opts ...Option) *Store {
	s := &Store{
		dir:        dir,
		cfg:        cfg,
		summarizer: summarizer,
		clock:      clock.Real(),
		state:      core.ContextState{NextID: 1},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load reads persisted state, migrates a legacy archive and sweeps
// expired archive days. Missing files mean a fresh store.
func (s *Store) Load(ctx context.Context) error {
	logger := log.FromCtx(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Join(s.dir, archiveDir), 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}

	state := core.ContextState{NextID: 1}
	data, err := os.ReadFile(s.path(stateFile))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return fmt.Errorf("read state: %w", err)
	default:
		if err := json.Unmarshal(data, &state); err != nil {
			return fmt.Errorf("decode state: %w", err)
		}
	}

	recent, err := readPairs(ctx, s.path(recentFile))
	if err != nil {
		return fmt.Errorf("read recent window: %w", err)
	}
	sortPairs(recent)

	summary, err := os.ReadFile(s.path(summaryFile))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("read summary: %w", err)
	}

	// ids must stay unique even if state.json lagged behind a crash
	maxID := int64(0)
	for _, p := range recent {
		maxID = max(maxID, p.ID)
	}
	for _, p := range state.Pins {
		maxID = max(maxID, p.ID)
	}
	if state.NextID <= maxID {
		logger.Warn().Int64("next_id", state.NextID).Int64("max_id", maxID).Msg("repairing context id counter")
		state.NextID = maxID + 1
	}

	s.state = state
	s.recent = recent
	s.summary = string(summary)

	if err := s.migrateLegacyArchive(ctx); err != nil {
		logger.Error().Err(err).Msg("legacy archive migration failed")
	}
	if n, err := s.sweepArchive(ctx); err != nil {
		logger.Error().Err(err).Msg("archive retention sweep failed")
	} else if n > 0 {
		logger.Info().Int("deleted", n).Msg("expired archive files removed")
	}

	logger.Info().
		Int("window", len(s.recent)).
		Int("pins", len(s.state.Pins)).
		Int64("total_pairs", s.state.TotalPairs).
		Bool("summary", s.summary != "").
		Msg("context store loaded")
	return nil
}

// Append records a finished exchange.
func (s *Store) Append(ctx context.Context, userText, assistantText string) (core.MessagePair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pair := core.MessagePair{
		ID:            s.state.NextID,
		UserText:      userText,
		AssistantText: assistantText,
		Timestamp:     s.clock.Now().UnixMilli(),
	}
	s.state.NextID++
	s.state.TotalPairs++
	s.recent = append(s.recent, pair)

	if err := s.appendArchive(pair); err != nil {
		log.FromCtx(ctx).Error().Err(err).Int64("id", pair.ID).Msg("failed to archive pair")
	}
	if err := s.persistLocked(); err != nil {
		return pair, err
	}
	return pair, nil
}

// Reset clears window, summary, pins and counters. The archive stays.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.recent = nil
	s.summary = ""
	s.state = core.ContextState{NextID: 1}

	if err := os.Remove(s.path(summaryFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove summary: %w", err)
	}
	if err := s.persistLocked(); err != nil {
		return err
	}
	log.FromCtx(ctx).Info().Msg("context reset")
	return nil
}

func (s *Store) Recent() []core.MessagePair {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]core.MessagePair(nil), s.recent...)
}

func (s *Store) Summary() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary
}

func (s *Store) State() core.ContextState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	st.Pins = append([]core.PinnedItem(nil), s.state.Pins...)
	return st
}

type Stats struct {
	WindowLen   int
	PinnedPairs int
	Pins        int
	TotalPairs  int64
	NextID      int64
	SummaryLen  int
	WindowSize  int
	CompactAt   int
	Compacting  bool
}

func (s *Store) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	pinned := 0
	for _, p := range s.recent {
		if p.Pinned {
			pinned++
		}
	}
	return Stats{
		WindowLen:   len(s.recent),
		PinnedPairs: pinned,
		Pins:        len(s.state.Pins),
		TotalPairs:  s.state.TotalPairs,
		NextID:      s.state.NextID,
		SummaryLen:  len(s.summary),
		WindowSize:  s.cfg.WindowSize,
		CompactAt:   s.cfg.CompactAt,
		Compacting:  s.compacting,
	}
}

func (s *Store) path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) persistLocked() error {
	if err := s.writeRecentLocked(); err != nil {
		return err
	}
	return s.writeStateLocked()
}

func (s *Store) writeStateLocked() error {
	st := s.state
	if st.Pins == nil {
		st.Pins = []core.PinnedItem{}
	}
	data, err := json.MarshalIndent(st, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := writeFileAtomic(s.path(stateFile), data); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

func (s *Store) writeRecentLocked() error {
	data, err := encodePairs(s.recent)
	if err != nil {
		return err
	}
	if err := writeFileAtomic(s.path(recentFile), data); err != nil {
		return fmt.Errorf("write recent window: %w", err)
	}
	return nil
}

func (s *Store) writeSummary(summary string) error {
	if err := writeFileAtomic(s.path(summaryFile), []byte(summary)); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

func encodePairs(pairs []core.MessagePair) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	for _, p := range pairs {
		if err := enc.Encode(p); err != nil {
			return nil, fmt.Errorf("encode pair %d: %w", p.ID, err)
		}
	}
	return buf.Bytes(), nil
}

// readPairs skips malformed lines. A missing file is an empty list.
func readPairs(ctx context.Context, path string) ([]core.MessagePair, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var pairs []core.MessagePair
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		var p core.MessagePair
		if err := json.Unmarshal(b, &p); err != nil {
			log.FromCtx(ctx).Warn().Err(err).Str("file", filepath.Base(path)).Int("line", line).Msg("skipping malformed pair")
			continue
		}
		pairs = append(pairs, p)
	}
	return pairs, scanner.Err()
}

func sortPairs(pairs []core.MessagePair) {
	sort.SliceStable(pairs, func(i, j int) bool { return pairs[i].ID < pairs[j].ID })
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	name := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(name)
		return err
	}
	return os.Rename(name, path)
}
