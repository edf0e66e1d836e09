package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

const (
	archiveDayLayout = "2006-01-02"
	legacyArchive    = "archive.jsonl"
)

func (s *Store) archivePath(day time.Time) string {
	return filepath.Join(s.dir, archiveDir, day.Format(archiveDayLayout)+".jsonl")
}

func (s *Store) appendArchive(pairs ...core.MessagePair) error {
	byDay := make(map[string][]core.MessagePair)
	var order []string
	for _, p := range pairs {
		path := s.archivePath(time.UnixMilli(p.Timestamp).In(s.clock.Now().Location()))
		if _, ok := byDay[path]; !ok {
			order = append(order, path)
		}
		byDay[path] = append(byDay[path], p)
	}

	for _, path := range order {
		data, err := encodePairs(byDay[path])
		if err != nil {
			return err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("open archive: %w", err)
		}
		_, werr := f.Write(data)
		cerr := f.Close()
		if err := errors.Join(werr, cerr); err != nil {
			return fmt.Errorf("append archive: %w", err)
		}
	}
	return nil
}

// sweepArchive deletes day files older than the retention window, judged
// by the date in the filename.
func (s *Store) sweepArchive(ctx context.Context) (int, error) {
	if s.cfg.RetentionDays <= 0 {
		return 0, nil
	}

	dir := filepath.Join(s.dir, archiveDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("list archive: %w", err)
	}

	now := s.clock.Now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	deleted := 0
	var errs []error
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		day, err := time.ParseInLocation(archiveDayLayout, strings.TrimSuffix(name, ".jsonl"), now.Location())
		if err != nil {
			continue
		}
		if ageDays(today, day) <= s.cfg.RetentionDays {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			errs = append(errs, err)
			continue
		}
		log.FromCtx(ctx).Debug().Str("file", name).Msg("archive file expired")
		deleted++
	}
	return deleted, errors.Join(errs...)
}

// ageDays counts calendar days, so DST shifts do not matter.
func ageDays(today, day time.Time) int {
	return int(today.Sub(day).Round(24*time.Hour) / (24 * time.Hour))
}

// migrateLegacyArchive splits the old single-file archive into day files
// and renames it so the migration runs once.
func (s *Store) migrateLegacyArchive(ctx context.Context) error {
	legacy := s.path(legacyArchive)
	if _, err := os.Stat(legacy); errors.Is(err, os.ErrNotExist) {
		return nil
	}

	pairs, err := readPairs(ctx, legacy)
	if err != nil {
		return fmt.Errorf("read legacy archive: %w", err)
	}
	if err := s.appendArchive(pairs...); err != nil {
		return err
	}
	if err := os.Rename(legacy, legacy+".migrated"); err != nil {
		return fmt.Errorf("rename legacy archive: %w", err)
	}

	log.FromCtx(ctx).Info().Int("pairs", len(pairs)).Msg("legacy archive migrated")
	return nil
}

// ArchiveDays lists archive day files, oldest first.
func (s *Store) ArchiveDays() ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(s.dir, archiveDir))
	if err != nil {
		return nil, err
	}
	var days []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".jsonl") {
			days = append(days, strings.TrimSuffix(e.Name(), ".jsonl"))
		}
	}
	return days, nil
}
