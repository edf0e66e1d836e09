package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/sandevgo/tuskbridge/pkg/log"
)

const preambleDebounce = 500 * time.Millisecond

// PreambleWatcher keeps the store preamble in sync with a file on disk,
// falling back to the built-in text when the file is missing or empty.
type PreambleWatcher struct {
	path     string
	fallback string
	apply    func(string)
}

func NewPreambleWatcher(path, fallback string, apply func(string)) *PreambleWatcher {
	return &PreambleWatcher{path: path, fallback: fallback, apply: apply}
}

// Reload reads the file now and applies the result.
func (w *PreambleWatcher) Reload(ctx context.Context) {
	data, err := os.ReadFile(w.path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		w.apply(w.fallback)
		return
	case err != nil:
		log.FromCtx(ctx).Warn().Err(err).Str("path", w.path).Msg("failed to read preamble, keeping previous")
		return
	}

	text := strings.TrimSpace(string(data))
	if text == "" {
		text = w.fallback
	}
	w.apply(text)
	log.FromCtx(ctx).Debug().Str("path", w.path).Int("bytes", len(text)).Msg("preamble loaded")
}

// Start watches the directory rather than the file so editors that
// replace the file on save are handled. It blocks until ctx is done.
func (w *PreambleWatcher) Start(ctx context.Context) error {
	logger := log.FromCtx(ctx)
	w.Reload(ctx)

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}

	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return fmt.Errorf("watching directory %s: %w", dir, err)
	}
	logger.Info().Str("path", w.path).Msg("watching preamble")

	var timer <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != filepath.Base(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			timer = time.After(preambleDebounce)
		case <-timer:
			timer = nil
			w.Reload(ctx)
			logger.Info().Msg("preamble reloaded")
		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			logger.Warn().Err(err).Msg("preamble watcher error")
		}
	}
}

func (w *PreambleWatcher) Shutdown(_ context.Context) error {
	return nil
}
