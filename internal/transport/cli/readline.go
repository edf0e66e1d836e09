// Package cli is a local terminal messenger, mostly for trying the bridge
// without a Telegram bot.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chzyer/readline"
	"github.com/google/uuid"

	"github.com/sandevgo/tuskbridge/internal/config"
	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/pkg/conv"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

// attachPrefix marks a line that sends a local file, e.g.
// "!attach ./notes.pdf summarize this".
const attachPrefix = "!attach "

type ReadLine struct {
	cfg *config.AppConfig
	rl  *readline.Instance
	out io.Writer

	mu sync.Mutex
}

func NewReadLine(cfg *config.AppConfig) (*ReadLine, error) {
	// Ensure runtime directory exists
	if err := os.MkdirAll(cfg.RuntimePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create runtime directory: %w", err)
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          ">>> ",
		HistoryFile:     filepath.Join(cfg.RuntimePath, "input_history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, err
	}

	return &ReadLine{cfg: cfg, rl: rl, out: rl.Stdout()}, nil
}

// Listen reads lines until exit, EOF, Ctrl+C on an empty line or ctx
// cancellation.
func (r *ReadLine) Listen(ctx context.Context, onMessage core.MessageHandler) error {
	logger := log.FromCtx(ctx)
	logger.Info().Msg("ReadLine chat started. Type 'exit' to quit.")

	stop := context.AfterFunc(ctx, func() { _ = r.rl.Close() })
	defer stop()

	for {
		line, err := r.rl.Readline()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) {
				if len(line) == 0 {
					return nil // Exit on Ctrl+C
				}
				continue
			} else if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		line = strings.TrimSpace(line)
		if line == "exit" {
			return nil
		}
		if line == "" {
			continue
		}

		msg, err := parseLine(line, time.Now())
		if err != nil {
			r.printf("Error: %v\n", err)
			continue
		}
		onMessage(ctx, msg)
	}
}

func parseLine(line string, now time.Time) (core.IncomingMessage, error) {
	msg := core.IncomingMessage{Text: line, ReceivedAt: now}
	if !strings.HasPrefix(line, attachPrefix) {
		return msg, nil
	}

	rest := strings.TrimSpace(strings.TrimPrefix(line, attachPrefix))
	path, text, _ := strings.Cut(rest, " ")
	if path == "" {
		return msg, fmt.Errorf("usage: %s<path> [text]", attachPrefix)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return msg, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return msg, err
	}

	msg.Text = strings.TrimSpace(text)
	msg.Attachments = []core.Attachment{{
		Ref:  abs,
		Name: filepath.Base(abs),
		MIME: mime.TypeByExtension(filepath.Ext(abs)),
		Size: info.Size(),
	}}
	return msg, nil
}

func (r *ReadLine) Send(_ context.Context, text string) error {
	plain := strings.TrimSpace(conv.MarkdownToPlainText([]byte(text)))
	if plain == "" {
		return nil
	}
	r.printf("%s\n", plain)
	return nil
}

// SendImage stores the image under the runtime directory and prints its
// path.
func (r *ReadLine) SendImage(_ context.Context, data []byte, caption string) error {
	dir := filepath.Join(r.cfg.GetRuntimePath(), "images")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create image dir: %w", err)
	}
	path := filepath.Join(dir, uuid.NewString()+imageExt(data))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write image: %w", err)
	}
	if caption != "" {
		r.printf("[Image] %s\n%s\n", path, caption)
	} else {
		r.printf("[Image] %s\n", path)
	}
	return nil
}

func (r *ReadLine) SetAvatar(context.Context, []byte) error {
	return core.ErrUnsupported
}

// GetFile reads the local file an attachment points at.
func (r *ReadLine) GetFile(_ context.Context, ref string) ([]byte, error) {
	return os.ReadFile(ref)
}

func (r *ReadLine) Typing(context.Context) error {
	r.printf("\033[38;5;240m[Thinking]\033[0m\n")
	return nil
}

func (r *ReadLine) Shutdown(ctx context.Context) error {
	if r.rl != nil {
		return r.rl.Close()
	}
	return nil
}

func (r *ReadLine) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func imageExt(data []byte) string {
	switch {
	case len(data) >= 8 && string(data[:8]) == "\x89PNG\r\n\x1a\n":
		return ".png"
	case len(data) >= 3 && string(data[:3]) == "\xff\xd8\xff":
		return ".jpg"
	case len(data) >= 6 && (string(data[:6]) == "GIF87a" || string(data[:6]) == "GIF89a"):
		return ".gif"
	case len(data) >= 12 && string(data[:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return ".webp"
	}
	return ".bin"
}
