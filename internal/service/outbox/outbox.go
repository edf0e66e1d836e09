// Package outbox passes side effects from the toolbox server, which runs
// as a child of the backend, back to the bridge process. Each effect is
// one JSON envelope file.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sandevgo/tuskbridge/pkg/log"
)

type Kind string

const (
	KindImage Kind = "image"
	KindPin   Kind = "pin"
)

// MaxImageSize matches the Telegram photo upload limit.
const MaxImageSize = 10 << 20

var (
	ErrInvalid  = errors.New("invalid envelope")
	ErrTooLarge = errors.New("image exceeds 10MB")
)

type Envelope struct {
	Kind      Kind   `json:"kind"`
	Path      string `json:"path,omitempty"`
	Caption   string `json:"caption,omitempty"`
	Text      string `json:"text,omitempty"`
	CreatedAt int64  `json:"createdAt"`

	// Data is the image payload, filled in by Drain.
	Data []byte `json:"-"`
}

type Outbox struct {
	dir string
}

func New(dir string) *Outbox {
	return &Outbox{dir: dir}
}

func (o *Outbox) Dir() string { return o.dir }

// Put validates env and writes it. Image files are copied next to the
// envelope so the backend may delete its original right away.
func (o *Outbox) Put(env Envelope) (string, error) {
	switch env.Kind {
	case KindImage:
		if env.Path == "" {
			return "", fmt.Errorf("%w: image without path", ErrInvalid)
		}
	case KindPin:
		env.Text = strings.TrimSpace(env.Text)
		if env.Text == "" {
			return "", fmt.Errorf("%w: empty pin", ErrInvalid)
		}
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalid, env.Kind)
	}

	if err := os.MkdirAll(o.dir, 0o755); err != nil {
		return "", fmt.Errorf("create outbox: %w", err)
	}

	now := time.Now()
	name := fmt.Sprintf("%020d-%s", now.UnixNano(), uuid.NewString())
	env.CreatedAt = now.UnixMilli()

	if env.Kind == KindImage {
		dst := filepath.Join(o.dir, name+strings.ToLower(filepath.Ext(env.Path)))
		if err := copyImage(env.Path, dst); err != nil {
			return "", err
		}
		env.Path = dst
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("encode envelope: %w", err)
	}

	// rename so Drain never sees a half-written envelope
	final := filepath.Join(o.dir, name+".json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("write envelope: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return "", fmt.Errorf("commit envelope: %w", err)
	}
	return final, nil
}

func copyImage(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open image: %w", err)
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("stat image: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("%w: %s is a directory", ErrInvalid, src)
	}
	if info.Size() > MaxImageSize {
		return ErrTooLarge
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create image copy: %w", err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		_ = os.Remove(dst)
		return fmt.Errorf("copy image: %w", err)
	}
	return out.Close()
}

// Drain returns pending envelopes in creation order and removes them
// from disk. Unreadable envelopes are logged and discarded.
func (o *Outbox) Drain(ctx context.Context) ([]Envelope, error) {
	logger := log.FromCtx(ctx)

	entries, err := os.ReadDir(o.dir)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list outbox: %w", err)
	}

	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".json") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	out := make([]Envelope, 0, len(names))
	for _, name := range names {
		path := filepath.Join(o.dir, name)
		env, err := readEnvelope(path)
		_ = os.Remove(path)
		if err != nil {
			logger.Warn().Err(err).Str("file", name).Msg("discarding outbox envelope")
			continue
		}
		out = append(out, env)
	}
	return out, nil
}

func readEnvelope(path string) (Envelope, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Envelope{}, err
	}

	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if env.Kind == KindImage {
		img, err := os.ReadFile(env.Path)
		if err != nil {
			return Envelope{}, fmt.Errorf("read image: %w", err)
		}
		_ = os.Remove(env.Path)
		env.Data = img
	}
	return env, nil
}
