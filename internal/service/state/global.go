// Package state holds the operator-selected mode and backend and pushes
// changes to the supervisor for its next spawn.
package state

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/joho/godotenv"

	"github.com/sandevgo/tuskbridge/internal/config"
	"github.com/sandevgo/tuskbridge/internal/providers/backend"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

type reconfigurer interface {
	SetProfile(p backend.Profile, model string)
}

type GlobalState struct {
	cfg     *config.BackendConfig
	sup     reconfigurer
	envPath string

	mu      sync.Mutex
	mode    string
	backend string
}

// NewGlobalState starts from cfg. When envPath is set, changes are
// written back to that .env file so they survive restarts.
func NewGlobalState(cfg *config.BackendConfig, sup reconfigurer, envPath string) *GlobalState {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if !config.IsValidMode(mode) {
		mode = config.ModeDefault
	}
	return &GlobalState{
		cfg:     cfg,
		sup:     sup,
		envPath: envPath,
		mode:    mode,
		backend: strings.ToLower(strings.TrimSpace(cfg.Name)),
	}
}

func (s *GlobalState) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

func (s *GlobalState) Backend() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.backend
}

func (s *GlobalState) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.ModelFor(s.backend, s.mode)
}

func (s *GlobalState) ChangeMode(ctx context.Context, mode string) (string, error) {
	mode = strings.ToLower(strings.TrimSpace(mode))
	if !config.IsValidMode(mode) {
		return "", fmt.Errorf("unknown mode %q (use %s, %s or %s)", mode, config.ModeFast, config.ModeDefault, config.ModeDeep)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ctx, s.backend, mode)
}

func (s *GlobalState) ChangeBackend(ctx context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyLocked(ctx, name, s.mode)
}

func (s *GlobalState) applyLocked(ctx context.Context, name, mode string) (string, error) {
	profile, err := backend.LookupProfile(name)
	if err != nil {
		return "", err
	}
	model := s.cfg.ModelFor(profile.Name, mode)

	s.sup.SetProfile(profile, model)
	s.backend, s.mode = profile.Name, mode

	log.FromCtx(ctx).Info().
		Str("backend", profile.Name).
		Str("mode", mode).
		Str("model", model).
		Msg("backend reconfigured")

	if err := s.persist(map[string]string{"TUSK_BACKEND": profile.Name, "TUSK_MODE": mode}); err != nil {
		log.FromCtx(ctx).Warn().Err(err).Str("path", s.envPath).Msg("failed to persist selection")
	}
	return model, nil
}

func (s *GlobalState) persist(values map[string]string) error {
	if s.envPath == "" {
		return nil
	}
	current, err := godotenv.Read(s.envPath)
	if errors.Is(err, os.ErrNotExist) {
		current = map[string]string{}
	} else if err != nil {
		return err
	}
	for k, v := range values {
		current[k] = v
	}
	return godotenv.Write(current, s.envPath)
}
