package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/sandevgo/tuskbridge/pkg/log"
)

func (s *Store) SetPreamble(p string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preamble = p
}

func (s *Store) Preamble() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.preamble
}

// BuildPrompt renders preamble, pins, summary and the recent window, in
// that order.
func (s *Store) BuildPrompt() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sb strings.Builder
	if p := strings.TrimSpace(s.preamble); p != "" {
		sb.WriteString(p)
		sb.WriteString("\n\n")
	}

	if len(s.state.Pins) > 0 {
		sb.WriteString("## Pinned notes\n")
		for _, p := range s.state.Pins {
			fmt.Fprintf(&sb, "- [#%d] %s\n", p.ID, p.Text)
		}
		sb.WriteString("\n")
	}

	if sum := strings.TrimSpace(s.summary); sum != "" {
		sb.WriteString("## Summary of earlier conversation\n")
		sb.WriteString(sum)
		sb.WriteString("\n\n")
	}

	if len(s.recent) > 0 {
		sb.WriteString("## Recent conversation\n")
		for _, p := range s.recent {
			marker := ""
			if p.Pinned {
				marker = " [pinned]"
			}
			fmt.Fprintf(&sb, "[#%d]%s User: %s\n", p.ID, marker, p.UserText)
			fmt.Fprintf(&sb, "[#%d]%s Assistant: %s\n", p.ID, marker, p.AssistantText)
		}
	}

	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// WritePrompt stores BuildPrompt in the runtime dir and returns its path.
func (s *Store) WritePrompt(ctx context.Context) (string, error) {
	prompt := s.BuildPrompt()
	path := s.path(promptFile)
	if err := writeFileAtomic(path, []byte(prompt)); err != nil {
		return "", fmt.Errorf("write prompt: %w", err)
	}
	log.FromCtx(ctx).Debug().Int("bytes", len(prompt)).Msg("prompt written")
	return path, nil
}
