package installer

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sandevgo/tuskbridge/internal/providers/backend"
)

type detectMsg struct {
	path    string
	version string
	err     error
}

// DetectBackendStep checks that the chosen backend CLI is on PATH. A
// missing binary is a warning, the operator may install it later.
type DetectBackendStep struct {
	started bool
	result  *detectMsg
	lookup  func(string) (string, error)
}

func NewDetectBackendStep() Step {
	return &DetectBackendStep{lookup: exec.LookPath}
}

func (s *DetectBackendStep) Init() tea.Cmd {
	return func() tea.Msg { return nextMsg{} }
}

func (s *DetectBackendStep) detect(name string) tea.Cmd {
	return func() tea.Msg {
		profile, err := backend.LookupProfile(name)
		if err != nil {
			return detectMsg{err: err}
		}
		path, err := s.lookup(profile.Binary)
		if err != nil {
			return detectMsg{err: fmt.Errorf("%s not found on PATH", profile.Binary)}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		out, _ := exec.CommandContext(ctx, path, "--version").Output()
		return detectMsg{path: path, version: strings.TrimSpace(string(out))}
	}
}

func (s *DetectBackendStep) Update(msg tea.Msg, state *InstallState, width, height int) (Step, tea.Cmd) {
	if !s.started {
		s.started = true
		return s, s.detect(state.get(keyBackend))
	}

	switch msg := msg.(type) {
	case detectMsg:
		s.result = &msg
		return s, nil
	case tea.KeyMsg:
		if s.result != nil && msg.String() == "enter" {
			return nil, nil
		}
	}
	return s, nil
}

func (s *DetectBackendStep) View(state *InstallState) string {
	if s.result == nil {
		return "Looking for the backend CLI...\n"
	}
	if s.result.err != nil {
		return errorStyle.Render(fmt.Sprintf("Warning: %v", s.result.err)) +
			"\n\nInstall it before running 'tuskbridge start'.\n\n(press enter to continue)\n"
	}
	version := s.result.version
	if version == "" {
		version = "unknown version"
	}
	return fmt.Sprintf("Found %s (%s)\n\n(press enter to continue)\n", s.result.path, version)
}
