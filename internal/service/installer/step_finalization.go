package installer

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/sandevgo/tuskbridge/internal/config"
)

// FinalizationStep fills defaults for anything the operator skipped.
type FinalizationStep struct{}

func NewFinalizationStep() Step {
	return &FinalizationStep{}
}

func (s *FinalizationStep) Init() tea.Cmd {
	return func() tea.Msg { return nextMsg{} }
}

func (s *FinalizationStep) Update(msg tea.Msg, state *InstallState, width, height int) (Step, tea.Cmd) {
	finalize(state)
	return nil, nil
}

func finalize(state *InstallState) {
	defaults := map[string]string{
		keyBackend:    "claude",
		keyMode:       config.ModeDefault,
		keyChannel:    config.ChannelTelegram,
		keySummarizer: config.SummarizerBackend,
		keyDebug:      "0",
	}
	for k, v := range defaults {
		if state.EnvVars[k] == "" {
			state.EnvVars[k] = v
		}
	}

	if state.EnvVars[keyChannel] != config.ChannelTelegram {
		delete(state.EnvVars, keyTelegramToken)
		delete(state.EnvVars, keyTelegramOwner)
	}
	for k, v := range state.EnvVars {
		if v == "" {
			delete(state.EnvVars, k)
		}
	}
}

func (s *FinalizationStep) View(state *InstallState) string {
	return "Finalizing configuration...\n"
}
