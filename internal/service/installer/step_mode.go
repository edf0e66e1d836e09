package installer

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/sandevgo/tuskbridge/internal/config"
)

// ModeStep picks the default mode. Items show the model each mode maps
// to for the selected backend.
type ModeStep struct {
	list  list.Model
	ready bool
}

func NewModeStep() Step {
	l := list.New([]list.Item{}, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Select default mode"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.Styles.Title = titleStyle

	return &ModeStep{list: l}
}

func (s *ModeStep) Init() tea.Cmd {
	return func() tea.Msg { return nextMsg{} }
}

func modeItems(backendName string) []list.Item {
	cfg, err := config.LoadBackendConfig()
	if err != nil {
		cfg = &config.BackendConfig{}
	}
	desc := func(mode string) string {
		if m := cfg.ModelFor(backendName, mode); m != "" {
			return fmt.Sprintf("model: %s", m)
		}
		return ""
	}
	return []list.Item{
		item{id: config.ModeDefault, title: "default", desc: desc(config.ModeDefault)},
		item{id: config.ModeFast, title: "fast", desc: desc(config.ModeFast)},
		item{id: config.ModeDeep, title: "deep", desc: desc(config.ModeDeep)},
	}
}

func (s *ModeStep) Update(msg tea.Msg, state *InstallState, width, height int) (Step, tea.Cmd) {
	if !s.ready {
		s.list.SetItems(modeItems(state.get(keyBackend)))
		s.ready = true
	}
	if width > 0 {
		s.list.SetSize(width, height-4)
	}

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "enter" {
		if i, ok := s.list.SelectedItem().(item); ok {
			state.EnvVars[keyMode] = i.id
			return nil, nil
		}
	}

	var cmd tea.Cmd
	s.list, cmd = s.list.Update(msg)
	return s, cmd
}

func (s *ModeStep) View(state *InstallState) string {
	if !s.ready {
		return "Loading...\n"
	}
	return s.list.View()
}
