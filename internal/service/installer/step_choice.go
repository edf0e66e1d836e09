package installer

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/sandevgo/tuskbridge/internal/config"
	"github.com/sandevgo/tuskbridge/internal/providers/backend"
	"github.com/sandevgo/tuskbridge/internal/providers/llm"
)

// ChoiceStep is a single-select menu that stores the chosen value under
// envKey.
type ChoiceStep struct {
	title   string
	envKey  string
	choices []item
	cursor  int
	skip    func(state *InstallState) bool
}

func (s *ChoiceStep) Init() tea.Cmd {
	return nil
}

func (s *ChoiceStep) Update(msg tea.Msg, state *InstallState, width, height int) (Step, tea.Cmd) {
	if s.skip != nil && s.skip(state) {
		return nil, nil
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "up", "k":
			if s.cursor > 0 {
				s.cursor--
			}
		case "down", "j":
			if s.cursor < len(s.choices)-1 {
				s.cursor++
			}
		case "enter":
			state.EnvVars[s.envKey] = s.choices[s.cursor].id
			return nil, nil
		}
	}
	return s, nil
}

func (s *ChoiceStep) View(state *InstallState) string {
	var b strings.Builder
	b.WriteString(s.title + "\n\n")
	for i, choice := range s.choices {
		line := choice.title
		if choice.desc != "" {
			line += " " + descStyle.Render(choice.desc)
		}
		if s.cursor == i {
			b.WriteString(selStyle.Render(fmt.Sprintf("❯ %s", line)) + "\n")
		} else {
			b.WriteString(itemStyle.Render(fmt.Sprintf("  %s", line)) + "\n")
		}
	}
	b.WriteString("\n(press ctrl+c to quit)\n")
	return b.String()
}

func NewBackendStep() Step {
	choices := make([]item, 0, len(backend.ProfileNames()))
	for _, name := range backend.ProfileNames() {
		choices = append(choices, item{id: name, title: name, desc: "(" + name + " CLI)"})
	}
	return &ChoiceStep{title: "Select the backend CLI:", envKey: keyBackend, choices: choices}
}

func NewChannelStep() Step {
	return &ChoiceStep{
		title:  "Select your Chat Channel:",
		envKey: keyChannel,
		choices: []item{
			{id: config.ChannelTelegram, title: "Telegram"},
			{id: config.ChannelCLI, title: "CLI", desc: "(local terminal)"},
		},
	}
}

func NewSummarizerStep() Step {
	return &ChoiceStep{
		title:  "Select the summarizer used for context compaction:",
		envKey: keySummarizer,
		choices: []item{
			{id: config.SummarizerBackend, title: "Backend CLI", desc: "(fast model, no API key)"},
			{id: llm.ProviderAnthropic, title: "Anthropic"},
			{id: llm.ProviderOpenAI, title: "OpenAI"},
			{id: llm.ProviderOpenRouter, title: "OpenRouter"},
			{id: llm.ProviderOllama, title: "Ollama"},
			{id: llm.ProviderCustom, title: "Custom OpenAI-compatible"},
		},
	}
}
