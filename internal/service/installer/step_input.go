package installer

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/sandevgo/tuskbridge/internal/config"
	"github.com/sandevgo/tuskbridge/internal/providers/llm"
)

// InputStep collects one free-text value.
type InputStep struct {
	input    textinput.Model
	title    string
	envKey   string
	optional bool
	// fallback is stored when the input is left empty.
	fallback string
	validate func(string) error
	skip     func(state *InstallState) bool
	err      error
}

func newInputStep(title, envKey, placeholder string, secret bool) *InputStep {
	ti := textinput.New()
	ti.Focus()
	ti.CharLimit = 255
	ti.Width = 50
	ti.Placeholder = placeholder
	if secret {
		ti.EchoMode = textinput.EchoPassword
		ti.EchoCharacter = '•'
	}
	return &InputStep{input: ti, title: title, envKey: envKey}
}

func (s *InputStep) Init() tea.Cmd {
	return textinput.Blink
}

func (s *InputStep) Update(msg tea.Msg, state *InstallState, width, height int) (Step, tea.Cmd) {
	if s.skip != nil && s.skip(state) {
		return nil, nil
	}

	var cmd tea.Cmd
	s.input, cmd = s.input.Update(msg)

	if key, ok := msg.(tea.KeyMsg); ok && key.String() == "enter" {
		val := strings.TrimSpace(s.input.Value())
		if val == "" {
			val = s.fallback
		}
		if val == "" && !s.optional {
			s.err = fmt.Errorf("a value is required")
			return s, cmd
		}
		if s.validate != nil && val != "" {
			if err := s.validate(val); err != nil {
				s.err = err
				return s, cmd
			}
		}
		if val != "" {
			state.EnvVars[s.envKey] = val
		}
		return nil, nil
	}
	return s, cmd
}

func (s *InputStep) View(state *InstallState) string {
	hint := ""
	if s.optional {
		hint = " (optional - press Enter to skip)"
	}
	out := fmt.Sprintf("Enter your %s%s:\n\n%s\n\n", s.title, hint, s.input.View())
	if s.err != nil {
		out += errorStyle.Render(s.err.Error()) + "\n\n"
	}
	return out + "(press enter to confirm)\n"
}

func notTelegram(state *InstallState) bool {
	return state.get(keyChannel) != config.ChannelTelegram
}

func NewTelegramTokenStep() Step {
	s := newInputStep("Telegram Bot Token", keyTelegramToken, "123456789:ABCDEF...", true)
	s.skip = notTelegram
	return s
}

func NewTelegramOwnerStep() Step {
	s := newInputStep("Telegram User ID (Owner)", keyTelegramOwner, "123456789", false)
	s.skip = notTelegram
	s.validate = func(v string) error {
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			return fmt.Errorf("owner id must be numeric")
		}
		return nil
	}
	return s
}

// apiKeyEnv maps summarizer providers to the env key of their API key.
var apiKeyEnv = map[string]string{
	llm.ProviderAnthropic:  "TUSK_ANTHROPIC_API_KEY",
	llm.ProviderOpenAI:     "TUSK_OPENAI_API_KEY",
	llm.ProviderOpenRouter: "TUSK_OPENROUTER_API_KEY",
	llm.ProviderOllama:     "TUSK_OLLAMA_API_KEY",
	llm.ProviderCustom:     "TUSK_CUSTOM_OPENAI_API_KEY",
}

// NewAPIKeyStep resolves its target key from the summarizer chosen
// earlier, so it is built lazily on first update.
func NewAPIKeyStep() Step {
	return &apiKeyStep{}
}

type apiKeyStep struct {
	inner *InputStep
}

func (s *apiKeyStep) Init() tea.Cmd {
	return func() tea.Msg { return nextMsg{} }
}

func (s *apiKeyStep) Update(msg tea.Msg, state *InstallState, width, height int) (Step, tea.Cmd) {
	if s.inner == nil {
		provider := state.get(keySummarizer)
		envKey, ok := apiKeyEnv[provider]
		if !ok {
			return nil, nil
		}
		s.inner = newInputStep(provider+" API Key", envKey, "sk-...", true)
		s.inner.optional = provider == llm.ProviderOllama || provider == llm.ProviderCustom
		return s, textinput.Blink
	}

	next, cmd := s.inner.Update(msg, state, width, height)
	if next == nil {
		return nil, cmd
	}
	return s, cmd
}

func (s *apiKeyStep) View(state *InstallState) string {
	if s.inner == nil {
		return "Loading...\n"
	}
	return s.inner.View(state)
}

func NewCustomURLStep() Step {
	s := newInputStep("Custom OpenAI Base URL", "TUSK_CUSTOM_OPENAI_BASE_URL", "https://api.example.com/v1", false)
	s.skip = func(state *InstallState) bool { return state.get(keySummarizer) != llm.ProviderCustom }
	return s
}

func NewOllamaURLStep() Step {
	s := newInputStep("Ollama Base URL", "TUSK_OLLAMA_BASE_URL", "http://127.0.0.1:11434", false)
	s.fallback = "http://127.0.0.1:11434"
	s.skip = func(state *InstallState) bool { return state.get(keySummarizer) != llm.ProviderOllama }
	return s
}

func NewSummarizerModelStep() Step {
	s := newInputStep("summarizer model", "TUSK_SUMMARIZER_MODEL", "provider default", false)
	s.optional = true
	s.skip = func(state *InstallState) bool {
		p := state.get(keySummarizer)
		return p == "" || p == config.SummarizerBackend
	}
	return s
}
