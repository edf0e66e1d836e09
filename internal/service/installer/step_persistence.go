package installer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"github.com/sandevgo/tuskbridge/configs"
	"github.com/sandevgo/tuskbridge/internal/config"
	"github.com/sandevgo/tuskbridge/internal/providers/mcp"
)

// SaveEnvStep writes the collected configuration to .env file
type SaveEnvStep struct {
	err   error
	saved bool
}

func NewSaveEnvStep() Step {
	return &SaveEnvStep{}
}

func (s *SaveEnvStep) Init() tea.Cmd {
	return func() tea.Msg { return nextMsg{} }
}

func (s *SaveEnvStep) Update(msg tea.Msg, state *InstallState, width, height int) (Step, tea.Cmd) {
	if s.saved {
		return nil, nil
	}
	if s.err != nil {
		return s, nil
	}

	if err := saveEnv(config.GetRuntimePath(), state.EnvVars); err != nil {
		s.err = err
		return s, nil
	}

	s.saved = true
	return nil, nil // Signal completion
}

func saveEnv(runtimePath string, vars map[string]string) error {
	if err := os.MkdirAll(runtimePath, 0755); err != nil {
		return fmt.Errorf("failed to create runtime directory: %w", err)
	}

	envPath := filepath.Join(runtimePath, ".env")
	if _, err := os.Stat(envPath); err == nil {
		return fmt.Errorf(".env file already exists at %s", envPath)
	}

	if err := godotenv.Write(vars, envPath); err != nil {
		return fmt.Errorf("failed to write .env: %w", err)
	}
	return os.Chmod(envPath, 0600)
}

func (s *SaveEnvStep) View(state *InstallState) string {
	if s.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v", s.err)) + "\n\n(press ctrl+c to quit)\n"
	}
	if s.saved {
		return "Configuration saved successfully!\n"
	}
	return "Saving configuration...\n"
}

// InitializeFilesStep writes the default preamble and registers the
// bridge toolbox in the backend MCP config.
type InitializeFilesStep struct {
	err  error
	done bool
}

func NewInitializeFilesStep() Step {
	return &InitializeFilesStep{}
}

func (s *InitializeFilesStep) Init() tea.Cmd {
	return nil
}

func (s *InitializeFilesStep) Update(msg tea.Msg, state *InstallState, width, height int) (Step, tea.Cmd) {
	if s.done {
		return nil, nil
	}
	if s.err != nil {
		return s, nil
	}

	exe, err := os.Executable()
	if err != nil {
		s.err = fmt.Errorf("failed to resolve executable: %w", err)
		return s, nil
	}
	if err := initializeFiles(context.Background(), config.GetRuntimePath(), exe); err != nil {
		s.err = err
		return s, nil
	}

	s.done = true
	return nil, nil
}

func initializeFiles(ctx context.Context, runtimePath, exe string) error {
	cfg := config.AppConfig{RuntimePath: runtimePath}
	for _, dir := range []string{runtimePath, cfg.GetInboxPath(), cfg.GetOutboxPath()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	// an edited SYSTEM.md is never overwritten
	systemPath := cfg.GetSystemPath()
	if _, err := os.Stat(systemPath); errors.Is(err, os.ErrNotExist) {
		if err := os.WriteFile(systemPath, []byte(configs.Preamble), 0644); err != nil {
			return fmt.Errorf("failed to write %s: %w", systemPath, err)
		}
	}

	if _, err := mcp.NewFileStorage(cfg.GetMCPConfigPath()).EnsureBridge(ctx, exe, runtimePath); err != nil {
		return fmt.Errorf("failed to register toolbox: %w", err)
	}
	return nil
}

func (s *InitializeFilesStep) View(state *InstallState) string {
	if s.err != nil {
		return errorStyle.Render(fmt.Sprintf("Error: %v", s.err)) + "\n\n(press ctrl+c to quit)\n"
	}
	if s.done {
		return "Runtime files initialized successfully!\n"
	}
	return "Initializing runtime files...\n"
}
