package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/sandevgo/tuskbridge/internal/core"
)

type CompactCommand struct{}

func NewCompactCommand() *CompactCommand { return &CompactCommand{} }

func (c *CompactCommand) Name() string        { return "compact" }
func (c *CompactCommand) Description() string { return "Summarize old messages now" }
func (c *CompactCommand) Serial() bool        { return true }

func (c *CompactCommand) Execute(ctx context.Context, args []string) (core.CommandResult, error) {
	return core.CommandResult{Text: "🗜️ Compacting context...", Compact: true}, nil
}

type CancelCommand struct{}

func NewCancelCommand() *CancelCommand { return &CancelCommand{} }

func (c *CancelCommand) Name() string        { return "cancel" }
func (c *CancelCommand) Description() string { return "Stop the running backend" }

func (c *CancelCommand) Execute(ctx context.Context, args []string) (core.CommandResult, error) {
	return core.CommandResult{Text: "🛑 Cancelling the current request.", KillBackend: true}, nil
}

// ResetCommand clears the window, summary and pins. The archive stays.
type ResetCommand struct {
	name  string
	store Store
}

func NewResetCommand(name string, store Store) *ResetCommand {
	return &ResetCommand{name: name, store: store}
}

func (c *ResetCommand) Name() string        { return c.name }
func (c *ResetCommand) Description() string { return "Start a fresh conversation (archive is kept)" }
func (c *ResetCommand) Serial() bool        { return true }

func (c *ResetCommand) Execute(ctx context.Context, args []string) (core.CommandResult, error) {
	if err := c.store.Reset(ctx); err != nil {
		return core.CommandResult{}, fmt.Errorf("reset context: %w", err)
	}
	return core.CommandResult{Text: "🧹 Context cleared. The archive is kept.", KillBackend: true}, nil
}

type RestartCommand struct{}

func NewRestartCommand() *RestartCommand { return &RestartCommand{} }

func (c *RestartCommand) Name() string        { return "restart" }
func (c *RestartCommand) Description() string { return "Restart the bridge" }

func (c *RestartCommand) Execute(ctx context.Context, args []string) (core.CommandResult, error) {
	return core.CommandResult{Text: "🔄 Restarting...", KillBackend: true, Restart: true}, nil
}

type HelpCommand struct {
	list      func() []core.Command
	formatter *ResponseFormatter
}

func NewHelpCommand(list func() []core.Command) *HelpCommand {
	return &HelpCommand{list: list, formatter: NewResponseFormatter()}
}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "List commands" }

func (c *HelpCommand) Execute(ctx context.Context, args []string) (core.CommandResult, error) {
	var lines []string
	for _, cmd := range c.list() {
		lines = append(lines, fmt.Sprintf("/%s: %s", cmd.Name(), cmd.Description()))
	}
	return core.CommandResult{Text: c.formatter.Combine(
		c.formatter.Info("Commands"),
		strings.Join(lines, "\n"),
	)}, nil
}
