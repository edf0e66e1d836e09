package command

import (
	"context"
	"fmt"
	"strings"

	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/internal/providers/backend"
)

type ModeCommand struct {
	state     State
	formatter *ResponseFormatter
}

func NewModeCommand(state State) *ModeCommand {
	return &ModeCommand{state: state, formatter: NewResponseFormatter()}
}

func (c *ModeCommand) Name() string        { return "mode" }
func (c *ModeCommand) Description() string { return "Show or switch mode: fast, default, deep" }

func (c *ModeCommand) Execute(ctx context.Context, args []string) (core.CommandResult, error) {
	if len(args) == 0 {
		return core.CommandResult{Text: c.formatter.Combine(
			c.formatter.Info("Current Mode"),
			c.formatter.Label("Mode", c.state.Mode()),
			c.formatter.Label("Model", c.state.Model()),
			c.formatter.Usage("/mode fast|default|deep"),
		)}, nil
	}

	model, err := c.state.ChangeMode(ctx, args[0])
	if err != nil {
		return core.CommandResult{}, err
	}
	return core.CommandResult{Text: c.formatter.Success(
		fmt.Sprintf("Mode set to **%s** (`%s`). Applies from the next message.", c.state.Mode(), model),
	)}, nil
}

type BackendCommand struct {
	state     State
	formatter *ResponseFormatter
}

func NewBackendCommand(state State) *BackendCommand {
	return &BackendCommand{state: state, formatter: NewResponseFormatter()}
}

func (c *BackendCommand) Name() string        { return "backend" }
func (c *BackendCommand) Description() string { return "Show or switch the backend CLI" }

func (c *BackendCommand) Execute(ctx context.Context, args []string) (core.CommandResult, error) {
	names := strings.Join(backend.ProfileNames(), "|")
	if len(args) == 0 {
		return core.CommandResult{Text: c.formatter.Combine(
			c.formatter.Info("Current Backend"),
			c.formatter.Label("Backend", c.state.Backend()),
			c.formatter.Label("Model", c.state.Model()),
			c.formatter.Usage("/backend "+names),
		)}, nil
	}

	model, err := c.state.ChangeBackend(ctx, args[0])
	if err != nil {
		return core.CommandResult{}, err
	}
	return core.CommandResult{Text: c.formatter.Success(
		fmt.Sprintf("Backend set to **%s** (`%s`). Applies from the next message.", c.state.Backend(), model),
	)}, nil
}
