package core

import "context"

// CommandResult is the reply to a control command plus side effects the
// orchestrator applies.
type CommandResult struct {
	Text        string
	KillBackend bool
	Compact     bool
	Restart     bool
}

type Command interface {
	Name() string
	Description() string
	Execute(ctx context.Context, args []string) (CommandResult, error)
}

// SerialCommand marks commands that must run between turns instead of
// bypassing the queue.
type SerialCommand interface {
	Command
	Serial() bool
}

type CmdRouter interface {
	Parse(input string) (Command, []string, bool)
	Execute(ctx context.Context, input string) (CommandResult, bool)
	ListCommands() []Command
}
