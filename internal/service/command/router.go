package command

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

type Router struct {
	commands map[string]core.Command
}

func New(commands []core.Command) *Router {
	c := &Router{
		commands: make(map[string]core.Command),
	}

	for _, cmd := range commands {
		c.commands[cmd.Name()] = cmd
	}
	return c
}

// Parse splits "/name args..." and looks the command up. ok is false for
// plain text and unknown commands.
func (c *Router) Parse(input string) (core.Command, []string, bool) {
	input = strings.TrimSpace(input)
	if !strings.HasPrefix(input, "/") {
		return nil, nil, false
	}

	parts := strings.Fields(input)
	name := strings.ToLower(strings.TrimPrefix(parts[0], "/"))
	// "/status@MyBot" in group chats
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}

	cmd, ok := c.commands[name]
	if !ok {
		return nil, nil, false
	}
	return cmd, parts[1:], true
}

// IsSerial reports whether input is a command that must wait for the
// running turn.
func (c *Router) IsSerial(input string) bool {
	cmd, _, ok := c.Parse(input)
	if !ok {
		return false
	}
	s, ok := cmd.(core.SerialCommand)
	return ok && s.Serial()
}

func (c *Router) Execute(ctx context.Context, input string) (core.CommandResult, bool) {
	cmd, args, ok := c.Parse(input)
	if !ok {
		return core.CommandResult{}, false
	}

	log.FromCtx(ctx).Info().Str("command", cmd.Name()).Strs("args", args).Msg("executing command")

	result, err := cmd.Execute(ctx, args)
	if err != nil {
		return core.CommandResult{Text: NewResponseFormatter().Error(cmd.Name(), err)}, true
	}
	return result, true
}

func (c *Router) ListCommands() []core.Command {
	res := make([]core.Command, 0, len(c.commands))
	for _, cmd := range c.commands {
		res = append(res, cmd)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name() < res[j].Name() })
	return res
}

func usageError(usage string) error {
	return fmt.Errorf("usage: %s", usage)
}
