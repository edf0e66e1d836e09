package command

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/internal/service/memory"
)

type PinCommand struct {
	store     Store
	formatter *ResponseFormatter
}

func NewPinCommand(store Store) *PinCommand {
	return &PinCommand{store: store, formatter: NewResponseFormatter()}
}

func (c *PinCommand) Name() string        { return "pin" }
func (c *PinCommand) Description() string { return "Pin a note, or pin a message pair with #id" }

func (c *PinCommand) Execute(ctx context.Context, args []string) (core.CommandResult, error) {
	if len(args) == 0 {
		return core.CommandResult{}, usageError("/pin <text> or /pin #<id>")
	}

	if len(args) == 1 && strings.HasPrefix(args[0], "#") {
		id, err := parseID(args[0])
		if err != nil {
			return core.CommandResult{}, err
		}
		if err := c.store.SetPairPinned(ctx, id, true); err != nil {
			return core.CommandResult{}, err
		}
		return core.CommandResult{Text: c.formatter.Success(fmt.Sprintf("Message #%d pinned.", id))}, nil
	}

	pin, err := c.store.AddPin(ctx, strings.Join(args, " "))
	if err != nil {
		return core.CommandResult{}, err
	}
	return core.CommandResult{Text: c.formatter.Success(fmt.Sprintf("Pinned as #%d.", pin.ID))}, nil
}

type UnpinCommand struct {
	store     Store
	formatter *ResponseFormatter
}

func NewUnpinCommand(store Store) *UnpinCommand {
	return &UnpinCommand{store: store, formatter: NewResponseFormatter()}
}

func (c *UnpinCommand) Name() string        { return "unpin" }
func (c *UnpinCommand) Description() string { return "Remove a pinned note or unpin a message pair" }

func (c *UnpinCommand) Execute(ctx context.Context, args []string) (core.CommandResult, error) {
	if len(args) != 1 {
		return core.CommandResult{}, usageError("/unpin <id>")
	}
	id, err := parseID(args[0])
	if err != nil {
		return core.CommandResult{}, err
	}

	// ids are shared, so a miss on pins means it may be a pair
	err = c.store.RemovePin(ctx, id)
	if errors.Is(err, memory.ErrNotFound) {
		err = c.store.SetPairPinned(ctx, id, false)
	}
	if err != nil {
		return core.CommandResult{}, err
	}
	return core.CommandResult{Text: c.formatter.Success(fmt.Sprintf("#%d unpinned.", id))}, nil
}

type PinsCommand struct {
	store     Store
	formatter *ResponseFormatter
}

func NewPinsCommand(store Store) *PinsCommand {
	return &PinsCommand{store: store, formatter: NewResponseFormatter()}
}

func (c *PinsCommand) Name() string        { return "pins" }
func (c *PinsCommand) Description() string { return "List pinned notes and messages" }

func (c *PinsCommand) Execute(ctx context.Context, args []string) (core.CommandResult, error) {
	var notes []string
	for _, p := range c.store.Pins() {
		notes = append(notes, fmt.Sprintf("#%d %s", p.ID, p.Text))
	}
	var pairs []string
	for _, p := range c.store.Recent() {
		if p.Pinned {
			pairs = append(pairs, fmt.Sprintf("#%d %s", p.ID, preview(p.UserText, 80)))
		}
	}

	if len(notes) == 0 && len(pairs) == 0 {
		return core.CommandResult{Text: c.formatter.Combine(
			c.formatter.Info("Pins"),
			"Nothing pinned.",
			c.formatter.Tip("/pin <text> keeps a note in every prompt"),
		)}, nil
	}

	sections := []string{c.formatter.Info("Pins")}
	if len(notes) > 0 {
		sections = append(sections, c.formatter.Section("📌", "Notes", c.formatter.List(notes)))
	}
	if len(pairs) > 0 {
		sections = append(sections, c.formatter.Section("💬", "Messages", c.formatter.List(pairs)))
	}
	return core.CommandResult{Text: c.formatter.Combine(sections...)}, nil
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
