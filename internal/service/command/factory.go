package command

import (
	"context"
	"time"

	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/internal/providers/backend"
	"github.com/sandevgo/tuskbridge/internal/service/memory"
	"github.com/sandevgo/tuskbridge/pkg/clock"
)

type Store interface {
	Stats() memory.Stats
	Summary() string
	Pins() []core.PinnedItem
	Recent() []core.MessagePair
	BuildPrompt() string
	AddPin(ctx context.Context, text string) (core.PinnedItem, error)
	RemovePin(ctx context.Context, id int64) error
	SetPairPinned(ctx context.Context, id int64, pinned bool) error
	Reset(ctx context.Context) error
}

type Backend interface {
	Status() backend.Status
}

type Queue interface {
	Busy() (bool, time.Duration)
	Len() int
}

type State interface {
	Mode() string
	Backend() string
	Model() string
	ChangeMode(ctx context.Context, mode string) (string, error)
	ChangeBackend(ctx context.Context, name string) (string, error)
}

type Deps struct {
	Store   Store
	Backend Backend
	Queue   Queue
	State   State
	Clock   clock.Clock
}

// NewRouter builds the full command set.
func NewRouter(d Deps) *Router {
	if d.Clock == nil {
		d.Clock = clock.Real()
	}

	r := New(nil)
	for _, cmd := range []core.Command{
		NewStatusCommand(d),
		NewContextCommand(d.Store),
		NewModeCommand(d.State),
		NewBackendCommand(d.State),
		NewPinCommand(d.Store),
		NewUnpinCommand(d.Store),
		NewPinsCommand(d.Store),
		NewCompactCommand(),
		NewCancelCommand(),
		NewResetCommand("reset", d.Store),
		NewResetCommand("forget", d.Store),
		NewRestartCommand(),
		NewHelpCommand(r.ListCommands),
	} {
		r.commands[cmd.Name()] = cmd
	}
	return r
}
