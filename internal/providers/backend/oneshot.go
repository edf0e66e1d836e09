package backend

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sandevgo/tuskbridge/internal/core"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

var ErrEmptyResponse = errors.New("backend returned an empty response")

// OneShot runs a single backend CLI invocation per Chat call, outside
// of any Supervisor. It backs summarization when no HTTP provider is
// configured.
type OneShot struct {
	Profile Profile
	Binary  string
	WorkDir string
	Model   string
	Spawner Spawner
}

func (o *OneShot) Chat(ctx context.Context, history []core.Message) (core.Message, error) {
	logger := log.FromCtx(ctx)

	var system, prompt []string
	for _, m := range history {
		switch m.Role {
		case core.RoleSystem:
			system = append(system, m.Content)
		default:
			prompt = append(prompt, m.Content)
		}
	}

	inv := Invocation{
		Prompt:       strings.Join(prompt, "\n\n"),
		SystemPrompt: strings.Join(system, "\n\n"),
		Model:        o.Model,
	}
	binary := o.Profile.Binary
	if o.Binary != "" {
		binary = o.Binary
	}
	spawn := o.Spawner
	if spawn == nil {
		spawn = ExecSpawner
	}

	proc, err := spawn(ctx, Command{Path: binary, Args: o.Profile.BuildArgs(inv), Dir: o.WorkDir})
	if err != nil {
		return core.Message{}, err
	}
	_ = proc.CloseStdin()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			_ = proc.Kill()
		case <-stop:
		}
	}()

	parser := o.Profile.NewParser()
	var text strings.Builder
	var result string
	var failure string

	scanner := bufio.NewScanner(proc.Stdout())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := parser.Parse(line)
		if err != nil {
			logger.Debug().Err(err).Msg("oneshot: skipping unparseable line")
			continue
		}
		if ev.Error != "" {
			failure = ev.Error
		}
		switch ev.Kind {
		case EventAssistant:
			text.WriteString(ev.Text())
		case EventResult:
			result = ev.Result
			if ev.IsError && failure == "" {
				failure = ev.Result
			}
		}
	}
	<-proc.Done()

	if err := ctx.Err(); err != nil {
		return core.Message{}, err
	}

	out := result
	if strings.TrimSpace(out) == "" {
		out = text.String()
	}
	switch {
	case failure != "":
		return core.Message{}, fmt.Errorf("%s backend: %s", o.Profile.Name, failure)
	case isAPIError(out, false):
		return core.Message{}, fmt.Errorf("%s backend: %s", o.Profile.Name, truncate(out, 200))
	case strings.TrimSpace(out) == "":
		if err := proc.ExitErr(); err != nil {
			return core.Message{}, fmt.Errorf("%s backend exited: %w: %s", o.Profile.Name, err, proc.StderrTail())
		}
		return core.Message{}, ErrEmptyResponse
	}

	return core.Message{Role: core.RoleAssistant, Content: strings.TrimSpace(out)}, nil
}
