package backend

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/sandevgo/tuskbridge/pkg/log"
)

// Command is a fully resolved process invocation.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

func (c Command) String() string {
	return c.Path + " " + strings.Join(c.Args, " ")
}

// Process is a running backend worker.
type Process interface {
	Stdout() io.Reader
	CloseStdin() error
	Signal(sig os.Signal) error
	Kill() error
	Done() <-chan struct{}
	ExitErr() error
	PID() int
	StderrTail() string
}

// Spawner starts a worker. Tests swap it for an in-memory fake.
type Spawner func(ctx context.Context, cmd Command) (Process, error)

const stderrTailLines = 20

type execProcess struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *os.File
	done   chan struct{}

	mu      sync.Mutex
	exitErr error
	stderr  []string
}

// ExecSpawner runs the command as an OS process. stdout and stderr are
// plain pipes so Wait never races with the readers.
func ExecSpawner(ctx context.Context, c Command) (Process, error) {
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}

	outR, outW, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	errR, errW, err := os.Pipe()
	if err != nil {
		_ = outR.Close()
		_ = outW.Close()
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}
	cmd.Stdout = outW
	cmd.Stderr = errW

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{outR, outW, errR, errW} {
			_ = f.Close()
		}
		return nil, fmt.Errorf("start %s: %w", c.Path, err)
	}
	// the child holds its own copies
	_ = outW.Close()
	_ = errW.Close()

	p := &execProcess{
		cmd:    cmd,
		stdin:  stdin,
		stdout: outR,
		done:   make(chan struct{}),
	}

	logger := log.FromCtx(ctx)
	logger.Debug().Int("pid", cmd.Process.Pid).Str("binary", c.Path).Msg("backend process started")

	go p.readStderr(ctx, errR)
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exitErr = err
		p.mu.Unlock()
		close(p.done)
	}()

	return p, nil
}

func (p *execProcess) readStderr(ctx context.Context, r *os.File) {
	defer r.Close()
	logger := log.FromCtx(ctx)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		logger.Debug().Str("stderr", line).Msg("backend")

		p.mu.Lock()
		p.stderr = append(p.stderr, line)
		if len(p.stderr) > stderrTailLines {
			p.stderr = p.stderr[len(p.stderr)-stderrTailLines:]
		}
		p.mu.Unlock()
	}
}

func (p *execProcess) Stdout() io.Reader { return p.stdout }

func (p *execProcess) CloseStdin() error { return p.stdin.Close() }

func (p *execProcess) Signal(sig os.Signal) error {
	if p.exited() {
		return nil
	}
	return p.cmd.Process.Signal(sig)
}

func (p *execProcess) Kill() error {
	if p.exited() {
		return nil
	}
	return p.cmd.Process.Kill()
}

func (p *execProcess) Done() <-chan struct{} { return p.done }

func (p *execProcess) ExitErr() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitErr
}

func (p *execProcess) PID() int { return p.cmd.Process.Pid }

func (p *execProcess) StderrTail() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.stderr, "\n")
}

func (p *execProcess) exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func isDone(p Process) bool {
	select {
	case <-p.Done():
		return true
	default:
		return false
	}
}
