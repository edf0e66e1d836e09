package backend

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/sandevgo/tuskbridge/internal/config"
	"github.com/sandevgo/tuskbridge/pkg/clock"
	"github.com/sandevgo/tuskbridge/pkg/log"
)

type State int

const (
	StateIdle State = iota
	StateSpawning
	StateRunning
	StateRetryPending
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateSpawning:
		return "spawning"
	case StateRunning:
		return "running"
	case StateRetryPending:
		return "retry-pending"
	}
	return "unknown"
}

const (
	APIErrorExhaustedText  = "⚠️ The backend API kept failing (internal server error). Please try again later."
	KilledUnexpectedlyText = "⚠️ Backend process was killed unexpectedly."
)

func RateLimitExhaustedText(retries int) string {
	return fmt.Sprintf("⚠️ Rate limited: gave up after %d retries. Please try again later.", retries)
}

type Callbacks struct {
	OnChunk     func(text string)
	OnActivity  func(line string)
	OnRateLimit func(retrySeconds, attempt int)
	OnAPIError  func(retrySeconds, attempt, maxAttempts int)
	OnExit      func()
}

type Options struct {
	Profile             Profile
	Binary              string
	WorkDir             string
	Model               string
	SkipPermissions     bool
	MCPConfigPath       string
	RateLimitDelay      time.Duration
	MaxRateLimitRetries int
	APIErrorDelays      []time.Duration
	ProbeInterval       time.Duration
	StdinGrace          time.Duration
	TermGrace           time.Duration
	Spawner             Spawner
	Clock               clock.Clock
}

// OptionsFromConfig resolves the backend profile and model for the
// configured mode.
func OptionsFromConfig(cfg *config.BackendConfig, mcpConfigPath string) (Options, error) {
	profile, err := LookupProfile(cfg.Name)
	if err != nil {
		return Options{}, err
	}
	return Options{
		Profile:             profile,
		Binary:              cfg.Binary,
		WorkDir:             cfg.WorkDir,
		Model:               cfg.ModelFor(profile.Name, cfg.Mode),
		SkipPermissions:     cfg.SkipPermissions,
		MCPConfigPath:       mcpConfigPath,
		RateLimitDelay:      cfg.RateLimitDelay,
		MaxRateLimitRetries: cfg.MaxRateLimitRetries,
		APIErrorDelays:      cfg.APIErrorDelays,
		ProbeInterval:       cfg.ProbeInterval,
		StdinGrace:          cfg.StdinGrace,
		TermGrace:           cfg.TermGrace,
	}, nil
}

func (o *Options) applyDefaults() {
	if o.RateLimitDelay <= 0 {
		o.RateLimitDelay = 30 * time.Second
	}
	if o.MaxRateLimitRetries <= 0 {
		o.MaxRateLimitRetries = 5
	}
	if len(o.APIErrorDelays) == 0 {
		o.APIErrorDelays = []time.Duration{30 * time.Second, 60 * time.Second}
	}
	if o.ProbeInterval <= 0 {
		o.ProbeInterval = 20 * time.Second
	}
	if o.StdinGrace <= 0 {
		o.StdinGrace = 5 * time.Second
	}
	if o.TermGrace <= 0 {
		o.TermGrace = 3 * time.Second
	}
	if o.Spawner == nil {
		o.Spawner = ExecSpawner
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
}

type Status struct {
	Alive            bool
	Busy             bool
	State            State
	SpawnedAt        time.Time
	LastActivityAt   time.Time
	Backend          string
	Model            string
	PID              int
	RateLimitRetries int
	APIErrorRetries  int
}

type request struct {
	prompt           string
	systemPromptFile string
}

// invocation is one spawned worker. It is discarded once resolved.
type invocation struct {
	proc         Process
	parser       Parser
	spawnedAt    time.Time
	lastActivity time.Time

	text        strings.Builder
	pending     strings.Builder
	result      string
	rateLimited bool
	isError     bool
	killing     bool
	resolved    bool
	exitFired   bool
	done        chan struct{}
}

// appendText must run before the delta is added to pending.
func (in *invocation) appendText(s string, delta bool) {
	if in.text.Len() > 0 && (!delta || in.pending.Len() == 0) {
		in.text.WriteString("\n\n")
	}
	in.text.WriteString(s)
}

func (in *invocation) finalText() string {
	if strings.TrimSpace(in.result) != "" {
		return in.result
	}
	return in.text.String()
}

type finishReason int

const (
	finishResult finishReason = iota
	finishExit
	finishKilled
	finishLost
)

// Supervisor runs at most one backend worker at a time and turns its
// event stream into a single response per prompt.
type Supervisor struct {
	mu      sync.Mutex
	opts    Options
	profile Profile
	model   string
	cb      Callbacks

	state State
	inv   *invocation
	proc  Process
	last  *request

	rateLimitRetries int
	apiErrorRetries  int
	retryTimer       *clock.Timer
	retryGen         uint64

	waiters   []chan string
	unclaimed *string
}

func NewSupervisor(opts Options) *Supervisor {
	opts.applyDefaults()
	return &Supervisor{
		opts:    opts,
		profile: opts.Profile,
		model:   opts.Model,
	}
}

func (s *Supervisor) SetCallbacks(cb Callbacks) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cb = cb
}

// SetModel applies to the next spawn.
func (s *Supervisor) SetModel(model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = model
}

// SetProfile switches the backend CLI for the next spawn.
func (s *Supervisor) SetProfile(p Profile, model string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.profile = p
	s.model = model
}

func (s *Supervisor) Backend() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile.Name
}

func (s *Supervisor) Model() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.model
}

func (s *Supervisor) IsAlive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.proc != nil && !isDone(s.proc)
}

func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:            s.state,
		Backend:          s.profile.Name,
		Model:            s.model,
		Busy:             s.inv != nil || s.state == StateRetryPending,
		RateLimitRetries: s.rateLimitRetries,
		APIErrorRetries:  s.apiErrorRetries,
	}
	if s.proc != nil && !isDone(s.proc) {
		st.Alive = true
		st.PID = s.proc.PID()
	}
	if s.inv != nil {
		st.SpawnedAt = s.inv.spawnedAt
		st.LastActivityAt = s.inv.lastActivity
	}
	return st
}

// Send spawns a worker for prompt and returns without waiting. Any worker
// still alive from an earlier prompt is terminated first.
func (s *Supervisor) Send(ctx context.Context, prompt, systemPromptFile string) {
	ctx = context.WithoutCancel(ctx)

	s.mu.Lock()
	s.cancelRetryLocked()
	if s.state == StateRetryPending {
		s.state = StateIdle
	}
	stale := s.proc != nil && !isDone(s.proc)
	s.mu.Unlock()

	if stale {
		log.FromCtx(ctx).Warn().Msg("terminating stale backend process before spawn")
		s.Kill(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.unclaimed = nil
	s.last = &request{prompt: prompt, systemPromptFile: systemPromptFile}
	s.resetRetriesLocked()
	s.spawnLocked(ctx, s.last)
}

// WaitForResponse returns a channel that receives the response of the
// current prompt exactly once. Waiters are resolved in FIFO order.
func (s *Supervisor) WaitForResponse() <-chan string {
	ch := make(chan string, 1)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unclaimed != nil {
		ch <- *s.unclaimed
		s.unclaimed = nil
		return ch
	}
	if s.inv == nil && s.state != StateRetryPending {
		ch <- ""
		return ch
	}
	s.waiters = append(s.waiters, ch)
	return ch
}

// Kill stops whatever the backend is doing: stdin is closed, then
// SIGTERM, then SIGKILL. Pending waiters receive the partial text.
func (s *Supervisor) Kill(ctx context.Context) {
	s.mu.Lock()
	if s.state == StateRetryPending {
		s.cancelRetryLocked()
		s.state = StateIdle
		s.resetRetriesLocked()
		s.resolveLocked("")
		log.FromCtx(ctx).Info().Msg("pending backend retry cancelled")
	}

	in := s.inv
	proc := s.proc
	if proc == nil || isDone(proc) {
		s.mu.Unlock()
		return
	}
	if in != nil {
		if in.killing {
			s.mu.Unlock()
			select {
			case <-proc.Done():
			case <-ctx.Done():
			}
			return
		}
		in.killing = true
	}
	s.mu.Unlock()

	s.terminate(ctx, proc)
	if in != nil {
		s.finish(ctx, in, finishKilled)
	}
}

func (s *Supervisor) terminate(ctx context.Context, proc Process) {
	logger := log.FromCtx(ctx)

	if isDone(proc) {
		return
	}
	_ = proc.CloseStdin()
	select {
	case <-proc.Done():
		return
	case <-s.opts.Clock.After(s.opts.StdinGrace):
	}

	logger.Warn().Int("pid", proc.PID()).Msg("backend ignored stdin close, sending SIGTERM")
	_ = proc.Signal(syscall.SIGTERM)
	select {
	case <-proc.Done():
		return
	case <-s.opts.Clock.After(s.opts.TermGrace):
	}

	logger.Warn().Int("pid", proc.PID()).Msg("backend ignored SIGTERM, killing")
	_ = proc.Kill()
	select {
	case <-proc.Done():
	case <-ctx.Done():
	}
}

func (s *Supervisor) spawnLocked(ctx context.Context, req *request) {
	logger := log.FromCtx(ctx)
	s.state = StateSpawning

	inv := Invocation{
		Prompt:          req.prompt,
		Model:           s.model,
		SkipPermissions: s.opts.SkipPermissions,
		SystemPrompt:    readSystemPrompt(ctx, req.systemPromptFile),
	}
	if s.opts.MCPConfigPath != "" {
		if _, err := os.Stat(s.opts.MCPConfigPath); err == nil {
			inv.MCPConfigPath = s.opts.MCPConfigPath
		}
	}

	binary := s.profile.Binary
	if s.opts.Binary != "" {
		binary = s.opts.Binary
	}
	cmd := Command{Path: binary, Args: s.profile.BuildArgs(inv), Dir: s.opts.WorkDir}

	proc, err := s.opts.Spawner(ctx, cmd)
	if err != nil {
		logger.Error().Err(err).Str("backend", s.profile.Name).Msg("failed to spawn backend")
		s.state = StateIdle
		s.resetRetriesLocked()
		s.resolveLocked(fmt.Sprintf("⚠️ Failed to start %s backend: %v", s.profile.Name, err))
		return
	}

	now := s.opts.Clock.Now()
	in := &invocation{
		proc:         proc,
		parser:       s.profile.NewParser(),
		spawnedAt:    now,
		lastActivity: now,
		done:         make(chan struct{}),
	}
	s.inv = in
	s.proc = proc
	s.state = StateRunning

	logger.Info().
		Str("backend", s.profile.Name).
		Str("model", s.model).
		Int("pid", proc.PID()).
		Int("prompt_len", len(req.prompt)).
		Msg("backend spawned")

	go s.readLoop(ctx, in)
	go s.probe(ctx, in)
}

func readSystemPrompt(ctx context.Context, path string) string {
	if path == "" {
		return ""
	}
	data, err := os.ReadFile(path)
	if err != nil {
		log.FromCtx(ctx).Warn().Err(err).Str("path", path).Msg("system prompt unreadable, spawning without it")
		return ""
	}
	return string(data)
}

func (s *Supervisor) readLoop(ctx context.Context, in *invocation) {
	logger := log.FromCtx(ctx)

	scanner := bufio.NewScanner(in.proc.Stdout())
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := in.parser.Parse(line)
		if err != nil {
			logger.Debug().Err(err).Str("line", truncate(string(line), 200)).Msg("skipping unparseable backend line")
			continue
		}
		s.handleEvent(ctx, in, ev)
	}
	if err := scanner.Err(); err != nil {
		logger.Warn().Err(err).Msg("backend stdout read failed")
	}
	if c, ok := in.proc.Stdout().(io.Closer); ok {
		_ = c.Close()
	}
	s.flushPending(in)

	<-in.proc.Done()
	s.finish(ctx, in, finishExit)
	s.fireExit(in)
}

type emission struct {
	tool bool
	text string
}

func (s *Supervisor) handleEvent(ctx context.Context, in *invocation, ev Event) {
	s.mu.Lock()
	if s.inv != in || in.resolved {
		s.mu.Unlock()
		return
	}
	in.lastActivity = s.opts.Clock.Now()

	var out []emission
	flushPending := func() {
		if in.pending.Len() > 0 {
			out = append(out, emission{text: in.pending.String()})
			in.pending.Reset()
		}
	}

	if ev.Error != "" {
		log.FromCtx(ctx).Warn().Str("error", ev.Error).Str("kind", string(ev.Kind)).Msg("backend reported error")
		if isRateLimitSignal(ev.Error) {
			in.rateLimited = true
		}
	}

	if ev.IsError {
		in.isError = true
	}

	terminal := false
	switch ev.Kind {
	case EventAssistant, EventToolUse:
		for _, b := range ev.Blocks {
			switch b.Type {
			case BlockText:
				in.appendText(b.Text, ev.Delta)
				if ev.Delta {
					in.pending.WriteString(b.Text)
				} else {
					flushPending()
					out = append(out, emission{text: b.Text})
				}
			case BlockToolUse:
				flushPending()
				if line := FormatToolDisplay(b.Tool); line != "" {
					out = append(out, emission{tool: true, text: line})
				}
			}
		}
	case EventResult:
		flushPending()
		in.result = ev.Result
		terminal = true
	case EventInit:
		log.FromCtx(ctx).Debug().Str("session", ev.SessionID).Str("model", ev.Model).Msg("backend initialized")
	}
	cb := s.cb
	s.mu.Unlock()

	for _, e := range out {
		if e.tool {
			if cb.OnActivity != nil {
				cb.OnActivity(e.text)
			}
		} else if cb.OnChunk != nil {
			cb.OnChunk(e.text)
		}
	}

	if terminal {
		s.finish(ctx, in, finishResult)
	}
}

// finish is the only transition out of Running. It decides between
// resolving waiters and scheduling a retry.
func (s *Supervisor) finish(ctx context.Context, in *invocation, reason finishReason) {
	logger := log.FromCtx(ctx)

	s.mu.Lock()
	if s.inv != in || in.resolved {
		s.mu.Unlock()
		return
	}
	in.resolved = true
	close(in.done)
	s.inv = nil

	text := in.finalText()
	blank := strings.TrimSpace(text) == ""
	apiErr := isAPIError(text, in.isError)
	cb := s.cb
	var notify func()

	switch {
	case in.killing:
		s.state = StateIdle
		s.resetRetriesLocked()
		s.resolveLocked(text)

	case reason == finishLost:
		s.state = StateIdle
		s.resetRetriesLocked()
		if blank {
			text = KilledUnexpectedlyText
		}
		s.resolveLocked(text)

	case blank && in.rateLimited && s.last != nil && s.rateLimitRetries < s.opts.MaxRateLimitRetries:
		s.rateLimitRetries++
		attempt, delay := s.rateLimitRetries, s.opts.RateLimitDelay
		s.scheduleRetryLocked(ctx, delay)
		logger.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("backend rate limited, retry scheduled")
		if cb.OnRateLimit != nil {
			notify = func() { cb.OnRateLimit(int(delay.Seconds()), attempt) }
		}

	case blank && in.rateLimited:
		logger.Error().Int("retries", s.rateLimitRetries).Msg("backend rate limit retries exhausted")
		s.state = StateIdle
		retries := s.opts.MaxRateLimitRetries
		s.resetRetriesLocked()
		s.resolveLocked(RateLimitExhaustedText(retries))

	case apiErr && s.last != nil && s.apiErrorRetries < len(s.opts.APIErrorDelays):
		delay := s.opts.APIErrorDelays[s.apiErrorRetries]
		s.apiErrorRetries++
		attempt, maxAttempts := s.apiErrorRetries, len(s.opts.APIErrorDelays)
		s.scheduleRetryLocked(ctx, delay)
		logger.Warn().Int("attempt", attempt).Dur("delay", delay).Msg("backend API error, retry scheduled")
		if cb.OnAPIError != nil {
			notify = func() { cb.OnAPIError(int(delay.Seconds()), attempt, maxAttempts) }
		}

	case apiErr:
		logger.Error().Str("response", truncate(text, 200)).Msg("backend API error retries exhausted")
		s.state = StateIdle
		s.resetRetriesLocked()
		s.resolveLocked(APIErrorExhaustedText)

	default:
		if blank && reason == finishExit {
			if err := in.proc.ExitErr(); err != nil {
				logger.Error().Err(err).Str("stderr", in.proc.StderrTail()).Msg("backend exited without a response")
			}
		}
		s.state = StateIdle
		s.resetRetriesLocked()
		s.resolveLocked(text)
	}
	s.mu.Unlock()

	if notify != nil {
		notify()
	}
}

// flushPending forwards streamed deltas that were never followed by a
// non-delta event.
func (s *Supervisor) flushPending(in *invocation) {
	s.mu.Lock()
	if s.inv != in || in.resolved || in.pending.Len() == 0 {
		s.mu.Unlock()
		return
	}
	chunk := in.pending.String()
	in.pending.Reset()
	cb := s.cb
	s.mu.Unlock()

	if cb.OnChunk != nil {
		cb.OnChunk(chunk)
	}
}

func (s *Supervisor) fireExit(in *invocation) {
	s.mu.Lock()
	if in.exitFired {
		s.mu.Unlock()
		return
	}
	in.exitFired = true
	cb := s.cb
	s.mu.Unlock()

	if cb.OnExit != nil {
		cb.OnExit()
	}
}

// probe catches workers that died without their output closing, which
// would otherwise leave waiters hanging. Death must be seen on two
// consecutive ticks so a normal exit has time to resolve first.
func (s *Supervisor) probe(ctx context.Context, in *invocation) {
	ticker := s.opts.Clock.NewTicker(s.opts.ProbeInterval)
	defer ticker.Stop()

	deadSeen := false
	for {
		select {
		case <-in.done:
			return
		case <-ticker.C:
			if !isDone(in.proc) {
				deadSeen = false
				continue
			}
			if !deadSeen {
				deadSeen = true
				continue
			}
			log.FromCtx(ctx).Warn().Int("pid", in.proc.PID()).Msg("backend process died unexpectedly")
			s.finish(ctx, in, finishLost)
			s.fireExit(in)
			return
		}
	}
}

func (s *Supervisor) scheduleRetryLocked(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		delay = time.Millisecond
	}
	s.state = StateRetryPending
	s.retryGen++
	gen := s.retryGen
	req := s.last

	s.retryTimer = s.opts.Clock.AfterFunc(delay, func() {
		go s.retry(ctx, gen, req)
	})
}

func (s *Supervisor) retry(ctx context.Context, gen uint64, req *request) {
	s.mu.Lock()
	if s.state != StateRetryPending || s.retryGen != gen {
		s.mu.Unlock()
		return
	}
	s.retryTimer = nil
	stale := s.proc
	s.mu.Unlock()

	if stale != nil && !isDone(stale) {
		s.terminate(ctx, stale)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateRetryPending || s.retryGen != gen {
		return
	}
	log.FromCtx(ctx).Info().Int("rate_limit_retries", s.rateLimitRetries).Int("api_error_retries", s.apiErrorRetries).Msg("retrying backend prompt")
	s.spawnLocked(ctx, req)
}

func (s *Supervisor) cancelRetryLocked() {
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.retryGen++
}

func (s *Supervisor) resetRetriesLocked() {
	s.rateLimitRetries = 0
	s.apiErrorRetries = 0
}

func (s *Supervisor) resolveLocked(text string) {
	if len(s.waiters) == 0 {
		s.unclaimed = &text
		return
	}
	for _, w := range s.waiters {
		w <- text
	}
	s.waiters = nil
}
