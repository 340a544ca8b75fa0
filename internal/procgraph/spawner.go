package procgraph

import (
	"context"
	"io"
	"os"
	"os/exec"
	"time"

	"github.com/google/uuid"

	"github.com/vk/psmgrid/internal/ctxlog"
)

type signal int

const (
	sigTerm signal = iota
	sigKill
)

const defaultKillGrace = 5 * time.Second

// Starter is anything that can launch a Command.
type Starter interface {
	Spawn(ctx context.Context, c Command) (*Handle, error)
}

// Spawner launches processes with shared defaults.
type Spawner struct {
	timeout time.Duration
	grace   time.Duration
}

// Option configures a Spawner.
type Option func(*Spawner)

// WithTimeout sets the default lifetime bound for commands without their own.
func WithTimeout(d time.Duration) Option { return func(s *Spawner) { s.timeout = d } }

// WithKillGrace sets how long a terminated process group gets between
// SIGTERM and SIGKILL.
func WithKillGrace(d time.Duration) Option { return func(s *Spawner) { s.grace = d } }

// New creates a Spawner.
func New(opts ...Option) *Spawner {
	s := &Spawner{grace: defaultKillGrace}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Spawn starts c and returns immediately. The process is terminated when ctx
// is cancelled or its timeout expires, whether or not anyone is waiting.
func (s *Spawner) Spawn(ctx context.Context, c Command) (*Handle, error) {
	logger := ctxlog.FromContext(ctx).With("process", c.Name)
	if err := ctx.Err(); err != nil {
		return nil, newSpawnError(c, err)
	}

	cmd := exec.Command(c.Program, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	cmd.WaitDelay = s.grace
	setProcessGroup(cmd)

	tail := newTailBuffer(stderrTail)
	if c.Stderr != nil {
		cmd.Stderr = io.MultiWriter(c.Stderr, tail)
	} else {
		cmd.Stderr = tail
	}

	var stdout *os.File
	if c.Stdout != "" {
		f, err := os.Create(c.Stdout)
		if err != nil {
			return nil, newSpawnError(c, err)
		}
		cmd.Stdout = f
		stdout = f
	}

	if err := cmd.Start(); err != nil {
		if stdout != nil {
			stdout.Close()
			os.Remove(c.Stdout)
		}
		serr := newSpawnError(c, err)
		logger.Error("Process failed to start.", "program", c.Program, "error", serr)
		return nil, serr
	}

	h := &Handle{
		ID:   uuid.NewString(),
		cmd:  c,
		proc: cmd,
		tail: tail,
		done: make(chan struct{}),
		stop: make(chan struct{}),
	}
	h.status.Started = time.Now()
	logger.Debug("Process started.", "pid", cmd.Process.Pid, "program", c.Program, "args", c.Args)

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = s.timeout
	}
	go h.monitor(ctx, timeout, s.grace, stdout)
	return h, nil
}
