// Package tmux drives a tmux server through its command-line interface.
//
// The package is pure transport: it creates sessions and windows, sends
// keystrokes, and reports the flags tmux itself maintains (activity,
// silence). It never interprets pane content and keeps no state of its
// own beyond per-window command serialization — the tmux server is the
// source of truth, callers reconcile against it.
package tmux

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
)

// Runner executes tmux subcommands. The production implementation shells
// out to the tmux binary; tests substitute a fake.
type Runner interface {
	// Run executes a tmux subcommand and returns its trimmed stdout.
	Run(ctx context.Context, args ...string) (string, error)

	// Command returns an unstarted *exec.Cmd for a tmux invocation.
	// Used for control-mode attachment where the caller owns the pipes.
	Command(ctx context.Context, args ...string) *exec.Cmd
}

// execRunner runs tmux via os/exec. When socketPath is set, every
// invocation targets that server socket (-S), never the user's default
// server.
type execRunner struct {
	binary     string
	socketPath string
}

func (r *execRunner) fullArgs(args []string) []string {
	if r.socketPath == "" {
		return args
	}
	return append([]string{"-S", r.socketPath}, args...)
}

func (r *execRunner) Run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.binary, r.fullArgs(args)...)
	out, err := cmd.Output()
	if err != nil {
		stderr := ""
		if exitErr, ok := err.(*exec.ExitError); ok {
			stderr = strings.TrimSpace(string(exitErr.Stderr))
		}
		return "", &CommandError{Args: args, Stderr: stderr, Err: err}
	}
	return strings.TrimRight(string(out), "\n"), nil
}

func (r *execRunner) Command(ctx context.Context, args ...string) *exec.Cmd {
	return exec.CommandContext(ctx, r.binary, r.fullArgs(args)...)
}

// Client is a handle to one tmux session. All window operations address
// windows inside that session by index.
//
// Mutating commands on the same window (create, kill, select, rename)
// are serialized with a per-window lock: tmux itself races when e.g. a
// select and a kill for the same target are in flight concurrently.
type Client struct {
	run        Runner
	session    string
	socketPath string
	logger     *slog.Logger

	mu       sync.Mutex
	winLocks map[int]*sync.Mutex
}

// Option configures a Client.
type Option func(*Client)

// WithRunner substitutes the command runner. Used by tests.
func WithRunner(r Runner) Option {
	return func(c *Client) { c.run = r }
}

// WithLogger sets the logger for non-fatal warnings.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithSocket targets a dedicated tmux server socket instead of the
// default server.
func WithSocket(path string) Option {
	return func(c *Client) { c.socketPath = path }
}

// NewClient returns a Client for the named session. Fails fast with
// ErrMultiplexerUnavailable when the tmux binary cannot be found, so the
// caller can select an alternate backend before anything else happens.
// With an injected Runner no binary lookup happens.
func NewClient(session string, opts ...Option) (*Client, error) {
	c := &Client{
		session:  session,
		logger:   slog.Default(),
		winLocks: make(map[int]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.run == nil {
		binary, err := exec.LookPath("tmux")
		if err != nil {
			return nil, ErrMultiplexerUnavailable
		}
		c.run = &execRunner{binary: binary, socketPath: c.socketPath}
	}
	return c, nil
}

// Session returns the session name this client addresses.
func (c *Client) Session() string {
	return c.session
}

// Command returns an unstarted tmux invocation sharing this client's
// server targeting. The control-mode manager uses it to attach with
// piped stdio.
func (c *Client) Command(ctx context.Context, args ...string) *exec.Cmd {
	return c.run.Command(ctx, args...)
}

// windowLock returns the serialization lock for a window index.
func (c *Client) windowLock(index int) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.winLocks[index]
	if !ok {
		l = &sync.Mutex{}
		c.winLocks[index] = l
	}
	return l
}

// releaseWindowLock drops the lock entry for an index whose window is
// gone. Indices are reused by tmux, so the entry must not outlive the
// window.
func (c *Client) releaseWindowLock(index int) {
	c.mu.Lock()
	delete(c.winLocks, index)
	c.mu.Unlock()
}
