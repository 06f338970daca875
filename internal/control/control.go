// Package control attaches to tmux in control mode (-C) and turns its
// line-oriented notification stream into typed events.
//
// Control mode is the event-driven alternative to polling: tmux pushes
// a "%"-prefixed line for every window change and every burst of pane
// output. The stream is best-effort — if the attached process dies or
// emits garbage, the caller must fall back to polling, so this package
// reports a terminal error exactly once and never panics on bad input.
package control

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"sync"
)

// ErrStreamTerminated wraps the exit of the control-mode process. Its
// presence on Done means event delivery has stopped for good and the
// caller must revert to polling.
type ErrStreamTerminated struct {
	Err error
}

func (e *ErrStreamTerminated) Error() string {
	if e.Err == nil {
		return "tmux control stream terminated"
	}
	return fmt.Sprintf("tmux control stream terminated: %v", e.Err)
}

func (e *ErrStreamTerminated) Unwrap() error { return e.Err }

// Attacher produces the control-mode subprocess. Satisfied by
// (*tmux.Client).Command.
type Attacher interface {
	Command(ctx context.Context, args ...string) *exec.Cmd
}

// Manager owns one control-mode attachment to a session.
type Manager struct {
	attacher Attacher
	session  string
	logger   *slog.Logger

	events chan Event
	done   chan error

	mu     sync.Mutex
	cmd    *exec.Cmd
	closed bool
}

// New creates a Manager for the named session.
func New(attacher Attacher, session string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		attacher: attacher,
		session:  session,
		logger:   logger,
		events:   make(chan Event, 256),
		done:     make(chan error, 1),
	}
}

// Events is the stream of decoded notifications. Closed when the
// attachment ends.
func (m *Manager) Events() <-chan Event { return m.events }

// Done receives the terminal error once the stream has ended: an
// *ErrStreamTerminated for abnormal exits, nil for a clean Stop.
func (m *Manager) Done() <-chan error { return m.done }

// Start spawns tmux attached in control mode and begins decoding its
// output. Fails immediately when the process cannot be started.
func (m *Manager) Start(ctx context.Context) error {
	cmd := m.attacher.Command(ctx, "-C", "attach-session", "-t", "="+m.session)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("control mode stdout pipe: %w", err)
	}
	// Control mode reads commands on stdin; keep it open but unused so
	// tmux does not see EOF and detach immediately.
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("control mode stdin pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("spawn tmux control mode: %w", err)
	}

	m.mu.Lock()
	m.cmd = cmd
	m.mu.Unlock()

	go m.readLoop(stdout, stdin, cmd)
	return nil
}

// readLoop decodes the stream line by line. bufio buffers incomplete
// trailing lines across read chunks, so a notification split over two
// reads is reassembled before parsing.
func (m *Manager) readLoop(stdout io.Reader, stdin io.WriteCloser, cmd *exec.Cmd) {
	reader := bufio.NewReader(stdout)
	var readErr error
	for {
		line, err := reader.ReadString('\n')
		if line != "" {
			if ev, ok := ParseLine(line); ok {
				m.events <- ev
			} else if len(line) > 0 && line[0] == '%' {
				// Unrecognized notification: logged and discarded,
				// never fatal.
				m.logger.Debug("unrecognized control line", "line", line)
			}
		}
		if err != nil {
			if err != io.EOF {
				readErr = err
			}
			break
		}
	}
	_ = stdin.Close()
	waitErr := cmd.Wait()

	close(m.events)

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		// Deliberate Stop: not a failure.
		m.done <- nil
		return
	}
	err := waitErr
	if err == nil {
		err = readErr
	}
	m.done <- &ErrStreamTerminated{Err: err}
}

// Stop kills the control-mode process. Idempotent; the subsequent Done
// delivery is nil rather than a stream error.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	if m.cmd != nil && m.cmd.Process != nil {
		_ = m.cmd.Process.Kill()
	}
}
