package tmux

import (
	"errors"
	"fmt"
	"strings"
)

// ErrMultiplexerUnavailable means the tmux binary is not on PATH.
// Client construction fails with this error before any subprocess runs.
var ErrMultiplexerUnavailable = errors.New("tmux binary not found in PATH")

// ErrSessionNotFound means the target session does not exist on the
// server (or the server is not running at all).
var ErrSessionNotFound = errors.New("tmux session not found")

// ErrWindowNotFound means the target window is already gone. Kill-style
// operations treat this as success; others surface it.
var ErrWindowNotFound = errors.New("tmux window not found")

// CommandError wraps a failed tmux invocation: a non-zero exit or a
// spawn failure, with whatever stderr tmux produced.
type CommandError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *CommandError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("tmux %s: %v (%s)", strings.Join(e.Args, " "), e.Err, e.Stderr)
	}
	return fmt.Sprintf("tmux %s: %v", strings.Join(e.Args, " "), e.Err)
}

func (e *CommandError) Unwrap() error {
	// Surface the typed sentinel when tmux's stderr identifies the
	// failure class, so callers can errors.Is without string matching.
	switch {
	case isWindowGone(e.Stderr):
		return ErrWindowNotFound
	case isSessionGone(e.Stderr):
		return ErrSessionNotFound
	}
	return e.Err
}

// isWindowGone reports whether stderr describes a missing window or
// pane target.
func isWindowGone(stderr string) bool {
	return strings.Contains(stderr, "can't find window") ||
		strings.Contains(stderr, "window not found") ||
		strings.Contains(stderr, "can't find pane")
}

// isSessionGone reports whether stderr describes a missing session or a
// stopped server. Both are equivalent for callers: the session does not
// exist.
func isSessionGone(stderr string) bool {
	return strings.Contains(stderr, "can't find session") ||
		strings.Contains(stderr, "session not found") ||
		strings.Contains(stderr, "no server running") ||
		strings.Contains(stderr, "server exited unexpectedly")
}

// IsBenignKillError reports whether err from a kill-style command means
// the target was already gone — equivalent to success during cleanup.
func IsBenignKillError(err error) bool {
	return errors.Is(err, ErrWindowNotFound) || errors.Is(err, ErrSessionNotFound)
}
