package tmux

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// PlaceholderWindow is the bootstrap window seeded into a fresh session.
// tmux refuses to keep a session with zero windows, so the placeholder
// papers over the gap between session creation and the first real
// window. It is filtered out of all listings and removed as soon as a
// real window exists.
const PlaceholderWindow = "init"

// Window is one tmux window as reported by list-windows, with the
// activity metadata the monitor consumes.
type Window struct {
	// Index is the tmux-assigned window index. Not stable across
	// recreation: tmux reuses indices after a kill.
	Index int
	// Name is the window name.
	Name string
	// Panes is the number of panes in the window.
	Panes int
	// LastActivity is the window_activity timestamp: the last time
	// tmux saw output in the window.
	LastActivity time.Time
	// ActivityFlag is window_activity_flag: activity since the window
	// was last visited.
	ActivityFlag bool
	// SilenceFlag is window_silence_flag: the monitor-silence interval
	// elapsed without output. This is the authoritative idle signal.
	SilenceFlag bool
}

// listWindowsFormat is tab-separated so free-text window names cannot
// collide with the delimiter tmux uses for the remaining fields.
const listWindowsFormat = "#{window_index}\t#{window_name}\t#{window_panes}\t#{window_activity}\t#{window_activity_flag}\t#{window_silence_flag}"

// SessionExists reports whether this client's session exists. A stopped
// server counts as "does not exist".
func (c *Client) SessionExists(ctx context.Context) bool {
	_, err := c.run.Run(ctx, "has-session", "-t", "="+c.session)
	return err == nil
}

// EnsureSession creates the session if it is absent. Idempotent and
// safe to call before every window operation.
//
// A fresh session is seeded with the "init" placeholder window and gets
// activity monitoring enabled with tmux's own visual notification
// suppressed — the host renders its own activity indication.
func (c *Client) EnsureSession(ctx context.Context) error {
	if c.SessionExists(ctx) {
		return nil
	}
	_, err := c.run.Run(ctx, "new-session", "-d", "-s", c.session, "-n", PlaceholderWindow)
	if err != nil {
		// Two callers racing on first use: losing the race means the
		// session exists, which is the goal.
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && strings.Contains(cmdErr.Stderr, "duplicate session") {
			return nil
		}
		return fmt.Errorf("create session %q: %w", c.session, err)
	}

	for _, opt := range [][2]string{
		{"monitor-activity", "on"},
		{"activity-action", "none"},
		{"visual-activity", "off"},
	} {
		if _, err := c.run.Run(ctx, "set-option", "-t", "="+c.session, opt[0], opt[1]); err != nil {
			c.logger.Warn("set session option failed", "option", opt[0], "error", err)
		}
	}
	return nil
}

// ListWindows returns the session's current windows with activity
// metadata. The "init" placeholder is filtered out. A missing session
// yields ErrSessionNotFound.
func (c *Client) ListWindows(ctx context.Context) ([]Window, error) {
	out, err := c.run.Run(ctx, "list-windows", "-t", "="+c.session, "-F", listWindowsFormat)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("list windows in %q: %w", c.session, err)
	}

	var windows []Window
	for _, line := range strings.Split(out, "\n") {
		if line == "" {
			continue
		}
		w, ok := parseWindowLine(line)
		if !ok || w.Name == PlaceholderWindow {
			continue
		}
		windows = append(windows, w)
	}
	return windows, nil
}

// parseWindowLine decodes one list-windows line in listWindowsFormat.
func parseWindowLine(line string) (Window, bool) {
	parts := strings.Split(line, "\t")
	if len(parts) != 6 {
		return Window{}, false
	}
	index, err := strconv.Atoi(parts[0])
	if err != nil {
		return Window{}, false
	}
	panes, _ := strconv.Atoi(parts[2])

	w := Window{
		Index:        index,
		Name:         parts[1],
		Panes:        panes,
		ActivityFlag: parts[4] == "1",
		SilenceFlag:  parts[5] == "1",
	}
	if secs, err := strconv.ParseInt(parts[3], 10, 64); err == nil && secs > 0 {
		w.LastActivity = time.Unix(secs, 0)
	}
	return w, true
}

// KillSession destroys the session and everything in it. Already-gone
// sessions are success.
func (c *Client) KillSession(ctx context.Context) error {
	_, err := c.run.Run(ctx, "kill-session", "-t", "="+c.session)
	if err != nil && !IsBenignKillError(err) {
		return fmt.Errorf("kill session %q: %w", c.session, err)
	}
	return nil
}

// KillSessionSync destroys the session and blocks until the command has
// completed. Used at shutdown where no further scheduling is guaranteed:
// the session must not survive an abrupt host exit.
func (c *Client) KillSessionSync() error {
	return c.KillSession(context.Background())
}
