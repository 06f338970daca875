package tmux

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// SanitizeText neutralizes tmux command-separator characters in
// free-text names and option values before they are interpolated into a
// command line. A bare ";" argument splits a tmux invocation into two
// commands, and control characters corrupt the window name display.
func SanitizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case r == ';':
			b.WriteRune(',')
		case r == '\n' || r == '\r' || r == '\x00':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}

// CreateWindow creates a window in the session and returns its
// tmux-assigned index. The name is sanitized, the working directory is
// set via -c, and env entries are exported into the window's
// environment. After the first real window exists the "init"
// placeholder is removed.
func (c *Client) CreateWindow(ctx context.Context, name, cwd string, env map[string]string) (int, error) {
	args := []string{"new-window", "-t", "=" + c.session, "-n", SanitizeText(name), "-P", "-F", "#{window_index}"}
	if cwd != "" {
		args = append(args, "-c", cwd)
	}
	// Deterministic argument order keeps invocations reproducible in
	// logs and tests.
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-e", fmt.Sprintf("%s=%s", SanitizeText(k), SanitizeText(env[k])))
	}

	out, err := c.run.Run(ctx, args...)
	if err != nil {
		return 0, fmt.Errorf("create window %q: %w", name, err)
	}
	index, err := strconv.Atoi(strings.TrimSpace(out))
	if err != nil {
		return 0, fmt.Errorf("create window %q: unexpected index output %q", name, out)
	}

	c.removePlaceholder(ctx)
	return index, nil
}

// removePlaceholder deletes the "init" bootstrap window once a real
// window exists. Best-effort: a vanished placeholder is fine.
func (c *Client) removePlaceholder(ctx context.Context) {
	out, err := c.run.Run(ctx, "list-windows", "-t", "="+c.session, "-F", "#{window_index}\t#{window_name}")
	if err != nil {
		return
	}
	lines := strings.Split(out, "\n")
	if len(lines) < 2 {
		// The placeholder is the only window left; killing it would
		// kill the session.
		return
	}
	for _, line := range lines {
		parts := strings.SplitN(line, "\t", 2)
		if len(parts) == 2 && parts[1] == PlaceholderWindow {
			if _, err := c.run.Run(ctx, "kill-window", "-t", c.target(mustAtoi(parts[0]))); err != nil && !IsBenignKillError(err) {
				c.logger.Warn("remove placeholder window failed", "error", err)
			}
			return
		}
	}
}

func mustAtoi(s string) int {
	n, _ := strconv.Atoi(strings.TrimSpace(s))
	return n
}

// target formats a window target within the session.
func (c *Client) target(index int) string {
	return fmt.Sprintf("=%s:%d", c.session, index)
}

// KillWindow destroys a window. A window that is already gone is
// success, not an error — external closure and explicit disposal race
// routinely.
func (c *Client) KillWindow(ctx context.Context, index int) error {
	lock := c.windowLock(index)
	lock.Lock()
	_, err := c.run.Run(ctx, "kill-window", "-t", c.target(index))
	lock.Unlock()
	// Drop the lock entry only after unlocking: deleting it while the
	// mutex is held would let a concurrent windowLock mint a fresh mutex
	// and bypass the serialization.
	c.releaseWindowLock(index)

	if err != nil && !IsBenignKillError(err) {
		return fmt.Errorf("kill window %d: %w", index, err)
	}
	return nil
}

// SelectWindow makes a window the session's active window.
func (c *Client) SelectWindow(ctx context.Context, index int) error {
	lock := c.windowLock(index)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.run.Run(ctx, "select-window", "-t", c.target(index)); err != nil {
		return fmt.Errorf("select window %d: %w", index, err)
	}
	return nil
}

// RenameWindow renames a window. The name is sanitized.
func (c *Client) RenameWindow(ctx context.Context, index int, name string) error {
	lock := c.windowLock(index)
	lock.Lock()
	defer lock.Unlock()

	if _, err := c.run.Run(ctx, "rename-window", "-t", c.target(index), SanitizeText(name)); err != nil {
		return fmt.Errorf("rename window %d: %w", index, err)
	}
	return nil
}

// SendKeys sends text to a window's active pane. In literal mode (-l)
// the text is typed as-is; otherwise tmux interprets key names like
// "Enter" and "C-c".
func (c *Client) SendKeys(ctx context.Context, index int, text string, literal bool) error {
	args := []string{"send-keys", "-t", c.target(index)}
	if literal {
		args = append(args, "-l")
	}
	args = append(args, text)
	if _, err := c.run.Run(ctx, args...); err != nil {
		return fmt.Errorf("send keys to window %d: %w", index, err)
	}
	return nil
}

// SendCommand types a command line into a window and confirms it with
// Enter, as two send-keys calls so the text itself is always literal.
func (c *Client) SendCommand(ctx context.Context, index int, text string) error {
	if err := c.SendKeys(ctx, index, text, true); err != nil {
		return err
	}
	return c.SendKeys(ctx, index, "Enter", false)
}

// CapturePane returns the text content of a window's active pane.
// With includeHistory the full scrollback is captured (-S -), otherwise
// only the visible area.
func (c *Client) CapturePane(ctx context.Context, index int, includeHistory bool) (string, error) {
	args := []string{"capture-pane", "-t", c.target(index), "-p"}
	if includeHistory {
		args = append(args, "-S", "-")
	}
	out, err := c.run.Run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("capture pane of window %d: %w", index, err)
	}
	return out, nil
}

// SetWindowOption sets a window-scoped tmux option. Values are
// sanitized like names.
func (c *Client) SetWindowOption(ctx context.Context, index int, key, value string) error {
	if _, err := c.run.Run(ctx, "set-option", "-w", "-t", c.target(index), key, SanitizeText(value)); err != nil {
		return fmt.Errorf("set window %d option %s: %w", index, key, err)
	}
	return nil
}

// GetWindowOption reads a window-scoped tmux option value.
func (c *Client) GetWindowOption(ctx context.Context, index int, key string) (string, error) {
	out, err := c.run.Run(ctx, "show-options", "-w", "-v", "-t", c.target(index), key)
	if err != nil {
		return "", fmt.Errorf("get window %d option %s: %w", index, key, err)
	}
	return strings.TrimSpace(out), nil
}
