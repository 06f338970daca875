package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/timvw/termkeeper/internal/activity"
)

// Terminal is the provider-owned façade over one tmux window. Handles
// are created and registered exclusively by the Provider and are never
// duplicated: one window index, one handle.
type Terminal struct {
	p *Provider

	id         string
	index      int
	name       string
	label      string
	category   Category
	featureKey string
	isBase     bool
	createdAt  time.Time

	mu       sync.Mutex
	disposed bool
}

// HandleID formats the caller-visible identifier for a window index.
func HandleID(index int) string {
	return fmt.Sprintf("%s-%d", BackendName, index)
}

// ID returns the handle's stable identifier ("tmux-3"). Stable for the
// handle's lifetime; the underlying index may be reused by a later
// window after this handle is gone.
func (t *Terminal) ID() string { return t.id }

// Index returns the tmux window index.
func (t *Terminal) Index() int { return t.index }

// Name returns the encoded window name.
func (t *Terminal) Name() string { return t.name }

// Category returns the terminal's category.
func (t *Terminal) Category() Category { return t.category }

// FeatureKey returns the associated feature key, empty for global
// terminals.
func (t *Terminal) FeatureKey() string { return t.featureKey }

// IsBase reports whether this is a base (fallback) terminal for its
// scope.
func (t *Terminal) IsBase() bool { return t.isBase }

// CreatedAt returns when the handle was registered.
func (t *Terminal) CreatedAt() time.Time { return t.createdAt }

// Disposed reports whether the handle has been disposed.
func (t *Terminal) Disposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disposed
}

// markDisposed flips the disposed flag, returning false if it was
// already set.
func (t *Terminal) markDisposed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.disposed {
		return false
	}
	t.disposed = true
	return true
}

// Show selects the window and notifies active-terminal listeners so the
// host can surface it. With preserveFocus the multiplexer's active
// window pointer is left alone and only the notification fires.
func (t *Terminal) Show(ctx context.Context, preserveFocus bool) error {
	if t.Disposed() {
		return nil
	}
	if !preserveFocus {
		if err := t.p.client.SelectWindow(ctx, t.index); err != nil {
			return err
		}
	}
	t.p.activeChanged.emit(t)
	return nil
}

// SendText types text into the window's active pane, literally.
func (t *Terminal) SendText(ctx context.Context, text string) error {
	if t.Disposed() {
		return nil
	}
	return t.p.client.SendKeys(ctx, t.index, text, true)
}

// SendCommand types a command line and confirms it with Enter.
func (t *Terminal) SendCommand(ctx context.Context, text string) error {
	if t.Disposed() {
		return nil
	}
	return t.p.client.SendCommand(ctx, t.index, text)
}

// Buffer captures the pane's text content, optionally including the
// full scrollback history.
func (t *Terminal) Buffer(ctx context.Context, includeHistory bool) (string, error) {
	if t.Disposed() {
		return "", nil
	}
	return t.p.client.CapturePane(ctx, t.index, includeHistory)
}

// IsActive reports whether the activity monitor currently considers the
// window active.
func (t *Terminal) IsActive() bool {
	state, ok := t.p.monitor.State(t.index)
	return ok && state.IsActive
}

// IsIdle reports whether the activity monitor currently considers the
// window idle.
func (t *Terminal) IsIdle() bool {
	state, ok := t.p.monitor.State(t.index)
	return ok && state.IsIdle
}

// ActivityState returns the monitor's full record for the window.
func (t *Terminal) ActivityState() activity.State {
	state, _ := t.p.monitor.State(t.index)
	return state
}

// Dispose removes the handle from the registry, hands the session's
// active-window pointer to another eligible window, and kills the
// window. Subsequent calls are no-ops, not errors.
func (t *Terminal) Dispose(ctx context.Context) error {
	if !t.markDisposed() {
		return nil
	}
	return t.p.disposeTerminal(ctx, t)
}
