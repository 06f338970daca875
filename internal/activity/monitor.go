// Package activity infers per-window active/idle state from the flags
// tmux reports on each window.
//
// tmux only exposes raw signals: a last-activity timestamp and a
// silence flag that sets after monitor-silence seconds without output.
// The monitor debounces those into a small state machine so that a
// single keystroke does not read as "the agent is working" and a short
// thinking pause does not read as "the agent is done":
//
//	Idle -> PendingActive -> Active -> Grace -> Idle
//
// New output starts a burst; the burst must sustain past ActiveDelay
// before the window counts as active. The silence flag is the
// authoritative idle confirmation; until it arrives, an active window
// stays active for up to Grace after its last output.
package activity

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/timvw/termkeeper/internal/tmux"
)

// Defaults for Config fields left zero.
const (
	DefaultPollInterval = time.Second
	DefaultActiveDelay  = 1500 * time.Millisecond
	DefaultGrace        = 5 * time.Second
)

// Source is the slice of the tmux client the monitor needs.
type Source interface {
	ListWindows(ctx context.Context) ([]tmux.Window, error)
	SetWindowOption(ctx context.Context, index int, key, value string) error
}

// State is the per-window activity record. IsActive and IsIdle are
// mutually exclusive; during a pending burst or the grace period both
// are false.
type State struct {
	IsActive             bool
	IsIdle               bool
	LastChecked          time.Time
	LastActivityDetected time.Time
}

// Config holds the monitor's timing knobs.
type Config struct {
	// PollInterval is how often window flags are polled.
	PollInterval time.Duration
	// ActiveDelay is how long a burst must sustain before the window
	// counts as active. Masks single-keystroke flicker.
	ActiveDelay time.Duration
	// Grace is how long an active window stays active after its last
	// output when tmux has not yet confirmed silence. Bridges pauses
	// where a monitored process is silently thinking.
	Grace time.Duration
}

func (c Config) withDefaults() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.ActiveDelay <= 0 {
		c.ActiveDelay = DefaultActiveDelay
	}
	if c.Grace <= 0 {
		c.Grace = DefaultGrace
	}
	return c
}

// windowState is the internal bookkeeping behind one window's State.
type windowState struct {
	state        State
	lastSeen     time.Time // last window_activity value observed
	burstStart   time.Time // first-seen time of the current burst
	everObserved bool
}

// Monitor polls window flags and fires edge-triggered activity/idle
// callbacks. Safe for concurrent use; callbacks run on the polling
// goroutine.
type Monitor struct {
	source Source
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	windows map[int]*windowState

	onActivity func(index int)
	onIdle     func(index int)

	now func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// New creates a Monitor over the given source.
func New(source Source, cfg Config, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Monitor{
		source:  source,
		cfg:     cfg.withDefaults(),
		logger:  logger,
		windows: make(map[int]*windowState),
		now:     time.Now,
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// OnActivity registers the callback fired when a window transitions to
// active. Must be set before Start.
func (m *Monitor) OnActivity(fn func(index int)) { m.onActivity = fn }

// OnIdle registers the callback fired when a window transitions to
// idle. Must be set before Start.
func (m *Monitor) OnIdle(fn func(index int)) { m.onIdle = fn }

// Start launches the polling loop. Poll errors are logged and the loop
// continues on the next tick — a transient tmux failure must not stop
// activity detection.
func (m *Monitor) Start(ctx context.Context) {
	go func() {
		defer close(m.done)
		ticker := time.NewTicker(m.cfg.PollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stop:
				return
			case <-ticker.C:
				if err := m.CheckNow(ctx); err != nil {
					m.logger.Warn("activity poll failed", "error", err)
				}
			}
		}
	}()
}

// Stop terminates the polling loop. Idempotent.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// CheckNow runs one poll pass immediately. The control-mode path calls
// this on output events instead of waiting for the next tick.
func (m *Monitor) CheckNow(ctx context.Context) error {
	windows, err := m.source.ListWindows(ctx)
	if err != nil {
		return err
	}
	m.Observe(windows)
	return nil
}

// Observe runs the state machine over one window listing. Split from
// CheckNow so tests can drive the machine with synthetic listings and a
// fake clock.
func (m *Monitor) Observe(windows []tmux.Window) {
	type edge struct {
		index  int
		active bool
	}
	var edges []edge

	m.mu.Lock()
	now := m.now()
	present := make(map[int]bool, len(windows))

	for _, w := range windows {
		present[w.Index] = true
		ws, ok := m.windows[w.Index]
		if !ok {
			ws = &windowState{state: State{IsIdle: true}}
			m.windows[w.Index] = ws
		}
		wasActive, wasIdle := ws.state.IsActive, ws.state.IsIdle

		newActivity := ws.everObserved && !w.LastActivity.IsZero() && !w.LastActivity.Equal(ws.lastSeen)
		if !ws.everObserved {
			// First sighting: record the baseline timestamp without
			// treating pre-existing output as a fresh burst.
			ws.everObserved = true
			ws.lastSeen = w.LastActivity
		}

		switch {
		case newActivity:
			ws.lastSeen = w.LastActivity
			if ws.burstStart.IsZero() {
				ws.burstStart = now
			}
			ws.state.LastActivityDetected = now
			if now.Sub(ws.burstStart) >= m.cfg.ActiveDelay {
				ws.state.IsActive = true
				ws.state.IsIdle = false
			} else {
				// Burst not yet sustained: neither active nor idle.
				ws.state.IsActive = false
				ws.state.IsIdle = false
			}

		case w.SilenceFlag:
			// Authoritative confirmation from tmux.
			ws.burstStart = time.Time{}
			ws.state.IsActive = false
			ws.state.IsIdle = true

		case !ws.state.LastActivityDetected.IsZero():
			if now.Sub(ws.state.LastActivityDetected) > m.cfg.Grace {
				ws.burstStart = time.Time{}
				ws.state.IsActive = false
				ws.state.IsIdle = true
			}
			// Within the grace window the state holds: an active
			// window keeps reporting active, a pending burst stays
			// undecided.

		default:
			// No history at all.
			ws.state.IsActive = false
			ws.state.IsIdle = true
		}

		ws.state.LastChecked = now

		if !wasActive && ws.state.IsActive {
			edges = append(edges, edge{index: w.Index, active: true})
		}
		if !wasIdle && ws.state.IsIdle {
			edges = append(edges, edge{index: w.Index, active: false})
		}
	}

	// Purge bookkeeping for windows no longer present.
	for index := range m.windows {
		if !present[index] {
			delete(m.windows, index)
		}
	}
	m.mu.Unlock()

	// Fire edge events outside the lock; callbacks may re-enter.
	for _, e := range edges {
		if e.active {
			if m.onActivity != nil {
				m.onActivity(e.index)
			}
		} else if m.onIdle != nil {
			m.onIdle(e.index)
		}
	}
}

// State returns the activity record for a window, if tracked.
func (m *Monitor) State(index int) (State, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws, ok := m.windows[index]
	if !ok {
		return State{}, false
	}
	return ws.state, true
}

// TrackedWindows returns the sorted indices of all tracked windows.
func (m *Monitor) TrackedWindows() []int {
	m.mu.Lock()
	indices := make([]int, 0, len(m.windows))
	for index := range m.windows {
		indices = append(indices, index)
	}
	m.mu.Unlock()
	sort.Ints(indices)
	return indices
}

// Forget drops the record for a window that the provider has removed,
// without waiting for the next poll's purge.
func (m *Monitor) Forget(index int) {
	m.mu.Lock()
	delete(m.windows, index)
	m.mu.Unlock()
}

// UpdateActivityTimeout changes the grace threshold and propagates the
// new monitor-silence interval to every tracked window, so tmux's
// silence confirmation tracks the new expectation.
func (m *Monitor) UpdateActivityTimeout(ctx context.Context, seconds int) {
	m.mu.Lock()
	m.cfg.Grace = time.Duration(seconds) * time.Second
	indices := make([]int, 0, len(m.windows))
	for index := range m.windows {
		indices = append(indices, index)
	}
	m.mu.Unlock()

	for _, index := range indices {
		if err := m.source.SetWindowOption(ctx, index, "monitor-silence", strconv.Itoa(seconds)); err != nil {
			m.logger.Warn("propagate monitor-silence failed", "window", index, "error", err)
		}
	}
}

// Grace returns the current grace threshold.
func (m *Monitor) Grace() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Grace
}

// SetClock overrides the monitor's clock. Tests only.
func (m *Monitor) SetClock(now func() time.Time) { m.now = now }
