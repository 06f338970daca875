// Package provider composes the tmux session, window, activity, and
// control-mode layers into the terminal-provider contract the host
// application consumes.
//
// The provider's registry is a cache, not a source of truth: tmux's own
// window listing is authoritative, and a periodic reconciliation tick
// re-derives registry state from it. Windows closed behind the
// provider's back (user action, tmux crash) are discovered there, close
// events fire, and base windows are recreated when their scope still
// needs one.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/timvw/termkeeper/internal/activity"
	"github.com/timvw/termkeeper/internal/control"
	telem "github.com/timvw/termkeeper/internal/otel"
	"github.com/timvw/termkeeper/internal/tmux"
)

var tracer = otel.Tracer("termkeeper-provider")

// BackendName identifies this backend in caller-visible handle IDs.
const BackendName = "tmux"

// ErrDisposed is returned by creation requests racing with disposal: a
// handle must never be registered into a cleared registry.
var ErrDisposed = errors.New("terminal provider is disposed")

// Defaults for Options fields left zero.
const (
	DefaultReconcileInterval = 5 * time.Second
	DefaultBaseRecreateDelay = 2 * time.Second
)

// Capabilities reports what this backend supports. The host queries
// these instead of probing handles at runtime.
type Capabilities struct {
	ActivityMonitoring bool
	BufferReading      bool
	IdleDetection      bool
}

// Options configures a Provider. One Provider per workspace session.
type Options struct {
	// Workspace is the workspace identity string; the session name is
	// derived from it deterministically. Ignored when Session is set.
	Workspace string
	// Session overrides the derived session name.
	Session string
	// AppName labels the global base window ("base - <app>").
	AppName string
	// Socket targets a dedicated tmux server socket.
	Socket string

	// EnableActivity turns on activity/idle tracking.
	EnableActivity bool
	// ControlMode uses the tmux control-mode event stream instead of
	// the polling timer. Falls back to polling if the stream is lost.
	ControlMode bool

	PollInterval      time.Duration
	ActiveDelay       time.Duration
	Grace             time.Duration
	ReconcileInterval time.Duration
	BaseRecreateDelay time.Duration

	Logger  *slog.Logger
	Metrics *telem.Metrics
}

// SessionName derives the deterministic tmux session name for a
// workspace identity string.
func SessionName(workspace string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, workspace)
	return "termkeeper-" + strings.Trim(mapped, "-")
}

// Provider owns the handle registry and the timer-driven loops. All
// registry mutation happens under mu; the activity poll, the
// reconciliation tick, and the control stream reader each run on their
// own goroutine.
type Provider struct {
	opts    Options
	client  *tmux.Client
	monitor *activity.Monitor
	ctrl    *control.Manager
	logger  *slog.Logger
	metrics *telem.Metrics

	loopCtx    context.Context
	loopCancel context.CancelFunc

	mu       sync.Mutex
	handles  map[int]*Terminal
	ids      map[string]int
	disposed bool

	timerMu    sync.Mutex
	baseTimers []*time.Timer
	idleKick   *time.Timer

	closed        listeners
	activityFired listeners
	idleFired     listeners
	activeChanged listeners
}

// New constructs a Provider. Fails fast with
// tmux.ErrMultiplexerUnavailable when the tmux binary is missing, so
// the caller can select an alternate backend.
func New(opts Options) (*Provider, error) {
	opts = withDefaults(opts)

	clientOpts := []tmux.Option{tmux.WithLogger(opts.Logger)}
	if opts.Socket != "" {
		clientOpts = append(clientOpts, tmux.WithSocket(opts.Socket))
	}
	client, err := tmux.NewClient(opts.Session, clientOpts...)
	if err != nil {
		return nil, err
	}
	return newWithClient(opts, client), nil
}

func withDefaults(opts Options) Options {
	if opts.Session == "" {
		opts.Session = SessionName(opts.Workspace)
	}
	if opts.AppName == "" {
		opts.AppName = "termkeeper"
	}
	if opts.ReconcileInterval <= 0 {
		opts.ReconcileInterval = DefaultReconcileInterval
	}
	if opts.BaseRecreateDelay <= 0 {
		opts.BaseRecreateDelay = DefaultBaseRecreateDelay
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return opts
}

// newWithClient wires a Provider around an existing client. Tests use
// it with a fake runner.
func newWithClient(opts Options, client *tmux.Client) *Provider {
	loopCtx, loopCancel := context.WithCancel(context.Background())
	p := &Provider{
		opts:       opts,
		client:     client,
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		loopCtx:    loopCtx,
		loopCancel: loopCancel,
		handles:    make(map[int]*Terminal),
		ids:        make(map[string]int),
	}
	p.monitor = activity.New(client, activity.Config{
		PollInterval: opts.PollInterval,
		ActiveDelay:  opts.ActiveDelay,
		Grace:        opts.Grace,
	}, opts.Logger)
	p.monitor.OnActivity(p.handleActivityEdge)
	p.monitor.OnIdle(p.handleIdleEdge)
	return p
}

// Client exposes the underlying tmux client for operational tooling.
func (p *Provider) Client() *tmux.Client { return p.client }

// Capabilities reports this backend's support flags.
func (p *Provider) Capabilities() Capabilities {
	return Capabilities{
		ActivityMonitoring: p.opts.EnableActivity,
		BufferReading:      true,
		IdleDetection:      p.opts.EnableActivity,
	}
}

// OnTerminalClosed registers a close-event subscriber.
func (p *Provider) OnTerminalClosed(fn func(*Terminal)) { p.closed.add(fn) }

// OnActivityDetected registers an activity-edge subscriber. Only fires
// when activity monitoring is enabled.
func (p *Provider) OnActivityDetected(fn func(*Terminal)) { p.activityFired.add(fn) }

// OnIdleDetected registers an idle-edge subscriber.
func (p *Provider) OnIdleDetected(fn func(*Terminal)) { p.idleFired.add(fn) }

// OnActiveTerminalChanged registers a subscriber for Show requests.
func (p *Provider) OnActiveTerminalChanged(fn func(*Terminal)) { p.activeChanged.add(fn) }

// Initialize adopts windows surviving from a prior run of the host
// process and starts the provider's loops. No windows are created:
// restart recovery must not disturb already-running processes.
func (p *Provider) Initialize(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "provider.initialize")
	defer span.End()

	if p.client.SessionExists(ctx) {
		windows, err := p.client.ListWindows(ctx)
		if err != nil {
			return fmt.Errorf("list surviving windows: %w", err)
		}
		adopted := 0
		p.mu.Lock()
		for _, w := range windows {
			meta, ok := ParseWindowName(w.Name)
			if !ok {
				continue
			}
			p.registerLocked(w.Index, w.Name, meta)
			adopted++
		}
		p.mu.Unlock()
		span.SetAttributes(attribute.Int("windows.adopted", adopted))
		if adopted > 0 {
			p.logger.Info("adopted surviving windows", "count", adopted, "session", p.opts.Session)
		}
	}

	go p.reconcileLoop()

	if p.opts.EnableActivity {
		if p.opts.ControlMode {
			p.startControlMode()
		} else {
			p.monitor.Start(p.loopCtx)
		}
	}
	return nil
}

// registerLocked creates and registers a handle. Caller holds p.mu.
// Any stale handle on the same index is purged first: tmux reuses
// indices, and a recycled index must never reach two live handles.
func (p *Provider) registerLocked(index int, name string, meta WindowMeta) *Terminal {
	if stale, ok := p.handles[index]; ok {
		stale.markDisposed()
		delete(p.ids, stale.id)
		delete(p.handles, index)
	}
	t := &Terminal{
		p:          p,
		id:         HandleID(index),
		index:      index,
		name:       name,
		label:      meta.Label,
		category:   meta.Category,
		featureKey: meta.FeatureKey,
		isBase:     meta.Category == CategoryBase,
		createdAt:  time.Now(),
	}
	p.handles[index] = t
	p.ids[t.id] = index
	return t
}

// CreateOptions describes one terminal creation request.
type CreateOptions struct {
	// Name is the free-text label: the command label for agent
	// terminals, the app name for a global base.
	Name string
	// Category classifies the terminal. Ignored for a global base.
	Category Category
	// Cwd is the working directory for the window's shell.
	Cwd string
	// Env is extra environment for the window.
	Env map[string]string
	// FeatureKey associates the terminal with a feature; empty means
	// global.
	FeatureKey string
	// IsBase marks the terminal as its scope's fallback window,
	// auto-recreated if externally closed while the scope needs one.
	IsBase bool
	// Show surfaces the terminal after creation.
	Show bool
	// PreserveFocus keeps the active-window pointer unchanged when
	// showing.
	PreserveFocus bool
}

// CreateTerminal ensures the session exists, creates a window, and
// registers a handle for it. Creating a second global base window is
// idempotent: the existing handle is returned and no window is created.
func (p *Provider) CreateTerminal(ctx context.Context, opts CreateOptions) (*Terminal, error) {
	ctx, span := tracer.Start(ctx, "provider.create_terminal")
	defer span.End()

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil, ErrDisposed
	}
	if opts.IsBase && opts.FeatureKey == "" {
		if existing := p.globalBaseLocked(); existing != nil {
			p.mu.Unlock()
			if opts.Show {
				_ = existing.Show(ctx, opts.PreserveFocus)
			}
			return existing, nil
		}
	}
	p.mu.Unlock()

	if err := p.client.EnsureSession(ctx); err != nil {
		return nil, fmt.Errorf("ensure session: %w", err)
	}

	meta := WindowMeta{Category: opts.Category, FeatureKey: opts.FeatureKey, Label: opts.Name}
	if opts.IsBase && opts.FeatureKey == "" {
		meta.Category = CategoryBase
		if meta.Label == "" {
			meta.Label = p.opts.AppName
		}
	}
	name := WindowName(meta.Category, meta.FeatureKey, meta.Label)

	index, err := p.client.CreateWindow(ctx, name, opts.Cwd, opts.Env)
	if err != nil {
		p.metrics.RecordCommandError(ctx)
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("window.index", index),
		attribute.String("terminal.category", string(meta.Category)),
	)

	if p.opts.EnableActivity {
		seconds := int(p.monitor.Grace() / time.Second)
		if err := p.client.SetWindowOption(ctx, index, "monitor-silence", strconv.Itoa(seconds)); err != nil {
			p.logger.Warn("set monitor-silence failed", "window", index, "error", err)
		}
	}

	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		// Disposal won the race: the session is being torn down and
		// the new window dies with it. Never register into a cleared
		// registry.
		return nil, ErrDisposed
	}
	if opts.IsBase && opts.FeatureKey == "" {
		if existing := p.globalBaseLocked(); existing != nil {
			p.mu.Unlock()
			// Two concurrent base creations both passed the early
			// check; the one registered first wins and the extra
			// window is removed.
			if err := p.client.KillWindow(ctx, index); err != nil {
				p.logger.Warn("duplicate base window cleanup failed", "window", index, "error", err)
			}
			if opts.Show {
				_ = existing.Show(ctx, opts.PreserveFocus)
			}
			return existing, nil
		}
	}
	t := p.registerLocked(index, name, meta)
	if opts.IsBase {
		t.isBase = true
	}
	p.mu.Unlock()

	p.metrics.RecordTerminalCreated(ctx, string(meta.Category))
	if opts.Show {
		if err := t.Show(ctx, opts.PreserveFocus); err != nil {
			p.logger.Warn("show terminal failed", "id", t.id, "error", err)
		}
	}
	return t, nil
}

// ActiveTerminals returns all registered handles, ordered by window
// index.
func (p *Provider) ActiveTerminals() []*Terminal {
	p.mu.Lock()
	terminals := make([]*Terminal, 0, len(p.handles))
	for _, t := range p.handles {
		terminals = append(terminals, t)
	}
	p.mu.Unlock()
	sort.Slice(terminals, func(i, j int) bool { return terminals[i].index < terminals[j].index })
	return terminals
}

// TerminalsByFeature returns the handles associated with a feature key.
func (p *Provider) TerminalsByFeature(key string) []*Terminal {
	var out []*Terminal
	for _, t := range p.ActiveTerminals() {
		if t.featureKey == key {
			out = append(out, t)
		}
	}
	return out
}

// TerminalByID resolves a caller-visible identifier to its handle.
func (p *Provider) TerminalByID(id string) (*Terminal, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	index, ok := p.ids[id]
	if !ok {
		return nil, false
	}
	t, ok := p.handles[index]
	return t, ok
}

// GlobalBaseTerminal returns the global base handle, or nil.
func (p *Provider) GlobalBaseTerminal() *Terminal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.globalBaseLocked()
}

func (p *Provider) globalBaseLocked() *Terminal {
	for _, t := range p.handles {
		if t.isBase && t.featureKey == "" {
			return t
		}
	}
	return nil
}

// handleActivityEdge maps a monitor activity edge to its handle and
// notifies subscribers.
func (p *Provider) handleActivityEdge(index int) {
	p.mu.Lock()
	t, ok := p.handles[index]
	p.mu.Unlock()
	if !ok {
		return
	}
	p.metrics.RecordActivityEdge(p.loopCtx, "active")
	p.activityFired.emit(t)
}

func (p *Provider) handleIdleEdge(index int) {
	p.mu.Lock()
	t, ok := p.handles[index]
	p.mu.Unlock()
	if !ok {
		return
	}
	p.metrics.RecordActivityEdge(p.loopCtx, "idle")
	p.idleFired.emit(t)
}

// UpdateActivityTimeout changes the idle grace threshold at runtime and
// propagates the matching monitor-silence interval to tracked windows.
func (p *Provider) UpdateActivityTimeout(ctx context.Context, seconds int) {
	p.monitor.UpdateActivityTimeout(ctx, seconds)
}

// reconcileLoop runs the periodic registry reconciliation. Errors are
// logged and the next tick proceeds; the loop only stops on disposal.
func (p *Provider) reconcileLoop() {
	ticker := time.NewTicker(p.opts.ReconcileInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.loopCtx.Done():
			return
		case <-ticker.C:
			p.Reconcile(p.loopCtx)
		}
	}
}

// Reconcile diffs tmux's real window set against the registry, fires
// close events for vanished windows, and purges them. Exported so the
// control-mode path and tests can trigger a tick directly.
func (p *Provider) Reconcile(ctx context.Context) {
	if p.isDisposed() {
		return
	}
	ctx, span := tracer.Start(ctx, "provider.reconcile")
	defer span.End()

	windows, err := p.client.ListWindows(ctx)
	if err != nil {
		if !errors.Is(err, tmux.ErrSessionNotFound) {
			p.logger.Warn("reconcile listing failed", "error", err)
			p.metrics.RecordCommandError(ctx)
			return
		}
		// Session gone: every registered window vanished with it.
		windows = nil
	}

	present := make(map[int]bool, len(windows))
	for _, w := range windows {
		present[w.Index] = true
	}

	p.mu.Lock()
	var vanished []*Terminal
	for index, t := range p.handles {
		if !present[index] {
			delete(p.handles, index)
			delete(p.ids, t.id)
			vanished = append(vanished, t)
		}
	}
	p.mu.Unlock()

	span.SetAttributes(attribute.Int("windows.vanished", len(vanished)))
	for _, t := range vanished {
		t.markDisposed()
		p.monitor.Forget(t.index)
		p.metrics.RecordTerminalClosed(ctx, "reconciled")
		p.closed.emit(t)
		if t.isBase {
			p.scheduleBaseRecreate(t)
		}
	}
}

// scheduleBaseRecreate queues recreation of a closed base window. The
// short delay avoids thrashing on transient state (a session teardown
// in progress, a user closing several windows at once); at fire time
// the window is only recreated if its scope still has no terminal.
func (p *Provider) scheduleBaseRecreate(t *Terminal) {
	timer := time.AfterFunc(p.opts.BaseRecreateDelay, func() {
		if p.isDisposed() {
			return
		}
		if t.featureKey == "" {
			if p.GlobalBaseTerminal() != nil {
				return
			}
		} else if len(p.TerminalsByFeature(t.featureKey)) > 0 {
			return
		}
		// Pass the bare label, never the encoded window name: Name goes
		// back through WindowName and an encoded name would be encoded
		// twice.
		_, err := p.CreateTerminal(p.loopCtx, CreateOptions{
			Name:       t.label,
			Category:   t.category,
			FeatureKey: t.featureKey,
			IsBase:     true,
		})
		if err != nil && !errors.Is(err, ErrDisposed) {
			p.logger.Warn("base window recreation failed", "scope", t.featureKey, "error", err)
		}
	})
	p.timerMu.Lock()
	p.baseTimers = append(p.baseTimers, timer)
	p.timerMu.Unlock()
}

// startControlMode attaches the control-mode stream; on any failure it
// falls back to polling. The fallback is mandatory: event-mode loss
// must not silently stop activity detection.
func (p *Provider) startControlMode() {
	p.ctrl = control.New(p.client, p.opts.Session, p.logger)
	if err := p.client.EnsureSession(p.loopCtx); err != nil {
		p.logger.Warn("control mode session setup failed; using polling", "error", err)
		p.fallbackToPolling()
		return
	}
	if err := p.ctrl.Start(p.loopCtx); err != nil {
		p.logger.Warn("control mode attach failed; using polling", "error", err)
		p.fallbackToPolling()
		return
	}
	go p.controlLoop()
}

func (p *Provider) fallbackToPolling() {
	p.metrics.RecordControlFallback(p.loopCtx)
	p.monitor.Start(p.loopCtx)
}

// controlLoop consumes control-mode events. Output events trigger a
// full poll-based activity check rather than a precise pane-to-window
// mapping: the stream's pane association is not guaranteed stable, so
// the conservative check is the correct one. A trailing re-check is
// scheduled past the grace window so the idle edge still fires when the
// stream goes quiet.
func (p *Provider) controlLoop() {
	for ev := range p.ctrl.Events() {
		switch ev.Kind {
		case control.KindOutput:
			if err := p.monitor.CheckNow(p.loopCtx); err != nil {
				p.logger.Warn("activity check failed", "error", err)
			}
			p.scheduleIdleRecheck()
		case control.KindWindowClose, control.KindSessionsChanged, control.KindSessionClosed:
			p.Reconcile(p.loopCtx)
		case control.KindWindowAdd, control.KindWindowRenamed, control.KindLayoutChange,
			control.KindSessionChanged, control.KindSessionRenamed, control.KindClientSessionChanged:
			// Registry-neutral: creation goes through CreateTerminal
			// and renames keep the index stable.
		}
	}

	err := <-p.ctrl.Done()
	if err == nil || p.isDisposed() {
		return
	}
	p.logger.Warn("control stream lost; falling back to polling", "error", err)
	p.fallbackToPolling()
}

// scheduleIdleRecheck arms (or re-arms) a single delayed activity check
// past the grace window, so a window that stops producing output
// transitions to idle even though no further events arrive.
func (p *Provider) scheduleIdleRecheck() {
	delay := p.monitor.Grace() + activity.DefaultPollInterval
	p.timerMu.Lock()
	defer p.timerMu.Unlock()
	if p.idleKick != nil {
		p.idleKick.Reset(delay)
		return
	}
	p.idleKick = time.AfterFunc(delay, func() {
		if p.isDisposed() {
			return
		}
		if err := p.monitor.CheckNow(p.loopCtx); err != nil {
			p.logger.Warn("idle recheck failed", "error", err)
		}
	})
}

// disposeTerminal performs the ordered hand-off-then-kill sequence for
// one handle. The handle leaves the registry before the kill so a
// recycled index can never resolve to it.
func (p *Provider) disposeTerminal(ctx context.Context, t *Terminal) error {
	p.mu.Lock()
	delete(p.handles, t.index)
	delete(p.ids, t.id)
	handoff := p.handoffTargetLocked(t)
	p.mu.Unlock()

	// Hand the active-window pointer to another eligible window so it
	// is not left dangling when this one disappears.
	if handoff != nil {
		if err := p.client.SelectWindow(ctx, handoff.index); err != nil {
			p.logger.Warn("handoff select failed", "window", handoff.index, "error", err)
		}
	}

	err := p.client.KillWindow(ctx, t.index)
	p.monitor.Forget(t.index)
	p.metrics.RecordTerminalClosed(ctx, "disposed")
	p.closed.emit(t)
	return err
}

// handoffTargetLocked picks the window to receive the active-window
// pointer: same feature scope first, else the global base.
func (p *Provider) handoffTargetLocked(t *Terminal) *Terminal {
	if t.featureKey != "" {
		for _, other := range p.handles {
			if other.featureKey == t.featureKey && other.index != t.index {
				return other
			}
		}
	}
	if base := p.globalBaseLocked(); base != nil && base.index != t.index {
		return base
	}
	return nil
}

func (p *Provider) isDisposed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disposed
}

// stopLoops halts the reconciliation and activity timers and the
// control-mode subprocess, in that order.
func (p *Provider) stopLoops() {
	p.loopCancel()
	p.monitor.Stop()
	p.timerMu.Lock()
	for _, timer := range p.baseTimers {
		timer.Stop()
	}
	p.baseTimers = nil
	if p.idleKick != nil {
		p.idleKick.Stop()
		p.idleKick = nil
	}
	p.timerMu.Unlock()
	if p.ctrl != nil {
		p.ctrl.Stop()
	}
}

// Close stops all loops without destroying the session. Used by
// one-shot tooling that inspects a live session it does not own.
// Further creation requests fail with ErrDisposed.
func (p *Provider) Close() {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return
	}
	p.disposed = true
	p.mu.Unlock()
	p.stopLoops()
}

// Dispose tears the provider down: stop timers, stop the control
// subprocess, synchronously kill the session, clear the registry — in
// that order. The synchronous kill guarantees no window survives an
// abrupt host exit. Failures against an already-gone session are
// logged and swallowed; the end state is equivalent.
func (p *Provider) Dispose(ctx context.Context) error {
	p.mu.Lock()
	if p.disposed {
		p.mu.Unlock()
		return nil
	}
	p.disposed = true
	p.mu.Unlock()

	p.stopLoops()

	if err := p.client.KillSessionSync(); err != nil {
		p.logger.Warn("session kill on dispose failed", "error", err)
	}

	p.mu.Lock()
	for _, t := range p.handles {
		t.markDisposed()
	}
	p.handles = make(map[int]*Terminal)
	p.ids = make(map[string]int)
	p.mu.Unlock()
	return nil
}
