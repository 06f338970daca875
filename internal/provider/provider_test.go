package provider

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/timvw/termkeeper/internal/tmux"
)

// fakeServer emulates the slice of tmux the provider exercises: one
// session, indexed windows, and the commands the client issues against
// them.
type fakeServer struct {
	mu      sync.Mutex
	exists  bool
	windows map[int]string // index -> name
	next    int
	calls   []string
}

func newFakeServer() *fakeServer {
	return &fakeServer{windows: make(map[int]string)}
}

func (f *fakeServer) Run(ctx context.Context, args ...string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, strings.Join(args, " "))

	switch args[0] {
	case "has-session":
		if !f.exists {
			return "", &tmux.CommandError{Args: args, Stderr: "can't find session", Err: fmt.Errorf("exit status 1")}
		}
		return "", nil
	case "new-session":
		f.exists = true
		f.windows[0] = tmux.PlaceholderWindow
		f.next = 1
		return "", nil
	case "new-window":
		name := flagValue(args, "-n")
		idx := f.next
		f.next++
		f.windows[idx] = name
		return strconv.Itoa(idx), nil
	case "list-windows":
		if !f.exists {
			return "", &tmux.CommandError{Args: args, Stderr: "can't find session", Err: fmt.Errorf("exit status 1")}
		}
		format := flagValue(args, "-F")
		full := strings.Contains(format, "window_activity")
		indices := make([]int, 0, len(f.windows))
		for i := range f.windows {
			indices = append(indices, i)
		}
		sort.Ints(indices)
		var lines []string
		for _, i := range indices {
			if full {
				lines = append(lines, fmt.Sprintf("%d\t%s\t1\t0\t0\t0", i, f.windows[i]))
			} else {
				lines = append(lines, fmt.Sprintf("%d\t%s", i, f.windows[i]))
			}
		}
		return strings.Join(lines, "\n"), nil
	case "kill-window":
		idx := targetIndex(flagValue(args, "-t"))
		if _, ok := f.windows[idx]; !ok {
			return "", &tmux.CommandError{Args: args, Stderr: "can't find window", Err: fmt.Errorf("exit status 1")}
		}
		delete(f.windows, idx)
		return "", nil
	case "kill-session":
		if !f.exists {
			return "", &tmux.CommandError{Args: args, Stderr: "can't find session", Err: fmt.Errorf("exit status 1")}
		}
		f.exists = false
		f.windows = make(map[int]string)
		return "", nil
	}
	return "", nil
}

func (f *fakeServer) Command(ctx context.Context, args ...string) *exec.Cmd {
	return exec.Command("true")
}

// closeWindow simulates an external kill (user closing the window).
func (f *fakeServer) closeWindow(index int) {
	f.mu.Lock()
	delete(f.windows, index)
	f.mu.Unlock()
}

// seedWindow plants a window as if it survived from a previous run.
func (f *fakeServer) seedWindow(index int, name string) {
	f.mu.Lock()
	f.exists = true
	f.windows[index] = name
	if index >= f.next {
		f.next = index + 1
	}
	f.mu.Unlock()
}

func (f *fakeServer) windowNames() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for _, n := range f.windows {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func (f *fakeServer) callsMatching(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, c := range f.calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

func flagValue(args []string, flag string) string {
	for i, a := range args {
		if a == flag && i+1 < len(args) {
			return args[i+1]
		}
	}
	return ""
}

// targetIndex extracts the window index from "=session:N".
func targetIndex(target string) int {
	idx := strings.LastIndex(target, ":")
	if idx < 0 {
		return -1
	}
	n, err := strconv.Atoi(target[idx+1:])
	if err != nil {
		return -1
	}
	return n
}

func newTestProvider(t *testing.T, srv *fakeServer) *Provider {
	t.Helper()
	client, err := tmux.NewClient("work", tmux.WithRunner(srv))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	opts := withDefaults(Options{
		Session:           "work",
		AppName:           "myapp",
		EnableActivity:    true,
		ReconcileInterval: time.Hour, // ticks driven manually in tests
	})
	p := newWithClient(opts, client)
	t.Cleanup(func() { p.Close() })
	return p
}

func TestCreateTerminal_RegistersHandle(t *testing.T) {
	srv := newFakeServer()
	p := newTestProvider(t, srv)
	ctx := context.Background()

	term, err := p.CreateTerminal(ctx, CreateOptions{
		Name:       "Implement",
		Category:   CategoryAgent,
		FeatureKey: "checkout-flow",
	})
	if err != nil {
		t.Fatalf("CreateTerminal: %v", err)
	}

	if term.ID() != "tmux-1" {
		t.Errorf("ID = %q, want tmux-1", term.ID())
	}
	if term.Name() != "agent: checkout-flow-Implement" {
		t.Errorf("Name = %q", term.Name())
	}

	got, ok := p.TerminalByID("tmux-1")
	if !ok || got != term {
		t.Error("handle not resolvable by ID")
	}
	if len(p.ActiveTerminals()) != 1 {
		t.Errorf("expected 1 active terminal")
	}

	// Activity threshold seeded on the new window.
	if calls := srv.callsMatching("set-option -w"); len(calls) == 0 ||
		!strings.Contains(calls[0], "monitor-silence 5") {
		t.Errorf("expected monitor-silence seeding, calls %v", calls)
	}
}

func TestCreateTerminal_GlobalBaseIsIdempotent(t *testing.T) {
	srv := newFakeServer()
	p := newTestProvider(t, srv)
	ctx := context.Background()

	first, err := p.CreateTerminal(ctx, CreateOptions{IsBase: true})
	if err != nil {
		t.Fatalf("first base: %v", err)
	}
	second, err := p.CreateTerminal(ctx, CreateOptions{IsBase: true})
	if err != nil {
		t.Fatalf("second base: %v", err)
	}

	if first != second {
		t.Error("second base request must return the existing handle")
	}
	if len(p.ActiveTerminals()) != 1 {
		t.Errorf("expected 1 terminal, got %d", len(p.ActiveTerminals()))
	}
	if first.Name() != "base - myapp" {
		t.Errorf("base name = %q", first.Name())
	}
}

func TestInitialize_AdoptsSurvivingWindows(t *testing.T) {
	srv := newFakeServer()
	srv.seedWindow(1, "agent: checkout-flow-Implement")
	srv.seedWindow(2, "console: billing")
	srv.seedWindow(3, "vim notes.txt") // user window, not ours
	p := newTestProvider(t, srv)

	if err := p.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}

	terminals := p.ActiveTerminals()
	if len(terminals) != 2 {
		t.Fatalf("expected 2 adopted terminals, got %d", len(terminals))
	}
	if terminals[0].Category() != CategoryAgent || terminals[0].FeatureKey() != "checkout-flow" {
		t.Errorf("unexpected adoption %+v", terminals[0])
	}

	// Adoption must not create or destroy anything.
	if calls := srv.callsMatching("new-window"); len(calls) != 0 {
		t.Errorf("adoption created windows: %v", calls)
	}
	if calls := srv.callsMatching("kill-window"); len(calls) != 0 {
		t.Errorf("adoption killed windows: %v", calls)
	}
}

func TestReconcile_PurgesVanishedWindows(t *testing.T) {
	srv := newFakeServer()
	p := newTestProvider(t, srv)
	ctx := context.Background()

	a, _ := p.CreateTerminal(ctx, CreateOptions{Category: CategoryConsole, FeatureKey: "a"})
	b, _ := p.CreateTerminal(ctx, CreateOptions{Category: CategoryConsole, FeatureKey: "b"})

	var closed []*Terminal
	var mu sync.Mutex
	p.OnTerminalClosed(func(t *Terminal) {
		mu.Lock()
		closed = append(closed, t)
		mu.Unlock()
	})

	srv.closeWindow(a.Index())
	p.Reconcile(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(closed) != 1 || closed[0] != a {
		t.Fatalf("expected close event for the vanished terminal, got %v", closed)
	}
	if a.Disposed() != true {
		t.Error("vanished handle must be disposed")
	}
	if _, ok := p.TerminalByID(a.ID()); ok {
		t.Error("vanished handle still resolvable")
	}
	if _, ok := p.TerminalByID(b.ID()); !ok {
		t.Error("surviving handle lost")
	}
}

func TestDispose_Terminal_HandoffAndKill(t *testing.T) {
	srv := newFakeServer()
	p := newTestProvider(t, srv)
	ctx := context.Background()

	keep, _ := p.CreateTerminal(ctx, CreateOptions{Category: CategoryConsole, FeatureKey: "feat"})
	doomed, _ := p.CreateTerminal(ctx, CreateOptions{Name: "Run", Category: CategoryAgent, FeatureKey: "feat"})

	var closed int
	p.OnTerminalClosed(func(*Terminal) { closed++ })

	if err := doomed.Dispose(ctx); err != nil {
		t.Fatalf("Dispose: %v", err)
	}
	// Idempotent.
	if err := doomed.Dispose(ctx); err != nil {
		t.Fatalf("second Dispose: %v", err)
	}

	if closed != 1 {
		t.Errorf("expected exactly one close event, got %d", closed)
	}
	// The sibling received the active-window pointer before the kill.
	selects := srv.callsMatching("select-window")
	if len(selects) == 0 || !strings.HasSuffix(selects[len(selects)-1], fmt.Sprintf(":%d", keep.Index())) {
		t.Errorf("expected handoff select to sibling, got %v", selects)
	}
	if kills := srv.callsMatching("kill-window -t =work:" + strconv.Itoa(doomed.Index())); len(kills) != 1 {
		t.Errorf("expected one kill for the disposed window, got %v", kills)
	}
	if _, ok := p.TerminalByID(doomed.ID()); ok {
		t.Error("disposed handle still registered")
	}
}

func TestDispose_Provider_TearsDownEverything(t *testing.T) {
	srv := newFakeServer()
	p := newTestProvider(t, srv)
	ctx := context.Background()

	_, _ = p.CreateTerminal(ctx, CreateOptions{Category: CategoryConsole, FeatureKey: "a"})
	_, _ = p.CreateTerminal(ctx, CreateOptions{IsBase: true})

	if err := p.Dispose(ctx); err != nil {
		t.Fatalf("Dispose: %v", err)
	}

	if names := srv.windowNames(); len(names) != 0 {
		t.Errorf("expected no surviving windows, got %v", names)
	}
	if got := len(p.ActiveTerminals()); got != 0 {
		t.Errorf("expected empty registry, got %d", got)
	}
	if _, err := p.CreateTerminal(ctx, CreateOptions{Category: CategoryConsole}); !errors.Is(err, ErrDisposed) {
		t.Errorf("expected ErrDisposed after Dispose, got %v", err)
	}
	// Idempotent.
	if err := p.Dispose(ctx); err != nil {
		t.Fatalf("second Dispose: %v", err)
	}
}

func TestTerminalsByFeature(t *testing.T) {
	srv := newFakeServer()
	p := newTestProvider(t, srv)
	ctx := context.Background()

	_, _ = p.CreateTerminal(ctx, CreateOptions{Category: CategoryConsole, FeatureKey: "a"})
	_, _ = p.CreateTerminal(ctx, CreateOptions{Name: "Run", Category: CategoryAgent, FeatureKey: "a"})
	_, _ = p.CreateTerminal(ctx, CreateOptions{Category: CategoryConsole, FeatureKey: "b"})

	if got := len(p.TerminalsByFeature("a")); got != 2 {
		t.Errorf("expected 2 terminals for feature a, got %d", got)
	}
	if got := len(p.TerminalsByFeature("missing")); got != 0 {
		t.Errorf("expected 0 terminals for missing feature, got %d", got)
	}
}

func TestCapabilities(t *testing.T) {
	srv := newFakeServer()
	p := newTestProvider(t, srv)

	caps := p.Capabilities()
	if !caps.ActivityMonitoring || !caps.BufferReading || !caps.IdleDetection {
		t.Errorf("unexpected capabilities %+v", caps)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestReconcile_RecreatesClosedBaseWindow(t *testing.T) {
	srv := newFakeServer()
	client, err := tmux.NewClient("work", tmux.WithRunner(srv))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	p := newWithClient(withDefaults(Options{
		Session:           "work",
		AppName:           "myapp",
		ReconcileInterval: time.Hour,
		BaseRecreateDelay: 10 * time.Millisecond,
	}), client)
	t.Cleanup(func() { p.Close() })
	ctx := context.Background()

	base, err := p.CreateTerminal(ctx, CreateOptions{IsBase: true})
	if err != nil {
		t.Fatalf("CreateTerminal: %v", err)
	}

	srv.closeWindow(base.Index())
	p.Reconcile(ctx)

	waitFor(t, "base recreation", func() bool { return p.GlobalBaseTerminal() != nil })

	recreated := p.GlobalBaseTerminal()
	// The recreated window must carry the original encoded name, not a
	// re-encoding of it.
	if recreated.Name() != "base - myapp" {
		t.Errorf("recreated base name = %q, want %q", recreated.Name(), "base - myapp")
	}
	if names := srv.windowNames(); len(names) != 1 || names[0] != "base - myapp" {
		t.Errorf("window names after recreation: %v", names)
	}
	if recreated.ID() == base.ID() {
		t.Error("recreated base must be a new handle")
	}
}

func TestReconcile_RecreatesClosedFeatureBase(t *testing.T) {
	srv := newFakeServer()
	client, err := tmux.NewClient("work", tmux.WithRunner(srv))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	p := newWithClient(withDefaults(Options{
		Session:           "work",
		AppName:           "myapp",
		ReconcileInterval: time.Hour,
		BaseRecreateDelay: 10 * time.Millisecond,
	}), client)
	t.Cleanup(func() { p.Close() })
	ctx := context.Background()

	base, err := p.CreateTerminal(ctx, CreateOptions{Category: CategoryConsole, FeatureKey: "billing", IsBase: true})
	if err != nil {
		t.Fatalf("CreateTerminal: %v", err)
	}
	if base.Name() != "console: billing" {
		t.Fatalf("base name = %q", base.Name())
	}

	srv.closeWindow(base.Index())
	p.Reconcile(ctx)

	waitFor(t, "feature base recreation", func() bool {
		return len(p.TerminalsByFeature("billing")) > 0
	})

	recreated := p.TerminalsByFeature("billing")[0]
	if recreated.Name() != "console: billing" {
		t.Errorf("recreated name = %q, want %q", recreated.Name(), "console: billing")
	}
	if meta, ok := ParseWindowName(recreated.Name()); !ok || meta.FeatureKey != "billing" {
		t.Errorf("recreated name does not round-trip: %+v ok=%v", meta, ok)
	}
	if names := srv.windowNames(); len(names) != 1 || names[0] != "console: billing" {
		t.Errorf("window names after recreation: %v", names)
	}
}

// gateRunner holds new-window invocations at a barrier so a test can
// force two creations to interleave.
type gateRunner struct {
	srv     *fakeServer
	arrived chan struct{}
	proceed chan struct{}
}

func (g *gateRunner) Run(ctx context.Context, args ...string) (string, error) {
	if args[0] == "new-window" {
		g.arrived <- struct{}{}
		<-g.proceed
	}
	return g.srv.Run(ctx, args...)
}

func (g *gateRunner) Command(ctx context.Context, args ...string) *exec.Cmd {
	return g.srv.Command(ctx, args...)
}

func TestCreateTerminal_ConcurrentBaseRequestsConverge(t *testing.T) {
	srv := newFakeServer()
	srv.seedWindow(0, tmux.PlaceholderWindow)
	gate := &gateRunner{srv: srv, arrived: make(chan struct{}, 2), proceed: make(chan struct{})}
	client, err := tmux.NewClient("work", tmux.WithRunner(gate))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	p := newWithClient(withDefaults(Options{
		Session:           "work",
		AppName:           "myapp",
		ReconcileInterval: time.Hour,
	}), client)
	t.Cleanup(func() { p.Close() })

	results := make(chan *Terminal, 2)
	for i := 0; i < 2; i++ {
		go func() {
			term, err := p.CreateTerminal(context.Background(), CreateOptions{IsBase: true})
			if err != nil {
				t.Errorf("CreateTerminal: %v", err)
			}
			results <- term
		}()
	}

	// Hold both requests at window creation: both have passed the
	// existing-base check by now.
	<-gate.arrived
	<-gate.arrived
	close(gate.proceed)

	a, b := <-results, <-results
	if a != b {
		t.Fatal("concurrent base creations returned distinct handles")
	}
	if got := len(p.ActiveTerminals()); got != 1 {
		t.Fatalf("expected 1 registered terminal, got %d", got)
	}
	if names := srv.windowNames(); len(names) != 1 || names[0] != "base - myapp" {
		t.Fatalf("window names after concurrent creation: %v", names)
	}
}

func TestReconcile_SessionGoneClearsRegistry(t *testing.T) {
	srv := newFakeServer()
	p := newTestProvider(t, srv)
	ctx := context.Background()

	_, _ = p.CreateTerminal(ctx, CreateOptions{Category: CategoryConsole, FeatureKey: "a"})

	srv.mu.Lock()
	srv.exists = false
	srv.windows = make(map[int]string)
	srv.mu.Unlock()

	p.Reconcile(ctx)
	if got := len(p.ActiveTerminals()); got != 0 {
		t.Errorf("expected empty registry after session loss, got %d", got)
	}
}
