package cmd

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/timvw/termkeeper/internal/events"
	"github.com/timvw/termkeeper/internal/provider"
	"github.com/timvw/termkeeper/internal/watch"
)

var (
	flagWatchNoEmbed     bool
	flagWatchControl     bool
	flagWatchEventSocket string
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Interactive dashboard over the workspace terminals",
	Long: `Launch an interactive terminal UI showing the managed terminals, their
activity state, and a live pane preview. Terminals can be jumped to or
typed into directly.

If not already running inside tmux, the dashboard automatically
re-launches itself in a new tmux session so that jumping works. Use
--no-embed to disable this behavior.

Lifecycle events (created, closed, activity, idle) are published as
JSON datagrams on a unix socket for external consumers.

Configuration is loaded from .termkeeper.yaml or environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runWatch()
	},
}

func init() {
	watchCmd.Flags().BoolVar(&flagWatchNoEmbed, "no-embed", false,
		"Do not auto-embed in a tmux session (jumping will not work outside tmux)")
	watchCmd.Flags().BoolVar(&flagWatchControl, "control-mode", false,
		"Use the tmux control-mode event stream instead of polling")
	watchCmd.Flags().StringVar(&flagWatchEventSocket, "event-socket", "",
		"Unix datagram socket path for lifecycle events")
	rootCmd.AddCommand(watchCmd)
}

func runWatch() error {
	// Auto-embed in tmux if not already inside one. Jumping
	// (select-window) needs an attached client, so we re-exec the same
	// command inside a new tmux session.
	if !flagWatchNoEmbed {
		autoEmbedInTmux()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if cfg.ConfigFile != "" {
		fmt.Fprintf(os.Stderr, "config: loaded %s\n", cfg.ConfigFile)
	}

	tel := initTelemetry(ctx, cfg)
	if tel != nil {
		defer tel.Shutdown(ctx)
	}

	controlMode := cfg.ControlMode || flagWatchControl
	p, err := buildProvider(cfg, tel, controlMode)
	if err != nil {
		return err
	}
	defer p.Close()

	// Wire the lifecycle event publisher before Initialize so adoption
	// and early reconciliation are observable.
	socketPath := flagWatchEventSocket
	if socketPath == "" {
		socketPath = cfg.EventSocket
	}
	if socketPath == "" {
		socketPath = events.DefaultSocketPath()
	}
	store := events.NewStore(cfg.EventTTLDuration)
	publisher := events.NewPublisher(store, socketPath)
	defer publisher.Close()
	wireEvents(p, publisher)
	fmt.Fprintf(os.Stderr, "events: publishing to %s\n", publisher.SocketPath())

	if err := p.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize provider: %w", err)
	}

	tui := &watch.TUI{
		Backend:         &providerBackend{p: p},
		RefreshInterval: cfg.RefreshDuration,
	}
	return tui.Run(ctx)
}

// wireEvents forwards provider callbacks to the datagram publisher.
func wireEvents(p *provider.Provider, pub *events.Publisher) {
	emit := func(t *provider.Terminal, typ string) {
		_ = pub.Publish(events.Event{
			Backend:    provider.BackendName,
			TerminalID: t.ID(),
			Feature:    t.FeatureKey(),
			Category:   string(t.Category()),
			Type:       typ,
			TS:         time.Now().UTC(),
		})
	}
	p.OnTerminalClosed(func(t *provider.Terminal) { emit(t, events.TypeClosed) })
	p.OnActivityDetected(func(t *provider.Terminal) { emit(t, events.TypeActivity) })
	p.OnIdleDetected(func(t *provider.Terminal) { emit(t, events.TypeIdle) })
	p.OnActiveTerminalChanged(func(t *provider.Terminal) { emit(t, events.TypeShown) })
}

// providerBackend adapts the provider to the dashboard's Backend.
type providerBackend struct {
	p *provider.Provider
}

func (b *providerBackend) Snapshot(ctx context.Context) ([]watch.Row, error) {
	terminals := b.p.ActiveTerminals()
	rows := make([]watch.Row, 0, len(terminals))
	for _, t := range terminals {
		rows = append(rows, watch.Row{
			ID:       t.ID(),
			Name:     t.Name(),
			Feature:  t.FeatureKey(),
			Category: string(t.Category()),
			Active:   t.IsActive(),
			Idle:     t.IsIdle(),
		})
	}
	return rows, nil
}

func (b *providerBackend) Preview(ctx context.Context, id string) (string, error) {
	t, ok := b.p.TerminalByID(id)
	if !ok {
		return "", fmt.Errorf("no terminal %q", id)
	}
	return t.Buffer(ctx, false)
}

func (b *providerBackend) Send(ctx context.Context, id, text string) error {
	t, ok := b.p.TerminalByID(id)
	if !ok {
		return fmt.Errorf("no terminal %q", id)
	}
	return t.SendCommand(ctx, text)
}

func (b *providerBackend) Jump(ctx context.Context, id string) error {
	t, ok := b.p.TerminalByID(id)
	if !ok {
		return fmt.Errorf("no terminal %q", id)
	}
	return t.Show(ctx, false)
}

// autoEmbedInTmux re-launches the current process inside a tmux session
// when not already running under tmux. On success, the current process
// is replaced (syscall.Exec) and this function never returns. On
// failure, it prints a warning and returns so the dashboard can run
// with degraded jumping.
func autoEmbedInTmux() {
	if os.Getenv("TMUX") != "" {
		return // already inside tmux
	}

	tmuxPath, err := exec.LookPath("tmux")
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: tmux not found in PATH, jumping will not work\n")
		return
	}

	exe, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not resolve executable path: %v\n", err)
		return
	}

	wd, err := os.Getwd()
	if err != nil {
		wd = "/"
	}

	// Pick a session name, avoiding conflicts with existing sessions.
	sessionName := "termkeeper-watch"
	hasSession := exec.Command(tmuxPath, "has-session", "-t", sessionName)
	if hasSession.Run() == nil {
		// Session exists — let tmux auto-name instead
		sessionName = ""
	}

	// Build: tmux new-session [-s name] -c <wd> <exe> <args...>
	tmuxArgs := []string{"tmux", "new-session"}
	if sessionName != "" {
		tmuxArgs = append(tmuxArgs, "-s", sessionName)
	}
	tmuxArgs = append(tmuxArgs, "-c", wd, exe)
	tmuxArgs = append(tmuxArgs, os.Args[1:]...)

	if sessionName != "" {
		fmt.Fprintf(os.Stderr, "not inside tmux — auto-embedding in tmux session %q\n", sessionName)
	} else {
		fmt.Fprintf(os.Stderr, "not inside tmux — auto-embedding in a new tmux session\n")
	}

	// Replace this process with tmux. On success, this never returns.
	if err := syscall.Exec(tmuxPath, tmuxArgs, os.Environ()); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not auto-embed in tmux: %v\n", err)
		fmt.Fprintf(os.Stderr, "jumping (Enter) will not work; use --no-embed to suppress this warning\n")
	}
}
