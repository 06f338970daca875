package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/timvw/termkeeper/internal/config"
	telem "github.com/timvw/termkeeper/internal/otel"
	"github.com/timvw/termkeeper/internal/provider"
)

// Version is injected at build time via -ldflags.
var Version = "dev"

var (
	// Global flags.
	flagWorkspace string
	flagSession   string
	flagSocket    string
	flagVerbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "termkeeper",
	Short: "tmux-backed terminal manager for coding-agent workflows",
	Long: `termkeeper manages a tmux session of named terminals for coding-agent
workflows: agent terminals, per-feature consoles, test runners, and a
base fallback window.

Terminal metadata is encoded in the window names, so a restart of the
managing process adopts surviving windows without disturbing whatever
is running in them. Activity and idleness are inferred from tmux's own
window flags.`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagWorkspace, "workspace", envOrDefault("TERMKEEPER_WORKSPACE", ""), "workspace identity the session name is derived from")
	rootCmd.PersistentFlags().StringVar(&flagSession, "session", envOrDefault("TERMKEEPER_SESSION", ""), "explicit tmux session name (overrides --workspace)")
	rootCmd.PersistentFlags().StringVar(&flagSocket, "socket", envOrDefault("TERMKEEPER_SOCKET", ""), "dedicated tmux server socket path")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "debug logging")
}

// loadConfig loads the layered configuration and applies the global
// flags on top (flags beat file and env).
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	if flagWorkspace != "" {
		cfg.Workspace = flagWorkspace
	}
	if flagSession != "" {
		cfg.Session = flagSession
	}
	if flagSocket != "" {
		cfg.Socket = flagSocket
	}
	if cfg.Workspace == "" && cfg.Session == "" {
		// Fall back to the current directory as workspace identity.
		if wd, err := os.Getwd(); err == nil {
			cfg.Workspace = wd
		}
	}
	return cfg, nil
}

// newLogger builds the slog logger used by all provider internals.
// Logs go to stderr so command stdout stays pipeable.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if flagVerbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// initTelemetry wires the build version into OTEL and initializes it.
// A failed init degrades to no-op telemetry rather than failing the
// command.
func initTelemetry(ctx context.Context, cfg *config.Config) *telem.Telemetry {
	telem.Version = Version
	tel, err := telem.Init(ctx, telem.OTELConfig{
		Endpoint: cfg.OTELEndpoint,
		Headers:  cfg.OTELHeaders,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: otel init failed: %v\n", err)
		return nil
	}
	return tel
}

// buildProvider constructs the provider from resolved configuration.
func buildProvider(cfg *config.Config, tel *telem.Telemetry, controlMode bool) (*provider.Provider, error) {
	var metrics *telem.Metrics
	if tel != nil {
		metrics = tel.Metrics
	}
	return provider.New(provider.Options{
		Workspace:         cfg.Workspace,
		Session:           cfg.Session,
		AppName:           cfg.AppName,
		Socket:            cfg.Socket,
		EnableActivity:    cfg.Activity,
		ControlMode:       controlMode,
		PollInterval:      cfg.PollDuration,
		ActiveDelay:       cfg.ActiveDelayDuration,
		Grace:             cfg.GraceDuration,
		ReconcileInterval: cfg.ReconcileDuration,
		Logger:            newLogger(),
		Metrics:           metrics,
	})
}

func envOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
