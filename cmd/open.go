package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/timvw/termkeeper/internal/provider"
)

var (
	flagOpenCategory string
	flagOpenName     string
	flagOpenFeature  string
	flagOpenCwd      string
	flagOpenEnv      []string
	flagOpenBase     bool
	flagOpenNoShow   bool
)

var openCmd = &cobra.Command{
	Use:   "open",
	Short: "Create a terminal in the workspace session",
	Long: `Create a named terminal window in the workspace session and print its
handle ID.

The category and feature key are encoded into the window name, so the
terminal survives a restart of the managing process and is re-adopted
on the next run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}
		tel := initTelemetry(cmd.Context(), cfg)
		if tel != nil {
			defer tel.Shutdown(cmd.Context())
		}

		p, err := buildProvider(cfg, tel, false)
		if err != nil {
			return err
		}
		defer p.Close()
		if err := p.Initialize(cmd.Context()); err != nil {
			return fmt.Errorf("initialize provider: %w", err)
		}

		env, err := parseEnvFlags(flagOpenEnv)
		if err != nil {
			return err
		}

		t, err := p.CreateTerminal(cmd.Context(), provider.CreateOptions{
			Name:       flagOpenName,
			Category:   provider.Category(flagOpenCategory),
			Cwd:        flagOpenCwd,
			Env:        env,
			FeatureKey: flagOpenFeature,
			IsBase:     flagOpenBase,
			Show:       !flagOpenNoShow,
		})
		if err != nil {
			return fmt.Errorf("create terminal: %w", err)
		}

		fmt.Println(t.ID())
		return nil
	},
}

func parseEnvFlags(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	env := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		idx := strings.IndexByte(pair, '=')
		if idx <= 0 {
			return nil, fmt.Errorf("invalid --env %q (want KEY=VALUE)", pair)
		}
		env[pair[:idx]] = pair[idx+1:]
	}
	return env, nil
}

func init() {
	openCmd.Flags().StringVar(&flagOpenCategory, "category", "console", "terminal category: agent, console, test, prerun")
	openCmd.Flags().StringVar(&flagOpenName, "name", "", "free-text label (command label for agent terminals)")
	openCmd.Flags().StringVar(&flagOpenFeature, "feature", "", "feature key the terminal belongs to (empty: global)")
	openCmd.Flags().StringVar(&flagOpenCwd, "cwd", "", "working directory for the window's shell")
	openCmd.Flags().StringArrayVar(&flagOpenEnv, "env", nil, "extra environment, KEY=VALUE (repeatable)")
	openCmd.Flags().BoolVar(&flagOpenBase, "base", false, "mark as the scope's base (fallback) terminal")
	openCmd.Flags().BoolVar(&flagOpenNoShow, "no-show", false, "do not select the window after creation")
	rootCmd.AddCommand(openCmd)
}
