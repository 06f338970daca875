package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var flagCaptureHistory bool

var captureCmd = &cobra.Command{
	Use:   "capture <terminal-id>",
	Short: "Capture a terminal's buffer",
	Long: `Capture the text content of a managed terminal's pane and print it to
stdout. With --history the full scrollback is included instead of just
the visible screen.

This is pure transport — no interpretation of the content.`,
	Args: cobra.ExactArgs(1),
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

		t, ok := p.TerminalByID(args[0])
		if !ok {
			return fmt.Errorf("no terminal %q", args[0])
		}

		content, err := t.Buffer(cmd.Context(), flagCaptureHistory)
		if err != nil {
			return fmt.Errorf("failed to capture %q: %w", args[0], err)
		}
		if tel != nil {
			tel.Metrics.RecordCaptureBytes(cmd.Context(), int64(len(content)))
		}

		fmt.Fprint(os.Stdout, content)
		return nil
	},
}

func init() {
	captureCmd.Flags().BoolVar(&flagCaptureHistory, "history", false, "include the full scrollback history")
	rootCmd.AddCommand(captureCmd)
}
