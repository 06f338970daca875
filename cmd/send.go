package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

var flagSendNoEnter bool

var sendCmd = &cobra.Command{
	Use:   "send <terminal-id> <text>...",
	Short: "Type text into a terminal",
	Long: `Type text into a managed terminal's active pane.

By default the text is confirmed with Enter, running it as a command.
With --no-enter the text is only typed, leaving the prompt pending.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}

		p, err := buildProvider(cfg, nil, false)
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

		text := strings.Join(args[1:], " ")
		if flagSendNoEnter {
			return t.SendText(cmd.Context(), text)
		}
		return t.SendCommand(cmd.Context(), text)
	},
}

func init() {
	sendCmd.Flags().BoolVar(&flagSendNoEnter, "no-enter", false, "type the text without confirming it with Enter")
	rootCmd.AddCommand(sendCmd)
}
