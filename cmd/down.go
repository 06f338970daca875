package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Tear down the workspace session",
	Long: `Kill the workspace session and every terminal in it.

The kill is synchronous: when the command returns, no managed window
survives.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config: %w", err)
		}

		p, err := buildProvider(cfg, nil, false)
		if err != nil {
			return err
		}
		if err := p.Initialize(cmd.Context()); err != nil {
			return fmt.Errorf("initialize provider: %w", err)
		}

		n := len(p.ActiveTerminals())
		if err := p.Dispose(cmd.Context()); err != nil {
			return err
		}
		fmt.Printf("closed %d terminal(s)\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(downCmd)
}
