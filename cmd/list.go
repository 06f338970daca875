package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var flagListFeature string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List managed terminals",
	Long: `List the terminals in the workspace session, one per line:
handle ID, category, feature key, and activity state.

Only windows whose names follow the management grammar are listed;
windows the user created by hand are left alone.`,
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

		terminals := p.ActiveTerminals()
		if flagListFeature != "" {
			terminals = p.TerminalsByFeature(flagListFeature)
		}

		for _, t := range terminals {
			state := "-"
			switch {
			case t.IsActive():
				state = "active"
			case t.IsIdle():
				state = "idle"
			}
			feature := t.FeatureKey()
			if feature == "" {
				feature = "-"
			}
			fmt.Printf("%s\t%s\t%s\t%s\t%s\n", t.ID(), t.Category(), feature, state, t.Name())
		}
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&flagListFeature, "feature", "", "only terminals of this feature key")
	rootCmd.AddCommand(listCmd)
}
