package main

import (
	"PerpLiquidator/internal/config"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := &cobra.Command{
		Use:           "liquidator",
		Short:         "Perpetual futures liquidation and risk-capacity engine",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(serveCmd(), checkConfigCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: %v\n", err)
		os.Exit(1)
	}
}

func checkConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config <bootstrap.yaml>",
		Short: "Validate a bootstrap file and print the events it would apply",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := config.LoadBootstrap(args[0])
			if err != nil {
				return err
			}
			events, err := b.Events()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, evt := range events {
				fmt.Fprintf(out, "%-26s %s\n", evt.EventType(), evt.IdempotencyKey())
			}
			fmt.Fprintf(out, "%d markets, %d fee tiers, %d endorsed keepers\n",
				len(b.Markets), len(b.FeeTiers), len(b.EndorsedKeepers))
			return nil
		},
	}
}
