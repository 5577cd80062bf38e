package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:       "start [live|paper|backtest]",
	Short:     "Start trading with the loaded strategy",
	Args:      cobra.MaximumNArgs(1),
	ValidArgs: []string{"live", "paper", "backtest"},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		mode := ""
		if len(args) == 1 {
			mode = args[0]
		}
		started, err := newClient().Start(ctx, mode)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "trading started in %s mode\n", started)
		return nil
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop trading",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		if err := newClient().Stop(ctx); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "trading stopped")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session status",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		st, err := newClient().Status(ctx)
		if err != nil {
			return err
		}
		return printJSON(cmd, st)
	},
}

func init() {
	rootCmd.AddCommand(startCmd, stopCmd, statusCmd)
}
