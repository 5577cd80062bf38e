package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"algodesk/internal/httpapi"
)

var replayReq httpapi.ReplayRequest

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay recorded ticks into a running BACKTEST session",
	Example: `  algodesk start backtest
  algodesk replay --start 2025-01-02 --end 2025-01-03 --symbols AAPL,MSFT --speed 60`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		if err := newClient().Replay(ctx, replayReq); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "replay started; follow it with \"algodesk watch\"")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&replayReq.Start, "start", "", "start date or RFC 3339 time (required)")
	replayCmd.Flags().StringVar(&replayReq.End, "end", "", "end date or RFC 3339 time (required)")
	replayCmd.Flags().StringSliceVar(&replayReq.Symbols, "symbols", nil, "symbols to replay (default: all recorded)")
	replayCmd.Flags().Float64Var(&replayReq.Speed, "speed", 0, "pacing factor; 0 replays without delay")
	replayCmd.MarkFlagRequired("start")
	replayCmd.MarkFlagRequired("end")
}
