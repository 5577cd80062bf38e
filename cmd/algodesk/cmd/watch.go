package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"algodesk/internal/live"
)

var watchTypes []string

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stream server events over gRPC",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer cancel()
		out := cmd.OutOrStdout()
		return newClient().SubscribeEvents(ctx, watchTypes, func(evt live.Event) {
			printEvent(out, evt)
		})
	},
}

// printEvent renders log events as "[time] LEVEL message" and everything
// else as JSON.
func printEvent(w io.Writer, evt live.Event) {
	if evt.Type == live.EventLog {
		if m, ok := evt.Data.(map[string]any); ok {
			fmt.Fprintf(w, "[%v] %-7v %v\n", m["timestamp"], m["type"], m["message"])
			return
		}
	}
	raw, err := json.Marshal(evt.Data)
	if err != nil {
		raw = []byte(fmt.Sprint(evt.Data))
	}
	fmt.Fprintf(w, "%s %s %s\n", evt.Time.Local().Format("15:04:05"), evt.Type, raw)
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringSliceVar(&watchTypes, "types", nil, "event types to show (log, order_update, market_data, status)")
}
