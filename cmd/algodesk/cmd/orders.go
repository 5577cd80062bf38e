package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"algodesk/internal/domain"
	"algodesk/internal/httpapi"
	"algodesk/pkg/algodesk"
)

var (
	orderMode  string
	orderLimit float64

	listMode    string
	listStatus  string
	listLimit   int
	listHistory bool
)

var orderCmd = &cobra.Command{
	Use:   "order buy|sell SYMBOL QUANTITY",
	Short: "Place a manual order",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		qty, err := strconv.ParseInt(args[2], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid quantity %q", args[2])
		}
		req := httpapi.OrderRequest{Side: args[0], Symbol: args[1], Quantity: qty, Mode: orderMode}
		if cmd.Flags().Changed("limit") {
			req.OrderType = string(domain.OrderTypeLimit)
			req.Price = &orderLimit
		}

		ctx, cancel := requestContext(cmd)
		defer cancel()
		rec, err := newClient().PlaceOrder(ctx, req)
		if rec.Status != "" {
			printOrders(cmd, []domain.OrderRecord{rec})
		}
		return err
	},
}

var ordersCmd = &cobra.Command{
	Use:   "orders",
	Short: "List orders",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		q := algodesk.OrderQuery{Mode: listMode, Status: listStatus, Limit: listLimit}
		c := newClient()
		list := c.Orders
		if listHistory {
			list = c.History
		}
		records, err := list(ctx, q)
		if err != nil {
			return err
		}
		printOrders(cmd, records)
		return nil
	},
}

var positionsCmd = &cobra.Command{
	Use:   "positions",
	Short: "Show positions",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		positions, err := newClient().Positions(ctx, listMode)
		if err != nil {
			return err
		}
		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "SYMBOL\tQTY\tAVG\tLAST\tUNREALIZED\tREALIZED")
		for _, p := range positions {
			fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\t%s\n", p.Symbol, p.Quantity,
				p.AvgPrice.StringFixed(2), p.LastPrice.StringFixed(2),
				p.UnrealizedPnL.StringFixed(2), p.RealizedPnL.StringFixed(2))
		}
		return tw.Flush()
	},
}

var pnlCmd = &cobra.Command{
	Use:   "pnl",
	Short: "Show profit and loss",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		pnl, err := newClient().PnL(ctx, listMode)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "realized %s  unrealized %s  total %s\n",
			pnl.Realized.StringFixed(2), pnl.Unrealized.StringFixed(2), pnl.Total.StringFixed(2))
		return nil
	},
}

func printOrders(cmd *cobra.Command, records []domain.OrderRecord) {
	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PLACED\tMODE\tORDER\tSIDE\tQTY\tSYMBOL\tSTATUS\tPRICE\tERROR")
	for _, r := range records {
		price := "-"
		if r.ExecutedPrice != nil {
			price = r.ExecutedPrice.String()
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\t%s\t%s\n",
			r.PlacedAt.Local().Format("15:04:05"), r.Mode, r.OrderID, r.Side, r.Quantity, r.Symbol, r.Status, price, r.Error)
	}
	tw.Flush()
}

func init() {
	rootCmd.AddCommand(orderCmd, ordersCmd, positionsCmd, pnlCmd)

	orderCmd.Flags().StringVar(&orderMode, "mode", "", "execution mode (default: session mode)")
	orderCmd.Flags().Float64Var(&orderLimit, "limit", 0, "limit price; places a LIMIT order")

	ordersCmd.Flags().StringVar(&listMode, "mode", "", "filter by mode")
	ordersCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	ordersCmd.Flags().IntVar(&listLimit, "limit", 0, "show only the latest N orders")
	ordersCmd.Flags().BoolVar(&listHistory, "history", false, "read the persistent journal")

	positionsCmd.Flags().StringVar(&listMode, "mode", "", "mode (default: session mode)")
	pnlCmd.Flags().StringVar(&listMode, "mode", "", "mode (default: session mode)")
}
