package cmd

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"algodesk/internal/api"
	"algodesk/internal/util"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the trading desk server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(log)

	srv, err := api.NewServer(cfg, log)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	log.Info("algodesk starting", "host", cfg.Server.Host, "port", cfg.Server.Port, "grpc_port", cfg.Server.GRPCPort, "mode", cfg.Trading.DefaultMode)
	return srv.ListenAndServe(ctx)
}
