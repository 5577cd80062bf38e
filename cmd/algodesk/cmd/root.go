// Package cmd implements the algodesk command line.
package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/spf13/cobra"

	"algodesk/internal/config"
	"algodesk/pkg/algodesk"
)

const defaultConfigPath = "config/algodesk.yaml"

var (
	cfgFile    string
	serverURL  string
	grpcAddr   string
	reqTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "algodesk",
	Short: "Algorithmic trading desk",
	Long: `algodesk runs trading strategies against live, paper or backtest
execution and exposes the desk over HTTP, WebSocket and gRPC.

Run "algodesk serve" to start the server; the other commands talk to a
running server.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default $ALGODESK_CONFIG or "+defaultConfigPath+")")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", envOr("ALGODESK_URL", "http://localhost:5000"), "server base URL")
	rootCmd.PersistentFlags().StringVar(&grpcAddr, "grpc", envOr("ALGODESK_GRPC", "localhost:9090"), "server gRPC address")
	rootCmd.PersistentFlags().DurationVar(&reqTimeout, "timeout", 30*time.Second, "request timeout")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// loadConfig resolves the config path from --config, then ALGODESK_CONFIG,
// then the default path when it exists. With no file the defaults apply.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		path = os.Getenv("ALGODESK_CONFIG")
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		} else if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return config.Load(path)
}

func newClient() *algodesk.Client {
	return algodesk.NewClient(serverURL, algodesk.WithGRPCAddr(grpcAddr))
}

func requestContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), reqTimeout)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
