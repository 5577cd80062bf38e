package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
)

var uploadCmd = &cobra.Command{
	Use:   "upload FILE.js",
	Short: "Upload and load a JavaScript strategy",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		src, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		ctx, cancel := requestContext(cmd)
		defer cancel()
		resp, err := newClient().UploadStrategy(ctx, filepath.Base(args[0]), src)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "loaded %s (%s)\n", resp.Strategy, capabilityList(resp.Capabilities.Initialize, resp.Capabilities.OnTick, resp.Capabilities.OnOrderUpdate))
		return nil
	},
}

var loadCmd = &cobra.Command{
	Use:   "load NAME",
	Short: "Load a built-in strategy or a saved script",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		resp, err := newClient().LoadStrategy(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "loaded %s %s (%s)\n", resp.Kind, resp.Strategy, capabilityList(resp.Capabilities.Initialize, resp.Capabilities.OnTick, resp.Capabilities.OnOrderUpdate))
		return nil
	},
}

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List built-in strategies and saved scripts",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, cancel := requestContext(cmd)
		defer cancel()
		resp, err := newClient().Strategies(ctx)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "builtin: %s\n", strings.Join(resp.Builtin, ", "))
		fmt.Fprintf(out, "scripts: %s\n", strings.Join(resp.Scripts, ", "))
		if resp.Loaded != "" {
			fmt.Fprintf(out, "loaded:  %s\n", resp.Loaded)
		}
		return nil
	},
}

func capabilityList(initialize, onTick, onOrderUpdate bool) string {
	var caps []string
	if initialize {
		caps = append(caps, "initialize")
	}
	if onTick {
		caps = append(caps, "onTick")
	}
	if onOrderUpdate {
		caps = append(caps, "onOrderUpdate")
	}
	return strings.Join(caps, ", ")
}

func init() {
	rootCmd.AddCommand(uploadCmd, loadCmd, strategiesCmd)
}
