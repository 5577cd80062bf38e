package cmd

import (
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Validate the configuration and print the effective values",
	Long: `Load the configuration the same way "serve" does (file, then environment
overrides), validate it and print the result as YAML with secrets masked.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.Alpaca.APIKey != "" {
			cfg.Alpaca.APIKey = mask(cfg.Alpaca.APIKey)
		}
		if cfg.Alpaca.APISecret != "" {
			cfg.Alpaca.APISecret = mask(cfg.Alpaca.APISecret)
		}
		enc := yaml.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(cfg)
	},
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:4] + "****"
}

func init() {
	rootCmd.AddCommand(configCmd)
}
