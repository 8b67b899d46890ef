package app

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration rpmannotate would use, after applying the
config file, RPMANNOTATE_* environment variables and flags, as YAML.
The sink password is redacted.`,
	Example: `  # Show configuration
  rpmannotate config

  # Check what a config file resolves to
  rpmannotate --config ./config.yaml config`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	data, err := cfg.Redacted().YAML()
	if err != nil {
		return fmt.Errorf("failed to render config: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}
