package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Configuration helpers",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the configuration and print the effective values",
	Long: `Load the configuration from file, environment and defaults, validate it,
and print the effective settings as YAML with secrets masked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}

		rendered, err := cfg.YAML()
		if err != nil {
			return fmt.Errorf("render config: %w", err)
		}

		out := cmd.OutOrStdout()
		if used := viper.ConfigFileUsed(); used != "" {
			_, _ = fmt.Fprintf(out, "# source: %s\n", used)
		} else {
			_, _ = fmt.Fprintln(out, "# source: defaults and environment")
		}
		_, _ = fmt.Fprint(out, string(rendered))

		if err := cfg.Validate(); err != nil {
			return err
		}
		_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "configuration is valid")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configCheckCmd)
}
