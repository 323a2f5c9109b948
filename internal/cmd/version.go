package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mailrelay/mailrelay/internal/server/handlers"
)

var extended bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  "Print version information. Use --extended for full details including Crucible and Go versions.",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := handlers.CurrentVersion()
		out := cmd.OutOrStdout()

		_, _ = fmt.Fprintf(out, "%s %s\n", info.App.Name, info.App.Version)
		if !extended {
			return nil
		}

		_, _ = fmt.Fprintf(out, "Commit: %s\n", info.App.Commit)
		_, _ = fmt.Fprintf(out, "Built: %s\n", info.App.BuildDate)
		_, _ = fmt.Fprintf(out, "Go: %s\n", info.App.GoVersion)
		_, _ = fmt.Fprintf(out, "Platform: %s\n\n", info.Runtime.Platform)
		_, _ = fmt.Fprintf(out, "Gofulmen: %s\n", info.Dependencies.Gofulmen)
		_, _ = fmt.Fprintf(out, "Crucible: %s\n", info.Dependencies.Crucible)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
	versionCmd.Flags().BoolVarP(&extended, "extended", "e", false, "show extended version information")
}
