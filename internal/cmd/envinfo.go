package cmd

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/fulmenhq/gofulmen/crucible"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mailrelay/mailrelay/internal/observability"
)

var envInfoCmd = &cobra.Command{
	Use:   "envinfo",
	Short: "Display environment information",
	Long:  "Display environment, configuration, and version information.",
	Run: func(cmd *cobra.Command, args []string) {
		log := observability.CLILogger
		version := crucible.GetVersion()

		log.Info("=== mailrelay Environment Information ===")
		log.Info("")

		log.Info("Application:")
		log.Info("  Version:    " + versionInfo.Version)
		log.Info("  Commit:     " + versionInfo.Commit)
		log.Info("  Built:      " + versionInfo.BuildDate)
		log.Info("")

		log.Info("SSOT:")
		log.Info("  Gofulmen:   "+version.Gofulmen, zap.String("gofulmen_version", version.Gofulmen))
		log.Info("  Crucible:   "+version.Crucible, zap.String("crucible_version", version.Crucible))
		log.Info("")

		log.Info("Runtime:")
		log.Info("  Go Version: "+runtime.Version(), zap.String("go_version", runtime.Version()))
		log.Info("  GOOS:       "+runtime.GOOS, zap.String("goos", runtime.GOOS))
		log.Info("  GOARCH:     "+runtime.GOARCH, zap.String("goarch", runtime.GOARCH))
		log.Info("")

		cfg, err := loadConfig(false)
		if err != nil {
			log.Warn("Config load failed", zap.Error(err))
			return
		}

		mode, modeErr := cfg.SecurityMode()
		security := mode.String()
		if modeErr != nil {
			security = "invalid: " + modeErr.Error()
		}

		log.Info("Configuration:")
		log.Info("  Config File:    " + configSource())
		log.Info("  Listen:         " + cfg.Addr())
		log.Info("  SMTP Server:    " + fmt.Sprintf("%s:%d", cfg.SMTP.Server, cfg.SMTP.Port))
		log.Info("  SMTP Security:  " + security)
		log.Info("  Default From:   " + cfg.Email.From)
		log.Info("  Default To:     " + cfg.Email.To)
		log.Info(fmt.Sprintf("  Rate Limit:     %d per %s (%s)", cfg.RateLimit.Capacity, cfg.RateLimit.Window, cfg.RateLimit.IdentitySource))
		log.Info("  Log Level:      " + cfg.Logging.Level)
		if !cfg.Store.Enabled {
			log.Info("  Delivery Log:   disabled")
		} else if strings.TrimSpace(cfg.Store.URL) != "" {
			log.Info("  Delivery Log:   " + cfg.Store.URL)
		} else {
			log.Info("  Delivery Log:   " + cfg.Store.Path)
		}
		log.Info(fmt.Sprintf("  Metrics:        %t (port %d)", cfg.Metrics.Enabled, cfg.Metrics.Port))
	},
}

func configSource() string {
	if used := viper.ConfigFileUsed(); used != "" {
		return used
	}
	return "(none)"
}

func init() {
	rootCmd.AddCommand(envInfoCmd)
}
