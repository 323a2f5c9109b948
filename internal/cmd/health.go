package cmd

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fulmenhq/gofulmen/ascii"
	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"

	"github.com/mailrelay/mailrelay/internal/config"
	errwrap "github.com/mailrelay/mailrelay/internal/errors"
	"github.com/mailrelay/mailrelay/internal/observability"
	"github.com/mailrelay/mailrelay/internal/transport"
)

type selfCheck struct {
	name string
	run  func(ctx context.Context, cfg *config.Config) error
}

// selfChecks run offline; the SMTP server is only contacted by transport check.
var selfChecks = []selfCheck{
	{name: "version", run: func(context.Context, *config.Config) error {
		if versionInfo.Version == "" {
			return errwrap.NewInternalError("version information missing")
		}
		return nil
	}},
	{name: "config", run: func(_ context.Context, cfg *config.Config) error {
		return cfg.Validate()
	}},
	{name: "transport", run: func(_ context.Context, cfg *config.Config) error {
		transportCfg, err := cfg.TransportConfig()
		if err != nil {
			return err
		}
		_, err = transport.NewSMTPTransport(transportCfg)
		return err
	}},
	{name: "delivery log", run: func(ctx context.Context, cfg *config.Config) error {
		if !cfg.Store.Enabled {
			return nil
		}
		db, err := openStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup
		return db.CheckHealth(ctx)
	}},
}

// runSelfChecks writes a boxed report and returns the number of failures.
func runSelfChecks(ctx context.Context, cfg *config.Config, w io.Writer) int {
	lines := []string{"mailrelay health", ""}
	failures := 0
	for _, check := range selfChecks {
		if err := check.run(ctx, cfg); err != nil {
			failures++
			lines = append(lines, fmt.Sprintf("FAIL  %s: %v", check.name, err))
			continue
		}
		lines = append(lines, "OK    "+check.name)
	}
	lines = append(lines, "", fmt.Sprintf("%d/%d checks passed", len(selfChecks)-failures, len(selfChecks)))
	_, _ = fmt.Fprint(w, ascii.DrawBox(strings.Join(lines, "\n"), 0))
	return failures
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Run self-health check",
	Long:  "Verify the configuration, transport settings and delivery log without sending mail.",
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(false)
		if err != nil {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid, "Failed to load configuration", err)
			return
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
		defer cancel()

		if failures := runSelfChecks(ctx, cfg, cmd.OutOrStdout()); failures > 0 {
			ExitWithCode(observability.CLILogger, foundry.ExitConfigInvalid,
				fmt.Sprintf("%d health check(s) failed", failures), nil)
		}
	},
}

func init() {
	rootCmd.AddCommand(healthCmd)
}
