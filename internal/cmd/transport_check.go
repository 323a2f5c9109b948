package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mailrelay/mailrelay/internal/transport"
)

var transportCheckTimeout time.Duration

var transportCmd = &cobra.Command{
	Use:   "transport",
	Short: "Upstream SMTP helpers",
}

var transportCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Connect and authenticate to the SMTP server without sending",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}

		transportCfg, err := cfg.TransportConfig()
		if err != nil {
			return err
		}
		smtpTransport, err := transport.NewSMTPTransport(transportCfg)
		if err != nil {
			return err
		}

		timeout := transportCheckTimeout
		if timeout <= 0 {
			timeout = cfg.SendTimeout()
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		start := time.Now()
		if err := smtpTransport.Check(ctx); err != nil {
			return fmt.Errorf("smtp check %s (%s): %w", smtpTransport.Addr(), smtpTransport.Mode(), err)
		}

		authNote := "no auth"
		if transportCfg.Username != "" {
			authNote = "authenticated as " + transportCfg.Username
		}
		_, err = fmt.Fprintf(cmd.OutOrStdout(), "OK %s (%s, %s) in %s\n",
			smtpTransport.Addr(), smtpTransport.Mode(), authNote, time.Since(start).Round(time.Millisecond))
		return err
	},
}

func init() {
	rootCmd.AddCommand(transportCmd)
	transportCmd.AddCommand(transportCheckCmd)

	transportCheckCmd.Flags().DurationVar(&transportCheckTimeout, "timeout", 0, "Overall timeout (default smtp.timeout)")
}
