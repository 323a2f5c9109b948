package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mailrelay/mailrelay/internal/core"
	"github.com/mailrelay/mailrelay/internal/core/store"
	"github.com/mailrelay/mailrelay/internal/output"
)

var (
	deliveriesLimit    int
	deliveriesIdentity string
	deliveriesStatus   string
	deliveriesFormat   string
	deliveriesOut      string
)

var deliveriesCmd = &cobra.Command{
	Use:   "deliveries",
	Short: "Inspect the delivery log",
}

var deliveriesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent send attempts, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := output.ParseFormat(deliveriesFormat)
		if err != nil {
			return err
		}

		query, err := deliveryQueryFromFlags()
		if err != nil {
			return err
		}

		cfg, err := loadConfig(false)
		if err != nil {
			return err
		}

		db, err := openStore(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer db.Close() // nolint:errcheck // best-effort cleanup

		records, err := db.ListDeliveries(cmd.Context(), query)
		if err != nil {
			return err
		}

		rendered, err := output.NewFormatter(format).FormatDeliveries(records)
		if err != nil {
			return err
		}

		sink, err := openSink(deliveriesOut, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		defer func() { _ = sink.close() }()

		_, err = fmt.Fprintln(sink.writer, rendered)
		return err
	},
}

func deliveryQueryFromFlags() (store.DeliveryQuery, error) {
	if deliveriesLimit < 0 {
		return store.DeliveryQuery{}, fmt.Errorf("--limit must not be negative")
	}

	query := store.DeliveryQuery{
		Limit:    deliveriesLimit,
		Identity: strings.TrimSpace(deliveriesIdentity),
	}

	switch status := core.DeliveryStatus(strings.ToLower(strings.TrimSpace(deliveriesStatus))); status {
	case "":
	case core.DeliverySent, core.DeliveryFailed:
		query.Status = status
	default:
		return store.DeliveryQuery{}, fmt.Errorf("unsupported --status %q (want sent or failed)", deliveriesStatus)
	}

	return query, nil
}

func init() {
	rootCmd.AddCommand(deliveriesCmd)
	deliveriesCmd.AddCommand(deliveriesListCmd)

	deliveriesListCmd.Flags().IntVar(&deliveriesLimit, "limit", store.DefaultListLimit, "Maximum number of entries to show")
	deliveriesListCmd.Flags().StringVar(&deliveriesIdentity, "identity", "", "Only show entries for this rate-limit identity")
	deliveriesListCmd.Flags().StringVar(&deliveriesStatus, "status", "", "Only show entries with this status: sent|failed")
	deliveriesListCmd.Flags().StringVar(&deliveriesFormat, "output-format", string(output.FormatTable), "Output format: table|json|markdown")
	deliveriesListCmd.Flags().StringVar(&deliveriesOut, "out", "", "Write output to a file (default stdout)")
}
