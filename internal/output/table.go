package output

import (
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/mailrelay/mailrelay/internal/core"
)

// TableFormatter renders deliveries as an ASCII table.
type TableFormatter struct{}

// FormatDeliveries renders deliveries as a table with a sent/failed footer.
func (f *TableFormatter) FormatDeliveries(records []core.DeliveryRecord) (string, error) {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Time", "Identity", "To", "Subject", "Status", "Duration", "Error"})

	sent := 0
	for _, rec := range records {
		if rec.Status == core.DeliverySent {
			sent++
		}
		t.AppendRow(table.Row{
			formatTime(rec.CreatedAt),
			rec.Identity,
			rec.To,
			rec.Subject,
			string(rec.Status),
			formatDuration(rec.Duration),
			errorNote(rec),
		})
	}

	if len(records) == 0 {
		t.AppendRow(table.Row{"", "", "(no deliveries)", "", "", "", ""})
	} else {
		t.AppendFooter(table.Row{
			"",
			"",
			"",
			"",
			fmt.Sprintf("%d/%d sent", sent, len(records)),
			"",
			"",
		})
	}

	return t.Render(), nil
}
