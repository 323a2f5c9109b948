package output

import (
	"fmt"
	"strings"

	"github.com/mailrelay/mailrelay/internal/core"
)

// MarkdownFormatter renders deliveries as a markdown table.
type MarkdownFormatter struct{}

// FormatDeliveries renders deliveries as Markdown.
func (f *MarkdownFormatter) FormatDeliveries(records []core.DeliveryRecord) (string, error) {
	var sb strings.Builder
	sb.WriteString("## Deliveries\n\n")
	sb.WriteString("| Time | Identity | To | Subject | Status | Duration | Error |\n")
	sb.WriteString("|------|----------|----|---------|--------|----------|-------|\n")

	for _, rec := range records {
		sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %s |\n",
			formatTime(rec.CreatedAt),
			escapeMarkdownCell(rec.Identity),
			escapeMarkdownCell(rec.To),
			escapeMarkdownCell(rec.Subject),
			string(rec.Status),
			formatDuration(rec.Duration),
			escapeMarkdownCell(errorNote(rec)),
		))
	}

	if len(records) == 0 {
		sb.WriteString("\n_No deliveries recorded._\n")
	}
	return sb.String(), nil
}

func escapeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.ReplaceAll(value, "|", "\\|")
}
