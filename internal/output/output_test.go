package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mailrelay/mailrelay/internal/core"
)

func sampleDeliveries() []core.DeliveryRecord {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return []core.DeliveryRecord{
		{
			RequestID: "req-2",
			Identity:  "10.0.0.1",
			From:      "Relay <relay@example.com>",
			To:        "ops@example.com",
			Subject:   "Disk | full",
			Status:    core.DeliveryFailed,
			Error:     "dial smtp: connection refused",
			Duration:  1500 * time.Millisecond,
			CreatedAt: at.Add(time.Minute),
		},
		{
			RequestID: "req-1",
			Identity:  "unknown",
			From:      "relay@example.com",
			To:        "ops@example.com",
			Subject:   "Hello",
			Status:    core.DeliverySent,
			Duration:  120 * time.Millisecond,
			CreatedAt: at,
		},
	}
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("md")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func TestFormatExtension(t *testing.T) {
	require.Equal(t, "json", FormatJSON.Extension())
	require.Equal(t, "md", FormatMarkdown.Extension())
	require.Equal(t, "txt", FormatTable.Extension())
}

func TestJSONFormatter(t *testing.T) {
	rendered, err := NewFormatter(FormatJSON).FormatDeliveries(sampleDeliveries())
	require.NoError(t, err)

	var rows []map[string]any
	require.NoError(t, json.Unmarshal([]byte(rendered), &rows))
	require.Len(t, rows, 2)
	require.Equal(t, "req-2", rows[0]["request_id"])
	require.Equal(t, "failed", rows[0]["status"])
	require.EqualValues(t, 1500, rows[0]["duration_ms"])
	require.Equal(t, "2026-03-01T12:01:00Z", rows[0]["created_at"])
	require.NotContains(t, rows[1], "error")
}

func TestJSONFormatterEmpty(t *testing.T) {
	rendered, err := (&JSONFormatter{}).FormatDeliveries(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", rendered)
}

func TestTableFormatter(t *testing.T) {
	rendered, err := NewFormatter(FormatTable).FormatDeliveries(sampleDeliveries())
	require.NoError(t, err)
	require.Contains(t, rendered, "IDENTITY")
	require.Contains(t, rendered, "10.0.0.1")
	require.Contains(t, rendered, "connection refused")
	require.Contains(t, strings.ToLower(rendered), "1/2 sent")
}

func TestTableFormatterEmpty(t *testing.T) {
	rendered, err := NewFormatter(FormatTable).FormatDeliveries(nil)
	require.NoError(t, err)
	require.Contains(t, rendered, "(no deliveries)")
}

func TestMarkdownFormatterEscapesCells(t *testing.T) {
	rendered, err := NewFormatter(FormatMarkdown).FormatDeliveries(sampleDeliveries())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(rendered, "## Deliveries"))
	require.Contains(t, rendered, `Disk \| full`)
	require.Contains(t, rendered, "| 2026-03-01T12:00:00Z | unknown |")
}
