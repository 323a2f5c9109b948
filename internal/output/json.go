package output

import (
	"encoding/json"

	"github.com/mailrelay/mailrelay/internal/core"
)

// JSONFormatter renders deliveries as JSON.
type JSONFormatter struct {
	Indent bool
}

type deliveryJSON struct {
	RequestID  string `json:"request_id"`
	Identity   string `json:"identity"`
	From       string `json:"from"`
	To         string `json:"to"`
	Subject    string `json:"subject"`
	Status     string `json:"status"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	CreatedAt  string `json:"created_at"`
}

// FormatDeliveries renders deliveries as a JSON array.
func (f *JSONFormatter) FormatDeliveries(records []core.DeliveryRecord) (string, error) {
	rows := make([]deliveryJSON, 0, len(records))
	for _, rec := range records {
		rows = append(rows, deliveryJSON{
			RequestID:  rec.RequestID,
			Identity:   rec.Identity,
			From:       rec.From,
			To:         rec.To,
			Subject:    rec.Subject,
			Status:     string(rec.Status),
			Error:      rec.Error,
			DurationMS: rec.Duration.Milliseconds(),
			CreatedAt:  formatTime(rec.CreatedAt),
		})
	}

	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(rows, "", "  ")
	} else {
		data, err = json.Marshal(rows)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}
