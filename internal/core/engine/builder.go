package engine

import (
	"errors"
	"net/mail"
	"strings"

	"github.com/mailrelay/mailrelay/internal/core"
)

// Builder resolves request fields against the configured defaults and
// produces a validated OutboundMessage.
type Builder struct {
	Defaults core.MessageDefaults
}

// Build applies defaults to the empty fields of req and validates both
// addresses. Subject and body are copied unchanged.
func (b Builder) Build(req core.EmailRequest) (*core.OutboundMessage, error) {
	from := firstNonEmpty(req.From, b.Defaults.From)
	to := firstNonEmpty(req.To, b.Defaults.To)
	senderName := firstNonEmpty(req.SenderName, b.Defaults.SenderName)

	fromAddr, err := ParseAddress("from", from)
	if err != nil {
		return nil, err
	}
	toAddr, err := ParseAddress("to", to)
	if err != nil {
		return nil, err
	}

	return &core.OutboundMessage{
		From:    core.Mailbox{Name: senderName, Address: fromAddr},
		To:      core.Mailbox{Address: toAddr},
		Subject: req.Subject,
		Body:    req.Body,
	}, nil
}

// ParseAddress validates a bare address (no display name) and returns it in
// canonical form.
func ParseAddress(field, value string) (string, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "", &AddressFormatError{Field: field, Value: value, Err: errors.New("address is empty")}
	}

	addr, err := mail.ParseAddress(trimmed)
	if err != nil {
		return "", &AddressFormatError{Field: field, Value: value, Err: err}
	}
	if addr.Name != "" {
		return "", &AddressFormatError{Field: field, Value: value, Err: errors.New("display name not allowed here")}
	}
	return addr.Address, nil
}

func firstNonEmpty(value, fallback string) string {
	if value != "" {
		return value
	}
	return fallback
}
