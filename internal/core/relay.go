package core

import (
	"fmt"
	"time"
)

// UnknownIdentity is the rate-limit key used when a request carries no
// forwarding header.
const UnknownIdentity = "unknown"

// EmailRequest is the decoded body of a send request. From, To and SenderName
// may be empty, in which case the configured defaults apply.
type EmailRequest struct {
	From       string `json:"from"`
	To         string `json:"to"`
	SenderName string `json:"sender_name"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
}

// MessageDefaults holds the statically configured fallbacks for a message.
type MessageDefaults struct {
	From       string
	To         string
	SenderName string
}

// Mailbox is an address with an optional display name.
type Mailbox struct {
	Name    string
	Address string
}

// String renders the mailbox as "Name <address>", or the bare address when
// there is no display name.
func (m Mailbox) String() string {
	if m.Name == "" {
		return m.Address
	}
	return fmt.Sprintf("%s <%s>", m.Name, m.Address)
}

// OutboundMessage is a transport-ready message. It is built once per request
// and not modified afterwards.
type OutboundMessage struct {
	From    Mailbox
	To      Mailbox
	Subject string
	Body    string
}

// DeliveryStatus classifies the result of a send attempt.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// DeliveryRecord describes one transport send attempt.
type DeliveryRecord struct {
	RequestID string
	Identity  string
	From      string
	To        string
	Subject   string
	Status    DeliveryStatus
	Error     string
	Duration  time.Duration
	CreatedAt time.Time
}
