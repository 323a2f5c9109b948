package transport

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	gomail "gopkg.in/gomail.v2"

	"github.com/mailrelay/mailrelay/internal/core"
)

var headerNewlines = strings.NewReplacer("\r\n", " ", "\r", " ", "\n", " ")

// composeMessage renders msg as an RFC 5322 text/plain message. The domain
// is used for the Message-ID.
func composeMessage(msg *core.OutboundMessage, domain string, now time.Time) *gomail.Message {
	m := gomail.NewMessage()
	if msg.From.Name != "" {
		m.SetAddressHeader("From", msg.From.Address, headerNewlines.Replace(msg.From.Name))
	} else {
		m.SetHeader("From", msg.From.Address)
	}
	m.SetHeader("To", msg.To.Address)
	m.SetHeader("Subject", headerNewlines.Replace(msg.Subject))
	m.SetHeader("Message-ID", fmt.Sprintf("<%s@%s>", uuid.New().String(), domain))
	m.SetDateHeader("Date", now)
	m.SetBody("text/plain", msg.Body)
	return m
}

// writeMessage streams the rendered message to w.
func writeMessage(w io.Writer, msg *core.OutboundMessage, domain string, now time.Time) error {
	_, err := composeMessage(msg, domain, now).WriteTo(w)
	return err
}
