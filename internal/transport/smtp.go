// Package transport delivers relay messages to an upstream SMTP server.
package transport

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"golang.org/x/time/rate"

	"github.com/mailrelay/mailrelay/internal/core"
)

const healthDialTimeout = 3 * time.Second

// Config describes how to reach and authenticate to the upstream server.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	Security SecurityMode
	// HeloName is sent in EHLO. Defaults to "localhost".
	HeloName string
	// DialTimeout bounds connection setup when the caller's context has no
	// deadline of its own.
	DialTimeout time.Duration
	// MaxPerSecond throttles sends across the whole process. Zero disables
	// throttling.
	MaxPerSecond float64
	// InsecureSkipVerify disables certificate verification. Test use only.
	InsecureSkipVerify bool
}

// SMTPTransport sends each message over a fresh SMTP session.
type SMTPTransport struct {
	cfg       Config
	addr      string
	tlsConfig *tls.Config
	throttle  *rate.Limiter
	dialer    *net.Dialer
	clock     func() time.Time
}

// NewSMTPTransport validates cfg and returns a ready transport. No network
// activity happens here.
func NewSMTPTransport(cfg Config) (*SMTPTransport, error) {
	host := strings.TrimSpace(cfg.Host)
	if host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("smtp port %d is out of range", cfg.Port)
	}
	if (cfg.Username == "") != (cfg.Password == "") {
		return nil, errors.New("smtp username and password must be set together")
	}
	if cfg.HeloName == "" {
		cfg.HeloName = "localhost"
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 30 * time.Second
	}
	cfg.Host = host

	t := &SMTPTransport{
		cfg:  cfg,
		addr: net.JoinHostPort(host, strconv.Itoa(cfg.Port)),
		tlsConfig: &tls.Config{
			ServerName:         host,
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: cfg.InsecureSkipVerify, // #nosec G402 -- opt-in for test relays
		},
		dialer: &net.Dialer{Timeout: cfg.DialTimeout},
		clock:  time.Now,
	}

	if cfg.MaxPerSecond > 0 {
		burst := int(cfg.MaxPerSecond)
		if burst < 1 {
			burst = 1
		}
		t.throttle = rate.NewLimiter(rate.Limit(cfg.MaxPerSecond), burst)
	}

	return t, nil
}

// Addr returns the host:port of the upstream server.
func (t *SMTPTransport) Addr() string {
	return t.addr
}

// Mode returns the configured security mode.
func (t *SMTPTransport) Mode() SecurityMode {
	return t.cfg.Security
}

// Send opens a session, submits msg and closes the session. The context
// deadline applies to the whole exchange; when it expires the connection is
// closed and any blocked command fails.
func (t *SMTPTransport) Send(ctx context.Context, msg *core.OutboundMessage) error {
	if msg == nil {
		return errors.New("nil message")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	if t.throttle != nil {
		if err := t.throttle.Wait(ctx); err != nil {
			return fmt.Errorf("send throttled: %w", err)
		}
	}

	sess, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer sess.close()
	client := sess.client

	if err := client.Mail(msg.From.Address, nil); err != nil {
		return stageError(ctx, "MAIL FROM", err)
	}
	if err := client.Rcpt(msg.To.Address, nil); err != nil {
		return stageError(ctx, "RCPT TO", err)
	}

	w, err := client.Data()
	if err != nil {
		return stageError(ctx, "DATA", err)
	}
	if err := writeMessage(w, msg, t.cfg.HeloName, t.clock()); err != nil {
		_ = w.Close()
		return stageError(ctx, "write message", err)
	}
	if err := w.Close(); err != nil {
		return stageError(ctx, "end of data", err)
	}

	if err := client.Quit(); err != nil {
		return stageError(ctx, "QUIT", err)
	}
	return nil
}

// Check connects, negotiates TLS and authenticates without sending mail.
func (t *SMTPTransport) Check(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	sess, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer sess.close()
	if err := sess.client.Quit(); err != nil {
		return stageError(ctx, "QUIT", err)
	}
	return nil
}

// CheckHealth reports whether the upstream server accepts connections. It
// dials, completes the TLS handshake for implicit TLS and hangs up without
// speaking SMTP. At most healthDialTimeout is spent.
func (t *SMTPTransport) CheckHealth(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, healthDialTimeout)
	defer cancel()

	conn, err := t.dial(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

// session is an open client whose connection is closed when ctx ends.
type session struct {
	client *smtp.Client
	stop   func() bool
}

func (s *session) close() {
	s.stop()
	_ = s.client.Close()
}

// connect dials, greets with HeloName, applies the security mode and
// authenticates.
func (t *SMTPTransport) connect(ctx context.Context) (*session, error) {
	var (
		sess *session
		err  error
	)
	switch t.cfg.Security {
	case ImplicitTLS:
		sess, err = t.open(ctx, false)
	case RequiredSTARTTLS:
		sess, err = t.open(ctx, true)
	default:
		sess, err = t.openOpportunistic(ctx)
	}
	if err != nil {
		return nil, err
	}

	if err := t.authenticate(ctx, sess.client); err != nil {
		sess.close()
		return nil, err
	}
	return sess, nil
}

// openOpportunistic checks the plaintext EHLO reply for STARTTLS and, when it
// is offered, reconnects and upgrades. go-smtp only upgrades as part of
// creating a client, so the first session is discarded.
func (t *SMTPTransport) openOpportunistic(ctx context.Context) (*session, error) {
	sess, err := t.open(ctx, false)
	if err != nil {
		return nil, err
	}
	if offered, _ := sess.client.Extension("STARTTLS"); !offered {
		return sess, nil
	}
	_ = sess.client.Quit()
	sess.close()
	return t.open(ctx, true)
}

// open dials one connection and returns a client that has completed EHLO
// with HeloName. With startTLS the connection is upgraded first and the
// HeloName greeting is sent over TLS.
func (t *SMTPTransport) open(ctx context.Context, startTLS bool) (*session, error) {
	conn, err := t.dial(ctx)
	if err != nil {
		return nil, err
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })

	var client *smtp.Client
	if startTLS {
		client, err = smtp.NewClientStartTLS(conn, t.tlsConfig)
		if err != nil {
			stop()
			_ = conn.Close()
			return nil, stageError(ctx, fmt.Sprintf("STARTTLS with %s", t.addr), err)
		}
	} else {
		client = smtp.NewClient(conn)
	}

	sess := &session{client: client, stop: stop}
	t.applyTimeouts(ctx, client)
	if err := client.Hello(t.cfg.HeloName); err != nil {
		sess.close()
		return nil, stageError(ctx, "EHLO", err)
	}
	return sess, nil
}

// dial connects to the server, completing the TLS handshake for implicit
// TLS.
func (t *SMTPTransport) dial(ctx context.Context) (net.Conn, error) {
	conn, err := t.dialer.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return nil, fmt.Errorf("dial smtp %s: %w", t.addr, err)
	}
	if t.cfg.Security != ImplicitTLS {
		return conn, nil
	}

	tlsConn := tls.Client(conn, t.tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		_ = conn.Close()
		return nil, stageError(ctx, "tls handshake", err)
	}
	return tlsConn, nil
}

// applyTimeouts caps go-smtp's per-command deadlines at the time left on
// ctx; the client otherwise resets them to minutes on every command.
func (t *SMTPTransport) applyTimeouts(ctx context.Context, client *smtp.Client) {
	deadline, ok := ctx.Deadline()
	if !ok {
		return
	}
	remaining := time.Until(deadline)
	if remaining <= 0 {
		remaining = time.Millisecond
	}
	client.CommandTimeout = remaining
	client.SubmissionTimeout = remaining
}

func (t *SMTPTransport) authenticate(ctx context.Context, client *smtp.Client) error {
	if t.cfg.Username == "" {
		return nil
	}
	if ok, _ := client.Extension("AUTH"); !ok {
		return fmt.Errorf("smtp server %s does not offer AUTH", t.addr)
	}
	if err := client.Auth(sasl.NewPlainClient("", t.cfg.Username, t.cfg.Password)); err != nil {
		return stageError(ctx, "AUTH", err)
	}
	return nil
}

// stageError labels a failed SMTP step. When ctx has ended the context
// error is wrapped so callers see the timeout rather than a closed socket.
func stageError(ctx context.Context, stage string, err error) error {
	if ctxErr := contextError(ctx); ctxErr != nil {
		return fmt.Errorf("smtp %s: %w (%v)", stage, ctxErr, err)
	}
	return fmt.Errorf("smtp %s: %w", stage, err)
}

// contextError reports ctx as expired once its deadline has passed, even if
// the connection deadline fired before the context timer did.
func contextError(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok && !time.Now().Before(deadline) {
		return context.DeadlineExceeded
	}
	return nil
}
