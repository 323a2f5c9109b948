package transport

import (
	"crypto/tls"
	"errors"
	"io"
	"net"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/flashmob/go-guerrilla/tests/testcert"
	"github.com/stretchr/testify/require"
)

// receivedMessage is one message accepted by the in-process server.
type receivedMessage struct {
	From string
	To   []string
	Data string
	User string
	Helo string
	TLS  bool
}

// testBackend implements smtp.Backend and keeps every accepted message.
type testBackend struct {
	username   string
	password   string
	rejectRcpt string
	// stallData, when set, blocks DATA until it is closed.
	stallData chan struct{}

	mu       sync.Mutex
	messages []receivedMessage
}

func (b *testBackend) NewSession(c *smtp.Conn) (smtp.Session, error) {
	_, isTLS := c.TLSConnectionState()
	return &testSession{backend: b, helo: c.Hostname(), tls: isTLS}, nil
}

func (b *testBackend) Messages() []receivedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]receivedMessage, len(b.messages))
	copy(out, b.messages)
	return out
}

type testSession struct {
	backend *testBackend
	user    string
	current receivedMessage
	helo    string
	tls     bool
}

func (s *testSession) AuthMechanisms() []string {
	if s.backend.username == "" {
		return nil
	}
	return []string{sasl.Plain}
}

func (s *testSession) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, smtp.ErrAuthUnknownMechanism
	}
	return sasl.NewPlainServer(func(_, username, password string) error {
		if username != s.backend.username || password != s.backend.password {
			return errors.New("invalid credentials")
		}
		s.user = username
		return nil
	}), nil
}

func (s *testSession) Mail(from string, _ *smtp.MailOptions) error {
	if s.backend.username != "" && s.user == "" {
		return smtp.ErrAuthRequired
	}
	s.current = receivedMessage{From: from, User: s.user, Helo: s.helo, TLS: s.tls}
	return nil
}

func (s *testSession) Rcpt(to string, _ *smtp.RcptOptions) error {
	if s.backend.rejectRcpt != "" && strings.EqualFold(to, s.backend.rejectRcpt) {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "mailbox unavailable",
		}
	}
	s.current.To = append(s.current.To, to)
	return nil
}

func (s *testSession) Data(r io.Reader) error {
	buf, err := io.ReadAll(r)
	if s.backend.stallData != nil {
		<-s.backend.stallData
	}
	if err != nil {
		return err
	}
	s.current.Data = string(buf)

	s.backend.mu.Lock()
	s.backend.messages = append(s.backend.messages, s.current)
	s.backend.mu.Unlock()
	return nil
}

func (s *testSession) Reset() {
	s.current = receivedMessage{}
}

func (s *testSession) Logout() error { return nil }

// startTestServer runs a plaintext go-smtp server on a random loopback port
// and returns its host and port.
func startTestServer(t *testing.T, backend *testBackend) (string, int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := smtp.NewServer(backend)
	srv.Domain = "localhost"
	srv.AllowInsecureAuth = true
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second

	go func() {
		_ = srv.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = srv.Close()
	})

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// tlsMode selects how startTLSServer exposes TLS.
type tlsMode int

const (
	// tlsOnConnect wraps the listener, as on port 465.
	tlsOnConnect tlsMode = iota
	// tlsViaSTARTTLS advertises STARTTLS on a plaintext listener.
	tlsViaSTARTTLS
)

// startTLSServer runs a go-smtp server with a self-signed certificate for
// 127.0.0.1 and returns its host and port.
func startTLSServer(t *testing.T, backend *testBackend, mode tlsMode) (string, int) {
	t.Helper()

	tlsConfig := &tls.Config{Certificates: []tls.Certificate{testCertificate(t)}}

	var (
		ln  net.Listener
		err error
	)
	if mode == tlsOnConnect {
		ln, err = tls.Listen("tcp", "127.0.0.1:0", tlsConfig)
	} else {
		ln, err = net.Listen("tcp", "127.0.0.1:0")
	}
	require.NoError(t, err)

	srv := smtp.NewServer(backend)
	srv.Domain = "localhost"
	srv.TLSConfig = tlsConfig
	srv.ReadTimeout = 5 * time.Second
	srv.WriteTimeout = 5 * time.Second

	go func() {
		_ = srv.Serve(ln)
	}()
	t.Cleanup(func() {
		_ = srv.Close()
	})

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}

// testCertificate writes a throwaway key pair under t.TempDir and loads it.
func testCertificate(t *testing.T) tls.Certificate {
	t.Helper()

	host := "127.0.0.1"
	// GenerateCert writes <prefix><host>.key.pem and <prefix><host>.cert.pem.
	prefix := t.TempDir() + string(filepath.Separator)
	require.NoError(t, testcert.GenerateCert(host, "", time.Hour, true, 2048, "", prefix))

	cert, err := tls.LoadX509KeyPair(prefix+host+".cert.pem", prefix+host+".key.pem")
	require.NoError(t, err)
	return cert
}

// startSilentServer accepts connections and never speaks, so clients block
// waiting for the greeting.
func startSilentServer(t *testing.T) (string, int) {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				<-done
				_ = c.Close()
			}(conn)
		}
	}()
	t.Cleanup(func() {
		close(done)
		_ = ln.Close()
	})

	addr := ln.Addr().(*net.TCPAddr)
	return addr.IP.String(), addr.Port
}
