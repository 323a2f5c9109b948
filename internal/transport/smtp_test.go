package transport

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mailrelay/mailrelay/internal/core"
	"github.com/mailrelay/mailrelay/internal/core/engine"
)

func testMessage() *core.OutboundMessage {
	return &core.OutboundMessage{
		From:    core.Mailbox{Name: "Relay Bot", Address: "bot@example.com"},
		To:      core.Mailbox{Address: "ops@example.org"},
		Subject: "Disk usage",
		Body:    "disk is at 91%",
	}
}

func TestNewSMTPTransportValidation(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "missing host", cfg: Config{Port: 25}, wantErr: "host is required"},
		{name: "zero port", cfg: Config{Host: "mail.example.com"}, wantErr: "out of range"},
		{name: "port too high", cfg: Config{Host: "mail.example.com", Port: 70000}, wantErr: "out of range"},
		{name: "user without password", cfg: Config{Host: "mail.example.com", Port: 587, Username: "u"}, wantErr: "set together"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewSMTPTransport(tt.cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	tr, err := NewSMTPTransport(Config{Host: " mail.example.com ", Port: 465, Security: ImplicitTLS})
	require.NoError(t, err)
	assert.Equal(t, "mail.example.com:465", tr.Addr())
	assert.Equal(t, ImplicitTLS, tr.Mode())
}

func TestSMTPTransportSendDelivers(t *testing.T) {
	backend := &testBackend{username: "relay", password: "s3cret"}
	host, port := startTestServer(t, backend)

	tr, err := NewSMTPTransport(Config{
		Host:     host,
		Port:     port,
		Username: "relay",
		Password: "s3cret",
		Security: OpportunisticSTARTTLS,
		HeloName: "relay.test",
	})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, tr.Send(ctx, testMessage()))

	msgs := backend.Messages()
	require.Len(t, msgs, 1)
	got := msgs[0]
	assert.Equal(t, "bot@example.com", got.From)
	assert.Equal(t, []string{"ops@example.org"}, got.To)
	assert.Equal(t, "relay", got.User)
	assert.Contains(t, got.Data, "Subject: Disk usage")
	assert.Contains(t, got.Data, `From: "Relay Bot" <bot@example.com>`)
	assert.Contains(t, got.Data, "To: ops@example.org")
	assert.Contains(t, got.Data, "@relay.test>")
	assert.Contains(t, got.Data, "disk is at 91%")
}

func TestSMTPTransportSendWithoutAuth(t *testing.T) {
	backend := &testBackend{}
	host, port := startTestServer(t, backend)

	tr, err := NewSMTPTransport(Config{Host: host, Port: port, Security: OpportunisticSTARTTLS})
	require.NoError(t, err)

	require.NoError(t, tr.Send(context.Background(), testMessage()))
	assert.Len(t, backend.Messages(), 1)
}

func TestSMTPTransportFailures(t *testing.T) {
	t.Run("bad credentials", func(t *testing.T) {
		backend := &testBackend{username: "relay", password: "s3cret"}
		host, port := startTestServer(t, backend)

		tr, err := NewSMTPTransport(Config{
			Host: host, Port: port, Username: "relay", Password: "wrong",
			Security: OpportunisticSTARTTLS,
		})
		require.NoError(t, err)

		err = tr.Send(context.Background(), testMessage())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "smtp AUTH")
		assert.Empty(t, backend.Messages())
	})

	t.Run("starttls required but not offered", func(t *testing.T) {
		backend := &testBackend{}
		host, port := startTestServer(t, backend)

		tr, err := NewSMTPTransport(Config{Host: host, Port: port, Security: RequiredSTARTTLS})
		require.NoError(t, err)

		err = tr.Send(context.Background(), testMessage())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "smtp STARTTLS")
		assert.Contains(t, err.Error(), "doesn't support STARTTLS")
		assert.Empty(t, backend.Messages())
	})

	t.Run("auth configured but not offered", func(t *testing.T) {
		backend := &testBackend{}
		host, port := startTestServer(t, backend)

		tr, err := NewSMTPTransport(Config{
			Host: host, Port: port, Username: "relay", Password: "pw",
			Security: OpportunisticSTARTTLS,
		})
		require.NoError(t, err)

		err = tr.Send(context.Background(), testMessage())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "does not offer AUTH")
	})

	t.Run("recipient rejected", func(t *testing.T) {
		backend := &testBackend{rejectRcpt: "ops@example.org"}
		host, port := startTestServer(t, backend)

		tr, err := NewSMTPTransport(Config{Host: host, Port: port, Security: OpportunisticSTARTTLS})
		require.NoError(t, err)

		err = tr.Send(context.Background(), testMessage())
		require.Error(t, err)

		var smtpErr *smtp.SMTPError
		require.True(t, errors.As(err, &smtpErr))
		assert.Equal(t, 550, smtpErr.Code)
		assert.Empty(t, backend.Messages())
	})

	t.Run("connection refused", func(t *testing.T) {
		tr, err := NewSMTPTransport(Config{Host: "127.0.0.1", Port: 1, Security: OpportunisticSTARTTLS})
		require.NoError(t, err)

		err = tr.Send(context.Background(), testMessage())
		require.Error(t, err)
		assert.True(t, strings.HasPrefix(err.Error(), "dial smtp"))
	})

	t.Run("implicit tls against plaintext server", func(t *testing.T) {
		backend := &testBackend{}
		host, port := startTestServer(t, backend)

		tr, err := NewSMTPTransport(Config{Host: host, Port: port, Security: ImplicitTLS})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err = tr.Send(ctx, testMessage())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "smtp tls handshake")
		assert.Empty(t, backend.Messages())
	})

	t.Run("untrusted certificate", func(t *testing.T) {
		backend := &testBackend{}
		host, port := startTLSServer(t, backend, tlsViaSTARTTLS)

		tr, err := NewSMTPTransport(Config{Host: host, Port: port, Security: RequiredSTARTTLS})
		require.NoError(t, err)

		err = tr.Send(context.Background(), testMessage())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "smtp STARTTLS")
		assert.Empty(t, backend.Messages())
	})

	t.Run("nil message", func(t *testing.T) {
		tr, err := NewSMTPTransport(Config{Host: "127.0.0.1", Port: 25})
		require.NoError(t, err)
		require.Error(t, tr.Send(context.Background(), nil))
	})
}

func TestSMTPTransportSendOverTLS(t *testing.T) {
	tests := []struct {
		name      string
		serverTLS tlsMode
		security  SecurityMode
	}{
		{name: "implicit tls", serverTLS: tlsOnConnect, security: ImplicitTLS},
		{name: "required starttls", serverTLS: tlsViaSTARTTLS, security: RequiredSTARTTLS},
		{name: "opportunistic starttls upgrades", serverTLS: tlsViaSTARTTLS, security: OpportunisticSTARTTLS},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := &testBackend{username: "relay", password: "s3cret"}
			host, port := startTLSServer(t, backend, tt.serverTLS)

			tr, err := NewSMTPTransport(Config{
				Host:               host,
				Port:               port,
				Username:           "relay",
				Password:           "s3cret",
				Security:           tt.security,
				HeloName:           "relay.test",
				InsecureSkipVerify: true,
			})
			require.NoError(t, err)

			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			require.NoError(t, tr.Send(ctx, testMessage()))
			require.NoError(t, tr.Check(ctx))

			msgs := backend.Messages()
			require.Len(t, msgs, 1)
			assert.True(t, msgs[0].TLS, "message must arrive over TLS")
			assert.Equal(t, "relay", msgs[0].User)
			assert.Equal(t, "relay.test", msgs[0].Helo)
			assert.Contains(t, msgs[0].Data, "Subject: Disk usage")
		})
	}
}

func TestSMTPTransportPlaintextWhenSTARTTLSAbsent(t *testing.T) {
	backend := &testBackend{}
	host, port := startTestServer(t, backend)

	tr, err := NewSMTPTransport(Config{Host: host, Port: port, Security: OpportunisticSTARTTLS, HeloName: "relay.test"})
	require.NoError(t, err)
	require.NoError(t, tr.Send(context.Background(), testMessage()))

	msgs := backend.Messages()
	require.Len(t, msgs, 1)
	assert.False(t, msgs[0].TLS)
	assert.Equal(t, "relay.test", msgs[0].Helo)
}

func TestSMTPTransportHonoursDeadline(t *testing.T) {
	t.Run("server never greets", func(t *testing.T) {
		host, port := startSilentServer(t)

		tr, err := NewSMTPTransport(Config{Host: host, Port: port, Security: OpportunisticSTARTTLS})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		start := time.Now()
		err = tr.Send(ctx, testMessage())
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("server stalls after data", func(t *testing.T) {
		backend := &testBackend{stallData: make(chan struct{})}
		host, port := startTestServer(t, backend)
		t.Cleanup(func() { close(backend.stallData) })

		tr, err := NewSMTPTransport(Config{Host: host, Port: port, Security: OpportunisticSTARTTLS})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		start := time.Now()
		err = tr.Send(ctx, testMessage())
		require.Error(t, err)
		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Less(t, time.Since(start), 2*time.Second)
	})

	t.Run("cancelled while waiting", func(t *testing.T) {
		host, port := startSilentServer(t)

		tr, err := NewSMTPTransport(Config{Host: host, Port: port, Security: OpportunisticSTARTTLS})
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(100*time.Millisecond, cancel)

		start := time.Now()
		err = tr.Send(ctx, testMessage())
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Less(t, time.Since(start), 2*time.Second)
	})
}

func TestSMTPTransportBoundedByOrchestratorTimeout(t *testing.T) {
	host, port := startSilentServer(t)

	tr, err := NewSMTPTransport(Config{Host: host, Port: port, Security: OpportunisticSTARTTLS})
	require.NoError(t, err)

	o := &engine.Orchestrator{
		Auth: engine.Authenticator{Secret: "k"},
		Builder: engine.Builder{Defaults: core.MessageDefaults{
			From: "relay@example.com",
			To:   "ops@example.com",
		}},
		Transport: tr,
		Timeout:   200 * time.Millisecond,
	}

	key := "k"
	start := time.Now()
	out := o.Handle(context.Background(), engine.Request{
		Credential: &key,
		Payload:    core.EmailRequest{Subject: "s", Body: "b"},
	})

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, engine.KindTransportFailure, out.Kind)
	assert.ErrorIs(t, out.Err, context.DeadlineExceeded)
}

func TestSMTPTransportCheck(t *testing.T) {
	backend := &testBackend{username: "relay", password: "s3cret"}
	host, port := startTestServer(t, backend)

	good, err := NewSMTPTransport(Config{
		Host: host, Port: port, Username: "relay", Password: "s3cret",
		Security: OpportunisticSTARTTLS,
	})
	require.NoError(t, err)
	require.NoError(t, good.Check(context.Background()))

	bad, err := NewSMTPTransport(Config{
		Host: host, Port: port, Username: "relay", Password: "nope",
		Security: OpportunisticSTARTTLS,
	})
	require.NoError(t, err)
	require.Error(t, bad.Check(context.Background()))
	assert.Empty(t, backend.Messages())
}

func TestSMTPTransportCheckHealth(t *testing.T) {
	host, port := startTestServer(t, &testBackend{})
	up, err := NewSMTPTransport(Config{Host: host, Port: port, Security: OpportunisticSTARTTLS})
	require.NoError(t, err)
	require.NoError(t, up.CheckHealth(context.Background()))

	tlsHost, tlsPort := startTLSServer(t, &testBackend{}, tlsOnConnect)
	implicit, err := NewSMTPTransport(Config{Host: tlsHost, Port: tlsPort, Security: ImplicitTLS, InsecureSkipVerify: true})
	require.NoError(t, err)
	require.NoError(t, implicit.CheckHealth(context.Background()))

	down, err := NewSMTPTransport(Config{Host: "127.0.0.1", Port: 1, Security: OpportunisticSTARTTLS})
	require.NoError(t, err)
	err = down.CheckHealth(context.Background())
	require.Error(t, err)
	assert.True(t, strings.HasPrefix(err.Error(), "dial smtp"))
}

func TestSMTPTransportThrottle(t *testing.T) {
	backend := &testBackend{}
	host, port := startTestServer(t, backend)

	tr, err := NewSMTPTransport(Config{
		Host: host, Port: port, Security: OpportunisticSTARTTLS, MaxPerSecond: 0.5,
	})
	require.NoError(t, err)

	require.NoError(t, tr.Send(context.Background(), testMessage()))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err = tr.Send(ctx, testMessage())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "throttled")
	assert.Len(t, backend.Messages(), 1)
}
