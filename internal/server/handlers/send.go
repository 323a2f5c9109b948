package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mailrelay/mailrelay/internal/core"
	"github.com/mailrelay/mailrelay/internal/core/engine"
	apperrors "github.com/mailrelay/mailrelay/internal/errors"
	"github.com/mailrelay/mailrelay/internal/metrics"
	"github.com/mailrelay/mailrelay/internal/observability"
	"github.com/mailrelay/mailrelay/internal/server/middleware"
)

const (
	// APIKeyHeader carries the shared secret.
	APIKeyHeader = "X-API-Key"
	// ForwardedForHeader supplies the rate-limit identity in header mode.
	ForwardedForHeader = "X-Forwarded-For"

	// SentMessage is the success body message.
	SentMessage = "Email sent successfully"

	// DefaultMaxBodyBytes applies when SendHandler.MaxBodyBytes is unset.
	DefaultMaxBodyBytes = 1 << 20
)

// IdentitySource selects where the rate-limit identity comes from.
type IdentitySource string

const (
	// IdentityFromHeader uses the raw X-Forwarded-For value.
	IdentityFromHeader IdentitySource = "header"
	// IdentityFromPeer uses the remote address of the connection.
	IdentityFromPeer IdentitySource = "peer"
)

// Relay runs the send pipeline for one request.
type Relay interface {
	Handle(ctx context.Context, req engine.Request) *engine.Outcome
}

// identityCounter is implemented by limiters that can report their size.
type identityCounter interface {
	Len() int
}

// SendResponse is the success body.
type SendResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// sendEmailBody mirrors core.EmailRequest with subject and body required.
type sendEmailBody struct {
	From       string  `json:"from"`
	To         string  `json:"to"`
	SenderName string  `json:"sender_name"`
	Subject    *string `json:"subject"`
	Body       *string `json:"body"`
}

// SendHandler serves POST /send-email.
type SendHandler struct {
	Relay          Relay
	IdentitySource IdentitySource
	MaxBodyBytes   int64
	// Limiter, when it reports its size, feeds the tracked identities gauge.
	Limiter engine.RateLimiter
}

func (h *SendHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := middleware.GetRequestID(ctx)
	identity := h.identity(r)

	payload, err := h.decode(w, r)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.RecordRequest("payload_too_large")
			envelope := apperrors.NewPayloadTooLargeError(fmt.Sprintf("Request body exceeds %d bytes", tooLarge.Limit))
			respondWithError(w, r, envelope)
			return
		}
		metrics.RecordRequest("bad_request")
		respondWithError(w, r, apperrors.WrapInvalidInput(ctx, err, "Invalid request body: "+err.Error()))
		return
	}

	outcome := h.Relay.Handle(ctx, engine.Request{
		RequestID:  requestID,
		Credential: credential(r),
		Identity:   identity,
		Payload:    payload,
	})
	h.observe(outcome, identity)

	if outcome.Err != nil {
		fields := map[string]interface{}{
			"identity": identity,
			"stage":    outcome.Reached.String(),
		}
		respondWithError(w, r, apperrors.FromRelayError(ctx, outcome.Err, fields))
		return
	}

	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Email sent",
			zap.String("request_id", requestID),
			zap.String("identity", identity),
			zap.String("to", outcome.Message.To.Address),
			zap.Duration("send_duration", outcome.SendDuration),
		)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(SendResponse{
		Status:  "success",
		Message: SentMessage,
	})
}

func (h *SendHandler) decode(w http.ResponseWriter, r *http.Request) (core.EmailRequest, error) {
	limit := h.MaxBodyBytes
	if limit <= 0 {
		limit = DefaultMaxBodyBytes
	}
	r.Body = http.MaxBytesReader(w, r.Body, limit)

	var body sendEmailBody
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&body); err != nil {
		if errors.Is(err, io.EOF) {
			return core.EmailRequest{}, errors.New("empty body")
		}
		return core.EmailRequest{}, err
	}
	if dec.More() {
		return core.EmailRequest{}, errors.New("unexpected data after JSON object")
	}

	var missing []string
	if body.Subject == nil {
		missing = append(missing, "subject")
	}
	if body.Body == nil {
		missing = append(missing, "body")
	}
	if len(missing) > 0 {
		return core.EmailRequest{}, fmt.Errorf("missing field(s): %s", strings.Join(missing, ", "))
	}

	return core.EmailRequest{
		From:       body.From,
		To:         body.To,
		SenderName: body.SenderName,
		Subject:    *body.Subject,
		Body:       *body.Body,
	}, nil
}

// identity falls back to "unknown" only when the header is absent. A present
// but empty header is used as is.
func (h *SendHandler) identity(r *http.Request) string {
	if h.IdentitySource == IdentityFromPeer {
		return peerIdentity(r.RemoteAddr)
	}
	values := r.Header.Values(ForwardedForHeader)
	if len(values) == 0 {
		return core.UnknownIdentity
	}
	return values[0]
}

func (h *SendHandler) observe(outcome *engine.Outcome, identity string) {
	if outcome.Reached >= engine.StateMessageBuilt {
		metrics.RecordSend(outcome.Err == nil, outcome.SendDuration)
	}
	if outcome.RecordErr != nil {
		metrics.RecordDeliveryLogError()
		if observability.ServerLogger != nil {
			observability.ServerLogger.Warn("Failed to record delivery",
				zap.String("identity", identity),
				zap.Error(outcome.RecordErr))
		}
	}
	if counter, ok := h.Limiter.(identityCounter); ok {
		metrics.SetTrackedIdentities(counter.Len())
	}

	switch outcome.Kind {
	case engine.KindNone:
		metrics.RecordRequest("sent")
	case engine.KindMissingCredential:
		metrics.RecordAuthFailure("missing")
		metrics.RecordRequest(string(outcome.Kind))
	case engine.KindInvalidCredential:
		metrics.RecordAuthFailure("invalid")
		metrics.RecordRequest(string(outcome.Kind))
	case engine.KindRateLimited:
		metrics.RecordRateLimited()
		metrics.RecordRequest(string(outcome.Kind))
	default:
		metrics.RecordRequest(string(outcome.Kind))
	}
}

// credential returns nil when the header is absent. A present but empty
// header is a credential, and it does not match.
func credential(r *http.Request) *string {
	values := r.Header.Values(APIKeyHeader)
	if len(values) == 0 {
		return nil
	}
	key := values[0]
	return &key
}

func peerIdentity(remoteAddr string) string {
	if remoteAddr == "" {
		return core.UnknownIdentity
	}
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
