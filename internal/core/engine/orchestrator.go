package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mailrelay/mailrelay/internal/core"
)

// DefaultSendTimeout bounds a single transport send when no timeout is set.
const DefaultSendTimeout = 30 * time.Second

// State is a step in the per-request pipeline.
type State int

const (
	StateStart State = iota
	StateAuthenticated
	StateRateLimitChecked
	StateMessageBuilt
	StateSent
	StateResponded
)

func (s State) String() string {
	switch s {
	case StateStart:
		return "start"
	case StateAuthenticated:
		return "authenticated"
	case StateRateLimitChecked:
		return "rate_limit_checked"
	case StateMessageBuilt:
		return "message_built"
	case StateSent:
		return "sent"
	case StateResponded:
		return "responded"
	default:
		return "unknown"
	}
}

// Transport delivers a composed message to the upstream mail server.
type Transport interface {
	Send(ctx context.Context, msg *core.OutboundMessage) error
}

// CredentialValidator checks the credential presented with a request.
type CredentialValidator interface {
	Validate(presented *string) AuthResult
}

// DeliveryRecorder persists the outcome of a send attempt.
type DeliveryRecorder interface {
	RecordDelivery(ctx context.Context, record core.DeliveryRecord) error
}

// Request is everything the orchestrator needs from an inbound request.
type Request struct {
	RequestID  string
	Credential *string
	// Identity is used verbatim as the rate-limit key. Callers decide the
	// fallback for requests that carry none; an empty string is a key too.
	Identity   string
	Payload    core.EmailRequest
}

// Outcome describes how a request left the pipeline. Err is nil only when
// the message was sent.
type Outcome struct {
	// Reached is the last state completed before responding.
	Reached      State
	Err          error
	Kind         ErrorKind
	Message      *core.OutboundMessage
	SendDuration time.Duration
	// RecordErr is set when the delivery log could not be written. It never
	// changes the response.
	RecordErr error
}

// Orchestrator runs authentication, rate limiting, message building and
// sending in order, stopping at the first failure.
type Orchestrator struct {
	Auth      CredentialValidator
	Limiter   RateLimiter
	Builder   Builder
	Transport Transport
	Recorder  DeliveryRecorder
	Timeout   time.Duration
	Clock     func() time.Time
}

type step struct {
	next State
	run  func(ctx context.Context, p *pipeline) error
}

type pipeline struct {
	req      Request
	state    State
	msg      *core.OutboundMessage
	sendTime time.Duration
	recErr   error
}

// Handle processes one request. At most one transport send happens, and only
// when every earlier step succeeded.
func (o *Orchestrator) Handle(ctx context.Context, req Request) *Outcome {
	if ctx == nil {
		ctx = context.Background()
	}
	p := &pipeline{req: req, state: StateStart}
	steps := []step{
		{next: StateAuthenticated, run: o.authenticate},
		{next: StateRateLimitChecked, run: o.checkRateLimit},
		{next: StateMessageBuilt, run: o.buildMessage},
		{next: StateSent, run: o.send},
	}

	var err error
	for _, s := range steps {
		if err = s.run(ctx, p); err != nil {
			break
		}
		p.state = s.next
	}

	return &Outcome{
		Reached:      p.state,
		Err:          err,
		Kind:         KindOf(err),
		Message:      p.msg,
		SendDuration: p.sendTime,
		RecordErr:    p.recErr,
	}
}

func (o *Orchestrator) authenticate(_ context.Context, p *pipeline) error {
	if o.Auth == nil {
		return errors.New("no credential validator configured")
	}
	return o.Auth.Validate(p.req.Credential).Err()
}

func (o *Orchestrator) checkRateLimit(_ context.Context, p *pipeline) error {
	if o.Limiter == nil {
		return nil
	}
	if !o.Limiter.Allow(p.req.Identity) {
		return ErrRateLimited
	}
	return nil
}

func (o *Orchestrator) buildMessage(_ context.Context, p *pipeline) error {
	msg, err := o.Builder.Build(p.req.Payload)
	if err != nil {
		return err
	}
	p.msg = msg
	return nil
}

func (o *Orchestrator) send(ctx context.Context, p *pipeline) error {
	if o.Transport == nil {
		return &TransportError{Err: errors.New("no transport configured")}
	}

	sendCtx, cancel := context.WithTimeout(ctx, o.timeout())
	defer cancel()

	start := o.now()
	err := o.Transport.Send(sendCtx, p.msg)
	p.sendTime = o.now().Sub(start)

	if err != nil && sendCtx.Err() != nil && !errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("%w: %w", err, sendCtx.Err())
	}

	p.recErr = o.record(ctx, p, start, err)

	if err != nil {
		return &TransportError{Err: err}
	}
	return nil
}

func (o *Orchestrator) record(ctx context.Context, p *pipeline, at time.Time, sendErr error) error {
	if o.Recorder == nil {
		return nil
	}

	record := core.DeliveryRecord{
		RequestID: p.req.RequestID,
		Identity:  p.req.Identity,
		From:      p.msg.From.String(),
		To:        p.msg.To.Address,
		Subject:   p.msg.Subject,
		Status:    core.DeliverySent,
		Duration:  p.sendTime,
		CreatedAt: at.UTC(),
	}
	if sendErr != nil {
		record.Status = core.DeliveryFailed
		record.Error = sendErr.Error()
	}

	return o.Recorder.RecordDelivery(context.WithoutCancel(ctx), record)
}

func (o *Orchestrator) timeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultSendTimeout
	}
	return o.Timeout
}

func (o *Orchestrator) now() time.Time {
	if o.Clock != nil {
		return o.Clock()
	}
	return time.Now()
}
