package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies request-scoped relay failures.
type ErrorKind string

const (
	KindNone              ErrorKind = ""
	KindMissingCredential ErrorKind = "missing_credential"
	KindInvalidCredential ErrorKind = "invalid_credential"
	KindRateLimited       ErrorKind = "rate_limited"
	KindAddressFormat     ErrorKind = "address_format"
	KindTransportFailure  ErrorKind = "transport_failure"
	KindInternal          ErrorKind = "internal"
)

var (
	// ErrMissingCredential is returned when no API key is presented.
	ErrMissingCredential = errors.New("missing API key")
	// ErrInvalidCredential is returned when the API key does not match.
	ErrInvalidCredential = errors.New("invalid API key")
	// ErrRateLimited is returned when the identity is over its window capacity.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// AddressFormatError reports an address that failed syntax validation.
type AddressFormatError struct {
	Field string
	Value string
	Err   error
}

func (e *AddressFormatError) Error() string {
	return fmt.Sprintf("invalid %s address %q: %v", e.Field, e.Value, e.Err)
}

func (e *AddressFormatError) Unwrap() error {
	return e.Err
}

// TransportError wraps a failed send. Timeouts are reported here as well.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string {
	return e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// KindOf maps an error returned by the orchestrator to its classification.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var addrErr *AddressFormatError
	var transportErr *TransportError

	switch {
	case errors.Is(err, ErrMissingCredential):
		return KindMissingCredential
	case errors.Is(err, ErrInvalidCredential):
		return KindInvalidCredential
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.As(err, &addrErr):
		return KindAddressFormat
	case errors.As(err, &transportErr):
		return KindTransportFailure
	default:
		return KindInternal
	}
}
