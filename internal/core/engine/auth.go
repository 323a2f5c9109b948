package engine

import "crypto/subtle"

// AuthResult is the outcome of credential validation.
type AuthResult int

const (
	AuthOK AuthResult = iota
	AuthMissingCredential
	AuthInvalidCredential
)

func (r AuthResult) String() string {
	switch r {
	case AuthOK:
		return "ok"
	case AuthMissingCredential:
		return "missing_credential"
	case AuthInvalidCredential:
		return "invalid_credential"
	default:
		return "unknown"
	}
}

// Err converts a non-OK result to the matching sentinel error.
func (r AuthResult) Err() error {
	switch r {
	case AuthOK:
		return nil
	case AuthMissingCredential:
		return ErrMissingCredential
	default:
		return ErrInvalidCredential
	}
}

// ValidateCredential compares a presented credential against the configured
// secret. A nil credential means the caller sent none. Equality is exact and
// byte-wise.
func ValidateCredential(presented *string, secret string) AuthResult {
	if presented == nil {
		return AuthMissingCredential
	}
	if *presented != secret {
		return AuthInvalidCredential
	}
	return AuthOK
}

// Authenticator validates the shared secret for each request.
type Authenticator struct {
	Secret string
	// ConstantTime switches the comparison to crypto/subtle. Plain equality
	// is the default and leaks timing information about the secret.
	ConstantTime bool
}

// Validate checks presented against the configured secret.
func (a Authenticator) Validate(presented *string) AuthResult {
	if !a.ConstantTime || presented == nil {
		return ValidateCredential(presented, a.Secret)
	}
	if subtle.ConstantTimeCompare([]byte(*presented), []byte(a.Secret)) != 1 {
		return AuthInvalidCredential
	}
	return AuthOK
}
