package transport

import (
	"fmt"
	"strings"
)

// SecurityMode selects how the SMTP session is encrypted.
type SecurityMode int

const (
	// ImplicitTLS wraps the connection in TLS before the SMTP greeting.
	ImplicitTLS SecurityMode = iota
	// RequiredSTARTTLS upgrades with STARTTLS and fails if the server does
	// not offer it.
	RequiredSTARTTLS
	// OpportunisticSTARTTLS upgrades when the server offers STARTTLS and
	// continues in plaintext otherwise.
	OpportunisticSTARTTLS
)

func (m SecurityMode) String() string {
	switch m {
	case ImplicitTLS:
		return "tls"
	case RequiredSTARTTLS:
		return "starttls"
	case OpportunisticSTARTTLS:
		return "opportunistic"
	default:
		return fmt.Sprintf("SecurityMode(%d)", int(m))
	}
}

// portModes maps well-known submission ports to their security mode.
var portModes = map[int]SecurityMode{
	465: ImplicitTLS,
	587: RequiredSTARTTLS,
}

// SecurityModeForPort derives the security mode from the SMTP port: 465 uses
// implicit TLS, 587 requires STARTTLS, anything else is opportunistic.
func SecurityModeForPort(port int) SecurityMode {
	if mode, ok := portModes[port]; ok {
		return mode
	}
	return OpportunisticSTARTTLS
}

// ResolveSecurityMode parses an explicit mode name. An empty value or "auto"
// falls back to SecurityModeForPort.
func ResolveSecurityMode(name string, port int) (SecurityMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "auto":
		return SecurityModeForPort(port), nil
	case "tls", "ssl", "implicit":
		return ImplicitTLS, nil
	case "starttls", "required":
		return RequiredSTARTTLS, nil
	case "opportunistic":
		return OpportunisticSTARTTLS, nil
	default:
		return 0, fmt.Errorf("unknown smtp security mode %q (want auto, tls, starttls or opportunistic)", name)
	}
}
