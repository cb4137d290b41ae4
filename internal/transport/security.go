package transport

import (
	"crypto/tls"
	"net"
	"strings"
)

// Security is how a mail session is protected on the wire.
type Security string

const (
	// SecurityNone is a plaintext session
	SecurityNone Security = "none"
	// SecuritySTARTTLS upgrades a plaintext session after the greeting
	SecuritySTARTTLS Security = "starttls"
	// SecurityTLS dials with implicit TLS
	SecurityTLS Security = "tls"
)

// ResolveSecurity returns the security mode for an account endpoint.
// An explicit mode wins; otherwise a secure account uses STARTTLS on
// 587 and implicit TLS on 465 and 993.
func ResolveSecurity(mode string, secure bool, port int) Security {
	switch Security(strings.ToLower(strings.TrimSpace(mode))) {
	case SecurityNone:
		return SecurityNone
	case SecuritySTARTTLS:
		return SecuritySTARTTLS
	case SecurityTLS:
		return SecurityTLS
	}

	if !secure {
		return SecurityNone
	}
	switch port {
	case 587:
		return SecuritySTARTTLS
	case 465, 993:
		return SecurityTLS
	default:
		return SecurityNone
	}
}

// IsValidSecurity reports whether mode is empty or a known Security value.
func IsValidSecurity(mode string) bool {
	switch Security(strings.ToLower(mode)) {
	case "", SecurityNone, SecuritySTARTTLS, SecurityTLS:
		return true
	}
	return false
}

// ClientTLSConfig clones base, or builds a TLS 1.2+ config, and fills in
// ServerName from the host part of addr when unset.
func ClientTLSConfig(addr string, base *tls.Config) *tls.Config {
	var cfg *tls.Config
	if base != nil {
		cfg = base.Clone()
	} else {
		cfg = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if cfg.ServerName == "" {
		if host, _, err := net.SplitHostPort(addr); err == nil {
			cfg.ServerName = host
		}
	}
	return cfg
}
