// Package validator provides input validation and sanitization functions
// for account settings and outbound messages.
package validator

import (
	"errors"
	"net"
	"net/mail"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Validation errors
var (
	ErrInvalidEmail     = errors.New("invalid email format")
	ErrInvalidHost      = errors.New("invalid host format")
	ErrInvalidPort      = errors.New("port must be between 1 and 65535")
	ErrInputTooLong     = errors.New("input exceeds maximum length")
	ErrInvalidCharacter = errors.New("input contains invalid characters")
	ErrEmptyInput       = errors.New("input cannot be empty")
)

// Regex patterns for validation
var (
	// Host regex: lowercase alphanumeric labels separated by dots, with
	// inner hyphens; labels max 63 chars
	hostRegex = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?)*$`)
)

// ValidateEmail validates a bare email address (no display name).
// Returns nil if valid, or an appropriate error.
func ValidateEmail(email string) error {
	email = strings.TrimSpace(strings.ToLower(email))

	if email == "" {
		return ErrEmptyInput
	}

	// RFC 5321 specifies max email length of 254 characters
	if utf8.RuneCountInString(email) > 254 {
		return ErrInputTooLong
	}

	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return ErrInvalidEmail
	}

	return nil
}

// ValidateEmails validates every address in list.
func ValidateEmails(list []string) error {
	for _, email := range list {
		if err := ValidateEmail(email); err != nil {
			return err
		}
	}
	return nil
}

// ValidateHost validates a mail server host name or IP literal.
func ValidateHost(host string) error {
	host = strings.TrimSpace(strings.ToLower(host))

	if host == "" {
		return ErrEmptyInput
	}

	// RFC 1035 specifies max domain length of 253 characters
	if len(host) > 253 {
		return ErrInputTooLong
	}

	if net.ParseIP(host) != nil {
		return nil
	}
	if !hostRegex.MatchString(host) {
		return ErrInvalidHost
	}

	return nil
}

// ValidatePort validates a TCP port number.
func ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return ErrInvalidPort
	}
	return nil
}

// ValidateHeaderValue rejects values that would break out of a header
// line or a protocol command.
func ValidateHeaderValue(value string, maxLength int) error {
	if strings.ContainsAny(value, "\r\n\x00") {
		return ErrInvalidCharacter
	}
	if maxLength > 0 && utf8.RuneCountInString(value) > maxLength {
		return ErrInputTooLong
	}
	return nil
}

// Pagination constants
const (
	DefaultLimit = 20
	MaxLimit     = 100
)

// ValidatePagination validates and sanitizes pagination parameters.
// Returns sanitized limit and offset values.
func ValidatePagination(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}

	if offset < 0 {
		offset = 0
	}

	return limit, offset
}

// SanitizeString removes potentially dangerous characters and enforces length limits.
// Removes control characters and trims whitespace.
func SanitizeString(input string, maxLength int) string {
	// Remove control characters (ASCII 0-31 and 127)
	input = strings.Map(func(r rune) rune {
		if r < 32 || r == 127 {
			return -1
		}
		return r
	}, input)

	// Trim whitespace
	input = strings.TrimSpace(input)

	// Enforce maximum length if specified
	if maxLength > 0 && utf8.RuneCountInString(input) > maxLength {
		runes := []rune(input)
		input = string(runes[:maxLength])
	}

	return input
}
