// Package logger builds the service's JSON loggers and records audit
// events for mail sessions and the HTTP surface. Credentials are never
// logged.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// New returns a JSON logger writing to w at level. Attributes whose key
// looks like a credential are redacted wherever they appear.
func New(w io.Writer, level string) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: redact,
	})
	return slog.New(handler)
}

// ParseLevel maps debug, info, warn and error to slog levels; anything
// else is info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func redact(groups []string, a slog.Attr) slog.Attr {
	if isSensitiveKey(strings.ToLower(a.Key)) {
		return slog.String(a.Key, "[REDACTED]")
	}
	return a
}

// AuditLogger records security and mail session events.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger creates a new AuditLogger with JSON output.
func NewAuditLogger() *AuditLogger {
	return &AuditLogger{logger: New(os.Stdout, "info")}
}

// NewAuditLoggerWithHandler creates an AuditLogger with a custom handler.
func NewAuditLoggerWithHandler(handler slog.Handler) *AuditLogger {
	return &AuditLogger{logger: slog.New(handler)}
}

// NewNopAuditLogger returns an AuditLogger that drops every event.
func NewNopAuditLogger() *AuditLogger {
	return &AuditLogger{logger: slog.New(slog.DiscardHandler)}
}

// AuthFailure logs a failed API authentication attempt.
// Never logs the actual credentials.
func (s *AuditLogger) AuthFailure(ip, path, reason string) {
	s.logger.Warn("authentication_failure",
		slog.String("event_type", "auth_failure"),
		slog.String("ip", ip),
		slog.String("path", path),
		slog.String("reason", reason),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// RateLimitExceeded logs when a client exceeds rate limits.
func (s *AuditLogger) RateLimitExceeded(ip, path string) {
	s.logger.Warn("rate_limit_exceeded",
		slog.String("event_type", "rate_limit"),
		slog.String("ip", ip),
		slog.String("path", path),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// MailAuthFailure logs a mail server rejecting an account's credentials.
func (s *AuditLogger) MailAuthFailure(accountID uint, protocol, host, reply string) {
	s.logger.Warn("mail_auth_failure",
		slog.String("event_type", "mail_auth_failure"),
		slog.Uint64("account_id", uint64(accountID)),
		slog.String("protocol", protocol),
		slog.String("host", host),
		slog.String("reply", reply),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// CredentialFailure logs a stored credential that could not be decrypted.
func (s *AuditLogger) CredentialFailure(accountID uint, reason string) {
	s.logger.Error("credential_failure",
		slog.String("event_type", "credential_failure"),
		slog.Uint64("account_id", uint64(accountID)),
		slog.String("reason", reason),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// SyncCompleted logs the outcome of one mailbox sync.
func (s *AuditLogger) SyncCompleted(accountID uint, messageCount, newMessages, softErrors int, took time.Duration) {
	s.logger.Info("sync_completed",
		slog.String("event_type", "sync_completed"),
		slog.Uint64("account_id", uint64(accountID)),
		slog.Int("message_count", messageCount),
		slog.Int("new_messages", newMessages),
		slog.Int("soft_errors", softErrors),
		slog.Duration("took", took),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// SendCompleted logs one accepted outbound message.
func (s *AuditLogger) SendCompleted(accountID uint, messageID string, recipients int) {
	s.logger.Info("send_completed",
		slog.String("event_type", "send_completed"),
		slog.Uint64("account_id", uint64(accountID)),
		slog.String("message_id", messageID),
		slog.Int("recipients", recipients),
		slog.Time("timestamp", time.Now().UTC()),
	)
}

// SecurityEvent logs a generic security event.
func (s *AuditLogger) SecurityEvent(eventType, ip string, details map[string]string) {
	attrs := []any{
		slog.String("event_type", eventType),
		slog.String("ip", ip),
		slog.Time("timestamp", time.Now().UTC()),
	}

	for k, v := range details {
		// Filter out sensitive keys
		if isSensitiveKey(k) {
			continue
		}
		attrs = append(attrs, slog.String(k, v))
	}

	s.logger.Warn("security_event", attrs...)
}

// GetLogger returns the underlying slog.Logger for use with middleware.
func (s *AuditLogger) GetLogger() *slog.Logger {
	return s.logger
}

// isSensitiveKey checks if a key might contain sensitive data.
func isSensitiveKey(key string) bool {
	sensitiveKeys := map[string]bool{
		"password":           true,
		"encrypted_password": true,
		"api_key":            true,
		"apikey":             true,
		"token":              true,
		"secret":             true,
		"authorization":      true,
		"auth":               true,
		"credential":         true,
		"credentials":        true,
		"session":            true,
		"cookie":             true,
	}
	return sensitiveKeys[key]
}
