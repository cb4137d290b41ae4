package errors

import (
	"errors"
	"fmt"
)

// Domain-specific error types
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrDuplicateEntry indicates a unique constraint violation
	ErrDuplicateEntry = errors.New("duplicate entry")

	// ErrInvalidInput indicates invalid input data
	ErrInvalidInput = errors.New("invalid input")

	// ErrAccountNotFound indicates the email account was not found
	ErrAccountNotFound = errors.New("account not found")

	// ErrThreadNotFound indicates the thread was not found
	ErrThreadNotFound = errors.New("thread not found")

	// ErrMessageNotFound indicates the message was not found
	ErrMessageNotFound = errors.New("message not found")

	// ErrUnauthorized indicates unauthorized access
	ErrUnauthorized = errors.New("unauthorized")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal server error")
)

// Mail transport errors. The first four abort a sync or send; ErrParse and
// ErrPersist are per-message and only reduce the processed count.
var (
	// ErrCredential indicates a malformed or tampered credential blob
	ErrCredential = errors.New("credential error")

	// ErrConnection indicates a dial failure or a missing/unexpected greeting
	ErrConnection = errors.New("connection error")

	// ErrAuth indicates the mail server rejected the login
	ErrAuth = errors.New("authentication rejected")

	// ErrProtocol indicates a reply that does not match the expected stage
	ErrProtocol = errors.New("protocol error")

	// ErrParse indicates a single message could not be parsed
	ErrParse = errors.New("parse error")

	// ErrPersist indicates a single message could not be stored
	ErrPersist = errors.New("persist error")
)

// Error codes for API responses
const (
	CodeNotFound       = "NOT_FOUND"
	CodeDuplicateEntry = "DUPLICATE_ENTRY"
	CodeInvalidInput   = "INVALID_INPUT"
	CodeUnauthorized   = "UNAUTHORIZED"
	CodeInternalError  = "INTERNAL_ERROR"
	CodeCredential     = "CREDENTIAL_ERROR"
	CodeConnection     = "CONNECTION_ERROR"
	CodeMailAuth       = "MAIL_AUTH_FAILED"
	CodeProtocol       = "PROTOCOL_ERROR"
	CodeParse          = "PARSE_ERROR"
	CodePersist        = "PERSIST_ERROR"
	CodeSyncInProgress = "SYNC_IN_PROGRESS"
	CodeRateLimited    = "RATE_LIMITED"
)

// AppError represents an application error with context
type AppError struct {
	Err     error
	Message string
	Code    string
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError creates a new AppError
func NewAppError(err error, message string, code string) *AppError {
	return &AppError{
		Err:     err,
		Message: message,
		Code:    code,
	}
}

// MailError describes a failed stage of an IMAP or SMTP exchange.
// Kind is one of the mail sentinels above, so errors.Is(err, ErrAuth)
// matches through any amount of wrapping.
type MailError struct {
	Kind            error  `json:"-"`
	Err             error  `json:"-"`
	Protocol        string `json:"protocol,omitempty"`
	Stage           string `json:"stage,omitempty"`
	Reply           string `json:"reply,omitempty"`
	Message         string `json:"message"`
	SuggestedAction string `json:"suggested_action,omitempty"`
}

// Error implements the error interface
func (e *MailError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = e.Kind.Error()
	}
	if e.Stage != "" {
		msg = fmt.Sprintf("%s %s: %s", e.Protocol, e.Stage, msg)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap exposes both the kind sentinel and the cause.
func (e *MailError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// NewCredentialError creates a MailError for an unusable credential blob
func NewCredentialError(reason string, cause error) *MailError {
	return &MailError{
		Kind:            ErrCredential,
		Err:             cause,
		Message:         reason,
		SuggestedAction: "Re-enter the mailbox password; the stored credential cannot be decrypted.",
	}
}

// NewConnectionError creates a MailError for dial or greeting failures
func NewConnectionError(protocol, stage string, reply string, cause error) *MailError {
	return &MailError{
		Kind:            ErrConnection,
		Err:             cause,
		Protocol:        protocol,
		Stage:           stage,
		Reply:           reply,
		Message:         "could not establish a session with the mail server",
		SuggestedAction: "Check the server host and port, then retry later.",
	}
}

// NewAuthError creates a MailError for a rejected login
func NewAuthError(protocol, stage, reply string) *MailError {
	return &MailError{
		Kind:            ErrAuth,
		Protocol:        protocol,
		Stage:           stage,
		Reply:           reply,
		Message:         "the mail server rejected the credentials",
		SuggestedAction: "Check your credentials.",
	}
}

// NewProtocolError creates a MailError for an unexpected reply
func NewProtocolError(protocol, stage, reply string, cause error) *MailError {
	msg := "unexpected reply"
	if reply != "" {
		msg = fmt.Sprintf("unexpected reply %q", reply)
	}
	return &MailError{
		Kind:     ErrProtocol,
		Err:      cause,
		Protocol: protocol,
		Stage:    stage,
		Reply:    reply,
		Message:  msg,
	}
}

// Wrap wraps an error with additional context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrThreadNotFound) ||
		errors.Is(err, ErrMessageNotFound)
}

// IsDuplicateEntry checks if the error is a duplicate entry error
func IsDuplicateEntry(err error) bool {
	return errors.Is(err, ErrDuplicateEntry)
}

// IsInvalidInput checks if the error is an invalid input error
func IsInvalidInput(err error) bool {
	return errors.Is(err, ErrInvalidInput)
}

// IsFatalMailError reports whether err aborts a whole sync or send.
func IsFatalMailError(err error) bool {
	return errors.Is(err, ErrCredential) ||
		errors.Is(err, ErrConnection) ||
		errors.Is(err, ErrAuth) ||
		errors.Is(err, ErrProtocol)
}

// GetErrorCode returns the appropriate error code for an error
func GetErrorCode(err error) string {
	switch {
	case IsNotFound(err):
		return CodeNotFound
	case IsDuplicateEntry(err):
		return CodeDuplicateEntry
	case IsInvalidInput(err):
		return CodeInvalidInput
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrCredential):
		return CodeCredential
	case errors.Is(err, ErrAuth):
		return CodeMailAuth
	case errors.Is(err, ErrConnection):
		return CodeConnection
	case errors.Is(err, ErrProtocol):
		return CodeProtocol
	case errors.Is(err, ErrParse):
		return CodeParse
	case errors.Is(err, ErrPersist):
		return CodePersist
	default:
		return CodeInternalError
	}
}

// GetMailError extracts a MailError from an error chain if present
func GetMailError(err error) *MailError {
	var mailErr *MailError
	if errors.As(err, &mailErr) {
		return mailErr
	}
	return nil
}
