package fixtures

import (
	"time"

	"github.com/welldanyogia/webrana-mailengine/internal/models"
)

// AccountBuilder creates test EmailAccount instances with fluent API
type AccountBuilder struct {
	account models.EmailAccount
}

// NewAccountBuilder creates a new AccountBuilder with sensible defaults.
// The password blob is left empty; seal one with the credential cipher.
func NewAccountBuilder() *AccountBuilder {
	now := time.Now()
	return &AccountBuilder{
		account: models.EmailAccount{
			UserID:          "user-1",
			Email:           "me@example.com",
			IMAPHost:        "imap.example.com",
			IMAPPort:        993,
			SMTPHost:        "smtp.example.com",
			SMTPPort:        587,
			Username:        "me@example.com",
			Secure:          true,
			CredentialScope: models.ScopeGlobal,
			CreatedAt:       now,
			UpdatedAt:       now,
		},
	}
}

// WithID sets the account ID
func (b *AccountBuilder) WithID(id uint) *AccountBuilder {
	b.account.ID = id
	return b
}

// WithUserID sets the owning user
func (b *AccountBuilder) WithUserID(userID string) *AccountBuilder {
	b.account.UserID = userID
	return b
}

// WithEmail sets the address and login name
func (b *AccountBuilder) WithEmail(email string) *AccountBuilder {
	b.account.Email = email
	b.account.Username = email
	return b
}

// WithIMAP sets the IMAP endpoint
func (b *AccountBuilder) WithIMAP(host string, port int) *AccountBuilder {
	b.account.IMAPHost = host
	b.account.IMAPPort = port
	return b
}

// WithSMTP sets the SMTP endpoint
func (b *AccountBuilder) WithSMTP(host string, port int) *AccountBuilder {
	b.account.SMTPHost = host
	b.account.SMTPPort = port
	return b
}

// WithSecure sets whether sessions use TLS
func (b *AccountBuilder) WithSecure(secure bool) *AccountBuilder {
	b.account.Secure = secure
	return b
}

// WithEncryptedPassword sets the sealed credential and its scope
func (b *AccountBuilder) WithEncryptedPassword(blob string, scope models.CredentialScope) *AccountBuilder {
	b.account.EncryptedPassword = blob
	b.account.CredentialScope = scope
	return b
}

// Build returns the constructed EmailAccount
func (b *AccountBuilder) Build() *models.EmailAccount {
	return &b.account
}

// BuildValue returns the constructed EmailAccount as a value (not pointer)
func (b *AccountBuilder) BuildValue() models.EmailAccount {
	return b.account
}

// ThreadBuilder creates test EmailThread instances with fluent API
type ThreadBuilder struct {
	thread models.EmailThread
}

// NewThreadBuilder creates a new ThreadBuilder with sensible defaults
func NewThreadBuilder() *ThreadBuilder {
	now := time.Now()
	return &ThreadBuilder{
		thread: models.EmailThread{
			AccountID:     1,
			Subject:       "Test Subject",
			SubjectKey:    "test subject",
			LastMessageAt: now,
			MessageCount:  1,
			CreatedAt:     now,
			UpdatedAt:     now,
		},
	}
}

// WithID sets the thread ID
func (b *ThreadBuilder) WithID(id uint) *ThreadBuilder {
	b.thread.ID = id
	return b
}

// WithAccountID sets the owning account
func (b *ThreadBuilder) WithAccountID(accountID uint) *ThreadBuilder {
	b.thread.AccountID = accountID
	return b
}

// WithSubject sets the display subject and its key
func (b *ThreadBuilder) WithSubject(subject, key string) *ThreadBuilder {
	b.thread.Subject = subject
	b.thread.SubjectKey = key
	return b
}

// WithParticipants sets the participant list
func (b *ThreadBuilder) WithParticipants(participants ...models.Participant) *ThreadBuilder {
	b.thread.Participants = participants
	return b
}

// WithLastMessageAt sets the latest message time
func (b *ThreadBuilder) WithLastMessageAt(t time.Time) *ThreadBuilder {
	b.thread.LastMessageAt = t
	return b
}

// WithRead sets the read flag
func (b *ThreadBuilder) WithRead(read bool) *ThreadBuilder {
	b.thread.IsRead = read
	return b
}

// Build returns the constructed EmailThread
func (b *ThreadBuilder) Build() *models.EmailThread {
	return &b.thread
}

// MessageBuilder creates test EmailMessage instances with fluent API
type MessageBuilder struct {
	message models.EmailMessage
}

// NewMessageBuilder creates a new MessageBuilder with sensible defaults
func NewMessageBuilder() *MessageBuilder {
	now := time.Now()
	return &MessageBuilder{
		message: models.EmailMessage{
			AccountID:   1,
			ExternalID:  "<test-1@example.org>",
			FromAddress: "sender@example.org",
			FromName:    "Test Sender",
			ToAddresses: []string{"me@example.com"},
			Subject:     "Test Subject",
			BodyText:    "This is a test message body.",
			Snippet:     "This is a test message body.",
			Direction:   models.DirectionReceived,
			Timestamp:   now,
			CreatedAt:   now,
		},
	}
}

// WithID sets the message ID
func (b *MessageBuilder) WithID(id uint) *MessageBuilder {
	b.message.ID = id
	return b
}

// WithAccountID sets the owning account
func (b *MessageBuilder) WithAccountID(accountID uint) *MessageBuilder {
	b.message.AccountID = accountID
	return b
}

// WithThreadID sets the thread
func (b *MessageBuilder) WithThreadID(threadID uint) *MessageBuilder {
	b.message.ThreadID = threadID
	return b
}

// WithExternalID sets the Message-ID
func (b *MessageBuilder) WithExternalID(externalID string) *MessageBuilder {
	b.message.ExternalID = externalID
	return b
}

// WithFrom sets the sender
func (b *MessageBuilder) WithFrom(address, name string) *MessageBuilder {
	b.message.FromAddress = address
	b.message.FromName = name
	return b
}

// WithSubject sets the subject
func (b *MessageBuilder) WithSubject(subject string) *MessageBuilder {
	b.message.Subject = subject
	return b
}

// WithBody sets the text and HTML bodies
func (b *MessageBuilder) WithBody(text, html string) *MessageBuilder {
	b.message.BodyText = text
	b.message.BodyHTML = html
	return b
}

// WithDirection sets whether the message was received or sent
func (b *MessageBuilder) WithDirection(direction models.Direction) *MessageBuilder {
	b.message.Direction = direction
	return b
}

// WithTimestamp sets the message time
func (b *MessageBuilder) WithTimestamp(t time.Time) *MessageBuilder {
	b.message.Timestamp = t
	return b
}

// Build returns the constructed EmailMessage
func (b *MessageBuilder) Build() *models.EmailMessage {
	return &b.message
}

// BuildValue returns the constructed EmailMessage as a value (not pointer)
func (b *MessageBuilder) BuildValue() models.EmailMessage {
	return b.message
}

// Helper functions for creating multiple test entities

// CreateMessages creates received messages for accountID with distinct
// Message-IDs, spaced an hour apart and newest first
func CreateMessages(accountID uint, count int) []models.EmailMessage {
	messages := make([]models.EmailMessage, count)
	for i := 0; i < count; i++ {
		messages[i] = NewMessageBuilder().
			WithAccountID(accountID).
			WithExternalID(generateMessageID(i)).
			WithSubject(generateSubject(i)).
			WithTimestamp(time.Now().Add(-time.Duration(i) * time.Hour)).
			BuildValue()
	}
	return messages
}

func generateMessageID(index int) string {
	return "<msg-" + string(rune('a'+index%26)) + string(rune('0'+index/26%10)) + "@example.org>"
}

func generateSubject(index int) string {
	subjects := []string{
		"Welcome to our service",
		"Your order confirmation",
		"Important update",
		"Newsletter",
		"Account notification",
	}
	return subjects[index%len(subjects)]
}
