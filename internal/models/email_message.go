package models

import (
	"time"
)

// Direction tells whether a message was received or sent by the account
type Direction string

const (
	DirectionReceived Direction = "received"
	DirectionSent     Direction = "sent"
)

// IsValid checks if the direction is a known value
func (d Direction) IsValid() bool {
	return d == DirectionReceived || d == DirectionSent
}

// EmailMessage is one inbound or outbound mail item. Rows are never
// changed after insert except for the read and starred flags.
type EmailMessage struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	ThreadID     uint      `gorm:"not null;index" json:"thread_id"`
	AccountID    uint      `gorm:"not null;uniqueIndex:idx_message_account_external" json:"account_id"`
	ExternalID   string    `gorm:"not null;size:512;uniqueIndex:idx_message_account_external" json:"external_id"`
	FromAddress  string    `gorm:"size:255" json:"from_address"`
	FromName     string    `gorm:"size:255" json:"from_name,omitempty"`
	ToAddresses  []string  `gorm:"serializer:json;type:text" json:"to_addresses"`
	CcAddresses  []string  `gorm:"serializer:json;type:text" json:"cc_addresses,omitempty"`
	BccAddresses []string  `gorm:"serializer:json;type:text" json:"bcc_addresses,omitempty"`
	Subject      string    `json:"subject,omitempty"`
	BodyText     string    `json:"body_text,omitempty"`
	BodyHTML     string    `json:"body_html,omitempty"`
	Snippet      string    `gorm:"size:255" json:"snippet,omitempty"`
	Direction    Direction `gorm:"not null;size:16;index" json:"direction"`
	IsRead       bool      `gorm:"default:false" json:"is_read"`
	IsStarred    bool      `gorm:"default:false" json:"is_starred"`
	RawPath      string    `gorm:"size:255" json:"-"`
	Timestamp    time.Time `gorm:"not null;index" json:"timestamp"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`

	// Relationships
	Thread EmailThread `gorm:"foreignKey:ThreadID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for EmailMessage
func (EmailMessage) TableName() string {
	return "email_messages"
}

// MessageListItem is a lightweight version for list views
type MessageListItem struct {
	ID          uint      `json:"id"`
	ThreadID    uint      `json:"thread_id"`
	FromAddress string    `json:"from_address"`
	FromName    string    `json:"from_name,omitempty"`
	Subject     string    `json:"subject,omitempty"`
	Snippet     string    `json:"snippet,omitempty"`
	Direction   Direction `json:"direction"`
	IsRead      bool      `json:"is_read"`
	Timestamp   time.Time `json:"timestamp"`
}
