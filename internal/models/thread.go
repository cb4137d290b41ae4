package models

import (
	"time"
)

// Participant is one sender recorded on a thread
type Participant struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// EmailThread groups messages of one account that share a normalized subject
type EmailThread struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	AccountID     uint          `gorm:"not null;uniqueIndex:idx_thread_account_subject" json:"account_id"`
	Subject       string        `gorm:"not null" json:"subject"`
	SubjectKey    string        `gorm:"not null;size:512;uniqueIndex:idx_thread_account_subject" json:"-"`
	Participants  []Participant `gorm:"serializer:json;type:text" json:"participants"`
	LastMessageAt time.Time     `gorm:"index" json:"last_message_at"`
	IsRead        bool          `gorm:"default:false" json:"is_read"`
	IsStarred     bool          `gorm:"default:false" json:"is_starred"`
	MessageCount  int           `gorm:"default:0" json:"message_count"`
	Snippet       string        `gorm:"size:255" json:"snippet,omitempty"`
	CreatedAt     time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time     `gorm:"autoUpdateTime" json:"updated_at"`

	// Relationships
	Account  EmailAccount   `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE" json:"-"`
	Messages []EmailMessage `gorm:"foreignKey:ThreadID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for EmailThread
func (EmailThread) TableName() string {
	return "email_threads"
}
