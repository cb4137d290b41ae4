package models

import (
	"time"
)

// CredentialScope selects the key that protects EncryptedPassword
type CredentialScope string

const (
	// ScopeGlobal credentials are sealed with the server-wide key
	ScopeGlobal CredentialScope = "global"
	// ScopeAccount credentials are sealed with a per-account subkey
	ScopeAccount CredentialScope = "account"
)

// EmailAccount is one mailbox credential set owned by a user
type EmailAccount struct {
	ID                uint            `gorm:"primaryKey" json:"id"`
	UserID            string          `gorm:"not null;size:255;index" json:"user_id"`
	Email             string          `gorm:"not null;size:255" json:"email"`
	DisplayName       string          `gorm:"size:255" json:"display_name,omitempty"`
	IMAPHost          string          `gorm:"column:imap_host;not null;size:255" json:"imap_host"`
	IMAPPort          int             `gorm:"column:imap_port;not null" json:"imap_port"`
	SMTPHost          string          `gorm:"column:smtp_host;not null;size:255" json:"smtp_host"`
	SMTPPort          int             `gorm:"column:smtp_port;not null" json:"smtp_port"`
	Username          string          `gorm:"not null;size:255" json:"username"`
	EncryptedPassword string          `gorm:"not null" json:"-"`
	Secure            bool            `gorm:"not null" json:"secure"`
	EncryptionMode    string          `gorm:"size:16" json:"encryption_mode,omitempty"`
	CredentialScope   CredentialScope `gorm:"size:16;default:global" json:"credential_scope"`
	LastSyncedAt      *time.Time      `json:"last_synced_at,omitempty"`
	CreatedAt         time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time       `gorm:"autoUpdateTime" json:"updated_at"`

	// Relationships
	Threads []EmailThread `gorm:"foreignKey:AccountID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName returns the table name for EmailAccount
func (EmailAccount) TableName() string {
	return "email_accounts"
}
