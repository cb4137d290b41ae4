package services

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/welldanyogia/webrana-mailengine/internal/credential"
	apperrors "github.com/welldanyogia/webrana-mailengine/internal/errors"
	"github.com/welldanyogia/webrana-mailengine/internal/imap"
	"github.com/welldanyogia/webrana-mailengine/internal/logger"
	"github.com/welldanyogia/webrana-mailengine/internal/models"
	"github.com/welldanyogia/webrana-mailengine/internal/repository"
)

// MailConfig holds the protocol settings shared by sync and send
type MailConfig struct {
	// FetchLimit is the number of most recent INBOX messages fetched per sync
	FetchLimit int
	// DialTimeout bounds the TCP connect
	DialTimeout time.Duration
	// IOTimeout bounds every single read or write
	IOTimeout time.Duration
	// SyncTimeout bounds one shared sync run, independent of its callers
	SyncTimeout time.Duration
	// HeloHost is the name sent with EHLO
	HeloHost string
	// TLSConfig is the base client TLS configuration; nil uses system roots
	TLSConfig *tls.Config
}

func (c MailConfig) withDefaults() MailConfig {
	if c.FetchLimit <= 0 {
		c.FetchLimit = imap.DefaultFetchLimit
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = 15 * time.Second
	}
	if c.IOTimeout <= 0 {
		c.IOTimeout = 30 * time.Second
	}
	if c.SyncTimeout <= 0 {
		c.SyncTimeout = 2 * time.Minute
	}
	if c.HeloHost == "" {
		c.HeloHost = "localhost"
	}
	return c
}

// decryptPassword opens the account's stored credential. The plaintext is
// returned to the caller for a single login and never stored.
func decryptPassword(c *credential.Cipher, audit *logger.AuditLogger, account *models.EmailAccount) (string, error) {
	keyed, err := c.ForScope(credential.Scope(account.CredentialScope), account.ID)
	if err != nil {
		audit.CredentialFailure(account.ID, err.Error())
		return "", apperrors.NewCredentialError("failed to derive credential key", err)
	}
	password, err := keyed.Decrypt(account.EncryptedPassword)
	if err != nil {
		audit.CredentialFailure(account.ID, err.Error())
		return "", err
	}
	return password, nil
}

// auditAuthFailure records a rejected login; other errors are ignored.
func auditAuthFailure(audit *logger.AuditLogger, accountID uint, host string, err error) {
	if !errors.Is(err, apperrors.ErrAuth) {
		return
	}
	protocol, reply := "", ""
	if mailErr := apperrors.GetMailError(err); mailErr != nil {
		protocol, reply = mailErr.Protocol, mailErr.Reply
	}
	audit.MailAuthFailure(accountID, protocol, host, reply)
}

// loadAccount maps a missing account to ErrAccountNotFound.
func loadAccount(ctx context.Context, accounts repository.AccountRepository, id uint) (*models.EmailAccount, error) {
	account, err := accounts.GetByID(ctx, id)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, fmt.Errorf("account %d: %w", id, apperrors.ErrAccountNotFound)
		}
		return nil, err
	}
	return account, nil
}
