package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/welldanyogia/webrana-mailengine/internal/credential"
	apperrors "github.com/welldanyogia/webrana-mailengine/internal/errors"
	"github.com/welldanyogia/webrana-mailengine/internal/models"
	"github.com/welldanyogia/webrana-mailengine/internal/repository"
	"github.com/welldanyogia/webrana-mailengine/internal/transport"
	"github.com/welldanyogia/webrana-mailengine/internal/validator"
)

// AccountInput is the user-supplied part of an EmailAccount
type AccountInput struct {
	Email          string `json:"email"`
	DisplayName    string `json:"display_name"`
	IMAPHost       string `json:"imap_host"`
	IMAPPort       int    `json:"imap_port"`
	SMTPHost       string `json:"smtp_host"`
	SMTPPort       int    `json:"smtp_port"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	Secure         *bool  `json:"secure"`
	EncryptionMode string `json:"encryption_mode"`
}

// Validate checks the input can be stored and later used on the wire.
func (in *AccountInput) Validate() error {
	checks := []struct {
		field string
		err   error
	}{
		{"email", validator.ValidateEmail(in.Email)},
		{"imap_host", validator.ValidateHost(in.IMAPHost)},
		{"imap_port", validator.ValidatePort(in.IMAPPort)},
		{"smtp_host", validator.ValidateHost(in.SMTPHost)},
		{"smtp_port", validator.ValidatePort(in.SMTPPort)},
		{"display_name", validator.ValidateHeaderValue(in.DisplayName, 255)},
		{"username", validator.ValidateHeaderValue(in.Username, 255)},
		{"password", validator.ValidateHeaderValue(in.Password, 1024)},
	}
	for _, c := range checks {
		if c.err != nil {
			return fmt.Errorf("%w: %s: %v", apperrors.ErrInvalidInput, c.field, c.err)
		}
	}
	if in.Password == "" {
		return fmt.Errorf("%w: password is required", apperrors.ErrInvalidInput)
	}
	if !transport.IsValidSecurity(in.EncryptionMode) {
		return fmt.Errorf("%w: encryption_mode must be none, starttls or tls", apperrors.ErrInvalidInput)
	}
	return nil
}

// AccountService manages accounts and their sealed credentials.
type AccountService struct {
	accounts repository.AccountRepository
	cipher   *credential.Cipher
	logger   *slog.Logger
}

// NewAccountService creates a new AccountService
func NewAccountService(accounts repository.AccountRepository, cipher *credential.Cipher, logger *slog.Logger) *AccountService {
	if logger == nil {
		logger = slog.Default()
	}
	return &AccountService{accounts: accounts, cipher: cipher, logger: logger}
}

// Create stores a new account for userID. The password is sealed with
// the account's own subkey, inside the transaction that assigns its ID.
func (s *AccountService) Create(ctx context.Context, userID string, in AccountInput) (*models.EmailAccount, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}

	secure := true
	if in.Secure != nil {
		secure = *in.Secure
	}
	username := in.Username
	if username == "" {
		username = in.Email
	}

	account := &models.EmailAccount{
		UserID:          userID,
		Email:           strings.ToLower(strings.TrimSpace(in.Email)),
		DisplayName:     strings.TrimSpace(in.DisplayName),
		IMAPHost:        strings.ToLower(strings.TrimSpace(in.IMAPHost)),
		IMAPPort:        in.IMAPPort,
		SMTPHost:        strings.ToLower(strings.TrimSpace(in.SMTPHost)),
		SMTPPort:        in.SMTPPort,
		Username:        username,
		Secure:          secure,
		EncryptionMode:  strings.ToLower(in.EncryptionMode),
		CredentialScope: models.ScopeAccount,
	}
	err := s.accounts.CreateSealed(ctx, account, func(id uint) (string, error) {
		return s.seal(id, in.Password)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("account created",
		slog.Uint64("account_id", uint64(account.ID)),
		slog.String("user_id", userID))
	return account, nil
}

// Get returns userID's account id.
func (s *AccountService) Get(ctx context.Context, userID string, id uint) (*models.EmailAccount, error) {
	account, err := s.accounts.GetForUser(ctx, userID, id)
	if err != nil {
		if apperrors.IsNotFound(err) {
			return nil, fmt.Errorf("account %d: %w", id, apperrors.ErrAccountNotFound)
		}
		return nil, err
	}
	return account, nil
}

// List returns a page of userID's accounts and the total count.
func (s *AccountService) List(ctx context.Context, userID string, limit, offset int) ([]models.EmailAccount, int64, error) {
	return s.accounts.ListByUser(ctx, userID, limit, offset)
}

// Delete removes userID's account id with its threads and messages.
func (s *AccountService) Delete(ctx context.Context, userID string, id uint) error {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}
	return s.accounts.Delete(ctx, id)
}

// RotateCredential replaces the stored password. The new blob always uses
// the account-scoped key, which also migrates global-scope accounts.
func (s *AccountService) RotateCredential(ctx context.Context, userID string, id uint, password string) error {
	if password == "" {
		return fmt.Errorf("%w: password is required", apperrors.ErrInvalidInput)
	}
	if err := validator.ValidateHeaderValue(password, 1024); err != nil {
		return fmt.Errorf("%w: password: %v", apperrors.ErrInvalidInput, err)
	}
	if _, err := s.Get(ctx, userID, id); err != nil {
		return err
	}

	blob, err := s.seal(id, password)
	if err != nil {
		return err
	}
	if err := s.accounts.UpdateCredential(ctx, id, blob, models.ScopeAccount); err != nil {
		return err
	}

	s.logger.Info("account credential rotated", slog.Uint64("account_id", uint64(id)))
	return nil
}

func (s *AccountService) seal(accountID uint, password string) (string, error) {
	keyed, err := s.cipher.ForAccount(accountID)
	if err != nil {
		return "", err
	}
	return keyed.Encrypt(password)
}
