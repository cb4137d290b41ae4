package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/welldanyogia/webrana-mailengine/internal/models"
	"gorm.io/gorm"
)

// AccountRepository defines the interface for email account data access
type AccountRepository interface {
	Create(ctx context.Context, account *models.EmailAccount) error
	CreateSealed(ctx context.Context, account *models.EmailAccount, seal func(id uint) (string, error)) error
	GetByID(ctx context.Context, id uint) (*models.EmailAccount, error)
	GetForUser(ctx context.Context, userID string, id uint) (*models.EmailAccount, error)
	ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.EmailAccount, int64, error)
	ListAll(ctx context.Context) ([]models.EmailAccount, error)
	UpdateCredential(ctx context.Context, id uint, encrypted string, scope models.CredentialScope) error
	UpdateLastSynced(ctx context.Context, id uint, at time.Time) error
	Delete(ctx context.Context, id uint) error
}

// accountRepository implements AccountRepository using GORM
type accountRepository struct {
	db *gorm.DB
}

// NewAccountRepository creates a new AccountRepository instance
func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

// Create creates a new account
func (r *accountRepository) Create(ctx context.Context, account *models.EmailAccount) error {
	result := r.db.WithContext(ctx).Create(account)
	if result.Error != nil {
		if isDuplicateKeyError(result.Error) {
			return fmt.Errorf("account '%s' already exists: %w", account.Email, ErrDuplicateEntry)
		}
		return fmt.Errorf("failed to create account: %w", result.Error)
	}
	return nil
}

// CreateSealed inserts account and stores the credential seal returns for
// its new ID in the same transaction, so no reader sees the row without a
// credential. A seal error rolls the insert back.
func (r *accountRepository) CreateSealed(ctx context.Context, account *models.EmailAccount, seal func(id uint) (string, error)) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(account).Error; err != nil {
			if isDuplicateKeyError(err) {
				return fmt.Errorf("account '%s' already exists: %w", account.Email, ErrDuplicateEntry)
			}
			return fmt.Errorf("failed to create account: %w", err)
		}

		blob, err := seal(account.ID)
		if err != nil {
			return err
		}
		if err := tx.Model(account).Update("encrypted_password", blob).Error; err != nil {
			return fmt.Errorf("failed to store credential: %w", err)
		}
		account.EncryptedPassword = blob
		return nil
	})
}

// GetByID retrieves an account by its ID
func (r *accountRepository) GetByID(ctx context.Context, id uint) (*models.EmailAccount, error) {
	var account models.EmailAccount
	result := r.db.WithContext(ctx).First(&account, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account by ID: %w", result.Error)
	}
	return &account, nil
}

// GetForUser retrieves an account only if it belongs to userID
func (r *accountRepository) GetForUser(ctx context.Context, userID string, id uint) (*models.EmailAccount, error) {
	var account models.EmailAccount
	result := r.db.WithContext(ctx).Where("id = ? AND user_id = ?", id, userID).First(&account)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get account: %w", result.Error)
	}
	return &account, nil
}

// ListByUser retrieves the accounts of a user with pagination
func (r *accountRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.EmailAccount, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.EmailAccount{}).Where("user_id = ?", userID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count accounts: %w", err)
	}

	var accounts []models.EmailAccount
	result := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&accounts)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("failed to list accounts: %w", result.Error)
	}
	return accounts, total, nil
}

// ListAll retrieves every account, oldest first
func (r *accountRepository) ListAll(ctx context.Context) ([]models.EmailAccount, error) {
	var accounts []models.EmailAccount
	if err := r.db.WithContext(ctx).Order("id ASC").Find(&accounts).Error; err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	return accounts, nil
}

// UpdateCredential replaces the sealed password and its key scope
func (r *accountRepository) UpdateCredential(ctx context.Context, id uint, encrypted string, scope models.CredentialScope) error {
	result := r.db.WithContext(ctx).Model(&models.EmailAccount{}).Where("id = ?", id).Updates(map[string]interface{}{
		"encrypted_password": encrypted,
		"credential_scope":   scope,
	})
	if result.Error != nil {
		return fmt.Errorf("failed to update credential: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastSynced records the completion time of a sync
func (r *accountRepository) UpdateLastSynced(ctx context.Context, id uint, at time.Time) error {
	result := r.db.WithContext(ctx).Model(&models.EmailAccount{}).Where("id = ?", id).Update("last_synced_at", at)
	if result.Error != nil {
		return fmt.Errorf("failed to update last synced: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete deletes an account by its ID (cascade deletes threads and messages)
func (r *accountRepository) Delete(ctx context.Context, id uint) error {
	result := r.db.WithContext(ctx).Delete(&models.EmailAccount{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete account: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
