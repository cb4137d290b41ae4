package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/welldanyogia/webrana-mailengine/internal/models"
	"gorm.io/gorm"
)

// ThreadFlags carries the optional flag changes of a thread update
type ThreadFlags struct {
	IsRead    *bool
	IsStarred *bool
}

// ThreadRepository defines the interface for thread data access
type ThreadRepository interface {
	GetByID(ctx context.Context, accountID, id uint) (*models.EmailThread, error)
	GetBySubjectKey(ctx context.Context, accountID uint, subjectKey string) (*models.EmailThread, error)
	ListByAccount(ctx context.Context, accountID uint, limit, offset int) ([]models.EmailThread, int64, error)
	UpdateFlags(ctx context.Context, accountID, id uint, flags ThreadFlags) error
	Delete(ctx context.Context, accountID, id uint) error
}

// threadRepository implements ThreadRepository using GORM
type threadRepository struct {
	db *gorm.DB
}

// NewThreadRepository creates a new ThreadRepository instance
func NewThreadRepository(db *gorm.DB) ThreadRepository {
	return &threadRepository{db: db}
}

// GetByID retrieves a thread of an account by its ID
func (r *threadRepository) GetByID(ctx context.Context, accountID, id uint) (*models.EmailThread, error) {
	var thread models.EmailThread
	result := r.db.WithContext(ctx).Where("id = ? AND account_id = ?", id, accountID).First(&thread)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get thread by ID: %w", result.Error)
	}
	return &thread, nil
}

// GetBySubjectKey retrieves the thread of an account for a normalized subject
func (r *threadRepository) GetBySubjectKey(ctx context.Context, accountID uint, subjectKey string) (*models.EmailThread, error) {
	var thread models.EmailThread
	result := r.db.WithContext(ctx).Where("account_id = ? AND subject_key = ?", accountID, subjectKey).First(&thread)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get thread by subject: %w", result.Error)
	}
	return &thread, nil
}

// ListByAccount retrieves threads for an account, most recent activity first
func (r *threadRepository) ListByAccount(ctx context.Context, accountID uint, limit, offset int) ([]models.EmailThread, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.EmailThread{}).Where("account_id = ?", accountID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count threads: %w", err)
	}

	var threads []models.EmailThread
	result := r.db.WithContext(ctx).
		Where("account_id = ?", accountID).
		Order("last_message_at DESC").
		Order("id DESC").
		Limit(limit).
		Offset(offset).
		Find(&threads)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("failed to list threads: %w", result.Error)
	}
	return threads, total, nil
}

// UpdateFlags sets the read and starred flags that are present in flags
func (r *threadRepository) UpdateFlags(ctx context.Context, accountID, id uint, flags ThreadFlags) error {
	updates := map[string]interface{}{}
	if flags.IsRead != nil {
		updates["is_read"] = *flags.IsRead
	}
	if flags.IsStarred != nil {
		updates["is_starred"] = *flags.IsStarred
	}
	if len(updates) == 0 {
		return fmt.Errorf("no flags to update: %w", ErrInvalidInput)
	}

	result := r.db.WithContext(ctx).Model(&models.EmailThread{}).
		Where("id = ? AND account_id = ?", id, accountID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("failed to update thread flags: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete deletes a thread (cascade deletes its messages)
func (r *threadRepository) Delete(ctx context.Context, accountID, id uint) error {
	result := r.db.WithContext(ctx).Where("account_id = ?", accountID).Delete(&models.EmailThread{}, id)
	if result.Error != nil {
		return fmt.Errorf("failed to delete thread: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
