package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/welldanyogia/webrana-mailengine/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ThreadRef identifies the thread a message belongs to
type ThreadRef struct {
	Subject     string
	SubjectKey  string
	Participant models.Participant
}

// MessageRepository defines the interface for message data access
type MessageRepository interface {
	ExistsByExternalID(ctx context.Context, accountID uint, externalID string) (bool, error)
	CreateInThread(ctx context.Context, message *models.EmailMessage, ref ThreadRef) (*models.EmailThread, error)
	GetByID(ctx context.Context, accountID, id uint) (*models.EmailMessage, error)
	ListByThread(ctx context.Context, threadID uint, limit, offset int) ([]models.EmailMessage, int64, error)
	MarkAsRead(ctx context.Context, accountID, id uint) error
	SetStarred(ctx context.Context, accountID, id uint, starred bool) error
	CountByAccount(ctx context.Context, accountID uint) (int64, error)
}

// messageRepository implements MessageRepository using GORM
type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a new MessageRepository instance
func NewMessageRepository(db *gorm.DB) MessageRepository {
	return &messageRepository{db: db}
}

// ExistsByExternalID reports whether the account already stores externalID
func (r *messageRepository) ExistsByExternalID(ctx context.Context, accountID uint, externalID string) (bool, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.EmailMessage{}).
		Where("account_id = ? AND external_id = ?", accountID, externalID).
		Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("failed to check message existence: %w", result.Error)
	}
	return count > 0, nil
}

// CreateInThread inserts message and upserts its thread in one transaction.
// It returns ErrDuplicateEntry, and writes nothing, when the account already
// holds a message with the same external id.
func (r *messageRepository) CreateInThread(ctx context.Context, message *models.EmailMessage, ref ThreadRef) (*models.EmailThread, error) {
	var thread models.EmailThread
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := findOrCreateThread(tx, message, ref, &thread); err != nil {
			return err
		}

		message.ThreadID = thread.ID
		result := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}, {Name: "external_id"}},
			DoNothing: true,
		}).Create(message)
		if result.Error != nil {
			if isDuplicateKeyError(result.Error) {
				return fmt.Errorf("message '%s': %w", message.ExternalID, ErrDuplicateEntry)
			}
			return fmt.Errorf("failed to create message: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return fmt.Errorf("message '%s': %w", message.ExternalID, ErrDuplicateEntry)
		}

		thread.Participants = append(thread.Participants, ref.Participant)
		thread.MessageCount++
		if !message.Timestamp.Before(thread.LastMessageAt) {
			thread.LastMessageAt = message.Timestamp
			thread.Snippet = message.Snippet
		}
		if message.Direction == models.DirectionReceived {
			thread.IsRead = false
		}
		if err := tx.Omit(clause.Associations).Save(&thread).Error; err != nil {
			return fmt.Errorf("failed to update thread: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &thread, nil
}

// findOrCreateThread loads the thread for ref, creating an empty one when
// none exists yet. The row is locked for the rest of the transaction.
func findOrCreateThread(tx *gorm.DB, message *models.EmailMessage, ref ThreadRef, thread *models.EmailThread) error {
	created := &models.EmailThread{
		AccountID:     message.AccountID,
		Subject:       ref.Subject,
		SubjectKey:    ref.SubjectKey,
		Participants:  []models.Participant{},
		LastMessageAt: message.Timestamp,
		IsRead:        message.Direction == models.DirectionSent,
	}
	result := tx.Omit(clause.Associations).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account_id"}, {Name: "subject_key"}},
		DoNothing: true,
	}).Create(created)
	if result.Error != nil {
		return fmt.Errorf("failed to create thread: %w", result.Error)
	}

	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("account_id = ? AND subject_key = ?", message.AccountID, ref.SubjectKey).
		First(thread).Error
	if err != nil {
		return fmt.Errorf("failed to load thread: %w", err)
	}
	return nil
}

// GetByID retrieves a message of an account by its ID
func (r *messageRepository) GetByID(ctx context.Context, accountID, id uint) (*models.EmailMessage, error) {
	var message models.EmailMessage
	result := r.db.WithContext(ctx).Where("id = ? AND account_id = ?", id, accountID).First(&message)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get message by ID: %w", result.Error)
	}
	return &message, nil
}

// ListByThread retrieves messages of a thread in chronological order
func (r *messageRepository) ListByThread(ctx context.Context, threadID uint, limit, offset int) ([]models.EmailMessage, int64, error) {
	var total int64
	if err := r.db.WithContext(ctx).Model(&models.EmailMessage{}).Where("thread_id = ?", threadID).Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count messages: %w", err)
	}

	var messages []models.EmailMessage
	result := r.db.WithContext(ctx).
		Where("thread_id = ?", threadID).
		Order(clause.OrderByColumn{Column: clause.Column{Name: "timestamp"}}).
		Order("id ASC").
		Limit(limit).
		Offset(offset).
		Find(&messages)
	if result.Error != nil {
		return nil, 0, fmt.Errorf("failed to list messages: %w", result.Error)
	}
	return messages, total, nil
}

// MarkAsRead marks a message as read
func (r *messageRepository) MarkAsRead(ctx context.Context, accountID, id uint) error {
	result := r.db.WithContext(ctx).Model(&models.EmailMessage{}).
		Where("id = ? AND account_id = ?", id, accountID).
		Update("is_read", true)
	if result.Error != nil {
		return fmt.Errorf("failed to mark message as read: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// SetStarred sets the starred flag of a message
func (r *messageRepository) SetStarred(ctx context.Context, accountID, id uint, starred bool) error {
	result := r.db.WithContext(ctx).Model(&models.EmailMessage{}).
		Where("id = ? AND account_id = ?", id, accountID).
		Update("is_starred", starred)
	if result.Error != nil {
		return fmt.Errorf("failed to star message: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CountByAccount counts all stored messages of an account
func (r *messageRepository) CountByAccount(ctx context.Context, accountID uint) (int64, error) {
	var count int64
	result := r.db.WithContext(ctx).Model(&models.EmailMessage{}).Where("account_id = ?", accountID).Count(&count)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to count messages: %w", result.Error)
	}
	return count, nil
}
