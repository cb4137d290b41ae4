package mocks

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/welldanyogia/webrana-mailengine/internal/models"
	"github.com/welldanyogia/webrana-mailengine/internal/repository"
)

// MockAccountRepository implements repository.AccountRepository
type MockAccountRepository struct {
	mock.Mock
}

// Create creates a new account
func (m *MockAccountRepository) Create(ctx context.Context, account *models.EmailAccount) error {
	args := m.Called(ctx, account)
	return args.Error(0)
}

// CreateSealed creates an account and stores its sealed credential
func (m *MockAccountRepository) CreateSealed(ctx context.Context, account *models.EmailAccount, seal func(id uint) (string, error)) error {
	args := m.Called(ctx, account, seal)
	return args.Error(0)
}

// GetByID retrieves an account by its ID
func (m *MockAccountRepository) GetByID(ctx context.Context, id uint) (*models.EmailAccount, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EmailAccount), args.Error(1)
}

// GetForUser retrieves an account owned by userID
func (m *MockAccountRepository) GetForUser(ctx context.Context, userID string, id uint) (*models.EmailAccount, error) {
	args := m.Called(ctx, userID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EmailAccount), args.Error(1)
}

// ListByUser retrieves a page of accounts owned by userID
func (m *MockAccountRepository) ListByUser(ctx context.Context, userID string, limit, offset int) ([]models.EmailAccount, int64, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]models.EmailAccount), args.Get(1).(int64), args.Error(2)
}

// ListAll retrieves every account
func (m *MockAccountRepository) ListAll(ctx context.Context) ([]models.EmailAccount, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.EmailAccount), args.Error(1)
}

// UpdateCredential replaces the sealed password
func (m *MockAccountRepository) UpdateCredential(ctx context.Context, id uint, encrypted string, scope models.CredentialScope) error {
	args := m.Called(ctx, id, encrypted, scope)
	return args.Error(0)
}

// UpdateLastSynced records the completion time of a sync
func (m *MockAccountRepository) UpdateLastSynced(ctx context.Context, id uint, at time.Time) error {
	args := m.Called(ctx, id, at)
	return args.Error(0)
}

// Delete deletes an account by its ID
func (m *MockAccountRepository) Delete(ctx context.Context, id uint) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

// MockThreadRepository implements repository.ThreadRepository
type MockThreadRepository struct {
	mock.Mock
}

// GetByID retrieves a thread of an account
func (m *MockThreadRepository) GetByID(ctx context.Context, accountID, id uint) (*models.EmailThread, error) {
	args := m.Called(ctx, accountID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EmailThread), args.Error(1)
}

// GetBySubjectKey retrieves the thread for a normalized subject
func (m *MockThreadRepository) GetBySubjectKey(ctx context.Context, accountID uint, subjectKey string) (*models.EmailThread, error) {
	args := m.Called(ctx, accountID, subjectKey)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EmailThread), args.Error(1)
}

// ListByAccount retrieves a page of threads for an account
func (m *MockThreadRepository) ListByAccount(ctx context.Context, accountID uint, limit, offset int) ([]models.EmailThread, int64, error) {
	args := m.Called(ctx, accountID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]models.EmailThread), args.Get(1).(int64), args.Error(2)
}

// UpdateFlags sets the read and starred flags of a thread
func (m *MockThreadRepository) UpdateFlags(ctx context.Context, accountID, id uint, flags repository.ThreadFlags) error {
	args := m.Called(ctx, accountID, id, flags)
	return args.Error(0)
}

// Delete deletes a thread and its messages
func (m *MockThreadRepository) Delete(ctx context.Context, accountID, id uint) error {
	args := m.Called(ctx, accountID, id)
	return args.Error(0)
}

// MockMessageRepository implements repository.MessageRepository
type MockMessageRepository struct {
	mock.Mock
}

// ExistsByExternalID reports whether a message is already stored
func (m *MockMessageRepository) ExistsByExternalID(ctx context.Context, accountID uint, externalID string) (bool, error) {
	args := m.Called(ctx, accountID, externalID)
	return args.Bool(0), args.Error(1)
}

// CreateInThread stores a message and upserts its thread
func (m *MockMessageRepository) CreateInThread(ctx context.Context, message *models.EmailMessage, ref repository.ThreadRef) (*models.EmailThread, error) {
	args := m.Called(ctx, message, ref)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EmailThread), args.Error(1)
}

// GetByID retrieves a message of an account
func (m *MockMessageRepository) GetByID(ctx context.Context, accountID, id uint) (*models.EmailMessage, error) {
	args := m.Called(ctx, accountID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EmailMessage), args.Error(1)
}

// ListByThread retrieves a page of messages in a thread
func (m *MockMessageRepository) ListByThread(ctx context.Context, threadID uint, limit, offset int) ([]models.EmailMessage, int64, error) {
	args := m.Called(ctx, threadID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]models.EmailMessage), args.Get(1).(int64), args.Error(2)
}

// MarkAsRead marks a message as read
func (m *MockMessageRepository) MarkAsRead(ctx context.Context, accountID, id uint) error {
	args := m.Called(ctx, accountID, id)
	return args.Error(0)
}

// SetStarred sets the starred flag of a message
func (m *MockMessageRepository) SetStarred(ctx context.Context, accountID, id uint, starred bool) error {
	args := m.Called(ctx, accountID, id, starred)
	return args.Error(0)
}

// CountByAccount counts stored messages of an account
func (m *MockMessageRepository) CountByAccount(ctx context.Context, accountID uint) (int64, error) {
	args := m.Called(ctx, accountID)
	return args.Get(0).(int64), args.Error(1)
}
