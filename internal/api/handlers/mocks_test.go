package handlers

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/welldanyogia/webrana-mailengine/internal/models"
	"github.com/welldanyogia/webrana-mailengine/internal/services"
)

// MockAccountManager is a mock implementation of AccountManager
type MockAccountManager struct {
	mock.Mock
}

func (m *MockAccountManager) Create(ctx context.Context, userID string, in services.AccountInput) (*models.EmailAccount, error) {
	args := m.Called(ctx, userID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EmailAccount), args.Error(1)
}

func (m *MockAccountManager) Get(ctx context.Context, userID string, id uint) (*models.EmailAccount, error) {
	args := m.Called(ctx, userID, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EmailAccount), args.Error(1)
}

func (m *MockAccountManager) List(ctx context.Context, userID string, limit, offset int) ([]models.EmailAccount, int64, error) {
	args := m.Called(ctx, userID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]models.EmailAccount), args.Get(1).(int64), args.Error(2)
}

func (m *MockAccountManager) Delete(ctx context.Context, userID string, id uint) error {
	args := m.Called(ctx, userID, id)
	return args.Error(0)
}

func (m *MockAccountManager) RotateCredential(ctx context.Context, userID string, id uint, password string) error {
	args := m.Called(ctx, userID, id, password)
	return args.Error(0)
}

// MockMailboxSyncer is a mock implementation of MailboxSyncer
type MockMailboxSyncer struct {
	mock.Mock
}

func (m *MockMailboxSyncer) Sync(ctx context.Context, accountID uint) (*services.SyncResult, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SyncResult), args.Error(1)
}

// MockMailSender is a mock implementation of MailSender
type MockMailSender struct {
	mock.Mock
}

func (m *MockMailSender) Send(ctx context.Context, accountID uint, req services.SendRequest) (*services.SendResult, error) {
	args := m.Called(ctx, accountID, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.SendResult), args.Error(1)
}
