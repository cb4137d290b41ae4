package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/welldanyogia/webrana-mailengine/internal/models"
	"gorm.io/gorm"
)

// ThreadRepositoryTestSuite is the test suite for ThreadRepository
type ThreadRepositoryTestSuite struct {
	suite.Suite
	db          *gorm.DB
	repo        ThreadRepository
	msgRepo     MessageRepository
	testAccount *models.EmailAccount
}

// SetupSuite runs once before all tests
func (s *ThreadRepositoryTestSuite) SetupSuite() {
	s.db = openTestDB(s.T())
	s.repo = NewThreadRepository(s.db)
	s.msgRepo = NewMessageRepository(s.db)
}

// TearDownSuite runs once after all tests
func (s *ThreadRepositoryTestSuite) TearDownSuite() {
	closeTestDB(s.db)
}

// SetupTest runs before each test - clean up data and create test account
func (s *ThreadRepositoryTestSuite) SetupTest() {
	resetTestDB(s.db)

	s.testAccount = newTestAccount("user-1", "me@example.com")
	require.NoError(s.T(), s.db.Create(s.testAccount).Error)
}

// TestThreadRepositoryTestSuite runs the test suite
func TestThreadRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(ThreadRepositoryTestSuite))
}

func (s *ThreadRepositoryTestSuite) seed(externalID, subject string, at time.Time) *models.EmailThread {
	thread, err := s.msgRepo.CreateInThread(context.Background(), &models.EmailMessage{
		AccountID:  s.testAccount.ID,
		ExternalID: externalID,
		Subject:    subject,
		Direction:  models.DirectionReceived,
		Timestamp:  at,
	}, ThreadRef{Subject: subject, SubjectKey: subject, Participant: models.Participant{Email: "bob@example.com"}})
	require.NoError(s.T(), err)
	return thread
}

// ==================== List Tests ====================

func (s *ThreadRepositoryTestSuite) TestListByAccount_MostRecentFirst() {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.seed("<1@x>", "old", base)
	s.seed("<2@x>", "new", base.Add(time.Hour))
	s.seed("<3@x>", "middle", base.Add(30*time.Minute))

	threads, total, err := s.repo.ListByAccount(context.Background(), s.testAccount.ID, 2, 0)

	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(3), total)
	require.Len(s.T(), threads, 2)
	assert.Equal(s.T(), "new", threads[0].Subject)
	assert.Equal(s.T(), "middle", threads[1].Subject)
}

func (s *ThreadRepositoryTestSuite) TestGetBySubjectKey_NotFound() {
	_, err := s.repo.GetBySubjectKey(context.Background(), s.testAccount.ID, "missing")
	assert.ErrorIs(s.T(), err, ErrNotFound)
}

// ==================== UpdateFlags Tests ====================

func (s *ThreadRepositoryTestSuite) TestUpdateFlags() {
	thread := s.seed("<1@x>", "lunch", time.Now())
	read, starred := true, true

	err := s.repo.UpdateFlags(context.Background(), s.testAccount.ID, thread.ID, ThreadFlags{IsRead: &read, IsStarred: &starred})

	require.NoError(s.T(), err)
	found, _ := s.repo.GetByID(context.Background(), s.testAccount.ID, thread.ID)
	assert.True(s.T(), found.IsRead)
	assert.True(s.T(), found.IsStarred)
}

func (s *ThreadRepositoryTestSuite) TestUpdateFlags_PartialLeavesOtherFlag() {
	thread := s.seed("<1@x>", "lunch", time.Now())
	starred := true

	require.NoError(s.T(), s.repo.UpdateFlags(context.Background(), s.testAccount.ID, thread.ID, ThreadFlags{IsStarred: &starred}))

	found, _ := s.repo.GetByID(context.Background(), s.testAccount.ID, thread.ID)
	assert.False(s.T(), found.IsRead)
	assert.True(s.T(), found.IsStarred)
}

func (s *ThreadRepositoryTestSuite) TestUpdateFlags_Empty() {
	thread := s.seed("<1@x>", "lunch", time.Now())

	err := s.repo.UpdateFlags(context.Background(), s.testAccount.ID, thread.ID, ThreadFlags{})
	assert.ErrorIs(s.T(), err, ErrInvalidInput)
}

func (s *ThreadRepositoryTestSuite) TestUpdateFlags_WrongAccount() {
	thread := s.seed("<1@x>", "lunch", time.Now())
	read := true

	err := s.repo.UpdateFlags(context.Background(), s.testAccount.ID+1, thread.ID, ThreadFlags{IsRead: &read})
	assert.ErrorIs(s.T(), err, ErrNotFound)
}

// ==================== Delete Tests ====================

func (s *ThreadRepositoryTestSuite) TestDelete_CascadesMessages() {
	thread := s.seed("<1@x>", "lunch", time.Now())

	require.NoError(s.T(), s.repo.Delete(context.Background(), s.testAccount.ID, thread.ID))

	var messages int64
	s.db.Model(&models.EmailMessage{}).Count(&messages)
	assert.Zero(s.T(), messages)
	assert.ErrorIs(s.T(), s.repo.Delete(context.Background(), s.testAccount.ID, thread.ID), ErrNotFound)
}
