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

// MessageRepositoryTestSuite is the test suite for MessageRepository
type MessageRepositoryTestSuite struct {
	suite.Suite
	db          *gorm.DB
	repo        MessageRepository
	threadRepo  ThreadRepository
	testAccount *models.EmailAccount
}

// SetupSuite runs once before all tests
func (s *MessageRepositoryTestSuite) SetupSuite() {
	s.db = openTestDB(s.T())
	s.repo = NewMessageRepository(s.db)
	s.threadRepo = NewThreadRepository(s.db)
}

// TearDownSuite runs once after all tests
func (s *MessageRepositoryTestSuite) TearDownSuite() {
	closeTestDB(s.db)
}

// SetupTest runs before each test - clean up data and create test account
func (s *MessageRepositoryTestSuite) SetupTest() {
	resetTestDB(s.db)

	s.testAccount = newTestAccount("user-1", "me@example.com")
	require.NoError(s.T(), s.db.Create(s.testAccount).Error)
}

// TestMessageRepositoryTestSuite runs the test suite
func TestMessageRepositoryTestSuite(t *testing.T) {
	suite.Run(t, new(MessageRepositoryTestSuite))
}

func (s *MessageRepositoryTestSuite) newMessage(externalID, from string, at time.Time) *models.EmailMessage {
	return &models.EmailMessage{
		AccountID:   s.testAccount.ID,
		ExternalID:  externalID,
		FromAddress: from,
		ToAddresses: []string{"me@example.com"},
		Subject:     "Lunch",
		BodyText:    "See you at noon",
		Snippet:     "See you at noon " + externalID,
		Direction:   models.DirectionReceived,
		Timestamp:   at,
	}
}

func ref(subject, key, email string) ThreadRef {
	return ThreadRef{Subject: subject, SubjectKey: key, Participant: models.Participant{Email: email}}
}

// ==================== CreateInThread Tests ====================

func (s *MessageRepositoryTestSuite) TestCreateInThread_NewThread() {
	// Arrange
	at := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	msg := s.newMessage("<a@example.com>", "bob@example.com", at)

	// Act
	thread, err := s.repo.CreateInThread(context.Background(), msg, ref("Lunch", "lunch", "bob@example.com"))

	// Assert
	require.NoError(s.T(), err)
	assert.NotZero(s.T(), msg.ID)
	assert.Equal(s.T(), thread.ID, msg.ThreadID)
	assert.Equal(s.T(), 1, thread.MessageCount)
	assert.Equal(s.T(), []models.Participant{{Email: "bob@example.com"}}, thread.Participants)
	assert.True(s.T(), at.Equal(thread.LastMessageAt))
	assert.False(s.T(), thread.IsRead)

	stored, err := s.threadRepo.GetByID(context.Background(), s.testAccount.ID, thread.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "Lunch", stored.Subject)
	assert.Equal(s.T(), []models.Participant{{Email: "bob@example.com"}}, stored.Participants)
}

func (s *MessageRepositoryTestSuite) TestCreateInThread_AppendsToExistingThread() {
	// Arrange
	first := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	second := first.Add(time.Hour)
	_, err := s.repo.CreateInThread(context.Background(), s.newMessage("<a@example.com>", "bob@example.com", first), ref("Lunch", "lunch", "bob@example.com"))
	require.NoError(s.T(), err)

	// Act
	thread, err := s.repo.CreateInThread(context.Background(), s.newMessage("<b@example.com>", "carol@example.com", second), ref("Re: Lunch", "lunch", "carol@example.com"))

	// Assert
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 2, thread.MessageCount)
	assert.Equal(s.T(), "Lunch", thread.Subject)
	assert.Equal(s.T(), []models.Participant{{Email: "bob@example.com"}, {Email: "carol@example.com"}}, thread.Participants)
	assert.True(s.T(), second.Equal(thread.LastMessageAt))
	assert.Equal(s.T(), "See you at noon <b@example.com>", thread.Snippet)

	var threads int64
	s.db.Model(&models.EmailThread{}).Count(&threads)
	assert.Equal(s.T(), int64(1), threads)
}

func (s *MessageRepositoryTestSuite) TestCreateInThread_OlderMessageKeepsLastMessageAt() {
	newer := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	older := newer.Add(-24 * time.Hour)
	_, err := s.repo.CreateInThread(context.Background(), s.newMessage("<new@example.com>", "bob@example.com", newer), ref("Lunch", "lunch", "bob@example.com"))
	require.NoError(s.T(), err)

	thread, err := s.repo.CreateInThread(context.Background(), s.newMessage("<old@example.com>", "bob@example.com", older), ref("Lunch", "lunch", "bob@example.com"))

	require.NoError(s.T(), err)
	assert.True(s.T(), newer.Equal(thread.LastMessageAt))
	assert.Equal(s.T(), "See you at noon <new@example.com>", thread.Snippet)
	assert.Len(s.T(), thread.Participants, 2)
}

func (s *MessageRepositoryTestSuite) TestCreateInThread_DuplicateIsNoop() {
	// Arrange
	at := time.Now().UTC()
	_, err := s.repo.CreateInThread(context.Background(), s.newMessage("<dup@example.com>", "bob@example.com", at), ref("Lunch", "lunch", "bob@example.com"))
	require.NoError(s.T(), err)

	// Act
	_, err = s.repo.CreateInThread(context.Background(), s.newMessage("<dup@example.com>", "bob@example.com", at), ref("Other", "other", "bob@example.com"))

	// Assert
	assert.ErrorIs(s.T(), err, ErrDuplicateEntry)
	var messages, threads int64
	s.db.Model(&models.EmailMessage{}).Count(&messages)
	s.db.Model(&models.EmailThread{}).Count(&threads)
	assert.Equal(s.T(), int64(1), messages)
	assert.Equal(s.T(), int64(1), threads, "rolled back thread must not persist")

	thread, err := s.threadRepo.GetBySubjectKey(context.Background(), s.testAccount.ID, "lunch")
	require.NoError(s.T(), err)
	assert.Equal(s.T(), 1, thread.MessageCount)
}

func (s *MessageRepositoryTestSuite) TestCreateInThread_SameExternalIDOtherAccount() {
	other := newTestAccount("user-2", "other@example.com")
	require.NoError(s.T(), s.db.Create(other).Error)
	at := time.Now().UTC()

	_, err := s.repo.CreateInThread(context.Background(), s.newMessage("<shared@example.com>", "bob@example.com", at), ref("Lunch", "lunch", "bob@example.com"))
	require.NoError(s.T(), err)
	msg := s.newMessage("<shared@example.com>", "bob@example.com", at)
	msg.AccountID = other.ID
	_, err = s.repo.CreateInThread(context.Background(), msg, ref("Lunch", "lunch", "bob@example.com"))

	assert.NoError(s.T(), err)
	var threads int64
	s.db.Model(&models.EmailThread{}).Count(&threads)
	assert.Equal(s.T(), int64(2), threads)
}

func (s *MessageRepositoryTestSuite) TestCreateInThread_SentMessageKeepsThreadRead() {
	msg := s.newMessage("<sent@example.com>", "me@example.com", time.Now().UTC())
	msg.Direction = models.DirectionSent

	thread, err := s.repo.CreateInThread(context.Background(), msg, ref("Hello", "hello", "me@example.com"))

	require.NoError(s.T(), err)
	assert.True(s.T(), thread.IsRead)
}

// ==================== ExistsByExternalID Tests ====================

func (s *MessageRepositoryTestSuite) TestExistsByExternalID() {
	_, err := s.repo.CreateInThread(context.Background(), s.newMessage("<x@example.com>", "bob@example.com", time.Now()), ref("Lunch", "lunch", "bob@example.com"))
	require.NoError(s.T(), err)

	exists, err := s.repo.ExistsByExternalID(context.Background(), s.testAccount.ID, "<x@example.com>")
	assert.NoError(s.T(), err)
	assert.True(s.T(), exists)

	exists, err = s.repo.ExistsByExternalID(context.Background(), s.testAccount.ID, "<y@example.com>")
	assert.NoError(s.T(), err)
	assert.False(s.T(), exists)
}

// ==================== Read Tests ====================

func (s *MessageRepositoryTestSuite) TestGetByID_RoundTripsAddressLists() {
	msg := s.newMessage("<x@example.com>", "bob@example.com", time.Now())
	msg.CcAddresses = []string{"c1@example.com", "c2@example.com"}
	_, err := s.repo.CreateInThread(context.Background(), msg, ref("Lunch", "lunch", "bob@example.com"))
	require.NoError(s.T(), err)

	found, err := s.repo.GetByID(context.Background(), s.testAccount.ID, msg.ID)

	require.NoError(s.T(), err)
	assert.Equal(s.T(), []string{"me@example.com"}, found.ToAddresses)
	assert.Equal(s.T(), []string{"c1@example.com", "c2@example.com"}, found.CcAddresses)
	assert.Equal(s.T(), models.DirectionReceived, found.Direction)
}

func (s *MessageRepositoryTestSuite) TestGetByID_WrongAccount() {
	msg := s.newMessage("<x@example.com>", "bob@example.com", time.Now())
	_, err := s.repo.CreateInThread(context.Background(), msg, ref("Lunch", "lunch", "bob@example.com"))
	require.NoError(s.T(), err)

	_, err = s.repo.GetByID(context.Background(), s.testAccount.ID+1, msg.ID)
	assert.ErrorIs(s.T(), err, ErrNotFound)
}

func (s *MessageRepositoryTestSuite) TestListByThread_Chronological() {
	base := time.Date(2024, 1, 2, 10, 0, 0, 0, time.UTC)
	var thread *models.EmailThread
	for i, id := range []string{"<3@x>", "<1@x>", "<2@x>"} {
		var err error
		offset := map[int]time.Duration{0: 3 * time.Hour, 1: time.Hour, 2: 2 * time.Hour}[i]
		thread, err = s.repo.CreateInThread(context.Background(), s.newMessage(id, "bob@example.com", base.Add(offset)), ref("Lunch", "lunch", "bob@example.com"))
		require.NoError(s.T(), err)
	}

	messages, total, err := s.repo.ListByThread(context.Background(), thread.ID, 10, 0)

	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(3), total)
	require.Len(s.T(), messages, 3)
	assert.Equal(s.T(), "<1@x>", messages[0].ExternalID)
	assert.Equal(s.T(), "<2@x>", messages[1].ExternalID)
	assert.Equal(s.T(), "<3@x>", messages[2].ExternalID)
}

// ==================== Flag Tests ====================

func (s *MessageRepositoryTestSuite) TestMarkAsReadAndStar() {
	msg := s.newMessage("<x@example.com>", "bob@example.com", time.Now())
	_, err := s.repo.CreateInThread(context.Background(), msg, ref("Lunch", "lunch", "bob@example.com"))
	require.NoError(s.T(), err)

	require.NoError(s.T(), s.repo.MarkAsRead(context.Background(), s.testAccount.ID, msg.ID))
	require.NoError(s.T(), s.repo.SetStarred(context.Background(), s.testAccount.ID, msg.ID, true))

	found, _ := s.repo.GetByID(context.Background(), s.testAccount.ID, msg.ID)
	assert.True(s.T(), found.IsRead)
	assert.True(s.T(), found.IsStarred)

	assert.ErrorIs(s.T(), s.repo.MarkAsRead(context.Background(), s.testAccount.ID, 99999), ErrNotFound)
}

func (s *MessageRepositoryTestSuite) TestCountByAccount() {
	for _, id := range []string{"<1@x>", "<2@x>"} {
		_, err := s.repo.CreateInThread(context.Background(), s.newMessage(id, "bob@example.com", time.Now()), ref("Lunch", "lunch", "bob@example.com"))
		require.NoError(s.T(), err)
	}

	count, err := s.repo.CountByAccount(context.Background(), s.testAccount.ID)

	assert.NoError(s.T(), err)
	assert.Equal(s.T(), int64(2), count)
}
