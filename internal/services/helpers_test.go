package services

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/welldanyogia/webrana-mailengine/internal/credential"
	"github.com/welldanyogia/webrana-mailengine/internal/logger"
	"github.com/welldanyogia/webrana-mailengine/internal/models"
	"github.com/welldanyogia/webrana-mailengine/internal/repository"
	"github.com/welldanyogia/webrana-mailengine/tests/fixtures"
)

const testSecret = "services-test-secret"

// syncBuffer is a bytes.Buffer safe for concurrent log writes
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// testEnv wires the services against an in-memory SQLite database
type testEnv struct {
	db        *gorm.DB
	accounts  repository.AccountRepository
	threads   repository.ThreadRepository
	messages  repository.MessageRepository
	cipher    *credential.Cipher
	persister *ThreadPersister
	audit     *logger.AuditLogger
	auditLog  *syncBuffer
	logger    *slog.Logger
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { sqlDB.Close() })

	db.Exec("PRAGMA foreign_keys = ON")
	require.NoError(t, db.AutoMigrate(&models.EmailAccount{}, &models.EmailThread{}, &models.EmailMessage{}))

	c, err := credential.NewCipher(testSecret)
	require.NoError(t, err)

	appLogger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auditLog := &syncBuffer{}
	messages := repository.NewMessageRepository(db)

	return &testEnv{
		db:        db,
		accounts:  repository.NewAccountRepository(db),
		threads:   repository.NewThreadRepository(db),
		messages:  messages,
		cipher:    c,
		persister: NewThreadPersister(messages, appLogger),
		audit:     logger.NewAuditLoggerWithHandler(slog.NewJSONHandler(auditLog, nil)),
		auditLog:  auditLog,
		logger:    appLogger,
	}
}

func testMailConfig() MailConfig {
	return MailConfig{
		DialTimeout: 2 * time.Second,
		IOTimeout:   2 * time.Second,
		HeloHost:    "mail.test",
	}
}

func (e *testEnv) syncService() *SyncService {
	return NewSyncService(e.accounts, e.persister, e.cipher, testMailConfig(), e.audit, e.logger)
}

func (e *testEnv) sendService() *SendService {
	return NewSendService(e.accounts, e.persister, e.cipher, testMailConfig(), e.audit, e.logger)
}

// createAccount stores an account whose IMAP and SMTP endpoints are the
// given scripted servers. Either address may be empty.
func (e *testEnv) createAccount(t *testing.T, imapAddr, smtpAddr, password string) *models.EmailAccount {
	t.Helper()

	imapHost, imapPort := splitAddr(t, imapAddr)
	smtpHost, smtpPort := splitAddr(t, smtpAddr)
	secure := false

	svc := NewAccountService(e.accounts, e.cipher, e.logger)
	account, err := svc.Create(context.Background(), "user-1", AccountInput{
		Email:       "me@example.com",
		DisplayName: "Me Example",
		IMAPHost:    imapHost,
		IMAPPort:    imapPort,
		SMTPHost:    smtpHost,
		SMTPPort:    smtpPort,
		Password:    password,
		Secure:      &secure,
	})
	require.NoError(t, err)
	return account
}

func (e *testEnv) countMessages(t *testing.T, accountID uint) int64 {
	t.Helper()
	n, err := e.messages.CountByAccount(context.Background(), accountID)
	require.NoError(t, err)
	return n
}

func (e *testEnv) listThreads(t *testing.T, accountID uint) []models.EmailThread {
	t.Helper()
	threads, _, err := e.threads.ListByAccount(context.Background(), accountID, 100, 0)
	require.NoError(t, err)
	return threads
}

func splitAddr(t *testing.T, addr string) (string, int) {
	t.Helper()
	if addr == "" {
		return "127.0.0.1", 1
	}
	host, port, err := net.SplitHostPort(addr)
	require.NoError(t, err)
	n, err := strconv.Atoi(port)
	require.NoError(t, err)
	return host, n
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func inboxMessages() []fixtures.IMAPMessage {
	return []fixtures.IMAPMessage{
		{
			Seq:       10,
			From:      "Alice <alice@example.com>",
			To:        "me@example.com",
			Subject:   "Quarterly report",
			Date:      "Mon, 02 Jan 2006 15:04:05 +0000",
			MessageID: "<m10@example.com>",
			Body:      "First body\r\n",
		},
		{
			Seq:       11,
			From:      "Carol <carol@example.net>",
			To:        "me@example.com",
			Subject:   "Re: Quarterly report",
			Date:      "Tue, 03 Jan 2006 15:04:05 +0000",
			MessageID: "<m11@example.net>",
			Body:      "Second body\r\n",
		},
	}
}
