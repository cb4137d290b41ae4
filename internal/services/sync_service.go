package services

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/welldanyogia/webrana-mailengine/internal/credential"
	apperrors "github.com/welldanyogia/webrana-mailengine/internal/errors"
	"github.com/welldanyogia/webrana-mailengine/internal/imap"
	"github.com/welldanyogia/webrana-mailengine/internal/logger"
	"github.com/welldanyogia/webrana-mailengine/internal/mailparse"
	"github.com/welldanyogia/webrana-mailengine/internal/repository"
	"github.com/welldanyogia/webrana-mailengine/internal/transport"
)

// InboxMailbox is the only mailbox synced
const InboxMailbox = "INBOX"

// SyncResult is the outcome of one sync run
type SyncResult struct {
	AccountID uint `json:"account_id"`
	// MessageCount is the number of fetched messages that were parsed and
	// are stored, including ones stored by an earlier run
	MessageCount int `json:"message_count"`
	// NewMessages is the number of rows inserted by this run
	NewMessages int `json:"new_messages"`
	// Errors holds per-message parse and persist failures
	Errors   []error   `json:"-"`
	SyncedAt time.Time `json:"synced_at"`
}

// ErrorMessages returns the soft errors as strings for display
func (r *SyncResult) ErrorMessages() []string {
	out := make([]string, 0, len(r.Errors))
	for _, err := range r.Errors {
		out = append(out, err.Error())
	}
	return out
}

// SyncService pulls recent INBOX messages into threads.
type SyncService struct {
	accounts  repository.AccountRepository
	persister *ThreadPersister
	cipher    *credential.Cipher
	config    MailConfig
	audit     *logger.AuditLogger
	logger    *slog.Logger
	group     singleflight.Group
	now       func() time.Time
}

// NewSyncService creates a new SyncService
func NewSyncService(
	accounts repository.AccountRepository,
	persister *ThreadPersister,
	cipher *credential.Cipher,
	config MailConfig,
	audit *logger.AuditLogger,
	log *slog.Logger,
) *SyncService {
	if log == nil {
		log = slog.Default()
	}
	if audit == nil {
		audit = logger.NewNopAuditLogger()
	}
	return &SyncService{
		accounts:  accounts,
		persister: persister,
		cipher:    cipher,
		config:    config.withDefaults(),
		audit:     audit,
		logger:    log,
		now:       time.Now,
	}
}

// Sync runs one sync of accountID. Concurrent calls for the same account
// share a single run and its result. The shared run is detached from the
// callers' cancellation and bounded by MailConfig.SyncTimeout; a caller
// whose ctx ends stops waiting without cutting the run short for others.
//
// Credential, connection, auth and protocol failures abort the run and
// are returned. Parse and persist failures only skip the message and are
// collected in SyncResult.Errors.
func (s *SyncService) Sync(ctx context.Context, accountID uint) (*SyncResult, error) {
	key := strconv.FormatUint(uint64(accountID), 10)
	ch := s.group.DoChan(key, func() (interface{}, error) {
		runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.SyncTimeout)
		defer cancel()
		return s.sync(runCtx, accountID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Shared {
			s.logger.Debug("joined in-flight sync", slog.Uint64("account_id", uint64(accountID)))
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*SyncResult), nil
	}
}

func (s *SyncService) sync(ctx context.Context, accountID uint) (*SyncResult, error) {
	started := s.now()
	log := s.logger.With(slog.Uint64("account_id", uint64(accountID)))

	account, err := loadAccount(ctx, s.accounts, accountID)
	if err != nil {
		return nil, err
	}

	password, err := decryptPassword(s.cipher, s.audit, account)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(account.IMAPHost, strconv.Itoa(account.IMAPPort))
	client, err := imap.Dial(ctx, addr, imap.Options{
		Security:    transport.ResolveSecurity(account.EncryptionMode, account.Secure, account.IMAPPort),
		TLSConfig:   s.config.TLSConfig,
		DialTimeout: s.config.DialTimeout,
		IOTimeout:   s.config.IOTimeout,
		Logger:      log,
	})
	if err != nil {
		log.Warn("imap connect failed", slog.String("addr", addr), slog.Any("error", err))
		return nil, err
	}
	// A session that failed part way is closed without LOGOUT.
	loggedOut := false
	defer func() {
		if !loggedOut {
			client.Close()
		}
	}()

	if err := client.Login(ctx, account.Username, password); err != nil {
		auditAuthFailure(s.audit, account.ID, account.IMAPHost, err)
		return nil, err
	}
	if _, err := client.Select(ctx, InboxMailbox); err != nil {
		return nil, err
	}
	ids, err := client.Search(ctx, s.config.FetchLimit)
	if err != nil {
		return nil, err
	}

	result := &SyncResult{AccountID: account.ID}
	for _, id := range ids {
		data, err := client.Fetch(ctx, id)
		if err != nil {
			if !errors.Is(err, apperrors.ErrParse) {
				return nil, err
			}
			log.Warn("skipping unreadable message", slog.Uint64("seq", uint64(id)), slog.Any("error", err))
			result.Errors = append(result.Errors, err)
			continue
		}

		msg, err := mailparse.Parse(data, s.now())
		if err != nil {
			log.Warn("skipping unparseable message", slog.Uint64("seq", uint64(id)), slog.Any("error", err))
			result.Errors = append(result.Errors, err)
			continue
		}

		stored, err := s.persister.Persist(ctx, account.ID, msg)
		if err != nil {
			log.Error("failed to persist message",
				slog.Uint64("seq", uint64(id)),
				slog.String("external_id", msg.ExternalID),
				slog.Any("error", err))
			result.Errors = append(result.Errors, err)
			continue
		}
		result.MessageCount++
		if stored {
			result.NewMessages++
		}
	}

	loggedOut = true
	if err := client.Logout(ctx); err != nil {
		log.Debug("imap logout failed", slog.Any("error", err))
	}

	result.SyncedAt = s.now()
	if err := s.accounts.UpdateLastSynced(ctx, account.ID, result.SyncedAt); err != nil {
		log.Warn("failed to record sync time", slog.Any("error", err))
	}

	s.audit.SyncCompleted(account.ID, result.MessageCount, result.NewMessages, len(result.Errors), s.now().Sub(started))
	s.persister.notifier.SyncCompleted(account.ID, result.MessageCount, result.NewMessages, result.SyncedAt)
	return result, nil
}
