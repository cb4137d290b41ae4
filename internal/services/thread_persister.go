package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	apperrors "github.com/welldanyogia/webrana-mailengine/internal/errors"
	"github.com/welldanyogia/webrana-mailengine/internal/mailparse"
	"github.com/welldanyogia/webrana-mailengine/internal/models"
	"github.com/welldanyogia/webrana-mailengine/internal/repository"
	"github.com/welldanyogia/webrana-mailengine/internal/storage"
)

// ThreadPersister stores messages and keeps their threads current.
// Messages are deduplicated on (account, external id) and grouped into
// threads on (account, normalized subject).
type ThreadPersister struct {
	messages repository.MessageRepository
	notifier EventNotifier
	archive  storage.RawStore
	logger   *slog.Logger
}

// NewThreadPersister creates a new ThreadPersister
func NewThreadPersister(messages repository.MessageRepository, logger *slog.Logger) *ThreadPersister {
	if logger == nil {
		logger = slog.Default()
	}
	return &ThreadPersister{messages: messages, notifier: nopNotifier{}, logger: logger}
}

// SetNotifier routes stored-message and sync events to n. It must be
// called before the persister is shared.
func (p *ThreadPersister) SetNotifier(n EventNotifier) {
	if n == nil {
		n = nopNotifier{}
	}
	p.notifier = n
}

// SetArchive keeps the source of each newly stored inbound message in
// store. nil disables archiving.
func (p *ThreadPersister) SetArchive(store storage.RawStore) {
	p.archive = store
}

// maxAddressLength is the size of the from_address and from_name columns
const maxAddressLength = 255

// Persist stores a parsed inbound message. It reports false, with no
// error, when the message was already stored. Any other failure matches
// apperrors.ErrPersist.
func (p *ThreadPersister) Persist(ctx context.Context, accountID uint, msg *mailparse.Message) (bool, error) {
	record := &models.EmailMessage{
		AccountID:   accountID,
		ExternalID:  msg.ExternalID,
		FromAddress: msg.From.Email,
		FromName:    msg.From.Name,
		ToAddresses: emails(msg.To),
		CcAddresses: emails(msg.Cc),
		Subject:     msg.Subject,
		BodyText:    msg.BodyText,
		BodyHTML:    msg.BodyHTML,
		Snippet:     msg.Snippet,
		Direction:   models.DirectionReceived,
		Timestamp:   msg.Date,
	}
	return p.save(ctx, record, msg.Raw)
}

// Save stores record in the thread matching its subject. The thread gains
// the record's sender as a participant.
func (p *ThreadPersister) Save(ctx context.Context, record *models.EmailMessage) (bool, error) {
	return p.save(ctx, record, nil)
}

func (p *ThreadPersister) save(ctx context.Context, record *models.EmailMessage, raw []byte) (bool, error) {
	if record.ExternalID == "" {
		return false, fmt.Errorf("%w: message has no external id", apperrors.ErrPersist)
	}
	// bounded to the column sizes
	record.ExternalID = mailparse.Truncate(record.ExternalID, mailparse.MaxKeyLength)
	record.FromAddress = mailparse.Truncate(record.FromAddress, maxAddressLength)
	record.FromName = mailparse.Truncate(record.FromName, maxAddressLength)

	exists, err := p.messages.ExistsByExternalID(ctx, record.AccountID, record.ExternalID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", apperrors.ErrPersist, err)
	}
	if exists {
		p.logger.Debug("message already stored",
			slog.Uint64("account_id", uint64(record.AccountID)),
			slog.String("external_id", record.ExternalID))
		return false, nil
	}

	ref := repository.ThreadRef{
		Subject:     mailparse.CleanSubject(record.Subject),
		SubjectKey:  mailparse.NormalizeSubject(record.Subject),
		Participant: models.Participant{Email: record.FromAddress, Name: record.FromName},
	}
	p.archiveRaw(record, raw)
	thread, err := p.messages.CreateInThread(ctx, record, ref)
	if err != nil {
		p.discardRaw(record)
		// a concurrent writer won the race on the unique index
		if errors.Is(err, repository.ErrDuplicateEntry) {
			return false, nil
		}
		return false, fmt.Errorf("%w: message %s: %v", apperrors.ErrPersist, record.ExternalID, err)
	}

	p.logger.Debug("message stored",
		slog.Uint64("account_id", uint64(record.AccountID)),
		slog.Uint64("thread_id", uint64(thread.ID)),
		slog.Uint64("message_id", uint64(record.ID)))
	p.notifier.MessageStored(record)
	return true, nil
}

// archiveRaw sets record.RawPath. Archive failures only cost the source.
func (p *ThreadPersister) archiveRaw(record *models.EmailMessage, raw []byte) {
	if p.archive == nil || len(raw) == 0 {
		return
	}
	path, err := p.archive.Save(record.AccountID, bytes.NewReader(raw))
	if err != nil {
		p.logger.Warn("failed to archive message source",
			slog.Uint64("account_id", uint64(record.AccountID)),
			slog.String("external_id", record.ExternalID),
			slog.Any("error", err))
		return
	}
	record.RawPath = path
}

func (p *ThreadPersister) discardRaw(record *models.EmailMessage) {
	if record.RawPath == "" {
		return
	}
	if err := p.archive.Delete(record.RawPath); err != nil {
		p.logger.Warn("failed to remove archived source", slog.String("path", record.RawPath), slog.Any("error", err))
	}
	record.RawPath = ""
}

func emails(list []mailparse.Address) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.Email)
	}
	return out
}
