package services

import (
	"context"
	"log/slog"
	"net"
	"strconv"

	"github.com/welldanyogia/webrana-mailengine/internal/credential"
	"github.com/welldanyogia/webrana-mailengine/internal/logger"
	"github.com/welldanyogia/webrana-mailengine/internal/mailparse"
	"github.com/welldanyogia/webrana-mailengine/internal/models"
	"github.com/welldanyogia/webrana-mailengine/internal/repository"
	"github.com/welldanyogia/webrana-mailengine/internal/smtp"
	"github.com/welldanyogia/webrana-mailengine/internal/transport"
)

// SendRequest is one outbound HTML message from an account
type SendRequest struct {
	To      []string `json:"to"`
	Cc      []string `json:"cc,omitempty"`
	Bcc     []string `json:"bcc,omitempty"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// SendResult describes an accepted message
type SendResult struct {
	MessageID  string               `json:"message_id"`
	Recipients []string             `json:"recipients"`
	Reply      string               `json:"reply"`
	Message    *models.EmailMessage `json:"message,omitempty"`
	// PersistError is set when the server accepted the message but the
	// sent copy could not be stored
	PersistError error `json:"-"`
}

// SendService submits messages over SMTP and records the sent copy.
type SendService struct {
	accounts  repository.AccountRepository
	persister *ThreadPersister
	cipher    *credential.Cipher
	config    MailConfig
	audit     *logger.AuditLogger
	logger    *slog.Logger
}

// NewSendService creates a new SendService
func NewSendService(
	accounts repository.AccountRepository,
	persister *ThreadPersister,
	cipher *credential.Cipher,
	config MailConfig,
	audit *logger.AuditLogger,
	log *slog.Logger,
) *SendService {
	if log == nil {
		log = slog.Default()
	}
	if audit == nil {
		audit = logger.NewNopAuditLogger()
	}
	return &SendService{
		accounts:  accounts,
		persister: persister,
		cipher:    cipher,
		config:    config.withDefaults(),
		audit:     audit,
		logger:    log,
	}
}

// Send delivers req from accountID. Nothing is stored unless the server
// accepts the message. A failure to store the sent copy does not fail the
// send; it is reported in SendResult.PersistError.
func (s *SendService) Send(ctx context.Context, accountID uint, req SendRequest) (*SendResult, error) {
	log := s.logger.With(slog.Uint64("account_id", uint64(accountID)))

	account, err := loadAccount(ctx, s.accounts, accountID)
	if err != nil {
		return nil, err
	}

	msg := &smtp.Message{
		From:     account.Email,
		FromName: account.DisplayName,
		To:       req.To,
		Cc:       req.Cc,
		Bcc:      req.Bcc,
		Subject:  req.Subject,
		HTML:     req.HTML,
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}

	password, err := decryptPassword(s.cipher, s.audit, account)
	if err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(account.SMTPHost, strconv.Itoa(account.SMTPPort))
	receipt, err := smtp.SendMail(ctx, addr, smtp.Options{
		Security:    transport.ResolveSecurity(account.EncryptionMode, account.Secure, account.SMTPPort),
		TLSConfig:   s.config.TLSConfig,
		DialTimeout: s.config.DialTimeout,
		IOTimeout:   s.config.IOTimeout,
		LocalName:   s.config.HeloHost,
		Logger:      log,
	}, smtp.Credentials{Username: account.Username, Password: password}, msg)
	if err != nil {
		auditAuthFailure(s.audit, account.ID, account.SMTPHost, err)
		log.Warn("smtp send failed", slog.String("addr", addr), slog.Any("error", err))
		return nil, err
	}
	s.audit.SendCompleted(account.ID, receipt.MessageID, len(receipt.Recipients))

	result := &SendResult{
		MessageID:  receipt.MessageID,
		Recipients: receipt.Recipients,
		Reply:      receipt.Reply,
	}

	record := &models.EmailMessage{
		AccountID:    account.ID,
		ExternalID:   mailparse.NormalizeMessageID(receipt.MessageID),
		FromAddress:  account.Email,
		FromName:     account.DisplayName,
		ToAddresses:  req.To,
		CcAddresses:  req.Cc,
		BccAddresses: req.Bcc,
		Subject:      req.Subject,
		BodyHTML:     req.HTML,
		Snippet:      mailparse.Snippet("", req.HTML),
		Direction:    models.DirectionSent,
		IsRead:       true,
		Timestamp:    receipt.SentAt,
	}
	if _, err := s.persister.Save(ctx, record); err != nil {
		log.Error("failed to store sent message",
			slog.String("message_id", receipt.MessageID),
			slog.Any("error", err))
		result.PersistError = err
		return result, nil
	}
	result.Message = record
	return result, nil
}
