package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/webrana-mailengine/internal/api/middleware"
	"github.com/welldanyogia/webrana-mailengine/internal/api/response"
	"github.com/welldanyogia/webrana-mailengine/internal/services"
)

// MailboxSyncer runs one IMAP sync for an account
type MailboxSyncer interface {
	Sync(ctx context.Context, accountID uint) (*services.SyncResult, error)
}

// MailSender submits one message over SMTP for an account
type MailSender interface {
	Send(ctx context.Context, accountID uint, req services.SendRequest) (*services.SendResult, error)
}

// MailHandler handles the sync and send actions on an account
type MailHandler struct {
	accounts AccountManager
	syncer   MailboxSyncer
	sender   MailSender
	logger   *slog.Logger
}

// NewMailHandler creates a new MailHandler
func NewMailHandler(accounts AccountManager, syncer MailboxSyncer, sender MailSender, logger *slog.Logger) *MailHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &MailHandler{accounts: accounts, syncer: syncer, sender: sender, logger: logger}
}

// SyncResponse is the outcome of a manual sync
type SyncResponse struct {
	AccountID    uint      `json:"account_id"`
	MessageCount int       `json:"message_count"`
	NewMessages  int       `json:"new_messages"`
	Errors       []string  `json:"errors,omitempty"`
	SyncedAt     time.Time `json:"synced_at"`
}

// Sync handles POST /api/accounts/:id/sync
func (h *MailHandler) Sync(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "invalid account ID")
	}

	ctx := c.Request().Context()
	if _, err := h.accounts.Get(ctx, middleware.UserID(c), id); err != nil {
		return response.Error(c, err)
	}

	result, err := h.syncer.Sync(ctx, id)
	if err != nil {
		h.logger.Warn("manual sync failed",
			slog.Uint64("account_id", uint64(id)),
			slog.Any("error", err))
		return response.Error(c, err)
	}

	return response.Success(c, SyncResponse{
		AccountID:    result.AccountID,
		MessageCount: result.MessageCount,
		NewMessages:  result.NewMessages,
		Errors:       result.ErrorMessages(),
		SyncedAt:     result.SyncedAt,
	})
}

// Send handles POST /api/accounts/:id/send
func (h *MailHandler) Send(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "invalid account ID")
	}

	var req services.SendRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	ctx := c.Request().Context()
	if _, err := h.accounts.Get(ctx, middleware.UserID(c), id); err != nil {
		return response.Error(c, err)
	}

	result, err := h.sender.Send(ctx, id, req)
	if err != nil {
		return response.Error(c, err)
	}

	// accepted by the server; a storage failure is reported, never a 5xx
	if result.PersistError != nil {
		return response.SuccessWithMessage(c, result, "message sent but not stored locally")
	}
	return response.Success(c, result)
}
