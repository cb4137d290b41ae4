package handlers

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/webrana-mailengine/internal/api/middleware"
	"github.com/welldanyogia/webrana-mailengine/internal/api/response"
	"github.com/welldanyogia/webrana-mailengine/internal/repository"
	"github.com/welldanyogia/webrana-mailengine/internal/storage"
)

// ThreadHandler handles thread and message reads for an account
type ThreadHandler struct {
	accounts    AccountManager
	threadRepo  repository.ThreadRepository
	messageRepo repository.MessageRepository
	archive     storage.RawStore
}

// NewThreadHandler creates a new ThreadHandler
func NewThreadHandler(accounts AccountManager, threadRepo repository.ThreadRepository, messageRepo repository.MessageRepository) *ThreadHandler {
	return &ThreadHandler{
		accounts:    accounts,
		threadRepo:  threadRepo,
		messageRepo: messageRepo,
	}
}

// WithArchive enables GET .../messages/:message_id/raw
func (h *ThreadHandler) WithArchive(archive storage.RawStore) *ThreadHandler {
	h.archive = archive
	return h
}

// UpdateThreadRequest represents the request body for updating thread flags
type UpdateThreadRequest struct {
	IsRead    *bool `json:"is_read"`
	IsStarred *bool `json:"is_starred"`
}

// StarRequest represents the request body for starring a message
type StarRequest struct {
	Starred bool `json:"starred"`
}

// ownedAccount resolves :id to an account of the calling user. On failure
// the response has already been written and ok is false.
func (h *ThreadHandler) ownedAccount(c echo.Context) (uint, bool, error) {
	id, err := parseID(c, "id")
	if err != nil {
		return 0, false, response.BadRequest(c, "invalid account ID")
	}
	if _, err := h.accounts.Get(c.Request().Context(), middleware.UserID(c), id); err != nil {
		return 0, false, response.Error(c, err)
	}
	return id, true, nil
}

// List handles GET /api/accounts/:id/threads
func (h *ThreadHandler) List(c echo.Context) error {
	accountID, ok, err := h.ownedAccount(c)
	if !ok {
		return err
	}

	limit, offset := pagination(c)
	threads, total, err := h.threadRepo.ListByAccount(c.Request().Context(), accountID, limit, offset)
	if err != nil {
		return response.InternalError(c, "failed to list threads")
	}

	return response.Paginated(c, threads, total, limit, offset)
}

// Get handles GET /api/accounts/:id/threads/:thread_id
func (h *ThreadHandler) Get(c echo.Context) error {
	accountID, ok, err := h.ownedAccount(c)
	if !ok {
		return err
	}
	threadID, err := parseID(c, "thread_id")
	if err != nil {
		return response.BadRequest(c, "invalid thread ID")
	}

	thread, err := h.threadRepo.GetByID(c.Request().Context(), accountID, threadID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "thread not found")
		}
		return response.InternalError(c, "failed to get thread")
	}

	return response.Success(c, thread)
}

// Messages handles GET /api/accounts/:id/threads/:thread_id/messages
func (h *ThreadHandler) Messages(c echo.Context) error {
	accountID, ok, err := h.ownedAccount(c)
	if !ok {
		return err
	}
	threadID, err := parseID(c, "thread_id")
	if err != nil {
		return response.BadRequest(c, "invalid thread ID")
	}

	ctx := c.Request().Context()
	if _, err := h.threadRepo.GetByID(ctx, accountID, threadID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "thread not found")
		}
		return response.InternalError(c, "failed to get thread")
	}

	limit, offset := pagination(c)
	messages, total, err := h.messageRepo.ListByThread(ctx, threadID, limit, offset)
	if err != nil {
		return response.InternalError(c, "failed to list messages")
	}

	return response.Paginated(c, messages, total, limit, offset)
}

// Update handles PATCH /api/accounts/:id/threads/:thread_id
func (h *ThreadHandler) Update(c echo.Context) error {
	accountID, ok, err := h.ownedAccount(c)
	if !ok {
		return err
	}
	threadID, err := parseID(c, "thread_id")
	if err != nil {
		return response.BadRequest(c, "invalid thread ID")
	}

	var req UpdateThreadRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}
	if req.IsRead == nil && req.IsStarred == nil {
		return response.BadRequest(c, "is_read or is_starred is required")
	}

	ctx := c.Request().Context()
	flags := repository.ThreadFlags{IsRead: req.IsRead, IsStarred: req.IsStarred}
	if err := h.threadRepo.UpdateFlags(ctx, accountID, threadID, flags); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "thread not found")
		}
		return response.InternalError(c, "failed to update thread")
	}

	thread, err := h.threadRepo.GetByID(ctx, accountID, threadID)
	if err != nil {
		return response.InternalError(c, "failed to get thread")
	}
	return response.Success(c, thread)
}

// GetMessage handles GET /api/accounts/:id/messages/:message_id
func (h *ThreadHandler) GetMessage(c echo.Context) error {
	accountID, ok, err := h.ownedAccount(c)
	if !ok {
		return err
	}
	messageID, err := parseID(c, "message_id")
	if err != nil {
		return response.BadRequest(c, "invalid message ID")
	}

	ctx := c.Request().Context()
	message, err := h.messageRepo.GetByID(ctx, accountID, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "message not found")
		}
		return response.InternalError(c, "failed to get message")
	}

	// Auto mark as read
	if !message.IsRead {
		_ = h.messageRepo.MarkAsRead(ctx, accountID, messageID)
		message.IsRead = true
	}

	return response.Success(c, message)
}

// RawMessage handles GET /api/accounts/:id/messages/:message_id/raw
func (h *ThreadHandler) RawMessage(c echo.Context) error {
	accountID, ok, err := h.ownedAccount(c)
	if !ok {
		return err
	}
	messageID, err := parseID(c, "message_id")
	if err != nil {
		return response.BadRequest(c, "invalid message ID")
	}

	message, err := h.messageRepo.GetByID(c.Request().Context(), accountID, messageID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "message not found")
		}
		return response.InternalError(c, "failed to get message")
	}
	if h.archive == nil || message.RawPath == "" {
		return response.NotFound(c, "message source not archived")
	}

	file, err := h.archive.Get(message.RawPath)
	if err != nil {
		if errors.Is(err, storage.ErrFileNotFound) {
			return response.NotFound(c, "message source not archived")
		}
		return response.InternalError(c, "failed to open message source")
	}
	defer file.Close()

	c.Response().Header().Set(echo.HeaderContentType, "message/rfc822")
	c.Response().Header().Set(echo.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="message-%d.eml"`, message.ID))
	c.Response().WriteHeader(http.StatusOK)

	// Stream file to response
	if _, err := io.Copy(c.Response().Writer, file); err != nil {
		c.Logger().Warnf("failed to stream message source: %v", err)
	}
	return nil
}

// MarkMessageRead handles PATCH /api/accounts/:id/messages/:message_id/read
func (h *ThreadHandler) MarkMessageRead(c echo.Context) error {
	accountID, ok, err := h.ownedAccount(c)
	if !ok {
		return err
	}
	messageID, err := parseID(c, "message_id")
	if err != nil {
		return response.BadRequest(c, "invalid message ID")
	}

	if err := h.messageRepo.MarkAsRead(c.Request().Context(), accountID, messageID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "message not found")
		}
		return response.InternalError(c, "failed to mark message as read")
	}

	return response.SuccessWithMessage(c, nil, "message marked as read")
}

// StarMessage handles PATCH /api/accounts/:id/messages/:message_id/star
func (h *ThreadHandler) StarMessage(c echo.Context) error {
	accountID, ok, err := h.ownedAccount(c)
	if !ok {
		return err
	}
	messageID, err := parseID(c, "message_id")
	if err != nil {
		return response.BadRequest(c, "invalid message ID")
	}

	var req StarRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	if err := h.messageRepo.SetStarred(c.Request().Context(), accountID, messageID, req.Starred); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return response.NotFound(c, "message not found")
		}
		return response.InternalError(c, "failed to star message")
	}

	return response.SuccessWithMessage(c, nil, "message updated")
}
