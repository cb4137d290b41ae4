package handlers

import (
	"context"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/webrana-mailengine/internal/api/middleware"
	"github.com/welldanyogia/webrana-mailengine/internal/api/response"
	"github.com/welldanyogia/webrana-mailengine/internal/models"
	"github.com/welldanyogia/webrana-mailengine/internal/services"
	"github.com/welldanyogia/webrana-mailengine/internal/validator"
)

// AccountManager is the account surface the handlers need
type AccountManager interface {
	Create(ctx context.Context, userID string, in services.AccountInput) (*models.EmailAccount, error)
	Get(ctx context.Context, userID string, id uint) (*models.EmailAccount, error)
	List(ctx context.Context, userID string, limit, offset int) ([]models.EmailAccount, int64, error)
	Delete(ctx context.Context, userID string, id uint) error
	RotateCredential(ctx context.Context, userID string, id uint, password string) error
}

// AccountHandler handles account-related HTTP requests
type AccountHandler struct {
	accounts AccountManager
}

// NewAccountHandler creates a new AccountHandler
func NewAccountHandler(accounts AccountManager) *AccountHandler {
	return &AccountHandler{accounts: accounts}
}

// RotateCredentialRequest represents the request body for rotating a password
type RotateCredentialRequest struct {
	Password string `json:"password"`
}

// Create handles POST /api/accounts
func (h *AccountHandler) Create(c echo.Context) error {
	var in services.AccountInput
	if err := c.Bind(&in); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	account, err := h.accounts.Create(c.Request().Context(), middleware.UserID(c), in)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Created(c, account)
}

// List handles GET /api/accounts
func (h *AccountHandler) List(c echo.Context) error {
	limit, offset := pagination(c)

	accounts, total, err := h.accounts.List(c.Request().Context(), middleware.UserID(c), limit, offset)
	if err != nil {
		return response.InternalError(c, "failed to list accounts")
	}

	return response.Paginated(c, accounts, total, limit, offset)
}

// Get handles GET /api/accounts/:id
func (h *AccountHandler) Get(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "invalid account ID")
	}

	account, err := h.accounts.Get(c.Request().Context(), middleware.UserID(c), id)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, account)
}

// Delete handles DELETE /api/accounts/:id
func (h *AccountHandler) Delete(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "invalid account ID")
	}

	if err := h.accounts.Delete(c.Request().Context(), middleware.UserID(c), id); err != nil {
		return response.Error(c, err)
	}

	return response.NoContent(c)
}

// RotateCredential handles PUT /api/accounts/:id/credential
func (h *AccountHandler) RotateCredential(c echo.Context) error {
	id, err := parseID(c, "id")
	if err != nil {
		return response.BadRequest(c, "invalid account ID")
	}

	var req RotateCredentialRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, "invalid request body")
	}

	if err := h.accounts.RotateCredential(c.Request().Context(), middleware.UserID(c), id, req.Password); err != nil {
		return response.Error(c, err)
	}

	return response.SuccessWithMessage(c, nil, "credential updated")
}

// parseID reads a positive numeric path parameter
func parseID(c echo.Context, name string) (uint, error) {
	id, err := strconv.ParseUint(c.Param(name), 10, 32)
	if err != nil {
		return 0, err
	}
	if id == 0 {
		return 0, strconv.ErrRange
	}
	return uint(id), nil
}

// pagination reads limit and offset, falling back to defaults on bad input
func pagination(c echo.Context) (int, int) {
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	return validator.ValidatePagination(limit, offset)
}
