package handlers

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/webrana-mailengine/internal/api/response"
	"github.com/welldanyogia/webrana-mailengine/internal/services"
)

// MailDiscoverer suggests server settings for an address
type MailDiscoverer interface {
	Discover(ctx context.Context, email string) (*services.DiscoveryResult, error)
}

// DiscoveryHandler handles account settings discovery
type DiscoveryHandler struct {
	discoverer MailDiscoverer
}

// NewDiscoveryHandler creates a new DiscoveryHandler
func NewDiscoveryHandler(discoverer MailDiscoverer) *DiscoveryHandler {
	return &DiscoveryHandler{discoverer: discoverer}
}

// Discover handles GET /api/discover?email=
func (h *DiscoveryHandler) Discover(c echo.Context) error {
	email := c.QueryParam("email")
	if email == "" {
		return response.BadRequest(c, "email is required")
	}

	result, err := h.discoverer.Discover(c.Request().Context(), email)
	if err != nil {
		return response.Error(c, err)
	}

	return response.Success(c, result)
}
