package handlers

import (
	"context"
	"log/slog"

	gorillaws "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/webrana-mailengine/internal/api/middleware"
	"github.com/welldanyogia/webrana-mailengine/internal/websocket"
)

// EventsHandler upgrades requests to the live mail event feed
type EventsHandler struct {
	hub      *websocket.Hub
	accounts AccountManager
	upgrader gorillaws.Upgrader
	logger   *slog.Logger
}

// NewEventsHandler creates a new EventsHandler
func NewEventsHandler(hub *websocket.Hub, accounts AccountManager, allowedOrigins []string, logger *slog.Logger) *EventsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventsHandler{
		hub:      hub,
		accounts: accounts,
		upgrader: websocket.NewSecureUpgrader(allowedOrigins, logger),
		logger:   logger,
	}
}

// Stream handles GET /api/events
func (h *EventsHandler) Stream(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the error response
		return nil
	}

	userID := middleware.UserID(c)
	authorize := func(ctx context.Context, accountID uint) bool {
		_, err := h.accounts.Get(ctx, userID, accountID)
		return err == nil
	}

	client := websocket.NewClient(h.hub, conn, userID, authorize, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	go client.ReadPump()

	return nil
}
