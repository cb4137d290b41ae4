package api

import (
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/welldanyogia/webrana-mailengine/internal/api/handlers"
	"github.com/welldanyogia/webrana-mailengine/internal/api/middleware"
	"github.com/welldanyogia/webrana-mailengine/internal/repository"
	"github.com/welldanyogia/webrana-mailengine/internal/storage"
	"github.com/welldanyogia/webrana-mailengine/internal/websocket"
	"gorm.io/gorm"
)

// RouterConfig holds dependencies for the router
type RouterConfig struct {
	DB     *gorm.DB
	Logger *slog.Logger

	// Security configuration
	APIKey            string   // API key for authentication (empty = disabled)
	AllowedOrigins    []string // Allowed CORS origins
	Production        bool
	RateLimit         float64 // Requests per second per client IP
	RateBurst         int     // Burst size for rate limiter
	SyncRatePerMinute int     // Manual syncs per minute per account (0 = unlimited)

	// Mail services
	Accounts handlers.AccountManager
	Syncer   handlers.MailboxSyncer
	Sender   handlers.MailSender
	Threads  repository.ThreadRepository
	Messages repository.MessageRepository

	// Discovery suggests server settings; nil disables /api/discover
	Discovery handlers.MailDiscoverer

	// Archive holds raw message sources; nil disables the raw endpoint
	Archive storage.RawStore

	// Scheduler is reported by /health; nil when background sync is off
	Scheduler handlers.SchedulerStatus

	// Hub serves the live event feed; nil disables /api/events
	Hub *websocket.Hub
}

// NewRouter creates and configures the Echo router with all routes
func NewRouter(cfg *RouterConfig) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Middleware (applied in order)
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.SecureHeaders())
	e.Use(middleware.SecureCORS(cfg.AllowedOrigins, cfg.Production))
	if cfg.RateLimit > 0 {
		e.Use(middleware.RateLimiterWithConfig(cfg.RateLimit, cfg.RateBurst, logger))
	}
	e.Use(middleware.RequestLogger(logger))

	// Initialize handlers
	healthHandler := handlers.NewHealthHandler(cfg.DB, cfg.Scheduler)
	accountHandler := handlers.NewAccountHandler(cfg.Accounts)
	mailHandler := handlers.NewMailHandler(cfg.Accounts, cfg.Syncer, cfg.Sender, logger)
	threadHandler := handlers.NewThreadHandler(cfg.Accounts, cfg.Threads, cfg.Messages).WithArchive(cfg.Archive)

	// Health routes (no auth required)
	e.GET("/health", healthHandler.Health)
	e.GET("/ready", healthHandler.Ready)

	// API routes
	api := e.Group("/api")
	api.Use(middleware.APIKeyAuth(cfg.APIKey, logger))
	api.Use(middleware.RequireUser())

	if cfg.Discovery != nil {
		api.GET("/discover", handlers.NewDiscoveryHandler(cfg.Discovery).Discover)
	}

	// Account routes
	accounts := api.Group("/accounts")
	accounts.POST("", accountHandler.Create)
	accounts.GET("", accountHandler.List)
	accounts.GET("/:id", accountHandler.Get)
	accounts.DELETE("/:id", accountHandler.Delete)
	accounts.PUT("/:id/credential", accountHandler.RotateCredential)

	// Mail transport routes
	accounts.POST("/:id/sync", mailHandler.Sync, middleware.SyncRateLimiter(cfg.SyncRatePerMinute, logger))
	accounts.POST("/:id/send", mailHandler.Send)

	// Thread routes (nested under accounts)
	accounts.GET("/:id/threads", threadHandler.List)
	accounts.GET("/:id/threads/:thread_id", threadHandler.Get)
	accounts.PATCH("/:id/threads/:thread_id", threadHandler.Update)
	accounts.GET("/:id/threads/:thread_id/messages", threadHandler.Messages)

	// Message routes (nested under accounts)
	accounts.GET("/:id/messages/:message_id", threadHandler.GetMessage)
	accounts.PATCH("/:id/messages/:message_id/read", threadHandler.MarkMessageRead)
	accounts.PATCH("/:id/messages/:message_id/star", threadHandler.StarMessage)
	accounts.GET("/:id/messages/:message_id/raw", threadHandler.RawMessage)

	// Live event feed
	if cfg.Hub != nil {
		eventsHandler := handlers.NewEventsHandler(cfg.Hub, cfg.Accounts, cfg.AllowedOrigins, logger)
		api.GET("/events", eventsHandler.Stream)
	}

	return e
}
