package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/welldanyogia/webrana-mailengine/internal/api"
	"github.com/welldanyogia/webrana-mailengine/internal/api/handlers"
	"github.com/welldanyogia/webrana-mailengine/internal/api/middleware"
	"github.com/welldanyogia/webrana-mailengine/internal/config"
	"github.com/welldanyogia/webrana-mailengine/internal/credential"
	"github.com/welldanyogia/webrana-mailengine/internal/database"
	"github.com/welldanyogia/webrana-mailengine/internal/logger"
	"github.com/welldanyogia/webrana-mailengine/internal/repository"
	"github.com/welldanyogia/webrana-mailengine/internal/services"
	"github.com/welldanyogia/webrana-mailengine/internal/storage"
	"github.com/welldanyogia/webrana-mailengine/internal/websocket"
)

func main() {
	if err := run(); err != nil {
		slog.Error("server exited with error", slog.Any("error", err))
		os.Exit(1)
	}
}

func run() error {
	// Load configuration
	cfg, err := config.LoadWithValidation()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	// Setup logger
	log := logger.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(log)
	log.Info("Starting mail engine server...")
	cfg.LogConfig(log)

	// Initialize database connection
	db, err := database.ConnectWithConfig(cfg.DatabaseDriver, cfg.DatabaseURL, database.DefaultPoolConfig())
	if err != nil {
		return err
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		return err
	}

	cipher, err := credential.NewCipher(cfg.CredentialSecret)
	if err != nil {
		return fmt.Errorf("initialize credential cipher: %w", err)
	}

	// Initialize repositories
	accountRepo := repository.NewAccountRepository(db)
	threadRepo := repository.NewThreadRepository(db)
	messageRepo := repository.NewMessageRepository(db)

	// Initialize services
	mailConfig := services.MailConfig{
		FetchLimit:  cfg.IMAPFetchLimit,
		DialTimeout: cfg.MailDialTimeout,
		IOTimeout:   cfg.MailIOTimeout,
		HeloHost:    cfg.SMTPHeloHost,
	}
	audit := logger.NewAuditLogger()
	persister := services.NewThreadPersister(messageRepo, log)
	syncService := services.NewSyncService(accountRepo, persister, cipher, mailConfig, audit, log)
	sendService := services.NewSendService(accountRepo, persister, cipher, mailConfig, audit, log)
	accountService := services.NewAccountService(accountRepo, cipher, log)

	// Raw message archive
	var archive storage.RawStore
	if cfg.MailArchivePath != "" {
		archive, err = storage.NewLocalStorage(cfg.MailArchivePath)
		if err != nil {
			return fmt.Errorf("init message archive: %w", err)
		}
		persister.SetArchive(archive)
	}

	// Live event feed
	hub := websocket.NewHub(log)
	go hub.Run()
	persister.SetNotifier(hub)

	// Background sync
	var scheduler *services.SyncScheduler
	var schedulerStatus handlers.SchedulerStatus
	if cfg.SyncInterval > 0 {
		scheduler = services.NewSyncScheduler(accountRepo, syncService, services.SyncSchedulerConfig{
			Interval: cfg.SyncInterval,
		}, log)
		scheduler.Start()
		schedulerStatus = scheduler
	}

	// Initialize HTTP server
	e := api.NewRouter(&api.RouterConfig{
		DB:                db,
		Logger:            log,
		APIKey:            cfg.APIKey,
		AllowedOrigins:    middleware.ParseOrigins(cfg.AllowedOrigins),
		Production:        cfg.IsProduction(),
		RateLimit:         cfg.RateLimitRequests,
		RateBurst:         cfg.RateLimitBurst,
		SyncRatePerMinute: cfg.SyncRatePerMinute,
		Accounts:          accountService,
		Syncer:            syncService,
		Sender:            sendService,
		Threads:           threadRepo,
		Messages:          messageRepo,
		Scheduler:         schedulerStatus,
		Hub:               hub,
		Archive:           archive,
		Discovery:         services.NewDiscoveryService(services.DefaultDiscoveryConfig()),
	})
	e.Server.ReadHeaderTimeout = 10 * time.Second

	serverErr := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		log.Info("HTTP server listening", slog.String("addr", addr))
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Info("Shutting down server...", slog.String("signal", sig.String()))
	case err := <-serverErr:
		return fmt.Errorf("http server: %w", err)
	}

	if scheduler != nil {
		scheduler.Stop()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown http server: %w", err)
	}
	hub.Stop()

	log.Info("Server stopped")
	return nil
}
