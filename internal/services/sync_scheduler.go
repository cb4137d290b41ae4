package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/welldanyogia/webrana-mailengine/internal/repository"
)

// AccountSyncer runs one sync of an account
type AccountSyncer interface {
	Sync(ctx context.Context, accountID uint) (*SyncResult, error)
}

// SyncSchedulerConfig holds configuration for the periodic sync job
type SyncSchedulerConfig struct {
	// Interval is how often every account is synced
	Interval time.Duration
	// AccountTimeout bounds a single account's sync
	AccountTimeout time.Duration
}

// SyncScheduler syncs every account in turn on a fixed interval.
type SyncScheduler struct {
	accounts repository.AccountRepository
	syncer   AccountSyncer
	config   SyncSchedulerConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
	passMu   sync.Mutex
}

// NewSyncScheduler creates a new sync scheduler
func NewSyncScheduler(
	accounts repository.AccountRepository,
	syncer AccountSyncer,
	config SyncSchedulerConfig,
	logger *slog.Logger,
) *SyncScheduler {
	// Set defaults
	if config.Interval <= 0 {
		config.Interval = 5 * time.Minute
	}
	if config.AccountTimeout <= 0 {
		config.AccountTimeout = 2 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &SyncScheduler{
		accounts: accounts,
		syncer:   syncer,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start begins the periodic sync job
func (s *SyncScheduler) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	s.mu.Unlock()

	s.wg.Add(1)
	go s.syncLoop(stopCh)

	s.logger.Info("sync scheduler started",
		slog.Duration("interval", s.config.Interval),
		slog.Duration("account_timeout", s.config.AccountTimeout))
}

// Stop stops the job and waits for the current pass to finish
func (s *SyncScheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("sync scheduler stopped")
}

// IsRunning returns whether the scheduler is currently running
func (s *SyncScheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *SyncScheduler) syncLoop(stopCh <-chan struct{}) {
	defer s.wg.Done()

	// Run immediately on start
	s.SyncAll()

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.SyncAll()
		}
	}
}

// SyncAll syncs every account once, sequentially. A failing account is
// logged and the pass moves on. Passes never overlap.
func (s *SyncScheduler) SyncAll() {
	s.passMu.Lock()
	defer s.passMu.Unlock()

	s.mu.Lock()
	stopCh := s.stopCh
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	accounts, err := s.accounts.ListAll(ctx)
	if err != nil {
		s.logger.Error("failed to list accounts", slog.Any("error", err))
		return
	}

	s.logger.Debug("sync pass starting", slog.Int("accounts", len(accounts)))

	for _, account := range accounts {
		if ctx.Err() != nil {
			return
		}
		s.syncAccount(ctx, account.ID)
	}
}

func (s *SyncScheduler) syncAccount(ctx context.Context, accountID uint) {
	ctx, cancel := context.WithTimeout(ctx, s.config.AccountTimeout)
	defer cancel()

	result, err := s.syncer.Sync(ctx, accountID)
	if err != nil {
		// Log error and continue with the next account
		s.logger.Error("scheduled sync failed",
			slog.Uint64("account_id", uint64(accountID)),
			slog.Any("error", err))
		return
	}

	s.logger.Debug("scheduled sync finished",
		slog.Uint64("account_id", uint64(accountID)),
		slog.Int("message_count", result.MessageCount),
		slog.Int("new_messages", result.NewMessages))
}

// ForceSync triggers an immediate pass outside the schedule
func (s *SyncScheduler) ForceSync() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		s.logger.Warn("force sync called but scheduler is not running")
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	s.logger.Info("force sync triggered")
	go func() {
		defer s.wg.Done()
		s.SyncAll()
	}()
}
