package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/castellanhq/castellan/internal/token/ledger"
	"github.com/castellanhq/castellan/internal/token/store"
)

// HousekeepingService periodically cleans up expired database records so the
// token store, revocation ledger, and keychain tables stay bounded.
type HousekeepingService struct {
	Store    store.Store
	Ledger   *ledger.Ledger
	Logger   *slog.Logger
	Interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewHousekeepingService creates a housekeeping service with the given
// interval. If interval is 0 or negative, defaults to 1 hour.
func NewHousekeepingService(st store.Store, lg *ledger.Ledger, logger *slog.Logger, interval time.Duration) *HousekeepingService {
	if interval <= 0 {
		interval = 1 * time.Hour
	}
	return &HousekeepingService{
		Store:    st,
		Ledger:   lg,
		Logger:   logger,
		Interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background worker. Non-blocking; call Stop to shut down.
func (s *HousekeepingService) Start() {
	go s.run()
	s.Logger.Info("housekeeping service started", "interval", s.Interval)
}

// Stop gracefully shuts down the worker, waiting for any in-progress
// cleanup to finish.
func (s *HousekeepingService) Stop() {
	close(s.stopCh)
	<-s.doneCh
	s.Logger.Info("housekeeping service stopped")
}

func (s *HousekeepingService) run() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	// Run cleanup immediately on startup
	s.cleanup()

	for {
		select {
		case <-ticker.C:
			s.cleanup()
		case <-s.stopCh:
			return
		}
	}
}

// cleanup performs the actual deletions. Each is independent; a failure in
// one doesn't stop the others.
func (s *HousekeepingService) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	s.Logger.Debug("starting housekeeping cleanup")

	if err := s.Store.Tokens().DeleteExpiredTokens(ctx); err != nil {
		s.Logger.Error("failed to delete expired tokens", "error", err)
	}

	if err := s.Ledger.Prune(ctx); err != nil {
		s.Logger.Error("failed to prune revocation events", "error", err)
	}

	if err := s.Store.Keys().DeleteExpiredKeys(ctx); err != nil {
		s.Logger.Error("failed to delete expired keys", "error", err)
	}

	s.Logger.Debug("housekeeping cleanup completed")
}
