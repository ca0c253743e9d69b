package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/quizrace/internal/config"
	"github.com/quizrace/internal/postgres"
	"github.com/quizrace/internal/redis"
)

// StandingsSyncWorker periodically rebuilds the Redis standings
// mirrors from Postgres. Postgres is the ranking source of truth; the
// mirror only exists to serve reads, so a cold or stale mirror is
// repaired here rather than blocking completions.
type StandingsSyncWorker struct {
	redis    *redis.Store
	postgres *postgres.Repository
	config   *config.SyncConfig
	logger   *slog.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}
	mu       sync.Mutex
	running  bool
}

// NewStandingsSyncWorker creates a new standings sync worker
func NewStandingsSyncWorker(
	redis *redis.Store,
	postgres *postgres.Repository,
	cfg *config.SyncConfig,
	logger *slog.Logger,
) *StandingsSyncWorker {
	return &StandingsSyncWorker{
		redis:    redis,
		postgres: postgres,
		config:   cfg,
		logger:   logger,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start begins the background sync process
func (w *StandingsSyncWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	w.logger.Info("standings sync worker started", "interval", w.config.Interval)

	go w.run(ctx)
	return nil
}

// Stop stops the background sync process
func (w *StandingsSyncWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	w.mu.Lock()
	w.running = false
	w.mu.Unlock()

	w.logger.Info("standings sync worker stopped")
	return nil
}

// run is the main worker loop
func (w *StandingsSyncWorker) run(ctx context.Context) {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.syncAll(ctx)
		}
	}
}

// syncAll rebuilds the mirror for every round that still has activity
func (w *StandingsSyncWorker) syncAll(ctx context.Context) {
	w.logger.Info("starting standings sync cycle")
	startTime := time.Now()

	roundIDs, err := w.postgres.ActiveRoundIDs(ctx)
	if err != nil {
		w.logger.Error("failed to list rounds for sync", "error", err)
		return
	}

	syncedCount := 0
	errorCount := 0

	for _, roundID := range roundIDs {
		if err := w.SyncRound(ctx, roundID); err != nil {
			w.logger.Error("failed to sync round standings",
				"round_id", roundID,
				"error", err,
			)
			errorCount++
		} else {
			syncedCount++
		}
	}

	duration := time.Since(startTime)
	w.logger.Info("standings sync cycle completed",
		"duration", duration,
		"synced", syncedCount,
		"errors", errorCount,
	)
}

// SyncRound rebuilds one round's mirror from the persisted completions
func (w *StandingsSyncWorker) SyncRound(ctx context.Context, roundID string) error {
	w.logger.Debug("syncing round standings", "round_id", roundID)

	batchSize := w.config.BatchSize
	if batchSize == 0 {
		batchSize = 1000
	}

	entries, err := w.postgres.CompletedStandings(ctx, roundID, batchSize)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		w.logger.Debug("no completions to sync", "round_id", roundID)
		return nil
	}

	if err := w.redis.BatchSetStandings(ctx, roundID, entries); err != nil {
		return err
	}

	w.logger.Debug("synced round standings",
		"round_id", roundID,
		"entry_count", len(entries),
	)
	return nil
}

// IsRunning returns whether the worker is currently running
func (w *StandingsSyncWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// RunOnce runs a single sync cycle (useful for manual triggers)
func (w *StandingsSyncWorker) RunOnce(ctx context.Context) {
	w.syncAll(ctx)
}
