// Package scheduler runs the periodic background sync trigger.
package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// SyncRunner is the slice of the sync orchestrator the trigger drives
type SyncRunner interface {
	SyncAll(ctx context.Context) error
}

// SyncTrigger re-syncs every connected integration on a fixed interval.
// A zero interval disables the trigger entirely; on-demand syncs through
// the API are unaffected.
type SyncTrigger struct {
	interval time.Duration
	runner   SyncRunner
	logger   *zap.Logger

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	isRunning bool
}

// NewSyncTrigger creates a new SyncTrigger
func NewSyncTrigger(interval time.Duration, runner SyncRunner, logger *zap.Logger) *SyncTrigger {
	return &SyncTrigger{
		interval: interval,
		runner:   runner,
		logger:   logger.Named("scheduler"),
	}
}

// Start starts the background loop. Starting a running or disabled trigger
// is a no-op.
func (t *SyncTrigger) Start(ctx context.Context) error {
	if t.interval <= 0 {
		t.logger.Info("Background sync disabled, interval is zero")
		return nil
	}

	t.mu.Lock()
	if t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = true
	t.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	t.cancel = cancel

	t.wg.Add(1)
	go t.runLoop(ctx)

	t.logger.Info("Background sync started", zap.Duration("interval", t.interval))
	return nil
}

// Stop stops the loop and waits for an in-flight run to finish, bounded by
// the given context
func (t *SyncTrigger) Stop(ctx context.Context) error {
	t.mu.Lock()
	if !t.isRunning {
		t.mu.Unlock()
		return nil
	}
	t.isRunning = false
	t.mu.Unlock()

	if t.cancel != nil {
		t.cancel()
	}

	done := make(chan struct{})
	go func() {
		t.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		t.logger.Info("Background sync stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (t *SyncTrigger) runLoop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.runOnce(ctx)
		}
	}
}

func (t *SyncTrigger) runOnce(ctx context.Context) {
	start := time.Now()
	if err := t.runner.SyncAll(ctx); err != nil {
		t.logger.Error("Background sync run failed", zap.Error(err))
		return
	}
	t.logger.Info("Background sync run finished", zap.Duration("took", time.Since(start)))
}
