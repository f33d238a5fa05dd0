// Package scheduler runs the reconciliation cycle on a periodic tick.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/tasknexus/backend/internal/errors"
	"github.com/tasknexus/backend/internal/logging"
	syncpkg "github.com/tasknexus/backend/internal/sync"
)

// Reconciler is the slice of the orchestrator the scheduler needs.
type Reconciler interface {
	RunFullCycle(ctx context.Context) (*syncpkg.CycleResult, error)
	PendingChanges() (int, error)
}

// Scheduler triggers reconciliation cycles in the background. Only one
// cycle runs at a time; a tick that fires while a cycle is in flight is
// skipped rather than queued.
type Scheduler struct {
	reconciler   Reconciler
	syncInterval time.Duration
	cycleTimeout time.Duration
	stopCh       chan struct{}
	wg           sync.WaitGroup

	mu             sync.RWMutex
	isRunning      bool
	syncInProgress bool
	lastSyncTime   time.Time
	lastResult     *syncpkg.CycleResult
	lastError      string
}

// Config holds scheduler configuration.
type Config struct {
	SyncInterval time.Duration // how often to run a cycle (default: 5 minutes)
	CycleTimeout time.Duration // upper bound on one cycle (default: 5 minutes)
}

// DefaultConfig returns the default scheduler configuration.
func DefaultConfig() *Config {
	return &Config{
		SyncInterval: 5 * time.Minute,
		CycleTimeout: 5 * time.Minute,
	}
}

// NewScheduler creates a new Scheduler.
func NewScheduler(reconciler Reconciler, config *Config) *Scheduler {
	if config == nil {
		config = DefaultConfig()
	}
	return &Scheduler{
		reconciler:   reconciler,
		syncInterval: config.SyncInterval,
		cycleTimeout: config.CycleTimeout,
		stopCh:       make(chan struct{}),
	}
}

// Start starts the background tick loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = true
	s.mu.Unlock()

	s.wg.Add(1)
	go s.tickLoop(ctx)

	logging.Info("Sync scheduler started",
		map[string]interface{}{"interval_seconds": s.syncInterval.Seconds()})
}

// Stop stops the scheduler gracefully, waiting for the loop to exit. An
// in-flight cycle is not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return
	}
	s.isRunning = false
	s.mu.Unlock()

	close(s.stopCh)
	s.wg.Wait()

	logging.Info("Sync scheduler stopped", nil)
}

func (s *Scheduler) tickLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.syncInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.mu.RLock()
			busy := s.syncInProgress
			s.mu.RUnlock()
			if busy {
				logging.Debug("Sync already in progress, skipping tick", nil)
				continue
			}
			go s.runCycle(ctx)
		}
	}
}

// runCycle executes one reconciliation cycle with the configured
// timeout and records the outcome.
func (s *Scheduler) runCycle(ctx context.Context) {
	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		return
	}
	s.syncInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	cycleCtx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	result, err := s.reconciler.RunFullCycle(cycleCtx)

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.lastResult = result
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
	}
	s.mu.Unlock()

	if err != nil {
		logging.ErrorWithCode("Scheduled sync failed", string(errors.ErrSyncFailed), err,
			map[string]interface{}{"interval_minutes": s.syncInterval.Minutes()})
		return
	}

	logging.Info("Scheduled sync completed",
		map[string]interface{}{
			"pushed":   result.Pushed,
			"pulled":   result.Pulled,
			"failures": result.Failures,
		})
}

// TriggerSync starts an immediate cycle in the background. Returns
// false when a cycle is already in flight.
func (s *Scheduler) TriggerSync(ctx context.Context) bool {
	s.mu.RLock()
	busy := s.syncInProgress
	s.mu.RUnlock()

	if busy {
		return false
	}

	go s.runCycle(ctx)
	return true
}

// SyncNow runs a cycle synchronously and returns its result.
func (s *Scheduler) SyncNow(ctx context.Context) (*syncpkg.CycleResult, error) {
	s.mu.Lock()
	if s.syncInProgress {
		s.mu.Unlock()
		return nil, errors.New(errors.ErrSyncInProgress, "sync cycle already in progress")
	}
	s.syncInProgress = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.syncInProgress = false
		s.mu.Unlock()
	}()

	cycleCtx, cancel := context.WithTimeout(ctx, s.cycleTimeout)
	defer cancel()

	result, err := s.reconciler.RunFullCycle(cycleCtx)

	s.mu.Lock()
	s.lastSyncTime = time.Now()
	s.lastResult = result
	if err != nil {
		s.lastError = err.Error()
	} else {
		s.lastError = ""
	}
	s.mu.Unlock()

	return result, err
}

// Status is a point-in-time snapshot of the scheduler.
type Status struct {
	IsRunning      bool                 `json:"is_running"`
	SyncInProgress bool                 `json:"sync_in_progress"`
	LastSyncTime   *time.Time           `json:"last_sync_time,omitempty"`
	LastError      string               `json:"last_error,omitempty"`
	LastResult     *syncpkg.CycleResult `json:"last_result,omitempty"`
	PendingChanges int                  `json:"pending_changes"`
}

// GetStatus returns the current scheduler status.
func (s *Scheduler) GetStatus() Status {
	s.mu.RLock()
	status := Status{
		IsRunning:      s.isRunning,
		SyncInProgress: s.syncInProgress,
		LastError:      s.lastError,
		LastResult:     s.lastResult,
	}
	if !s.lastSyncTime.IsZero() {
		t := s.lastSyncTime
		status.LastSyncTime = &t
	}
	s.mu.RUnlock()

	if pending, err := s.reconciler.PendingChanges(); err == nil {
		status.PendingChanges = pending
	}

	return status
}

// IsRunning reports whether the scheduler loop is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.isRunning
}
