package referral

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/aimerfeng/Earnzy/internal/config"
	"github.com/aimerfeng/Earnzy/internal/fraud"
	"github.com/aimerfeng/Earnzy/internal/ledger"
	"github.com/aimerfeng/Earnzy/internal/logging"
	"github.com/aimerfeng/Earnzy/internal/monitoring"
)

// SweepLockKey is the Redis key that keeps sweeps single across replicas
const SweepLockKey = "earnzy:referral-sweep"

// Locker provides a cross-process lease
type Locker interface {
	AcquireLock(ctx context.Context, key, token string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// Scheduler runs the referral sweep and fraud-window pruning on cron schedules
type Scheduler struct {
	service *Service
	guard   *fraud.Guard
	store   *ledger.Store
	locker  Locker
	cfg     config.ReferralConfig
	logger  zerolog.Logger

	cron       *cron.Cron
	sweepEntry cron.EntryID
	running    bool
	sweeping   bool
	mu         sync.Mutex
	lastRun    time.Time
	lastResult *SweepResult
	lastErr    error
}

// NewScheduler creates a new referral scheduler. locker may be nil on a
// single replica, in which case only the in-process guard applies.
func NewScheduler(service *Service, guard *fraud.Guard, store *ledger.Store, locker Locker, cfg config.ReferralConfig) *Scheduler {
	return &Scheduler{
		service: service,
		guard:   guard,
		store:   store,
		locker:  locker,
		cfg:     cfg,
		logger:  logging.NewLogger("referral-scheduler"),
		cron:    cron.New(cron.WithLocation(time.UTC)),
	}
}

// Start registers the cron entries and starts the cron runner
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	id, err := s.cron.AddFunc(s.cfg.SweepSchedule, func() {
		if _, err := s.RunNow(ctx); err != nil && !errors.Is(err, ErrSweepRunning) {
			s.logger.Error().Err(err).Msg("Scheduled referral sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.cfg.SweepSchedule, err)
	}
	s.sweepEntry = id

	if s.guard != nil && s.cfg.PruneSchedule != "" {
		_, err = s.cron.AddFunc(s.cfg.PruneSchedule, func() { s.prune(ctx) })
		if err != nil {
			s.cron.Remove(id)
			return fmt.Errorf("invalid prune schedule %q: %w", s.cfg.PruneSchedule, err)
		}
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().Str("sweep_schedule", s.cfg.SweepSchedule).Str("prune_schedule", s.cfg.PruneSchedule).Msg("Referral scheduler started")
	return nil
}

// Stop stops the cron runner and waits for in-flight jobs
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.logger.Info().Msg("Referral scheduler stopped")
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// RunNow triggers an immediate sweep. It returns ErrSweepRunning when a
// sweep is already in progress here or on another replica.
func (s *Scheduler) RunNow(ctx context.Context) (*SweepResult, error) {
	s.mu.Lock()
	if s.sweeping {
		s.mu.Unlock()
		return nil, ErrSweepRunning
	}
	s.sweeping = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.sweeping = false
		s.mu.Unlock()
	}()

	if s.locker != nil {
		token := uuid.NewString()
		ok, err := s.locker.AcquireLock(ctx, SweepLockKey, token, s.cfg.LockTTL)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, ErrSweepRunning
		}
		defer func() {
			if err := s.locker.ReleaseLock(context.Background(), SweepLockKey, token); err != nil {
				s.logger.Warn().Err(err).Msg("Failed to release sweep lock")
			}
		}()
	}

	result, err := s.service.Sweep(ctx)

	s.mu.Lock()
	s.lastRun = time.Now()
	s.lastResult = result
	s.lastErr = err
	s.mu.Unlock()

	if err != nil {
		monitoring.RecordReferralSweepFailure()
		return result, err
	}

	monitoring.RecordReferralSweep(result.Matured, result.Stale, result.FinishedAt)
	s.logger.Info().
		Int("scanned", result.Scanned).
		Int("matured", result.Matured).
		Int64("matured_coins", result.MaturedCoins).
		Int("not_yet", result.NotYet).
		Int("stale", result.Stale).
		Int("failed", result.Failed).
		Msg("Referral sweep completed")

	return result, nil
}

func (s *Scheduler) prune(ctx context.Context) {
	n, err := s.guard.Prune(ctx, s.store.Pool(), time.Now())
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to prune completion windows")
		return
	}
	if n > 0 {
		s.logger.Debug().Int64("rows", n).Msg("Pruned completion windows")
	}
}

// SchedulerStatus represents the current status of the scheduler
type SchedulerStatus struct {
	Running    bool         `json:"running"`
	Sweeping   bool         `json:"sweeping"`
	LastRun    *time.Time   `json:"last_run,omitempty"`
	LastResult *SweepResult `json:"last_result,omitempty"`
	LastError  string       `json:"last_error,omitempty"`
	NextRun    *time.Time   `json:"next_run,omitempty"`
}

// GetStatus returns the current status of the scheduler
func (s *Scheduler) GetStatus() *SchedulerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := &SchedulerStatus{
		Running:    s.running,
		Sweeping:   s.sweeping,
		LastResult: s.lastResult,
	}
	if !s.lastRun.IsZero() {
		lastRun := s.lastRun
		status.LastRun = &lastRun
	}
	if s.lastErr != nil {
		status.LastError = s.lastErr.Error()
	}
	if s.running {
		if next := s.cron.Entry(s.sweepEntry).Next; !next.IsZero() {
			status.NextRun = &next
		}
	}
	return status
}
