package worker

import (
	"context"
	"time"

	"remit-service/internal/domain"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

const dueBatchSize = 100

// ScheduledTransferrer executes one schedule's transfer on the owner's behalf.
type ScheduledTransferrer interface {
	ScheduledTransfer(ctx context.Context, ownerID, recipientID string, amountUSD decimal.Decimal) (*domain.Transfer, error)
}

// RunRecorder is the schedule engine's transition surface for run outcomes.
type RunRecorder interface {
	RecordSuccess(ctx context.Context, s *domain.RecurringSchedule, dueAt time.Time, transferID string) error
	RecordFailure(ctx context.Context, s *domain.RecurringSchedule, dueAt time.Time, reason string) (bool, error)
}

// ScheduleStore is the slice of the schedule repository the runner sweeps.
type ScheduleStore interface {
	DueSchedules(ctx context.Context, now time.Time, limit int) ([]*domain.RecurringSchedule, error)
	ClaimRun(ctx context.Context, scheduleID string, now time.Time) (bool, error)
	ReleaseRun(ctx context.Context, scheduleID string) error
	CountRunsForDueSince(ctx context.Context, scheduleID string, dueAt, since time.Time) (int, error)
}

// ScheduleNotifier emits the fire-and-forget suspension event.
type ScheduleNotifier interface {
	ScheduleFailed(ctx context.Context, s *domain.RecurringSchedule, reason string)
}

// ScheduleRunner is the interval-driven sweep over due schedules. Each due
// schedule is claimed, executed, and recorded by one bounded worker; the
// per-schedule claim keeps runs strictly sequential even if a slow pass
// overlaps the next tick.
type ScheduleRunner struct {
	store     ScheduleStore
	transfers ScheduledTransferrer
	recorder  RunRecorder
	notifier  ScheduleNotifier
	logger    *zap.Logger
	sem       *semaphore.Weighted

	concurrency      int64
	interval         time.Duration
	maxRetriesPerDay int
	now              func() time.Time
}

func NewScheduleRunner(
	store ScheduleStore,
	transfers ScheduledTransferrer,
	recorder RunRecorder,
	notifier ScheduleNotifier,
	logger *zap.Logger,
	interval time.Duration,
	concurrency int64,
	maxRetriesPerDay int,
) *ScheduleRunner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &ScheduleRunner{
		store:            store,
		transfers:        transfers,
		recorder:         recorder,
		notifier:         notifier,
		logger:           logger,
		sem:              semaphore.NewWeighted(concurrency),
		concurrency:      concurrency,
		interval:         interval,
		maxRetriesPerDay: maxRetriesPerDay,
		now:              time.Now,
	}
}

// SetClock pins the clock for tests.
func (r *ScheduleRunner) SetClock(now func() time.Time) { r.now = now }

// Start blocks, sweeping immediately and then on every tick, until the
// context is canceled.
func (r *ScheduleRunner) Start(ctx context.Context) {
	r.logger.Info("schedule runner started", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info("schedule runner stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep fans the current due set out to bounded workers and waits for them
// all, so two sweeps never overlap within one runner.
func (r *ScheduleRunner) Sweep(ctx context.Context) {
	now := r.now()
	due, err := r.store.DueSchedules(ctx, now, dueBatchSize)
	if err != nil {
		r.logger.Error("failed to list due schedules", zap.Error(err))
		return
	}
	if len(due) == 0 {
		return
	}

	r.logger.Info("sweeping due schedules", zap.Int("count", len(due)))
	for _, s := range due {
		if err := r.sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(s *domain.RecurringSchedule) {
			defer r.sem.Release(1)
			r.runOne(ctx, s)
		}(s)
	}

	// Barrier: reacquire full weight so the sweep returns only after every
	// worker has finished.
	if err := r.sem.Acquire(ctx, r.concurrency); err != nil {
		return
	}
	r.sem.Release(r.concurrency)
}

func (r *ScheduleRunner) runOne(ctx context.Context, s *domain.RecurringSchedule) {
	now := r.now()

	claimed, err := r.store.ClaimRun(ctx, s.ID, now)
	if err != nil {
		r.logger.Error("failed to claim schedule run", zap.Error(err), zap.String("schedule_id", s.ID))
		return
	}
	if !claimed {
		return
	}
	defer func() {
		if err := r.store.ReleaseRun(context.WithoutCancel(ctx), s.ID); err != nil {
			r.logger.Warn("failed to release schedule claim", zap.Error(err), zap.String("schedule_id", s.ID))
		}
	}()

	// Same-day retries for one due date are capped; the schedule stays due
	// and the next day's sweep picks it up again.
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	tries, err := r.store.CountRunsForDueSince(ctx, s.ID, s.NextRunAt, dayStart)
	if err != nil {
		r.logger.Error("failed to count runs", zap.Error(err), zap.String("schedule_id", s.ID))
		return
	}
	if r.maxRetriesPerDay > 0 && tries >= r.maxRetriesPerDay {
		return
	}

	dueAt := s.NextRunAt
	transfer, err := r.transfers.ScheduledTransfer(ctx, s.OwnerID, s.RecipientID, s.AmountUSD)
	if err != nil {
		r.recordFailure(ctx, s, dueAt, err)
		return
	}

	if err := r.recorder.RecordSuccess(ctx, s, dueAt, transfer.ID); err != nil {
		r.logger.Error("failed to record schedule success",
			zap.Error(err), zap.String("schedule_id", s.ID), zap.String("transfer_id", transfer.ID))
		return
	}

	r.logger.Info("schedule run completed",
		zap.String("schedule_id", s.ID),
		zap.String("transfer_id", transfer.ID),
		zap.Time("next_run_at", s.NextRunAt))
}

func (r *ScheduleRunner) recordFailure(ctx context.Context, s *domain.RecurringSchedule, dueAt time.Time, cause error) {
	reason := cause.Error()
	suspended, err := r.recorder.RecordFailure(ctx, s, dueAt, reason)
	if err != nil {
		r.logger.Error("failed to record schedule failure",
			zap.Error(err), zap.String("schedule_id", s.ID))
		return
	}

	r.logger.Warn("schedule run failed",
		zap.String("schedule_id", s.ID),
		zap.String("reason", reason),
		zap.Int("failure_count", s.FailureCount))

	if suspended {
		r.notifier.ScheduleFailed(ctx, s, reason)
	}
}
