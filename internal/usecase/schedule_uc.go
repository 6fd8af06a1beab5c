package usecase

import (
	"context"
	"time"

	"remit-service/internal/domain"
	"remit-service/internal/pkg/id"
	xerrors "remit-service/internal/pkg/xerrors"
	"remit-service/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// PlanGate answers the billing precondition at creation time. It plays no
// part in the schedule state machine itself.
type PlanGate interface {
	PlanTier(ctx context.Context, userID string) (string, error)
}

// SchedulePolicy is the configured plan/retry surface for schedules.
type SchedulePolicy struct {
	MaxRunFailures    int
	FreePlanSchedules int
	PlusPlanSchedules int
}

// ScheduleUsecase owns the recurring schedule lifecycle. Schedules are
// mutated only through its transition methods so the status machine and the
// next-run monotonicity hold everywhere, runner included.
type ScheduleUsecase struct {
	schedules repository.ScheduleRepository
	plans     PlanGate
	ids       *id.Generator
	logger    *zap.Logger
	policy    SchedulePolicy
	now       func() time.Time
}

func NewScheduleUsecase(
	schedules repository.ScheduleRepository,
	plans PlanGate,
	ids *id.Generator,
	logger *zap.Logger,
	policy SchedulePolicy,
) *ScheduleUsecase {
	return &ScheduleUsecase{
		schedules: schedules,
		plans:     plans,
		ids:       ids,
		logger:    logger,
		policy:    policy,
		now:       time.Now,
	}
}

// SetClock pins the clock for tests.
func (uc *ScheduleUsecase) SetClock(now func() time.Time) { uc.now = now }

func validFrequency(f domain.ScheduleFrequency) bool {
	switch f {
	case domain.FrequencyWeekly, domain.FrequencyBiweekly, domain.FrequencyMonthly:
		return true
	}
	return false
}

// NextOccurrence advances one cadence step from the given time. Monthly
// cadence keeps the anchor day-of-month and clamps to the last day of a
// shorter month (a schedule anchored on the 31st runs on Apr 30, not May 1).
func NextOccurrence(from time.Time, freq domain.ScheduleFrequency, anchorDay int) time.Time {
	switch freq {
	case domain.FrequencyWeekly:
		return from.AddDate(0, 0, 7)
	case domain.FrequencyBiweekly:
		return from.AddDate(0, 0, 14)
	case domain.FrequencyMonthly:
		year, month, _ := from.Date()
		month++
		if month > time.December {
			month = time.January
			year++
		}
		day := anchorDay
		if last := daysInMonth(year, month); day > last {
			day = last
		}
		return time.Date(year, month, day,
			from.Hour(), from.Minute(), from.Second(), from.Nanosecond(), from.Location())
	}
	return from
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func (uc *ScheduleUsecase) activeLimitFor(tier string) int {
	switch tier {
	case "business":
		return 0 // unlimited
	case "plus":
		return uc.policy.PlusPlanSchedules
	default:
		return uc.policy.FreePlanSchedules
	}
}

type CreateScheduleRequest struct {
	OwnerID     string
	RecipientID string
	AmountUSD   decimal.Decimal
	Frequency   domain.ScheduleFrequency
	Note        *string
}

// Create gates on the owner's plan tier, then starts the schedule active with
// nextRunAt one cadence step past creation.
func (uc *ScheduleUsecase) Create(ctx context.Context, req CreateScheduleRequest) (*domain.RecurringSchedule, error) {
	if !req.AmountUSD.IsPositive() {
		return nil, xerrors.ErrInvalidAmount
	}
	if req.OwnerID == req.RecipientID {
		return nil, xerrors.ErrSameWalletTransfer
	}
	if !validFrequency(req.Frequency) {
		return nil, xerrors.ErrInvalidFrequency
	}

	tier, err := uc.plans.PlanTier(ctx, req.OwnerID)
	if err != nil {
		return nil, err
	}
	if limit := uc.activeLimitFor(tier); limit > 0 {
		active, err := uc.schedules.CountActiveByOwner(ctx, req.OwnerID)
		if err != nil {
			return nil, err
		}
		if active >= limit {
			return nil, xerrors.ErrPlanLimitExceeded
		}
	}

	now := uc.now()
	schedule := &domain.RecurringSchedule{
		ID:          uc.ids.ScheduleID(),
		OwnerID:     req.OwnerID,
		RecipientID: req.RecipientID,
		AmountUSD:   req.AmountUSD,
		Frequency:   req.Frequency,
		Status:      domain.ScheduleActive,
		NextRunAt:   NextOccurrence(now, req.Frequency, now.Day()),
		CreatedAt:   now,
	}
	if req.Note != nil && *req.Note != "" {
		schedule.Note = req.Note
	}

	if err := uc.schedules.Create(ctx, schedule); err != nil {
		return nil, err
	}

	uc.logger.Info("schedule created",
		zap.String("schedule_id", schedule.ID),
		zap.String("owner_id", req.OwnerID),
		zap.String("frequency", string(req.Frequency)),
		zap.Time("next_run_at", schedule.NextRunAt))

	return schedule, nil
}

// Pause is valid from active only.
func (uc *ScheduleUsecase) Pause(ctx context.Context, scheduleID, ownerID string) (*domain.RecurringSchedule, error) {
	s, err := uc.ownedSchedule(ctx, scheduleID, ownerID)
	if err != nil {
		return nil, err
	}
	if s.Status == domain.ScheduleCanceled {
		return nil, xerrors.ErrScheduleCanceled
	}
	if s.Status != domain.ScheduleActive {
		return nil, xerrors.ErrInvalidTransition
	}
	s.Status = domain.SchedulePaused
	if err := uc.schedules.Update(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

// Resume reactivates a paused or failed schedule. nextRunAt is rolled forward
// to the next future occurrence so a long pause never triggers a catch-up
// burst of past-due runs.
func (uc *ScheduleUsecase) Resume(ctx context.Context, scheduleID, ownerID string) (*domain.RecurringSchedule, error) {
	s, err := uc.ownedSchedule(ctx, scheduleID, ownerID)
	if err != nil {
		return nil, err
	}
	if s.Status == domain.ScheduleCanceled {
		return nil, xerrors.ErrScheduleCanceled
	}
	if s.Status != domain.SchedulePaused && s.Status != domain.ScheduleFailed {
		return nil, xerrors.ErrInvalidTransition
	}

	now := uc.now()
	next := s.NextRunAt
	anchor := s.CreatedAt.Day()
	for !next.After(now) {
		next = NextOccurrence(next, s.Frequency, anchor)
	}

	// A suspended schedule gets a fresh streak so it is not re-suspended on
	// the first hiccup; a mere pause keeps the count, only success clears it.
	if s.Status == domain.ScheduleFailed {
		s.FailureCount = 0
	}
	s.Status = domain.ScheduleActive
	s.NextRunAt = next
	if err := uc.schedules.Update(ctx, s); err != nil {
		return nil, err
	}

	uc.logger.Info("schedule resumed",
		zap.String("schedule_id", s.ID),
		zap.Time("next_run_at", s.NextRunAt))
	return s, nil
}

// Cancel is terminal from any non-canceled state.
func (uc *ScheduleUsecase) Cancel(ctx context.Context, scheduleID, ownerID string) (*domain.RecurringSchedule, error) {
	s, err := uc.ownedSchedule(ctx, scheduleID, ownerID)
	if err != nil {
		return nil, err
	}
	if s.Status == domain.ScheduleCanceled {
		return nil, xerrors.ErrScheduleCanceled
	}
	now := uc.now()
	s.Status = domain.ScheduleCanceled
	s.CanceledAt = &now
	if err := uc.schedules.Update(ctx, s); err != nil {
		return nil, err
	}

	uc.logger.Info("schedule canceled", zap.String("schedule_id", s.ID))
	return s, nil
}

func (uc *ScheduleUsecase) Get(ctx context.Context, scheduleID, ownerID string) (*domain.RecurringSchedule, error) {
	return uc.ownedSchedule(ctx, scheduleID, ownerID)
}

func (uc *ScheduleUsecase) List(ctx context.Context, ownerID string) ([]*domain.RecurringSchedule, error) {
	return uc.schedules.ListByOwner(ctx, ownerID)
}

func (uc *ScheduleUsecase) ListRuns(ctx context.Context, scheduleID, ownerID string, limit int) ([]*domain.ScheduleRun, error) {
	if _, err := uc.ownedSchedule(ctx, scheduleID, ownerID); err != nil {
		return nil, err
	}
	return uc.schedules.ListRuns(ctx, scheduleID, limit)
}

func (uc *ScheduleUsecase) ownedSchedule(ctx context.Context, scheduleID, ownerID string) (*domain.RecurringSchedule, error) {
	s, err := uc.schedules.GetByID(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if ownerID != "" && s.OwnerID != ownerID {
		return nil, xerrors.ErrScheduleNotFound
	}
	return s, nil
}

// RecordSuccess appends the audited run, advances nextRunAt one cadence step
// from the due date (strictly increasing) and clears the failure streak.
func (uc *ScheduleUsecase) RecordSuccess(ctx context.Context, s *domain.RecurringSchedule, dueAt time.Time, transferID string) error {
	now := uc.now()
	run := &domain.ScheduleRun{
		ID:          uc.ids.RunID(),
		ScheduleID:  s.ID,
		DueAt:       dueAt,
		AttemptedAt: now,
		Outcome:     domain.RunSuccess,
		TransferID:  &transferID,
	}
	if err := uc.schedules.AppendRun(ctx, run); err != nil {
		return err
	}

	s.LastRunAt = &now
	s.FailureCount = 0
	s.NextRunAt = NextOccurrence(dueAt, s.Frequency, s.CreatedAt.Day())
	return uc.schedules.Update(ctx, s)
}

// RecordFailure appends the failed run and bumps the streak; hitting the
// configured ceiling flips the schedule to failed until a manual resume.
// Returns true when the ceiling was reached on this failure.
func (uc *ScheduleUsecase) RecordFailure(ctx context.Context, s *domain.RecurringSchedule, dueAt time.Time, reason string) (bool, error) {
	run := &domain.ScheduleRun{
		ID:          uc.ids.RunID(),
		ScheduleID:  s.ID,
		DueAt:       dueAt,
		AttemptedAt: uc.now(),
		Outcome:     domain.RunFailure,
		Reason:      &reason,
	}
	if err := uc.schedules.AppendRun(ctx, run); err != nil {
		return false, err
	}

	s.FailureCount++
	ceilingHit := s.FailureCount >= uc.policy.MaxRunFailures
	if ceilingHit {
		s.Status = domain.ScheduleFailed
		uc.logger.Warn("schedule suspended after repeated failures",
			zap.String("schedule_id", s.ID),
			zap.Int("failure_count", s.FailureCount),
			zap.String("reason", reason))
	}
	if err := uc.schedules.Update(ctx, s); err != nil {
		return false, err
	}
	return ceilingHit, nil
}
