package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remit-service/internal/domain"
	xerrors "remit-service/internal/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ScheduleRepository interface {
	Create(ctx context.Context, s *domain.RecurringSchedule) error
	GetByID(ctx context.Context, id string) (*domain.RecurringSchedule, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.RecurringSchedule, error)
	// Update persists the mutable lifecycle fields after a state transition.
	Update(ctx context.Context, s *domain.RecurringSchedule) error
	CountActiveByOwner(ctx context.Context, ownerID string) (int, error)

	// Runner support.
	DueSchedules(ctx context.Context, now time.Time, limit int) ([]*domain.RecurringSchedule, error)
	// ClaimRun sets the per-schedule in-flight marker. False means another
	// runner pass still owns this schedule.
	ClaimRun(ctx context.Context, scheduleID string, now time.Time) (bool, error)
	ReleaseRun(ctx context.Context, scheduleID string) error
	AppendRun(ctx context.Context, run *domain.ScheduleRun) error
	ListRuns(ctx context.Context, scheduleID string, limit int) ([]*domain.ScheduleRun, error)
	// CountRunsForDueSince bounds same-day retries for one due date.
	CountRunsForDueSince(ctx context.Context, scheduleID string, dueAt, since time.Time) (int, error)
}

type scheduleRepo struct {
	db *pgxpool.Pool
}

func NewScheduleRepo(db *pgxpool.Pool) ScheduleRepository {
	return &scheduleRepo{db: db}
}

const scheduleColumns = `id, owner_id, recipient_id, amount_usd, frequency, status,
	next_run_at, last_run_at, failure_count, note, created_at, canceled_at`

func (r *scheduleRepo) Create(ctx context.Context, s *domain.RecurringSchedule) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO recurring_schedules (`+scheduleColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, s.ID, s.OwnerID, s.RecipientID, s.AmountUSD, s.Frequency, s.Status,
		s.NextRunAt, s.LastRunAt, s.FailureCount, s.Note, s.CreatedAt, s.CanceledAt)
	if err != nil {
		return fmt.Errorf("failed to create schedule: %w", err)
	}
	return nil
}

func scanSchedule(row rowScanner) (*domain.RecurringSchedule, error) {
	var s domain.RecurringSchedule
	err := row.Scan(&s.ID, &s.OwnerID, &s.RecipientID, &s.AmountUSD, &s.Frequency,
		&s.Status, &s.NextRunAt, &s.LastRunAt, &s.FailureCount, &s.Note,
		&s.CreatedAt, &s.CanceledAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrScheduleNotFound
		}
		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}
	return &s, nil
}

func (r *scheduleRepo) GetByID(ctx context.Context, id string) (*domain.RecurringSchedule, error) {
	return scanSchedule(r.db.QueryRow(ctx, `
		SELECT `+scheduleColumns+` FROM recurring_schedules WHERE id=$1
	`, id))
}

func (r *scheduleRepo) ListByOwner(ctx context.Context, ownerID string) ([]*domain.RecurringSchedule, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM recurring_schedules
		WHERE owner_id=$1
		ORDER BY created_at DESC
	`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*domain.RecurringSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (r *scheduleRepo) Update(ctx context.Context, s *domain.RecurringSchedule) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE recurring_schedules
		SET status=$2, next_run_at=$3, last_run_at=$4, failure_count=$5, canceled_at=$6
		WHERE id=$1
	`, s.ID, s.Status, s.NextRunAt, s.LastRunAt, s.FailureCount, s.CanceledAt)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrScheduleNotFound
	}
	return nil
}

func (r *scheduleRepo) CountActiveByOwner(ctx context.Context, ownerID string) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM recurring_schedules
		WHERE owner_id=$1 AND status=$2
	`, ownerID, domain.ScheduleActive).Scan(&count)
	return count, err
}

func (r *scheduleRepo) DueSchedules(ctx context.Context, now time.Time, limit int) ([]*domain.RecurringSchedule, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+scheduleColumns+`
		FROM recurring_schedules
		WHERE status=$1 AND next_run_at <= $2 AND run_claimed_at IS NULL
		ORDER BY next_run_at ASC
		LIMIT $3
	`, domain.ScheduleActive, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var schedules []*domain.RecurringSchedule
	for rows.Next() {
		s, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		schedules = append(schedules, s)
	}
	return schedules, rows.Err()
}

func (r *scheduleRepo) ClaimRun(ctx context.Context, scheduleID string, now time.Time) (bool, error) {
	// Stale claims (crashed runner) are reclaimable after 15 minutes.
	tag, err := r.db.Exec(ctx, `
		UPDATE recurring_schedules
		SET run_claimed_at=$2
		WHERE id=$1 AND (run_claimed_at IS NULL OR run_claimed_at < $3)
	`, scheduleID, now, now.Add(-15*time.Minute))
	if err != nil {
		return false, fmt.Errorf("failed to claim run: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *scheduleRepo) ReleaseRun(ctx context.Context, scheduleID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE recurring_schedules SET run_claimed_at=NULL WHERE id=$1
	`, scheduleID)
	return err
}

func (r *scheduleRepo) AppendRun(ctx context.Context, run *domain.ScheduleRun) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO schedule_runs (id, schedule_id, due_at, attempted_at, outcome, reason, transfer_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, run.ID, run.ScheduleID, run.DueAt, run.AttemptedAt, run.Outcome, run.Reason, run.TransferID)
	if err != nil {
		return fmt.Errorf("failed to append schedule run: %w", err)
	}
	return nil
}

func (r *scheduleRepo) ListRuns(ctx context.Context, scheduleID string, limit int) ([]*domain.ScheduleRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, schedule_id, due_at, attempted_at, outcome, reason, transfer_id
		FROM schedule_runs
		WHERE schedule_id=$1
		ORDER BY attempted_at DESC
		LIMIT $2
	`, scheduleID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.ScheduleRun
	for rows.Next() {
		var run domain.ScheduleRun
		err := rows.Scan(&run.ID, &run.ScheduleID, &run.DueAt, &run.AttemptedAt,
			&run.Outcome, &run.Reason, &run.TransferID)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule run: %w", err)
		}
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

func (r *scheduleRepo) CountRunsForDueSince(ctx context.Context, scheduleID string, dueAt, since time.Time) (int, error) {
	var count int
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM schedule_runs
		WHERE schedule_id=$1 AND due_at=$2 AND attempted_at >= $3
	`, scheduleID, dueAt, since).Scan(&count)
	return count, err
}
