package repository

import (
	"context"
	"errors"
	"fmt"

	"remit-service/internal/domain"
	xerrors "remit-service/internal/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type ChallengeRepository interface {
	Create(ctx context.Context, c *domain.TransferChallenge) error
	GetByID(ctx context.Context, id string) (*domain.TransferChallenge, error)
	// GetActiveByAttempt returns the single live challenge for an attempt.
	GetActiveByAttempt(ctx context.Context, attemptID string) (*domain.TransferChallenge, error)
	// IncrementAttempts bumps the failed-verification counter and returns the
	// new value.
	IncrementAttempts(ctx context.Context, id string) (int, error)
	MarkConsumed(ctx context.Context, id string) error
	// Invalidate permanently kills a challenge (attempt counter exhausted).
	Invalidate(ctx context.Context, id string) error
	// InvalidateForAttempt retires any live challenge before issuing a new one.
	InvalidateForAttempt(ctx context.Context, attemptID string) error
}

type challengeRepo struct {
	db *pgxpool.Pool
}

func NewChallengeRepo(db *pgxpool.Pool) ChallengeRepository {
	return &challengeRepo{db: db}
}

const challengeColumns = `id, attempt_id, code_hash, issued_at, expires_at, attempts, consumed, invalidated`

func (r *challengeRepo) Create(ctx context.Context, c *domain.TransferChallenge) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO transfer_challenges (`+challengeColumns+`)
		VALUES ($1,$2,$3,$4,$5,0,false,false)
	`, c.ID, c.AttemptID, c.CodeHash, c.IssuedAt, c.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create challenge: %w", err)
	}
	return nil
}

func scanChallenge(row rowScanner) (*domain.TransferChallenge, error) {
	var c domain.TransferChallenge
	err := row.Scan(&c.ID, &c.AttemptID, &c.CodeHash, &c.IssuedAt, &c.ExpiresAt,
		&c.Attempts, &c.Consumed, &c.Invalidated)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to scan challenge: %w", err)
	}
	return &c, nil
}

func (r *challengeRepo) GetByID(ctx context.Context, id string) (*domain.TransferChallenge, error) {
	return scanChallenge(r.db.QueryRow(ctx, `
		SELECT `+challengeColumns+` FROM transfer_challenges WHERE id=$1
	`, id))
}

func (r *challengeRepo) GetActiveByAttempt(ctx context.Context, attemptID string) (*domain.TransferChallenge, error) {
	return scanChallenge(r.db.QueryRow(ctx, `
		SELECT `+challengeColumns+`
		FROM transfer_challenges
		WHERE attempt_id=$1 AND consumed=false AND invalidated=false
		ORDER BY issued_at DESC
		LIMIT 1
	`, attemptID))
}

func (r *challengeRepo) IncrementAttempts(ctx context.Context, id string) (int, error) {
	var attempts int
	err := r.db.QueryRow(ctx, `
		UPDATE transfer_challenges SET attempts = attempts + 1 WHERE id=$1
		RETURNING attempts
	`, id).Scan(&attempts)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, xerrors.ErrChallengeNotFound
		}
		return 0, fmt.Errorf("failed to increment attempts: %w", err)
	}
	return attempts, nil
}

func (r *challengeRepo) MarkConsumed(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE transfer_challenges SET consumed=true WHERE id=$1
	`, id)
	return err
}

func (r *challengeRepo) Invalidate(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE transfer_challenges SET invalidated=true WHERE id=$1
	`, id)
	return err
}

func (r *challengeRepo) InvalidateForAttempt(ctx context.Context, attemptID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE transfer_challenges SET invalidated=true
		WHERE attempt_id=$1 AND consumed=false
	`, attemptID)
	return err
}
