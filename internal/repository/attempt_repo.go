package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"remit-service/internal/domain"
	xerrors "remit-service/internal/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AttemptRepository interface {
	Create(ctx context.Context, a *domain.TransferAttempt) error
	GetByID(ctx context.Context, id string) (*domain.TransferAttempt, error)
	// Abandon force-expires an attempt so it can never be confirmed
	// (e.g. after its challenge is exhausted).
	Abandon(ctx context.Context, id string) error
	// DeleteExpired reclaims storage for attempts past their TTL. Expiry is
	// enforced lazily at confirm time; this sweep has no correctness role.
	DeleteExpired(ctx context.Context, before time.Time) (int64, error)
}

type attemptRepo struct {
	db *pgxpool.Pool
}

func NewAttemptRepo(db *pgxpool.Pool) AttemptRepository {
	return &attemptRepo{db: db}
}

func (r *attemptRepo) Create(ctx context.Context, a *domain.TransferAttempt) error {
	fees, err := json.Marshal(a.Fees)
	if err != nil {
		return err
	}
	var rateLock []byte
	if a.RateLock != nil {
		if rateLock, err = json.Marshal(a.RateLock); err != nil {
			return err
		}
	}
	reasons, err := json.Marshal(a.RiskReasons)
	if err != nil {
		return err
	}

	_, err = r.db.Exec(ctx, `
		INSERT INTO transfer_attempts (
			id, sender_id, recipient_id, amount, currency, recipient_currency,
			recipient_amount, fees, total_debit, rate_lock, otp_required,
			risk_score, risk_reasons, consumed, created_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,false,$14,$15)
	`, a.ID, a.SenderID, a.RecipientID, a.Amount, a.Currency, a.RecipientCurrency,
		a.RecipientAmount, fees, a.TotalDebit, rateLock, a.OTPRequired,
		a.RiskScore, reasons, a.CreatedAt, a.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to create attempt: %w", err)
	}
	return nil
}

func (r *attemptRepo) GetByID(ctx context.Context, id string) (*domain.TransferAttempt, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, sender_id, recipient_id, amount, currency, recipient_currency,
		       recipient_amount, fees, total_debit, rate_lock, otp_required,
		       risk_score, risk_reasons, consumed, created_at, expires_at
		FROM transfer_attempts
		WHERE id=$1
	`, id)

	var a domain.TransferAttempt
	var fees, rateLock, reasons []byte
	err := row.Scan(&a.ID, &a.SenderID, &a.RecipientID, &a.Amount, &a.Currency,
		&a.RecipientCurrency, &a.RecipientAmount, &fees, &a.TotalDebit, &rateLock,
		&a.OTPRequired, &a.RiskScore, &reasons, &a.Consumed, &a.CreatedAt, &a.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get attempt: %w", err)
	}

	if err := json.Unmarshal(fees, &a.Fees); err != nil {
		return nil, fmt.Errorf("failed to decode fees: %w", err)
	}
	if len(rateLock) > 0 {
		a.RateLock = &domain.RateLock{}
		if err := json.Unmarshal(rateLock, a.RateLock); err != nil {
			return nil, fmt.Errorf("failed to decode rate lock: %w", err)
		}
	}
	if len(reasons) > 0 {
		if err := json.Unmarshal(reasons, &a.RiskReasons); err != nil {
			return nil, fmt.Errorf("failed to decode risk reasons: %w", err)
		}
	}
	return &a, nil
}

func (r *attemptRepo) Abandon(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE transfer_attempts SET expires_at = now() WHERE id=$1
	`, id)
	return err
}

func (r *attemptRepo) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM transfer_attempts WHERE expires_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
