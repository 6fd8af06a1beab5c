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

// RelationshipRepository assembles the historical inputs the trust engine
// scores, and answers the billing collaborator's plan questions.
type RelationshipRepository interface {
	PairHistory(ctx context.Context, senderID, recipientID string) (*domain.PairHistory, error)
	PlanTier(ctx context.Context, userID string) (string, error)
}

type relationshipRepo struct {
	db *pgxpool.Pool
}

func NewRelationshipRepo(db *pgxpool.Pool) RelationshipRepository {
	return &relationshipRepo{db: db}
}

func (r *relationshipRepo) PairHistory(ctx context.Context, senderID, recipientID string) (*domain.PairHistory, error) {
	h := &domain.PairHistory{}

	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM transfers
		WHERE sender_id=$1 AND recipient_id=$2 AND status=$3
	`, senderID, recipientID, domain.TransferCompleted).Scan(&h.TransferCount)
	if err != nil {
		return nil, fmt.Errorf("failed to count pair transfers: %w", err)
	}

	err = r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM favorite_recipients WHERE user_id=$1 AND recipient_id=$2
		)
	`, senderID, recipientID).Scan(&h.Favorite)
	if err != nil {
		return nil, fmt.Errorf("failed to check favorite: %w", err)
	}

	err = r.db.QueryRow(ctx, `
		SELECT created_at, verification_tier FROM users WHERE id=$1
	`, recipientID).Scan(&h.RecipientCreatedAt, &h.RecipientTier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to load recipient profile: %w", err)
	}

	return h, nil
}

func (r *relationshipRepo) PlanTier(ctx context.Context, userID string) (string, error) {
	var tier string
	err := r.db.QueryRow(ctx, `
		SELECT plan_tier FROM users WHERE id=$1
	`, userID).Scan(&tier)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", xerrors.ErrNotFound
		}
		return "", fmt.Errorf("failed to load plan tier: %w", err)
	}
	return tier, nil
}
