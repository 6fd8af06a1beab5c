package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"remit-service/internal/domain"
	xerrors "remit-service/internal/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// LedgerRepository is the balance-mutation contract. DebitAndCredit-style
// operations are atomic and idempotent on the attempt id: a retried commit
// returns the already-committed transfer instead of double-debiting.
type LedgerRepository interface {
	GetWallet(ctx context.Context, userID, currency string) (*domain.Wallet, error)
	AvailableBalance(ctx context.Context, userID, currency string) (decimal.Decimal, error)
	Credit(ctx context.Context, userID, currency string, amount decimal.Decimal) error

	// CommitTransfer performs the whole confirm critical section in one
	// database transaction: consume attempt, lock wallets, re-check funds,
	// move money, insert the transfer row, consume the challenge.
	// The returned bool is true when an earlier commit was replayed.
	CommitTransfer(ctx context.Context, t *domain.Transfer, challengeID *string) (*domain.Transfer, bool, error)

	// CommitReversal books a compensating transfer against a completed one.
	CommitReversal(ctx context.Context, originalID, reversalID string, now time.Time) (*domain.Transfer, error)

	GetTransferByID(ctx context.Context, id string) (*domain.Transfer, error)
	GetTransferByAttemptID(ctx context.Context, attemptID string) (*domain.Transfer, error)
	ListTransfersByUser(ctx context.Context, userID string, limit int) ([]*domain.Transfer, error)
}

type ledgerRepo struct {
	db *pgxpool.Pool
}

func NewLedgerRepo(db *pgxpool.Pool) LedgerRepository {
	return &ledgerRepo{db: db}
}

func (r *ledgerRepo) beginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return tx, nil
}

func (r *ledgerRepo) GetWallet(ctx context.Context, userID, currency string) (*domain.Wallet, error) {
	row := r.db.QueryRow(ctx, `
		SELECT user_id, currency, balance, available, locked, created_at, updated_at
		FROM wallets
		WHERE user_id=$1 AND currency=$2
	`, userID, currency)

	var w domain.Wallet
	err := row.Scan(&w.UserID, &w.Currency, &w.Balance, &w.Available, &w.Locked, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return &w, nil
}

func (r *ledgerRepo) AvailableBalance(ctx context.Context, userID, currency string) (decimal.Decimal, error) {
	w, err := r.GetWallet(ctx, userID, currency)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, err
	}
	return w.Available, nil
}

func (r *ledgerRepo) Credit(ctx context.Context, userID, currency string, amount decimal.Decimal) error {
	now := time.Now()
	_, err := r.db.Exec(ctx, `
		INSERT INTO wallets (user_id, currency, balance, available, locked, created_at, updated_at)
		VALUES ($1,$2,$3,$3,0,$4,$4)
		ON CONFLICT (user_id, currency) DO UPDATE
		SET balance = wallets.balance + EXCLUDED.balance,
		    available = wallets.available + EXCLUDED.available,
		    updated_at = EXCLUDED.updated_at
	`, userID, currency, amount, now)
	return err
}

type walletKey struct {
	userID   string
	currency string
}

// lockWallet fetches the available balance with a row lock, creating the
// wallet row first when it does not exist yet.
func lockWallet(ctx context.Context, tx pgx.Tx, key walletKey) (decimal.Decimal, error) {
	now := time.Now()
	_, err := tx.Exec(ctx, `
		INSERT INTO wallets (user_id, currency, balance, available, locked, created_at, updated_at)
		VALUES ($1,$2,0,0,0,$3,$3)
		ON CONFLICT (user_id, currency) DO NOTHING
	`, key.userID, key.currency, now)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to ensure wallet: %w", err)
	}

	var available decimal.Decimal
	err = tx.QueryRow(ctx, `
		SELECT available
		FROM wallets
		WHERE user_id=$1 AND currency=$2
		FOR UPDATE
	`, key.userID, key.currency).Scan(&available)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to lock wallet: %w", err)
	}
	return available, nil
}

// lockWallets acquires row locks in deterministic order to prevent deadlocks
// between concurrent commits touching the same wallets.
func lockWallets(ctx context.Context, tx pgx.Tx, keys []walletKey) (map[walletKey]decimal.Decimal, error) {
	sorted := make([]walletKey, len(keys))
	copy(sorted, keys)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].userID != sorted[j].userID {
			return sorted[i].userID < sorted[j].userID
		}
		return sorted[i].currency < sorted[j].currency
	})

	balances := make(map[walletKey]decimal.Decimal, len(sorted))
	for _, key := range sorted {
		if _, done := balances[key]; done {
			continue
		}
		available, err := lockWallet(ctx, tx, key)
		if err != nil {
			return nil, err
		}
		balances[key] = available
	}
	return balances, nil
}

func applyDebit(ctx context.Context, tx pgx.Tx, key walletKey, amount decimal.Decimal) error {
	_, err := tx.Exec(ctx, `
		UPDATE wallets
		SET balance = balance - $3, available = available - $3, updated_at = $4
		WHERE user_id=$1 AND currency=$2
	`, key.userID, key.currency, amount, time.Now())
	return err
}

func applyCredit(ctx context.Context, tx pgx.Tx, key walletKey, amount decimal.Decimal) error {
	_, err := tx.Exec(ctx, `
		UPDATE wallets
		SET balance = balance + $3, available = available + $3, updated_at = $4
		WHERE user_id=$1 AND currency=$2
	`, key.userID, key.currency, amount, time.Now())
	return err
}

func (r *ledgerRepo) CommitTransfer(ctx context.Context, t *domain.Transfer, challengeID *string) (*domain.Transfer, bool, error) {
	// Fast idempotency path: attempt already committed.
	existing, err := r.GetTransferByAttemptID(ctx, t.AttemptID)
	if err == nil {
		return existing, true, nil
	}
	if !errors.Is(err, xerrors.ErrNotFound) {
		return nil, false, fmt.Errorf("failed to check idempotency: %w", err)
	}

	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, false, err
	}
	defer tx.Rollback(ctx)

	// Consume the attempt inside the transaction so a failed commit leaves it
	// usable for a retry within its TTL.
	tag, err := tx.Exec(ctx, `
		UPDATE transfer_attempts SET consumed=true WHERE id=$1 AND consumed=false
	`, t.AttemptID)
	if err != nil {
		return nil, false, fmt.Errorf("failed to consume attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Consumed by a concurrent commit; surface that commit's transfer.
		committed, lookupErr := r.GetTransferByAttemptID(ctx, t.AttemptID)
		if lookupErr == nil {
			return committed, true, nil
		}
		return nil, false, xerrors.ErrAttemptNotFoundOrExpired
	}

	senderKey := walletKey{userID: t.SenderID, currency: t.Currency}
	recipientKey := walletKey{userID: t.RecipientID, currency: t.RecipientCurrency}

	balances, err := lockWallets(ctx, tx, []walletKey{senderKey, recipientKey})
	if err != nil {
		return nil, false, err
	}

	// Funds re-check under lock; money may have moved since attempt().
	totalDebit := t.Amount.Add(t.Fees.Total())
	if balances[senderKey].LessThan(totalDebit) {
		return nil, false, xerrors.ErrInsufficientFunds
	}

	if err := applyDebit(ctx, tx, senderKey, totalDebit); err != nil {
		return nil, false, fmt.Errorf("failed to debit sender: %w", err)
	}
	if err := applyCredit(ctx, tx, recipientKey, t.RecipientAmount); err != nil {
		return nil, false, fmt.Errorf("failed to credit recipient: %w", err)
	}

	if err := insertTransfer(ctx, tx, t); err != nil {
		if xerrors.IsUniqueViolation(err) {
			// Lost a race on the attempt id; roll back and replay the winner.
			_ = tx.Rollback(ctx)
			committed, lookupErr := r.GetTransferByAttemptID(ctx, t.AttemptID)
			if lookupErr == nil {
				return committed, true, nil
			}
		}
		return nil, false, fmt.Errorf("failed to insert transfer: %w", err)
	}

	if challengeID != nil {
		_, err = tx.Exec(ctx, `
			UPDATE transfer_challenges SET consumed=true WHERE id=$1
		`, *challengeID)
		if err != nil {
			return nil, false, fmt.Errorf("failed to consume challenge: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("failed to commit transfer: %w", err)
	}
	return t, false, nil
}

func (r *ledgerRepo) CommitReversal(ctx context.Context, originalID, reversalID string, now time.Time) (*domain.Transfer, error) {
	tx, err := r.beginTx(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	original, err := getTransferTx(ctx, tx, `SELECT `+transferColumns+` FROM transfers WHERE id=$1 FOR UPDATE`, originalID)
	if err != nil {
		return nil, err
	}
	if original.Status != domain.TransferCompleted {
		return nil, xerrors.ErrTransferReversed
	}

	senderKey := walletKey{userID: original.SenderID, currency: original.Currency}
	recipientKey := walletKey{userID: original.RecipientID, currency: original.RecipientCurrency}

	balances, err := lockWallets(ctx, tx, []walletKey{senderKey, recipientKey})
	if err != nil {
		return nil, err
	}
	if balances[recipientKey].LessThan(original.RecipientAmount) {
		return nil, xerrors.ErrInsufficientFunds
	}

	if err := applyDebit(ctx, tx, recipientKey, original.RecipientAmount); err != nil {
		return nil, fmt.Errorf("failed to debit recipient: %w", err)
	}
	if err := applyCredit(ctx, tx, senderKey, original.Amount); err != nil {
		return nil, fmt.Errorf("failed to credit sender: %w", err)
	}

	// Fees are not refunded; the compensating transfer mirrors the principal
	// only so the ledger stays balanced.
	reversal := &domain.Transfer{
		ID:                reversalID,
		AttemptID:         "REV-" + originalID,
		SenderID:          original.RecipientID,
		RecipientID:       original.SenderID,
		Amount:            original.RecipientAmount,
		Currency:          original.RecipientCurrency,
		RecipientAmount:   original.Amount,
		RecipientCurrency: original.Currency,
		Fees:              domain.FeeBreakdown{PlatformFee: decimal.Zero, AgentFee: decimal.Zero, NetworkFee: decimal.Zero, Currency: original.RecipientCurrency},
		FxRate:            original.FxRate,
		Status:            domain.TransferCompleted,
		ReversalOf:        &originalID,
		CreatedAt:         now,
	}
	if err := insertTransfer(ctx, tx, reversal); err != nil {
		if xerrors.IsUniqueViolation(err) {
			_ = tx.Rollback(ctx)
			return r.GetTransferByAttemptID(ctx, "REV-"+originalID)
		}
		return nil, fmt.Errorf("failed to insert reversal: %w", err)
	}

	_, err = tx.Exec(ctx, `UPDATE transfers SET status=$2 WHERE id=$1`, originalID, domain.TransferReversed)
	if err != nil {
		return nil, fmt.Errorf("failed to mark transfer reversed: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit reversal: %w", err)
	}
	return reversal, nil
}

const transferColumns = `id, attempt_id, sender_id, recipient_id, amount, currency,
	recipient_amount, recipient_currency, platform_fee, agent_fee, network_fee,
	fee_currency, fx_rate, status, reversal_of, risk_score, risk_reasons, created_at`

func insertTransfer(ctx context.Context, tx pgx.Tx, t *domain.Transfer) error {
	reasons, err := json.Marshal(t.RiskReasons)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO transfers (`+transferColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18)
	`, t.ID, t.AttemptID, t.SenderID, t.RecipientID, t.Amount, t.Currency,
		t.RecipientAmount, t.RecipientCurrency, t.Fees.PlatformFee, t.Fees.AgentFee,
		t.Fees.NetworkFee, t.Fees.Currency, t.FxRate, t.Status, t.ReversalOf,
		t.RiskScore, reasons, t.CreatedAt)
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransfer(row rowScanner) (*domain.Transfer, error) {
	var t domain.Transfer
	var reasons []byte
	err := row.Scan(&t.ID, &t.AttemptID, &t.SenderID, &t.RecipientID, &t.Amount,
		&t.Currency, &t.RecipientAmount, &t.RecipientCurrency, &t.Fees.PlatformFee,
		&t.Fees.AgentFee, &t.Fees.NetworkFee, &t.Fees.Currency, &t.FxRate,
		&t.Status, &t.ReversalOf, &t.RiskScore, &reasons, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan transfer: %w", err)
	}
	if len(reasons) > 0 {
		if err := json.Unmarshal(reasons, &t.RiskReasons); err != nil {
			return nil, fmt.Errorf("failed to decode risk reasons: %w", err)
		}
	}
	return &t, nil
}

func getTransferTx(ctx context.Context, tx pgx.Tx, query string, args ...any) (*domain.Transfer, error) {
	return scanTransfer(tx.QueryRow(ctx, query, args...))
}

func (r *ledgerRepo) GetTransferByID(ctx context.Context, id string) (*domain.Transfer, error) {
	return scanTransfer(r.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE id=$1`, id))
}

func (r *ledgerRepo) GetTransferByAttemptID(ctx context.Context, attemptID string) (*domain.Transfer, error) {
	return scanTransfer(r.db.QueryRow(ctx, `SELECT `+transferColumns+` FROM transfers WHERE attempt_id=$1`, attemptID))
}

func (r *ledgerRepo) ListTransfersByUser(ctx context.Context, userID string, limit int) ([]*domain.Transfer, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+transferColumns+`
		FROM transfers
		WHERE sender_id=$1 OR recipient_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transfers []*domain.Transfer
	for rows.Next() {
		t, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		transfers = append(transfers, t)
	}
	return transfers, rows.Err()
}
