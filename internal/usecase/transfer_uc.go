package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"remit-service/internal/domain"
	"remit-service/internal/pkg/fees"
	"remit-service/internal/pkg/id"
	xerrors "remit-service/internal/pkg/xerrors"
	"remit-service/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ChallengeValidator verifies a step-up code against an attempt's live
// challenge without consuming it; consumption happens in the ledger commit.
type ChallengeValidator interface {
	ValidateForAttempt(ctx context.Context, attemptID, code string) (string, error)
}

// RateLocker quotes short-lived FX locks.
type RateLocker interface {
	Lock(ctx context.Context, fromCcy, toCcy string) (*domain.RateLock, error)
}

// TrustScorer classifies a sender/recipient relationship.
type TrustScorer interface {
	Assess(h *domain.PairHistory) *domain.TrustAssessment
}

// TransferNotifier is fire-and-forget; failures never affect a commit.
type TransferNotifier interface {
	TransferCompleted(ctx context.Context, t *domain.Transfer)
	TransferReversed(ctx context.Context, reversal *domain.Transfer)
}

// TransferPolicy carries the risk/expiry knobs. All values come from
// configuration, not code.
type TransferPolicy struct {
	AttemptTTL         time.Duration
	OTPAmountThreshold decimal.Decimal
	RiskBlockThreshold decimal.Decimal
}

// TransferUsecase orchestrates attempt -> (optional challenge) -> confirm.
// Both the interactive path and the schedule runner go through it, so there
// is exactly one authorization/ledger contract.
type TransferUsecase struct {
	ledger      repository.LedgerRepository
	attempts    repository.AttemptRepository
	relations   repository.RelationshipRepository
	trust       TrustScorer
	fx          RateLocker
	challenges  ChallengeValidator
	feeSchedule fees.Schedule
	notifier    TransferNotifier
	ids         *id.Generator
	logger      *zap.Logger
	policy      TransferPolicy
	now         func() time.Time
}

func NewTransferUsecase(
	ledger repository.LedgerRepository,
	attempts repository.AttemptRepository,
	relations repository.RelationshipRepository,
	trust TrustScorer,
	fx RateLocker,
	challenges ChallengeValidator,
	feeSchedule fees.Schedule,
	notifier TransferNotifier,
	ids *id.Generator,
	logger *zap.Logger,
	policy TransferPolicy,
) *TransferUsecase {
	return &TransferUsecase{
		ledger:      ledger,
		attempts:    attempts,
		relations:   relations,
		trust:       trust,
		fx:          fx,
		challenges:  challenges,
		feeSchedule: feeSchedule,
		notifier:    notifier,
		ids:         ids,
		logger:      logger,
		policy:      policy,
		now:         time.Now,
	}
}

// SetClock pins the clock for tests.
func (uc *TransferUsecase) SetClock(now func() time.Time) { uc.now = now }

type AttemptRequest struct {
	SenderID       string
	RecipientID    string
	Amount         decimal.Decimal
	Currency       string
	TargetCurrency string // empty = same-currency transfer
	SenderRole     fees.SenderRole
}

// Attempt builds a provisional transfer: trust decision, optional rate lock,
// deterministic fee breakdown, funds pre-check, short TTL.
func (uc *TransferUsecase) Attempt(ctx context.Context, req AttemptRequest) (*domain.TransferAttempt, error) {
	if !req.Amount.IsPositive() {
		return nil, xerrors.ErrInvalidAmount
	}
	if req.SenderID == req.RecipientID {
		return nil, xerrors.ErrSameWalletTransfer
	}
	if req.TargetCurrency == "" {
		req.TargetCurrency = req.Currency
	}
	if req.SenderRole == "" {
		req.SenderRole = fees.RoleUser
	}

	history, err := uc.relations.PairHistory(ctx, req.SenderID, req.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("failed to load pair history: %w", err)
	}
	assessment := uc.trust.Assess(history)

	// Velocity/trust hard stop: a brand-new relationship cannot move more
	// than the block ceiling at all; below that, OTP steps in.
	if assessment.Level == domain.TrustNew && req.Amount.GreaterThan(uc.policy.RiskBlockThreshold) {
		return nil, xerrors.ErrRiskBlocked
	}

	otpRequired := assessment.Level != domain.TrustTrusted ||
		req.Amount.GreaterThan(uc.policy.OTPAmountThreshold)

	var rateLock *domain.RateLock
	recipientAmount := req.Amount
	if req.Currency != req.TargetCurrency {
		rateLock, err = uc.fx.Lock(ctx, req.Currency, req.TargetCurrency)
		if err != nil {
			return nil, err
		}
		recipientAmount = req.Amount.Mul(rateLock.SellRate).Round(2)
	}

	feeBreakdown := uc.feeSchedule.Calculate(req.Amount, req.Currency, req.TargetCurrency, req.SenderRole)
	totalDebit := req.Amount.Add(feeBreakdown.Total())

	// Pre-check only; the authoritative check happens at confirm under lock.
	available, err := uc.ledger.AvailableBalance(ctx, req.SenderID, req.Currency)
	if err != nil {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}
	if available.LessThan(totalDebit) {
		return nil, xerrors.ErrInsufficientFunds
	}

	now := uc.now()
	attempt := &domain.TransferAttempt{
		ID:                uc.ids.AttemptID(),
		SenderID:          req.SenderID,
		RecipientID:       req.RecipientID,
		Amount:            req.Amount,
		Currency:          req.Currency,
		RecipientCurrency: req.TargetCurrency,
		RecipientAmount:   recipientAmount,
		Fees:              feeBreakdown,
		TotalDebit:        totalDebit,
		RateLock:          rateLock,
		OTPRequired:       otpRequired,
		RiskScore:         assessment.Score,
		RiskReasons:       assessment.Reasons,
		CreatedAt:         now,
		ExpiresAt:         now.Add(uc.policy.AttemptTTL),
	}
	if err := uc.attempts.Create(ctx, attempt); err != nil {
		return nil, err
	}

	uc.logger.Info("transfer attempt created",
		zap.String("attempt_id", attempt.ID),
		zap.String("sender_id", req.SenderID),
		zap.String("recipient_id", req.RecipientID),
		zap.String("amount", req.Amount.String()),
		zap.String("currency", req.Currency),
		zap.Bool("otp_required", otpRequired),
		zap.Int("risk_score", assessment.Score))

	return attempt, nil
}

// Confirm commits the attempt. Idempotent on attempt id: a retried confirm
// after a successful commit returns the already-committed transfer.
func (uc *TransferUsecase) Confirm(ctx context.Context, attemptID, otpCode string) (*domain.Transfer, error) {
	attempt, err := uc.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.ErrAttemptNotFoundOrExpired
		}
		return nil, err
	}

	now := uc.now()
	if attempt.Consumed {
		// Already committed; replay the original outcome.
		return uc.ledger.GetTransferByAttemptID(ctx, attemptID)
	}
	if attempt.IsExpired(now) {
		return nil, xerrors.ErrAttemptNotFoundOrExpired
	}

	// A stale lock forces re-attempt, never a silent re-quote.
	if attempt.RateLock != nil && attempt.RateLock.IsExpired(now) {
		return nil, xerrors.ErrRateLockExpired
	}

	var challengeID *string
	if attempt.OTPRequired {
		if otpCode == "" {
			return nil, xerrors.ErrOTPRequired
		}
		cid, err := uc.challenges.ValidateForAttempt(ctx, attemptID, otpCode)
		if err != nil {
			if errors.Is(err, xerrors.ErrOTPExhausted) {
				// Exhaustion kills the whole attempt, not just the code.
				_ = uc.attempts.Abandon(ctx, attemptID)
			}
			return nil, err
		}
		challengeID = &cid
	}

	transfer := &domain.Transfer{
		ID:                uc.ids.TransferID(),
		AttemptID:         attempt.ID,
		SenderID:          attempt.SenderID,
		RecipientID:       attempt.RecipientID,
		Amount:            attempt.Amount,
		Currency:          attempt.Currency,
		RecipientAmount:   attempt.RecipientAmount,
		RecipientCurrency: attempt.RecipientCurrency,
		Fees:              attempt.Fees,
		Status:            domain.TransferCompleted,
		RiskScore:         attempt.RiskScore,
		RiskReasons:       attempt.RiskReasons,
		CreatedAt:         now,
	}
	if attempt.RateLock != nil {
		rate := attempt.RateLock.SellRate
		transfer.FxRate = &rate
	}

	committed, replayed, err := uc.ledger.CommitTransfer(ctx, transfer, challengeID)
	if err != nil {
		return nil, err
	}

	if !replayed {
		uc.notifier.TransferCompleted(ctx, committed)
		uc.logger.Info("transfer committed",
			zap.String("transfer_id", committed.ID),
			zap.String("attempt_id", attempt.ID),
			zap.String("total_debit", attempt.TotalDebit.String()))
	}

	return committed, nil
}

// ScheduledTransfer executes a schedule's fixed transfer on the owner's
// behalf. Scheduled runs are never interactive: a risk decision that would
// require OTP fails closed instead of waiting on a code nobody can enter.
func (uc *TransferUsecase) ScheduledTransfer(ctx context.Context, ownerID, recipientID string, amountUSD decimal.Decimal) (*domain.Transfer, error) {
	attempt, err := uc.Attempt(ctx, AttemptRequest{
		SenderID:    ownerID,
		RecipientID: recipientID,
		Amount:      amountUSD,
		Currency:    "USD",
	})
	if err != nil {
		return nil, err
	}

	if attempt.OTPRequired {
		_ = uc.attempts.Abandon(ctx, attempt.ID)
		return nil, xerrors.ErrRiskBlocked
	}

	return uc.Confirm(ctx, attempt.ID, "")
}

// Reverse books a compensating transfer against a completed one. History is
// never mutated; the original only flips to reversed. Only the sender may
// reverse; callerID == "" is the unscoped internal/ops path. A foreign
// transfer id is indistinguishable from a missing one.
func (uc *TransferUsecase) Reverse(ctx context.Context, transferID, callerID string) (*domain.Transfer, error) {
	original, err := uc.GetTransfer(ctx, transferID, callerID)
	if err != nil {
		return nil, err
	}
	if callerID != "" && original.SenderID != callerID {
		return nil, xerrors.ErrTransferNotFound
	}

	reversal, err := uc.ledger.CommitReversal(ctx, transferID, uc.ids.TransferID(), uc.now())
	if err != nil {
		return nil, err
	}

	uc.notifier.TransferReversed(ctx, reversal)
	uc.logger.Info("transfer reversed",
		zap.String("transfer_id", transferID),
		zap.String("reversal_id", reversal.ID))

	return reversal, nil
}

// GetTransfer is scoped to the transfer's participants; callerID == "" is
// the unscoped internal/ops path.
func (uc *TransferUsecase) GetTransfer(ctx context.Context, transferID, callerID string) (*domain.Transfer, error) {
	t, err := uc.ledger.GetTransferByID(ctx, transferID)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.ErrTransferNotFound
		}
		return nil, err
	}
	if callerID != "" && t.SenderID != callerID && t.RecipientID != callerID {
		return nil, xerrors.ErrTransferNotFound
	}
	return t, nil
}

func (uc *TransferUsecase) ListTransfers(ctx context.Context, userID string, limit int) ([]*domain.Transfer, error) {
	return uc.ledger.ListTransfersByUser(ctx, userID, limit)
}
