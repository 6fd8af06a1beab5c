package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"remit-service/internal/domain"
	"remit-service/internal/pkg/id"
	xerrors "remit-service/internal/pkg/xerrors"
	"remit-service/internal/repository"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// CodeSender delivers a challenge code out of band (push/SMS/email).
// Delivery is fire-and-forget; a delivery failure never fails the issue.
type CodeSender interface {
	SendChallengeCode(ctx context.Context, userID, challengeID, code string, ttl time.Duration)
}

// AttemptSource looks up the attempt a challenge binds to.
type AttemptSource interface {
	GetByID(ctx context.Context, id string) (*domain.TransferAttempt, error)
}

type Service struct {
	repo        repository.ChallengeRepository
	attempts    AttemptSource
	limiter     *Limiter
	sender      CodeSender
	ids         *id.Generator
	logger      *zap.Logger
	ttl         time.Duration
	maxAttempts int
	now         func() time.Time
}

func NewService(
	repo repository.ChallengeRepository,
	attempts AttemptSource,
	limiter *Limiter,
	sender CodeSender,
	ids *id.Generator,
	logger *zap.Logger,
	ttl time.Duration,
	maxAttempts int,
) *Service {
	return &Service{
		repo:        repo,
		attempts:    attempts,
		limiter:     limiter,
		sender:      sender,
		ids:         ids,
		logger:      logger,
		ttl:         ttl,
		maxAttempts: maxAttempts,
		now:         time.Now,
	}
}

// SetClock pins the clock for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func randomCode(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}

// Issue creates a challenge bound to the attempt, retiring any live one first
// so a single challenge is active per attempt. The attempt must be live,
// owned by the caller, and actually require a step-up; anything else must not
// disturb the owner's in-flight challenge.
func (s *Service) Issue(ctx context.Context, userID, attemptID string) (*domain.TransferChallenge, error) {
	attempt, err := s.attempts.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, xerrors.ErrNotFound) {
			return nil, xerrors.ErrAttemptNotFoundOrExpired
		}
		return nil, err
	}
	// Foreign attempt ids are indistinguishable from missing ones.
	if attempt.SenderID != userID {
		return nil, xerrors.ErrAttemptNotFoundOrExpired
	}
	if attempt.Consumed || attempt.IsExpired(s.now()) {
		return nil, xerrors.ErrAttemptNotFoundOrExpired
	}
	if !attempt.OTPRequired {
		return nil, xerrors.ErrOTPNotRequired
	}

	if s.limiter != nil {
		if err := s.limiter.CanRequest(ctx, userID); err != nil {
			return nil, err
		}
	}

	if err := s.repo.InvalidateForAttempt(ctx, attemptID); err != nil {
		return nil, fmt.Errorf("failed to retire previous challenge: %w", err)
	}

	code, err := randomCode(6)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(code), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash code: %w", err)
	}

	now := s.now()
	challenge := &domain.TransferChallenge{
		ID:        s.ids.ChallengeID(),
		AttemptID: attemptID,
		CodeHash:  string(hash),
		IssuedAt:  now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.repo.Create(ctx, challenge); err != nil {
		return nil, err
	}

	if s.sender != nil {
		go s.sender.SendChallengeCode(context.Background(), userID, challenge.ID, code, s.ttl)
	}

	s.logger.Info("challenge issued",
		zap.String("challenge_id", challenge.ID),
		zap.String("attempt_id", attemptID))

	return challenge, nil
}

// check validates the challenge state and the supplied code, incrementing the
// failure counter and invalidating the challenge once attempts run out.
func (s *Service) check(ctx context.Context, c *domain.TransferChallenge, code string) error {
	switch {
	case c.Invalidated:
		return xerrors.ErrOTPExhausted
	case c.Consumed:
		return xerrors.ErrOTPConsumed
	case c.IsExpired(s.now()):
		return xerrors.ErrOTPExpired
	}

	if bcrypt.CompareHashAndPassword([]byte(c.CodeHash), []byte(code)) != nil {
		attempts, err := s.repo.IncrementAttempts(ctx, c.ID)
		if err != nil {
			return err
		}
		if attempts >= s.maxAttempts {
			if err := s.repo.Invalidate(ctx, c.ID); err != nil {
				return err
			}
			s.logger.Warn("challenge exhausted",
				zap.String("challenge_id", c.ID),
				zap.Int("attempts", attempts))
			return xerrors.ErrOTPExhausted
		}
		return xerrors.ErrOTPInvalid
	}
	return nil
}

// Verify is the standalone verification operation: success consumes the
// challenge, so a second verify with the correct code fails.
func (s *Service) Verify(ctx context.Context, challengeID, code string) (bool, error) {
	c, err := s.repo.GetByID(ctx, challengeID)
	if err != nil {
		return false, err
	}
	if err := s.check(ctx, c, code); err != nil {
		return false, err
	}
	if err := s.repo.MarkConsumed(ctx, c.ID); err != nil {
		return false, err
	}
	return true, nil
}

// ValidateForAttempt verifies the code against the attempt's live challenge
// without consuming it; the ledger commit consumes it atomically with the
// balance mutation. Returns the challenge id to consume.
func (s *Service) ValidateForAttempt(ctx context.Context, attemptID, code string) (string, error) {
	c, err := s.repo.GetActiveByAttempt(ctx, attemptID)
	if err != nil {
		if errors.Is(err, xerrors.ErrChallengeNotFound) {
			return "", xerrors.ErrOTPRequired
		}
		return "", err
	}
	if err := s.check(ctx, c, code); err != nil {
		return "", err
	}
	return c.ID, nil
}
