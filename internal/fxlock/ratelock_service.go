package fxlock

import (
	"context"
	"fmt"
	"time"

	"remit-service/internal/domain"
	"remit-service/internal/pkg/cache"
	"remit-service/internal/pkg/id"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const midRateCacheTTL = 10 * time.Second

// RateSource supplies the current mid rate for a currency pair.
type RateSource interface {
	GetLatestRate(ctx context.Context, base, quote string) (*domain.FXRate, error)
}

// Service quotes short-lived rate locks. The quoted buy/sell is honored until
// the lock expires or is consumed; confirm re-checks validity itself since a
// client cannot be trusted to.
type Service struct {
	source    RateSource
	cache     *cache.Cache
	ids       *id.Generator
	logger    *zap.Logger
	ttl       time.Duration
	spreadBps int64
	now       func() time.Time
}

func NewService(
	source RateSource,
	c *cache.Cache,
	ids *id.Generator,
	logger *zap.Logger,
	ttl time.Duration,
	spreadBps int64,
) *Service {
	return &Service{
		source:    source,
		cache:     c,
		ids:       ids,
		logger:    logger,
		ttl:       ttl,
		spreadBps: spreadBps,
		now:       time.Now,
	}
}

// SetClock pins the clock for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func (s *Service) midRate(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	cacheKey := base + ":" + quote

	if s.cache != nil {
		if val, err := s.cache.Get(ctx, "fx_mid", cacheKey); err == nil {
			if mid, parseErr := decimal.NewFromString(val); parseErr == nil {
				return mid, nil
			}
		}
	}

	rate, err := s.source.GetLatestRate(ctx, base, quote)
	if err != nil {
		return decimal.Zero, err
	}

	if s.cache != nil {
		_ = s.cache.Set(ctx, "fx_mid", cacheKey, rate.Rate.String(), midRateCacheTTL)
	}
	return rate.Rate, nil
}

// Lock quotes the pair with the configured spread and a validity window.
func (s *Service) Lock(ctx context.Context, fromCcy, toCcy string) (*domain.RateLock, error) {
	mid, err := s.midRate(ctx, fromCcy, toCcy)
	if err != nil {
		return nil, fmt.Errorf("failed to quote %s/%s: %w", fromCcy, toCcy, err)
	}

	// Half the spread on each side of mid.
	half := mid.Mul(decimal.NewFromInt(s.spreadBps)).Div(decimal.NewFromInt(20000))
	now := s.now()

	lock := &domain.RateLock{
		ID:            s.ids.RateLockID(),
		BaseCurrency:  fromCcy,
		QuoteCurrency: toCcy,
		MidRate:       mid,
		SpreadBps:     s.spreadBps,
		BuyRate:       mid.Add(half).Round(6),
		SellRate:      mid.Sub(half).Round(6),
		LockedAt:      now,
		ExpiresAt:     now.Add(s.ttl),
	}

	s.logger.Debug("rate locked",
		zap.String("lock_id", lock.ID),
		zap.String("pair", fromCcy+"/"+toCcy),
		zap.String("sell_rate", lock.SellRate.String()),
		zap.Time("expires_at", lock.ExpiresAt))

	return lock, nil
}

// IsValid is a pure expiry check against the service clock.
func (s *Service) IsValid(lock *domain.RateLock) bool {
	if lock == nil {
		return false
	}
	return !lock.IsExpired(s.now())
}
