package otp

import (
	"context"
	"fmt"
	"time"

	"remit-service/internal/pkg/cache"
	xerrors "remit-service/internal/pkg/xerrors"
)

// Limiter bounds how often one user can request challenge codes.
type Limiter struct {
	cache       *cache.Cache
	window      time.Duration
	maxInWindow int
	cooldown    time.Duration
}

func NewLimiter(cache *cache.Cache, window time.Duration, max int, cooldown time.Duration) *Limiter {
	return &Limiter{cache: cache, window: window, maxInWindow: max, cooldown: cooldown}
}

func (l *Limiter) CanRequest(ctx context.Context, userID string) error {
	blockKey := fmt.Sprintf("block:%s", userID)
	lastKey := fmt.Sprintf("last:%s", userID)
	countKey := fmt.Sprintf("count:%s", userID)

	// Blocked after too many requests in the window.
	if ttl, _ := l.cache.GetTTL(ctx, "otp_rate", blockKey); ttl > 0 {
		return fmt.Errorf("%w: try again in %ds", xerrors.ErrTooManyOTPRequests, int(ttl.Seconds()))
	}

	// Cooldown between consecutive requests.
	if ttl, _ := l.cache.GetTTL(ctx, "otp_rate", lastKey); ttl > 0 {
		return fmt.Errorf("%w: wait %ds before requesting another code", xerrors.ErrTooManyOTPRequests, int(ttl.Seconds()))
	}

	cnt, err := l.cache.IncrWithExpire(ctx, "otp_rate", countKey, l.window)
	if err != nil {
		return err
	}

	if int(cnt) > l.maxInWindow {
		_ = l.cache.Set(ctx, "otp_rate", blockKey, "1", l.window*3)
		return fmt.Errorf("%w: try again in %ds", xerrors.ErrTooManyOTPRequests, int((l.window * 3).Seconds()))
	}

	_ = l.cache.Set(ctx, "otp_rate", lastKey, "1", l.cooldown)

	return nil
}
