package service

import (
	"context"
	"errors"
	"time"

	"remit-service/internal/domain"
	xerrors "remit-service/internal/pkg/xerrors"
	"remit-service/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// FXSeeder performs initial setup of the supported corridors: the static
// currency list and a baseline mid rate per pair so quoting works before the
// first upstream sync lands.
type FXSeeder struct {
	repo   repository.FXRateRepository
	logger *zap.Logger
}

func NewFXSeeder(repo repository.FXRateRepository, logger *zap.Logger) *FXSeeder {
	return &FXSeeder{repo: repo, logger: logger}
}

func baselineRates(now time.Time) []*domain.FXRate {
	pairs := []struct {
		base, quote string
		rate        string
	}{
		{"USD", "HTG", "132.500000"},
		{"USD", "DOP", "59.850000"},
		{"USD", "EUR", "0.920000"},
		{"EUR", "HTG", "144.020000"},
	}

	rates := make([]*domain.FXRate, 0, len(pairs))
	for _, p := range pairs {
		rate, err := decimal.NewFromString(p.rate)
		if err != nil {
			continue
		}
		rates = append(rates, &domain.FXRate{
			BaseCurrency:  p.base,
			QuoteCurrency: p.quote,
			Rate:          rate,
			AsOf:          now,
		})
	}
	return rates
}

// Seed is idempotent: currencies upsert, and a baseline rate is only written
// for pairs with no stored rate at all.
func (s *FXSeeder) Seed(ctx context.Context) error {
	if err := s.repo.SeedCurrencies(ctx, domain.DefaultCurrencies()); err != nil {
		return err
	}

	now := time.Now()
	for _, rate := range baselineRates(now) {
		_, err := s.repo.GetLatestRate(ctx, rate.BaseCurrency, rate.QuoteCurrency)
		if err == nil {
			continue
		}
		if !errors.Is(err, xerrors.ErrUnsupportedCurrencyPair) {
			return err
		}
		if err := s.repo.CreateFXRate(ctx, rate); err != nil {
			return err
		}
		s.logger.Info("seeded baseline fx rate",
			zap.String("pair", rate.BaseCurrency+"/"+rate.QuoteCurrency),
			zap.String("rate", rate.Rate.String()))
	}
	return nil
}
