package repository

import (
	"context"
	"errors"
	"time"

	"remit-service/internal/domain"
	xerrors "remit-service/internal/pkg/xerrors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type FXRateRepository interface {
	// Currency operations
	GetCurrency(ctx context.Context, code string) (*domain.Currency, error)
	ListCurrencies(ctx context.Context) ([]*domain.Currency, error)
	SeedCurrencies(ctx context.Context, currencies []*domain.Currency) error

	// FX Rate operations
	GetLatestRate(ctx context.Context, base, quote string) (*domain.FXRate, error)
	CreateFXRate(ctx context.Context, rate *domain.FXRate) error
}

type fxRateRepo struct {
	db *pgxpool.Pool
}

func NewFXRateRepo(db *pgxpool.Pool) FXRateRepository {
	return &fxRateRepo{db: db}
}

func (r *fxRateRepo) SeedCurrencies(ctx context.Context, currencies []*domain.Currency) error {
	now := time.Now()
	for _, c := range currencies {
		_, err := r.db.Exec(ctx, `
			INSERT INTO currencies (code, name, decimals, created_at, updated_at)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (code) DO UPDATE
			SET name = EXCLUDED.name,
			    decimals = EXCLUDED.decimals,
			    updated_at = EXCLUDED.updated_at
		`, c.Code, c.Name, c.Decimals, now, now)
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *fxRateRepo) CreateFXRate(ctx context.Context, fx *domain.FXRate) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO fx_rates (base_currency, quote_currency, rate, as_of, created_at)
		VALUES ($1,$2,$3,$4,$5)
		ON CONFLICT (base_currency, quote_currency, as_of) DO UPDATE
		SET rate = EXCLUDED.rate
	`, fx.BaseCurrency, fx.QuoteCurrency, fx.Rate, fx.AsOf, time.Now())
	return err
}

func (r *fxRateRepo) GetCurrency(ctx context.Context, code string) (*domain.Currency, error) {
	row := r.db.QueryRow(ctx, `
		SELECT code, name, decimals, created_at, updated_at
		FROM currencies
		WHERE code=$1
	`, code)

	var c domain.Currency
	if err := row.Scan(&c.Code, &c.Name, &c.Decimals, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrNotFound
		}
		return nil, err
	}
	return &c, nil
}

func (r *fxRateRepo) ListCurrencies(ctx context.Context) ([]*domain.Currency, error) {
	rows, err := r.db.Query(ctx, `
		SELECT code, name, decimals, created_at, updated_at
		FROM currencies
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var currencies []*domain.Currency
	for rows.Next() {
		var c domain.Currency
		if err := rows.Scan(&c.Code, &c.Name, &c.Decimals, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		currencies = append(currencies, &c)
	}
	return currencies, rows.Err()
}

func (r *fxRateRepo) GetLatestRate(ctx context.Context, base, quote string) (*domain.FXRate, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, base_currency, quote_currency, rate, as_of, created_at
		FROM fx_rates
		WHERE base_currency=$1 AND quote_currency=$2
		ORDER BY as_of DESC
		LIMIT 1
	`, base, quote)

	var fx domain.FXRate
	if err := row.Scan(&fx.ID, &fx.BaseCurrency, &fx.QuoteCurrency, &fx.Rate, &fx.AsOf, &fx.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, xerrors.ErrUnsupportedCurrencyPair
		}
		return nil, err
	}
	return &fx, nil
}
