package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type Currency struct {
	Code      string
	Name      string
	Decimals  int16
	CreatedAt time.Time
	UpdatedAt time.Time
}

// FXRate is a stored mid rate for a currency pair as of a point in time.
type FXRate struct {
	ID            int64
	BaseCurrency  string
	QuoteCurrency string
	Rate          decimal.Decimal
	AsOf          time.Time
	CreatedAt     time.Time
}

// RateLock is a short-lived FX quote guaranteed until ExpiresAt or consumption.
// A transfer confirmed against an expired lock must be re-attempted, never
// silently repriced.
type RateLock struct {
	ID            string          `json:"lock_id"`
	BaseCurrency  string          `json:"base_currency"`
	QuoteCurrency string          `json:"quote_currency"`
	MidRate       decimal.Decimal `json:"mid_rate"`
	SpreadBps     int64           `json:"spread_bps"`
	BuyRate       decimal.Decimal `json:"buy_rate"`
	SellRate      decimal.Decimal `json:"sell_rate"`
	LockedAt      time.Time       `json:"locked_at"`
	ExpiresAt     time.Time       `json:"lock_expires_at"`
}

func (l *RateLock) IsExpired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// DefaultCurrencies returns the static list of supported corridors.
func DefaultCurrencies() []*Currency {
	now := time.Now()
	return []*Currency{
		{Code: "USD", Name: "US Dollar", Decimals: 2, CreatedAt: now, UpdatedAt: now},
		{Code: "HTG", Name: "Haitian Gourde", Decimals: 2, CreatedAt: now, UpdatedAt: now},
		{Code: "EUR", Name: "Euro", Decimals: 2, CreatedAt: now, UpdatedAt: now},
		{Code: "DOP", Name: "Dominican Peso", Decimals: 2, CreatedAt: now, UpdatedAt: now},
	}
}
