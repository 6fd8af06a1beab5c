package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransferStatus string

const (
	TransferCompleted TransferStatus = "completed"
	TransferReversed  TransferStatus = "reversed"
)

// FeeBreakdown is the full disclosed fee set applied to a transfer.
// Computed once at attempt time from the fee schedule; never recomputed at confirm.
type FeeBreakdown struct {
	PlatformFee decimal.Decimal `json:"platform_fee"`
	AgentFee    decimal.Decimal `json:"agent_fee"`
	NetworkFee  decimal.Decimal `json:"network_fee"`
	Currency    string          `json:"currency"`
}

func (f FeeBreakdown) Total() decimal.Decimal {
	return f.PlatformFee.Add(f.AgentFee).Add(f.NetworkFee)
}

// TransferAttempt is the provisional, time-boxed transfer request.
// It lives from attempt() until confirm() or expiry.
type TransferAttempt struct {
	ID                string          `json:"attempt_id"`
	SenderID          string          `json:"sender_id"`
	RecipientID       string          `json:"recipient_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	RecipientCurrency string          `json:"recipient_currency"`
	RecipientAmount   decimal.Decimal `json:"recipient_amount"`
	Fees              FeeBreakdown    `json:"fees"`
	TotalDebit        decimal.Decimal `json:"total_debit"`
	RateLock          *RateLock       `json:"rate_lock,omitempty"`
	OTPRequired       bool            `json:"otp_required"`
	RiskScore         int             `json:"risk_score"`
	RiskReasons       []string        `json:"risk_reasons,omitempty"`
	Consumed          bool            `json:"-"`
	CreatedAt         time.Time       `json:"created_at"`
	ExpiresAt         time.Time       `json:"expires_at"`
}

func (a *TransferAttempt) IsExpired(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// Transfer is a committed, immutable ledger-affecting record.
// Reversal is a new compensating Transfer, never a mutation of this one.
type Transfer struct {
	ID                string          `json:"transfer_id"`
	AttemptID         string          `json:"attempt_id"`
	SenderID          string          `json:"sender_id"`
	RecipientID       string          `json:"recipient_id"`
	Amount            decimal.Decimal `json:"amount"`
	Currency          string          `json:"currency"`
	RecipientAmount   decimal.Decimal `json:"recipient_amount"`
	RecipientCurrency string          `json:"recipient_currency"`
	Fees              FeeBreakdown    `json:"fees"`
	FxRate            *decimal.Decimal `json:"fx_rate,omitempty"`
	Status            TransferStatus  `json:"status"`
	ReversalOf        *string         `json:"reversal_of,omitempty"`
	RiskScore         int             `json:"risk_score"`
	RiskReasons       []string        `json:"risk_reasons,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}
