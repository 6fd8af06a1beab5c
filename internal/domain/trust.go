package domain

import "time"

type TrustLevel string

const (
	TrustNew      TrustLevel = "new"
	TrustModerate TrustLevel = "moderate"
	TrustTrusted  TrustLevel = "trusted"
)

// PairHistory is the historical input the trust engine scores.
// Assembled by repositories; the engine itself does no I/O.
type PairHistory struct {
	TransferCount        int
	Favorite             bool
	RecipientCreatedAt   time.Time
	RecipientTier        int // verification tier, 0 = unverified
}

type TrustAssessment struct {
	Score   int        `json:"score"`
	Level   TrustLevel `json:"level"`
	Reasons []string   `json:"reasons"`
}
