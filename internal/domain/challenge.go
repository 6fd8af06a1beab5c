package domain

import "time"

// TransferChallenge is a one-time-code step-up bound to a single attempt.
// Only the bcrypt hash of the code is ever stored.
type TransferChallenge struct {
	ID          string    `json:"challenge_id"`
	AttemptID   string    `json:"attempt_id"`
	CodeHash    string    `json:"-"`
	IssuedAt    time.Time `json:"issued_at"`
	ExpiresAt   time.Time `json:"expires_at"`
	Attempts    int       `json:"attempts"`
	Consumed    bool      `json:"consumed"`
	Invalidated bool      `json:"invalidated"`
}

func (c *TransferChallenge) IsExpired(now time.Time) bool {
	return now.After(c.ExpiresAt)
}
