package trust

import (
	"time"

	"remit-service/internal/domain"
)

// Engine scores a sender/recipient relationship into a discrete trust level.
// It is a policy table, not a model: the same PairHistory always yields the
// same assessment, and every reason string maps to exactly one rule below.
type Engine struct {
	now func() time.Time
}

func NewEngine() *Engine {
	return &Engine{now: time.Now}
}

// NewEngineAt pins the clock, for deterministic scoring in tests.
func NewEngineAt(now func() time.Time) *Engine {
	return &Engine{now: now}
}

const (
	scoreEstablishedHistory = 40
	scoreRepeatRecipient    = 25
	scoreLimitedHistory     = 10
	scoreFavorite           = 20
	scoreMatureAccount      = 25
	scoreSettledAccount     = 10
	scoreVerifiedIdentity   = 15
	scoreBasicIdentity      = 5

	matureAccountAge  = 180 * 24 * time.Hour
	settledAccountAge = 30 * 24 * time.Hour

	trustedThreshold  = 70
	moderateThreshold = 40
)

func levelForScore(score int) domain.TrustLevel {
	switch {
	case score >= trustedThreshold:
		return domain.TrustTrusted
	case score >= moderateThreshold:
		return domain.TrustModerate
	default:
		return domain.TrustNew
	}
}

func levelRank(l domain.TrustLevel) int {
	switch l {
	case domain.TrustTrusted:
		return 2
	case domain.TrustModerate:
		return 1
	default:
		return 0
	}
}

func minLevel(a, b domain.TrustLevel) domain.TrustLevel {
	if levelRank(b) < levelRank(a) {
		return b
	}
	return a
}

// Assess scores the pair. Conservative bias: when history says trusted but
// the recipient account is very new or unverified, the lower derived level
// wins.
func (e *Engine) Assess(h *domain.PairHistory) *domain.TrustAssessment {
	score := 0
	reasons := []string{}

	switch {
	case h.TransferCount >= 10:
		score += scoreEstablishedHistory
		reasons = append(reasons, "established transfer history with recipient")
	case h.TransferCount >= 3:
		score += scoreRepeatRecipient
		reasons = append(reasons, "repeat recipient")
	case h.TransferCount >= 1:
		score += scoreLimitedHistory
		reasons = append(reasons, "limited transfer history with recipient")
	default:
		reasons = append(reasons, "no prior transfers to recipient")
	}

	if h.Favorite {
		score += scoreFavorite
		reasons = append(reasons, "recipient marked as favorite")
	}

	accountAge := e.now().Sub(h.RecipientCreatedAt)
	switch {
	case accountAge >= matureAccountAge:
		score += scoreMatureAccount
		reasons = append(reasons, "recipient account is mature")
	case accountAge >= settledAccountAge:
		score += scoreSettledAccount
		reasons = append(reasons, "recipient account is settled")
	default:
		reasons = append(reasons, "recipient account is new")
	}

	switch {
	case h.RecipientTier >= 2:
		score += scoreVerifiedIdentity
		reasons = append(reasons, "recipient identity fully verified")
	case h.RecipientTier == 1:
		score += scoreBasicIdentity
		reasons = append(reasons, "recipient identity partially verified")
	default:
		reasons = append(reasons, "recipient identity unverified")
	}

	if score > 100 {
		score = 100
	}

	level := levelForScore(score)

	// Conflicting signals pull the level down, never up.
	if accountAge < settledAccountAge {
		level = minLevel(level, domain.TrustNew)
	}
	if h.RecipientTier == 0 {
		level = minLevel(level, domain.TrustModerate)
	}

	return &domain.TrustAssessment{
		Score:   score,
		Level:   level,
		Reasons: reasons,
	}
}
