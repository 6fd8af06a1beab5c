package fees

import (
	"fmt"

	"github.com/shopspring/decimal"

	"remit-service/internal/domain"
)

// SenderRole selects the agent/distributor fee line of the schedule.
type SenderRole string

const (
	RoleUser        SenderRole = "user"
	RoleAgent       SenderRole = "agent"
	RoleDistributor SenderRole = "distributor"
)

// Rule is one fee schedule entry, keyed by corridor (source->target currency).
// All fee math is pure: same rule + amount always yields the same breakdown.
type Rule struct {
	PlatformBps int64           // basis points of the sent amount
	MinPlatform decimal.Decimal // floor applied after bps
	MaxPlatform decimal.Decimal // cap, zero = uncapped
	AgentBps    int64           // applied only for agent/distributor senders
	NetworkFee  decimal.Decimal // flat settlement-rail fee
}

// Schedule maps "SRC->DST" corridors to rules. The "*" entry is the fallback.
type Schedule map[string]Rule

func corridorKey(sourceCurrency, targetCurrency string) string {
	return fmt.Sprintf("%s->%s", sourceCurrency, targetCurrency)
}

// DefaultSchedule mirrors the production corridor pricing. Same-currency
// transfers pay platform bps only; cross-currency corridors add a network fee.
func DefaultSchedule() Schedule {
	return Schedule{
		"USD->HTG": {PlatformBps: 150, MinPlatform: decimal.NewFromFloat(0.99), NetworkFee: decimal.NewFromFloat(0.25)},
		"USD->DOP": {PlatformBps: 175, MinPlatform: decimal.NewFromFloat(0.99), NetworkFee: decimal.NewFromFloat(0.25)},
		"EUR->HTG": {PlatformBps: 175, MinPlatform: decimal.NewFromFloat(0.99), NetworkFee: decimal.NewFromFloat(0.30)},
		"*":        {PlatformBps: 100, MinPlatform: decimal.NewFromFloat(0.49), AgentBps: 50},
	}
}

// Calculate computes the disclosed fee breakdown for a transfer.
// Fees are denominated in the source currency and rounded to 2 places.
func (s Schedule) Calculate(amount decimal.Decimal, sourceCurrency, targetCurrency string, role SenderRole) domain.FeeBreakdown {
	rule, ok := s[corridorKey(sourceCurrency, targetCurrency)]
	if !ok {
		rule = s["*"]
	}

	bpsDiv := decimal.NewFromInt(10000)

	platform := amount.Mul(decimal.NewFromInt(rule.PlatformBps)).Div(bpsDiv)
	if platform.LessThan(rule.MinPlatform) {
		platform = rule.MinPlatform
	}
	if rule.MaxPlatform.IsPositive() && platform.GreaterThan(rule.MaxPlatform) {
		platform = rule.MaxPlatform
	}

	agent := decimal.Zero
	if role == RoleAgent || role == RoleDistributor {
		agent = amount.Mul(decimal.NewFromInt(rule.AgentBps)).Div(bpsDiv)
	}

	return domain.FeeBreakdown{
		PlatformFee: platform.Round(2),
		AgentFee:    agent.Round(2),
		NetworkFee:  rule.NetworkFee.Round(2),
		Currency:    sourceCurrency,
	}
}
