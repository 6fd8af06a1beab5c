package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type ScheduleStatus string

const (
	ScheduleActive   ScheduleStatus = "active"
	SchedulePaused   ScheduleStatus = "paused"
	ScheduleCanceled ScheduleStatus = "canceled"
	ScheduleFailed   ScheduleStatus = "failed"
)

type ScheduleFrequency string

const (
	FrequencyWeekly   ScheduleFrequency = "weekly"
	FrequencyBiweekly ScheduleFrequency = "biweekly"
	FrequencyMonthly  ScheduleFrequency = "monthly"
)

// RecurringSchedule is a standing instruction to execute the same transfer on
// a cadence. Mutated only through the schedule engine's transition methods.
type RecurringSchedule struct {
	ID           string            `json:"schedule_id"`
	OwnerID      string            `json:"owner_id"`
	RecipientID  string            `json:"recipient_id"`
	AmountUSD    decimal.Decimal   `json:"amount_usd"`
	Frequency    ScheduleFrequency `json:"frequency"`
	Status       ScheduleStatus    `json:"status"`
	NextRunAt    time.Time         `json:"next_run_at"`
	LastRunAt    *time.Time        `json:"last_run_at,omitempty"`
	FailureCount int               `json:"failure_count"`
	Note         *string           `json:"note,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	CanceledAt   *time.Time        `json:"canceled_at,omitempty"`
}

type RunOutcome string

const (
	RunSuccess RunOutcome = "success"
	RunFailure RunOutcome = "failure"
)

// ScheduleRun is one audited execution attempt of a schedule for a due date.
// Append-only; failureCount is derivable from consecutive failure rows.
type ScheduleRun struct {
	ID          string     `json:"run_id"`
	ScheduleID  string     `json:"schedule_id"`
	DueAt       time.Time  `json:"due_at"`
	AttemptedAt time.Time  `json:"attempted_at"`
	Outcome     RunOutcome `json:"outcome"`
	Reason      *string    `json:"reason,omitempty"`
	TransferID  *string    `json:"transfer_id,omitempty"`
}
