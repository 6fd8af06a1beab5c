package pub

import (
	"context"
	"encoding/json"
	"time"

	"remit-service/internal/domain"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const EventsTopic = "remit.events"

// EventPublisher is the fire-and-forget notification collaborator. A publish
// failure is logged and dropped; it never rolls back a committed transfer.
type EventPublisher struct {
	writer *kafka.Writer
	logger *zap.Logger
}

func NewEventPublisher(brokers []string, logger *zap.Logger) *EventPublisher {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        EventsTopic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
	return &EventPublisher{writer: writer, logger: logger}
}

func (p *EventPublisher) Close() error {
	return p.writer.Close()
}

type Event struct {
	RequestID  string                 `json:"request_id"`
	EventType  string                 `json:"event_type"`
	UserID     string                 `json:"user_id"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

func (p *EventPublisher) publish(ctx context.Context, eventType, userID string, payload map[string]interface{}) {
	event := Event{
		RequestID:  uuid.New().String(),
		EventType:  eventType,
		UserID:     userID,
		Payload:    payload,
		OccurredAt: time.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("failed to marshal event", zap.Error(err), zap.String("event_type", eventType))
		return
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(userID),
		Value: data,
	})
	if err != nil {
		p.logger.Warn("failed to publish event",
			zap.Error(err),
			zap.String("event_type", eventType),
			zap.String("user_id", userID))
	}
}

func (p *EventPublisher) TransferCompleted(ctx context.Context, t *domain.Transfer) {
	p.publish(ctx, "transfer.completed", t.SenderID, map[string]interface{}{
		"transfer_id":        t.ID,
		"recipient_id":       t.RecipientID,
		"amount":             t.Amount.String(),
		"currency":           t.Currency,
		"recipient_amount":   t.RecipientAmount.String(),
		"recipient_currency": t.RecipientCurrency,
		"total_fees":         t.Fees.Total().String(),
		"risk_score":         t.RiskScore,
	})
}

func (p *EventPublisher) TransferReversed(ctx context.Context, reversal *domain.Transfer) {
	p.publish(ctx, "transfer.reversed", reversal.RecipientID, map[string]interface{}{
		"transfer_id": reversal.ID,
		"reversal_of": reversal.ReversalOf,
		"amount":      reversal.Amount.String(),
		"currency":    reversal.Currency,
	})
}

func (p *EventPublisher) ScheduleFailed(ctx context.Context, s *domain.RecurringSchedule, reason string) {
	p.publish(ctx, "schedule.failed", s.OwnerID, map[string]interface{}{
		"schedule_id":   s.ID,
		"recipient_id":  s.RecipientID,
		"amount_usd":    s.AmountUSD.String(),
		"failure_count": s.FailureCount,
		"reason":        reason,
	})
}

// SendChallengeCode satisfies the OTP code-delivery contract. The code rides
// the notification pipeline; downstream owns channel selection.
func (p *EventPublisher) SendChallengeCode(ctx context.Context, userID, challengeID, code string, ttl time.Duration) {
	p.publish(ctx, "otp.challenge", userID, map[string]interface{}{
		"challenge_id":   challengeID,
		"code":           code,
		"expiry_minutes": int(ttl.Minutes()),
	})
}
