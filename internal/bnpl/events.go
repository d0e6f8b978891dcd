package bnpl

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	planmodels "bnpl/internal/plan/models"
	"bnpl/internal/platform/kafka/consumer"
	"bnpl/internal/platform/kafka/producer"
	trustmodels "bnpl/internal/trust/models"
	id "bnpl/pkg/domain"
	dErrors "bnpl/pkg/domain-errors"
	"bnpl/pkg/platform/outbox"
)

// Header keys set on every published event.
const (
	HeaderEventID   = "event_id"
	HeaderEventType = "event_type"
)

// PaymentFollowUp turns a payment.succeeded outbox entry into the scoring
// follow-up. The entry ID is the dedupe key, so redelivery is a no-op.
// Other event types pass through untouched.
func PaymentFollowUp(trust TrustService, logger *slog.Logger) outbox.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return outbox.HandlerFunc(func(ctx context.Context, entry *outbox.Entry) error {
		if entry.EventType != planmodels.EventPaymentSucceeded {
			return nil
		}
		var event planmodels.PaymentSucceeded
		if err := json.Unmarshal(entry.Payload, &event); err != nil {
			// retrying cannot fix a malformed payload
			logger.ErrorContext(ctx, "follow_up_payload_invalid",
				"entry_id", entry.ID.String(), "error", err)
			return nil
		}
		outcome := trustmodels.PaymentOutcome{
			OnTime:    event.OnTime,
			DelayDays: float64(event.DelayDays),
			Tracked:   true,
		}
		if _, err := trust.RecordInstallmentPayment(ctx, entry.ID, id.UserID(event.UserID), outcome); err != nil {
			return fmt.Errorf("apply payment follow-up for plan %s: %w", event.PlanID, err)
		}
		return nil
	})
}

// EventPublisher relays outbox entries to the downstream events topic.
// Records are keyed by aggregate ID so a plan's events stay ordered.
func EventPublisher(p producer.Publisher, topic string) outbox.Handler {
	return outbox.HandlerFunc(func(ctx context.Context, entry *outbox.Entry) error {
		return p.Produce(ctx, &producer.Message{
			Topic: topic,
			Key:   []byte(entry.AggregateID),
			Value: entry.Payload,
			Headers: map[string]string{
				HeaderEventID:   entry.ID.String(),
				HeaderEventType: entry.EventType,
				"aggregate":     entry.AggregateType,
				"created_at":    strconv.FormatInt(entry.CreatedAt.UnixMilli(), 10),
			},
		})
	})
}

// InboundEvent is the envelope of payment_completed and award_coins messages.
type InboundEvent struct {
	EventID string          `json:"event_id"`
	UserID  string          `json:"user_id"`
	Amount  decimal.Decimal `json:"amount"`
}

// Topics maps inbound topics to the event they carry.
type Topics struct {
	Payments string // payment_completed
	Rewards  string // award_coins
}

// EventConsumer routes inbound Kafka records to the engine by topic.
func (e *Engine) EventConsumer(topics Topics) consumer.Handler {
	return consumer.HandlerFunc(func(ctx context.Context, msg *consumer.Message) error {
		var event InboundEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			return fmt.Errorf("%w: decode %s: %v", consumer.ErrPermanent, msg.Topic, err)
		}
		userID, err := id.ParseUserID(event.UserID)
		if err != nil || userID.IsNil() {
			return fmt.Errorf("%w: invalid user_id %q", consumer.ErrPermanent, event.UserID)
		}
		eventID := inboundEventID(msg, event.EventID)

		switch msg.Topic {
		case topics.Payments:
			err = e.HandlePaymentCompleted(ctx, eventID, userID)
		case topics.Rewards:
			err = e.AwardCoins(ctx, eventID, userID, event.Amount)
		default:
			return fmt.Errorf("%w: unrouted topic %s", consumer.ErrPermanent, msg.Topic)
		}
		if err == nil {
			e.logger.InfoContext(ctx, "inbound_event_applied",
				"topic", msg.Topic, "event_id", eventID.String(), "user_id", userID.String())
			return nil
		}
		// a missing profile or a bad amount will not heal on retry
		if dErrors.HasCode(err, dErrors.CodeNotFound) || dErrors.HasCode(err, dErrors.CodeInvalidInput) {
			return fmt.Errorf("%w: %v", consumer.ErrPermanent, err)
		}
		return err
	})
}

// inboundEventID prefers the producer's id (body, then header). Without one
// it derives a stable id from the record position so redelivery still dedupes.
func inboundEventID(msg *consumer.Message, bodyID string) uuid.UUID {
	for _, candidate := range []string{bodyID, msg.Headers[HeaderEventID]} {
		if parsed, err := uuid.Parse(candidate); err == nil && parsed != uuid.Nil {
			return parsed
		}
	}
	position := fmt.Sprintf("%s/%d/%d", msg.Topic, msg.Partition, msg.Offset)
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(position))
}
