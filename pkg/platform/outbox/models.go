package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Entry is a pending side effect recorded in the same transaction as the state
// change that caused it. The entry ID doubles as the idempotency key downstream.
type Entry struct {
	ID            uuid.UUID
	AggregateType string // "payment_plan"
	AggregateID   string // plan ID
	EventType     string // "payment.succeeded"
	Payload       []byte // JSON-encoded event
	CreatedAt     time.Time
	ProcessedAt   *time.Time // nil while pending
	Attempts      int
	LastError     string
}

// IsPending returns true if this entry has not been processed yet.
func (e *Entry) IsPending() bool {
	return e.ProcessedAt == nil
}

// NewEntry creates a new outbox entry with a generated ID.
func NewEntry(aggregateType, aggregateID, eventType string, payload []byte, now time.Time) *Entry {
	return &Entry{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		CreatedAt:     now,
	}
}
