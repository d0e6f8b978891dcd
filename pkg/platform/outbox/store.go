package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store defines the outbox persistence operations.
// Implementations must be safe for concurrent use.
type Store interface {
	// Append adds a new entry. Call it inside the business transaction.
	Append(ctx context.Context, entry *Entry) error

	// FetchUnprocessed returns up to limit pending entries, oldest first.
	FetchUnprocessed(ctx context.Context, limit int) ([]*Entry, error)

	// MarkProcessed marks an entry handled. Marking an already processed entry is a no-op.
	MarkProcessed(ctx context.Context, id uuid.UUID, processedAt time.Time) error

	// MarkFailed records a failed handling attempt; the entry stays pending.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error

	CountPending(ctx context.Context) (int64, error)

	// DeleteProcessedBefore removes old processed entries and returns how many were removed.
	DeleteProcessedBefore(ctx context.Context, before time.Time) (int64, error)
}

// Handler applies the side effect an entry describes. Handlers must be idempotent
// per entry ID: the worker delivers at least once.
type Handler interface {
	Handle(ctx context.Context, entry *Entry) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, entry *Entry) error

func (f HandlerFunc) Handle(ctx context.Context, entry *Entry) error { return f(ctx, entry) }

// Chain runs handlers in order and stops at the first error.
func Chain(handlers ...Handler) Handler {
	return HandlerFunc(func(ctx context.Context, entry *Entry) error {
		for _, h := range handlers {
			if h == nil {
				continue
			}
			if err := h.Handle(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
}
