// Package cascade handles user-deletion events: every locally derived trace
// of the deleted user is removed or invalidated. The sweep is best-effort
// per record — one stubborn cache entry must not block the rest, and the
// whole handler is idempotent so a redelivered deletion simply re-runs it.
package cascade

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/deskflow-io/deskflow/libs/events"
	"github.com/deskflow-io/deskflow/libs/kafkax"
)

// TicketLister enumerates tickets referencing a user.
type TicketLister interface {
	ReferencingTicketIDs(ctx context.Context, tx pgx.Tx, userID string) ([]string, error)
}

// CustomerEraser removes the user's shadow row.
type CustomerEraser interface {
	DeleteTx(ctx context.Context, tx pgx.Tx, userID string) error
}

// Invalidator drops one derived cache entry.
type Invalidator interface {
	Invalidate(ctx context.Context, ticketID string) error
}

type Cascade struct {
	tickets   TicketLister
	customers CustomerEraser
	cache     Invalidator
	logger    *slog.Logger
}

func New(tickets TicketLister, customers CustomerEraser, cache Invalidator, logger *slog.Logger) *Cascade {
	return &Cascade{tickets: tickets, customers: customers, cache: cache, logger: logger}
}

// OnUserDeleted erases the customer projection inside the consumer's
// transaction, then invalidates each referencing ticket's cache entry
// independently. Cache failures are logged and skipped: the entry is
// TTL-bounded and a redelivered deletion event re-runs the sweep.
func (c *Cascade) OnUserDeleted(ctx context.Context, tx pgx.Tx, meta kafkax.EventMeta, payload []byte) error {
	decoded, err := events.Decode(meta.EventType, payload)
	if err != nil {
		c.logger.Error("malformed user deleted event", "event_id", meta.EventID, "err", err)
		return nil
	}
	evt, ok := decoded.(events.UserDeleted)
	if !ok {
		c.logger.Error("unexpected event on deletion topic", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}

	ids, err := c.tickets.ReferencingTicketIDs(ctx, tx, evt.UserID)
	if err != nil {
		return err
	}

	if err := c.customers.DeleteTx(ctx, tx, evt.UserID); err != nil {
		return err
	}

	invalidated, failed := 0, 0
	for _, id := range ids {
		if err := c.cache.Invalidate(ctx, id); err != nil {
			failed++
			c.logger.Warn("ticket cache invalidation failed, skipping",
				"ticket_id", id, "user_id", evt.UserID, "err", err)
			continue
		}
		invalidated++
	}

	c.logger.Info("user deletion cascade complete",
		"user_id", evt.UserID,
		"tickets_referencing", len(ids),
		"cache_invalidated", invalidated,
		"cache_failed", failed,
	)
	return nil
}
