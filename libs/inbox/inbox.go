// Package inbox is the idempotency ledger: one row per (event id, consumer)
// pair, guarded by a unique constraint. A consumer that sees the constraint
// fire has already processed the event and must not repeat its side effects.
package inbox

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/deskflow-io/deskflow/libs/db"
)

type Ledger struct{}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Record inserts the ledger row inside the caller's transaction so it
// commits or rolls back atomically with the handler's side effects.
// fresh=false reports a duplicate delivery; note the failed insert has
// aborted the surrounding transaction, which is exactly what a duplicate
// needs — nothing in it may commit.
func (l *Ledger) Record(ctx context.Context, tx pgx.Tx, eventID string, consumerID string) (fresh bool, err error) {
	_, err = tx.Exec(ctx, `
		INSERT INTO processed_events (event_id, consumer_id)
		VALUES ($1, $2)
	`, eventID, consumerID)
	if err == nil {
		return true, nil
	}
	if db.IsUniqueViolation(err) {
		return false, nil
	}
	return false, err
}
