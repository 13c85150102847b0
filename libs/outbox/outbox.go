// Package outbox implements the transactional outbox: events are appended in
// the same database transaction as the business rows they describe, then
// relayed to Kafka by a background worker. Rows are marked published, never
// deleted, so a crash between publish and mark can only cause a duplicate
// publish — absorbed downstream by the idempotency ledger.
package outbox

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	otelx "github.com/deskflow-io/deskflow/libs/otel"
)

// Event is the envelope callers append inside their own transaction.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// Record is a persisted outbox row as seen by the relay.
type Record struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
	AttemptCount  int
}

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Insert appends an event to the outbox inside the caller's transaction. The
// event id minted here is the message identity for the rest of its life:
// Kafka header, idempotency ledger key, everywhere.
func (r *Repository) Insert(ctx context.Context, tx pgx.Tx, evt Event) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), evt.AggregateType, evt.AggregateID, evt.EventType, evt.Payload, traceparent, tracestate)
	return err
}

// FetchUnpublished returns pending rows in append order. SKIP LOCKED lets
// relays on multiple service instances drain concurrently without blocking;
// at worst a row is published twice.
func (r *Repository) FetchUnpublished(ctx context.Context, tx pgx.Tx, limit int) ([]Record, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate, created_at, attempt_count
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rcd Record
		if err := rows.Scan(&rcd.ID, &rcd.EventID, &rcd.AggregateType, &rcd.AggregateID, &rcd.EventType, &rcd.Payload, &rcd.Traceparent, &rcd.Tracestate, &rcd.CreatedAt, &rcd.AttemptCount); err != nil {
			return nil, err
		}
		records = append(records, rcd)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return records, nil
}

// MarkPublished is idempotent: re-marking an already-published row leaves
// its original published_at.
func (r *Repository) MarkPublished(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = now()
		WHERE id = ANY($1) AND published_at IS NULL
	`, ids)
	return err
}

// MarkAttempt records a failed publish. The row stays pending; removal is an
// operator decision, never automatic.
func (r *Repository) MarkAttempt(ctx context.Context, tx pgx.Tx, id int64, lastError string) error {
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET attempt_count = attempt_count + 1,
		    last_error = $2
		WHERE id = $1
	`, id, lastError)
	return err
}
