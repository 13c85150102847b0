package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/deskflow-io/deskflow/libs/db"
)

// Notification is a queued email. Rows are written inside the consumer's
// transaction and delivered later by the dispatch worker, so a crash between
// the two loses nothing.
type Notification struct {
	ID            int64
	TicketID      string
	RecipientID   string
	Recipient     string // email address at enqueue time
	Subject       string
	Body          string
	Status        string
	Attempts      int
	MaxAttempts   int
	NextAttemptAt time.Time
	LastError     string
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, n Notification) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO notifications (ticket_id, recipient_id, recipient, subject, body, status, next_attempt_at)
		VALUES ($1, $2, $3, $4, $5, 'pending', now())
	`, n.TicketID, n.RecipientID, n.Recipient, n.Subject, n.Body)
	return err
}

func (r *Repository) FetchPending(ctx context.Context, tx pgx.Tx, limit int) ([]Notification, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, ticket_id::text, recipient_id::text, recipient, subject, body, attempts, max_attempts
		FROM notifications
		WHERE status = 'pending' AND next_attempt_at <= now()
		ORDER BY next_attempt_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pending []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.ID, &n.TicketID, &n.RecipientID, &n.Recipient, &n.Subject, &n.Body, &n.Attempts, &n.MaxAttempts); err != nil {
			return nil, err
		}
		pending = append(pending, n)
	}
	return pending, rows.Err()
}

func (r *Repository) MarkSent(ctx context.Context, tx pgx.Tx, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE notifications
		SET status = 'sent', sent_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts int, maxAttempts int, nextAttemptAt time.Time, lastError string) error {
	status := "pending"
	if attempts >= maxAttempts {
		status = "failed"
	}
	_, err := tx.Exec(ctx, `
		UPDATE notifications
		SET attempts = $2,
		    status = $3,
		    next_attempt_at = $4,
		    last_error = $5
		WHERE id = $1
	`, id, attempts, status, nextAttemptAt, lastError)
	return err
}

// CancelPendingForUser is part of the user-deletion cascade: mail queued for
// a deleted user must never leave the building.
func (r *Repository) CancelPendingForUser(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx, `
		UPDATE notifications
		SET status = 'cancelled'
		WHERE recipient_id = $1 AND status = 'pending'
	`, userID)
	return err
}
