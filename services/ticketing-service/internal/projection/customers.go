// Package projection keeps the customer shadow table that ticket commands
// validate against. Identity owns these facts; this service only mirrors the
// fields it needs.
package projection

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/deskflow-io/deskflow/libs/db"
	"github.com/deskflow-io/deskflow/libs/events"
	"github.com/deskflow-io/deskflow/libs/kafkax"
)

type CustomerRepository struct {
	pool *db.Pool
}

func NewCustomerRepository(pool *db.Pool) *CustomerRepository {
	return &CustomerRepository{pool: pool}
}

func (r *CustomerRepository) UpsertTx(ctx context.Context, tx pgx.Tx, userID, email, firstName, lastName, role string) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO customers (user_id, email, first_name, last_name, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, email, firstName, lastName, role)
	return err
}

func (r *CustomerRepository) DeleteTx(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx, `DELETE FROM customers WHERE user_id = $1`, userID)
	return err
}

func (r *CustomerRepository) Exists(ctx context.Context, userID string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM customers WHERE user_id = $1)
	`, userID).Scan(&exists)
	return exists, err
}

type Projector struct {
	repo   *CustomerRepository
	logger *slog.Logger
}

func NewProjector(repo *CustomerRepository, logger *slog.Logger) *Projector {
	return &Projector{repo: repo, logger: logger}
}

func (p *Projector) OnUserRegistered(ctx context.Context, tx pgx.Tx, meta kafkax.EventMeta, payload []byte) error {
	decoded, err := events.Decode(meta.EventType, payload)
	if err != nil {
		p.logger.Error("malformed user registered event", "event_id", meta.EventID, "err", err)
		return nil
	}
	evt, ok := decoded.(events.UserRegistered)
	if !ok {
		p.logger.Error("unexpected event on registration topic", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}
	return p.repo.UpsertTx(ctx, tx, evt.UserID, evt.Email, evt.FirstName, evt.LastName, evt.Role)
}
