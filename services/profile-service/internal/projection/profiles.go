// Package projection maintains the local user shadow table. Rows here are
// never authoritative: they exist only because identity events arrived, and
// they change only inside the consumer's transaction.
package projection

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/deskflow-io/deskflow/libs/db"
	"github.com/deskflow-io/deskflow/libs/events"
	"github.com/deskflow-io/deskflow/libs/kafkax"
)

type Profile struct {
	UserID    string
	Email     string
	FirstName string
	LastName  string
	Role      string
	CreatedAt time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// InsertTx is idempotent beyond the ledger: replaying a creation event onto
// an existing row is a no-op rather than an error.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, p Profile) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO profiles (user_id, email, first_name, last_name, role)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id) DO NOTHING
	`, p.UserID, p.Email, p.FirstName, p.LastName, p.Role)
	return err
}

func (r *Repository) DeleteTx(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx, `DELETE FROM profiles WHERE user_id = $1`, userID)
	return err
}

func (r *Repository) GetByID(ctx context.Context, userID string) (Profile, error) {
	var p Profile
	err := r.pool.QueryRow(ctx, `
		SELECT user_id, email, first_name, last_name, role, created_at
		FROM profiles
		WHERE user_id = $1
	`, userID).Scan(&p.UserID, &p.Email, &p.FirstName, &p.LastName, &p.Role, &p.CreatedAt)
	if err != nil {
		return Profile{}, err
	}
	return p, nil
}

// Projector turns identity events into profile rows. Malformed payloads are
// logged and acknowledged; redelivering them would fail the same way forever.
type Projector struct {
	repo   *Repository
	logger *slog.Logger
}

func NewProjector(repo *Repository, logger *slog.Logger) *Projector {
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
	return p.repo.InsertTx(ctx, tx, Profile{
		UserID:    evt.UserID,
		Email:     evt.Email,
		FirstName: evt.FirstName,
		LastName:  evt.LastName,
		Role:      evt.Role,
	})
}

func (p *Projector) OnUserDeleted(ctx context.Context, tx pgx.Tx, meta kafkax.EventMeta, payload []byte) error {
	decoded, err := events.Decode(meta.EventType, payload)
	if err != nil {
		p.logger.Error("malformed user deleted event", "event_id", meta.EventID, "err", err)
		return nil
	}
	evt, ok := decoded.(events.UserDeleted)
	if !ok {
		p.logger.Error("unexpected event on deletion topic", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}
	return p.repo.DeleteTx(ctx, tx, evt.UserID)
}
