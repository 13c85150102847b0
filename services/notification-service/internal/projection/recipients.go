// Package projection mirrors the user facts this service needs to address
// mail: id, email, display name. Identity events are the only writer.
package projection

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/deskflow-io/deskflow/libs/db"
	"github.com/deskflow-io/deskflow/libs/events"
	"github.com/deskflow-io/deskflow/libs/kafkax"
	"github.com/deskflow-io/deskflow/services/notification-service/internal/storage"
)

type Recipient struct {
	UserID    string
	Email     string
	FirstName string
}

type RecipientRepository struct {
	pool *db.Pool
}

func NewRecipientRepository(pool *db.Pool) *RecipientRepository {
	return &RecipientRepository{pool: pool}
}

func (r *RecipientRepository) UpsertTx(ctx context.Context, tx pgx.Tx, rcp Recipient) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO recipients (user_id, email, first_name)
		VALUES ($1, $2, $3)
		ON CONFLICT (user_id) DO NOTHING
	`, rcp.UserID, rcp.Email, rcp.FirstName)
	return err
}

func (r *RecipientRepository) DeleteTx(ctx context.Context, tx pgx.Tx, userID string) error {
	_, err := tx.Exec(ctx, `DELETE FROM recipients WHERE user_id = $1`, userID)
	return err
}

func (r *RecipientRepository) GetTx(ctx context.Context, tx pgx.Tx, userID string) (Recipient, error) {
	var rcp Recipient
	err := tx.QueryRow(ctx, `
		SELECT user_id::text, email, first_name
		FROM recipients
		WHERE user_id = $1
	`, userID).Scan(&rcp.UserID, &rcp.Email, &rcp.FirstName)
	if err != nil {
		return Recipient{}, err
	}
	return rcp, nil
}

// Projector applies identity events. Deletion also cancels queued mail for
// the user — this service's slice of the erasure cascade.
type Projector struct {
	recipients    *RecipientRepository
	notifications *storage.Repository
	logger        *slog.Logger
}

func NewProjector(recipients *RecipientRepository, notifications *storage.Repository, logger *slog.Logger) *Projector {
	return &Projector{recipients: recipients, notifications: notifications, logger: logger}
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
	return p.recipients.UpsertTx(ctx, tx, Recipient{
		UserID:    evt.UserID,
		Email:     evt.Email,
		FirstName: evt.FirstName,
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
	if err := p.notifications.CancelPendingForUser(ctx, tx, evt.UserID); err != nil {
		return err
	}
	return p.recipients.DeleteTx(ctx, tx, evt.UserID)
}
