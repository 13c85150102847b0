// Package notify turns ticket events into queued notifications. It never
// sends mail itself; it enqueues rows the dispatch worker delivers.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"github.com/deskflow-io/deskflow/libs/db"
	"github.com/deskflow-io/deskflow/libs/events"
	"github.com/deskflow-io/deskflow/libs/kafkax"
	"github.com/deskflow-io/deskflow/services/notification-service/internal/projection"
	"github.com/deskflow-io/deskflow/services/notification-service/internal/storage"
)

type Notifier struct {
	recipients    *projection.RecipientRepository
	notifications *storage.Repository
	logger        *slog.Logger
}

func NewNotifier(recipients *projection.RecipientRepository, notifications *storage.Repository, logger *slog.Logger) *Notifier {
	return &Notifier{recipients: recipients, notifications: notifications, logger: logger}
}

func ticketCreatedMessage(firstName string, ticketID string, subject string) (string, string) {
	return fmt.Sprintf("We received your ticket: %s", subject),
		fmt.Sprintf("Hi %s,\n\nYour ticket %s has been created. Our team will get back to you shortly.\n", firstName, ticketID)
}

func ticketAssignedMessage(firstName string, ticketID string) (string, string) {
	return "Your ticket has been assigned",
		fmt.Sprintf("Hi %s,\n\nAn agent is now working on your ticket %s.\n", firstName, ticketID)
}

func ticketStatusMessage(firstName string, ticketID string, oldStatus string, newStatus string) (string, string) {
	return fmt.Sprintf("Your ticket is now %s", newStatus),
		fmt.Sprintf("Hi %s,\n\nYour ticket %s moved from %s to %s.\n", firstName, ticketID, oldStatus, newStatus)
}

// enqueueFor looks up the recipient and queues one notification. A missing
// recipient is not an error: the user was deleted, or the registration event
// has not arrived yet and the next ticket event will try again.
func (n *Notifier) enqueueFor(ctx context.Context, tx pgx.Tx, userID string, ticketID string, compose func(firstName string) (string, string)) error {
	rcp, err := n.recipients.GetTx(ctx, tx, userID)
	if err != nil {
		if db.IsNotFound(err) {
			n.logger.Info("no recipient on file, skipping notification", "user_id", userID, "ticket_id", ticketID)
			return nil
		}
		return err
	}
	subject, body := compose(rcp.FirstName)
	return n.notifications.InsertTx(ctx, tx, storage.Notification{
		TicketID:    ticketID,
		RecipientID: rcp.UserID,
		Recipient:   rcp.Email,
		Subject:     subject,
		Body:        body,
	})
}

func (n *Notifier) OnTicketCreated(ctx context.Context, tx pgx.Tx, meta kafkax.EventMeta, payload []byte) error {
	decoded, err := events.Decode(meta.EventType, payload)
	if err != nil {
		n.logger.Error("malformed ticket created event", "event_id", meta.EventID, "err", err)
		return nil
	}
	evt, ok := decoded.(events.TicketCreated)
	if !ok {
		n.logger.Error("unexpected event on created topic", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}
	return n.enqueueFor(ctx, tx, evt.CustomerID, evt.TicketID, func(firstName string) (string, string) {
		return ticketCreatedMessage(firstName, evt.TicketID, evt.Subject)
	})
}

func (n *Notifier) OnTicketAssigned(ctx context.Context, tx pgx.Tx, meta kafkax.EventMeta, payload []byte) error {
	decoded, err := events.Decode(meta.EventType, payload)
	if err != nil {
		n.logger.Error("malformed ticket assigned event", "event_id", meta.EventID, "err", err)
		return nil
	}
	evt, ok := decoded.(events.TicketAssigned)
	if !ok {
		n.logger.Error("unexpected event on assigned topic", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}
	return n.enqueueFor(ctx, tx, evt.CustomerID, evt.TicketID, func(firstName string) (string, string) {
		return ticketAssignedMessage(firstName, evt.TicketID)
	})
}

func (n *Notifier) OnTicketStatusChanged(ctx context.Context, tx pgx.Tx, meta kafkax.EventMeta, payload []byte) error {
	decoded, err := events.Decode(meta.EventType, payload)
	if err != nil {
		n.logger.Error("malformed ticket status event", "event_id", meta.EventID, "err", err)
		return nil
	}
	evt, ok := decoded.(events.TicketStatusChanged)
	if !ok {
		n.logger.Error("unexpected event on status topic", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}
	return n.enqueueFor(ctx, tx, evt.CustomerID, evt.TicketID, func(firstName string) (string, string) {
		return ticketStatusMessage(firstName, evt.TicketID, evt.OldStatus, evt.NewStatus)
	})
}
