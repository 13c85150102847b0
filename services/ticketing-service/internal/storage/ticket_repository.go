package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/deskflow-io/deskflow/libs/db"
)

type Ticket struct {
	ID         string
	CustomerID string
	AgentID    string // empty until assigned
	Subject    string
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

type TicketRepository struct {
	pool *db.Pool
}

func NewTicketRepository(pool *db.Pool) *TicketRepository {
	return &TicketRepository{pool: pool}
}

func (r *TicketRepository) CreateTx(ctx context.Context, tx pgx.Tx, t Ticket) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO tickets (id, customer_id, subject, status)
		VALUES ($1, $2, $3, $4)
	`, t.ID, t.CustomerID, t.Subject, t.Status)
	return err
}

func (r *TicketRepository) GetByID(ctx context.Context, id string) (Ticket, error) {
	var t Ticket
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, customer_id::text, COALESCE(agent_id::text, ''), subject, status, created_at, updated_at
		FROM tickets
		WHERE id = $1
	`, id).Scan(&t.ID, &t.CustomerID, &t.AgentID, &t.Subject, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Ticket{}, err
	}
	return t, nil
}

// AssignTx sets the agent and returns the updated row so the handler can
// build the event from what actually committed.
func (r *TicketRepository) AssignTx(ctx context.Context, tx pgx.Tx, id string, agentID string) (Ticket, error) {
	var t Ticket
	err := tx.QueryRow(ctx, `
		UPDATE tickets
		SET agent_id = $2, updated_at = now()
		WHERE id = $1
		RETURNING id::text, customer_id::text, COALESCE(agent_id::text, ''), subject, status, created_at, updated_at
	`, id, agentID).Scan(&t.ID, &t.CustomerID, &t.AgentID, &t.Subject, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return Ticket{}, err
	}
	return t, nil
}

func (r *TicketRepository) UpdateStatusTx(ctx context.Context, tx pgx.Tx, id string, status string) (Ticket, string, error) {
	var t Ticket
	var oldStatus string
	err := tx.QueryRow(ctx, `
		UPDATE tickets AS new
		SET status = $2, updated_at = now()
		FROM (SELECT status FROM tickets WHERE id = $1 FOR UPDATE) AS old
		WHERE new.id = $1
		RETURNING new.id::text, new.customer_id::text, COALESCE(new.agent_id::text, ''), new.subject, new.status, new.created_at, new.updated_at, old.status
	`, id, status).Scan(&t.ID, &t.CustomerID, &t.AgentID, &t.Subject, &t.Status, &t.CreatedAt, &t.UpdatedAt, &oldStatus)
	if err != nil {
		return Ticket{}, "", err
	}
	return t, oldStatus, nil
}

// ReferencingTicketIDs lists tickets that reference the user as customer or
// assignee. The deletion cascade walks this set.
func (r *TicketRepository) ReferencingTicketIDs(ctx context.Context, tx pgx.Tx, userID string) ([]string, error) {
	rows, err := tx.Query(ctx, `
		SELECT id::text
		FROM tickets
		WHERE customer_id = $1 OR agent_id = $1
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
