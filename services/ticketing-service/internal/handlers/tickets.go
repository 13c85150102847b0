package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deskflow-io/deskflow/libs/db"
	"github.com/deskflow-io/deskflow/libs/events"
	"github.com/deskflow-io/deskflow/libs/outbox"
	"github.com/deskflow-io/deskflow/services/ticketing-service/internal/cache"
	"github.com/deskflow-io/deskflow/services/ticketing-service/internal/projection"
	"github.com/deskflow-io/deskflow/services/ticketing-service/internal/storage"
)

const (
	StatusOpen     = "open"
	StatusPending  = "pending"
	StatusResolved = "resolved"
	StatusClosed   = "closed"
)

func validStatus(s string) bool {
	switch s {
	case StatusOpen, StatusPending, StatusResolved, StatusClosed:
		return true
	}
	return false
}

type TicketHandler struct {
	pool      *db.Pool
	tickets   *storage.TicketRepository
	customers *projection.CustomerRepository
	outbox    *outbox.Repository
	cache     *cache.TicketCache
	logger    *slog.Logger
}

func NewTicketHandler(
	pool *db.Pool,
	tickets *storage.TicketRepository,
	customers *projection.CustomerRepository,
	outboxRepo *outbox.Repository,
	ticketCache *cache.TicketCache,
	logger *slog.Logger,
) *TicketHandler {
	return &TicketHandler{
		pool:      pool,
		tickets:   tickets,
		customers: customers,
		outbox:    outboxRepo,
		cache:     ticketCache,
		logger:    logger,
	}
}

type createTicketRequest struct {
	CustomerID string `json:"customer_id"`
	Subject    string `json:"subject"`
}

type assignRequest struct {
	AgentID string `json:"agent_id"`
}

type statusRequest struct {
	Status string `json:"status"`
}

func ticketView(t storage.Ticket) cache.TicketView {
	return cache.TicketView{
		ID:         t.ID,
		CustomerID: t.CustomerID,
		AgentID:    t.AgentID,
		Subject:    t.Subject,
		Status:     t.Status,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

// Tickets serves POST /tickets: insert the ticket and append TicketCreated
// in one transaction.
func (h *TicketHandler) Tickets(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createTicketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.CustomerID = strings.TrimSpace(req.CustomerID)
	req.Subject = strings.TrimSpace(req.Subject)
	if req.CustomerID == "" || req.Subject == "" {
		http.Error(w, "customer_id and subject required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	known, err := h.customers.Exists(ctx, req.CustomerID)
	if err != nil {
		http.Error(w, "failed to check customer", http.StatusInternalServerError)
		return
	}
	if !known {
		// The shadow table lags the identity service by design; a just
		// registered customer may not be visible here yet.
		http.Error(w, "unknown customer", http.StatusUnprocessableEntity)
		return
	}

	ticket := storage.Ticket{
		ID:         uuid.NewString(),
		CustomerID: req.CustomerID,
		Subject:    req.Subject,
		Status:     StatusOpen,
	}
	evt := events.TicketCreated{
		TicketID:   ticket.ID,
		CustomerID: ticket.CustomerID,
		Subject:    ticket.Subject,
		OccurredAt: time.Now().UTC(),
	}
	payload, err := events.Encode(evt)
	if err != nil {
		http.Error(w, "failed to encode event", http.StatusInternalServerError)
		return
	}

	tx, err := h.pool.Begin(ctx)
	if err != nil {
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := h.tickets.CreateTx(ctx, tx, ticket); err != nil {
		http.Error(w, "failed to create ticket", http.StatusInternalServerError)
		return
	}
	if err := h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "ticket",
		AggregateID:   ticket.ID,
		EventType:     evt.EventType(),
		Payload:       payload,
	}); err != nil {
		http.Error(w, "failed to enqueue event", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit transaction", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(ticketView(ticket))
}

// Ticket serves /tickets/{id} and the /assign and /status subresources.
func (h *TicketHandler) Ticket(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tickets/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		http.Error(w, "ticket id required", http.StatusBadRequest)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		h.getTicket(w, r, id)
	case action == "assign" && r.Method == http.MethodPost:
		h.assignTicket(w, r, id)
	case action == "status" && r.Method == http.MethodPost:
		h.changeStatus(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *TicketHandler) getTicket(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()

	view, hit, err := h.cache.Get(ctx, id)
	if err != nil {
		// Cache trouble degrades to a database read.
		h.logger.Warn("ticket cache read failed", "ticket_id", id, "err", err)
	}
	if !hit {
		ticket, err := h.tickets.GetByID(ctx, id)
		if err != nil {
			if db.IsNotFound(err) {
				http.Error(w, "ticket not found", http.StatusNotFound)
				return
			}
			http.Error(w, "failed to load ticket", http.StatusInternalServerError)
			return
		}
		view = ticketView(ticket)
		if err := h.cache.Set(ctx, view); err != nil {
			h.logger.Warn("ticket cache write failed", "ticket_id", id, "err", err)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(view)
}

func (h *TicketHandler) assignTicket(w http.ResponseWriter, r *http.Request, id string) {
	var req assignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.AgentID = strings.TrimSpace(req.AgentID)
	if req.AgentID == "" {
		http.Error(w, "agent_id required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ticket, err := h.tickets.AssignTx(ctx, tx, id, req.AgentID)
	if err != nil {
		if db.IsNotFound(err) {
			http.Error(w, "ticket not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to assign ticket", http.StatusInternalServerError)
		return
	}

	evt := events.TicketAssigned{
		TicketID:   ticket.ID,
		AgentID:    ticket.AgentID,
		CustomerID: ticket.CustomerID,
		OccurredAt: time.Now().UTC(),
	}
	payload, err := events.Encode(evt)
	if err != nil {
		http.Error(w, "failed to encode event", http.StatusInternalServerError)
		return
	}
	if err := h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "ticket",
		AggregateID:   ticket.ID,
		EventType:     evt.EventType(),
		Payload:       payload,
	}); err != nil {
		http.Error(w, "failed to enqueue event", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit transaction", http.StatusInternalServerError)
		return
	}

	h.invalidateAfterWrite(r, ticket.ID)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ticketView(ticket))
}

func (h *TicketHandler) changeStatus(w http.ResponseWriter, r *http.Request, id string) {
	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.Status = strings.TrimSpace(req.Status)
	if !validStatus(req.Status) {
		http.Error(w, "status must be open, pending, resolved or closed", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	ticket, oldStatus, err := h.tickets.UpdateStatusTx(ctx, tx, id, req.Status)
	if err != nil {
		if db.IsNotFound(err) {
			http.Error(w, "ticket not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to update status", http.StatusInternalServerError)
		return
	}

	if oldStatus != ticket.Status {
		evt := events.TicketStatusChanged{
			TicketID:   ticket.ID,
			OldStatus:  oldStatus,
			NewStatus:  ticket.Status,
			CustomerID: ticket.CustomerID,
			AgentID:    ticket.AgentID,
			OccurredAt: time.Now().UTC(),
		}
		payload, err := events.Encode(evt)
		if err != nil {
			http.Error(w, "failed to encode event", http.StatusInternalServerError)
			return
		}
		if err := h.outbox.Insert(ctx, tx, outbox.Event{
			AggregateType: "ticket",
			AggregateID:   ticket.ID,
			EventType:     evt.EventType(),
			Payload:       payload,
		}); err != nil {
			http.Error(w, "failed to enqueue event", http.StatusInternalServerError)
			return
		}
	}
	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit transaction", http.StatusInternalServerError)
		return
	}

	h.invalidateAfterWrite(r, ticket.ID)

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ticketView(ticket))
}

// invalidateAfterWrite drops the cached view after a committed mutation so
// readers never see the pre-write state past this response.
func (h *TicketHandler) invalidateAfterWrite(r *http.Request, ticketID string) {
	if err := h.cache.Invalidate(r.Context(), ticketID); err != nil {
		h.logger.Warn("ticket cache invalidation failed", "ticket_id", ticketID, "err", err)
	}
}
