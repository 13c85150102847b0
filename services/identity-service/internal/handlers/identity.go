package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/deskflow-io/deskflow/libs/compensate"
	"github.com/deskflow-io/deskflow/libs/db"
	"github.com/deskflow-io/deskflow/libs/events"
	"github.com/deskflow-io/deskflow/libs/kafkax"
	"github.com/deskflow-io/deskflow/libs/outbox"
	"github.com/deskflow-io/deskflow/services/identity-service/internal/storage"
)

type IdentityHandler struct {
	pool        *db.Pool
	users       *storage.UserRepository
	outbox      *outbox.Repository
	publisher   *kafkax.Publisher
	coordinator *compensate.Coordinator
}

func NewIdentityHandler(
	pool *db.Pool,
	users *storage.UserRepository,
	outboxRepo *outbox.Repository,
	publisher *kafkax.Publisher,
	coordinator *compensate.Coordinator,
) *IdentityHandler {
	return &IdentityHandler{
		pool:        pool,
		users:       users,
		outbox:      outboxRepo,
		publisher:   publisher,
		coordinator: coordinator,
	}
}

type registerRequest struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

type userResponse struct {
	UserID    string `json:"user_id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

func validateRegister(req *registerRequest) string {
	req.Email = strings.TrimSpace(req.Email)
	req.Password = strings.TrimSpace(req.Password)
	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	req.Role = strings.TrimSpace(req.Role)
	if req.Email == "" || !strings.Contains(req.Email, "@") {
		return "valid email required"
	}
	if len(req.Password) < 8 {
		return "password must be at least 8 characters"
	}
	if req.Role == "" {
		req.Role = "customer"
	}
	switch req.Role {
	case "customer", "agent", "admin":
	default:
		return "role must be customer, agent or admin"
	}
	return ""
}

// Register creates the user row and publishes UserRegistered directly to the
// broker. The publish is not transactional with the insert, so the whole
// sequence runs under the compensation coordinator: a failed publish deletes
// the row again and the client sees the failure.
func (h *IdentityHandler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	if msg := validateRegister(&req); msg != "" {
		http.Error(w, msg, http.StatusBadRequest)
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		http.Error(w, "failed to hash password", http.StatusInternalServerError)
		return
	}

	user := storage.User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		Role:         req.Role,
		PasswordHash: hash,
	}

	evt := events.UserRegistered{
		UserID:     user.ID,
		Email:      user.Email,
		FirstName:  user.FirstName,
		LastName:   user.LastName,
		Role:       user.Role,
		OccurredAt: time.Now().UTC(),
	}
	payload, err := events.Encode(evt)
	if err != nil {
		http.Error(w, "failed to encode event", http.StatusInternalServerError)
		return
	}
	meta := kafkax.EventMeta{EventID: uuid.NewString(), EventType: evt.EventType()}

	ctx := r.Context()
	var conflict bool
	err = h.coordinator.Execute(ctx, compensate.Operation{
		Name: "identity.register",
		Mutate: func(ctx2 context.Context) error {
			err := h.users.Create(ctx2, user)
			if db.IsUniqueViolation(err) {
				conflict = true
			}
			return err
		},
		Publish: func(ctx2 context.Context) error {
			return h.publisher.Publish(ctx2, evt.EventType(), evt.AggregateID(), meta, payload)
		},
		Compensate: func(ctx2 context.Context) error {
			return h.users.Delete(ctx2, user.ID)
		},
	})
	if err != nil {
		if conflict {
			http.Error(w, "email already registered", http.StatusConflict)
			return
		}
		http.Error(w, "registration temporarily unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(userResponse{
		UserID:    user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      user.Role,
	})
}

// HandleUser serves /users/{id}: GET reads, DELETE removes the user and
// appends UserDeleted to the outbox in the same transaction. Deletion goes
// through the outbox rather than a direct publish because the erasure
// cascade in other services must not be lost to a broker outage.
func (h *IdentityHandler) HandleUser(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/users/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "user id required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		h.getUser(w, r, id)
	case http.MethodDelete:
		h.deleteUser(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *IdentityHandler) getUser(w http.ResponseWriter, r *http.Request, id string) {
	user, err := h.users.GetByID(r.Context(), id)
	if err != nil {
		if db.IsNotFound(err) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load user", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(userResponse{
		UserID:    user.ID,
		Email:     user.Email,
		FirstName: user.FirstName,
		LastName:  user.LastName,
		Role:      user.Role,
	})
}

func (h *IdentityHandler) deleteUser(w http.ResponseWriter, r *http.Request, id string) {
	ctx := r.Context()
	tx, err := h.pool.Begin(ctx)
	if err != nil {
		http.Error(w, "failed to start transaction", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(ctx) }()

	user, err := h.users.DeleteTx(ctx, tx, id)
	if err != nil {
		if db.IsNotFound(err) {
			http.Error(w, "user not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to delete user", http.StatusInternalServerError)
		return
	}

	evt := events.UserDeleted{
		UserID:    user.ID,
		Email:     user.Email,
		DeletedAt: time.Now().UTC(),
	}
	payload, err := events.Encode(evt)
	if err != nil {
		http.Error(w, "failed to encode event", http.StatusInternalServerError)
		return
	}
	if err := h.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "user",
		AggregateID:   user.ID,
		EventType:     evt.EventType(),
		Payload:       payload,
	}); err != nil {
		http.Error(w, "failed to enqueue deletion event", http.StatusInternalServerError)
		return
	}

	if err := tx.Commit(ctx); err != nil {
		http.Error(w, "failed to commit transaction", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func verifyPassword(hash string, password string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}
