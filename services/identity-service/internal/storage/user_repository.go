package storage

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/deskflow-io/deskflow/libs/db"
)

// User is the source-of-truth record. Other services keep shadow projections
// of it; only this service writes it.
type User struct {
	ID           string
	Email        string
	FirstName    string
	LastName     string
	Role         string
	PasswordHash string
	CreatedAt    time.Time
}

type UserRepository struct {
	pool *db.Pool
}

func NewUserRepository(pool *db.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

func (r *UserRepository) Create(ctx context.Context, user User) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO users (id, email, first_name, last_name, role, password_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, user.ID, user.Email, user.FirstName, user.LastName, user.Role, user.PasswordHash)
	return err
}

// Delete is the compensating action for a registration whose event publish
// failed. Deleting an already-deleted row is a no-op.
func (r *UserRepository) Delete(ctx context.Context, id string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	return err
}

func (r *UserRepository) DeleteTx(ctx context.Context, tx pgx.Tx, id string) (User, error) {
	var user User
	err := tx.QueryRow(ctx, `
		DELETE FROM users
		WHERE id = $1
		RETURNING id, email, first_name, last_name, role, password_hash, created_at
	`, id).Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.Role, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (User, error) {
	var user User
	err := r.pool.QueryRow(ctx, `
		SELECT id, email, first_name, last_name, role, password_hash, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.Email, &user.FirstName, &user.LastName, &user.Role, &user.PasswordHash, &user.CreatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}
