package db

import (
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error code for unique_violation. Duplicate detection across the
// platform (idempotency ledger, natural keys) relies on this single signal.
const uniqueViolationCode = "23505"

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
