package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestIsUniqueViolation(t *testing.T) {
	dup := &pgconn.PgError{Code: "23505", ConstraintName: "processed_events_pkey"}
	if !IsUniqueViolation(dup) {
		t.Fatal("23505 should be detected as a unique violation")
	}
	if !IsUniqueViolation(fmt.Errorf("insert ledger row: %w", dup)) {
		t.Fatal("wrapped unique violations should still be detected")
	}
	if IsUniqueViolation(&pgconn.PgError{Code: "23503"}) {
		t.Fatal("foreign key violations are not duplicates")
	}
	if IsUniqueViolation(errors.New("connection refused")) {
		t.Fatal("transport errors are not duplicates")
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(pgx.ErrNoRows) {
		t.Fatal("pgx.ErrNoRows should be not-found")
	}
	if IsNotFound(errors.New("boom")) {
		t.Fatal("arbitrary errors are not not-found")
	}
}
