package cascade

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/deskflow-io/deskflow/libs/events"
	"github.com/deskflow-io/deskflow/libs/kafkax"
)

type fakeLister struct {
	ids []string
}

func (l *fakeLister) ReferencingTicketIDs(context.Context, pgx.Tx, string) ([]string, error) {
	return l.ids, nil
}

type fakeEraser struct {
	deleted []string
}

func (e *fakeEraser) DeleteTx(_ context.Context, _ pgx.Tx, userID string) error {
	e.deleted = append(e.deleted, userID)
	return nil
}

type fakeInvalidator struct {
	failOn      map[string]error
	invalidated []string
	attempts    []string
}

func (f *fakeInvalidator) Invalidate(_ context.Context, ticketID string) error {
	f.attempts = append(f.attempts, ticketID)
	if err := f.failOn[ticketID]; err != nil {
		return err
	}
	f.invalidated = append(f.invalidated, ticketID)
	return nil
}

func deletionMessage(t *testing.T, userID string) (kafkax.EventMeta, []byte) {
	t.Helper()
	payload, err := events.Encode(events.UserDeleted{
		UserID:    userID,
		Email:     "gone@example.com",
		DeletedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	return kafkax.EventMeta{EventID: "evt-del-1", EventType: events.TopicUserDeleted}, payload
}

func TestOnUserDeleted_ContinuesPastFailures(t *testing.T) {
	lister := &fakeLister{ids: []string{"t-1", "t-2", "t-3", "t-4", "t-5"}}
	eraser := &fakeEraser{}
	inval := &fakeInvalidator{failOn: map[string]error{"t-3": errors.New("redis timeout")}}
	c := New(lister, eraser, inval, slog.New(slog.DiscardHandler))

	meta, payload := deletionMessage(t, "u-3")
	if err := c.OnUserDeleted(context.Background(), nil, meta, payload); err != nil {
		t.Fatalf("cascade must not fail on a single record: %v", err)
	}

	if len(inval.attempts) != 5 {
		t.Fatalf("all 5 tickets should be attempted, got %d", len(inval.attempts))
	}
	if len(inval.invalidated) != 4 {
		t.Fatalf("expected 4 invalidated despite one failure, got %d", len(inval.invalidated))
	}
	for _, id := range inval.invalidated {
		if id == "t-3" {
			t.Fatal("failed record should not be reported as invalidated")
		}
	}
	if len(eraser.deleted) != 1 || eraser.deleted[0] != "u-3" {
		t.Fatalf("customer projection should be erased once, got %v", eraser.deleted)
	}
}

func TestOnUserDeleted_RepeatSweepIsHarmless(t *testing.T) {
	lister := &fakeLister{ids: []string{"t-1", "t-2"}}
	eraser := &fakeEraser{}
	inval := &fakeInvalidator{}
	c := New(lister, eraser, inval, slog.New(slog.DiscardHandler))

	meta, payload := deletionMessage(t, "u-9")
	for i := 0; i < 2; i++ {
		if err := c.OnUserDeleted(context.Background(), nil, meta, payload); err != nil {
			t.Fatalf("sweep %d failed: %v", i+1, err)
		}
	}
	if len(inval.attempts) != 4 {
		t.Fatalf("expected both sweeps to run fully, got %d attempts", len(inval.attempts))
	}
}

func TestOnUserDeleted_MalformedPayloadAcked(t *testing.T) {
	c := New(&fakeLister{}, &fakeEraser{}, &fakeInvalidator{}, slog.New(slog.DiscardHandler))
	meta := kafkax.EventMeta{EventID: "evt-bad", EventType: events.TopicUserDeleted}
	if err := c.OnUserDeleted(context.Background(), nil, meta, []byte("{not json")); err != nil {
		t.Fatalf("malformed payload should be logged and acked, got %v", err)
	}
}
