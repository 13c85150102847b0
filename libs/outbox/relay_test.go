package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/deskflow-io/deskflow/libs/kafkax"
)

type fakeBroker struct {
	published []string // event ids in publish order
	failOn    map[string]error
	attempts  map[string]int
}

func (b *fakeBroker) Publish(_ context.Context, _ string, _ string, meta kafkax.EventMeta, _ []byte) error {
	if b.attempts == nil {
		b.attempts = map[string]int{}
	}
	b.attempts[meta.EventID]++
	if err := b.failOn[meta.EventID]; err != nil {
		return err
	}
	b.published = append(b.published, meta.EventID)
	return nil
}

func noRetry(ctx context.Context) backoff.BackOff {
	return backoff.WithContext(&backoff.StopBackOff{}, ctx)
}

func records(ids ...string) []Record {
	var out []Record
	for i, id := range ids {
		out = append(out, Record{ID: int64(i + 1), EventID: id, AggregateID: "agg-1", EventType: "ticketing.ticket.created.v1"})
	}
	return out
}

func TestPublishInOrder_PreservesAppendOrder(t *testing.T) {
	broker := &fakeBroker{}
	published, failed, err := publishInOrder(context.Background(), broker, records("a", "b", "c"), noRetry)
	if err != nil || failed != nil {
		t.Fatalf("unexpected failure: failed=%v err=%v", failed, err)
	}
	if len(published) != 3 {
		t.Fatalf("expected 3 published, got %d", len(published))
	}
	for i, want := range []string{"a", "b", "c"} {
		if broker.published[i] != want {
			t.Fatalf("order broken: got %v", broker.published)
		}
	}
}

func TestPublishInOrder_StopsAtFirstFailure(t *testing.T) {
	broker := &fakeBroker{failOn: map[string]error{"b": errors.New("broker down")}}
	published, failed, err := publishInOrder(context.Background(), broker, records("a", "b", "c"), noRetry)
	if failed == nil || failed.EventID != "b" {
		t.Fatalf("expected failure on b, got %+v", failed)
	}
	if err == nil {
		t.Fatal("expected publish error")
	}
	if len(published) != 1 || published[0].EventID != "a" {
		t.Fatalf("expected only a published, got %+v", published)
	}
	// c must not be attempted: publishing past a failed record would let
	// later events for the same aggregate overtake earlier ones.
	if broker.attempts["c"] != 0 {
		t.Fatalf("record after failure was attempted %d times", broker.attempts["c"])
	}
}

func TestPublishInOrder_RetriesBeforeGivingUp(t *testing.T) {
	broker := &fakeBroker{failOn: map[string]error{"a": errors.New("transient")}}
	bounded := func(ctx context.Context) backoff.BackOff {
		return backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 2), ctx)
	}
	_, failed, _ := publishInOrder(context.Background(), broker, records("a"), bounded)
	if failed == nil {
		t.Fatal("expected failure")
	}
	if got := broker.attempts["a"]; got != 3 {
		t.Fatalf("expected 3 attempts (1 + 2 retries), got %d", got)
	}
}
