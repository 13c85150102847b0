package consumer

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"

	"github.com/deskflow-io/deskflow/libs/kafkax"
)

// fakeTx implements pgx.Tx for the methods the consumer touches; anything
// else panics via the embedded nil interface.
type fakeTx struct {
	pgx.Tx
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(context.Context) error {
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeDB struct {
	txs []*fakeTx
}

func (db *fakeDB) Begin(context.Context) (pgx.Tx, error) {
	tx := &fakeTx{}
	db.txs = append(db.txs, tx)
	return tx, nil
}

// fakeLedger mimics the unique-constraint behavior: first Record for an
// event id is fresh, every later one is a duplicate.
type fakeLedger struct {
	seen map[string]bool
}

func (l *fakeLedger) Record(_ context.Context, _ pgx.Tx, eventID string, _ string) (bool, error) {
	if l.seen == nil {
		l.seen = map[string]bool{}
	}
	if l.seen[eventID] {
		return false, nil
	}
	l.seen[eventID] = true
	return true, nil
}

// alwaysFreshLedger never reports a duplicate; the real ledger's row rolls
// back with a failed handler, so a retried message is fresh again.
type alwaysFreshLedger struct{}

func (alwaysFreshLedger) Record(context.Context, pgx.Tx, string, string) (bool, error) {
	return true, nil
}

// fakeReader serves a fixed message sequence and cancels the run when it is
// exhausted, so Run returns deterministically.
type fakeReader struct {
	msgs        []kafka.Message
	fetched     int
	committed   []int64
	onExhausted context.CancelFunc
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	if err := ctx.Err(); err != nil {
		return kafka.Message{}, err
	}
	if r.fetched == len(r.msgs) {
		r.onExhausted()
		return kafka.Message{}, context.Canceled
	}
	msg := r.msgs[r.fetched]
	r.fetched++
	return msg, nil
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error { return nil }

func newTestConsumer(db *fakeDB, ledger Ledger, handler Handler) *Consumer {
	return &Consumer{
		db:      db,
		ledger:  ledger,
		name:    "profile-service",
		logger:  slog.New(slog.DiscardHandler),
		handler: handler,
		newBackoff: func(ctx context.Context) backoff.BackOff {
			return backoff.WithContext(backoff.NewConstantBackOff(time.Millisecond), ctx)
		},
	}
}

func message(eventID string) kafka.Message {
	return kafka.Message{
		Topic: "identity.user.registered.v1",
		Key:   []byte("u-1"),
		Value: []byte(`{"user_id":"u-1"}`),
		Headers: []kafka.Header{
			{Key: "event_id", Value: []byte(eventID)},
			{Key: "event_type", Value: []byte("identity.user.registered.v1")},
		},
	}
}

func messageAt(eventID string, offset int64) kafka.Message {
	msg := message(eventID)
	msg.Offset = offset
	return msg
}

func TestProcess_DuplicateDeliveryRunsHandlerOnce(t *testing.T) {
	db := &fakeDB{}
	handlerCalls := 0
	c := newTestConsumer(db, &fakeLedger{}, func(context.Context, pgx.Tx, kafkax.EventMeta, []byte) error {
		handlerCalls++
		return nil
	})

	if err := c.process(context.Background(), message("evt-1")); err != nil {
		t.Fatalf("first delivery failed: %v", err)
	}
	if err := c.process(context.Background(), message("evt-1")); err != nil {
		t.Fatalf("duplicate delivery should succeed as a no-op: %v", err)
	}

	if handlerCalls != 1 {
		t.Fatalf("expected 1 handler call, got %d", handlerCalls)
	}
	if !db.txs[0].committed {
		t.Fatal("first delivery should commit")
	}
	if db.txs[1].committed {
		t.Fatal("duplicate delivery must not commit anything")
	}
	if !db.txs[1].rolledBack {
		t.Fatal("duplicate delivery should roll back its transaction")
	}
}

func TestProcess_HandlerErrorRollsBackLedger(t *testing.T) {
	db := &fakeDB{}
	ledger := &fakeLedger{}
	c := newTestConsumer(db, ledger, func(context.Context, pgx.Tx, kafkax.EventMeta, []byte) error {
		return errors.New("projection insert failed")
	})

	if err := c.process(context.Background(), message("evt-2")); err == nil {
		t.Fatal("expected handler error to propagate")
	}
	if db.txs[0].committed {
		t.Fatal("failed handler must not commit")
	}
	if !db.txs[0].rolledBack {
		t.Fatal("failed handler must roll back, taking the ledger row with it")
	}

	// Redelivery after the rollback is not a duplicate: the ledger row never
	// committed. The real ledger forgets on rollback; mirror that here.
	ledger.seen = map[string]bool{}
	handlerOK := func(context.Context, pgx.Tx, kafkax.EventMeta, []byte) error { return nil }
	c.handler = handlerOK
	if err := c.process(context.Background(), message("evt-2")); err != nil {
		t.Fatalf("redelivery should process cleanly: %v", err)
	}
	if !db.txs[1].committed {
		t.Fatal("redelivery should commit")
	}
}

func TestProcess_CommitOnlyAfterHandler(t *testing.T) {
	db := &fakeDB{}
	c := newTestConsumer(db, &fakeLedger{}, func(_ context.Context, tx pgx.Tx, _ kafkax.EventMeta, _ []byte) error {
		if tx.(*fakeTx).committed {
			t.Fatal("transaction committed before handler finished")
		}
		return nil
	})

	if err := c.process(context.Background(), message("evt-3")); err != nil {
		t.Fatalf("process failed: %v", err)
	}
	if !db.txs[0].committed {
		t.Fatal("expected commit after handler success")
	}
}

func TestRun_NoCommitForOrPastFailedMessage(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		msgs:        []kafka.Message{messageAt("evt-1", 5), messageAt("evt-2", 6)},
		onExhausted: cancel,
	}
	attempts := 0
	c := newTestConsumer(&fakeDB{}, alwaysFreshLedger{}, func(context.Context, pgx.Tx, kafkax.EventMeta, []byte) error {
		attempts++
		if attempts == 3 {
			cancel()
		}
		return errors.New("projection store down")
	})
	c.reader = reader

	c.Run(ctx)

	// The group commit is a cumulative watermark: committing offset 6 would
	// mark offset 5 consumed, so nothing may be committed and the second
	// message must not even be fetched while the first is unprocessed.
	if len(reader.committed) != 0 {
		t.Fatalf("no offset may be committed while a message is unprocessed, got %v", reader.committed)
	}
	if reader.fetched != 1 {
		t.Fatalf("loop fetched past a failed message, fetched %d", reader.fetched)
	}
	if attempts < 3 {
		t.Fatalf("expected in-place retries until shutdown, got %d attempts", attempts)
	}
}

func TestRun_RetriesInPlaceThenCommitsInOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reader := &fakeReader{
		msgs:        []kafka.Message{messageAt("evt-1", 5), messageAt("evt-2", 6)},
		onExhausted: cancel,
	}
	failuresLeft := 2
	var handled []string
	c := newTestConsumer(&fakeDB{}, alwaysFreshLedger{}, func(_ context.Context, _ pgx.Tx, meta kafkax.EventMeta, _ []byte) error {
		if meta.EventID == "evt-1" && failuresLeft > 0 {
			failuresLeft--
			return errors.New("transient db error")
		}
		handled = append(handled, meta.EventID)
		return nil
	})
	c.reader = reader

	c.Run(ctx)

	if len(handled) != 2 || handled[0] != "evt-1" || handled[1] != "evt-2" {
		t.Fatalf("expected both events handled in order after retries, got %v", handled)
	}
	if len(reader.committed) != 2 || reader.committed[0] != 5 || reader.committed[1] != 6 {
		t.Fatalf("expected offsets committed in order after success, got %v", reader.committed)
	}
	if failuresLeft != 0 {
		t.Fatalf("expected transient failures to be retried away, %d left", failuresLeft)
	}
}
