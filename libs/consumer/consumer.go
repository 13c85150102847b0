// Package consumer implements the idempotent Kafka consumer: ledger insert
// and handler side effects share one database transaction, and the offset is
// committed only after that transaction commits. A failing handler is
// retried in place; the loop never fetches past an unprocessed message.
package consumer

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/deskflow-io/deskflow/libs/kafkax"
)

// Handler applies one event's local side effects inside tx. It must not
// commit or roll back tx itself.
type Handler func(ctx context.Context, tx pgx.Tx, meta kafkax.EventMeta, payload []byte) error

// DB is the transactional datastore the consumer co-commits with.
// *db.Pool satisfies it.
type DB interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Ledger detects duplicate deliveries for a logical consumer.
type Ledger interface {
	Record(ctx context.Context, tx pgx.Tx, eventID string, consumerID string) (bool, error)
}

// Reader is the fetch/commit half of a kafka.Reader.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	reader     Reader
	db         DB
	ledger     Ledger
	name       string
	logger     *slog.Logger
	handler    Handler
	newBackoff func(context.Context) backoff.BackOff
}

type Config struct {
	Brokers string
	// GroupID is the durable queue binding and doubles as the logical
	// consumer name in the ledger.
	GroupID string
	Topic   string
}

func New(logger *slog.Logger, database DB, ledger Ledger, cfg Config, handler Handler) *Consumer {
	brokers := kafkax.SplitBrokers(cfg.Brokers)
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		GroupID:  cfg.GroupID,
		Topic:    cfg.Topic,
		MinBytes: 1,
		MaxBytes: 10e6,
	})
	return &Consumer{
		reader:     reader,
		db:         database,
		ledger:     ledger,
		name:       cfg.GroupID,
		logger:     logger,
		handler:    handler,
		newBackoff: consumeBackoff,
	}
}

func (c *Consumer) Run(ctx context.Context) {
	defer c.reader.Close()

	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Error("kafka fetch error", "err", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		if err := c.handleMessage(ctx, msg); err != nil {
			// Only context cancellation stops the retry loop. The offset was
			// never committed, so processing resumes at this message.
			return
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			c.logger.Error("offset commit failed", "err", err)
		}
	}
}

// handleMessage processes one message, retrying in place until it succeeds
// or the context ends. The consumer-group commit is a cumulative
// per-partition watermark: committing any later message would mark this one
// consumed, so the loop must not move on while it is unprocessed.
func (c *Consumer) handleMessage(ctx context.Context, msg kafka.Message) error {
	ctxMsg := kafkax.ExtractTraceContext(ctx, msg)
	ctxSpan, span := otel.Tracer("kafka").Start(ctxMsg, "kafka.consume",
		trace.WithAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", msg.Topic),
		),
	)
	defer span.End()

	attempt := 0
	op := func() error {
		attempt++
		err := c.process(ctxSpan, msg)
		if err != nil {
			c.logger.Error("event processing failed, retrying in place",
				"err", err, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "attempt", attempt)
			span.RecordError(err)
		}
		return err
	}
	return backoff.Retry(op, c.newBackoff(ctx))
}

func consumeBackoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 500 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0 // retry until the context ends
	return backoff.WithContext(bo, ctx)
}

func (c *Consumer) process(ctx context.Context, msg kafka.Message) error {
	meta := kafkax.ExtractEventMeta(msg)

	tx, err := c.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	fresh, err := c.ledger.Record(ctx, tx, meta.EventID, c.name)
	if err != nil {
		return err
	}
	if !fresh {
		c.logger.Info("duplicate event ignored", "event_id", meta.EventID, "event_type", meta.EventType)
		return nil
	}

	if err := c.handler(ctx, tx, meta, msg.Value); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
