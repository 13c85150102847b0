package outbox

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/deskflow-io/deskflow/libs/db"
	"github.com/deskflow-io/deskflow/libs/kafkax"
	otelx "github.com/deskflow-io/deskflow/libs/otel"
)

// Broker is the publish half of the message broker.
type Broker interface {
	Publish(ctx context.Context, topic string, aggregateID string, meta kafkax.EventMeta, payload []byte) error
}

// Relay drains the outbox on a fixed interval and hands records to the
// broker. Records are published in append order; the first record that
// exhausts its retry budget stops the batch so events for the same aggregate
// never overtake each other.
type Relay struct {
	pool        *db.Pool
	repo        *Repository
	broker      Broker
	logger      *slog.Logger
	pollEvery   time.Duration
	batchSize   int
	retryBudget time.Duration
}

type RelayConfig struct {
	PollEvery time.Duration
	BatchSize int
	// RetryBudget bounds the in-tick exponential backoff for a single
	// record's publish. Once exhausted the record waits for the next poll.
	RetryBudget time.Duration
}

func NewRelay(pool *db.Pool, repo *Repository, broker Broker, logger *slog.Logger, cfg RelayConfig) *Relay {
	if cfg.PollEvery <= 0 {
		cfg.PollEvery = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.RetryBudget <= 0 {
		cfg.RetryBudget = 10 * time.Second
	}
	return &Relay{
		pool:        pool,
		repo:        repo,
		broker:      broker,
		logger:      logger,
		pollEvery:   cfg.PollEvery,
		batchSize:   cfg.BatchSize,
		retryBudget: cfg.RetryBudget,
	}
}

func (r *Relay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.pollEvery)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.drainOnce(ctx); err != nil {
				r.logger.Error("outbox drain failed", "err", err)
			}
		}
	}
}

func (r *Relay) drainOnce(ctx context.Context) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	records, err := r.repo.FetchUnpublished(ctx, tx, r.batchSize)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return tx.Commit(ctx)
	}

	published, failed, pubErr := publishInOrder(ctx, r.broker, records, r.newBackoff)

	var ids []int64
	for _, rcd := range published {
		ids = append(ids, rcd.ID)
	}
	if err := r.repo.MarkPublished(ctx, tx, ids); err != nil {
		return err
	}
	if failed != nil {
		r.logger.Warn("outbox publish failed, record stays pending",
			"event_id", failed.EventID,
			"event_type", failed.EventType,
			"attempts", failed.AttemptCount+1,
			"err", pubErr,
		)
		if err := r.repo.MarkAttempt(ctx, tx, failed.ID, pubErr.Error()); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (r *Relay) newBackoff(ctx context.Context) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxElapsedTime = r.retryBudget
	return backoff.WithContext(bo, ctx)
}

// publishInOrder publishes records front to back, retrying each per the
// supplied backoff. It stops at the first record that cannot be published
// and reports everything before it as published.
func publishInOrder(ctx context.Context, broker Broker, records []Record, newBackoff func(context.Context) backoff.BackOff) (published []Record, failed *Record, err error) {
	for i := range records {
		rcd := records[i]
		msgCtx := otelx.ContextWithTraceContext(ctx, rcd.Traceparent, rcd.Tracestate)
		meta := kafkax.EventMeta{EventID: rcd.EventID, EventType: rcd.EventType}

		op := func() error {
			return broker.Publish(msgCtx, rcd.EventType, rcd.AggregateID, meta, rcd.Payload)
		}
		if pubErr := backoff.Retry(op, newBackoff(ctx)); pubErr != nil {
			return published, &rcd, pubErr
		}
		published = append(published, rcd)
	}
	return published, nil, nil
}
