// Package dispatch delivers queued notifications over SMTP. It polls the
// notifications table the same way the outbox relay polls its own: batch,
// attempt, mark, commit.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/deskflow-io/deskflow/libs/db"
	"github.com/deskflow-io/deskflow/services/notification-service/internal/email"
	"github.com/deskflow-io/deskflow/services/notification-service/internal/storage"
)

type Worker struct {
	pool      *db.Pool
	repo      *storage.Repository
	sender    email.Sender
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	backoff   time.Duration
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	// Backoff delays a failed notification's next attempt; attempts beyond
	// max_attempts park the row as failed for operator review.
	Backoff time.Duration
}

func NewWorker(pool *db.Pool, repo *storage.Repository, sender email.Sender, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 2 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Minute
	}
	return &Worker{
		pool:      pool,
		repo:      repo,
		sender:    sender,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.deliverBatch(ctx); err != nil {
				w.logger.Error("notification batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) deliverBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	pending, err := w.repo.FetchPending(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return tx.Commit(ctx)
	}

	var sent []int64
	for _, n := range pending {
		if err := w.sender.Send(n.Recipient, n.Subject, n.Body); err != nil {
			attempts := n.Attempts + 1
			nextAttempt := time.Now().UTC().Add(w.backoff)
			w.logger.Warn("notification send failed",
				"notification_id", n.ID, "recipient_id", n.RecipientID, "attempts", attempts, "err", err)
			if err := w.repo.MarkFailed(ctx, tx, n.ID, attempts, n.MaxAttempts, nextAttempt, err.Error()); err != nil {
				return err
			}
			continue
		}
		sent = append(sent, n.ID)
	}

	if err := w.repo.MarkSent(ctx, tx, sent); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
