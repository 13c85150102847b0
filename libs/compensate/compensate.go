// Package compensate formalizes the mutate-then-publish sequence for flows
// that publish straight to the broker instead of through the outbox. The
// publish cannot join the local transaction, so a failed publish is undone
// by an explicit compensating action rather than an ad hoc catch block.
package compensate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type Operation struct {
	// Name tags log lines and errors; use the business operation, e.g.
	// "identity.register".
	Name       string
	Mutate     func(ctx context.Context) error
	Publish    func(ctx context.Context) error
	Compensate func(ctx context.Context) error
}

type Coordinator struct {
	logger *slog.Logger
}

func NewCoordinator(logger *slog.Logger) *Coordinator {
	return &Coordinator{logger: logger}
}

// Execute commits the mutation, attempts the publish, and on publish failure
// runs the compensation so no local fact survives without its event. A
// failed compensation is the one outcome that must be loud: the local store
// now disagrees with the event stream and only reconciliation can fix it.
func (c *Coordinator) Execute(ctx context.Context, op Operation) error {
	if err := op.Mutate(ctx); err != nil {
		return fmt.Errorf("%s: mutate: %w", op.Name, err)
	}

	pubErr := op.Publish(ctx)
	if pubErr == nil {
		return nil
	}

	if cerr := op.Compensate(ctx); cerr != nil {
		c.logger.Error("compensation failed, local state diverged from event stream",
			"op", op.Name,
			"publish_err", pubErr,
			"compensate_err", cerr,
		)
		return fmt.Errorf("%s: publish failed and compensation failed: %w", op.Name, errors.Join(pubErr, cerr))
	}

	c.logger.Warn("publish failed, mutation compensated", "op", op.Name, "err", pubErr)
	return fmt.Errorf("%s: publish: %w", op.Name, pubErr)
}
