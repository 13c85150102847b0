package compensate

import (
	"context"
	"errors"
	"log/slog"
	"testing"
)

func coordinator() *Coordinator {
	return NewCoordinator(slog.New(slog.DiscardHandler))
}

func TestExecute_HappyPath(t *testing.T) {
	var mutated, published, compensated bool
	err := coordinator().Execute(context.Background(), Operation{
		Name:       "identity.register",
		Mutate:     func(context.Context) error { mutated = true; return nil },
		Publish:    func(context.Context) error { published = true; return nil },
		Compensate: func(context.Context) error { compensated = true; return nil },
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !mutated || !published {
		t.Fatal("mutate and publish should both run")
	}
	if compensated {
		t.Fatal("compensation must not run on success")
	}
}

func TestExecute_PublishFailureCompensates(t *testing.T) {
	pubErr := errors.New("broker unreachable")
	var compensated bool
	err := coordinator().Execute(context.Background(), Operation{
		Name:       "identity.register",
		Mutate:     func(context.Context) error { return nil },
		Publish:    func(context.Context) error { return pubErr },
		Compensate: func(context.Context) error { compensated = true; return nil },
	})
	if !compensated {
		t.Fatal("publish failure must trigger compensation")
	}
	if !errors.Is(err, pubErr) {
		t.Fatalf("original publish error must surface, got %v", err)
	}
}

func TestExecute_MutateFailureSkipsPublish(t *testing.T) {
	mutErr := errors.New("unique violation")
	var published, compensated bool
	err := coordinator().Execute(context.Background(), Operation{
		Name:       "identity.register",
		Mutate:     func(context.Context) error { return mutErr },
		Publish:    func(context.Context) error { published = true; return nil },
		Compensate: func(context.Context) error { compensated = true; return nil },
	})
	if !errors.Is(err, mutErr) {
		t.Fatalf("expected mutate error, got %v", err)
	}
	if published || compensated {
		t.Fatal("nothing to publish or compensate when the mutation never happened")
	}
}

func TestExecute_CompensationFailureSurfacesBothErrors(t *testing.T) {
	pubErr := errors.New("broker unreachable")
	compErr := errors.New("delete failed")
	err := coordinator().Execute(context.Background(), Operation{
		Name:       "identity.register",
		Mutate:     func(context.Context) error { return nil },
		Publish:    func(context.Context) error { return pubErr },
		Compensate: func(context.Context) error { return compErr },
	})
	if !errors.Is(err, pubErr) || !errors.Is(err, compErr) {
		t.Fatalf("both errors must be visible to the caller, got %v", err)
	}
}
