package services

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/tbourn/go-shortlink-backend/internal/observability"
	"github.com/tbourn/go-shortlink-backend/internal/retry"
	"github.com/tbourn/go-shortlink-backend/internal/store"
)

var errCASLost = errors.New("sequence compare-and-swap lost")

// SequenceAllocator hands out unique, strictly increasing values from one
// counter row using read + compare-and-swap, retried under Policy.
type SequenceAllocator struct {
	Store  store.SequenceStore
	Name   string
	Policy retry.Policy
}

// NewSequenceAllocator uses the default counter name and retry policy.
func NewSequenceAllocator(s store.SequenceStore) *SequenceAllocator {
	return &SequenceAllocator{Store: s, Name: store.SequenceName, Policy: retry.DefaultPolicy()}
}

// Next returns current+1 once this caller's CAS wins. A lost race and a
// transient store error are both retried; when the policy gives up the error
// matches ErrAllocationExhausted.
func (a *SequenceAllocator) Next(ctx context.Context) (uint64, error) {
	ctx, span := otel.Tracer("services/SequenceAllocator").Start(ctx, "Next",
		trace.WithAttributes(attribute.String("sequence.name", a.Name)),
	)
	defer span.End()

	name := a.Name
	if name == "" {
		name = store.SequenceName
	}
	v, err := retry.Do(ctx, a.Policy, func(ctx context.Context) (uint64, error) {
		cur, err := a.Store.ReadSequence(ctx, name)
		if err != nil {
			return 0, err
		}
		if cur == ^uint64(0) {
			return 0, retry.Permanent(errors.New("sequence overflow"))
		}
		ok, err := a.Store.CompareAndSwapSequence(ctx, name, cur, cur+1)
		if err != nil {
			return 0, err
		}
		if !ok {
			return 0, errCASLost
		}
		return cur + 1, nil
	})
	if errors.Is(err, retry.ErrExhausted) {
		observability.AllocationsExhausted.Inc()
		return 0, fmt.Errorf("%w: %w", ErrAllocationExhausted, err)
	}
	if err != nil {
		return 0, err
	}
	span.SetAttributes(attribute.Int64("sequence.value", int64(v)))
	return v, nil
}
