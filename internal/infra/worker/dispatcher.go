package worker

import (
	"context"

	"longform-pipeline/internal/usecase"
)

var _ usecase.Dispatcher = (*Dispatcher)(nil)

// Dispatcher hands async job runs to the pool.
type Dispatcher struct {
	pool *Pool
}

func NewDispatcher(pool *Pool) *Dispatcher {
	return &Dispatcher{pool: pool}
}

func (d *Dispatcher) Dispatch(_ string, run func(ctx context.Context)) error {
	return d.pool.Submit(func(ctx context.Context) error {
		run(ctx)
		return nil
	})
}
