package core

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// Executor bounds the number of concurrent persistence calls so a burst on one
// room cannot starve the connection pool for every other session.
type Executor struct {
	sem *semaphore.Weighted
}

// NewExecutor creates an executor running at most workers calls at once.
func NewExecutor(workers int64) *Executor {
	if workers < 1 {
		workers = 1
	}
	return &Executor{sem: semaphore.NewWeighted(workers)}
}

// Do runs fn once a worker slot is free. Calls must not nest.
func (e *Executor) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquire worker: %w", err)
	}
	defer e.sem.Release(1)
	return fn(ctx)
}

// Exec is Do for calls returning a value.
func Exec[T any](ctx context.Context, e *Executor, fn func(ctx context.Context) (T, error)) (T, error) {
	var out T
	err := e.Do(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	return out, err
}
