package query

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"
)

// Rollback undoes an optimistic change.
type Rollback func()

// Mutation is a remote write bound to a cache. Each Mutate call runs the
// write exactly once, without retry.
type Mutation[V, R any] struct {
	c    *Client
	name string
	fn   func(ctx context.Context, vars V) (R, error)

	onMutate    func(vars V) Rollback
	invalidates func(vars V, result R) []Key

	pending atomic.Int64
}

// NewMutation binds fn to c under name.
func NewMutation[V, R any](c *Client, name string, fn func(ctx context.Context, vars V) (R, error)) *Mutation[V, R] {
	return &Mutation[V, R]{c: c, name: name, fn: fn}
}

// WithOptimistic sets the step that changes cached data before the write
// starts. The returned Rollback runs when the write fails.
func (m *Mutation[V, R]) WithOptimistic(onMutate func(vars V) Rollback) *Mutation[V, R] {
	m.onMutate = onMutate
	return m
}

// WithInvalidates sets the keys to invalidate once the write succeeds. Each
// key is a prefix.
func (m *Mutation[V, R]) WithInvalidates(keys func(vars V, result R) []Key) *Mutation[V, R] {
	m.invalidates = keys
	return m
}

// Name returns the mutation name.
func (m *Mutation[V, R]) Name() string {
	return m.name
}

// IsPending reports whether a Mutate call is in progress.
func (m *Mutation[V, R]) IsPending() bool {
	return m.pending.Load() > 0
}

// Mutate runs the write. On failure the optimistic change is rolled back and
// the error returned unchanged; on success the affected keys are
// invalidated.
func (m *Mutation[V, R]) Mutate(ctx context.Context, vars V) (R, error) {
	m.pending.Add(1)
	defer m.pending.Add(-1)

	var rollback Rollback
	if m.onMutate != nil {
		rollback = m.onMutate(vars)
	}

	result, err := m.fn(ctx, vars)
	if err != nil {
		if rollback != nil {
			rollback()
		}
		outcome := "error"
		if ctx.Err() != nil {
			outcome = "canceled"
		}
		m.c.metrics.mutation(m.name, outcome)
		m.c.logger.Debug("mutation failed", zap.String("mutation", m.name), zap.Bool("rolledBack", rollback != nil), zap.Error(err))
		var zero R
		return zero, err
	}

	if m.invalidates != nil {
		for _, key := range m.invalidates(vars, result) {
			m.c.Invalidate(key)
		}
	}
	m.c.metrics.mutation(m.name, "success")
	return result, nil
}
