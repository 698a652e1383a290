// Package observe turns the store's change broadcasts into live query
// streams. Invalidation is coarse: every committed write re-runs every live
// query.
package observe

import (
	"context"
	"sync/atomic"

	"github.com/matheus3301/msgcore/internal/bus"
	"github.com/matheus3301/msgcore/internal/store"
	"go.uber.org/zap"
)

// Engine owns the lifecycle of live queries.
type Engine struct {
	bus    *bus.Bus
	logger *zap.Logger
	active atomic.Int64
}

// New creates an observation engine listening on b.
func New(b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{bus: b, logger: logger}
}

// Active returns the number of live observers.
func (e *Engine) Active() int {
	return int(e.active.Load())
}

// Query produces one snapshot of a live query.
type Query[S any] func(ctx context.Context) (S, error)

// Watch starts a live query. The returned channel yields the current
// snapshot, then a fresh snapshot after every change signal. Signals that
// arrive while a snapshot is being computed or delivered collapse into one
// re-query, which still observes every write they announced. A failing
// query yields the zero snapshot and the stream keeps going.
//
// The channel is closed once ctx is done; the subscription goes with it.
func Watch[S any](ctx context.Context, e *Engine, name string, query Query[S]) <-chan S {
	// Subscribe before the first query so no write can slip between them.
	signals, unsub := e.bus.Subscribe(store.ChangedEvent, 1)
	out := make(chan S)
	e.active.Add(1)
	logger := e.logger.With(zap.String("observer", name))

	go func() {
		defer func() {
			unsub()
			e.active.Add(-1)
			close(out)
		}()

		for {
			snap, err := query(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger.Warn("live query failed, emitting empty snapshot", zap.Error(err))
				var zero S
				snap = zero
			}

			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}

			select {
			case <-signals:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
