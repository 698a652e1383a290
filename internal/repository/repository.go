// Package repository implements the domain operations on top of the local
// store. Every mutation runs inside store.Write, so read-modify-write cycles
// never interleave with other repository calls.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/matheus3301/msgcore/internal/model"
	"github.com/matheus3301/msgcore/internal/observe"
	"github.com/matheus3301/msgcore/internal/store"
	"go.uber.org/zap"
)

// deps is what every repository is built from.
type deps struct {
	store  *store.Store
	obs    *observe.Engine
	logger *zap.Logger
	now    func() time.Time
	newID  func() string
}

func newDeps(s *store.Store, obs *observe.Engine, logger *zap.Logger) deps {
	if logger == nil {
		logger = zap.NewNop()
	}
	return deps{
		store:  s,
		obs:    obs,
		logger: logger,
		now:    now,
		newID:  uuid.NewString,
	}
}

// now is truncated to the store's millisecond resolution so values handed
// back to callers compare equal to what a later read returns.
func now() time.Time {
	return time.UnixMilli(time.Now().UnixMilli())
}

// mustGet loads an entity inside a write transaction, failing with a
// NotFoundError when it is absent.
func mustGet[T any](ctx context.Context, tx *store.Tx, table *store.Table[T], kind, id string) (*T, error) {
	e, err := table.Get(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if e == nil {
		return nil, notFound(kind, id)
	}
	return e, nil
}

// syncHooks is the RemoteSync bookkeeping of one synced table.
type syncHooks[T any] struct {
	db       *store.Store
	table    *store.Table[T]
	kind     string
	envelope func(*T) *model.SyncEnvelope
	version  func(*T) time.Time
	// pending narrows PendingSync further, e.g. to skip messages parked in
	// the failed state.
	pending []store.Cond
	clock   func() time.Time
}

// PendingSync returns up to limit records waiting for a push. Records never
// attempted come first, then the least recently attempted; ties go to the
// oldest change. A record that just failed moves to the back, so a batch of
// failing records cannot hold the head of the queue. A non-positive limit
// returns all of them.
func (h *syncHooks[T]) PendingSync(ctx context.Context, limit int) ([]T, error) {
	q := store.Where(append([]store.Cond{
		store.In("sync_status", string(model.SyncPending), string(model.SyncFailed)),
	}, h.pending...)...)
	q.OrderBy = []store.Order{store.Asc("COALESCE(last_sync_attempt, 0)"), store.Asc("updated_at")}
	q.Limit = limit
	out, err := h.table.Fetch(ctx, h.db.Read(), q)
	if err != nil {
		return nil, fmt.Errorf("pending %s: %w", h.kind, err)
	}
	return out, nil
}

// MarkSynced records a remote acknowledgment of the version of id whose
// UpdatedAt was version. If the record changed again after that version was
// pushed it keeps its pending status so the newer change is pushed too. A
// zero version acknowledges unconditionally.
func (h *syncHooks[T]) MarkSynced(ctx context.Context, id string, serverTs, version time.Time) error {
	err := h.db.Write(ctx, func(tx *store.Tx) error {
		e, err := mustGet(ctx, tx, h.table, h.kind, id)
		if err != nil {
			return err
		}
		acknowledge(h.envelope(e), serverTs, !version.IsZero() && h.version(e).After(version))
		return h.table.Update(ctx, tx, e)
	})
	if err != nil {
		return fmt.Errorf("mark %s synced: %w", h.kind, err)
	}
	return nil
}

// MarkSyncFailed records a failed push attempt.
func (h *syncHooks[T]) MarkSyncFailed(ctx context.Context, id string) error {
	err := h.db.Write(ctx, func(tx *store.Tx) error {
		e, err := mustGet(ctx, tx, h.table, h.kind, id)
		if err != nil {
			return err
		}
		h.envelope(e).MarkFailed(h.clock())
		return h.table.Update(ctx, tx, e)
	})
	if err != nil {
		return fmt.Errorf("mark %s sync failed: %w", h.kind, err)
	}
	return nil
}

func acknowledge(env *model.SyncEnvelope, serverTs time.Time, superseded bool) {
	env.MarkSynced(serverTs)
	if superseded {
		env.MarkPending()
	}
}

// applyLWW stores an authoritative remote version unless the local copy
// carries a server timestamp at least as new. merge, when set, may carry
// local state over into the incoming version before it replaces the row.
func applyLWW[T any](ctx context.Context, tx *store.Tx, table *store.Table[T], kind string, incoming *T,
	envelope func(*T) *model.SyncEnvelope, merge func(local, incoming *T)) (bool, error) {
	in := envelope(incoming)
	if in.ServerTimestamp == nil {
		return false, fmt.Errorf("%w: remote %s %q without server timestamp", store.ErrInvalidData, kind, table.Key(incoming))
	}
	in.MarkSynced(*in.ServerTimestamp)
	in.LastSyncAttempt = nil

	local, err := table.Get(ctx, tx, table.Key(incoming))
	if err != nil {
		return false, err
	}
	if local == nil {
		return true, table.Insert(ctx, tx, incoming)
	}
	if !in.NewerThan(*envelope(local)) {
		return false, nil
	}
	if merge != nil {
		merge(local, incoming)
	}
	return true, table.Update(ctx, tx, incoming)
}
