package sync

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/matheus3301/msgcore/internal/model"
	"github.com/matheus3301/msgcore/internal/store"
	"go.uber.org/zap"
)

// Reconciler manages inbound sync checkpoints.
type Reconciler struct {
	store  *store.Store
	logger *zap.Logger
	now    func() time.Time
}

// NewReconciler creates a new reconciler.
func NewReconciler(s *store.Store, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: s, logger: logger, now: time.Now}
}

// CursorKey is the sync_state key holding the newest server timestamp
// applied for kind.
func CursorKey(kind model.Kind) string {
	return "cursor." + string(kind)
}

// UpdateCheckpoint updates a sync checkpoint value.
func (r *Reconciler) UpdateCheckpoint(ctx context.Context, key, value string) error {
	return r.store.Write(ctx, func(tx *store.Tx) error {
		return store.SetCheckpoint(ctx, tx, key, value, r.now())
	})
}

// GetCheckpoint retrieves a sync checkpoint value.
func (r *Reconciler) GetCheckpoint(ctx context.Context, key string) (string, bool, error) {
	return r.store.Checkpoint(ctx, key)
}

// Cursor returns the newest server timestamp applied for kind, or the zero
// time before the first one.
func (r *Reconciler) Cursor(ctx context.Context, kind model.Kind) (time.Time, error) {
	v, ok, err := r.GetCheckpoint(ctx, CursorKey(kind))
	if err != nil || !ok {
		return time.Time{}, err
	}
	return parseCursor(kind, v)
}

// Advance moves the cursor of kind to ts. Older timestamps are ignored.
func (r *Reconciler) Advance(ctx context.Context, kind model.Kind, ts time.Time) error {
	key := CursorKey(kind)
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		v, ok, err := store.ReadCheckpoint(ctx, tx, key)
		if err != nil {
			return err
		}
		if ok {
			cur, err := parseCursor(kind, v)
			if err != nil {
				return err
			}
			if !ts.After(cur) {
				return nil
			}
		}
		return store.SetCheckpoint(ctx, tx, key, strconv.FormatInt(ts.UnixMilli(), 10), r.now())
	})
	if err != nil {
		return fmt.Errorf("advance %s cursor: %w", kind, err)
	}
	return nil
}

func parseCursor(kind model.Kind, v string) (time.Time, error) {
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s cursor %q", store.ErrInvalidData, kind, v)
	}
	return time.UnixMilli(ms), nil
}
