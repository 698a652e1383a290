package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/matheus3301/msgcore/internal/model"
	"github.com/matheus3301/msgcore/internal/observe"
	"github.com/matheus3301/msgcore/internal/store"
	"go.uber.org/zap"
)

// actionItemOrder is the one ordering of every action item read path:
// incomplete before complete; incomplete items with a deadline first, by
// deadline; the rest most recently extracted first; id breaks ties.
var actionItemOrder = []store.Order{
	store.Asc("is_complete"),
	store.Asc("CASE WHEN is_complete = 0 AND deadline IS NOT NULL THEN 0 ELSE 1 END"),
	store.Asc("CASE WHEN is_complete = 0 THEN deadline END"),
	store.Desc("extracted_at"),
	store.Asc("id"),
}

// ActionItemRepository manages tasks extracted from conversations.
type ActionItemRepository struct {
	deps
	syncHooks[model.ActionItem]
}

// NewActionItemRepository creates an action item repository.
func NewActionItemRepository(s *store.Store, obs *observe.Engine, logger *zap.Logger) *ActionItemRepository {
	r := &ActionItemRepository{deps: newDeps(s, obs, logger)}
	r.syncHooks = syncHooks[model.ActionItem]{
		db:       s,
		table:    s.ActionItems,
		kind:     KindActionItem,
		envelope: func(a *model.ActionItem) *model.SyncEnvelope { return &a.SyncEnvelope },
		version:  func(a *model.ActionItem) time.Time { return a.UpdatedAt },
		clock:    func() time.Time { return r.now() },
	}
	return r
}

// prepare fills the defaults of a new item.
func (r *ActionItemRepository) prepare(item *model.ActionItem, now time.Time) {
	if item.ID == "" {
		item.ID = r.newID()
	}
	if item.ExtractedAt.IsZero() {
		item.ExtractedAt = now
	}
	if item.Priority == "" {
		item.Priority = model.PriorityMedium
	}
	if item.IsComplete && item.CompletedAt == nil {
		item.CompletedAt = &now
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	item.MarkPending()
}

// Save inserts item, or replaces the stored item with the same id. The
// immutable fields and the sync envelope of a stored item are kept.
func (r *ActionItemRepository) Save(ctx context.Context, item *model.ActionItem) error {
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		now := r.now()
		if item.ID != "" {
			existing, err := r.store.ActionItems.Get(ctx, tx, item.ID)
			if err != nil {
				return err
			}
			if existing != nil {
				item.ConversationID = existing.ConversationID
				item.MessageID = existing.MessageID
				item.ExtractedAt = existing.ExtractedAt
				item.CreatedAt = existing.CreatedAt
				item.SyncEnvelope = existing.SyncEnvelope
				r.prepare(item, now)
				return r.store.ActionItems.Update(ctx, tx, item)
			}
		}
		r.prepare(item, now)
		return r.store.ActionItems.Insert(ctx, tx, item)
	})
	if err != nil {
		return fmt.Errorf("save action item: %w", err)
	}
	return nil
}

// SaveExtracted inserts the items extracted from one pass. Either all of
// them are stored or none is.
func (r *ActionItemRepository) SaveExtracted(ctx context.Context, items []*model.ActionItem) error {
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		now := r.now()
		for _, item := range items {
			r.prepare(item, now)
		}
		return r.store.ActionItems.InsertBatch(ctx, tx, items)
	})
	if err != nil {
		return fmt.Errorf("save extracted action items: %w", err)
	}
	return nil
}

// Get returns one action item.
func (r *ActionItemRepository) Get(ctx context.Context, id string) (*model.ActionItem, error) {
	item, err := r.store.ActionItems.Get(ctx, r.store.Read(), id)
	if err != nil {
		return nil, fmt.Errorf("get action item: %w", err)
	}
	if item == nil {
		return nil, notFound(KindActionItem, id)
	}
	return item, nil
}

// Fetch returns the items of one conversation.
func (r *ActionItemRepository) Fetch(ctx context.Context, conversationID string) ([]model.ActionItem, error) {
	return r.fetch(ctx, store.Where(store.Eq("conversation_id", conversationID)))
}

// FetchAll returns every item.
func (r *ActionItemRepository) FetchAll(ctx context.Context) ([]model.ActionItem, error) {
	return r.fetch(ctx, store.Query{})
}

func (r *ActionItemRepository) fetch(ctx context.Context, q store.Query) ([]model.ActionItem, error) {
	q.OrderBy = actionItemOrder
	items, err := r.store.ActionItems.Fetch(ctx, r.store.Read(), q)
	if err != nil {
		return nil, fmt.Errorf("fetch action items: %w", err)
	}
	return items, nil
}

// Observe streams the items of one conversation, or of all conversations
// when conversationID is empty.
func (r *ActionItemRepository) Observe(ctx context.Context, conversationID string) <-chan []model.ActionItem {
	return observe.Watch(ctx, r.obs, "action_items/"+conversationID, func(ctx context.Context) ([]model.ActionItem, error) {
		if conversationID == "" {
			return r.FetchAll(ctx)
		}
		return r.Fetch(ctx, conversationID)
	})
}

// UpdateCompletion marks an item complete or incomplete.
func (r *ActionItemRepository) UpdateCompletion(ctx context.Context, id string, isComplete bool) (*model.ActionItem, error) {
	var item *model.ActionItem
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		a, err := mustGet(ctx, tx, r.store.ActionItems, KindActionItem, id)
		if err != nil {
			return err
		}
		now := r.now()
		setCompletion(a, isComplete, now)
		a.UpdatedAt = now
		a.MarkPending()
		item = a
		return r.store.ActionItems.Update(ctx, tx, a)
	})
	if err != nil {
		return nil, fmt.Errorf("update action item completion: %w", err)
	}
	return item, nil
}

// Update replaces the mutable fields of an item: task, assignee,
// completion, deadline and priority. The id, conversation, source message
// and extraction time never change.
func (r *ActionItemRepository) Update(ctx context.Context, item *model.ActionItem) (*model.ActionItem, error) {
	var updated *model.ActionItem
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		a, err := mustGet(ctx, tx, r.store.ActionItems, KindActionItem, item.ID)
		if err != nil {
			return err
		}
		if item.Priority != "" {
			if _, err := model.ParsePriority(string(item.Priority)); err != nil {
				return invalid("%v", err)
			}
			a.Priority = item.Priority
		}
		now := r.now()
		a.Task = item.Task
		a.Assignee = item.Assignee
		a.Deadline = item.Deadline
		setCompletion(a, item.IsComplete, now)
		a.UpdatedAt = now
		a.MarkPending()
		updated = a
		return r.store.ActionItems.Update(ctx, tx, a)
	})
	if err != nil {
		return nil, fmt.Errorf("update action item: %w", err)
	}
	return updated, nil
}

func setCompletion(a *model.ActionItem, isComplete bool, now time.Time) {
	switch {
	case isComplete && !a.IsComplete:
		a.CompletedAt = &now
	case !isComplete:
		a.CompletedAt = nil
	}
	a.IsComplete = isComplete
}

// Delete removes one item. Deleting a missing item is a no-op.
func (r *ActionItemRepository) Delete(ctx context.Context, id string) error {
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		return r.store.ActionItems.Delete(ctx, tx, id)
	})
	if err != nil {
		return fmt.Errorf("delete action item: %w", err)
	}
	return nil
}

// DeleteAll removes every item of a conversation and returns how many went.
func (r *ActionItemRepository) DeleteAll(ctx context.Context, conversationID string) (int64, error) {
	var n int64
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		var err error
		n, err = r.store.ActionItems.DeleteAll(ctx, tx, store.Where(store.Eq("conversation_id", conversationID)))
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("delete action items: %w", err)
	}
	return n, nil
}

// ApplyRemote stores an authoritative version of an action item, last
// writer wins by server timestamp.
func (r *ActionItemRepository) ApplyRemote(ctx context.Context, incoming *model.ActionItem) (bool, error) {
	var applied bool
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		var err error
		applied, err = applyLWW(ctx, tx, r.store.ActionItems, KindActionItem, incoming,
			func(a *model.ActionItem) *model.SyncEnvelope { return &a.SyncEnvelope }, nil)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("apply remote action item: %w", err)
	}
	return applied, nil
}
