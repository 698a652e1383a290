package repository

import (
	"context"
	"fmt"

	"github.com/matheus3301/msgcore/internal/model"
	"github.com/matheus3301/msgcore/internal/observe"
	"github.com/matheus3301/msgcore/internal/store"
	"go.uber.org/zap"
)

// AIChatRepository keeps the local-only assistant threads. Nothing here is
// ever pushed to the remote side.
type AIChatRepository struct {
	deps
}

// NewAIChatRepository creates an AI chat repository.
func NewAIChatRepository(s *store.Store, obs *observe.Engine, logger *zap.Logger) *AIChatRepository {
	return &AIChatRepository{deps: newDeps(s, obs, logger)}
}

// EnsureConversation returns the thread with the given id, creating it if
// needed. An empty id creates a fresh thread.
func (r *AIChatRepository) EnsureConversation(ctx context.Context, id string) (*model.AIConversation, error) {
	var conv *model.AIConversation
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		var err error
		conv, err = r.ensure(ctx, tx, id)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("ensure ai conversation: %w", err)
	}
	return conv, nil
}

func (r *AIChatRepository) ensure(ctx context.Context, tx *store.Tx, id string) (*model.AIConversation, error) {
	if id != "" {
		conv, err := r.store.AIConversations.Get(ctx, tx, id)
		if err != nil || conv != nil {
			return conv, err
		}
	} else {
		id = r.newID()
	}
	now := r.now()
	conv := &model.AIConversation{ID: id, CreatedAt: now, UpdatedAt: now}
	return conv, r.store.AIConversations.Insert(ctx, tx, conv)
}

// AppendMessage adds the next turn to a thread, creating the thread on
// first use.
func (r *AIChatRepository) AppendMessage(ctx context.Context, conversationID, text string, isFromAI bool) (*model.AIMessage, error) {
	if conversationID == "" {
		return nil, invalid("ai message without conversation")
	}
	var msg *model.AIMessage
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		conv, err := r.ensure(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		seq, err := r.nextSequence(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		now := r.now()
		msg = &model.AIMessage{
			ID:             r.newID(),
			ConversationID: conversationID,
			SequenceNumber: seq,
			Text:           text,
			IsFromAI:       isFromAI,
			Timestamp:      now,
		}
		if err := r.store.AIMessages.Insert(ctx, tx, msg); err != nil {
			return err
		}
		conv.MessageCount++
		conv.UpdatedAt = now
		return r.store.AIConversations.Update(ctx, tx, conv)
	})
	if err != nil {
		return nil, fmt.Errorf("append ai message: %w", err)
	}
	return msg, nil
}

// Messages returns a thread's turns in sequence order.
func (r *AIChatRepository) Messages(ctx context.Context, conversationID string) ([]model.AIMessage, error) {
	q := store.Where(store.Eq("conversation_id", conversationID))
	q.OrderBy = []store.Order{store.Asc("sequence_number")}
	msgs, err := r.store.AIMessages.Fetch(ctx, r.store.Read(), q)
	if err != nil {
		return nil, fmt.Errorf("ai messages: %w", err)
	}
	return msgs, nil
}

// NextSequenceNumber returns the sequence number the next turn of a thread
// gets: one past the last, or 0 for an empty thread.
func (r *AIChatRepository) NextSequenceNumber(ctx context.Context, conversationID string) (int, error) {
	seq, err := r.nextSequence(ctx, r.store.Read(), conversationID)
	if err != nil {
		return 0, fmt.Errorf("next sequence number: %w", err)
	}
	return seq, nil
}

func (r *AIChatRepository) nextSequence(ctx context.Context, db store.Querier, conversationID string) (int, error) {
	q := store.Where(store.Eq("conversation_id", conversationID))
	q.OrderBy = []store.Order{store.Desc("sequence_number")}
	last, err := r.store.AIMessages.FetchOne(ctx, db, q)
	if err != nil {
		return 0, err
	}
	if last == nil {
		return 0, nil
	}
	return last.SequenceNumber + 1, nil
}

// Conversations returns all threads, most recently used first.
func (r *AIChatRepository) Conversations(ctx context.Context) ([]model.AIConversation, error) {
	convs, err := r.store.AIConversations.Fetch(ctx, r.store.Read(), store.Query{
		OrderBy: []store.Order{store.Desc("updated_at")},
	})
	if err != nil {
		return nil, fmt.Errorf("ai conversations: %w", err)
	}
	return convs, nil
}

// ObserveMessages streams a thread's turns.
func (r *AIChatRepository) ObserveMessages(ctx context.Context, conversationID string) <-chan []model.AIMessage {
	return observe.Watch(ctx, r.obs, "ai_messages/"+conversationID, func(ctx context.Context) ([]model.AIMessage, error) {
		return r.Messages(ctx, conversationID)
	})
}

// ClearConversation drops every turn of a thread but keeps the thread.
func (r *AIChatRepository) ClearConversation(ctx context.Context, conversationID string) error {
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		conv, err := mustGet(ctx, tx, r.store.AIConversations, KindAIConversation, conversationID)
		if err != nil {
			return err
		}
		if _, err := r.store.AIMessages.DeleteAll(ctx, tx, store.Where(store.Eq("conversation_id", conversationID))); err != nil {
			return err
		}
		conv.MessageCount = 0
		conv.UpdatedAt = r.now()
		return r.store.AIConversations.Update(ctx, tx, conv)
	})
	if err != nil {
		return fmt.Errorf("clear ai conversation: %w", err)
	}
	return nil
}

// DeleteConversation deletes a thread and its turns. Deleting a missing
// thread is a no-op.
func (r *AIChatRepository) DeleteConversation(ctx context.Context, conversationID string) error {
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		return r.store.AIConversations.Delete(ctx, tx, conversationID)
	})
	if err != nil {
		return fmt.Errorf("delete ai conversation: %w", err)
	}
	return nil
}
