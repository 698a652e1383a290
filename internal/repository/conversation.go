package repository

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/matheus3301/msgcore/internal/model"
	"github.com/matheus3301/msgcore/internal/observe"
	"github.com/matheus3301/msgcore/internal/store"
	"go.uber.org/zap"
)

// ConversationRepository manages conversations and their participants.
type ConversationRepository struct {
	deps
	syncHooks[model.Conversation]
}

// NewConversationRepository creates a conversation repository.
func NewConversationRepository(s *store.Store, obs *observe.Engine, logger *zap.Logger) *ConversationRepository {
	d := newDeps(s, obs, logger)
	r := &ConversationRepository{deps: d}
	r.syncHooks = syncHooks[model.Conversation]{
		db:       s,
		table:    s.Conversations,
		kind:     KindConversation,
		envelope: func(c *model.Conversation) *model.SyncEnvelope { return &c.SyncEnvelope },
		version:  func(c *model.Conversation) time.Time { return c.UpdatedAt },
		clock:    func() time.Time { return r.now() },
	}
	return r
}

// recentFirst orders conversation lists by last activity.
var recentFirst = []store.Order{store.Desc("COALESCE(last_message_at, created_at)")}

// CreateDirectConversation returns the direct conversation between userID
// and otherUserID, creating it when none exists. Calling it again with the
// same pair, in either order, returns the same conversation unchanged.
func (r *ConversationRepository) CreateDirectConversation(ctx context.Context, userID, otherUserID string, otherInfo model.ParticipantInfo) (*model.Conversation, error) {
	if userID == "" || otherUserID == "" || userID == otherUserID {
		return nil, invalid("direct conversation needs two distinct users")
	}
	key := model.DirectKey(userID, otherUserID)

	var conv *model.Conversation
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		q := store.Where(store.Eq("type", string(model.ConversationDirect)), store.Eq("participant_key", key))
		q.Unique = true
		existing, err := r.store.Conversations.FetchOne(ctx, tx, q)
		if err != nil {
			return err
		}
		if existing != nil {
			conv = existing
			return nil
		}

		ids := []string{userID, otherUserID}
		slices.Sort(ids)
		now := r.now()
		conv = &model.Conversation{
			ID:             r.newID(),
			Type:           model.ConversationDirect,
			ParticipantIDs: ids,
			Participants:   map[string]model.ParticipantInfo{otherUserID: otherInfo},
			CreatedBy:      userID,
			CreatedAt:      now,
			UpdatedAt:      now,
			SyncEnvelope:   model.SyncEnvelope{SyncStatus: model.SyncPending},
		}
		return r.store.Conversations.Insert(ctx, tx, conv)
	})
	if err != nil {
		return nil, fmt.Errorf("create direct conversation: %w", err)
	}
	return conv, nil
}

// CreateGroupConversation always creates a new group. participantIDs must
// name at least one user besides the creator.
func (r *ConversationRepository) CreateGroupConversation(ctx context.Context, creatorID string, participantIDs []string,
	info map[string]model.ParticipantInfo, groupName string, groupImageURL *string) (*model.Conversation, error) {
	if creatorID == "" {
		return nil, invalid("group conversation needs a creator")
	}
	ids := model.UniqueIDs(append([]string{creatorID}, participantIDs...)...)
	if len(ids) < 2 {
		return nil, invalid("group conversation needs at least one participant besides the creator")
	}
	participants := make(map[string]model.ParticipantInfo)
	for _, id := range ids {
		if p, ok := info[id]; ok {
			participants[id] = p
		}
	}

	now := r.now()
	conv := &model.Conversation{
		ID:             r.newID(),
		Type:           model.ConversationGroup,
		ParticipantIDs: ids,
		Participants:   participants,
		GroupName:      groupName,
		GroupImageURL:  groupImageURL,
		CreatedBy:      creatorID,
		CreatedAt:      now,
		UpdatedAt:      now,
		SyncEnvelope:   model.SyncEnvelope{SyncStatus: model.SyncPending},
	}
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		return r.store.Conversations.Insert(ctx, tx, conv)
	})
	if err != nil {
		return nil, fmt.Errorf("create group conversation: %w", err)
	}
	return conv, nil
}

// Get returns the conversation with the given id.
func (r *ConversationRepository) Get(ctx context.Context, id string) (*model.Conversation, error) {
	conv, err := r.store.Conversations.Get(ctx, r.store.Read(), id)
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	if conv == nil {
		return nil, notFound(KindConversation, id)
	}
	return conv, nil
}

// ListForUser returns the conversations userID takes part in, most recently
// active first.
func (r *ConversationRepository) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	return r.listForUser(ctx, r.store.Read(), userID)
}

func (r *ConversationRepository) listForUser(ctx context.Context, db store.Querier, userID string) ([]model.Conversation, error) {
	q := store.Where(store.Contains("participant_ids", userID))
	q.OrderBy = recentFirst
	convs, err := r.store.Conversations.Fetch(ctx, db, q)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return convs, nil
}

// mutate runs a read-modify-write cycle on one conversation. fn reports
// whether it changed anything; unchanged conversations are not rewritten.
func (r *ConversationRepository) mutate(ctx context.Context, op, id string, fn func(c *model.Conversation) (bool, error)) (*model.Conversation, error) {
	var conv *model.Conversation
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		c, err := mustGet(ctx, tx, r.store.Conversations, KindConversation, id)
		if err != nil {
			return err
		}
		conv = c
		changed, err := fn(c)
		if err != nil || !changed {
			return err
		}
		c.UpdatedAt = r.now()
		c.MarkPending()
		return r.store.Conversations.Update(ctx, tx, c)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return conv, nil
}

// UpdateLastMessage replaces the conversation's last-message snapshot.
func (r *ConversationRepository) UpdateLastMessage(ctx context.Context, id string, last model.LastMessage) (*model.Conversation, error) {
	return r.mutate(ctx, "update last message", id, func(c *model.Conversation) (bool, error) {
		c.LastMessage = &last
		return true, nil
	})
}

// UpdateGroupName renames a group conversation.
func (r *ConversationRepository) UpdateGroupName(ctx context.Context, id, name string) (*model.Conversation, error) {
	return r.mutate(ctx, "update group name", id, func(c *model.Conversation) (bool, error) {
		if c.Type != model.ConversationGroup {
			return false, invalid("conversation %q is not a group", id)
		}
		c.GroupName = name
		return true, nil
	})
}

// AddParticipant adds a user to a group. The id list and the participant
// map change together.
func (r *ConversationRepository) AddParticipant(ctx context.Context, id, userID string, info model.ParticipantInfo) (*model.Conversation, error) {
	return r.mutate(ctx, "add participant", id, func(c *model.Conversation) (bool, error) {
		if c.Type != model.ConversationGroup {
			return false, invalid("cannot change participants of direct conversation %q", id)
		}
		if userID == "" {
			return false, invalid("missing participant id")
		}
		return c.AddParticipant(userID, info), nil
	})
}

// RemoveParticipant removes a user from a group.
func (r *ConversationRepository) RemoveParticipant(ctx context.Context, id, userID string) (*model.Conversation, error) {
	return r.mutate(ctx, "remove participant", id, func(c *model.Conversation) (bool, error) {
		if c.Type != model.ConversationGroup {
			return false, invalid("cannot change participants of direct conversation %q", id)
		}
		return c.RemoveParticipant(userID), nil
	})
}

// DeleteConversation deletes a conversation and, through the store's
// cascade, all of its messages. Deleting a missing conversation is a no-op.
func (r *ConversationRepository) DeleteConversation(ctx context.Context, id string) error {
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		return r.store.Conversations.Delete(ctx, tx, id)
	})
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// ObserveConversations streams the conversation list of userID.
func (r *ConversationRepository) ObserveConversations(ctx context.Context, userID string) <-chan []model.Conversation {
	return observe.Watch(ctx, r.obs, "conversations/"+userID, func(ctx context.Context) ([]model.Conversation, error) {
		return r.listForUser(ctx, r.store.Read(), userID)
	})
}

// ObserveConversation streams one conversation; nil while it does not exist.
func (r *ConversationRepository) ObserveConversation(ctx context.Context, id string) <-chan *model.Conversation {
	return observe.Watch(ctx, r.obs, "conversation/"+id, func(ctx context.Context) (*model.Conversation, error) {
		return r.store.Conversations.Get(ctx, r.store.Read(), id)
	})
}

// ApplyRemote stores an authoritative version of a conversation, last writer
// wins by server timestamp. A remote direct conversation that duplicates a
// local, not yet synced one for the same pair adopts the local copy: its
// messages and action items move to the remote id.
func (r *ConversationRepository) ApplyRemote(ctx context.Context, incoming *model.Conversation) (bool, error) {
	var applied bool
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		if err := r.adoptDuplicate(ctx, tx, incoming); err != nil {
			return err
		}
		var err error
		applied, err = applyLWW(ctx, tx, r.store.Conversations, KindConversation, incoming,
			func(c *model.Conversation) *model.SyncEnvelope { return &c.SyncEnvelope }, nil)
		return err
	})
	if err != nil {
		return false, fmt.Errorf("apply remote conversation: %w", err)
	}
	return applied, nil
}

func (r *ConversationRepository) adoptDuplicate(ctx context.Context, tx *store.Tx, incoming *model.Conversation) error {
	key := incoming.Key()
	if key == "" {
		return nil
	}
	q := store.Where(store.Eq("type", string(model.ConversationDirect)), store.Eq("participant_key", key), store.Ne("id", incoming.ID))
	q.Unique = true
	dup, err := r.store.Conversations.FetchOne(ctx, tx, q)
	if err != nil || dup == nil {
		return err
	}
	r.logger.Info("adopting local duplicate of remote direct conversation",
		zap.String("local_id", dup.ID), zap.String("remote_id", incoming.ID))

	msgs, err := r.store.Messages.Fetch(ctx, tx, store.Where(store.Eq("conversation_id", dup.ID)))
	if err != nil {
		return err
	}
	for i := range msgs {
		msgs[i].ConversationID = incoming.ID
		if err := r.store.Messages.Update(ctx, tx, &msgs[i]); err != nil {
			return err
		}
	}
	items, err := r.store.ActionItems.Fetch(ctx, tx, store.Where(store.Eq("conversation_id", dup.ID)))
	if err != nil {
		return err
	}
	for i := range items {
		items[i].ConversationID = incoming.ID
		if err := r.store.ActionItems.Update(ctx, tx, &items[i]); err != nil {
			return err
		}
	}

	existing, err := r.store.Conversations.Get(ctx, tx, incoming.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		// Both copies are local; the duplicate goes, its children stay with incoming.ID.
		return r.store.Conversations.Delete(ctx, tx, dup.ID)
	}
	return r.store.Conversations.Rekey(ctx, tx, dup.ID, incoming.ID)
}
