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

// MessageRepository manages messages and their delivery state.
type MessageRepository struct {
	deps
	syncHooks[model.Message]
}

// NewMessageRepository creates a message repository.
func NewMessageRepository(s *store.Store, obs *observe.Engine, logger *zap.Logger) *MessageRepository {
	r := &MessageRepository{deps: newDeps(s, obs, logger)}
	r.syncHooks = syncHooks[model.Message]{
		db:       s,
		table:    s.Messages,
		kind:     KindMessage,
		envelope: func(m *model.Message) *model.SyncEnvelope { return &m.SyncEnvelope },
		version:  func(m *model.Message) time.Time { return m.UpdatedAt },
		// Messages that gave up sending wait for RetryMessage.
		pending: []store.Cond{store.Ne("status", string(model.StatusFailed))},
		clock:   func() time.Time { return r.now() },
	}
	return r
}

// newestFirst is the fetch order for "last N" queries; rowid keeps messages
// with equal timestamps in insertion order.
var newestFirst = []store.Order{store.Desc("timestamp"), store.Desc("rowid")}

// SendMessage stores an optimistic outgoing message. The client-generated
// id doubles as LocalID until RemoteSync assigns the server id. The
// conversation's last-message snapshot is updated in the same save when the
// conversation is known locally.
func (r *MessageRepository) SendMessage(ctx context.Context, conversationID, text, senderID, senderName string) (*model.Message, error) {
	if conversationID == "" || senderID == "" {
		return nil, invalid("message needs a conversation and a sender")
	}
	id := r.newID()
	now := r.now()
	msg := &model.Message{
		ID:             id,
		LocalID:        id,
		ConversationID: conversationID,
		SenderID:       senderID,
		SenderName:     senderName,
		Text:           text,
		Timestamp:      now,
		Status:         model.StatusSending,
		CreatedAt:      now,
		UpdatedAt:      now,
		SyncEnvelope:   model.SyncEnvelope{SyncStatus: model.SyncPending},
	}
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		if err := r.store.Messages.Insert(ctx, tx, msg); err != nil {
			return err
		}
		conv, err := r.store.Conversations.Get(ctx, tx, conversationID)
		if err != nil || conv == nil {
			return err
		}
		preview := msg.Preview()
		conv.LastMessage = &preview
		conv.UpdatedAt = now
		conv.MarkPending()
		return r.store.Conversations.Update(ctx, tx, conv)
	})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}
	return msg, nil
}

// Get returns the message whose id or local id is id.
func (r *MessageRepository) Get(ctx context.Context, id string) (*model.Message, error) {
	msg, err := r.byAnyID(ctx, r.store.Read(), id)
	if err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	if msg == nil {
		return nil, notFound(KindMessage, id)
	}
	return msg, nil
}

func (r *MessageRepository) byAnyID(ctx context.Context, db store.Querier, id string) (*model.Message, error) {
	// An exact id match wins over a local id match.
	msg, err := r.store.Messages.Get(ctx, db, id)
	if err != nil || msg != nil {
		return msg, err
	}
	q := store.Where(store.Eq("local_id", id))
	q.Unique = true
	return r.store.Messages.FetchOne(ctx, db, q)
}

// GetMessages returns the latest limit messages of a conversation in
// chronological order. A non-positive limit returns the whole history.
func (r *MessageRepository) GetMessages(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	return r.page(ctx, r.store.Read(), store.Where(store.Eq("conversation_id", conversationID)), limit)
}

// GetMessagesBefore pages backwards: it returns the latest limit messages
// strictly older than before, in chronological order.
func (r *MessageRepository) GetMessagesBefore(ctx context.Context, conversationID string, before time.Time, limit int) ([]model.Message, error) {
	return r.page(ctx, r.store.Read(), store.Where(
		store.Eq("conversation_id", conversationID),
		store.Lt("timestamp", store.Millis(before)),
	), limit)
}

// page fetches newest-first so the limit keeps the most recent rows, then
// flips the result into chronological order.
func (r *MessageRepository) page(ctx context.Context, db store.Querier, q store.Query, limit int) ([]model.Message, error) {
	q.OrderBy = newestFirst
	q.Limit = limit
	msgs, err := r.store.Messages.Fetch(ctx, db, q)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	slices.Reverse(msgs)
	return msgs, nil
}

// MarkMessagesAsRead records that userID read the given messages of a
// conversation. ids may be server ids or local ids. Messages from others
// move to read whatever their current status; the whole batch is saved at
// once.
func (r *MessageRepository) MarkMessagesAsRead(ctx context.Context, ids []string, conversationID, userID string) error {
	err := r.markEach(ctx, ids, conversationID, func(m *model.Message) bool {
		changed := m.AddReader(userID)
		if m.SenderID != userID && m.Status != model.StatusRead {
			m.Status = model.StatusRead
			changed = true
		}
		return changed
	})
	if err != nil {
		return fmt.Errorf("mark messages read: %w", err)
	}
	return nil
}

// MarkMessagesAsDelivered records that the given messages reached userID.
// A message never moves back from read to delivered.
func (r *MessageRepository) MarkMessagesAsDelivered(ctx context.Context, ids []string, conversationID, userID string) error {
	err := r.markEach(ctx, ids, conversationID, func(m *model.Message) bool {
		changed := m.AddRecipient(userID)
		if m.SenderID != userID && m.Advance(model.StatusDelivered) {
			changed = true
		}
		return changed
	})
	if err != nil {
		return fmt.Errorf("mark messages delivered: %w", err)
	}
	return nil
}

func (r *MessageRepository) markEach(ctx context.Context, ids []string, conversationID string, fn func(m *model.Message) bool) error {
	if len(ids) == 0 {
		return nil
	}
	return r.store.Write(ctx, func(tx *store.Tx) error {
		msgs, err := r.store.Messages.Fetch(ctx, tx, store.Where(
			store.Eq("conversation_id", conversationID),
			store.Or(store.In("id", ids...), store.In("local_id", ids...)),
		))
		if err != nil {
			return err
		}
		now := r.now()
		for i := range msgs {
			m := &msgs[i]
			if !fn(m) {
				continue
			}
			m.UpdatedAt = now
			m.MarkPending()
			if err := r.store.Messages.Update(ctx, tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetUnreadCount counts the messages of a conversation sent by others that
// userID has not read.
func (r *MessageRepository) GetUnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	n, err := r.store.Messages.Count(ctx, r.store.Read(), store.Where(
		store.Eq("conversation_id", conversationID),
		store.Ne("sender_id", userID),
		store.NotContains("read_by", userID),
	))
	if err != nil {
		return 0, fmt.Errorf("unread count: %w", err)
	}
	return n, nil
}

// ObserveMessages streams the latest limit messages of a conversation in
// chronological order.
func (r *MessageRepository) ObserveMessages(ctx context.Context, conversationID string, limit int) <-chan []model.Message {
	return observe.Watch(ctx, r.obs, "messages/"+conversationID, func(ctx context.Context) ([]model.Message, error) {
		return r.GetMessages(ctx, conversationID, limit)
	})
}

// RetryMessage puts a failed message back in the send queue. The retry
// counter starts over because the user asked for a fresh attempt.
func (r *MessageRepository) RetryMessage(ctx context.Context, localID string) (*model.Message, error) {
	var msg *model.Message
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		m, err := r.byLocalID(ctx, tx, localID)
		if err != nil {
			return err
		}
		if m.Status != model.StatusFailed && m.SyncStatus != model.SyncFailed {
			return invalid("message %q has not failed", localID)
		}
		if m.Status == model.StatusFailed {
			m.Advance(model.StatusSending)
		}
		m.SyncEnvelope = model.SyncEnvelope{SyncStatus: model.SyncPending, ServerTimestamp: m.ServerTimestamp}
		m.UpdatedAt = r.now()
		msg = m
		return r.store.Messages.Update(ctx, tx, m)
	})
	if err != nil {
		return nil, fmt.Errorf("retry message: %w", err)
	}
	return msg, nil
}

// ConfirmSent applies a remote acknowledgment of the message pushed with
// UpdatedAt == version: the id becomes serverID, LocalID stays, and the
// status moves to at least sent. A copy of the message that already arrived
// under serverID is merged in and dropped.
func (r *MessageRepository) ConfirmSent(ctx context.Context, localID, serverID string, serverTs, version time.Time) (*model.Message, error) {
	var msg *model.Message
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		m, err := r.byLocalID(ctx, tx, localID)
		if err != nil {
			return err
		}
		if serverID != "" && serverID != m.ID {
			echo, err := r.store.Messages.Get(ctx, tx, serverID)
			if err != nil {
				return err
			}
			if echo != nil {
				mergeDelivery(m, echo)
				if err := r.store.Messages.Delete(ctx, tx, serverID); err != nil {
					return err
				}
			}
			if err := r.store.Messages.Rekey(ctx, tx, m.ID, serverID); err != nil {
				return err
			}
			m.ID = serverID
		}
		m.Status = model.Furthest(m.Status, model.StatusSent)
		acknowledge(&m.SyncEnvelope, serverTs, !version.IsZero() && m.UpdatedAt.After(version))
		msg = m
		return r.store.Messages.Update(ctx, tx, m)
	})
	if err != nil {
		return nil, fmt.Errorf("confirm sent: %w", err)
	}
	return msg, nil
}

// MarkSendFailed parks a message that RemoteSync gave up on. It stays
// failed until RetryMessage.
func (r *MessageRepository) MarkSendFailed(ctx context.Context, localID string) (*model.Message, error) {
	var msg *model.Message
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		m, err := r.byLocalID(ctx, tx, localID)
		if err != nil {
			return err
		}
		m.Advance(model.StatusFailed)
		m.SyncStatus = model.SyncFailed
		m.UpdatedAt = r.now()
		msg = m
		return r.store.Messages.Update(ctx, tx, m)
	})
	if err != nil {
		return nil, fmt.Errorf("mark send failed: %w", err)
	}
	return msg, nil
}

func (r *MessageRepository) byLocalID(ctx context.Context, tx *store.Tx, localID string) (*model.Message, error) {
	q := store.Where(store.Eq("local_id", localID))
	q.Unique = true
	m, err := r.store.Messages.FetchOne(ctx, tx, q)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, notFound(KindMessage, localID)
	}
	return m, nil
}

// ApplyRemote stores an authoritative version of a message. The local copy
// is found by id or by local id (the echo of our own send). When both exist
// as separate rows, the row stored under the server id is folded into the
// local-id row and dropped. Read and delivery sets are unioned and the
// status never regresses, whichever side is newer; the other fields follow
// the newer server timestamp.
func (r *MessageRepository) ApplyRemote(ctx context.Context, incoming *model.Message) (bool, error) {
	if incoming.ServerTimestamp == nil {
		return false, invalid("remote message %q without server timestamp", incoming.ID)
	}
	if incoming.LocalID == "" {
		incoming.LocalID = incoming.ID
	}
	var applied bool
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		local, err := r.remoteTarget(ctx, tx, incoming)
		if err != nil {
			return err
		}
		if local == nil {
			incoming.MarkSynced(*incoming.ServerTimestamp)
			incoming.LastSyncAttempt = nil
			applied = true
			return r.store.Messages.Insert(ctx, tx, incoming)
		}

		merged := *local
		if incoming.NewerThan(local.SyncEnvelope) {
			merged = *incoming
			merged.LocalID = local.LocalID
			merged.CreatedAt = local.CreatedAt
			merged.ReadBy = slices.Clone(local.ReadBy)
			merged.DeliveredTo = slices.Clone(local.DeliveredTo)
			merged.Status = local.Status
			merged.SyncEnvelope = local.SyncEnvelope
			merged.ServerTimestamp = incoming.ServerTimestamp
		}
		mergeDelivery(&merged, incoming)
		ahead := localAhead(local, incoming)
		if !ahead {
			merged.MarkSynced(*merged.ServerTimestamp)
		}

		if local.ID != incoming.ID {
			if err := r.store.Messages.Rekey(ctx, tx, local.ID, incoming.ID); err != nil {
				return err
			}
			merged.ID = incoming.ID
		}
		if messagesEqual(local, &merged) {
			return nil
		}
		applied = true
		return r.store.Messages.Update(ctx, tx, &merged)
	})
	if err != nil {
		return false, fmt.Errorf("apply remote message: %w", err)
	}
	return applied, nil
}

// remoteTarget returns the local row an incoming version applies to. A
// separate row already stored under the incoming id is merged into the
// local-id row and deleted, so the later rekey cannot collide.
func (r *MessageRepository) remoteTarget(ctx context.Context, tx *store.Tx, incoming *model.Message) (*model.Message, error) {
	byID, err := r.store.Messages.Get(ctx, tx, incoming.ID)
	if err != nil {
		return nil, err
	}
	q := store.Where(store.Eq("local_id", incoming.LocalID))
	q.Unique = true
	byLocal, err := r.store.Messages.FetchOne(ctx, tx, q)
	if err != nil {
		return nil, err
	}
	switch {
	case byLocal == nil:
		return byID, nil
	case byID == nil || byID.ID == byLocal.ID:
		return byLocal, nil
	}
	mergeDelivery(byLocal, byID)
	if err := r.store.Messages.Delete(ctx, tx, byID.ID); err != nil {
		return nil, err
	}
	return byLocal, nil
}

// mergeDelivery folds other's delivery state into m. Sets only grow.
func mergeDelivery(m, other *model.Message) {
	for _, id := range other.ReadBy {
		m.AddReader(id)
	}
	for _, id := range other.DeliveredTo {
		m.AddRecipient(id)
	}
	m.Status = model.Furthest(m.Status, other.Status)
}

// localAhead reports whether the local copy holds delivery state the remote
// version lacks, so it still has to be pushed.
func localAhead(local, remote *model.Message) bool {
	for _, id := range local.ReadBy {
		if !slices.Contains(remote.ReadBy, id) {
			return true
		}
	}
	for _, id := range local.DeliveredTo {
		if !slices.Contains(remote.DeliveredTo, id) {
			return true
		}
	}
	return local.Status.Rank() > remote.Status.Rank()
}

func messagesEqual(a, b *model.Message) bool {
	return a.ID == b.ID && a.Text == b.Text && a.SenderName == b.SenderName &&
		a.Timestamp.Equal(b.Timestamp) && a.Status == b.Status &&
		slices.Equal(a.ReadBy, b.ReadBy) && slices.Equal(a.DeliveredTo, b.DeliveredTo) &&
		a.SyncStatus == b.SyncStatus && a.SyncRetryCount == b.SyncRetryCount &&
		timeEqual(a.ServerTimestamp, b.ServerTimestamp)
}

func timeEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}
