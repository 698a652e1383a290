package outbox

import (
	"context"
	"time"

	"github.com/matheus3301/msgcore/internal/model"
)

// record is a pending entity reduced to what the drain loop needs.
type record struct {
	id      string
	localID string
	env     model.SyncEnvelope
	version time.Time
	payload any
}

// queue adapts one repository to the drain loop.
type queue struct {
	kind    model.Kind
	pending func(ctx context.Context, limit int) ([]record, error)
	synced  func(ctx context.Context, rec record, ack Ack) error
	failed  func(ctx context.Context, rec record) error
	// giveUp is set for kinds that can be parked after too many failures.
	giveUp func(ctx context.Context, rec record) error
}

// syncer is the RemoteSync surface every synced repository exposes.
type syncer[T any] interface {
	PendingSync(ctx context.Context, limit int) ([]T, error)
	MarkSynced(ctx context.Context, id string, serverTs, version time.Time) error
	MarkSyncFailed(ctx context.Context, id string) error
}

func newQueue[T any](kind model.Kind, s syncer[T], describe func(*T) record) queue {
	return queue{
		kind: kind,
		pending: func(ctx context.Context, limit int) ([]record, error) {
			es, err := s.PendingSync(ctx, limit)
			if err != nil {
				return nil, err
			}
			recs := make([]record, len(es))
			for i := range es {
				recs[i] = describe(&es[i])
			}
			return recs, nil
		},
		synced: func(ctx context.Context, rec record, ack Ack) error {
			return s.MarkSynced(ctx, rec.id, ack.ServerTimestamp, rec.version)
		},
		failed: func(ctx context.Context, rec record) error {
			return s.MarkSyncFailed(ctx, rec.id)
		},
	}
}

func queuesFor(repos Repositories) []queue {
	var qs []queue
	if repos.Users != nil {
		qs = append(qs, newQueue(model.KindUser, repos.Users, func(u *model.User) record {
			return record{id: u.ID, env: u.SyncEnvelope, version: u.UpdatedAt, payload: *u}
		}))
	}
	if repos.Conversations != nil {
		qs = append(qs, newQueue(model.KindConversation, repos.Conversations, func(c *model.Conversation) record {
			return record{id: c.ID, env: c.SyncEnvelope, version: c.UpdatedAt, payload: *c}
		}))
	}
	if msgs := repos.Messages; msgs != nil {
		q := newQueue(model.KindMessage, msgs, func(m *model.Message) record {
			return record{id: m.ID, localID: m.LocalID, env: m.SyncEnvelope, version: m.UpdatedAt, payload: *m}
		})
		// Messages are acknowledged by local id: the ack may carry the
		// server-assigned id.
		q.synced = func(ctx context.Context, rec record, ack Ack) error {
			_, err := msgs.ConfirmSent(ctx, rec.localID, ack.ServerID, ack.ServerTimestamp, rec.version)
			return err
		}
		q.giveUp = func(ctx context.Context, rec record) error {
			_, err := msgs.MarkSendFailed(ctx, rec.localID)
			return err
		}
		qs = append(qs, q)
	}
	if repos.ActionItems != nil {
		qs = append(qs, newQueue(model.KindActionItem, repos.ActionItems, func(a *model.ActionItem) record {
			return record{id: a.ID, env: a.SyncEnvelope, version: a.UpdatedAt, payload: *a}
		}))
	}
	return qs
}
