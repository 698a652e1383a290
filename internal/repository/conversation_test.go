package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/msgcore/internal/model"
	"github.com/matheus3301/msgcore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateDirectConversationIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.convs.CreateDirectConversation(ctx, "u1", "u2", model.ParticipantInfo{DisplayName: "Bo"})
	require.NoError(t, err)
	assert.Equal(t, model.SyncPending, first.SyncStatus)
	assert.Equal(t, []string{"u1", "u2"}, first.ParticipantIDs)

	again, err := f.convs.CreateDirectConversation(ctx, "u1", "u2", model.ParticipantInfo{DisplayName: "Bo"})
	require.NoError(t, err)
	reversed, err := f.convs.CreateDirectConversation(ctx, "u2", "u1", model.ParticipantInfo{DisplayName: "Ana"})
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, first.ID, reversed.ID)
	assert.Equal(t, first.Participants, reversed.Participants, "existing conversation is returned unchanged")

	n, err := f.store.Conversations.Count(ctx, f.store.Read(), store.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreateDirectConversationConcurrent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	const callers = 8
	ids := make([]string, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			a, b := "u1", "u2"
			if i%2 == 1 {
				a, b = b, a
			}
			conv, err := f.convs.CreateDirectConversation(ctx, a, b, model.ParticipantInfo{})
			if assert.NoError(t, err) {
				ids[i] = conv.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	n, err := f.store.Conversations.Count(ctx, f.store.Read(), store.Query{})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCreateDirectConversationRejectsSelf(t *testing.T) {
	f := newFixture(t)
	_, err := f.convs.CreateDirectConversation(context.Background(), "u1", "u1", model.ParticipantInfo{})
	assert.ErrorIs(t, err, store.ErrInvalidData)
}

func TestCreateGroupConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.convs.CreateGroupConversation(ctx, "u1", []string{"u1"}, nil, "solo", nil)
	assert.ErrorIs(t, err, store.ErrInvalidData, "a group needs someone besides the creator")

	info := map[string]model.ParticipantInfo{"u2": {DisplayName: "Bo"}, "u9": {DisplayName: "stranger"}}
	g1, err := f.convs.CreateGroupConversation(ctx, "u1", []string{"u2", "u2", "u3"}, info, "team", ptr("https://img/team.png"))
	require.NoError(t, err)
	g2, err := f.convs.CreateGroupConversation(ctx, "u1", []string{"u2", "u3"}, info, "team", nil)
	require.NoError(t, err)

	assert.NotEqual(t, g1.ID, g2.ID, "groups are never deduplicated")
	assert.Equal(t, []string{"u1", "u2", "u3"}, g1.ParticipantIDs)
	assert.Equal(t, map[string]model.ParticipantInfo{"u2": {DisplayName: "Bo"}}, g1.Participants)
	assert.Equal(t, "u1", g1.CreatedBy)

	got, err := f.convs.Get(ctx, g1.ID)
	require.NoError(t, err)
	assert.Equal(t, g1, got)
}

func TestParticipantsChangeTogether(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	g, err := f.convs.CreateGroupConversation(ctx, "u1", []string{"u2"}, nil, "team", nil)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	g, err = f.convs.AddParticipant(ctx, g.ID, "u3", model.ParticipantInfo{DisplayName: "Cy"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2", "u3"}, g.ParticipantIDs)
	assert.Equal(t, "Cy", g.Participants["u3"].DisplayName)
	assert.Equal(t, f.clock.Now(), g.UpdatedAt)

	g, err = f.convs.RemoveParticipant(ctx, g.ID, "u3")
	require.NoError(t, err)

	stored, err := f.convs.Get(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"u1", "u2"}, stored.ParticipantIDs)
	assert.NotContains(t, stored.Participants, "u3")
	assert.Equal(t, model.SyncPending, stored.SyncStatus)
}

func TestDirectConversationParticipantsAreFixed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.convs.CreateDirectConversation(ctx, "u1", "u2", model.ParticipantInfo{})
	require.NoError(t, err)

	_, err = f.convs.AddParticipant(ctx, c.ID, "u3", model.ParticipantInfo{})
	assert.ErrorIs(t, err, store.ErrInvalidData)
	_, err = f.convs.RemoveParticipant(ctx, c.ID, "u2")
	assert.ErrorIs(t, err, store.ErrInvalidData)
	_, err = f.convs.UpdateGroupName(ctx, c.ID, "nope")
	assert.ErrorIs(t, err, store.ErrInvalidData)
}

func TestMutatingMissingConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	ops := map[string]func() error{
		"last message": func() error {
			_, err := f.convs.UpdateLastMessage(ctx, "missing", model.LastMessage{Text: "hi"})
			return err
		},
		"group name": func() error { _, err := f.convs.UpdateGroupName(ctx, "missing", "x"); return err },
		"add": func() error {
			_, err := f.convs.AddParticipant(ctx, "missing", "u1", model.ParticipantInfo{})
			return err
		},
		"remove": func() error { _, err := f.convs.RemoveParticipant(ctx, "missing", "u1"); return err },
		"get":    func() error { _, err := f.convs.Get(ctx, "missing"); return err },
	}
	for name, op := range ops {
		t.Run(name, func(t *testing.T) {
			err := op()
			assert.ErrorIs(t, err, store.ErrEntityNotFound)
			var nf *NotFoundError
			require.True(t, errors.As(err, &nf))
			assert.Equal(t, KindConversation, nf.Kind)
			assert.Equal(t, "missing", nf.ID)
		})
	}
}

func TestDeleteConversationCascadesToMessages(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c, err := f.convs.CreateDirectConversation(ctx, "u1", "u2", model.ParticipantInfo{})
	require.NoError(t, err)
	other, err := f.convs.CreateDirectConversation(ctx, "u1", "u3", model.ParticipantInfo{})
	require.NoError(t, err)
	_, err = f.msgs.SendMessage(ctx, c.ID, "hi", "u1", "Ana")
	require.NoError(t, err)
	kept, err := f.msgs.SendMessage(ctx, other.ID, "yo", "u1", "Ana")
	require.NoError(t, err)

	require.NoError(t, f.convs.DeleteConversation(ctx, c.ID))
	require.NoError(t, f.convs.DeleteConversation(ctx, c.ID), "delete is idempotent")

	msgs, err := f.store.Messages.Fetch(ctx, f.store.Read(), store.Query{})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, kept.ID, msgs[0].ID)
}

func TestListForUserMostRecentFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	older, err := f.convs.CreateDirectConversation(ctx, "u1", "u2", model.ParticipantInfo{})
	require.NoError(t, err)
	f.clock.Advance(time.Minute)
	newer, err := f.convs.CreateDirectConversation(ctx, "u1", "u3", model.ParticipantInfo{})
	require.NoError(t, err)
	_, err = f.convs.CreateDirectConversation(ctx, "u2", "u3", model.ParticipantInfo{})
	require.NoError(t, err)

	list, err := f.convs.ListForUser(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, newer.ID, list[0].ID)

	f.clock.Advance(time.Minute)
	_, err = f.convs.UpdateLastMessage(ctx, older.ID, model.LastMessage{Text: "ping", SenderID: "u2", Timestamp: f.clock.Now()})
	require.NoError(t, err)

	list, err = f.convs.ListForUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, older.ID, list[0].ID)
	assert.Equal(t, "ping", list[0].LastMessage.Text)
}

func TestObserveConversations(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	list := f.convs.ObserveConversations(ctx, "u1")
	assert.Empty(t, next(t, list))

	c, err := f.convs.CreateDirectConversation(ctx, "u1", "u2", model.ParticipantInfo{})
	require.NoError(t, err)
	got := next(t, list)
	require.Len(t, got, 1)
	assert.Equal(t, c.ID, got[0].ID)

	one := f.convs.ObserveConversation(ctx, c.ID)
	assert.Equal(t, c.ID, next(t, one).ID)
	require.NoError(t, f.convs.DeleteConversation(ctx, c.ID))
	assert.Nil(t, next(t, one))
}

func TestApplyRemoteAdoptsLocalDirectDuplicate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	local, err := f.convs.CreateDirectConversation(ctx, "u1", "u2", model.ParticipantInfo{})
	require.NoError(t, err)
	msg, err := f.msgs.SendMessage(ctx, local.ID, "offline hello", "u1", "Ana")
	require.NoError(t, err)

	serverTs := f.clock.Advance(time.Second)
	remote := &model.Conversation{
		ID: "srv-conv", Type: model.ConversationDirect, ParticipantIDs: []string{"u2", "u1"},
		CreatedBy: "u2", CreatedAt: serverTs, UpdatedAt: serverTs,
		SyncEnvelope: model.SyncEnvelope{ServerTimestamp: &serverTs},
	}
	applied, err := f.convs.ApplyRemote(ctx, remote)
	require.NoError(t, err)
	assert.True(t, applied)

	_, err = f.convs.Get(ctx, local.ID)
	assert.ErrorIs(t, err, store.ErrEntityNotFound)
	got, err := f.convs.Get(ctx, "srv-conv")
	require.NoError(t, err)
	assert.Equal(t, model.SyncSynced, got.SyncStatus)

	moved, err := f.msgs.Get(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, "srv-conv", moved.ConversationID)

	again, err := f.convs.CreateDirectConversation(ctx, "u1", "u2", model.ParticipantInfo{})
	require.NoError(t, err)
	assert.Equal(t, "srv-conv", again.ID)
}
