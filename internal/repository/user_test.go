package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/matheus3301/msgcore/internal/model"
	"github.com/matheus3301/msgcore/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveUserKeepsCachedAvatarColor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.users.SaveUser(ctx, &model.User{ID: "u1", DisplayName: "Ana"}))
	require.NoError(t, f.users.SaveUser(ctx, &model.User{ID: "u1", DisplayName: "Ana", AvatarColorHex: ptr("#111111")}))
	require.NoError(t, f.users.SaveUser(ctx, &model.User{ID: "u1", DisplayName: "Ana B", AvatarColorHex: ptr("#222222")}))
	require.NoError(t, f.users.SaveUser(ctx, &model.User{ID: "u1", DisplayName: "Ana C"}))

	got, err := f.users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ana C", got.DisplayName)
	assert.Equal(t, ptr("#111111"), got.AvatarColorHex, "first color written wins locally")

	require.ErrorIs(t, f.users.SaveUser(ctx, &model.User{}), store.ErrInvalidData)
}

func TestApplyRemoteUserOverridesColor(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.users.SaveUser(ctx, &model.User{ID: "u1", DisplayName: "Ana", AvatarColorHex: ptr("#111111")}))

	ts1 := f.clock.Advance(time.Second)
	applied, err := f.users.ApplyRemote(ctx, &model.User{ID: "u1", DisplayName: "Ana (server)",
		SyncEnvelope: model.SyncEnvelope{ServerTimestamp: &ts1}})
	require.NoError(t, err)
	assert.True(t, applied)
	got, err := f.users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "Ana (server)", got.DisplayName)
	assert.Equal(t, ptr("#111111"), got.AvatarColorHex, "remote without a color keeps the cached one")
	assert.Equal(t, model.SyncSynced, got.SyncStatus)

	ts2 := f.clock.Advance(time.Second)
	_, err = f.users.ApplyRemote(ctx, &model.User{ID: "u1", DisplayName: "Ana", AvatarColorHex: ptr("#333333"),
		SyncEnvelope: model.SyncEnvelope{ServerTimestamp: &ts2}})
	require.NoError(t, err)
	got, err = f.users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, ptr("#333333"), got.AvatarColorHex)
}

func TestPartialUpdates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.users.SaveUser(ctx, &model.User{ID: "u1", DisplayName: "Ana", ProfileImageURL: ptr("a.png")}))

	seen := f.clock.Advance(time.Minute)
	u, err := f.users.UpdatePresence(ctx, "u1", true, &seen)
	require.NoError(t, err)
	assert.True(t, u.IsOnline)
	assert.Equal(t, &seen, u.LastSeen)

	u, err = f.users.UpdatePresence(ctx, "u1", false, nil)
	require.NoError(t, err)
	assert.False(t, u.IsOnline)
	assert.Equal(t, &seen, u.LastSeen, "absent last seen is left alone")

	u, err = f.users.UpdateProfile(ctx, "u1", ptr("Ana Maria"), nil)
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", u.DisplayName)
	assert.Equal(t, ptr("a.png"), u.ProfileImageURL)

	u, err = f.users.UpdateProfile(ctx, "u1", nil, ptr("b.png"))
	require.NoError(t, err)
	assert.Equal(t, "Ana Maria", u.DisplayName)
	assert.Equal(t, ptr("b.png"), u.ProfileImageURL)

	stored, err := f.users.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, u, stored)

	_, err = f.users.UpdatePresence(ctx, "ghost", true, nil)
	assert.ErrorIs(t, err, store.ErrEntityNotFound)
	_, err = f.users.UpdateProfile(ctx, "ghost", ptr("x"), nil)
	assert.ErrorIs(t, err, store.ErrEntityNotFound)
}

func TestSearchUsers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, u := range []model.User{
		{ID: "u1", DisplayName: "John Smith", Email: "john@example.com"},
		{ID: "u2", DisplayName: "Mary", Email: "mary.JOHNSON@example.com"},
		{ID: "u3", DisplayName: "Zoë", Email: "zoe@example.com"},
		{ID: "u4", DisplayName: "Peter", Email: "peter@example.com"},
	} {
		u := u
		require.NoError(t, f.users.SaveUser(ctx, &u))
	}

	names := func(users []model.User) []string {
		var out []string
		for _, u := range users {
			out = append(out, u.DisplayName)
		}
		return out
	}

	got, err := f.users.SearchUsers(ctx, "JOHN")
	require.NoError(t, err)
	assert.Equal(t, []string{"John Smith", "Mary"}, names(got))

	got, err = f.users.SearchUsers(ctx, "ｊｏｈｎ")
	require.NoError(t, err)
	assert.Equal(t, []string{"John Smith", "Mary"}, names(got), "full-width input folds to ASCII")

	got, err = f.users.SearchUsers(ctx, "ZOË")
	require.NoError(t, err)
	assert.Equal(t, []string{"Zoë"}, names(got))

	got, err = f.users.SearchUsers(ctx, "   ")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchUsersIsCapped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < SearchLimit+5; i++ {
		require.NoError(t, f.users.SaveUser(ctx, &model.User{ID: fmt.Sprintf("u%02d", i), DisplayName: fmt.Sprintf("Member %02d", i)}))
	}
	got, err := f.users.SearchUsers(ctx, "member")
	require.NoError(t, err)
	require.Len(t, got, SearchLimit)
	assert.Equal(t, "Member 00", got[0].DisplayName)
}

func TestObserveUser(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream := f.users.ObserveUser(ctx, "u1")
	assert.Nil(t, next(t, stream))

	require.NoError(t, f.users.SaveUser(ctx, &model.User{ID: "u1", DisplayName: "Ana"}))
	got := next(t, stream)
	require.NotNil(t, got)
	assert.Equal(t, "Ana", got.DisplayName)
}
