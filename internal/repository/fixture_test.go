package repository

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/matheus3301/msgcore/internal/bus"
	"github.com/matheus3301/msgcore/internal/observe"
	"github.com/matheus3301/msgcore/internal/store"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

type fixture struct {
	store *store.Store
	bus   *bus.Bus
	obs   *observe.Engine
	clock *fakeClock

	convs *ConversationRepository
	msgs  *MessageRepository
	items *ActionItemRepository
	users *UserRepository
	ai    *AIChatRepository
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	_, err = db.Migrate()
	require.NoError(t, err)

	logger := zap.NewNop()
	b := bus.New()
	s := store.New(db, b, logger)
	obs := observe.New(b, logger)
	f := &fixture{
		store: s,
		bus:   b,
		obs:   obs,
		clock: &fakeClock{t: time.UnixMilli(1_700_000_000_000)},
		convs: NewConversationRepository(s, obs, logger),
		msgs:  NewMessageRepository(s, obs, logger),
		items: NewActionItemRepository(s, obs, logger),
		users: NewUserRepository(s, obs, logger),
		ai:    NewAIChatRepository(s, obs, logger),
	}
	f.convs.now = f.clock.Now
	f.msgs.now = f.clock.Now
	f.items.now = f.clock.Now
	f.users.now = f.clock.Now
	f.ai.now = f.clock.Now
	return f
}

func ptr[T any](v T) *T { return &v }

func next[S any](t *testing.T, ch <-chan S) S {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "stream closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for emission")
	}
	var zero S
	return zero
}
