package store

import (
	"context"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/matheus3301/msgcore/internal/bus"
	"github.com/matheus3301/msgcore/internal/model"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testStore(t *testing.T) (*Store, *bus.Bus) {
	t.Helper()
	b := bus.New()
	return New(testDB(t), b, nil), b
}

func ptr[T any](v T) *T { return &v }

var base = time.UnixMilli(1_700_000_000_000)

func at(offset time.Duration) time.Time {
	return base.Add(offset)
}

func testMessage(id, convID string, ts time.Time) *model.Message {
	return &model.Message{
		ID:             id,
		LocalID:        id,
		ConversationID: convID,
		SenderID:       "u1",
		SenderName:     "Ana",
		Text:           "hello " + id,
		Timestamp:      ts,
		Status:         model.StatusSending,
		CreatedAt:      ts,
		UpdatedAt:      ts,
		SyncEnvelope:   model.SyncEnvelope{SyncStatus: model.SyncPending},
	}
}

func insert[T any](t *testing.T, s *Store, table *Table[T], es ...*T) {
	t.Helper()
	err := s.Write(context.Background(), func(tx *Tx) error {
		for _, e := range es {
			if err := table.Insert(context.Background(), tx, e); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestMigrateAppliesOnFreshDB(t *testing.T) {
	db := testDB(t)

	// testDB already ran Migrate, so a second run must be a no-op.
	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.Changed {
		t.Error("second Migrate() should report Changed=false")
	}
	if result.Version != 2 {
		t.Errorf("version = %d, want 2 (init + ai chat)", result.Version)
	}
}

func TestMigrateReportsFromVersion(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "nested", "store.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	result, err := db.Migrate()
	if err != nil {
		t.Fatal(err)
	}
	if result.From != 0 || result.Version != 2 || !result.Changed {
		t.Errorf("fresh migrate = %+v, want from 0 to 2", *result)
	}
}

func TestMigrateRefusesDirtySchema(t *testing.T) {
	db := testDB(t)
	if _, err := db.Exec(`UPDATE schema_migrations SET dirty = 1`); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err == nil {
		t.Error("Migrate() on a dirty schema should fail")
	}
}

func TestMigrateSchemaHasRequiredColumns(t *testing.T) {
	s, _ := testStore(t)
	for _, stmt := range []string{
		s.Users.insertSQL,
		s.Conversations.insertSQL,
		s.Messages.insertSQL,
		s.ActionItems.insertSQL,
		s.AIConversations.insertSQL,
		s.AIMessages.insertSQL,
	} {
		st, err := s.DB().Prepare(stmt)
		if err != nil {
			t.Errorf("prepare %q: %v", stmt, err)
			continue
		}
		_ = st.Close()
	}
}

func TestInsertDuplicateKey(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	insert(t, s, s.Messages, testMessage("m1", "c1", at(0)))

	err := s.Write(ctx, func(tx *Tx) error {
		return s.Messages.Insert(ctx, tx, testMessage("m1", "c1", at(time.Second)))
	})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("got %v, want ErrDuplicateKey", err)
	}
}

func TestInsertMissingID(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	m := testMessage("", "c1", at(0))
	m.LocalID = "l1"

	err := s.Write(ctx, func(tx *Tx) error { return s.Messages.Insert(ctx, tx, m) })
	if !errors.Is(err, ErrInvalidData) {
		t.Errorf("got %v, want ErrInvalidData", err)
	}
}

func TestInsertBatchAllOrNothing(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	insert(t, s, s.Messages, testMessage("m2", "c1", at(0)))

	batch := []*model.Message{
		testMessage("m1", "c1", at(time.Second)),
		testMessage("m2", "c1", at(2*time.Second)),
		testMessage("m3", "c1", at(3*time.Second)),
	}
	err := s.Write(ctx, func(tx *Tx) error {
		if err := s.Messages.InsertBatch(ctx, tx, batch); err != nil {
			return err
		}
		return nil
	})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Fatalf("got %v, want ErrDuplicateKey", err)
	}

	n, err := s.Messages.Count(ctx, s.Read(), Query{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count = %d, want 1", n)
	}
}

func TestInsertBatchInsideWriteKeepsEarlierWork(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	insert(t, s, s.Messages, testMessage("dup", "c1", at(0)))

	err := s.Write(ctx, func(tx *Tx) error {
		if err := s.Messages.Insert(ctx, tx, testMessage("m1", "c1", at(time.Second))); err != nil {
			return err
		}
		if err := s.Messages.InsertBatch(ctx, tx, []*model.Message{testMessage("dup", "c1", at(0))}); err == nil {
			t.Error("expected batch to fail")
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}

	got, err := s.Messages.Get(ctx, s.Read(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Error("insert before the failed batch should be kept")
	}
}

func TestUpdateMissingEntity(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	err := s.Write(ctx, func(tx *Tx) error {
		return s.Messages.Update(ctx, tx, testMessage("missing", "c1", at(0)))
	})
	if !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("got %v, want ErrEntityNotFound", err)
	}
}

func TestUpdateReplacesColumns(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	m := testMessage("m1", "c1", at(0))
	insert(t, s, s.Messages, m)

	m.Status = model.StatusDelivered
	m.DeliveredTo = []string{"u2"}
	if err := s.Write(ctx, func(tx *Tx) error { return s.Messages.Update(ctx, tx, m) }); err != nil {
		t.Fatal(err)
	}

	got, err := s.Messages.Get(ctx, s.Read(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != model.StatusDelivered || !reflect.DeepEqual(got.DeliveredTo, []string{"u2"}) {
		t.Errorf("got %v %v, want delivered [u2]", got.Status, got.DeliveredTo)
	}
}

func TestDeleteIdempotent(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	insert(t, s, s.Messages, testMessage("m1", "c1", at(0)))

	for i := 0; i < 2; i++ {
		if err := s.Write(ctx, func(tx *Tx) error { return s.Messages.Delete(ctx, tx, "m1") }); err != nil {
			t.Fatalf("delete #%d: %v", i+1, err)
		}
	}
	got, err := s.Messages.Get(ctx, s.Read(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestDeleteAll(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	insert(t, s, s.Messages,
		testMessage("m1", "c1", at(0)),
		testMessage("m2", "c2", at(time.Second)),
		testMessage("m3", "c1", at(2*time.Second)),
	)

	var n int64
	err := s.Write(ctx, func(tx *Tx) error {
		var err error
		n, err = s.Messages.DeleteAll(ctx, tx, Where(Eq("conversation_id", "c1")))
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("deleted %d, want 2", n)
	}
	left, err := s.Messages.Count(ctx, s.Read(), Query{})
	if err != nil {
		t.Fatal(err)
	}
	if left != 1 {
		t.Errorf("left %d, want 1", left)
	}
}

func TestFetchOrdering(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	// Inserted out of timestamp order.
	insert(t, s, s.Messages,
		testMessage("b", "c1", at(2*time.Second)),
		testMessage("a", "c1", at(time.Second)),
		testMessage("c", "c1", at(2*time.Second)),
	)

	ids := func(q Query) []string {
		t.Helper()
		ms, err := s.Messages.Fetch(ctx, s.Read(), q)
		if err != nil {
			t.Fatal(err)
		}
		var out []string
		for _, m := range ms {
			out = append(out, m.ID)
		}
		return out
	}

	if got, want := ids(Query{}), []string{"b", "a", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("unsorted: got %v, want %v (insertion order)", got, want)
	}
	if got, want := ids(Query{OrderBy: []Order{Asc("timestamp")}}), []string{"a", "b", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("asc: got %v, want %v", got, want)
	}
	if got, want := ids(Query{OrderBy: []Order{Desc("timestamp"), Desc("rowid")}, Limit: 2}), []string{"c", "b"}; !reflect.DeepEqual(got, want) {
		t.Errorf("desc limit: got %v, want %v", got, want)
	}
	if got, want := ids(Where(In("id", "a", "c"))), []string{"a", "c"}; !reflect.DeepEqual(got, want) {
		t.Errorf("in: got %v, want %v", got, want)
	}
	if got := ids(Where(In[string]("id"))); len(got) != 0 {
		t.Errorf("empty in: got %v, want none", got)
	}
	if got, want := ids(Where(Or(Eq("id", "a"), Lt("timestamp", Millis(at(0)))))), []string{"a"}; !reflect.DeepEqual(got, want) {
		t.Errorf("or: got %v, want %v", got, want)
	}
}

func TestFetchOneUnique(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	insert(t, s, s.Messages,
		testMessage("m1", "c1", at(0)),
		testMessage("m2", "c1", at(time.Second)),
	)

	got, err := s.Messages.FetchOne(ctx, s.Read(), Where(Eq("conversation_id", "c1")))
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "m1" {
		t.Errorf("got %v, want m1", got)
	}

	q := Where(Eq("conversation_id", "c1"))
	q.Unique = true
	if _, err := s.Messages.FetchOne(ctx, s.Read(), q); !errors.Is(err, ErrMultipleMatches) {
		t.Errorf("got %v, want ErrMultipleMatches", err)
	}

	none, err := s.Messages.FetchOne(ctx, s.Read(), Where(Eq("conversation_id", "nope")))
	if err != nil {
		t.Fatal(err)
	}
	if none != nil {
		t.Errorf("got %v, want nil", none)
	}
}

func TestCountWithMembership(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	m1 := testMessage("m1", "c1", at(0))
	m1.ReadBy = []string{"u2", "u3"}
	m2 := testMessage("m2", "c1", at(time.Second))
	m3 := testMessage("m3", "c1", at(2*time.Second))
	m3.ReadBy = []string{"u3"}
	insert(t, s, s.Messages, m1, m2, m3)

	n, err := s.Messages.Count(ctx, s.Read(), Where(Eq("conversation_id", "c1"), NotContains("read_by", "u2")))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("not read by u2 = %d, want 2", n)
	}
	n, err = s.Messages.Count(ctx, s.Read(), Where(Contains("read_by", "u3")))
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("read by u3 = %d, want 2", n)
	}
}

func TestRekey(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	insert(t, s, s.Messages, testMessage("local-1", "c1", at(0)))

	if err := s.Write(ctx, func(tx *Tx) error { return s.Messages.Rekey(ctx, tx, "local-1", "srv-1") }); err != nil {
		t.Fatal(err)
	}
	got, err := s.Messages.Get(ctx, s.Read(), "srv-1")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.LocalID != "local-1" {
		t.Errorf("got %v, want rekeyed message with local id kept", got)
	}

	err = s.Write(ctx, func(tx *Tx) error { return s.Messages.Rekey(ctx, tx, "local-1", "srv-2") })
	if !errors.Is(err, ErrEntityNotFound) {
		t.Errorf("got %v, want ErrEntityNotFound", err)
	}
}

func TestConversationDeleteCascadesMessages(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	conv := &model.Conversation{
		ID:             "c1",
		Type:           model.ConversationDirect,
		ParticipantIDs: []string{"u1", "u2"},
		CreatedAt:      at(0),
		UpdatedAt:      at(0),
		SyncEnvelope:   model.SyncEnvelope{SyncStatus: model.SyncPending},
	}
	insert(t, s, s.Conversations, conv)
	insert(t, s, s.Messages, testMessage("m1", "c1", at(0)), testMessage("m2", "c2", at(0)))

	if err := s.Write(ctx, func(tx *Tx) error { return s.Conversations.Delete(ctx, tx, "c1") }); err != nil {
		t.Fatal(err)
	}
	ms, err := s.Messages.Fetch(ctx, s.Read(), Query{})
	if err != nil {
		t.Fatal(err)
	}
	if len(ms) != 1 || ms[0].ID != "m2" {
		t.Errorf("got %v, want only m2 left", ms)
	}
}

func TestDirectConversationKeyUnique(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	mk := func(id string, typ model.ConversationType, ids ...string) *model.Conversation {
		return &model.Conversation{ID: id, Type: typ, ParticipantIDs: ids, CreatedAt: at(0), UpdatedAt: at(0),
			SyncEnvelope: model.SyncEnvelope{SyncStatus: model.SyncPending}}
	}
	insert(t, s, s.Conversations, mk("c1", model.ConversationDirect, "u1", "u2"))
	// Groups with the same members are never deduplicated.
	insert(t, s, s.Conversations, mk("g1", model.ConversationGroup, "u1", "u2"), mk("g2", model.ConversationGroup, "u1", "u2"))

	err := s.Write(ctx, func(tx *Tx) error {
		return s.Conversations.Insert(ctx, tx, mk("c2", model.ConversationDirect, "u2", "u1"))
	})
	if !errors.Is(err, ErrDuplicateKey) {
		t.Errorf("got %v, want ErrDuplicateKey", err)
	}
}

func TestRoundTrip(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	user := &model.User{
		ID: "u1", Email: "ana@example.com", DisplayName: "Ana",
		ProfileImageURL: ptr("https://img/ana.png"), AvatarColorHex: ptr("#FF8800"),
		IsOnline: true, LastSeen: ptr(at(time.Minute)),
		CreatedAt: at(0), UpdatedAt: at(time.Second),
		SyncEnvelope: model.SyncEnvelope{SyncStatus: model.SyncSynced, ServerTimestamp: ptr(at(2 * time.Second))},
	}
	conv := &model.Conversation{
		ID: "c1", Type: model.ConversationGroup, ParticipantIDs: []string{"u1", "u2", "u3"},
		Participants: map[string]model.ParticipantInfo{
			"u1": {DisplayName: "Ana", ProfileImageURL: ptr("https://img/ana.png")},
			"u2": {DisplayName: "Bo"},
		},
		GroupName: "team", GroupImageURL: ptr("https://img/team.png"), CreatedBy: "u1",
		LastMessage: &model.LastMessage{Text: "hi", SenderID: "u1", SenderName: "Ana", Timestamp: at(3 * time.Second)},
		CreatedAt:   at(0), UpdatedAt: at(3 * time.Second),
		SyncEnvelope: model.SyncEnvelope{SyncStatus: model.SyncFailed, SyncRetryCount: 2, LastSyncAttempt: ptr(at(4 * time.Second))},
	}
	msg := testMessage("m1", "c1", at(3*time.Second))
	msg.ReadBy = []string{"u2"}
	msg.DeliveredTo = []string{"u2", "u3"}
	msg.Status = model.StatusRead
	item := &model.ActionItem{
		ID: "a1", ConversationID: "c1", Task: "ship it", Assignee: ptr("u2"), MessageID: "m1",
		ExtractedAt: at(5 * time.Second), IsComplete: true, CompletedAt: ptr(at(6 * time.Second)),
		Deadline: ptr(at(time.Hour)), Priority: model.PriorityHigh,
		CreatedAt: at(5 * time.Second), UpdatedAt: at(6 * time.Second),
		SyncEnvelope: model.SyncEnvelope{SyncStatus: model.SyncPending},
	}
	aiConv := &model.AIConversation{ID: "ai1", MessageCount: 1, CreatedAt: at(0), UpdatedAt: at(time.Second)}
	aiMsg := &model.AIMessage{ID: "aim1", ConversationID: "ai1", SequenceNumber: 0, Text: "summary?", Timestamp: at(time.Second)}

	insert(t, s, s.Users, user)
	insert(t, s, s.Conversations, conv)
	insert(t, s, s.Messages, msg)
	insert(t, s, s.ActionItems, item)
	insert(t, s, s.AIConversations, aiConv)
	insert(t, s, s.AIMessages, aiMsg)

	check := func(name string, got, want any) {
		t.Helper()
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s round trip:\n got %+v\nwant %+v", name, got, want)
		}
	}
	gotUser, err := s.Users.Get(ctx, s.Read(), "u1")
	if err != nil {
		t.Fatal(err)
	}
	check("user", gotUser, user)
	gotConv, err := s.Conversations.Get(ctx, s.Read(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	check("conversation", gotConv, conv)
	gotMsg, err := s.Messages.Get(ctx, s.Read(), "m1")
	if err != nil {
		t.Fatal(err)
	}
	check("message", gotMsg, msg)
	gotItem, err := s.ActionItems.Get(ctx, s.Read(), "a1")
	if err != nil {
		t.Fatal(err)
	}
	check("action item", gotItem, item)
	gotAIConv, err := s.AIConversations.Get(ctx, s.Read(), "ai1")
	if err != nil {
		t.Fatal(err)
	}
	check("ai conversation", gotAIConv, aiConv)
	gotAIMsg, err := s.AIMessages.Get(ctx, s.Read(), "aim1")
	if err != nil {
		t.Fatal(err)
	}
	check("ai message", gotAIMsg, aiMsg)
}

func TestCorruptRowIsInvalidData(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()
	insert(t, s, s.Messages, testMessage("m1", "c1", at(0)))
	if _, err := s.DB().Exec(`UPDATE messages SET status = 'bogus' WHERE id = 'm1'`); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Messages.Get(ctx, s.Read(), "m1"); !errors.Is(err, ErrInvalidData) {
		t.Errorf("got %v, want ErrInvalidData", err)
	}
}

func TestWriteRollsBackOnError(t *testing.T) {
	s, b := testStore(t)
	ctx := context.Background()
	ch, unsub := b.Subscribe("store.", 10)
	defer unsub()

	boom := errors.New("boom")
	err := s.Write(ctx, func(tx *Tx) error {
		if err := s.Messages.Insert(ctx, tx, testMessage("m1", "c1", at(0))); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("got %v, want boom", err)
	}
	if got, _ := s.Messages.Get(ctx, s.Read(), "m1"); got != nil {
		t.Error("rolled back insert is visible")
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected change event after rollback: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWriteNotifiesChanges(t *testing.T) {
	s, b := testStore(t)
	ctx := context.Background()
	ch, unsub := b.Subscribe("store.", 10)
	defer unsub()

	insert(t, s, s.Messages, testMessage("m1", "c1", at(0)))

	select {
	case evt := <-ch:
		if evt.Kind != ChangedEvent {
			t.Errorf("got kind %q, want %q", evt.Kind, ChangedEvent)
		}
		change, ok := evt.Payload.(Change)
		if !ok || !reflect.DeepEqual(change.Tables, []string{"messages"}) {
			t.Errorf("got payload %v, want messages change", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for change event")
	}

	// A read-only write transaction broadcasts nothing.
	if err := s.Write(ctx, func(tx *Tx) error {
		_, err := s.Messages.Get(ctx, tx, "m1")
		return err
	}); err != nil {
		t.Fatal(err)
	}
	select {
	case evt := <-ch:
		t.Errorf("unexpected change event: %v", evt)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCheckpoint(t *testing.T) {
	s, _ := testStore(t)
	ctx := context.Background()

	if _, ok, err := s.Checkpoint(ctx, "message"); err != nil || ok {
		t.Fatalf("got ok=%v err=%v, want unset", ok, err)
	}
	for _, v := range []string{"100", "200"} {
		if err := s.Write(ctx, func(tx *Tx) error { return SetCheckpoint(ctx, tx, "message", v, at(0)) }); err != nil {
			t.Fatal(err)
		}
	}
	v, ok, err := s.Checkpoint(ctx, "message")
	if err != nil {
		t.Fatal(err)
	}
	if !ok || v != "200" {
		t.Errorf("got %q, want 200", v)
	}
}
