package daemon

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matheus3301/msgcore/internal/api"
	"github.com/matheus3301/msgcore/internal/bus"
	"github.com/matheus3301/msgcore/internal/client"
	"github.com/matheus3301/msgcore/internal/lock"
	"github.com/matheus3301/msgcore/internal/model"
	"github.com/matheus3301/msgcore/internal/observe"
	"github.com/matheus3301/msgcore/internal/outbox"
	"github.com/matheus3301/msgcore/internal/profile"
	"github.com/matheus3301/msgcore/internal/repository"
	"github.com/matheus3301/msgcore/internal/status"
	"github.com/matheus3301/msgcore/internal/store"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// shortTempDir keeps socket paths under the 104-char Unix socket limit on macOS.
func shortTempDir(t *testing.T, pattern string) string {
	t.Helper()
	dir, err := os.MkdirTemp("/tmp", pattern)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func TestServerServesCore(t *testing.T) {
	tmpDir := shortTempDir(t, "msgcore-test-*")
	t.Setenv(profile.HomeEnv, tmpDir)
	socketPath := filepath.Join(tmpDir, "d.sock")

	lk, err := lock.Acquire("test")
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = lk.Release() }()

	db, err := store.Open(profile.StorePath("test"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db.Close() }()

	logger, _ := zap.NewDevelopment()
	b := bus.New()
	s := store.New(db, b, logger)
	obs := observe.New(b, logger)
	svc := api.NewService(api.Options{
		Profile:       "test",
		UserID:        "alice",
		Conversations: repository.NewConversationRepository(s, obs, logger),
		Messages:      repository.NewMessageRepository(s, obs, logger),
		ActionItems:   repository.NewActionItemRepository(s, obs, logger),
		Users:         repository.NewUserRepository(s, obs, logger),
		Machine:       status.NewMachine(b),
		Observer:      obs,
		Logger:        logger,
	})

	srv, err := NewServer(Params{Profile: "test", SocketPath: socketPath}, logger, svc)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	defer srv.Stop(context.Background())

	info, err := os.Stat(socketPath)
	if err != nil {
		t.Fatalf("socket not created: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("socket permission = %o, want 0600", perm)
	}

	c, err := client.New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := c.SyncStatus(ctx)
	if err != nil {
		t.Fatalf("SyncStatus error = %v", err)
	}
	if st.Profile != "test" || st.State != string(status.Booting) {
		t.Errorf("status = %+v", st)
	}

	conv, err := c.CreateDirectConversation(ctx, "bob", "Bob")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.SendMessage(ctx, conv.ID, "hello"); err != nil {
		t.Fatal(err)
	}
	msgs, err := c.ListMessages(ctx, conv.ID, 10, time.Time{})
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Text != "hello" {
		t.Errorf("messages = %+v, want one hello", msgs)
	}
}

// TestFxModuleWiring verifies the fx dependency graph resolves without errors.
// Regression: a bare `string` param in a constructor makes fx fail with
// "missing type: string" at startup.
func TestFxModuleWiring(t *testing.T) {
	if err := fx.ValidateApp(Module(Params{Profile: "fxtest", UserID: "alice"})); err != nil {
		t.Fatalf("fx graph invalid: %v", err)
	}
}

type ackRemote struct{}

func (ackRemote) Push(_ context.Context, c outbox.Change) (outbox.Ack, error) {
	ack := outbox.Ack{ServerTimestamp: time.Now()}
	if c.Kind == model.KindMessage {
		ack.ServerID = "srv-" + c.ID
	}
	return ack, nil
}

func TestDaemonLifecycle(t *testing.T) {
	home := shortTempDir(t, "msgcore-home-*")
	t.Setenv(profile.HomeEnv, home)
	socketPath := filepath.Join(home, "d.sock")

	app := fx.New(
		Module(Params{Profile: "life", UserID: "alice", SocketPath: socketPath, Remote: ackRemote{}}),
		fx.NopLogger,
	)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.Start(ctx); err != nil {
		t.Fatalf("app.Start() error = %v", err)
	}

	// The profile is locked while the daemon runs.
	_, err := lock.Acquire("life")
	var held *lock.LockHeldError
	if !errors.As(err, &held) {
		t.Errorf("second lock error = %v, want LockHeldError", err)
	}

	c, err := client.New(socketPath)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = c.Close() }()

	sent, err := c.SendMessage(ctx, "c1", "hello")
	if err != nil {
		t.Fatal(err)
	}

	// The outbox pushes the message and it comes back under its server id.
	deadline := time.Now().Add(5 * time.Second)
	for {
		msgs, err := c.ListMessages(ctx, "c1", 10, time.Time{})
		if err != nil {
			t.Fatal(err)
		}
		if len(msgs) == 1 && msgs[0].ID == "srv-"+sent.ID {
			if msgs[0].Status != model.StatusSent || msgs[0].LocalID != sent.LocalID {
				t.Errorf("message = %+v", msgs[0])
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("message not acknowledged: %+v", msgs)
		}
		time.Sleep(50 * time.Millisecond)
	}

	// The drain pass reports READY once it finishes.
	for {
		st, err := c.SyncStatus(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if st.State == string(status.Ready) && st.Pending["message"] == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("status = %+v, want READY with nothing pending", st)
		}
		time.Sleep(50 * time.Millisecond)
	}
	if _, err := os.Stat(profile.StorePath("life")); err != nil {
		t.Errorf("store not created: %v", err)
	}

	if err := app.Stop(ctx); err != nil {
		t.Fatalf("app.Stop() error = %v", err)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("socket still present after stop: %v", err)
	}
	l, err := lock.Acquire("life")
	if err != nil {
		t.Fatalf("lock not released: %v", err)
	}
	_ = l.Release()
}
