package store

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/matheus3301/msgcore/internal/bus"
	"github.com/matheus3301/msgcore/internal/model"
	"go.uber.org/zap"
)

// ChangedEvent is published on the bus after every committed write.
const ChangedEvent = "store.changed"

// Change is the payload of ChangedEvent. Observers treat it as a coarse
// "something changed" signal; Tables is informational.
type Change struct {
	Tables []string
}

// Tx is a write transaction. Mutations are only reachable through a Tx, and
// a Tx is only handed out by Store.Write.
type Tx struct {
	tx      *sql.Tx
	dirty   bool
	touched []string
}

// ExecContext runs a statement inside the transaction and marks it dirty,
// so the commit broadcasts a change. Prefer the Table methods, which also
// record the touched table.
func (tx *Tx) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	tx.dirty = true
	return tx.tx.ExecContext(ctx, query, args...)
}

// QueryContext reads inside the transaction; it sees uncommitted writes.
func (tx *Tx) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return tx.tx.QueryContext(ctx, query, args...)
}

// QueryRowContext is QueryContext for a single row.
func (tx *Tx) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return tx.tx.QueryRowContext(ctx, query, args...)
}

func (tx *Tx) write(ctx context.Context, table, query string, args ...any) (sql.Result, error) {
	if !slices.Contains(tx.touched, table) {
		tx.touched = append(tx.touched, table)
	}
	return tx.ExecContext(ctx, query, args...)
}

// Store is the local entity store. All mutations are serialized through
// Write, which is the single writer context of the process.
type Store struct {
	db     *DB
	bus    *bus.Bus
	logger *zap.Logger
	mu     sync.Mutex

	Users           *Table[model.User]
	Conversations   *Table[model.Conversation]
	Messages        *Table[model.Message]
	ActionItems     *Table[model.ActionItem]
	AIConversations *Table[model.AIConversation]
	AIMessages      *Table[model.AIMessage]
}

// New creates a store over a migrated database. b may be nil, in which case
// no change notifications are broadcast.
func New(db *DB, b *bus.Bus, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:              db,
		bus:             b,
		logger:          logger,
		Users:           NewTable(userSchema),
		Conversations:   NewTable(conversationSchema),
		Messages:        NewTable(messageSchema),
		ActionItems:     NewTable(actionItemSchema),
		AIConversations: NewTable(aiConversationSchema),
		AIMessages:      NewTable(aiMessageSchema),
	}
}

// Read returns a querier for reads outside a write transaction.
func (s *Store) Read() Querier {
	return s.db
}

// DB returns the underlying database.
func (s *Store) DB() *DB {
	return s.db
}

// Write runs fn inside a transaction while holding the writer lock. If fn
// succeeds the transaction is saved (committed) and, when anything was
// written, a change notification is broadcast. If fn fails nothing is kept.
func (s *Store) Write(ctx context.Context, fn func(tx *Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	tx := &Tx{tx: sqlTx}
	if err := fn(tx); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("save: %w", err)
	}
	if tx.dirty {
		s.NotifyChanges(tx.touched...)
	}
	return nil
}

// NotifyChanges broadcasts a change signal to every active observer.
func (s *Store) NotifyChanges(tables ...string) {
	if s.bus == nil {
		return
	}
	s.logger.Debug("store changed", zap.Strings("tables", tables))
	s.bus.Publish(bus.Event{
		Kind:      ChangedEvent,
		Timestamp: time.Now(),
		Payload:   Change{Tables: tables},
	})
}
