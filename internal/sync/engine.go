// Package sync applies authoritative remote versions to the local store.
package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/msgcore/internal/bus"
	"github.com/matheus3301/msgcore/internal/model"
	"github.com/matheus3301/msgcore/internal/repository"
	"github.com/matheus3301/msgcore/internal/store"
	"go.uber.org/zap"
)

// EventPrefix is the bus namespace the remote transport publishes on:
// "remote.<kind>" with a *model.User, *model.Conversation, *model.Message
// or *model.ActionItem payload.
const EventPrefix = "remote."

// BatchEvent is published after ApplyBatch with a BatchResult payload.
const BatchEvent = "sync.batch"

// Change is one authoritative record received from the remote side.
type Change struct {
	Kind    model.Kind
	Payload any
}

// BatchResult summarizes an ApplyBatch call.
type BatchResult struct {
	Applied int
	Stale   int
	Skipped int
}

// Repositories receive the remote versions.
type Repositories struct {
	Users         *repository.UserRepository
	Conversations *repository.ConversationRepository
	Messages      *repository.MessageRepository
	ActionItems   *repository.ActionItemRepository
}

// Engine handles idempotent ingestion of remote records. It subscribes to
// "remote." events on the bus and applies them last-writer-wins.
type Engine struct {
	repos      Repositories
	reconciler *Reconciler
	bus        *bus.Bus
	logger     *zap.Logger
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewEngine creates a new sync engine.
func NewEngine(repos Repositories, rec *Reconciler, b *bus.Bus, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		repos:      repos,
		reconciler: rec,
		bus:        b,
		logger:     logger,
	}
}

// Start subscribes to inbound remote events on the bus.
func (e *Engine) Start(ctx context.Context) {
	ctx, e.cancel = context.WithCancel(ctx)
	e.done = make(chan struct{})
	ch, unsub := e.bus.Subscribe(EventPrefix, 256)

	go func() {
		defer close(e.done)
		defer unsub()
		for {
			select {
			case evt := <-ch:
				e.handleEvent(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop stops the engine and waits for the event in progress.
func (e *Engine) Stop() {
	if e.cancel != nil {
		e.cancel()
		<-e.done
	}
}

func (e *Engine) handleEvent(ctx context.Context, evt bus.Event) {
	kind := model.Kind(strings.TrimPrefix(evt.Kind, EventPrefix))
	if _, err := e.Apply(ctx, Change{Kind: kind, Payload: evt.Payload}); err != nil {
		e.logger.Error("failed to apply remote change", zap.Error(err), zap.String("kind", string(kind)))
	}
}

// Apply stores one remote record and advances the kind's cursor. It
// reports false when the local copy was already as new.
func (e *Engine) Apply(ctx context.Context, c Change) (bool, error) {
	applied, ts, err := e.apply(ctx, c)
	if err != nil {
		return false, err
	}
	if err := e.advance(ctx, c.Kind, ts); err != nil {
		return applied, err
	}
	return applied, nil
}

// ApplyBatch stores a page of a history pull in order. Records the store
// rejects as invalid are logged and skipped; any other error stops the
// batch. Cursors advance to the newest server timestamp seen per kind.
func (e *Engine) ApplyBatch(ctx context.Context, changes []Change) (BatchResult, error) {
	var res BatchResult
	newest := make(map[model.Kind]time.Time)
	var batchErr error
	for _, c := range changes {
		applied, ts, err := e.apply(ctx, c)
		if errors.Is(err, store.ErrInvalidData) {
			e.logger.Warn("skipping invalid remote change", zap.Error(err), zap.String("kind", string(c.Kind)))
			res.Skipped++
			continue
		}
		if err != nil {
			batchErr = err
			break
		}
		if applied {
			res.Applied++
		} else {
			res.Stale++
		}
		if ts.After(newest[c.Kind]) {
			newest[c.Kind] = ts
		}
	}

	for _, kind := range model.SyncedKinds {
		if ts, ok := newest[kind]; ok {
			if err := e.advance(ctx, kind, ts); err != nil && batchErr == nil {
				batchErr = err
			}
		}
	}
	if batchErr != nil {
		return res, fmt.Errorf("apply batch: %w", batchErr)
	}

	e.logger.Info("remote batch applied",
		zap.Int("applied", res.Applied), zap.Int("stale", res.Stale), zap.Int("skipped", res.Skipped))
	e.bus.Publish(bus.Event{Kind: BatchEvent, Timestamp: time.Now(), Payload: res})
	return res, nil
}

func (e *Engine) advance(ctx context.Context, kind model.Kind, ts time.Time) error {
	if e.reconciler == nil || ts.IsZero() {
		return nil
	}
	return e.reconciler.Advance(ctx, kind, ts)
}

func (e *Engine) apply(ctx context.Context, c Change) (bool, time.Time, error) {
	switch c.Kind {
	case model.KindUser:
		return applyAs(ctx, c, e.repos.Users.ApplyRemote)
	case model.KindConversation:
		return applyAs(ctx, c, e.repos.Conversations.ApplyRemote)
	case model.KindMessage:
		return applyAs(ctx, c, e.repos.Messages.ApplyRemote)
	case model.KindActionItem:
		return applyAs(ctx, c, e.repos.ActionItems.ApplyRemote)
	default:
		return false, time.Time{}, fmt.Errorf("%w: unknown remote kind %q", store.ErrInvalidData, c.Kind)
	}
}

// synced is satisfied by every entity through its embedded envelope.
type synced interface {
	model.User | model.Conversation | model.Message | model.ActionItem
}

func applyAs[T synced](ctx context.Context, c Change, apply func(context.Context, *T) (bool, error)) (bool, time.Time, error) {
	var e *T
	switch p := c.Payload.(type) {
	case *T:
		e = p
	case T:
		e = &p
	}
	if e == nil {
		return false, time.Time{}, fmt.Errorf("%w: %s payload of type %T", store.ErrInvalidData, c.Kind, c.Payload)
	}
	applied, err := apply(ctx, e)
	if err != nil {
		return false, time.Time{}, err
	}
	var ts time.Time
	if env := envelopeOf(e); env.ServerTimestamp != nil {
		ts = *env.ServerTimestamp
	}
	return applied, ts, nil
}

func envelopeOf(e any) model.SyncEnvelope {
	switch v := e.(type) {
	case *model.User:
		return v.SyncEnvelope
	case *model.Conversation:
		return v.SyncEnvelope
	case *model.Message:
		return v.SyncEnvelope
	case *model.ActionItem:
		return v.SyncEnvelope
	}
	return model.SyncEnvelope{}
}
