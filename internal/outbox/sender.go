// Package outbox drives RemoteSync: it drains records waiting for a push,
// hands them to the remote transport and records the outcome through the
// repositories.
package outbox

import (
	"context"
	"time"

	"github.com/matheus3301/msgcore/internal/bus"
	"github.com/matheus3301/msgcore/internal/model"
	"github.com/matheus3301/msgcore/internal/repository"
	"github.com/matheus3301/msgcore/internal/status"
	"go.uber.org/zap"
)

// Bus event kinds published after each push.
const (
	AckEvent    = "outbox.ack"
	FailedEvent = "outbox.failed"
)

// Change is one record handed to the remote side.
type Change struct {
	Kind model.Kind
	ID   string
	// Payload is the full entity value (model.User, model.Message, ...).
	Payload any
}

// Ack is the remote side's acknowledgment of a change.
type Ack struct {
	// ServerID is the id the remote side assigned. Only messages get a new
	// one; empty keeps the current id.
	ServerID        string
	ServerTimestamp time.Time
}

// Remote is the transport to the authoritative service.
type Remote interface {
	Push(ctx context.Context, c Change) (Ack, error)
}

// Result is the payload of AckEvent and FailedEvent.
type Result struct {
	Kind    model.Kind
	ID      string
	Retries int
	Err     error
	// GaveUp is set when a message reached the retry limit and was parked
	// as failed.
	GaveUp bool
}

// Options tunes the drain loop.
type Options struct {
	Interval    time.Duration
	BatchSize   int
	MaxRetries  int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

// Repositories are the entity families the sender drains.
type Repositories struct {
	Users         *repository.UserRepository
	Conversations *repository.ConversationRepository
	Messages      *repository.MessageRepository
	ActionItems   *repository.ActionItemRepository
}

// Sender periodically pushes pending records to the remote side.
type Sender struct {
	remote  Remote
	queues  []queue
	opts    Options
	bus     *bus.Bus
	machine *status.Machine
	logger  *zap.Logger
	now     func() time.Time
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSender creates a sender. A nil remote puts it in offline mode: records
// stay pending until a transport is configured. machine, when set, follows
// the drain loop: READY when idle, SYNCING while pushing, DEGRADED after a
// pass with failures.
func NewSender(repos Repositories, remote Remote, b *bus.Bus, machine *status.Machine, opts Options, logger *zap.Logger) *Sender {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sender{
		remote:  remote,
		queues:  queuesFor(repos),
		opts:    opts,
		bus:     b,
		machine: machine,
		logger:  logger,
		now:     time.Now,
	}
}

// Backoff returns how long to wait before pushing a record that failed
// retries times: base·2^retries, capped at MaxBackoff.
func (s *Sender) Backoff(retries int) time.Duration {
	d := s.opts.BaseBackoff
	for i := 0; i < retries && d < s.opts.MaxBackoff; i++ {
		d *= 2
	}
	if s.opts.MaxBackoff > 0 && d > s.opts.MaxBackoff {
		d = s.opts.MaxBackoff
	}
	return d
}

// Start begins draining pending records.
func (s *Sender) Start(ctx context.Context) {
	if s.remote == nil {
		s.logger.Info("no remote configured, outbox stays offline")
		s.setState(status.Offline)
		return
	}
	s.setState(status.Ready)
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop stops the sender loop and waits for an in-flight drain to finish.
func (s *Sender) Stop() {
	if s.cancel != nil {
		s.cancel()
		<-s.done
	}
}

func (s *Sender) loop(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(s.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.Flush(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// Flush runs one drain pass over every entity family, parents before
// children. It returns how many pushes succeeded and failed.
func (s *Sender) Flush(ctx context.Context) (pushed, failed int) {
	if s.remote == nil {
		return 0, 0
	}
	defer func() {
		switch {
		case failed > 0:
			s.setState(status.Degraded)
		case pushed > 0:
			s.setState(status.Ready)
		}
	}()
	for _, q := range s.queues {
		recs, err := q.pending(ctx, s.opts.BatchSize)
		if err != nil {
			s.logger.Error("failed to read pending records", zap.Error(err), zap.String("kind", string(q.kind)))
			continue
		}
		for _, rec := range recs {
			if ctx.Err() != nil {
				return pushed, failed
			}
			if !s.due(rec) {
				continue
			}
			s.setState(status.Syncing)
			if s.push(ctx, q, rec) {
				pushed++
			} else {
				failed++
			}
		}
	}
	return pushed, failed
}

// due reports whether a record's backoff window has passed.
func (s *Sender) due(rec record) bool {
	if rec.env.LastSyncAttempt == nil || rec.env.SyncRetryCount == 0 {
		return true
	}
	return !s.now().Before(rec.env.LastSyncAttempt.Add(s.Backoff(rec.env.SyncRetryCount)))
}

func (s *Sender) push(ctx context.Context, q queue, rec record) bool {
	logger := s.logger.With(zap.String("kind", string(q.kind)), zap.String("id", rec.id))
	ack, err := s.remote.Push(ctx, Change{Kind: q.kind, ID: rec.id, Payload: rec.payload})
	if err != nil {
		res := Result{Kind: q.kind, ID: rec.id, Retries: rec.env.SyncRetryCount + 1, Err: err}
		logger.Warn("push failed", zap.Error(err), zap.Int("retries", res.Retries))
		if err := q.failed(ctx, rec); err != nil {
			logger.Error("failed to record push failure", zap.Error(err))
		}
		if q.giveUp != nil && s.opts.MaxRetries > 0 && res.Retries >= s.opts.MaxRetries {
			res.GaveUp = true
			logger.Warn("giving up on message", zap.Int("max_retries", s.opts.MaxRetries))
			if err := q.giveUp(ctx, rec); err != nil {
				logger.Error("failed to park message", zap.Error(err))
			}
		}
		s.publish(FailedEvent, res)
		return false
	}

	if err := q.synced(ctx, rec, ack); err != nil {
		logger.Error("failed to record ack", zap.Error(err))
		return false
	}
	logger.Debug("pushed", zap.String("server_id", ack.ServerID))
	s.publish(AckEvent, Result{Kind: q.kind, ID: rec.id})
	return true
}

func (s *Sender) setState(to status.State) {
	if err := s.machine.Set(to); err != nil {
		s.logger.Debug("status not updated", zap.Error(err))
	}
}

func (s *Sender) publish(kind string, res Result) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(bus.Event{Kind: kind, Timestamp: s.now(), Payload: res})
}
