package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/msgcore/internal/model"
	"github.com/matheus3301/msgcore/internal/observe"
	"github.com/matheus3301/msgcore/internal/store"
	"go.uber.org/zap"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// SearchLimit caps SearchUsers results.
const SearchLimit = 20

// UserRepository manages cached user profiles and presence.
type UserRepository struct {
	deps
	syncHooks[model.User]
}

// NewUserRepository creates a user repository.
func NewUserRepository(s *store.Store, obs *observe.Engine, logger *zap.Logger) *UserRepository {
	r := &UserRepository{deps: newDeps(s, obs, logger)}
	r.syncHooks = syncHooks[model.User]{
		db:       s,
		table:    s.Users,
		kind:     KindUser,
		envelope: func(u *model.User) *model.SyncEnvelope { return &u.SyncEnvelope },
		version:  func(u *model.User) time.Time { return u.UpdatedAt },
		clock:    func() time.Time { return r.now() },
	}
	return r
}

// SaveUser inserts or replaces a user. A cached avatar color survives the
// update: the first color written wins locally, only the remote side may
// override it (see ApplyRemote). The stored sync envelope is kept; the user
// only becomes pending.
func (r *UserRepository) SaveUser(ctx context.Context, u *model.User) error {
	if u.ID == "" {
		return invalid("user without id")
	}
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		now := r.now()
		u.UpdatedAt = now
		u.MarkPending()
		existing, err := r.store.Users.Get(ctx, tx, u.ID)
		if err != nil {
			return err
		}
		if existing == nil {
			if u.CreatedAt.IsZero() {
				u.CreatedAt = now
			}
			return r.store.Users.Insert(ctx, tx, u)
		}
		u.CreatedAt = existing.CreatedAt
		u.SyncEnvelope = existing.SyncEnvelope
		u.MarkPending()
		if existing.HasAvatarColor() {
			u.AvatarColorHex = existing.AvatarColorHex
		}
		return r.store.Users.Update(ctx, tx, u)
	})
	if err != nil {
		return fmt.Errorf("save user: %w", err)
	}
	return nil
}

// Get returns one user.
func (r *UserRepository) Get(ctx context.Context, id string) (*model.User, error) {
	u, err := r.store.Users.Get(ctx, r.store.Read(), id)
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if u == nil {
		return nil, notFound(KindUser, id)
	}
	return u, nil
}

func (r *UserRepository) mutate(ctx context.Context, op, id string, fn func(u *model.User)) (*model.User, error) {
	var user *model.User
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		u, err := mustGet(ctx, tx, r.store.Users, KindUser, id)
		if err != nil {
			return err
		}
		fn(u)
		u.UpdatedAt = r.now()
		u.MarkPending()
		user = u
		return r.store.Users.Update(ctx, tx, u)
	})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return user, nil
}

// UpdatePresence sets the online flag and, when given, the last-seen time.
func (r *UserRepository) UpdatePresence(ctx context.Context, id string, isOnline bool, lastSeen *time.Time) (*model.User, error) {
	return r.mutate(ctx, "update presence", id, func(u *model.User) {
		u.IsOnline = isOnline
		if lastSeen != nil {
			ts := *lastSeen
			u.LastSeen = &ts
		}
	})
}

// UpdateProfile applies the non-nil fields and leaves the others alone.
func (r *UserRepository) UpdateProfile(ctx context.Context, id string, displayName, profileImageURL *string) (*model.User, error) {
	return r.mutate(ctx, "update profile", id, func(u *model.User) {
		if displayName != nil {
			u.DisplayName = *displayName
		}
		if profileImageURL != nil {
			url := *profileImageURL
			u.ProfileImageURL = &url
		}
	})
}

// SearchUsers returns up to SearchLimit users whose display name or email
// contains query, ignoring case and Unicode compatibility differences.
// Matching happens in memory over the local user table, ordered by name.
func (r *UserRepository) SearchUsers(ctx context.Context, query string) ([]model.User, error) {
	fold := folder()
	needle := fold(strings.TrimSpace(query))
	if needle == "" {
		return nil, nil
	}
	users, err := r.store.Users.Fetch(ctx, r.store.Read(), store.Query{
		OrderBy: []store.Order{store.Asc("display_name COLLATE NOCASE"), store.Asc("id")},
	})
	if err != nil {
		return nil, fmt.Errorf("search users: %w", err)
	}
	var out []model.User
	for _, u := range users {
		if strings.Contains(fold(u.DisplayName), needle) || strings.Contains(fold(u.Email), needle) {
			out = append(out, u)
			if len(out) == SearchLimit {
				break
			}
		}
	}
	return out, nil
}

// folder returns a case folding function. Casers keep state, so each search
// gets its own.
func folder() func(string) string {
	c := cases.Fold()
	return func(s string) string {
		return c.String(norm.NFKC.String(s))
	}
}

// ObserveUser streams one user; nil while it is not cached.
func (r *UserRepository) ObserveUser(ctx context.Context, id string) <-chan *model.User {
	return observe.Watch(ctx, r.obs, "user/"+id, func(ctx context.Context) (*model.User, error) {
		return r.store.Users.Get(ctx, r.store.Read(), id)
	})
}

// ApplyRemote stores an authoritative version of a user, last writer wins by
// server timestamp. A remote version without an avatar color keeps the
// cached one; a remote color replaces it.
func (r *UserRepository) ApplyRemote(ctx context.Context, incoming *model.User) (bool, error) {
	var applied bool
	err := r.store.Write(ctx, func(tx *store.Tx) error {
		var err error
		applied, err = applyLWW(ctx, tx, r.store.Users, KindUser, incoming,
			func(u *model.User) *model.SyncEnvelope { return &u.SyncEnvelope },
			func(local, incoming *model.User) {
				if !incoming.HasAvatarColor() {
					incoming.AvatarColorHex = local.AvatarColorHex
				}
				if incoming.CreatedAt.IsZero() {
					incoming.CreatedAt = local.CreatedAt
				}
			})
		return err
	})
	if err != nil {
		return false, fmt.Errorf("apply remote user: %w", err)
	}
	return applied, nil
}
