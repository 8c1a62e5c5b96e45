// Package planner keeps one planning session (conversation plus working
// itinerary) per signed-in user and serves it over HTTP.
package planner

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	"tripsync/chat"
	"tripsync/db"
	"tripsync/extract"
	"tripsync/lifecycle"
	"tripsync/models"
	"tripsync/store"
	"tripsync/syncer"
)

// IdleTimeout is how long an untouched session stays in memory. Its local
// copy outlives it in the Store.
const IdleTimeout = 30 * time.Minute

type Plan struct {
	UserID string
	Chat   *chat.Conversation
	Ctrl   *lifecycle.Controller
}

type Config struct {
	Repo      db.Repository
	Channel   syncer.Channel
	Streamer  chat.Streamer
	Store     store.Store
	Extract   extract.Options
	Debounce  time.Duration
	ShareBase string
	Now       func() time.Time
}

type Registry struct {
	cfg   Config
	mu    sync.Mutex
	plans *cache.Cache
}

func NewRegistry(cfg Config) *Registry {
	if cfg.Debounce <= 0 {
		cfg.Debounce = syncer.LocalDebounce
	}
	if cfg.Store == nil {
		cfg.Store = store.NewMemory()
	}
	plans := cache.New(IdleTimeout, 5*time.Minute)
	plans.OnEvicted(func(_ string, v interface{}) {
		v.(*Plan).Ctrl.Close()
	})
	return &Registry{cfg: cfg, plans: plans}
}

// Plan returns the caller's session, restoring it from the Store on first use.
func (reg *Registry) Plan(ctx context.Context, caller models.Caller) (*Plan, error) {
	userID := caller.UserID
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if v, ok := reg.plans.Get(userID); ok {
		reg.plans.Set(userID, v, cache.DefaultExpiration)
		return v.(*Plan), nil
	}

	conv := chat.New(reg.cfg.Streamer, chat.Options{
		Store:    reg.cfg.Store,
		StoreKey: store.Key("plan", userID, "chat"),
	})
	ctrl, err := lifecycle.New(lifecycle.Options{
		Extract:   reg.cfg.Extract,
		Now:       reg.cfg.Now,
		NewSyncer: lifecycle.SessionFactory(reg.cfg.Repo, reg.cfg.Channel, userID, reg.cfg.Debounce, reg.cfg.ShareBase),
		Shares:    reg.cfg.Repo,
		ShareBase: reg.cfg.ShareBase,
		Store:     reg.cfg.Store,
		StoreKey:  store.Key("plan", userID, "itinerary"),
		Access:    reg.access(caller),
	})
	if err != nil {
		return nil, err
	}
	if err := conv.Restore(ctx); err != nil {
		ctrl.Close()
		return nil, err
	}
	if err := ctrl.Restore(ctx); err != nil {
		ctrl.Close()
		return nil, err
	}

	p := &Plan{UserID: userID, Chat: conv, Ctrl: ctrl}
	reg.plans.Set(userID, p, cache.DefaultExpiration)
	return p, nil
}

// access resolves what caller may do with a persisted itinerary right now.
func (reg *Registry) access(caller models.Caller) func(context.Context, string) (models.Permission, error) {
	return func(ctx context.Context, id string) (models.Permission, error) {
		rec, err := reg.cfg.Repo.Get(ctx, id)
		if errors.Is(err, db.ErrNotFound) {
			return models.PermissionNone, nil
		}
		if err != nil {
			return models.PermissionNone, err
		}
		collaborators, err := reg.cfg.Repo.ListCollaborators(ctx, id)
		if err != nil {
			return models.PermissionNone, err
		}
		return models.ResolvePermission(rec, caller, collaborators), nil
	}
}

// Close drops every session without flushing pending pushes.
func (reg *Registry) Close() {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	for _, item := range reg.plans.Items() {
		item.Object.(*Plan).Ctrl.Close()
	}
	reg.plans.Flush()
}
