package player

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"premium-player/internal/media"
	"premium-player/internal/platform/logger"
)

var (
	// ErrAlreadyRegistered is returned when a player id is registered twice.
	ErrAlreadyRegistered = errors.New("player already registered")

	// ErrNotFound is returned for an unknown player id.
	ErrNotFound = errors.New("player not found")
)

// Entry is one live player held by the Registry.
type Entry struct {
	PlayerID      string
	Media         media.Engine
	Container     Container
	Subscriptions *media.Subscriptions

	closing bool
}

// TeardownHooks are the session-scoped services the registry stops first when
// a player closes.
type TeardownHooks struct {
	EndAnalytics func(playerID string)
	StopLease    func(playerID string)
}

// Registry is the single owner of live player handles. It is the only place
// allowed to dispose an engine, and the only authority on whether a handle is
// still usable.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	hooks   TeardownHooks
	page    Page
	log     *slog.Logger
}

// NewRegistry returns an empty registry bound to page.
func NewRegistry(page Page, log *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*Entry),
		page:    page,
		log:     logger.OrDefault(log),
	}
}

// SetHooks installs the teardown hooks. Call before the first Register.
func (r *Registry) SetHooks(h TeardownHooks) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = h
}

// Register adds e. Player ids are unique.
func (r *Registry) Register(e *Entry) error {
	if e == nil || e.PlayerID == "" || e.Media == nil {
		return fmt.Errorf("register: incomplete entry")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[e.PlayerID]; exists {
		return fmt.Errorf("register %s: %w", e.PlayerID, ErrAlreadyRegistered)
	}
	if e.Subscriptions == nil {
		e.Subscriptions = &media.Subscriptions{}
	}
	r.entries[e.PlayerID] = e
	return nil
}

// SafeHandle returns the engine for id only if it is registered, not closing
// and not disposed. A disposed handle's entry is evicted on the way out.
func (r *Registry) SafeHandle(id string) (media.Engine, bool) {
	r.mu.RLock()
	e, ok := r.entries[id]
	closing := ok && e.closing
	r.mu.RUnlock()
	if !ok || closing {
		return nil, false
	}

	if e.Media.IsDisposed() {
		r.mu.Lock()
		if cur, still := r.entries[id]; still && cur == e && !cur.closing {
			delete(r.entries, id)
			r.log.Debug("evicted stale player", slog.String("video_id", id))
		}
		r.mu.Unlock()
		return nil, false
	}
	return e.Media, true
}

// Entry returns the entry for id.
func (r *Registry) Entry(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

// IDs returns the registered player ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Len returns the number of registered players.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Close tears the player down in a fixed order: analytics session, token
// lease, event subscriptions, pause, source, engine, container, registry
// entry, scroll lock. Each step is attempted even if an earlier one fails or
// panics. Unknown ids are ignored.
func (r *Registry) Close(id string) {
	r.mu.Lock()
	e, ok := r.entries[id]
	if !ok || e.closing {
		r.mu.Unlock()
		return
	}
	e.closing = true
	hooks := r.hooks
	r.mu.Unlock()

	r.step(id, "end_analytics", func() error {
		if hooks.EndAnalytics != nil {
			hooks.EndAnalytics(id)
		}
		return nil
	})
	r.step(id, "stop_lease", func() error {
		if hooks.StopLease != nil {
			hooks.StopLease(id)
		}
		return nil
	})
	r.step(id, "detach_events", func() error {
		if e.Subscriptions != nil {
			e.Subscriptions.DetachAll()
		}
		return nil
	})
	r.step(id, "pause", e.Media.Pause)
	r.step(id, "clear_source", e.Media.ClearSource)
	r.step(id, "dispose", e.Media.Dispose)
	r.step(id, "remove_container", func() error {
		if e.Container == nil {
			return nil
		}
		return e.Container.Remove()
	})

	var remaining int
	r.step(id, "delete_entry", func() error {
		r.mu.Lock()
		defer r.mu.Unlock()
		if cur, still := r.entries[id]; still && cur == e {
			delete(r.entries, id)
		}
		remaining = len(r.entries)
		return nil
	})
	r.step(id, "restore_scroll", func() error {
		if r.page != nil && remaining == 0 {
			r.page.SetScrollLock(false)
		}
		return nil
	})

	r.log.Debug("player closed", slog.String("video_id", id))
}

// CloseAll closes every registered player.
func (r *Registry) CloseAll() {
	for _, id := range r.IDs() {
		r.Close(id)
	}
}

func (r *Registry) step(id, name string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Warn("player teardown step panicked",
				slog.String("video_id", id),
				slog.String("step", name),
				slog.Any("panic", p))
		}
	}()
	if err := fn(); err != nil && !errors.Is(err, media.ErrDisposed) {
		r.log.Debug("player teardown step failed",
			slog.String("video_id", id),
			slog.String("step", name),
			slog.String("error", err.Error()))
	}
}
