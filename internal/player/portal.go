// Package player is the premium video playback controller: a registry of live
// engine handles, one playback session per opened video, and the services
// wired around each session (quality and speed selection, control surface
// timing, gesture input, signed URL renewal and analytics).
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"premium-player/internal/analytics"
	"premium-player/internal/media"
	"premium-player/internal/platform/logger"
	"premium-player/internal/portalapi"
)

// ErrInvalidVideoRef is returned by Open for a reference missing its ids.
var ErrInvalidVideoRef = errors.New("invalid video reference")

// VideoRef identifies the video to open. URL is the signed playlist URL when
// the page already has one; otherwise Open asks the backend for it.
type VideoRef struct {
	VideoID       string `json:"video_id"`
	LibraryID     string `json:"library_id"`
	TierID        string `json:"tier_id,omitempty"`
	NumericTierID int    `json:"numeric_tier_id"`
	Title         string `json:"title,omitempty"`
	URL           string `json:"url,omitempty"`
}

// Validate checks the ids Open depends on.
func (r VideoRef) Validate() error {
	switch {
	case r.VideoID == "":
		return fmt.Errorf("%w: video_id is required", ErrInvalidVideoRef)
	case r.LibraryID == "":
		return fmt.Errorf("%w: library_id is required", ErrInvalidVideoRef)
	}
	return nil
}

// EngineFactory creates a fresh media engine for one player.
type EngineFactory func(videoID string) (media.Engine, error)

// Backend is the slice of the portal API the controller calls. Satisfied by
// *portalapi.Client.
type Backend interface {
	URLRefresher
	Profile(ctx context.Context) (portalapi.Profile, error)
}

// Deps wires a Portal. Analytics, Tokens and Refresh may be nil.
type Deps struct {
	Config    Config
	Clock     clockwork.Clock
	Logger    *slog.Logger
	Page      Page
	NewEngine EngineFactory
	Backend   Backend
	Analytics AnalyticsSink
	Tokens    portalapi.TokenStore
	Refresh   RefreshRecorder
}

// Portal is what the surrounding page talks to: it opens and closes playback
// sessions and owns the services they share.
type Portal struct {
	cfg       Config
	clk       clockwork.Clock
	log       *slog.Logger
	page      Page
	newEngine EngineFactory
	backend   Backend
	sink      AnalyticsSink
	tokens    portalapi.TokenStore

	registry  *Registry
	refresher *TokenRefresher

	mu       sync.Mutex
	sessions map[string]*Session
	profile  *portalapi.Profile
}

// NewPortal validates the config and wires the registry teardown hooks to the
// analytics sink and the token refresher.
func NewPortal(d Deps) (*Portal, error) {
	if err := d.Config.Validate(); err != nil {
		return nil, err
	}
	if d.Page == nil || d.NewEngine == nil || d.Backend == nil {
		return nil, errors.New("player: page, engine factory and backend are required")
	}
	if d.Clock == nil {
		d.Clock = clockwork.NewRealClock()
	}
	if d.Analytics == nil {
		d.Analytics = nopSink{}
	}
	log := logger.OrDefault(d.Logger)

	p := &Portal{
		cfg:       d.Config,
		clk:       d.Clock,
		log:       log,
		page:      d.Page,
		newEngine: d.NewEngine,
		backend:   d.Backend,
		sink:      d.Analytics,
		tokens:    d.Tokens,
		registry:  NewRegistry(d.Page, log),
		refresher: NewTokenRefresher(d.Backend, d.Clock, d.Config, d.Refresh, log),
		sessions:  make(map[string]*Session),
	}
	p.registry.SetHooks(TeardownHooks{
		EndAnalytics: p.sink.EndSession,
		StopLease:    p.refresher.StopRefresh,
	})
	return p, nil
}

// Registry returns the player registry.
func (p *Portal) Registry() *Registry { return p.registry }

// Refresher returns the token refresher.
func (p *Portal) Refresher() *TokenRefresher { return p.refresher }

// Open mounts a player for ref and starts loading it. Opening a video that
// is already open replaces the old session.
func (p *Portal) Open(ctx context.Context, ref VideoRef) (*Session, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}
	id := ref.VideoID
	log := p.log.With(slog.String("video_id", id))

	if p.has(id) {
		log.Debug("replacing open player")
		p.Close(id)
	}

	url := ref.URL
	if url == "" {
		fresh, err := p.backend.RefreshVideoToken(ctx, id, ref.LibraryID)
		if err != nil {
			return nil, fmt.Errorf("open %s: fetch playback url: %w", id, err)
		}
		url = fresh
	}

	engine, err := p.newEngine(id)
	if err != nil {
		return nil, fmt.Errorf("open %s: create engine: %w", id, err)
	}
	container, err := p.page.Mount(id)
	if err != nil {
		_ = engine.Dispose()
		return nil, fmt.Errorf("open %s: mount: %w", id, err)
	}

	subs := &media.Subscriptions{}
	entry := &Entry{PlayerID: id, Media: engine, Container: container, Subscriptions: subs}
	if err := p.registry.Register(entry); err != nil {
		_ = engine.Dispose()
		_ = container.Remove()
		return nil, fmt.Errorf("open %s: %w", id, err)
	}
	p.page.SetScrollLock(true)

	sess := newSession(sessionDeps{
		ref:       ref,
		url:       url,
		engine:    engine,
		container: container,
		registry:  p.registry,
		subs:      subs,
		caps:      media.ResolveCapabilities(engine, p.cfg.TouchPrimary),
		cfg:       p.cfg,
		clk:       p.clk,
		log:       p.log,
		sink:      p.sink,
	})

	p.mu.Lock()
	p.sessions[id] = sess
	p.mu.Unlock()

	p.sink.StartSession(id, ref.NumericTierID)
	sess.attach()
	if err := sess.load(); err != nil {
		p.Close(id)
		return nil, fmt.Errorf("open %s: %w", id, err)
	}
	p.refresher.RegisterSession(id, sess, ref.NumericTierID, ref.LibraryID)

	log.Info("player opened",
		slog.String("library_id", ref.LibraryID),
		slog.Int("tier_id", ref.NumericTierID),
		slog.Bool("native_abr", sess.caps.SupportsNativeAdaptiveBitrate))
	return sess, nil
}

// Session returns the open session for videoID.
func (p *Portal) Session(videoID string) (*Session, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s, ok := p.sessions[videoID]
	return s, ok
}

// Sessions returns every open session ordered by video id.
func (p *Portal) Sessions() []*Session {
	p.mu.Lock()
	out := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		out = append(out, s)
	}
	p.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].VideoID() < out[j].VideoID() })
	return out
}

// Close tears down the player for videoID and reports whether one was open.
// It is safe to call for unknown or already closed ids.
func (p *Portal) Close(videoID string) bool {
	p.mu.Lock()
	sess, open := p.sessions[videoID]
	delete(p.sessions, videoID)
	p.mu.Unlock()

	if _, registered := p.registry.Entry(videoID); registered {
		p.registry.Close(videoID)
		open = true
	} else {
		// The entry was evicted as stale. The engine is gone but the hooks,
		// the subscription set and the container still need to be released.
		p.sink.EndSession(videoID)
		p.refresher.StopRefresh(videoID)
		if sess != nil {
			p.registry.step(videoID, "detach_events", func() error {
				sess.subs.DetachAll()
				return nil
			})
			p.registry.step(videoID, "remove_container", sess.container.Remove)
		}
		if open && p.registry.Len() == 0 {
			p.page.SetScrollLock(false)
		}
	}
	if sess != nil {
		sess.shutdown()
	}
	if open {
		p.log.Info("player closed", slog.String("video_id", videoID))
	}
	return open
}

// CloseAll closes every open player.
func (p *Portal) CloseAll() {
	ids := p.registry.IDs()
	p.mu.Lock()
	for id := range p.sessions {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	seen := make(map[string]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		p.Close(id)
	}
}

// Profile returns the last fetched profile.
func (p *Portal) Profile() (portalapi.Profile, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.profile == nil {
		return portalapi.Profile{}, false
	}
	return *p.profile, true
}

// RefreshProfile fetches the profile and applies its system config. A
// backend refresh interval applies to leases registered afterwards, and only
// if it stays below the URL lifetime.
func (p *Portal) RefreshProfile(ctx context.Context) (portalapi.Profile, error) {
	prof, err := p.backend.Profile(ctx)
	if err != nil {
		return portalapi.Profile{}, fmt.Errorf("refresh profile: %w", err)
	}

	if secs := prof.System.TokenRefreshSeconds; secs > 0 {
		d := time.Duration(secs) * time.Second
		if d < p.cfg.TokenURLLifetime {
			p.refresher.SetInterval(d)
		} else {
			p.log.Warn("ignoring token refresh interval not below url lifetime",
				slog.Duration("interval", d),
				slog.Duration("lifetime", p.cfg.TokenURLLifetime))
		}
	}

	p.mu.Lock()
	p.profile = &prof
	p.mu.Unlock()

	p.log.Debug("profile refreshed",
		slog.String("tier_id", prof.TierID),
		slog.Bool("subscription_active", prof.SubscriptionActive))
	return prof, nil
}

// Logout closes every player, flushes analytics and forgets the bearer
// token and cached profile.
func (p *Portal) Logout(ctx context.Context) error {
	p.CloseAll()
	p.refresher.StopAll()
	p.sink.Flush(ctx)

	p.mu.Lock()
	p.profile = nil
	p.mu.Unlock()

	if p.tokens != nil {
		if err := p.tokens.Clear(); err != nil {
			return fmt.Errorf("logout: clear token: %w", err)
		}
	}
	p.log.Info("logged out")
	return nil
}

// Shutdown closes every player and flushes pending analytics.
func (p *Portal) Shutdown(ctx context.Context) {
	p.CloseAll()
	p.refresher.StopAll()
	p.sink.Flush(ctx)
}

func (p *Portal) has(videoID string) bool {
	p.mu.Lock()
	_, ok := p.sessions[videoID]
	p.mu.Unlock()
	if ok {
		return true
	}
	_, ok = p.registry.Entry(videoID)
	return ok
}

type nopSink struct{}

func (nopSink) StartSession(string, int)                         {}
func (nopSink) EndSession(string)                                {}
func (nopSink) Track(string, analytics.Kind, analytics.Snapshot) {}
func (nopSink) ActiveSessionID(string) string                    { return "" }
func (nopSink) Flush(context.Context)                            {}
