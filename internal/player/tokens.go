package player

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"premium-player/internal/platform/logger"
	"premium-player/internal/platform/metrics"
	"premium-player/internal/portalapi"
)

// SubscriptionExpiredMessage is shown when the backend refuses to renew a
// playback URL.
const SubscriptionExpiredMessage = "Your subscription has expired. Renew it to keep watching."

// URLRefresher issues fresh signed playback URLs. Satisfied by
// *portalapi.Client.
type URLRefresher interface {
	RefreshVideoToken(ctx context.Context, videoID, libraryID string) (string, error)
}

// RefreshRecorder observes refresh outcomes. Satisfied by *metrics.Metrics.
type RefreshRecorder interface {
	ObserveRefresh(result string)
}

// LeaseTarget is the session a lease keeps supplied with fresh URLs.
type LeaseTarget interface {
	Alive() bool
	SwapSource(ctx context.Context, url string) error
	Expire(msg string)
}

type lease struct {
	videoID   string
	tierID    int
	libraryID string
	target    LeaseTarget
	ticker    clockwork.Ticker
	stop      chan struct{}
	once      sync.Once
}

// TokenRefresher renews the signed URL of every open session on a fixed
// period. There is at most one lease per video id.
type TokenRefresher struct {
	backend URLRefresher
	clk     clockwork.Clock
	log     *slog.Logger
	rec     RefreshRecorder
	timeout time.Duration

	mu       sync.Mutex
	interval time.Duration
	leases   map[string]*lease
}

// NewTokenRefresher returns a refresher that ticks every cfg.TokenRefreshInterval.
// rec may be nil.
func NewTokenRefresher(backend URLRefresher, clk clockwork.Clock, cfg Config, rec RefreshRecorder, log *slog.Logger) *TokenRefresher {
	return &TokenRefresher{
		backend:  backend,
		clk:      clk,
		log:      logger.OrDefault(log),
		rec:      rec,
		timeout:  cfg.RefreshTimeout,
		interval: cfg.TokenRefreshInterval,
		leases:   make(map[string]*lease),
	}
}

// SetInterval changes the period for leases registered afterwards.
func (r *TokenRefresher) SetInterval(d time.Duration) {
	if d <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.interval = d
}

// Interval returns the period applied to new leases.
func (r *TokenRefresher) Interval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

// RegisterSession starts a lease for videoID, replacing any existing one.
func (r *TokenRefresher) RegisterSession(videoID string, target LeaseTarget, tierID int, libraryID string) {
	r.mu.Lock()
	old := r.leases[videoID]
	l := &lease{
		videoID:   videoID,
		tierID:    tierID,
		libraryID: libraryID,
		target:    target,
		ticker:    r.clk.NewTicker(r.interval),
		stop:      make(chan struct{}),
	}
	r.leases[videoID] = l
	r.mu.Unlock()

	if old != nil {
		old.cancel()
	}
	go r.run(l)
	r.log.Debug("token lease registered", slog.String("video_id", videoID), slog.Int("tier_id", tierID))
}

// StopRefresh ends the lease for videoID. Unknown ids are ignored.
func (r *TokenRefresher) StopRefresh(videoID string) {
	r.mu.Lock()
	l := r.leases[videoID]
	delete(r.leases, videoID)
	r.mu.Unlock()

	if l != nil {
		l.cancel()
	}
}

// StopAll ends every lease.
func (r *TokenRefresher) StopAll() {
	r.mu.Lock()
	leases := r.leases
	r.leases = make(map[string]*lease)
	r.mu.Unlock()

	for _, l := range leases {
		l.cancel()
	}
}

// Leases returns the number of live leases.
func (r *TokenRefresher) Leases() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.leases)
}

// Has reports whether videoID holds a lease.
func (r *TokenRefresher) Has(videoID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.leases[videoID]
	return ok
}

func (l *lease) cancel() {
	l.once.Do(func() {
		l.ticker.Stop()
		close(l.stop)
	})
}

func (r *TokenRefresher) run(l *lease) {
	for {
		select {
		case <-l.stop:
			return
		case <-l.ticker.Chan():
			if !r.tick(l) {
				return
			}
		}
	}
}

// tick renews one lease. It reports whether the lease should keep running.
func (r *TokenRefresher) tick(l *lease) bool {
	if !r.current(l) {
		return false
	}
	log := r.log.With(slog.String("video_id", l.videoID))

	if !l.target.Alive() {
		r.release(l)
		r.observe(metrics.RefreshStale)
		log.Debug("token lease dropped for closed player")
		return false
	}

	// The deadline runs on r.clk so a fake clock drives it in tests.
	ctx, cancel := context.WithCancel(context.Background())
	deadline := r.clk.AfterFunc(r.timeout, cancel)
	defer func() {
		deadline.Stop()
		cancel()
	}()

	url, err := r.backend.RefreshVideoToken(ctx, l.videoID, l.libraryID)
	switch {
	case errors.Is(err, portalapi.ErrAuthExpired):
		r.release(l)
		r.observe(metrics.RefreshAuthExpired)
		log.Warn("token refresh refused, subscription expired")
		if l.target.Alive() {
			l.target.Expire(SubscriptionExpiredMessage)
		}
		return false
	case err != nil:
		r.observe(metrics.RefreshFailed)
		log.Debug("token refresh failed, retrying next tick", slog.String("error", err.Error()))
		return true
	}

	if !r.current(l) || !l.target.Alive() {
		r.release(l)
		r.observe(metrics.RefreshStale)
		return false
	}
	if err := l.target.SwapSource(ctx, url); err != nil {
		if errors.Is(err, ErrDisposed) {
			r.release(l)
			r.observe(metrics.RefreshStale)
			return false
		}
		r.observe(metrics.RefreshFailed)
		log.Warn("source swap failed", slog.String("error", err.Error()))
		return true
	}
	r.observe(metrics.RefreshOK)
	log.Debug("playback url renewed")
	return true
}

// current reports whether l is still the registered lease for its video.
func (r *TokenRefresher) current(l *lease) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.leases[l.videoID] == l
}

// release removes l if it is still registered and stops its ticker.
func (r *TokenRefresher) release(l *lease) {
	r.mu.Lock()
	if r.leases[l.videoID] == l {
		delete(r.leases, l.videoID)
	}
	r.mu.Unlock()
	l.cancel()
}

func (r *TokenRefresher) observe(result string) {
	if r.rec != nil {
		r.rec.ObserveRefresh(result)
	}
}
