// Package headless implements media.Engine without a decoder. It loads the
// HLS master playlist behind a signed URL, exposes its variants as
// adaptive-bitrate levels and advances the playhead off a clock, emitting the
// same lifecycle events a browser media element would.
package headless

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/grafov/m3u8"
	"github.com/jonboulle/clockwork"

	"premium-player/internal/media"
	"premium-player/internal/platform/logger"
)

const (
	defaultTickInterval = 250 * time.Millisecond
	maxManifestBytes    = 2 << 20
)

var errNoSource = errors.New("no source assigned")

// Options configures an Engine. Zero values pick sensible defaults.
type Options struct {
	HTTPClient   *http.Client
	Clock        clockwork.Clock
	Logger       *slog.Logger
	TickInterval time.Duration
}

// Engine is a headless media.Engine. It also implements media.LevelController
// and media.ManifestSource.
type Engine struct {
	http *http.Client
	clk  clockwork.Clock
	log  *slog.Logger
	tick time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	handlers    map[media.EventType]map[int]media.Handler
	nextID      int
	src         string
	gen         int
	loaded      bool
	manifest    string
	levels      []media.Level
	currentTime float64
	duration    float64
	paused      bool
	muted       bool
	volume      float64
	rate        float64
	disposed    bool
	stopTicker  chan struct{}
	lastTick    time.Time
}

// New returns an idle engine with no source.
func New(opts Options) *Engine {
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		http:     opts.HTTPClient,
		clk:      opts.Clock,
		log:      logger.OrDefault(opts.Logger),
		tick:     opts.TickInterval,
		ctx:      ctx,
		cancel:   cancel,
		handlers: make(map[media.EventType]map[int]media.Handler),
		paused:   true,
		volume:   1,
		rate:     1,
	}
}

// SetSource implements media.Engine. Assigning a source resets the playhead,
// pauses, emits loadstart and starts loading the manifest in the background.
func (e *Engine) SetSource(src, mimeType string) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return media.ErrDisposed
	}
	e.stopProgressLocked()
	e.gen++
	gen := e.gen
	e.src = src
	e.loaded = false
	e.manifest = ""
	e.levels = nil
	e.currentTime = 0
	e.duration = 0
	e.paused = true
	e.mu.Unlock()

	e.log.Debug("headless source assigned", slog.String("mime_type", mimeType), slog.Int("generation", gen))
	e.emit(media.Event{Type: media.EventLoadStart})
	go e.load(gen, src)
	return nil
}

// ClearSource implements media.Engine.
func (e *Engine) ClearSource() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return media.ErrDisposed
	}
	e.stopProgressLocked()
	e.gen++
	e.src = ""
	e.loaded = false
	e.manifest = ""
	e.levels = nil
	e.currentTime = 0
	e.duration = 0
	e.paused = true
	return nil
}

func (e *Engine) load(gen int, src string) {
	manifest, err := e.fetch(src)
	if err != nil {
		e.fail(gen, err)
		return
	}
	levels, err := media.ParseVariants(manifest)
	if err != nil {
		e.fail(gen, &media.PlaybackError{Code: media.ErrCodeFormatUnsupported})
		return
	}
	duration := e.probeDuration(src, manifest)

	e.mu.Lock()
	if e.disposed || gen != e.gen {
		e.mu.Unlock()
		return
	}
	e.loaded = true
	e.manifest = manifest
	e.levels = levels
	e.duration = duration
	e.mu.Unlock()

	e.emit(media.Event{Type: media.EventCanPlay})
}

func (e *Engine) fail(gen int, err error) {
	var perr *media.PlaybackError
	if !errors.As(err, &perr) {
		perr = &media.PlaybackError{Code: media.ErrCodeNetwork}
	}
	e.mu.Lock()
	stale := e.disposed || gen != e.gen
	e.mu.Unlock()
	if stale {
		return
	}
	e.log.Debug("headless load failed", slog.String("error", err.Error()))
	e.emit(media.Event{Type: media.EventError, Err: perr})
}

func (e *Engine) fetch(src string) (string, error) {
	req, err := http.NewRequestWithContext(e.ctx, http.MethodGet, src, nil)
	if err != nil {
		return "", &media.PlaybackError{Code: media.ErrCodeSourceUnavailable}
	}
	resp, err := e.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch manifest: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusForbidden, resp.StatusCode == http.StatusNotFound, resp.StatusCode == http.StatusGone:
		return "", &media.PlaybackError{Code: media.ErrCodeSourceUnavailable}
	case resp.StatusCode >= 400:
		return "", &media.PlaybackError{Code: media.ErrCodeNetwork}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestBytes))
	if err != nil {
		return "", fmt.Errorf("read manifest: %w", err)
	}
	return string(body), nil
}

// probeDuration sums the segment durations of the first variant playlist.
// Failures leave the duration unknown (0).
func (e *Engine) probeDuration(src, manifest string) float64 {
	pl, kind, err := m3u8.DecodeFrom(strings.NewReader(manifest), false)
	if err != nil || kind != m3u8.MASTER {
		return 0
	}
	master := pl.(*m3u8.MasterPlaylist)
	if len(master.Variants) == 0 || master.Variants[0] == nil {
		return 0
	}
	variantURL, err := resolveRef(src, master.Variants[0].URI)
	if err != nil {
		return 0
	}
	body, err := e.fetch(variantURL)
	if err != nil {
		return 0
	}
	vpl, vkind, err := m3u8.DecodeFrom(strings.NewReader(body), false)
	if err != nil || vkind != m3u8.MEDIA {
		return 0
	}
	var total float64
	for _, seg := range vpl.(*m3u8.MediaPlaylist).Segments {
		if seg != nil {
			total += seg.Duration
		}
	}
	return total
}

func resolveRef(base, ref string) (string, error) {
	b, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	r, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	resolved := b.ResolveReference(r)
	// Signed query parameters carry over to sibling resources.
	if resolved.RawQuery == "" {
		resolved.RawQuery = b.RawQuery
	}
	return resolved.String(), nil
}

// CurrentTime implements media.Engine.
func (e *Engine) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advanceLocked()
	return e.currentTime
}

// SetCurrentTime implements media.Engine.
func (e *Engine) SetCurrentTime(t float64) {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return
	}
	if t < 0 {
		t = 0
	}
	if e.duration > 0 && t > e.duration {
		t = e.duration
	}
	e.currentTime = t
	e.lastTick = e.clk.Now()
	e.mu.Unlock()
	e.emit(media.Event{Type: media.EventTimeUpdate})
}

// Duration implements media.Engine.
func (e *Engine) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

// Paused implements media.Engine.
func (e *Engine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

// Play implements media.Engine.
func (e *Engine) Play() error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return media.ErrDisposed
	}
	if e.src == "" {
		e.mu.Unlock()
		return errNoSource
	}
	if !e.paused {
		e.mu.Unlock()
		return nil
	}
	e.paused = false
	loaded := e.loaded
	if loaded {
		e.startProgressLocked()
	}
	e.mu.Unlock()

	e.emit(media.Event{Type: media.EventPlay})
	if loaded {
		e.emit(media.Event{Type: media.EventPlaying})
	}
	return nil
}

// Pause implements media.Engine.
func (e *Engine) Pause() error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return media.ErrDisposed
	}
	if e.paused {
		e.mu.Unlock()
		return nil
	}
	e.advanceLocked()
	e.paused = true
	e.stopProgressLocked()
	e.mu.Unlock()

	e.emit(media.Event{Type: media.EventPause})
	return nil
}

// Muted implements media.Engine.
func (e *Engine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

// SetMuted implements media.Engine.
func (e *Engine) SetMuted(muted bool) {
	e.mu.Lock()
	changed := e.muted != muted && !e.disposed
	e.muted = muted
	e.mu.Unlock()
	if changed {
		e.emit(media.Event{Type: media.EventVolumeChange})
	}
}

// Volume implements media.Engine.
func (e *Engine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

// SetVolume implements media.Engine.
func (e *Engine) SetVolume(v float64) {
	e.mu.Lock()
	changed := e.volume != v && !e.disposed
	e.volume = v
	e.mu.Unlock()
	if changed {
		e.emit(media.Event{Type: media.EventVolumeChange})
	}
}

// PlaybackRate implements media.Engine.
func (e *Engine) PlaybackRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

// SetPlaybackRate implements media.Engine.
func (e *Engine) SetPlaybackRate(rate float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.advanceLocked()
	e.rate = rate
}

// Levels implements media.LevelController.
func (e *Engine) Levels() []media.Level {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]media.Level, len(e.levels))
	copy(out, e.levels)
	return out
}

// EnableLevels implements media.LevelController.
func (e *Engine) EnableLevels(keep func(media.Level) bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for i := range e.levels {
		e.levels[i].Enabled = keep(e.levels[i])
	}
}

// Manifest implements media.ManifestSource.
func (e *Engine) Manifest() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.manifest
}

// On implements media.Engine.
func (e *Engine) On(event media.EventType, h media.Handler) media.Unsubscribe {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return func() {}
	}
	id := e.nextID
	e.nextID++
	if e.handlers[event] == nil {
		e.handlers[event] = make(map[int]media.Handler)
	}
	e.handlers[event][id] = h

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.handlers[event], id)
			e.mu.Unlock()
		})
	}
}

// Dispose implements media.Engine.
func (e *Engine) Dispose() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return nil
	}
	e.disposed = true
	e.stopProgressLocked()
	e.handlers = make(map[media.EventType]map[int]media.Handler)
	e.cancel()
	return nil
}

// IsDisposed implements media.Engine.
func (e *Engine) IsDisposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}

func (e *Engine) emit(ev media.Event) {
	e.mu.Lock()
	hs := make([]media.Handler, 0, len(e.handlers[ev.Type]))
	for _, h := range e.handlers[ev.Type] {
		hs = append(hs, h)
	}
	e.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

// advanceLocked moves the playhead by the clock time elapsed since the last
// tick. Caller must hold e.mu.
func (e *Engine) advanceLocked() {
	if e.paused || !e.loaded || e.disposed {
		return
	}
	now := e.clk.Now()
	e.currentTime += now.Sub(e.lastTick).Seconds() * e.rate
	e.lastTick = now
	if e.duration > 0 && e.currentTime > e.duration {
		e.currentTime = e.duration
	}
}

func (e *Engine) startProgressLocked() {
	if e.stopTicker != nil {
		return
	}
	stop := make(chan struct{})
	e.stopTicker = stop
	e.lastTick = e.clk.Now()
	ticker := e.clk.NewTicker(e.tick)
	go e.progress(ticker, stop)
}

func (e *Engine) stopProgressLocked() {
	if e.stopTicker != nil {
		close(e.stopTicker)
		e.stopTicker = nil
	}
}

func (e *Engine) progress(ticker clockwork.Ticker, stop chan struct{}) {
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
		}

		e.mu.Lock()
		if e.stopTicker != stop {
			e.mu.Unlock()
			return
		}
		e.advanceLocked()
		ended := e.duration > 0 && e.currentTime >= e.duration
		if ended {
			e.paused = true
			e.stopProgressLocked()
		}
		e.mu.Unlock()

		e.emit(media.Event{Type: media.EventTimeUpdate})
		if ended {
			e.emit(media.Event{Type: media.EventPause})
			e.emit(media.Event{Type: media.EventEnded})
			return
		}
	}
}
