package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"premium-player/internal/analytics"
	"premium-player/internal/media"
	"premium-player/internal/platform/logger"
	"premium-player/internal/portalapi"
)

var (
	// ErrDisposed is returned by commands on a player whose handle is gone.
	ErrDisposed = errors.New("player disposed")

	// ErrNotReady is returned by commands that need loaded media.
	ErrNotReady = errors.New("player not ready")

	// ErrUnknownKey is returned by HandleKey for an unbound key.
	ErrUnknownKey = errors.New("unknown key")

	errSwapInProgress = errors.New("source swap already in progress")
	errSwapTimeout    = errors.New("source swap timed out")
	errSwapFailed     = errors.New("swapped source failed to load")
)

// AnalyticsSink receives session usage events. Satisfied by
// *analytics.Tracker.
type AnalyticsSink interface {
	StartSession(videoID string, tierID int)
	EndSession(videoID string)
	Track(videoID string, kind analytics.Kind, snap analytics.Snapshot)
	ActiveSessionID(videoID string) string
	Flush(ctx context.Context)
}

// Pointer event types accepted by Session.Pointer.
const (
	PointerStart = "start"
	PointerMove  = "move"
	PointerEnd   = "end"
	PointerClick = "click"
)

// PointerEvent is one raw pointer or touch sample from the page.
type PointerEvent struct {
	Type          string  `json:"type"`
	X             float64 `json:"x"`
	Y             float64 `json:"y"`
	ViewportWidth float64 `json:"viewport_width"`
}

// SessionSnapshot is a point-in-time view of a session.
type SessionSnapshot struct {
	VideoID            string    `json:"video_id"`
	LibraryID          string    `json:"library_id"`
	SessionID          string    `json:"session_id,omitempty"`
	NumericTierID      int       `json:"numeric_tier_id"`
	Title              string    `json:"title,omitempty"`
	State              string    `json:"state"`
	Quality            string    `json:"quality"`
	QualityLabel       string    `json:"quality_label"`
	AvailableQualities []string  `json:"available_qualities"`
	Speed              float64   `json:"speed"`
	SpeedLabel         string    `json:"speed_label"`
	Volume             float64   `json:"volume"`
	Muted              bool      `json:"muted"`
	Fullscreen         bool      `json:"fullscreen"`
	ControlsVisible    bool      `json:"controls_visible"`
	CurrentTime        float64   `json:"current_time"`
	Duration           float64   `json:"duration"`
	Elapsed            string    `json:"elapsed"`
	Total              string    `json:"total"`
	ErrorCode          int       `json:"error_code,omitempty"`
	ErrorMessage       string    `json:"error_message,omitempty"`
	LastActivity       time.Time `json:"last_activity"`
}

type sessionDeps struct {
	ref       VideoRef
	url       string
	engine    media.Engine
	container Container
	registry  *Registry
	subs      *media.Subscriptions
	caps      media.Capabilities
	cfg       Config
	clk       clockwork.Clock
	log       *slog.Logger
	sink      AnalyticsSink
}

// Session is one opened video: the playback state machine wired around a
// single engine handle.
type Session struct {
	ref       VideoRef
	engine    media.Engine
	container Container
	registry  *Registry
	subs      *media.Subscriptions
	caps      media.Capabilities
	cfg       Config
	clk       clockwork.Clock
	log       *slog.Logger
	sink      AnalyticsSink

	quality  *QualityManager
	speed    *SpeedManager
	controls *ControlsUIManager
	gestures *GestureInputHandler

	ctx    context.Context
	cancel context.CancelFunc

	mu           sync.Mutex
	state        State
	seekReturn   State
	bufferReturn State
	scrubPreview float64
	url          string
	volume       float64
	muted        bool
	fullscreen   bool
	errCode      int
	errMsg       string
	expired      bool
	discovering  bool
	swapDone     chan struct{}
	owed         *swapRestore
}

// swapRestore is the playback state a swap carries over to the new source.
type swapRestore struct {
	pos     float64
	playing bool
	rate    float64
}

func newSession(d sessionDeps) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		ref:       d.ref,
		engine:    d.engine,
		container: d.container,
		registry:  d.registry,
		subs:      d.subs,
		caps:      d.caps,
		cfg:       d.cfg,
		clk:       d.clk,
		log:       logger.OrDefault(d.log).With(slog.String("video_id", d.ref.VideoID)),
		sink:      d.sink,
		ctx:       ctx,
		cancel:    cancel,
		state:     StateIdle,
		url:       d.url,
		volume:    d.engine.Volume(),
		muted:     d.engine.Muted(),
	}
	s.quality = NewQualityManager(d.caps, s.handle)
	s.speed = NewSpeedManager(s.handle)
	s.controls = NewControlsUIManager(d.clk, d.cfg, d.caps.TouchPrimary, s, func(visible bool) {
		s.log.Debug("controls visibility changed", slog.Bool("visible", visible))
	})
	s.gestures = NewGestureInputHandler(d.clk, d.cfg, s, s.log)
	return s
}

// attach subscribes the session to every lifecycle event of its engine.
func (s *Session) attach() {
	for _, ev := range media.LifecycleEvents {
		s.subs.Add(s.engine, ev, s.onEvent)
	}
}

// load assigns the initial source and moves to Loading.
func (s *Session) load() error {
	s.mu.Lock()
	s.state = StateLoading
	url := s.url
	s.mu.Unlock()

	if err := s.engine.SetSource(url, media.HLSMimeType); err != nil {
		return fmt.Errorf("assign source: %w", err)
	}
	return nil
}

// shutdown moves the session to Disposed and stops its own timers. Engine
// teardown belongs to the Registry.
func (s *Session) shutdown() {
	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return
	}
	s.state = StateDisposed
	s.swapDone = nil
	s.owed = nil
	s.mu.Unlock()

	s.cancel()
	s.controls.Stop()
	s.gestures.Stop()
}

// handle returns the engine only while the registry still vouches for it and
// it is the one this session was opened with.
func (s *Session) handle() (media.Engine, bool) {
	e, ok := s.registry.SafeHandle(s.ref.VideoID)
	if !ok || e != s.engine {
		return nil, false
	}
	return e, true
}

// VideoID returns the id the session was opened for.
func (s *Session) VideoID() string { return s.ref.VideoID }

// Ref returns the reference the session was opened with.
func (s *Session) Ref() VideoRef { return s.ref }

// Alive reports whether the session's engine handle is still usable.
func (s *Session) Alive() bool {
	_, ok := s.handle()
	return ok
}

// State returns the current state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Playing implements PlaybackStatus.
func (s *Session) Playing() bool {
	return s.State() == StatePlaying
}

// Paused implements PlaybackStatus. A loaded session that has not started
// yet counts as paused.
func (s *Session) Paused() bool {
	st := s.State()
	return st == StatePaused || st == StateReady
}

// Seeking implements PlaybackStatus.
func (s *Session) Seeking() bool {
	return s.State() == StateSeeking
}

// CurrentTime returns the playhead position, or 0 once disposed.
func (s *Session) CurrentTime() float64 {
	e, ok := s.handle()
	if !ok {
		return 0
	}
	return e.CurrentTime()
}

// Duration returns the media duration, or 0 while unknown.
func (s *Session) Duration() float64 {
	e, ok := s.handle()
	if !ok {
		return 0
	}
	return e.Duration()
}

// Volume returns the last applied volume.
func (s *Session) Volume() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.volume
}

// Quality exposes the session's quality manager.
func (s *Session) Quality() *QualityManager { return s.quality }

// Speed exposes the session's speed manager.
func (s *Session) Speed() *SpeedManager { return s.speed }

// Controls exposes the session's control surface state.
func (s *Session) Controls() *ControlsUIManager { return s.controls }

// Gestures exposes the session's gesture handler.
func (s *Session) Gestures() *GestureInputHandler { return s.gestures }

// Play starts playback from Ready or Paused. While scrubbing it arranges for
// playback to resume when the scrub ends.
func (s *Session) Play() error {
	e, ok := s.handle()
	if !ok {
		return ErrDisposed
	}

	s.mu.Lock()
	st := s.state
	switch st {
	case StateSeeking:
		s.seekReturn = StatePlaying
		s.mu.Unlock()
		return nil
	case StateReady, StatePaused, StatePlaying, StateBuffering:
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotReady, st)
	}
	s.mu.Unlock()

	if err := e.Play(); err != nil {
		return fmt.Errorf("play: %w", err)
	}

	s.mu.Lock()
	changed := false
	switch s.state {
	case StateReady, StatePaused:
		s.state = StatePlaying
		changed = true
	case StateBuffering:
		s.bufferReturn = StatePlaying
	}
	s.mu.Unlock()

	if changed {
		s.track(analytics.KindPlay)
		s.controls.Show()
	}
	return nil
}

// Pause pauses playback.
func (s *Session) Pause() error {
	e, ok := s.handle()
	if !ok {
		return ErrDisposed
	}

	s.mu.Lock()
	st := s.state
	switch st {
	case StateSeeking:
		s.seekReturn = StatePaused
		s.mu.Unlock()
		return nil
	case StateReady, StatePaused:
		s.mu.Unlock()
		return nil
	case StatePlaying, StateBuffering:
	default:
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotReady, st)
	}
	s.mu.Unlock()

	if err := e.Pause(); err != nil {
		return fmt.Errorf("pause: %w", err)
	}

	s.mu.Lock()
	changed := false
	switch s.state {
	case StatePlaying:
		s.state = StatePaused
		changed = true
	case StateBuffering:
		s.bufferReturn = StatePaused
	}
	s.mu.Unlock()

	if changed {
		s.track(analytics.KindPause)
		s.controls.Show()
	}
	return nil
}

// TogglePlay pauses when playback is running or about to resume, and plays
// otherwise.
func (s *Session) TogglePlay() error {
	s.mu.Lock()
	running := s.state == StatePlaying ||
		(s.state == StateBuffering && s.bufferReturn == StatePlaying) ||
		(s.state == StateSeeking && s.seekReturn == StatePlaying)
	s.mu.Unlock()

	if running {
		return s.Pause()
	}
	return s.Play()
}

// SeekTo moves the playhead to t, clamped to [0, duration].
func (s *Session) SeekTo(t float64) error {
	e, ok := s.handle()
	if !ok {
		return ErrDisposed
	}
	if st := s.State(); !st.canSeek() && st != StateSeeking {
		return fmt.Errorf("%w: %s", ErrNotReady, st)
	}

	e.SetCurrentTime(clampTime(t, e.Duration()))
	s.track(analytics.KindSeek)
	s.controls.Show()
	return nil
}

// SkipBy seeks relative to the current position.
func (s *Session) SkipBy(seconds float64) error {
	e, ok := s.handle()
	if !ok {
		return ErrDisposed
	}
	return s.SeekTo(e.CurrentTime() + seconds)
}

// BeginScrub enters Seeking. Playback pauses until EndScrub, which restores
// the play/pause state from before the scrub.
func (s *Session) BeginScrub() error {
	e, ok := s.handle()
	if !ok {
		return ErrDisposed
	}
	pos := e.CurrentTime()

	s.mu.Lock()
	if s.state == StateSeeking {
		s.mu.Unlock()
		return nil
	}
	if !s.state.canSeek() {
		st := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotReady, st)
	}
	ret := s.state
	if ret == StateBuffering {
		ret = s.bufferReturn
	}
	s.seekReturn = ret
	s.state = StateSeeking
	s.scrubPreview = pos
	s.mu.Unlock()

	if ret == StatePlaying {
		if err := e.Pause(); err != nil {
			s.log.Debug("pause for scrub failed", slog.String("error", err.Error()))
		}
	}
	s.controls.Show()
	return nil
}

// ScrubTo moves the scrub preview without seeking.
func (s *Session) ScrubTo(t float64) {
	e, ok := s.handle()
	if !ok {
		return
	}
	t = clampTime(t, e.Duration())

	s.mu.Lock()
	if s.state != StateSeeking {
		s.mu.Unlock()
		return
	}
	s.scrubPreview = t
	s.mu.Unlock()
}

// ScrubPreview reports whether a scrub is in progress and where it points.
func (s *Session) ScrubPreview() (bool, float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateSeeking, s.scrubPreview
}

// EndScrub commits the seek to t and leaves Seeking.
func (s *Session) EndScrub(t float64) error {
	e, ok := s.handle()
	if !ok {
		return ErrDisposed
	}
	t = clampTime(t, e.Duration())

	s.mu.Lock()
	if s.state != StateSeeking {
		s.mu.Unlock()
		return nil
	}
	ret := s.seekReturn
	s.state = ret
	s.scrubPreview = t
	s.mu.Unlock()

	e.SetCurrentTime(t)
	if ret == StatePlaying {
		if err := e.Play(); err != nil {
			s.log.Debug("resume after scrub failed", slog.String("error", err.Error()))
		}
	}
	s.track(analytics.KindSeek)
	s.controls.Show()
	return nil
}

// SetQuality switches the variant selection.
func (s *Session) SetQuality(q Quality) error {
	if err := s.quality.Set(q); err != nil {
		return err
	}
	s.track(analytics.KindQualityChange)
	return nil
}

// SetSpeed sets the playback rate.
func (s *Session) SetSpeed(rate float64) error {
	if err := s.speed.Set(rate); err != nil {
		return err
	}
	s.track(analytics.KindSpeedChange)
	return nil
}

// SetVolume sets the volume, clamped to [0,1]. A positive volume unmutes.
func (s *Session) SetVolume(v float64) error {
	e, ok := s.handle()
	if !ok {
		return ErrDisposed
	}
	switch {
	case math.IsNaN(v) || v < 0:
		v = 0
	case v > 1:
		v = 1
	}

	e.SetVolume(v)
	if v > 0 && e.Muted() {
		e.SetMuted(false)
	}
	muted := e.Muted()

	s.mu.Lock()
	s.volume = v
	s.muted = muted
	s.mu.Unlock()

	s.track(analytics.KindVolumeChange)
	s.controls.Show()
	return nil
}

// ToggleMute flips mute.
func (s *Session) ToggleMute() error {
	e, ok := s.handle()
	if !ok {
		return ErrDisposed
	}
	muted := !e.Muted()
	e.SetMuted(muted)

	s.mu.Lock()
	s.muted = muted
	s.mu.Unlock()

	s.track(analytics.KindVolumeChange)
	s.controls.Show()
	return nil
}

// ToggleFullscreen enters or leaves fullscreen through the container.
func (s *Session) ToggleFullscreen() error {
	if _, ok := s.handle(); !ok {
		return ErrDisposed
	}
	s.mu.Lock()
	fs := s.fullscreen
	s.mu.Unlock()

	var err error
	if fs {
		err = s.container.ExitFullscreen()
	} else {
		err = s.container.RequestFullscreen()
	}
	if err != nil {
		return fmt.Errorf("fullscreen: %w", err)
	}

	s.mu.Lock()
	s.fullscreen = !fs
	s.mu.Unlock()

	s.track(analytics.KindFullscreen)
	s.controls.Show()
	return nil
}

// ToggleControls flips control visibility.
func (s *Session) ToggleControls() {
	if _, ok := s.handle(); !ok {
		return
	}
	s.controls.Toggle()
}

// ShowControls records activity and shows the controls.
func (s *Session) ShowControls() {
	if _, ok := s.handle(); !ok {
		return
	}
	s.controls.Show()
}

// Retry reassigns the current source after a playback error. It does
// nothing outside Error, and refuses once the subscription has expired.
func (s *Session) Retry() error {
	e, ok := s.handle()
	if !ok {
		return ErrDisposed
	}

	s.mu.Lock()
	if s.state != StateError {
		s.mu.Unlock()
		return nil
	}
	if s.expired {
		s.mu.Unlock()
		return portalapi.ErrAuthExpired
	}
	s.state = StateLoading
	s.errCode = 0
	s.errMsg = ""
	url := s.url
	s.mu.Unlock()

	s.log.Info("retrying playback")
	if err := e.SetSource(url, media.HLSMimeType); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	return nil
}

// HandleKey runs the keyboard shortcut bound to key. Every key press counts
// as activity.
func (s *Session) HandleKey(key string) error {
	s.ShowControls()
	switch strings.ToLower(key) {
	case " ", "space", "spacebar", "k":
		return s.TogglePlay()
	case "arrowleft", "left", "j":
		return s.SkipBy(-s.cfg.SkipAmount)
	case "arrowright", "right", "l":
		return s.SkipBy(s.cfg.SkipAmount)
	case "arrowup", "up":
		return s.SetVolume(s.Volume() + 0.1)
	case "arrowdown", "down":
		return s.SetVolume(s.Volume() - 0.1)
	case "m":
		return s.ToggleMute()
	case "f":
		return s.ToggleFullscreen()
	}
	return fmt.Errorf("%w: %q", ErrUnknownKey, key)
}

// Pointer feeds one raw pointer sample to the gesture handler. On pointer
// devices movement counts as activity and a plain click toggles playback.
func (s *Session) Pointer(ev PointerEvent) error {
	if _, ok := s.handle(); !ok {
		return ErrDisposed
	}
	p := Point{X: ev.X, Y: ev.Y}
	switch ev.Type {
	case PointerStart:
		s.gestures.TouchStart(p, ev.ViewportWidth)
	case PointerMove:
		s.gestures.TouchMove(p)
		if !s.caps.TouchPrimary {
			s.controls.Show()
		}
	case PointerEnd:
		s.gestures.TouchEnd(p)
	case PointerClick:
		if s.gestures.Click() || s.caps.TouchPrimary {
			return nil
		}
		return s.TogglePlay()
	default:
		return fmt.Errorf("unknown pointer event %q", ev.Type)
	}
	return nil
}

// Expire drives the session to Error with msg and pauses playback. Retry is
// refused afterwards.
func (s *Session) Expire(msg string) {
	e, ok := s.handle()
	if !ok {
		return
	}

	s.mu.Lock()
	if s.state == StateDisposed {
		s.mu.Unlock()
		return
	}
	s.state = StateError
	s.errCode = 0
	s.errMsg = msg
	s.expired = true
	s.owed = nil
	s.releaseSwapLocked()
	s.mu.Unlock()

	if err := e.Pause(); err != nil {
		s.log.Debug("pause on expiry failed", slog.String("error", err.Error()))
	}
	s.log.Warn("playback session expired")
	s.track(analytics.KindError)
	s.controls.Show()
}

// SwapSource hot-swaps the signed URL, keeping the playhead position, rate,
// quality and play/pause state. Each step after the wait re-checks the
// handle; a session closed mid-swap returns ErrDisposed without touching the
// engine. When the wait times out or ctx ends first, the restore is applied by
// the canplay that eventually follows.
func (s *Session) SwapSource(ctx context.Context, url string) error {
	e, ok := s.handle()
	if !ok {
		return ErrDisposed
	}

	s.mu.Lock()
	switch s.state {
	case StateDisposed:
		s.mu.Unlock()
		return ErrDisposed
	case StateError:
		s.url = url
		s.mu.Unlock()
		return nil
	case StateIdle, StateLoading:
		s.url = url
		s.mu.Unlock()
		return e.SetSource(url, media.HLSMimeType)
	}
	if s.swapDone != nil {
		s.mu.Unlock()
		return errSwapInProgress
	}
	done := make(chan struct{})
	s.swapDone = done
	s.url = url
	owed := s.owed
	s.owed = nil
	s.mu.Unlock()

	// A previous swap that never saw canplay left the engine at 0; its
	// captured state is still the one to restore.
	restore := swapRestore{pos: e.CurrentTime(), playing: !e.Paused(), rate: s.speed.Current()}
	if owed != nil {
		restore = *owed
	}

	if err := e.SetSource(url, media.HLSMimeType); err != nil {
		s.endSwap(done)
		return fmt.Errorf("swap source: %w", err)
	}

	timer := s.clk.NewTimer(s.cfg.SwapTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-ctx.Done():
		if s.abandonSwap(done, restore) {
			return ctx.Err()
		}
	case <-s.ctx.Done():
		return ErrDisposed
	case <-timer.Chan():
		if s.abandonSwap(done, restore) {
			return errSwapTimeout
		}
	}

	if _, ok := s.handle(); !ok {
		return ErrDisposed
	}
	if s.State() == StateError {
		return errSwapFailed
	}
	return s.restorePlayback(e, restore)
}

func (s *Session) restorePlayback(e media.Engine, r swapRestore) error {
	e.SetCurrentTime(r.pos)
	e.SetPlaybackRate(r.rate)
	s.reapplyQuality()

	if !r.playing {
		return nil
	}
	if _, ok := s.handle(); !ok {
		return ErrDisposed
	}
	if err := e.Play(); err != nil {
		return fmt.Errorf("resume after swap: %w", err)
	}
	return nil
}

func (s *Session) endSwap(done chan struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.swapDone == done {
		s.swapDone = nil
	}
}

// abandonSwap stops waiting on done and leaves r owed to the next canplay.
// It reports false when done was already settled by canplay, an error or
// shutdown.
func (s *Session) abandonSwap(done chan struct{}, r swapRestore) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.swapDone != done {
		return false
	}
	s.swapDone = nil
	s.owed = &r
	return true
}

func (s *Session) releaseSwapLocked() {
	if s.swapDone != nil {
		close(s.swapDone)
		s.swapDone = nil
	}
}

func (s *Session) reapplyQuality() {
	q := s.quality.Current()
	if q == QualityAuto {
		return
	}
	s.quality.Discover()
	if err := s.quality.Set(q); err != nil {
		s.log.Warn("quality not restored after swap",
			slog.String("quality", q.Label()),
			slog.String("error", err.Error()))
	}
}

// discoverQualities polls for variant levels until found or the poll times
// out. It runs once per session, after the first canplay.
func (s *Session) discoverQualities() {
	found := media.WaitFor(s.ctx, s.clk, s.cfg.QualityPollInterval, s.cfg.QualityPollTimeout, func() bool {
		if _, ok := s.handle(); !ok {
			return true
		}
		return s.quality.Discover()
	})
	if _, ok := s.handle(); !ok {
		return
	}
	if !found {
		s.log.Info("no quality levels discovered")
		return
	}
	s.log.Debug("quality levels discovered",
		slog.Int("variants", len(s.quality.Available())-1),
		slog.Bool("native", s.quality.Native()))
}

// Snapshot returns the current view of the session.
func (s *Session) Snapshot() SessionSnapshot {
	var cur, dur float64
	if e, ok := s.handle(); ok {
		cur, dur = e.CurrentTime(), e.Duration()
	}

	available := s.quality.Available()
	qualities := make([]string, len(available))
	for i, q := range available {
		qualities[i] = q.String()
	}
	q := s.quality.Current()
	rate := s.speed.Current()

	snap := SessionSnapshot{
		VideoID:            s.ref.VideoID,
		LibraryID:          s.ref.LibraryID,
		NumericTierID:      s.ref.NumericTierID,
		Title:              s.ref.Title,
		Quality:            q.String(),
		QualityLabel:       q.Label(),
		AvailableQualities: qualities,
		Speed:              rate,
		SpeedLabel:         SpeedLabel(rate),
		ControlsVisible:    s.controls.Visible(),
		LastActivity:       s.controls.LastActivity(),
		CurrentTime:        cur,
		Duration:           dur,
		Elapsed:            FormatTime(cur),
		Total:              FormatTime(dur),
	}
	if s.sink != nil {
		snap.SessionID = s.sink.ActiveSessionID(s.ref.VideoID)
	}

	s.mu.Lock()
	snap.State = s.state.String()
	snap.Volume = s.volume
	snap.Muted = s.muted
	snap.Fullscreen = s.fullscreen
	snap.ErrorCode = s.errCode
	snap.ErrorMessage = s.errMsg
	s.mu.Unlock()
	return snap
}

func (s *Session) track(kind analytics.Kind) {
	if s.sink == nil {
		return
	}
	e, ok := s.handle()
	if !ok {
		return
	}
	s.sink.Track(s.ref.VideoID, kind, analytics.Snapshot{
		CurrentTime: e.CurrentTime(),
		Duration:    e.Duration(),
		Quality:     s.quality.Current().Label(),
	})
}

// onEvent is the single subscriber for every engine event. Stale events
// after close are dropped, and a panicking step is logged, not propagated.
func (s *Session) onEvent(ev media.Event) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("player event handler panicked",
				slog.String("event", string(ev.Type)),
				slog.Any("panic", p))
		}
	}()

	if _, ok := s.handle(); !ok {
		return
	}
	switch ev.Type {
	case media.EventLoadStart:
		s.onLoadStart()
	case media.EventCanPlay:
		s.onCanPlay()
	case media.EventWaiting:
		s.onWaiting()
	case media.EventPlaying:
		s.onPlaying()
	case media.EventPlay:
		s.onPlay()
	case media.EventPause:
		s.onPause()
	case media.EventEnded:
		s.onEnded()
	case media.EventVolumeChange:
		s.onVolumeChange()
	case media.EventError:
		s.onError(ev.Err)
	}
}

func (s *Session) onLoadStart() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateIdle {
		s.state = StateLoading
	}
}

func (s *Session) onCanPlay() {
	s.mu.Lock()
	if s.swapDone != nil {
		s.releaseSwapLocked()
		s.mu.Unlock()
		return
	}
	if s.owed != nil {
		r := *s.owed
		s.owed = nil
		if s.state == StateBuffering {
			s.state = s.bufferReturn
		}
		// A pause issued while the swap was outstanding wins.
		r.playing = r.playing && s.state == StatePlaying
		s.mu.Unlock()
		s.settleOwedSwap(r)
		return
	}
	discover := false
	switch s.state {
	case StateLoading:
		s.state = StateReady
		if !s.discovering {
			s.discovering = true
			discover = true
		}
	case StateBuffering:
		s.state = s.bufferReturn
	}
	s.mu.Unlock()

	if discover {
		s.log.Debug("player ready")
		go s.discoverQualities()
	}
}

func (s *Session) settleOwedSwap(r swapRestore) {
	e, ok := s.handle()
	if !ok {
		return
	}
	if err := s.restorePlayback(e, r); err != nil {
		s.log.Warn("late swap restore failed", slog.String("error", err.Error()))
		return
	}
	s.log.Debug("playback restored after late canplay")
}

func (s *Session) onWaiting() {
	s.mu.Lock()
	if s.swapDone != nil {
		s.mu.Unlock()
		return
	}
	switch s.state {
	case StateReady, StatePlaying, StatePaused:
		s.bufferReturn = s.state
		s.state = StateBuffering
	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.track(analytics.KindBuffering)
}

func (s *Session) onPlaying() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.swapDone != nil {
		return
	}
	switch s.state {
	case StateBuffering, StateReady, StatePaused:
		s.state = StatePlaying
	}
}

func (s *Session) onPlay() {
	s.mu.Lock()
	if s.swapDone != nil {
		s.mu.Unlock()
		return
	}
	changed := false
	switch s.state {
	case StateReady, StatePaused:
		s.state = StatePlaying
		changed = true
	case StateBuffering:
		s.bufferReturn = StatePlaying
	}
	s.mu.Unlock()

	if changed {
		s.track(analytics.KindPlay)
		s.controls.Show()
	}
}

func (s *Session) onPause() {
	s.mu.Lock()
	if s.swapDone != nil {
		s.mu.Unlock()
		return
	}
	changed := false
	switch s.state {
	case StatePlaying:
		s.state = StatePaused
		changed = true
	case StateBuffering:
		s.bufferReturn = StatePaused
	}
	s.mu.Unlock()

	if changed {
		s.track(analytics.KindPause)
		s.controls.Show()
	}
}

func (s *Session) onEnded() {
	s.mu.Lock()
	switch s.state {
	case StateReady, StatePlaying, StatePaused, StateBuffering:
		s.state = StatePaused
	default:
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	s.track(analytics.KindEnded)
	s.controls.Show()
}

func (s *Session) onVolumeChange() {
	e, ok := s.handle()
	if !ok {
		return
	}
	v, m := e.Volume(), e.Muted()

	s.mu.Lock()
	s.volume = v
	s.muted = m
	s.mu.Unlock()
}

func (s *Session) onError(perr *media.PlaybackError) {
	code := 0
	if perr != nil {
		code = perr.Code
	}
	msg := media.MessageForCode(code)

	s.mu.Lock()
	if s.state == StateDisposed || s.expired {
		s.mu.Unlock()
		return
	}
	s.state = StateError
	s.errCode = code
	s.errMsg = msg
	s.owed = nil
	s.releaseSwapLocked()
	s.mu.Unlock()

	s.log.Warn("playback error", slog.Int("code", code), slog.String("message", msg))
	s.track(analytics.KindError)
	s.controls.Show()
}

func clampTime(t, duration float64) float64 {
	if math.IsNaN(t) || t < 0 {
		return 0
	}
	if duration > 0 && t > duration {
		return duration
	}
	return t
}
