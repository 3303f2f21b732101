package player

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"premium-player/internal/analytics"
	"premium-player/internal/media"
	"premium-player/internal/platform/logger"
	"premium-player/internal/portalapi"
)

// callLog records calls across fakes so tests can assert ordering.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(c string) {
	if l == nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, c)
}

func (l *callLog) list() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

// fakeEngine is a synchronous media.Engine. It has no level control of its
// own; wrap it in abrEngine or manifestEngine for those capabilities.
type fakeEngine struct {
	log *callLog

	mu           sync.Mutex
	handlers     map[media.EventType]map[int]media.Handler
	nextID       int
	sources      []string
	current      float64
	duration     float64
	paused       bool
	muted        bool
	volume       float64
	rate         float64
	disposed     bool
	disposeErr   error
	disposePanic bool
	autoCanPlay  bool
	levels       []media.Level
}

func newFakeEngine(log *callLog) *fakeEngine {
	return &fakeEngine{
		log:         log,
		handlers:    make(map[media.EventType]map[int]media.Handler),
		duration:    120,
		paused:      true,
		volume:      1,
		rate:        1,
		autoCanPlay: true,
	}
}

func (e *fakeEngine) SetSource(url, mimeType string) error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return media.ErrDisposed
	}
	e.sources = append(e.sources, url)
	e.current = 0
	e.paused = true
	auto := e.autoCanPlay
	e.mu.Unlock()

	e.fire(media.Event{Type: media.EventLoadStart})
	if auto {
		e.fire(media.Event{Type: media.EventCanPlay})
	}
	return nil
}

func (e *fakeEngine) ClearSource() error {
	e.log.add("clear_source")
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposed {
		return media.ErrDisposed
	}
	return nil
}

func (e *fakeEngine) CurrentTime() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.current
}

func (e *fakeEngine) SetCurrentTime(t float64) {
	e.mu.Lock()
	e.current = t
	e.mu.Unlock()
	e.fire(media.Event{Type: media.EventTimeUpdate})
}

func (e *fakeEngine) Duration() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.duration
}

func (e *fakeEngine) Paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.paused
}

func (e *fakeEngine) Play() error {
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return media.ErrDisposed
	}
	was := e.paused
	e.paused = false
	e.mu.Unlock()

	if was {
		e.fire(media.Event{Type: media.EventPlay})
		e.fire(media.Event{Type: media.EventPlaying})
	}
	return nil
}

func (e *fakeEngine) Pause() error {
	e.log.add("pause")
	e.mu.Lock()
	if e.disposed {
		e.mu.Unlock()
		return media.ErrDisposed
	}
	was := e.paused
	e.paused = true
	e.mu.Unlock()

	if !was {
		e.fire(media.Event{Type: media.EventPause})
	}
	return nil
}

func (e *fakeEngine) Muted() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.muted
}

func (e *fakeEngine) SetMuted(m bool) {
	e.mu.Lock()
	e.muted = m
	e.mu.Unlock()
	e.fire(media.Event{Type: media.EventVolumeChange})
}

func (e *fakeEngine) Volume() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.volume
}

func (e *fakeEngine) SetVolume(v float64) {
	e.mu.Lock()
	e.volume = v
	e.mu.Unlock()
	e.fire(media.Event{Type: media.EventVolumeChange})
}

func (e *fakeEngine) PlaybackRate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rate
}

func (e *fakeEngine) SetPlaybackRate(r float64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rate = r
}

func (e *fakeEngine) On(event media.EventType, h media.Handler) media.Unsubscribe {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	if e.handlers[event] == nil {
		e.handlers[event] = make(map[int]media.Handler)
	}
	e.handlers[event][id] = h
	return func() {
		e.log.add("unsubscribe")
		e.mu.Lock()
		defer e.mu.Unlock()
		delete(e.handlers[event], id)
	}
}

func (e *fakeEngine) Dispose() error {
	e.log.add("dispose")
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.disposePanic {
		panic("dispose exploded")
	}
	if e.disposeErr != nil {
		return e.disposeErr
	}
	e.disposed = true
	return nil
}

func (e *fakeEngine) IsDisposed() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disposed
}

// fire delivers ev to the current subscribers in registration order.
func (e *fakeEngine) fire(ev media.Event) {
	e.mu.Lock()
	ids := make([]int, 0, len(e.handlers[ev.Type]))
	for id := range e.handlers[ev.Type] {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	hs := make([]media.Handler, 0, len(ids))
	for _, id := range ids {
		hs = append(hs, e.handlers[ev.Type][id])
	}
	e.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

func (e *fakeEngine) subscribers() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, hs := range e.handlers {
		n += len(hs)
	}
	return n
}

func (e *fakeEngine) sourceList() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.sources...)
}

// abrEngine adds native level control.
type abrEngine struct {
	*fakeEngine
}

func newABREngine(log *callLog, heights ...int) *abrEngine {
	e := newFakeEngine(log)
	for i, h := range heights {
		e.levels = append(e.levels, media.Level{Index: i, Height: h, Width: h * 16 / 9, Bandwidth: h * 3000, Enabled: true})
	}
	return &abrEngine{fakeEngine: e}
}

func (a *abrEngine) Levels() []media.Level {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]media.Level(nil), a.levels...)
}

func (a *abrEngine) EnableLevels(keep func(media.Level) bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := range a.levels {
		a.levels[i].Enabled = keep(a.levels[i])
	}
}

// manifestEngine exposes only the raw master playlist.
type manifestEngine struct {
	*fakeEngine
	text string
}

func (m *manifestEngine) Manifest() string { return m.text }

type fakeContainer struct {
	log        *callLog
	mu         sync.Mutex
	fullscreen bool
	removed    bool
}

func (c *fakeContainer) RequestFullscreen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fullscreen = true
	return nil
}

func (c *fakeContainer) ExitFullscreen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fullscreen = false
	return nil
}

func (c *fakeContainer) Remove() error {
	c.log.add("remove_container")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = true
	return nil
}

func (c *fakeContainer) isRemoved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.removed
}

func (c *fakeContainer) isFullscreen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.fullscreen
}

type fakePage struct {
	log        *callLog
	mu         sync.Mutex
	containers map[string]*fakeContainer
	locked     bool
	mountErr   error
}

func newFakePage(log *callLog) *fakePage {
	return &fakePage{log: log, containers: make(map[string]*fakeContainer)}
}

func (p *fakePage) Mount(id string) (Container, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.mountErr != nil {
		return nil, p.mountErr
	}
	c := &fakeContainer{log: p.log}
	p.containers[id] = c
	return c, nil
}

func (p *fakePage) SetScrollLock(locked bool) {
	if !locked {
		p.log.add("restore_scroll")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked = locked
}

func (p *fakePage) scrollLocked() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.locked
}

func (p *fakePage) container(id string) *fakeContainer {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.containers[id]
}

// fakeBackend answers refreshes from a script; once the script runs out it
// keeps returning the last entry.
type fakeBackend struct {
	mu      sync.Mutex
	results []refreshResult
	calls   int
	profile portalapi.Profile
	profErr error
}

type refreshResult struct {
	url string
	err error
}

func (b *fakeBackend) script(r ...refreshResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.results = append(b.results, r...)
}

func (b *fakeBackend) RefreshVideoToken(ctx context.Context, videoID, libraryID string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.calls++
	if len(b.results) == 0 {
		return "", errors.New("no scripted result")
	}
	r := b.results[0]
	if len(b.results) > 1 {
		b.results = b.results[1:]
	}
	return r.url, r.err
}

func (b *fakeBackend) Profile(ctx context.Context) (portalapi.Profile, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.profile, b.profErr
}

func (b *fakeBackend) refreshCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

// recordingSink is an AnalyticsSink that keeps everything in memory.
type recordingSink struct {
	mu       sync.Mutex
	started  []string
	ended    []string
	events   []analytics.Kind
	sessions map[string]string
	flushes  int
	nextID   int
}

func newRecordingSink() *recordingSink {
	return &recordingSink{sessions: make(map[string]string)}
}

func (s *recordingSink) StartSession(videoID string, tierID int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = append(s.started, videoID)
	delete(s.sessions, videoID)
}

func (s *recordingSink) EndSession(videoID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ended = append(s.ended, videoID)
	delete(s.sessions, videoID)
}

func (s *recordingSink) Track(videoID string, kind analytics.Kind, snap analytics.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[videoID]; !ok {
		s.nextID++
		s.sessions[videoID] = fmt.Sprintf("%s-%d", videoID, s.nextID)
	}
	s.events = append(s.events, kind)
}

func (s *recordingSink) ActiveSessionID(videoID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sessions[videoID]
}

func (s *recordingSink) Flush(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
}

func (s *recordingSink) kinds() []analytics.Kind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]analytics.Kind(nil), s.events...)
}

func (s *recordingSink) count(k analytics.Kind) int {
	n := 0
	for _, e := range s.kinds() {
		if e == k {
			n++
		}
	}
	return n
}

// testPortal bundles a Portal with the fakes behind it.
type testPortal struct {
	*Portal
	clk     clockwork.FakeClock
	page    *fakePage
	backend *fakeBackend
	sink    *recordingSink
	tokens  *portalapi.MemoryTokenStore
	calls   *callLog

	mu      sync.Mutex
	engines map[string][]*abrEngine
}

func newTestPortal(t *testing.T, mutate ...func(*Config)) *testPortal {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	tp := &testPortal{
		clk:     clockwork.NewFakeClock(),
		backend: &fakeBackend{},
		sink:    newRecordingSink(),
		tokens:  portalapi.NewMemoryTokenStore(),
		calls:   &callLog{},
		engines: make(map[string][]*abrEngine),
	}
	tp.page = newFakePage(tp.calls)

	p, err := NewPortal(Deps{
		Config: cfg,
		Clock:  tp.clk,
		Logger: logger.Discard(),
		Page:   tp.page,
		NewEngine: func(videoID string) (media.Engine, error) {
			e := newABREngine(tp.calls, 1080, 720, 480)
			tp.mu.Lock()
			tp.engines[videoID] = append(tp.engines[videoID], e)
			tp.mu.Unlock()
			return e, nil
		},
		Backend:   tp.backend,
		Analytics: tp.sink,
		Tokens:    tp.tokens,
	})
	require.NoError(t, err)
	tp.Portal = p
	t.Cleanup(func() { p.Shutdown(context.Background()) })
	return tp
}

// engine returns the most recent engine created for videoID.
func (tp *testPortal) engine(videoID string) *abrEngine {
	tp.mu.Lock()
	defer tp.mu.Unlock()
	es := tp.engines[videoID]
	if len(es) == 0 {
		return nil
	}
	return es[len(es)-1]
}

func (tp *testPortal) open(t *testing.T, videoID string) *Session {
	t.Helper()
	s, err := tp.Open(context.Background(), VideoRef{
		VideoID:       videoID,
		LibraryID:     "lib-1",
		NumericTierID: 2,
		URL:           "https://cdn.example.com/" + videoID + "/master.m3u8?token=t0",
	})
	require.NoError(t, err)
	return s
}
