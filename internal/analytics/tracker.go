// Package analytics batches playback usage events and delivers them to the
// backend. Delivery is at-most-once: a batch is cleared before it is sent and
// failed sends are not requeued.
package analytics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"premium-player/internal/platform/logger"
)

// Kind names an analytics event.
type Kind string

const (
	KindPlay          Kind = "play"
	KindPause         Kind = "pause"
	KindEnded         Kind = "ended"
	KindError         Kind = "error"
	KindSeek          Kind = "seek"
	KindBuffering     Kind = "buffering"
	KindQualityChange Kind = "quality_change"
	KindSpeedChange   Kind = "speed_change"
	KindVolumeChange  Kind = "volume_change"
	KindFullscreen    Kind = "fullscreen"
)

// Critical reports whether k forces an immediate flush.
func (k Kind) Critical() bool {
	switch k {
	case KindPlay, KindEnded, KindError:
		return true
	}
	return false
}

const (
	DefaultFlushInterval = 10 * time.Second
	defaultSendTimeout   = 10 * time.Second
)

// Event is one usage event as delivered to the backend.
type Event struct {
	Kind        Kind    `json:"event_type"`
	VideoID     string  `json:"video_id"`
	SessionID   string  `json:"session_id"`
	TierID      int     `json:"tier_id"`
	CurrentTime float64 `json:"current_time"`
	Duration    float64 `json:"duration"`
	Quality     string  `json:"quality"`
}

// Snapshot is the playback state captured when an event is tracked.
type Snapshot struct {
	CurrentTime float64
	Duration    float64
	Quality     string
}

// Sender delivers one event.
type Sender interface {
	Track(ctx context.Context, ev Event) error
}

// Recorder observes delivery outcomes. Satisfied by *metrics.Metrics.
type Recorder interface {
	EventSent()
	EventDropped()
}

// Options configures a Tracker.
type Options struct {
	Clock         clockwork.Clock
	Logger        *slog.Logger
	Recorder      Recorder
	FlushInterval time.Duration
	SendTimeout   time.Duration
}

// Tracker owns the event queue and per-video session state.
type Tracker struct {
	sender   Sender
	clk      clockwork.Clock
	log      *slog.Logger
	rec      Recorder
	interval time.Duration
	timeout  time.Duration

	mu       sync.Mutex
	queue    []Event
	sessions map[string]string
	tiers    map[string]int
	stop     chan struct{}
	done     chan struct{}
	flushes  sync.WaitGroup
}

// New returns a Tracker. Call Start to enable the periodic flush.
func New(sender Sender, opts Options) *Tracker {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = DefaultFlushInterval
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = defaultSendTimeout
	}
	return &Tracker{
		sender:   sender,
		clk:      opts.Clock,
		log:      logger.OrDefault(opts.Logger),
		rec:      opts.Recorder,
		interval: opts.FlushInterval,
		timeout:  opts.SendTimeout,
		sessions: make(map[string]string),
		tiers:    make(map[string]int),
	}
}

// Start begins the periodic flush. Calling Start twice is a no-op.
func (t *Tracker) Start() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stop != nil {
		return
	}
	t.stop = make(chan struct{})
	t.done = make(chan struct{})
	ticker := t.clk.NewTicker(t.interval)
	go t.run(ticker, t.stop, t.done)
}

func (t *Tracker) run(ticker clockwork.Ticker, stop, done chan struct{}) {
	defer close(done)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.Chan():
			t.Flush(context.Background())
		}
	}
}

// Stop ends the periodic flush, waits for in-flight flushes and sends
// whatever is still queued.
func (t *Tracker) Stop(ctx context.Context) {
	t.mu.Lock()
	stop, done := t.stop, t.done
	t.stop, t.done = nil, nil
	t.mu.Unlock()

	if stop != nil {
		close(stop)
		<-done
	}
	t.flushes.Wait()
	t.Flush(ctx)
}

// StartSession caches the numeric tier for videoID and discards any previous
// session id so the next event opens a fresh one.
func (t *Tracker) StartSession(videoID string, tierID int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.tiers[videoID] = tierID
	delete(t.sessions, videoID)
}

// EndSession forgets the session id and tier for videoID.
func (t *Tracker) EndSession(videoID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, videoID)
	delete(t.tiers, videoID)
}

// SessionID returns the session id for videoID, generating it on first use.
func (t *Tracker) SessionID(videoID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessionIDLocked(videoID)
}

// ActiveSessionID returns the session id for videoID without generating one.
func (t *Tracker) ActiveSessionID(videoID string) string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sessions[videoID]
}

func (t *Tracker) sessionIDLocked(videoID string) string {
	id, ok := t.sessions[videoID]
	if !ok {
		id = uuid.NewString()
		t.sessions[videoID] = id
	}
	return id
}

// Track enqueues an event. Critical kinds trigger an immediate background
// flush; everything else waits for the periodic one.
func (t *Tracker) Track(videoID string, kind Kind, snap Snapshot) {
	t.mu.Lock()
	t.queue = append(t.queue, Event{
		Kind:        kind,
		VideoID:     videoID,
		SessionID:   t.sessionIDLocked(videoID),
		TierID:      t.tiers[videoID],
		CurrentTime: snap.CurrentTime,
		Duration:    snap.Duration,
		Quality:     snap.Quality,
	})
	t.mu.Unlock()

	if kind.Critical() {
		t.flushes.Add(1)
		go func() {
			defer t.flushes.Done()
			t.Flush(context.Background())
		}()
	}
}

// Pending returns the number of queued events.
func (t *Tracker) Pending() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.queue)
}

// Flush snapshots and clears the queue, then sends each event in enqueue
// order. Failed events are counted and dropped.
func (t *Tracker) Flush(ctx context.Context) {
	t.mu.Lock()
	batch := t.queue
	t.queue = nil
	t.mu.Unlock()

	if len(batch) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	for _, ev := range batch {
		if err := t.sender.Track(ctx, ev); err != nil {
			t.log.Debug("analytics event dropped",
				slog.String("video_id", ev.VideoID),
				slog.String("event_type", string(ev.Kind)),
				slog.String("error", err.Error()))
			if t.rec != nil {
				t.rec.EventDropped()
			}
			continue
		}
		if t.rec != nil {
			t.rec.EventSent()
		}
	}
}
