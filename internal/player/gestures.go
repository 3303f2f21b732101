package player

import (
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"premium-player/internal/platform/logger"
)

// GestureTarget receives the commands a gesture resolves to.
type GestureTarget interface {
	CurrentTime() float64
	Duration() float64
	TogglePlay() error
	SkipBy(seconds float64) error
	ToggleFullscreen() error
	ToggleControls()
	BeginScrub() error
	ScrubTo(t float64)
	EndScrub(t float64) error
}

// Zone is a horizontal band of the viewport.
type Zone int

const (
	ZoneLeft Zone = iota
	ZoneCenter
	ZoneRight
)

func (z Zone) String() string {
	switch z {
	case ZoneLeft:
		return "left"
	case ZoneRight:
		return "right"
	default:
		return "center"
	}
}

// Point is a pointer position in CSS pixels.
type Point struct {
	X, Y float64
}

type tap struct {
	at   time.Time
	x    float64
	zone Zone
}

// GestureInputHandler turns a single-pointer touch stream into taps, double
// taps and drag-seeks.
type GestureInputHandler struct {
	clk    clockwork.Clock
	cfg    Config
	target GestureTarget
	log    *slog.Logger

	mu            sync.Mutex
	tracking      bool
	start         Point
	startTime     float64
	viewport      float64
	dragging      bool
	preview       float64
	suppressClick bool
	last          *tap
	pending       clockwork.Timer
	pendingGen    int
	stopped       bool
}

// NewGestureInputHandler returns a handler dispatching to target.
func NewGestureInputHandler(clk clockwork.Clock, cfg Config, target GestureTarget, log *slog.Logger) *GestureInputHandler {
	return &GestureInputHandler{
		clk:    clk,
		cfg:    cfg,
		target: target,
		log:    logger.OrDefault(log),
	}
}

// ZoneFor maps x to a tap zone: the center band is cfg.CenterZone of the
// width and the two sides split the rest evenly.
func (g *GestureInputHandler) ZoneFor(x, viewportWidth float64) Zone {
	if viewportWidth <= 0 {
		return ZoneCenter
	}
	side := (1 - g.cfg.CenterZone) / 2
	switch {
	case x < viewportWidth*side:
		return ZoneLeft
	case x > viewportWidth*(1-side):
		return ZoneRight
	default:
		return ZoneCenter
	}
}

// TouchStart begins tracking a touch at p.
func (g *GestureInputHandler) TouchStart(p Point, viewportWidth float64) {
	startTime := g.target.CurrentTime()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.stopped {
		return
	}
	g.tracking = true
	g.start = p
	g.startTime = startTime
	g.viewport = viewportWidth
	g.dragging = false
	g.preview = startTime
	g.suppressClick = false
}

// TouchMove updates an in-flight touch. A mostly horizontal move past the
// drag threshold turns the touch into a drag-seek with a live preview.
func (g *GestureInputHandler) TouchMove(p Point) {
	duration := g.target.Duration()

	g.mu.Lock()
	if !g.tracking || g.stopped {
		g.mu.Unlock()
		return
	}
	dx, dy := p.X-g.start.X, p.Y-g.start.Y
	begin := false
	if !g.dragging && math.Abs(dx) > g.cfg.DragThresholdPx && math.Abs(dx) > math.Abs(dy) {
		g.dragging = true
		begin = true
	}
	if !g.dragging {
		g.mu.Unlock()
		return
	}
	g.preview = g.seekTarget(dx, duration)
	preview := g.preview
	g.mu.Unlock()

	if begin {
		if err := g.target.BeginScrub(); err != nil {
			g.log.Debug("drag seek start ignored", slog.String("error", err.Error()))
		}
	}
	g.target.ScrubTo(preview)
}

// TouchEnd finishes the touch: a drag commits its seek, a short touch
// becomes a tap.
func (g *GestureInputHandler) TouchEnd(p Point) {
	duration := g.target.Duration()

	g.mu.Lock()
	if !g.tracking || g.stopped {
		g.mu.Unlock()
		return
	}
	g.tracking = false
	dx, dy := p.X-g.start.X, p.Y-g.start.Y

	if g.dragging {
		g.dragging = false
		g.suppressClick = true
		commit := g.seekTarget(dx, duration)
		g.preview = commit
		g.mu.Unlock()

		if err := g.target.EndScrub(commit); err != nil {
			g.log.Debug("drag seek commit ignored", slog.String("error", err.Error()))
		}
		return
	}

	if math.Abs(dx) >= g.cfg.TapSlopPx || math.Abs(dy) >= g.cfg.TapSlopPx {
		g.mu.Unlock()
		return
	}
	// The tap is handled here; the click the browser synthesizes after it
	// must not toggle playback a second time.
	g.suppressClick = true
	action := g.tapLocked(p.X)
	g.mu.Unlock()

	if action != nil {
		action()
	}
}

// Click reports whether a click should be swallowed because it is the
// synthetic click trailing a touch tap or drag-seek.
func (g *GestureInputHandler) Click() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.suppressClick {
		g.suppressClick = false
		return true
	}
	return false
}

// Dragging reports whether a drag-seek is in flight and its preview time.
func (g *GestureInputHandler) Dragging() (bool, float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.dragging, g.preview
}

// Stop cancels any pending single-tap action.
func (g *GestureInputHandler) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.stopped = true
	g.tracking = false
	g.dragging = false
	g.cancelPendingLocked()
	g.last = nil
}

// seekTarget maps a horizontal drag to a time: a full viewport width spans
// DragSeekRange seconds from the position at touch start.
func (g *GestureInputHandler) seekTarget(dx, duration float64) float64 {
	if g.viewport <= 0 {
		return g.startTime
	}
	t := g.startTime + (dx/g.viewport)*g.cfg.DragSeekRange
	if t < 0 {
		t = 0
	}
	if duration > 0 && t > duration {
		t = duration
	}
	return t
}

// tapLocked registers a tap at x and returns the action to run after the
// lock is released, if any. A tap pairs with the previous one when it lands
// inside the double-tap window and distance; otherwise it starts a new
// sequence and its single-tap action is deferred by the window so a second
// tap can upgrade it.
func (g *GestureInputHandler) tapLocked(x float64) func() {
	now := g.clk.Now()
	zone := g.ZoneFor(x, g.viewport)

	if g.last != nil &&
		now.Sub(g.last.at) < g.cfg.DoubleTapWindow &&
		math.Abs(x-g.last.x) <= g.cfg.DoubleTapDistance*g.viewport {
		first := g.last.zone
		g.last = nil
		g.cancelPendingLocked()
		return g.doubleTapAction(first)
	}

	var flush func()
	if g.pending != nil && g.last != nil {
		flush = g.singleTapAction(g.last.zone)
	}
	g.cancelPendingLocked()

	g.last = &tap{at: now, x: x, zone: zone}
	g.pendingGen++
	gen := g.pendingGen
	g.pending = g.clk.AfterFunc(g.cfg.DoubleTapWindow, func() { g.firePending(gen) })
	return flush
}

func (g *GestureInputHandler) firePending(gen int) {
	g.mu.Lock()
	if g.stopped || gen != g.pendingGen || g.last == nil {
		g.mu.Unlock()
		return
	}
	action := g.singleTapAction(g.last.zone)
	g.last = nil
	g.pending = nil
	g.mu.Unlock()

	action()
}

func (g *GestureInputHandler) cancelPendingLocked() {
	if g.pending != nil {
		g.pending.Stop()
		g.pending = nil
	}
	g.pendingGen++
}

func (g *GestureInputHandler) singleTapAction(zone Zone) func() {
	if zone == ZoneCenter {
		return func() { g.report("toggle play", g.target.TogglePlay()) }
	}
	return g.target.ToggleControls
}

func (g *GestureInputHandler) doubleTapAction(zone Zone) func() {
	switch zone {
	case ZoneLeft:
		return func() { g.report("skip back", g.target.SkipBy(-g.cfg.SkipAmount)) }
	case ZoneRight:
		return func() { g.report("skip forward", g.target.SkipBy(g.cfg.SkipAmount)) }
	default:
		return func() { g.report("toggle fullscreen", g.target.ToggleFullscreen()) }
	}
}

func (g *GestureInputHandler) report(action string, err error) {
	if err != nil {
		g.log.Debug("gesture action ignored", slog.String("action", action), slog.String("error", err.Error()))
	}
}
