package player

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// PlaybackStatus is what the control surface needs to know about playback.
type PlaybackStatus interface {
	Playing() bool
	Paused() bool
	Seeking() bool
}

// ControlsUIManager tracks whether the on-screen controls are visible and
// hides them after a period of inactivity.
type ControlsUIManager struct {
	clk       clockwork.Clock
	status    PlaybackStatus
	touch     bool
	hideDelay time.Duration
	idle      time.Duration
	onChange  func(visible bool)

	mu           sync.Mutex
	showing      bool
	lastActivity time.Time
	timer        clockwork.Timer
	gen          int
	stopped      bool
}

// NewControlsUIManager returns a manager with controls visible. onChange, if
// set, is called outside the manager's lock on every visibility change.
func NewControlsUIManager(clk clockwork.Clock, cfg Config, touch bool, status PlaybackStatus, onChange func(visible bool)) *ControlsUIManager {
	delay := cfg.ControlsHideDelayPointer
	if touch {
		delay = cfg.ControlsHideDelayTouch
	}
	return &ControlsUIManager{
		clk:          clk,
		status:       status,
		touch:        touch,
		hideDelay:    delay,
		idle:         cfg.ControlsIdleThreshold,
		onChange:     onChange,
		showing:      true,
		lastActivity: clk.Now(),
	}
}

// Visible reports whether the controls are showing.
func (c *ControlsUIManager) Visible() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.showing
}

// LastActivity returns when the user last interacted.
func (c *ControlsUIManager) LastActivity() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActivity
}

// Show makes the controls visible, stamps activity and restarts the
// auto-hide timer.
func (c *ControlsUIManager) Show() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	changed := !c.showing
	c.showing = true
	c.lastActivity = c.clk.Now()
	c.restartTimerLocked()
	c.mu.Unlock()

	c.notify(changed, true)
}

// Hide hides the controls. It does nothing while scrubbing, and on touch
// devices it also does nothing while paused. It reports whether the controls
// are hidden afterwards.
func (c *ControlsUIManager) Hide() bool {
	seeking := c.status.Seeking()
	paused := c.status.Paused()

	c.mu.Lock()
	if c.stopped || seeking || (c.touch && paused) {
		hidden := !c.showing
		c.mu.Unlock()
		return hidden
	}
	changed := c.showing
	c.showing = false
	c.stopTimerLocked()
	c.mu.Unlock()

	c.notify(changed, false)
	return true
}

// Toggle flips visibility.
func (c *ControlsUIManager) Toggle() {
	if c.Visible() {
		c.Hide()
		return
	}
	c.Show()
}

// Stop cancels the auto-hide timer; later calls are ignored.
func (c *ControlsUIManager) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	c.stopTimerLocked()
}

func (c *ControlsUIManager) restartTimerLocked() {
	c.stopTimerLocked()
	c.gen++
	gen := c.gen
	c.timer = c.clk.AfterFunc(c.hideDelay, func() { c.autoHide(gen) })
}

func (c *ControlsUIManager) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// autoHide fires after the hide delay. Controls go away only while playing
// and not seeking; pointer devices additionally require the idle threshold
// to have passed since the last activity.
func (c *ControlsUIManager) autoHide(gen int) {
	c.mu.Lock()
	if c.stopped || gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	idleFor := c.clk.Since(c.lastActivity)
	c.mu.Unlock()

	if !c.status.Playing() || c.status.Seeking() {
		return
	}
	if !c.touch && idleFor < c.idle {
		return
	}
	c.Hide()
}

func (c *ControlsUIManager) notify(changed, visible bool) {
	if changed && c.onChange != nil {
		c.onChange(visible)
	}
}

// FormatTime renders seconds as m:ss, or h:mm:ss from one hour up.
// Negative and NaN values render as 0:00.
func FormatTime(seconds float64) string {
	if math.IsNaN(seconds) || math.IsInf(seconds, 0) || seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%d:%02d", m, s)
}
