package player

import (
	"errors"
	"fmt"
	"strconv"
	"sync"

	"premium-player/internal/media"
)

// ErrInvalidSpeed is returned for a rate that is not on the ladder.
var ErrInvalidSpeed = errors.New("invalid playback speed")

// SpeedLadder lists the selectable playback rates.
var SpeedLadder = []float64{0.25, 0.5, 0.75, 1, 1.25, 1.5, 1.75, 2}

// SpeedLabel formats a rate: "Normal" for 1, otherwise "1.5x".
func SpeedLabel(s float64) string {
	if s == 1 {
		return "Normal"
	}
	return strconv.FormatFloat(s, 'f', -1, 64) + "x"
}

// SpeedManager sets the engine playback rate.
type SpeedManager struct {
	handle func() (media.Engine, bool)

	mu      sync.Mutex
	current float64
}

// NewSpeedManager starts at normal speed.
func NewSpeedManager(handle func() (media.Engine, bool)) *SpeedManager {
	return &SpeedManager{handle: handle, current: 1}
}

// Available returns a copy of the ladder.
func (m *SpeedManager) Available() []float64 {
	out := make([]float64, len(SpeedLadder))
	copy(out, SpeedLadder)
	return out
}

// Current returns the active rate.
func (m *SpeedManager) Current() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Set applies s, which must be a ladder member.
func (m *SpeedManager) Set(s float64) error {
	if !onLadder(s) {
		return fmt.Errorf("%w: %v", ErrInvalidSpeed, s)
	}
	e, ok := m.handle()
	if !ok {
		return ErrDisposed
	}
	e.SetPlaybackRate(s)

	m.mu.Lock()
	m.current = s
	m.mu.Unlock()
	return nil
}

func onLadder(s float64) bool {
	for _, x := range SpeedLadder {
		if x == s {
			return true
		}
	}
	return false
}
