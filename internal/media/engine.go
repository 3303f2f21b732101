// Package media defines the adaptive-bitrate media engine contract consumed by
// the playback controller, plus the small primitives shared around it: lifecycle
// event names, the playback error table, capability resolution, subscription
// sets and a wait-with-timeout helper.
package media

import "errors"

// ErrDisposed is returned by engine operations after Dispose.
var ErrDisposed = errors.New("media engine disposed")

// HLSMimeType is the source type assigned for signed playlist URLs.
const HLSMimeType = "application/x-mpegURL"

// EventType names an engine lifecycle event.
type EventType string

const (
	EventLoadStart    EventType = "loadstart"
	EventCanPlay      EventType = "canplay"
	EventWaiting      EventType = "waiting"
	EventPlaying      EventType = "playing"
	EventPlay         EventType = "play"
	EventPause        EventType = "pause"
	EventEnded        EventType = "ended"
	EventTimeUpdate   EventType = "timeupdate"
	EventVolumeChange EventType = "volumechange"
	EventError        EventType = "error"
)

// LifecycleEvents lists every event a session subscribes to.
var LifecycleEvents = []EventType{
	EventLoadStart, EventCanPlay, EventWaiting, EventPlaying, EventPlay,
	EventPause, EventEnded, EventTimeUpdate, EventVolumeChange, EventError,
}

// Event is delivered to subscribers. Err is set only for EventError.
type Event struct {
	Type EventType
	Err  *PlaybackError
}

// Handler receives engine events.
type Handler func(Event)

// Unsubscribe detaches a handler registered with On. Calling it twice is safe.
type Unsubscribe func()

// Engine is the capability surface of one media engine instance bound to one
// player container.
type Engine interface {
	SetSource(url, mimeType string) error
	ClearSource() error

	CurrentTime() float64
	SetCurrentTime(t float64)
	Duration() float64

	Paused() bool
	Play() error
	Pause() error

	Muted() bool
	SetMuted(muted bool)
	Volume() float64
	SetVolume(v float64)

	PlaybackRate() float64
	SetPlaybackRate(rate float64)

	On(event EventType, h Handler) Unsubscribe

	Dispose() error
	IsDisposed() bool
}

// Level is one adaptive-bitrate variant.
type Level struct {
	Index     int
	Height    int
	Width     int
	Bandwidth int
	Enabled   bool
}

// LevelController is implemented by engines with native adaptive-bitrate
// level control.
type LevelController interface {
	// Levels returns the discovered variants; empty until the manifest loads.
	Levels() []Level
	// EnableLevels enables every level for which keep returns true and
	// disables the rest.
	EnableLevels(keep func(Level) bool)
}

// ManifestSource is implemented by engines that expose the raw master
// playlist they loaded.
type ManifestSource interface {
	Manifest() string
}
