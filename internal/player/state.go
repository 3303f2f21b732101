package player

// State is a playback session state.
type State int

const (
	StateIdle State = iota
	StateLoading
	StateReady
	StatePlaying
	StatePaused
	StateSeeking
	StateBuffering
	StateError
	StateDisposed
)

var stateNames = [...]string{
	StateIdle:      "idle",
	StateLoading:   "loading",
	StateReady:     "ready",
	StatePlaying:   "playing",
	StatePaused:    "paused",
	StateSeeking:   "seeking",
	StateBuffering: "buffering",
	StateError:     "error",
	StateDisposed:  "disposed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// playbackActive reports whether s has media loaded and is neither seeking,
// buffering, failed nor disposed.
func (s State) playbackActive() bool {
	return s == StateReady || s == StatePlaying || s == StatePaused
}

// canSeek reports whether a scrub may start from s.
func (s State) canSeek() bool {
	return s.playbackActive() || s == StateBuffering
}
