package media

import "fmt"

// Playback error codes as reported by the engine.
const (
	ErrCodeAborted           = 1
	ErrCodeNetwork           = 2
	ErrCodeFormatUnsupported = 3
	ErrCodeSourceUnavailable = 4
)

var playbackMessages = map[int]string{
	ErrCodeAborted:           "Playback was aborted.",
	ErrCodeNetwork:           "A network error interrupted playback.",
	ErrCodeFormatUnsupported: "This video format is not supported.",
	ErrCodeSourceUnavailable: "The video source is unavailable.",
}

const unknownPlaybackMessage = "An unknown playback error occurred."

// PlaybackError is a fatal engine error.
type PlaybackError struct {
	Code int
}

// Message returns the user-facing text for the code.
func (e *PlaybackError) Message() string {
	return MessageForCode(e.Code)
}

func (e *PlaybackError) Error() string {
	return fmt.Sprintf("playback error %d: %s", e.Code, e.Message())
}

// MessageForCode maps an engine error code to its fixed message.
func MessageForCode(code int) string {
	if msg, ok := playbackMessages[code]; ok {
		return msg
	}
	return unknownPlaybackMessage
}
