package player

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"premium-player/internal/media"
)

// ErrInvalidQuality is returned for a quality outside the discovered set.
var ErrInvalidQuality = errors.New("invalid quality")

// Quality is a variant height in pixels; QualityAuto lets the engine switch
// adaptively.
type Quality int

// QualityAuto selects adaptive switching across every variant.
const QualityAuto Quality = 0

// Label formats q for the control surface: "Auto" or "720p".
func (q Quality) Label() string {
	if q == QualityAuto {
		return "Auto"
	}
	return strconv.Itoa(int(q)) + "p"
}

// String returns the wire form: "auto" or the bare height.
func (q Quality) String() string {
	if q == QualityAuto {
		return "auto"
	}
	return strconv.Itoa(int(q))
}

// ParseQuality accepts "auto", "720" or "720p".
func ParseQuality(s string) (Quality, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "auto" {
		return QualityAuto, nil
	}
	n, err := strconv.Atoi(strings.TrimSuffix(s, "p"))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidQuality, s)
	}
	return Quality(n), nil
}

// QualityManager discovers the stream's variants and switches between them.
type QualityManager struct {
	caps   media.Capabilities
	handle func() (media.Engine, bool)

	mu      sync.Mutex
	levels  []media.Level
	heights []int
	native  bool
	current Quality
}

// NewQualityManager returns a manager over the capabilities resolved at open.
func NewQualityManager(caps media.Capabilities, handle func() (media.Engine, bool)) *QualityManager {
	return &QualityManager{caps: caps, handle: handle}
}

// Discover tries the engine's native level list first and falls back to the
// variant resolutions in its loaded manifest. It reports whether at least one
// variant height is known.
func (q *QualityManager) Discover() bool {
	if _, ok := q.handle(); !ok {
		return false
	}

	var (
		levels []media.Level
		native bool
	)
	if lc := q.caps.Levels(); lc != nil {
		levels = lc.Levels()
		native = len(media.DistinctHeights(levels)) > 0
	}
	if !native {
		levels = nil
		if ms := q.caps.Manifest(); ms != nil {
			if text := ms.Manifest(); text != "" {
				if parsed, err := media.ParseVariants(text); err == nil {
					levels = parsed
				}
			}
		}
	}

	heights := media.DistinctHeights(levels)
	if len(heights) == 0 {
		return false
	}

	q.mu.Lock()
	defer q.mu.Unlock()
	q.levels = levels
	q.heights = heights
	q.native = native
	return true
}

// Native reports whether the levels came from the engine's own ABR list.
func (q *QualityManager) Native() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.native
}

// Available returns QualityAuto followed by the distinct heights, highest
// first. Before discovery it is just QualityAuto.
func (q *QualityManager) Available() []Quality {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]Quality, 0, len(q.heights)+1)
	out = append(out, QualityAuto)
	for _, h := range q.heights {
		out = append(out, Quality(h))
	}
	return out
}

// Levels returns a copy of the discovered levels with their enabled flags.
func (q *QualityManager) Levels() []media.Level {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]media.Level, len(q.levels))
	copy(out, q.levels)
	return out
}

// Current returns the selected quality.
func (q *QualityManager) Current() Quality {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.current
}

// Set selects a quality. QualityAuto re-enables every variant; a height
// enables exactly the variants of that height and disables the rest.
func (q *QualityManager) Set(quality Quality) error {
	if _, ok := q.handle(); !ok {
		return ErrDisposed
	}

	q.mu.Lock()
	if quality != QualityAuto && !containsHeight(q.heights, int(quality)) {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrInvalidQuality, quality.Label())
	}
	keep := func(l media.Level) bool {
		return quality == QualityAuto || l.Height == int(quality)
	}
	for i := range q.levels {
		q.levels[i].Enabled = keep(q.levels[i])
	}
	q.current = quality
	q.mu.Unlock()

	if lc := q.caps.Levels(); lc != nil {
		lc.EnableLevels(keep)
	}
	return nil
}

func containsHeight(heights []int, h int) bool {
	for _, x := range heights {
		if x == h {
			return true
		}
	}
	return false
}
