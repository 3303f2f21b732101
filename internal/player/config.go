package player

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidConfig wraps every Config validation failure.
var ErrInvalidConfig = errors.New("invalid player config")

// Config holds the playback controller tunables.
type Config struct {
	// TokenRefreshInterval must stay below TokenURLLifetime so a fresh URL is
	// always swapped in before the current one lapses.
	TokenRefreshInterval time.Duration
	TokenURLLifetime     time.Duration
	RefreshTimeout       time.Duration
	SwapTimeout          time.Duration

	ControlsHideDelayTouch   time.Duration
	ControlsHideDelayPointer time.Duration
	ControlsIdleThreshold    time.Duration

	DoubleTapWindow   time.Duration
	DoubleTapDistance float64 // fraction of viewport width
	TapSlopPx         float64
	DragThresholdPx   float64
	DragSeekRange     float64 // seconds per full viewport width
	SkipAmount        float64 // seconds
	CenterZone        float64 // fraction of viewport width

	QualityPollInterval time.Duration
	QualityPollTimeout  time.Duration

	TouchPrimary bool
}

// DefaultConfig returns the stock tunables.
func DefaultConfig() Config {
	return Config{
		TokenRefreshInterval: 90 * time.Second,
		TokenURLLifetime:     120 * time.Second,
		RefreshTimeout:       15 * time.Second,
		SwapTimeout:          10 * time.Second,

		ControlsHideDelayTouch:   3 * time.Second,
		ControlsHideDelayPointer: 4 * time.Second,
		ControlsIdleThreshold:    4 * time.Second,

		DoubleTapWindow:   300 * time.Millisecond,
		DoubleTapDistance: 0.15,
		TapSlopPx:         10,
		DragThresholdPx:   50,
		DragSeekRange:     30,
		SkipAmount:        10,
		CenterZone:        0.40,

		QualityPollInterval: 500 * time.Millisecond,
		QualityPollTimeout:  10 * time.Second,
	}
}

// Validate reports the first inconsistent setting.
func (c Config) Validate() error {
	switch {
	case c.TokenRefreshInterval <= 0:
		return fmt.Errorf("%w: token refresh interval must be positive", ErrInvalidConfig)
	case c.TokenRefreshInterval >= c.TokenURLLifetime:
		return fmt.Errorf("%w: token refresh interval %s must be shorter than url lifetime %s",
			ErrInvalidConfig, c.TokenRefreshInterval, c.TokenURLLifetime)
	case c.RefreshTimeout <= 0:
		return fmt.Errorf("%w: refresh timeout must be positive", ErrInvalidConfig)
	case c.SwapTimeout <= 0:
		return fmt.Errorf("%w: swap timeout must be positive", ErrInvalidConfig)
	case c.ControlsHideDelayTouch <= 0 || c.ControlsHideDelayPointer <= 0:
		return fmt.Errorf("%w: controls hide delays must be positive", ErrInvalidConfig)
	case c.DoubleTapWindow <= 0:
		return fmt.Errorf("%w: double tap window must be positive", ErrInvalidConfig)
	case c.DoubleTapDistance <= 0 || c.DoubleTapDistance > 1:
		return fmt.Errorf("%w: double tap distance %.2f outside (0,1]", ErrInvalidConfig, c.DoubleTapDistance)
	case c.TapSlopPx <= 0 || c.DragThresholdPx <= 0:
		return fmt.Errorf("%w: tap slop and drag threshold must be positive", ErrInvalidConfig)
	case c.DragSeekRange <= 0 || c.SkipAmount <= 0:
		return fmt.Errorf("%w: drag seek range and skip amount must be positive", ErrInvalidConfig)
	case c.CenterZone <= 0 || c.CenterZone >= 1:
		return fmt.Errorf("%w: center zone %.2f outside (0,1)", ErrInvalidConfig, c.CenterZone)
	case c.QualityPollInterval <= 0 || c.QualityPollTimeout < c.QualityPollInterval:
		return fmt.Errorf("%w: quality poll interval/timeout", ErrInvalidConfig)
	}
	return nil
}
