package media

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
)

// WaitFor polls cond every interval until it returns true, timeout elapses,
// or ctx is done. It reports whether cond became true. cond is checked once
// before any timer is started.
func WaitFor(ctx context.Context, clk clockwork.Clock, interval, timeout time.Duration, cond func() bool) bool {
	if cond() {
		return true
	}

	ticker := clk.NewTicker(interval)
	defer ticker.Stop()
	deadline := clk.NewTimer(timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.Chan():
			return cond()
		case <-ticker.Chan():
			if cond() {
				return true
			}
		}
	}
}
