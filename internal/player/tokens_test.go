package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"premium-player/internal/platform/logger"
	"premium-player/internal/platform/metrics"
	"premium-player/internal/portalapi"
)

type fakeLeaseTarget struct {
	mu      sync.Mutex
	alive   bool
	swaps   []string
	expired string
	swapErr error
}

func newLeaseTarget() *fakeLeaseTarget { return &fakeLeaseTarget{alive: true} }

func (f *fakeLeaseTarget) Alive() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.alive
}

func (f *fakeLeaseTarget) SwapSource(ctx context.Context, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.swapErr != nil {
		return f.swapErr
	}
	f.swaps = append(f.swaps, url)
	return nil
}

func (f *fakeLeaseTarget) Expire(msg string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expired = msg
}

func (f *fakeLeaseTarget) swapped() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.swaps...)
}

func (f *fakeLeaseTarget) expiredMsg() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.expired
}

type refreshOutcomes struct {
	mu      sync.Mutex
	results map[string]int
}

func (r *refreshOutcomes) ObserveRefresh(result string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.results == nil {
		r.results = make(map[string]int)
	}
	r.results[result]++
}

func (r *refreshOutcomes) count(result string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.results[result]
}

func newTestRefresher(t *testing.T, backend URLRefresher) (*TokenRefresher, clockwork.FakeClock, *refreshOutcomes) {
	t.Helper()
	clk := clockwork.NewFakeClock()
	rec := &refreshOutcomes{}
	r := NewTokenRefresher(backend, clk, DefaultConfig(), rec, logger.Discard())
	t.Cleanup(r.StopAll)
	return r, clk, rec
}

// stallingBackend blocks every refresh until its context ends.
type stallingBackend struct {
	entered chan struct{}
}

func (b *stallingBackend) RefreshVideoToken(ctx context.Context, videoID, libraryID string) (string, error) {
	b.entered <- struct{}{}
	<-ctx.Done()
	return "", ctx.Err()
}

func TestTokenRefresher_refresh_deadline_follows_clock(t *testing.T) {
	backend := &stallingBackend{entered: make(chan struct{}, 1)}
	r, clk, rec := newTestRefresher(t, backend)
	target := newLeaseTarget()

	r.RegisterSession("v1", target, 3, "lib")
	clk.Advance(90 * time.Second)
	select {
	case <-backend.entered:
	case <-time.After(time.Second):
		t.Fatal("refresh did not start")
	}

	assert.Never(t, func() bool { return rec.count(metrics.RefreshFailed) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
	clk.Advance(DefaultConfig().RefreshTimeout)
	require.Eventually(t, func() bool { return rec.count(metrics.RefreshFailed) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, target.swapped())
	assert.Equal(t, 1, r.Leases())
}

func TestTokenRefresher_register_then_stop_leaves_no_leases(t *testing.T) {
	backend := &fakeBackend{}
	backend.script(refreshResult{url: "https://cdn/u1"})
	r, clk, _ := newTestRefresher(t, backend)

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("v%d", i)
		r.RegisterSession(id, newLeaseTarget(), 1, "lib")
		r.StopRefresh(id)
	}
	assert.Equal(t, 0, r.Leases())

	clk.Advance(5 * time.Minute)
	assert.Never(t, func() bool { return backend.refreshCalls() > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestTokenRefresher_StopRefresh_unknown_is_noop(t *testing.T) {
	r, _, _ := newTestRefresher(t, &fakeBackend{})
	r.StopRefresh("missing")
	r.StopAll()
	assert.Equal(t, 0, r.Leases())
}

func TestTokenRefresher_success_swaps_source(t *testing.T) {
	backend := &fakeBackend{}
	backend.script(refreshResult{url: "https://cdn/u1"}, refreshResult{url: "https://cdn/u2"})
	r, clk, rec := newTestRefresher(t, backend)
	target := newLeaseTarget()

	r.RegisterSession("v1", target, 3, "lib")
	clk.Advance(90 * time.Second)
	require.Eventually(t, func() bool { return len(target.swapped()) == 1 }, time.Second, 5*time.Millisecond)

	clk.Advance(90 * time.Second)
	require.Eventually(t, func() bool { return len(target.swapped()) == 2 }, time.Second, 5*time.Millisecond)

	assert.Equal(t, []string{"https://cdn/u1", "https://cdn/u2"}, target.swapped())
	require.Eventually(t, func() bool { return rec.count(metrics.RefreshOK) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, r.Leases())
}

func TestTokenRefresher_auth_expired_is_terminal(t *testing.T) {
	backend := &fakeBackend{}
	backend.script(refreshResult{err: fmt.Errorf("refresh: %w", portalapi.ErrAuthExpired)})
	r, clk, rec := newTestRefresher(t, backend)
	target := newLeaseTarget()

	r.RegisterSession("v1", target, 3, "lib")
	clk.Advance(90 * time.Second)

	require.Eventually(t, func() bool { return target.expiredMsg() != "" }, time.Second, 5*time.Millisecond)
	assert.Equal(t, SubscriptionExpiredMessage, target.expiredMsg())
	assert.Equal(t, 0, r.Leases())
	assert.Equal(t, 1, rec.count(metrics.RefreshAuthExpired))

	clk.Advance(90 * time.Second)
	assert.Never(t, func() bool { return backend.refreshCalls() > 1 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestTokenRefresher_transient_failure_retries_next_tick(t *testing.T) {
	backend := &fakeBackend{}
	backend.script(
		refreshResult{err: errors.New("connection reset")},
		refreshResult{url: "https://cdn/u2"},
	)
	r, clk, rec := newTestRefresher(t, backend)
	target := newLeaseTarget()

	r.RegisterSession("v1", target, 3, "lib")
	clk.Advance(90 * time.Second)
	require.Eventually(t, func() bool { return rec.count(metrics.RefreshFailed) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, target.swapped())
	assert.Equal(t, 1, r.Leases())

	clk.Advance(90 * time.Second)
	require.Eventually(t, func() bool { return len(target.swapped()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, "https://cdn/u2", target.swapped()[0])
}

func TestTokenRefresher_dead_target_drops_lease(t *testing.T) {
	backend := &fakeBackend{}
	backend.script(refreshResult{url: "https://cdn/u1"})
	r, clk, rec := newTestRefresher(t, backend)
	target := newLeaseTarget()
	target.alive = false

	r.RegisterSession("v1", target, 3, "lib")
	clk.Advance(90 * time.Second)

	require.Eventually(t, func() bool { return rec.count(metrics.RefreshStale) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, r.Leases())
	assert.Equal(t, 0, backend.refreshCalls())
}

func TestTokenRefresher_disposed_during_swap_drops_lease(t *testing.T) {
	backend := &fakeBackend{}
	backend.script(refreshResult{url: "https://cdn/u1"})
	r, clk, _ := newTestRefresher(t, backend)
	target := newLeaseTarget()
	target.swapErr = ErrDisposed

	r.RegisterSession("v1", target, 3, "lib")
	clk.Advance(90 * time.Second)

	require.Eventually(t, func() bool { return r.Leases() == 0 }, time.Second, 5*time.Millisecond)
}

func TestTokenRefresher_reregister_replaces_lease(t *testing.T) {
	backend := &fakeBackend{}
	backend.script(refreshResult{url: "https://cdn/u1"})
	r, clk, _ := newTestRefresher(t, backend)
	first, second := newLeaseTarget(), newLeaseTarget()

	r.RegisterSession("v1", first, 3, "lib")
	r.RegisterSession("v1", second, 3, "lib")
	assert.Equal(t, 1, r.Leases())

	clk.Advance(90 * time.Second)
	require.Eventually(t, func() bool { return len(second.swapped()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Empty(t, first.swapped())
}

func TestTokenRefresher_SetInterval_applies_to_new_leases(t *testing.T) {
	backend := &fakeBackend{}
	backend.script(refreshResult{url: "https://cdn/u1"})
	r, clk, _ := newTestRefresher(t, backend)
	r.SetInterval(30 * time.Second)
	r.SetInterval(0)
	assert.Equal(t, 30*time.Second, r.Interval())

	target := newLeaseTarget()
	r.RegisterSession("v1", target, 3, "lib")
	clk.Advance(30 * time.Second)
	require.Eventually(t, func() bool { return len(target.swapped()) == 1 }, time.Second, 5*time.Millisecond)
}
