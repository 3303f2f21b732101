package player

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"premium-player/internal/media"
)

const fallbackManifest = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-STREAM-INF:BANDWIDTH=800000,RESOLUTION=640x360
360p/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=2800000,RESOLUTION=1280x720
720p/index.m3u8
#EXT-X-STREAM-INF:BANDWIDTH=3000000,RESOLUTION=1280x720
720p-hi/index.m3u8
`

func liveHandle(e media.Engine) func() (media.Engine, bool) {
	return func() (media.Engine, bool) {
		if e.IsDisposed() {
			return nil, false
		}
		return e, true
	}
}

func TestQualityManager_native_levels(t *testing.T) {
	e := newABREngine(nil, 480, 1080, 720, 360)
	q := NewQualityManager(media.ResolveCapabilities(e, false), liveHandle(e))

	require.True(t, q.Discover())
	assert.True(t, q.Native())
	assert.Equal(t, []Quality{QualityAuto, 1080, 720, 480, 360}, q.Available())
}

func TestQualityManager_Set_height_enables_exactly_that_variant(t *testing.T) {
	e := newABREngine(nil, 1080, 720, 480, 360)
	q := NewQualityManager(media.ResolveCapabilities(e, false), liveHandle(e))
	require.True(t, q.Discover())

	for _, h := range []int{1080, 720, 480, 360} {
		require.NoError(t, q.Set(Quality(h)))
		for _, l := range e.Levels() {
			assert.Equal(t, l.Height == h, l.Enabled, "height %d while selecting %d", l.Height, h)
		}
		assert.Equal(t, Quality(h), q.Current())
	}

	require.NoError(t, q.Set(QualityAuto))
	for _, l := range e.Levels() {
		assert.True(t, l.Enabled, "auto re-enables %dp", l.Height)
	}
	for _, l := range q.Levels() {
		assert.True(t, l.Enabled)
	}
}

func TestQualityManager_manifest_fallback(t *testing.T) {
	e := &manifestEngine{fakeEngine: newFakeEngine(nil), text: fallbackManifest}
	caps := media.ResolveCapabilities(e, false)
	require.False(t, caps.SupportsNativeAdaptiveBitrate)
	require.True(t, caps.SupportsManifestAccess)

	q := NewQualityManager(caps, liveHandle(e))
	require.True(t, q.Discover())
	assert.False(t, q.Native())
	assert.Equal(t, []Quality{QualityAuto, 720, 360}, q.Available())

	require.NoError(t, q.Set(720))
	enabled := 0
	for _, l := range q.Levels() {
		if l.Enabled {
			enabled++
			assert.Equal(t, 720, l.Height)
		}
	}
	assert.Equal(t, 2, enabled)
}

func TestQualityManager_nothing_to_discover(t *testing.T) {
	e := &manifestEngine{fakeEngine: newFakeEngine(nil)}
	q := NewQualityManager(media.ResolveCapabilities(e, false), liveHandle(e))

	assert.False(t, q.Discover())
	assert.Equal(t, []Quality{QualityAuto}, q.Available())
}

func TestQualityManager_rejects_unknown_height(t *testing.T) {
	e := newABREngine(nil, 720)
	q := NewQualityManager(media.ResolveCapabilities(e, false), liveHandle(e))
	require.True(t, q.Discover())

	assert.ErrorIs(t, q.Set(1440), ErrInvalidQuality)
	assert.Equal(t, QualityAuto, q.Current())
}

func TestQualityManager_disposed_handle(t *testing.T) {
	e := newABREngine(nil, 720)
	q := NewQualityManager(media.ResolveCapabilities(e, false), liveHandle(e))
	require.True(t, q.Discover())
	require.NoError(t, e.Dispose())

	assert.ErrorIs(t, q.Set(720), ErrDisposed)
	assert.False(t, q.Discover())
}

func TestQuality_labels(t *testing.T) {
	assert.Equal(t, "Auto", QualityAuto.Label())
	assert.Equal(t, "720p", Quality(720).Label())
	assert.Equal(t, "auto", QualityAuto.String())
	assert.Equal(t, "1080", Quality(1080).String())

	for in, want := range map[string]Quality{"auto": QualityAuto, "AUTO": QualityAuto, "720": 720, "720p": 720, " 480p ": 480} {
		got, err := ParseQuality(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	for _, in := range []string{"", "hd", "-1", "0p"} {
		_, err := ParseQuality(in)
		assert.ErrorIs(t, err, ErrInvalidQuality, in)
	}
}
