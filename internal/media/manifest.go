package media

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/grafov/m3u8"
)

// ErrNotMasterPlaylist is returned when a manifest parses as a media playlist.
var ErrNotMasterPlaylist = errors.New("manifest is not a master playlist")

// ParseVariants decodes an HLS master playlist and returns one Level per
// #EXT-X-STREAM-INF entry, in manifest order, all enabled. Variants without a
// RESOLUTION attribute get Height 0.
func ParseVariants(manifest string) ([]Level, error) {
	pl, kind, err := m3u8.DecodeFrom(strings.NewReader(manifest), false)
	if err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if kind != m3u8.MASTER {
		return nil, ErrNotMasterPlaylist
	}
	master, ok := pl.(*m3u8.MasterPlaylist)
	if !ok {
		return nil, ErrNotMasterPlaylist
	}

	levels := make([]Level, 0, len(master.Variants))
	for i, v := range master.Variants {
		if v == nil {
			continue
		}
		w, h := parseResolution(v.Resolution)
		levels = append(levels, Level{
			Index:     i,
			Width:     w,
			Height:    h,
			Bandwidth: int(v.Bandwidth),
			Enabled:   true,
		})
	}
	return levels, nil
}

// parseResolution reads "1280x720" into (1280, 720). Malformed values yield zeros.
func parseResolution(res string) (int, int) {
	wStr, hStr, ok := strings.Cut(strings.ToLower(strings.TrimSpace(res)), "x")
	if !ok {
		return 0, 0
	}
	w, err1 := strconv.Atoi(wStr)
	h, err2 := strconv.Atoi(hStr)
	if err1 != nil || err2 != nil || w < 0 || h < 0 {
		return 0, 0
	}
	return w, h
}

// DistinctHeights returns the unique non-zero heights of levels, highest first.
func DistinctHeights(levels []Level) []int {
	seen := make(map[int]struct{}, len(levels))
	heights := make([]int, 0, len(levels))
	for _, l := range levels {
		if l.Height <= 0 {
			continue
		}
		if _, dup := seen[l.Height]; dup {
			continue
		}
		seen[l.Height] = struct{}{}
		heights = append(heights, l.Height)
	}
	sort.Sort(sort.Reverse(sort.IntSlice(heights)))
	return heights
}
