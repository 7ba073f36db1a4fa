// Package device models the camera-side view of the bridge: the stream
// profiles a camera offers, its capability flags, and the closed set of
// device variants (camera, doorbell, package camera) sharing one interface.
package device

import "sort"

// StreamProfile is one candidate source stream. Immutable once selected for
// a session.
type StreamProfile struct {
	// Channel identifies the source channel on the camera.
	Channel string
	Width   uint
	Height  uint
	FPS     uint
	// URL is the profile's RTSP address.
	URL string
	// LiveURL is the controller's livestream API endpoint for this profile,
	// when it offers one. Timeshift buffering prefers it over URL.
	LiveURL string
	// Bitrate is the measured source bitrate in kbps.
	Bitrate uint
	// Codec is the source video codec, e.g. "h264" or "h265".
	Codec string
}

// SortProfiles orders profiles by descending resolution and frame rate with
// deterministic tie-breaks: width, then height, then frame rate.
func SortProfiles(profiles []StreamProfile) {
	sort.SliceStable(profiles, func(i, j int) bool {
		a, b := profiles[i], profiles[j]
		if a.Width != b.Width {
			return a.Width > b.Width
		}
		if a.Height != b.Height {
			return a.Height > b.Height
		}
		return a.FPS > b.FPS
	})
}

// SelectExact finds the profile closest to the requested resolution for the
// stream-copy path: an exact match first, then the next size down, then the
// lowest available profile.
func SelectExact(profiles []StreamProfile, width, height, fps uint) *StreamProfile {
	if len(profiles) == 0 {
		return nil
	}

	sorted := make([]StreamProfile, len(profiles))
	copy(sorted, profiles)
	SortProfiles(sorted)

	for i := range sorted {
		if sorted[i].Width == width && sorted[i].Height == height && sorted[i].FPS == fps {
			return &sorted[i]
		}
	}
	for i := range sorted {
		if sorted[i].Width <= width {
			return &sorted[i]
		}
	}
	return &sorted[len(sorted)-1]
}

// SelectHighest returns the highest-quality profile. Hardware-accelerated
// transcoding performs better with a higher-quality input.
func SelectHighest(profiles []StreamProfile) *StreamProfile {
	if len(profiles) == 0 {
		return nil
	}

	sorted := make([]StreamProfile, len(profiles))
	copy(sorted, profiles)
	SortProfiles(sorted)
	return &sorted[0]
}
