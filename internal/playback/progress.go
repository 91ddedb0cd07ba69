package playback

import (
	"fmt"
	"math"
)

// ProgressInfo is the last known position of the shared file, measured
// locally by the owner or reported by the other side.
type ProgressInfo struct {
	PlayedSeconds float64
	Played        string
	Total         string
	Fraction      float64
}

// FormatClock renders seconds as MM:SS, or HH:MM:SS from one hour on.
func FormatClock(seconds float64) string {
	if math.IsNaN(seconds) || seconds < 0 {
		seconds = 0
	}
	s := int64(seconds)
	h, m, sec := s/3600, (s%3600)/60, s%60
	if h > 0 {
		return fmt.Sprintf("%02d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}

// fraction returns pos/dur in [0,1]; an unknown duration gives 0.
func fraction(pos, dur float64) float64 {
	if dur <= 0 || math.IsNaN(dur) || math.IsInf(dur, 0) {
		return 0
	}
	return math.Min(math.Max(pos/dur, 0), 1)
}
