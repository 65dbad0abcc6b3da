// Package util holds small formatting and arithmetic helpers shared
// across the node's packages. ID generation lives with
// github.com/google/uuid instead of here — no reason to hand-roll it
// next to a real uuid library in the same module.
package util

import (
	"fmt"
	"time"
)

// FormatDuration formats a duration as a short human readable string,
// used in operational log messages.
func FormatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

// Clamp clamps value between min and max, used by the repair queue's
// background drain loop to keep its poll interval inside the
// load-aware throttle policy's configured bounds.
func Clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
