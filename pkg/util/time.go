package util

import (
	"fmt"
	"time"
)

// FormatDuration renders d as an ffmpeg timestamp (HH:MM:SS.mmm)
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Millisecond)
	hours := d / time.Hour
	minutes := (d % time.Hour) / time.Minute
	secs := float64(d%time.Minute) / float64(time.Second)
	return fmt.Sprintf("%02d:%02d:%06.3f", int64(hours), int64(minutes), secs)
}
