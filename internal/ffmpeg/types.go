package ffmpeg

import "time"

// VideoInfo is what the sampler needs to know about a video file.
type VideoInfo struct {
	FilePath string
	Duration time.Duration
}

// RunOptions configures ffmpeg execution. LogHandler receives every output
// line.
type RunOptions struct {
	Args       []string
	LogHandler func(line string)
}

// Crop is a rectangle in source pixels, as printed by cropdetect.
type Crop struct {
	Width  int
	Height int
	X      int
	Y      int
}
