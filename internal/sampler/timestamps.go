package sampler

import (
	"time"

	"github.com/keagan/videohash/internal/errs"
)

// Timestamps returns the sampling instants for a video of the given
// duration.
//
// With a frame count n the video is split into n+1 equal parts and the n
// inner boundaries are used, so neither the first nor the last instant is
// sampled. With an interval every multiple of it strictly inside the video
// is used; a video shorter than one interval is sampled once, in the
// middle.
func Timestamps(duration time.Duration, cfg Config) ([]time.Duration, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if duration <= 0 {
		return nil, errs.Decodef("timestamps", errs.NoFrame, nil, "video has no duration")
	}

	if cfg.Interval > 0 {
		n := int((duration - 1) / cfg.Interval)
		if n > cfg.MaxFrames {
			return nil, errs.Configf("timestamps", "interval %s yields %d frames, above max frames %d", cfg.Interval, n, cfg.MaxFrames)
		}
		if n == 0 {
			return []time.Duration{duration / 2}, nil
		}
		out := make([]time.Duration, n)
		for k := range out {
			out[k] = time.Duration(k+1) * cfg.Interval
		}
		return out, nil
	}

	n := cfg.FrameCount
	out := make([]time.Duration, n)
	for i := range out {
		out[i] = time.Duration(float64(duration) * float64(i+1) / float64(n+1))
	}
	return out, nil
}
