package ffmpeg

import (
	"context"
	"fmt"

	"github.com/keagan/videohash/internal/sampler"
	"github.com/keagan/videohash/pkg/util"
)

var _ sampler.Decoder = (*Executor)(nil)

// ExtractFrame writes the frame at req.Timestamp to req.Output, cropped
// and scaled to a req.Size square.
func (e *Executor) ExtractFrame(ctx context.Context, input string, req sampler.FrameRequest) error {
	if req.Output == "" {
		return fmt.Errorf("output path is required")
	}
	if req.Size <= 0 {
		return fmt.Errorf("frame size must be positive, got %d", req.Size)
	}

	filters := NewFilterBuilder()
	if req.Crop != "" {
		c, err := ParseCrop(req.Crop)
		if err != nil {
			return err
		}
		filters.Crop(c)
	}
	filters.ScaleNearest(req.Size, req.Size)

	err := e.Run(ctx, RunOptions{
		Args: frameArgs(input, req, filters.Build()),
		LogHandler: func(line string) {
			e.logger.Trace().Int("frame", req.Index).Str("ffmpeg", line).Msg("frame extraction")
		},
	})
	if err != nil {
		return err
	}
	if !util.FileExists(req.Output) {
		return fmt.Errorf("ffmpeg produced no frame at %s", util.FormatDuration(req.Timestamp))
	}
	return nil
}

func frameArgs(input string, req sampler.FrameRequest, filter string) []string {
	return []string{
		"-ss", util.FormatDuration(req.Timestamp),
		"-i", input,
		"-vf", filter,
		"-frames:v", "1",
		"-pix_fmt", "rgb24",
		req.Output,
	}
}
