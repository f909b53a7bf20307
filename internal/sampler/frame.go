// Package sampler picks timestamps across a video and turns them into
// in-memory raster frames through a Decoder.
package sampler

import (
	"context"
	"image"
	"image/color"
	"time"

	"github.com/disintegration/imaging"
)

// Frame is one sampled raster image and where it came from.
type Frame struct {
	Index     int
	Timestamp time.Duration
	Image     image.Image
}

// FrameRequest asks a Decoder for a single frame written to Output.
type FrameRequest struct {
	Index     int
	Timestamp time.Duration
	Size      int
	Crop      string
	Output    string
}

// Decoder is the video decoding collaborator.
type Decoder interface {
	Duration(ctx context.Context, path string) (time.Duration, error)
	DetectCrop(ctx context.Context, path string, duration time.Duration) (string, error)
	ExtractFrame(ctx context.Context, path string, req FrameRequest) error
}

// Black is the placeholder colour for missing frames and empty collage cells.
var Black = color.NRGBA{A: 0xff}

// BlackFrame returns a size×size opaque black image.
func BlackFrame(size int) *image.NRGBA {
	return imaging.New(size, size, Black)
}
