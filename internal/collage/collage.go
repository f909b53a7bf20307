// Package collage tiles the sampled frames of a video into a single image.
package collage

import (
	"image"
	"image/draw"
	"math"

	"github.com/disintegration/imaging"
	"github.com/keagan/videohash/internal/errs"
	"github.com/keagan/videohash/internal/sampler"
	"github.com/nfnt/resize"
)

// DefaultMaxCanvas bounds the collage side so long interval runs stay in memory.
const DefaultMaxCanvas = 4096

// Collage is the tiled image and its grid geometry.
type Collage struct {
	Image *image.NRGBA
	Rows  int
	Cols  int
	Tile  int
}

// Builder lays frames out on a fixed grid.
type Builder struct {
	frameSize int
	maxCanvas int
}

// NewBuilder returns a builder producing frameSize tiles on a canvas no
// larger than maxCanvas per side, tiles permitting.
func NewBuilder(frameSize, maxCanvas int) (*Builder, error) {
	if frameSize <= 0 {
		return nil, errs.Configf("collage", "frame size must be positive, got %d", frameSize)
	}
	if maxCanvas <= 0 {
		return nil, errs.Configf("collage", "max canvas must be positive, got %d", maxCanvas)
	}
	return &Builder{frameSize: frameSize, maxCanvas: maxCanvas}, nil
}

// Grid returns the collage geometry for n frames: the most square grid
// with cols = ceil(sqrt(n)) and just enough rows.
func Grid(n int) (rows, cols int) {
	if n <= 0 {
		return 0, 0
	}
	cols = int(math.Ceil(math.Sqrt(float64(n))))
	rows = (n + cols - 1) / cols
	return rows, cols
}

// TileSize returns the side of one cell for a grid with cols columns.
func (b *Builder) TileSize(cols int) int {
	tile := b.frameSize
	if cols*tile > b.maxCanvas {
		tile = b.maxCanvas / cols
	}
	return max(tile, 1)
}

// Build pastes frames left to right, top to bottom. Cells without a frame
// stay black.
func (b *Builder) Build(frames []sampler.Frame) (*Collage, error) {
	if len(frames) == 0 {
		return nil, errs.Aggregationf("build collage", "no frames")
	}

	rows, cols := Grid(len(frames))
	tile := b.TileSize(cols)
	canvas := imaging.New(cols*tile, rows*tile, sampler.Black)

	for i, f := range frames {
		if f.Image == nil || f.Image.Bounds().Empty() {
			return nil, errs.New(errs.ErrAggregation, "build collage", i, nil, "empty frame")
		}
		cell := resize.Resize(uint(tile), uint(tile), f.Image, resize.NearestNeighbor)
		at := image.Pt((i%cols)*tile, (i/cols)*tile)
		draw.Draw(canvas, image.Rectangle{Min: at, Max: at.Add(image.Pt(tile, tile))}, cell, cell.Bounds().Min, draw.Src)
	}

	return &Collage{Image: canvas, Rows: rows, Cols: cols, Tile: tile}, nil
}
