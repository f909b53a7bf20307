// Package aggregate combines a collage hash and the per-frame hashes of a
// video into one fixed-width fingerprint.
//
// Layout v1, most significant bits first:
//
//	[ collage hash: CollageBits ][ fold slot 0: 64 ] ... [ fold slot s-1: 64 ]
//
// The collage hash is the extended perceptual hash of the frame collage.
// Frame i is assigned to fold slot i mod s, and each slot bit is set when a
// strict majority of the slot's frames have it set. A slot without frames
// is zero.
package aggregate

import (
	"math"
	"math/bits"

	"github.com/keagan/videohash/internal/collage"
	"github.com/keagan/videohash/internal/errs"
	"github.com/keagan/videohash/internal/fingerprint"
	"github.com/keagan/videohash/internal/hasher"
)

// Version names the bit layout produced by Aggregate. Fingerprints of
// different versions are not comparable.
const Version = "v1"

// Config fixes the fingerprint layout.
type Config struct {
	Width            int
	CollageBits      int
	CollageAlgorithm hasher.Algorithm
	MinFrames        int
}

// DefaultConfig is a 256-bit fingerprint: a 16×8 collage pHash followed by
// two 64-bit fold slots.
func DefaultConfig() Config {
	return Config{
		Width:            256,
		CollageBits:      128,
		CollageAlgorithm: hasher.PHash,
		MinFrames:        1,
	}
}

// FoldBits is the part of the width filled by per-frame hashes.
func (c Config) FoldBits() int { return c.Width - c.CollageBits }

// Slots is the number of 64-bit fold slots.
func (c Config) Slots() int { return c.FoldBits() / fingerprint.WordBits }

// Validate reports layout errors as ErrConfiguration.
func (c Config) Validate() error {
	switch {
	case c.Width <= 0 || c.Width%fingerprint.WordBits != 0:
		return errs.Configf("aggregate", "width must be a positive multiple of 64, got %d", c.Width)
	case c.CollageBits < fingerprint.WordBits || bits.OnesCount(uint(c.CollageBits)) != 1:
		return errs.Configf("aggregate", "collage bits must be a power of two of at least 64, got %d", c.CollageBits)
	case c.CollageBits > c.Width:
		return errs.Configf("aggregate", "collage bits %d exceed width %d", c.CollageBits, c.Width)
	case !c.CollageAlgorithm.Valid():
		return errs.Configf("aggregate", "unknown collage algorithm %q", string(c.CollageAlgorithm))
	case c.MinFrames < 1:
		return errs.Configf("aggregate", "min frames must be at least 1, got %d", c.MinFrames)
	}
	return nil
}

// CollageShape returns the extended hash dimensions for n bits: the widest
// power-of-two side no smaller than the height.
func CollageShape(n int) (width, height int) {
	width = 1 << int(math.Ceil(math.Log2(float64(n))/2))
	return width, n / width
}

// Aggregator assembles fingerprints with a fixed layout.
type Aggregator struct {
	config Config
}

// New validates cfg and returns an aggregator.
func New(cfg Config) (*Aggregator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Aggregator{config: cfg}, nil
}

// Config returns the layout.
func (a *Aggregator) Config() Config { return a.config }

// Aggregate combines the collage and the ordered frame hashes of one video.
func (a *Aggregator) Aggregate(c *collage.Collage, hashes []hasher.FrameHash) (fingerprint.Fingerprint, error) {
	if len(hashes) < a.config.MinFrames {
		return fingerprint.Fingerprint{}, errs.Aggregationf("aggregate", "%d frames sampled, need at least %d", len(hashes), a.config.MinFrames)
	}
	if c == nil || c.Image == nil {
		return fingerprint.Fingerprint{}, errs.Aggregationf("aggregate", "no collage")
	}

	w, h := CollageShape(a.config.CollageBits)
	head, err := a.config.CollageAlgorithm.ExtHash(c.Image, w, h)
	if err != nil {
		return fingerprint.Fingerprint{}, errs.New(errs.ErrAggregation, "aggregate", errs.NoFrame, err, "hash collage")
	}
	if len(head)*fingerprint.WordBits != a.config.CollageBits {
		return fingerprint.Fingerprint{}, errs.Aggregationf("aggregate", "collage hash has %d words, want %d", len(head), a.config.CollageBits/fingerprint.WordBits)
	}

	words := make([]uint64, 0, a.config.Width/fingerprint.WordBits)
	words = append(words, head...)
	words = append(words, Fold(hashes, a.config.Slots())...)
	return fingerprint.New(words)
}

// Fold reduces the frame hashes to slots words by per-slot bitwise majority.
func Fold(hashes []hasher.FrameHash, slots int) []uint64 {
	out := make([]uint64, slots)
	if slots == 0 {
		return out
	}

	counts := make([][64]int, slots)
	members := make([]int, slots)
	for i, fh := range hashes {
		s := i % slots
		members[s]++
		for b := 0; b < 64; b++ {
			if fh.Bits>>b&1 == 1 {
				counts[s][b]++
			}
		}
	}

	for s := range out {
		for b := 0; b < 64; b++ {
			if 2*counts[s][b] > members[s] {
				out[s] |= 1 << b
			}
		}
	}
	return out
}
