// Package hasher computes 64-bit perceptual hashes of sampled frames.
package hasher

import (
	"context"

	"github.com/keagan/videohash/internal/errs"
	"github.com/keagan/videohash/internal/sampler"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// FrameHash is the perceptual hash of one frame.
type FrameHash struct {
	Index     int
	Bits      uint64
	Algorithm Algorithm
}

// Hasher hashes frames with one algorithm on a bounded worker pool.
type Hasher struct {
	logger    zerolog.Logger
	algorithm Algorithm
	workers   int
}

// New creates a hasher for the given algorithm.
func New(logger zerolog.Logger, algorithm Algorithm, workers int) (*Hasher, error) {
	if !algorithm.Valid() {
		return nil, errs.Configf("hasher", "unknown hash algorithm %q", string(algorithm))
	}
	if workers <= 0 {
		return nil, errs.Configf("hasher", "workers must be positive, got %d", workers)
	}
	return &Hasher{
		logger:    logger.With().Str("component", "hasher").Str("algorithm", string(algorithm)).Logger(),
		algorithm: algorithm,
		workers:   workers,
	}, nil
}

// Algorithm returns the configured primitive.
func (h *Hasher) Algorithm() Algorithm { return h.algorithm }

// Hash computes the hash of a single frame.
func (h *Hasher) Hash(frame sampler.Frame) (FrameHash, error) {
	gray, err := Preprocess(frame.Image, h.algorithm.InputSize())
	if err != nil {
		return FrameHash{}, errs.Hashing("hash frame", frame.Index, err)
	}
	ih, err := h.algorithm.hash(gray)
	if err != nil {
		return FrameHash{}, errs.Hashing("hash frame", frame.Index, err)
	}
	return FrameHash{Index: frame.Index, Bits: ih.GetHash(), Algorithm: h.algorithm}, nil
}

// HashAll hashes frames concurrently. The result is in frame order; the
// first failure cancels the remaining work and is returned.
func (h *Hasher) HashAll(ctx context.Context, frames []sampler.Frame) ([]FrameHash, error) {
	out := make([]FrameHash, len(frames))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(h.workers)
	for i, frame := range frames {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			fh, err := h.Hash(frame)
			if err != nil {
				return err
			}
			out[i] = fh
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	h.logger.Debug().Int("frames", len(out)).Msg("frames hashed")
	return out, nil
}
