package sampler

import (
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/keagan/videohash/internal/errs"
	"github.com/keagan/videohash/pkg/util"
	"github.com/rs/zerolog"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

// Config controls which frames are sampled. Exactly one of FrameCount and
// Interval is set.
type Config struct {
	FrameCount      int
	Interval        time.Duration
	FrameSize       int
	MaxFrames       int
	CropDetect      bool
	MaxDecodeErrors int
	Workers         int
	TempDir         string
}

// DefaultConfig samples 16 frames of 240×240.
func DefaultConfig() Config {
	return Config{
		FrameCount:      16,
		FrameSize:       240,
		MaxFrames:       10000,
		CropDetect:      true,
		MaxDecodeErrors: 0,
		Workers:         4,
		TempDir:         os.TempDir(),
	}
}

// Validate reports parameter errors as ErrConfiguration.
func (c Config) Validate() error {
	switch {
	case c.FrameCount > 0 && c.Interval > 0:
		return errs.Configf("sampler", "frame count and interval are mutually exclusive")
	case c.FrameCount <= 0 && c.Interval <= 0:
		return errs.Configf("sampler", "frame count or interval must be positive (count %d, interval %s)", c.FrameCount, c.Interval)
	case c.FrameSize <= 0:
		return errs.Configf("sampler", "frame size must be positive, got %d", c.FrameSize)
	case c.MaxFrames <= 0:
		return errs.Configf("sampler", "max frames must be positive, got %d", c.MaxFrames)
	case c.FrameCount > c.MaxFrames:
		return errs.Configf("sampler", "frame count %d above max frames %d", c.FrameCount, c.MaxFrames)
	case c.MaxDecodeErrors < 0:
		return errs.Configf("sampler", "max decode errors must not be negative, got %d", c.MaxDecodeErrors)
	case c.Workers <= 0:
		return errs.Configf("sampler", "workers must be positive, got %d", c.Workers)
	}
	return nil
}

// Sampler produces the ordered frame sequence of a video.
type Sampler struct {
	logger  zerolog.Logger
	decoder Decoder
	config  Config
}

// New creates a sampler. The configuration is validated here so a broken
// setup fails before any video is touched.
func New(logger zerolog.Logger, decoder Decoder, cfg Config) (*Sampler, error) {
	if decoder == nil {
		return nil, errs.Configf("sampler", "decoder is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Sampler{
		logger:  logger.With().Str("component", "sampler").Logger(),
		decoder: decoder,
		config:  cfg,
	}, nil
}

// Config returns the sampling configuration.
func (s *Sampler) Config() Config { return s.config }

// Result is the output of one sampling run.
type Result struct {
	Frames   []Frame
	Duration time.Duration
	Crop     string
	Replaced int
}

// Sample decodes the frames of the video at path. Decoded frame files live
// in a private directory under TempDir that is removed before Sample
// returns, whatever the outcome.
func (s *Sampler) Sample(ctx context.Context, path string) (*Result, error) {
	if !util.FileExists(path) {
		return nil, errs.Decodef("sample", errs.NoFrame, os.ErrNotExist, "no video at %q", path)
	}

	duration, err := s.decoder.Duration(ctx, path)
	if err != nil {
		return nil, errs.Decodef("sample", errs.NoFrame, err, "read duration of %q", path)
	}

	timestamps, err := Timestamps(duration, s.config)
	if err != nil {
		return nil, err
	}

	s.logger.Debug().
		Str("video", path).
		Dur("duration", duration).
		Int("frames", len(timestamps)).
		Msg("sampling video")

	var crop string
	if s.config.CropDetect {
		crop, err = s.decoder.DetectCrop(ctx, path, duration)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			s.logger.Warn().Err(err).Str("video", path).Msg("crop detection failed, sampling uncropped")
			crop = ""
		}
	}

	workDir := filepath.Join(s.config.TempDir, "vh-"+uuid.NewString())
	if err := util.EnsureDir(workDir); err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}
	defer os.RemoveAll(workDir)

	frames := make([]Frame, len(timestamps))
	failures := make([]error, len(timestamps))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.Workers)
	for i, ts := range timestamps {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			req := FrameRequest{
				Index:     i,
				Timestamp: ts,
				Size:      s.config.FrameSize,
				Crop:      crop,
				Output:    filepath.Join(workDir, fmt.Sprintf("frame_%05d.png", i)),
			}
			img, err := s.extract(gctx, path, req)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failures[i] = err
				return nil
			}
			frames[i] = Frame{Index: i, Timestamp: ts, Image: img}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	replaced, err := s.replaceFailures(path, frames, failures, timestamps)
	if err != nil {
		return nil, err
	}

	return &Result{
		Frames:   frames,
		Duration: duration,
		Crop:     crop,
		Replaced: replaced,
	}, nil
}

func (s *Sampler) extract(ctx context.Context, path string, req FrameRequest) (image.Image, error) {
	if err := s.decoder.ExtractFrame(ctx, path, req); err != nil {
		return nil, err
	}
	f, err := os.Open(req.Output)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode frame image: %w", err)
	}
	return img, nil
}

// replaceFailures substitutes black frames for up to MaxDecodeErrors failed
// extractions.
func (s *Sampler) replaceFailures(path string, frames []Frame, failures []error, timestamps []time.Duration) (int, error) {
	failed := 0
	last := -1
	for i, err := range failures {
		if err != nil {
			failed++
			last = i
		}
	}
	if failed == 0 {
		return 0, nil
	}
	if failed == len(frames) {
		return 0, errs.Decodef("sample", last, errors.Join(failures...), "no usable frames in %q", path)
	}
	if failed > s.config.MaxDecodeErrors {
		return 0, errs.Decodef("sample", last, failures[last],
			"%d frames failed (allowed %d), most recently at %s", failed, s.config.MaxDecodeErrors, util.FormatDuration(timestamps[last]))
	}

	for i, err := range failures {
		if err == nil {
			continue
		}
		s.logger.Warn().
			Err(err).
			Int("frame", i).
			Dur("timestamp", timestamps[i]).
			Msg("frame extraction failed, using black frame")
		frames[i] = Frame{Index: i, Timestamp: timestamps[i], Image: BlackFrame(s.config.FrameSize)}
	}
	return failed, nil
}
