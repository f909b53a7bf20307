package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/keagan/videohash/internal/aggregate"
	"github.com/keagan/videohash/internal/collage"
	"github.com/keagan/videohash/internal/errs"
	"github.com/keagan/videohash/internal/fingerprint"
	"github.com/keagan/videohash/internal/hasher"
	"github.com/keagan/videohash/internal/sampler"
)

// State is the lifecycle stage of a VideoHash.
type State int

const (
	Uninitialized State = iota
	Sampling
	Hashing
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Sampling:
		return "sampling"
	case Hashing:
		return "hashing"
	case Ready:
		return "ready"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool { return s == Ready || s == Failed }

// ErrNotReady is returned by accessors of a VideoHash that has not reached Ready.
var ErrNotReady = errors.New("fingerprint not ready")

// Config holds everything that determines a fingerprint. Fingerprints are
// only comparable when they were computed with equal configurations.
type Config struct {
	Sampling  sampler.Config
	Algorithm hasher.Algorithm
	Workers   int
	MaxCanvas int
	Aggregate aggregate.Config
}

// DefaultConfig yields 256-bit fingerprints from 16 frames.
func DefaultConfig() Config {
	return Config{
		Sampling:  sampler.DefaultConfig(),
		Algorithm: hasher.PHash,
		Workers:   4,
		MaxCanvas: collage.DefaultMaxCanvas,
		Aggregate: aggregate.DefaultConfig(),
	}
}

// Validate checks every stage's parameters.
func (c Config) Validate() error {
	if err := c.Sampling.Validate(); err != nil {
		return err
	}
	if !c.Algorithm.Valid() {
		return errs.Configf("pipeline", "unknown hash algorithm %q", string(c.Algorithm))
	}
	if c.Workers <= 0 {
		return errs.Configf("pipeline", "workers must be positive, got %d", c.Workers)
	}
	if c.MaxCanvas <= 0 {
		return errs.Configf("pipeline", "max canvas must be positive, got %d", c.MaxCanvas)
	}
	return c.Aggregate.Validate()
}

// Signature identifies the settings that shape a fingerprint. Stored
// fingerprints are only compared with fingerprints of the same signature.
func (c Config) Signature() string {
	sampling := fmt.Sprintf("n%d", c.Sampling.FrameCount)
	if c.Sampling.Interval > 0 {
		sampling = "i" + c.Sampling.Interval.String()
	}
	crop := ""
	if c.Sampling.CropDetect {
		crop = "-crop"
	}
	return fmt.Sprintf("%s/%s/%s%d/w%d/%s/s%d%s",
		aggregate.Version,
		c.Algorithm,
		c.Aggregate.CollageAlgorithm, c.Aggregate.CollageBits,
		c.Aggregate.Width,
		sampling,
		c.Sampling.FrameSize, crop)
}

// Result is a computed fingerprint together with what it was computed from.
type Result struct {
	Path        string
	Fingerprint fingerprint.Fingerprint
	Version     string
	Signature   string
	Duration    time.Duration
	FrameCount  int
	Replaced    int
	Crop        string
	Elapsed     time.Duration
}
