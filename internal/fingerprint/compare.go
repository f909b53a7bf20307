package fingerprint

import (
	"math"

	"github.com/keagan/videohash/internal/errs"
)

// DistanceResult is the outcome of comparing two fingerprints.
type DistanceResult struct {
	Distance   int     `json:"distance"`
	Width      int     `json:"width"`
	Similarity float64 `json:"similarity"`
}

// Distance computes the Hamming distance between a and b.
func Distance(a, b Fingerprint) (DistanceResult, error) {
	if a.width == 0 || a.width != b.width {
		return DistanceResult{}, errs.Incompatible("distance", a.width, b.width)
	}
	d := hamming(a, b)
	return DistanceResult{
		Distance:   d,
		Width:      a.width,
		Similarity: 1 - float64(d)/float64(a.width),
	}, nil
}

// Distance is a convenience for Distance(f, o).
func (f Fingerprint) Distance(o Fingerprint) (DistanceResult, error) {
	return Distance(f, o)
}

// Threshold decides how far apart two fingerprints may be and still count as
// duplicates. Build one with Bits or Ratio.
type Threshold struct {
	bits    int
	ratio   float64
	isRatio bool
}

// Bits is an absolute threshold: at most n differing bits.
func Bits(n int) Threshold { return Threshold{bits: n} }

// Ratio is a similarity threshold in [0, 1]: at least r of the bits agree.
func Ratio(r float64) Threshold { return Threshold{ratio: r, isRatio: true} }

// IsRatio reports whether t was built with Ratio.
func (t Threshold) IsRatio() bool { return t.isRatio }

// MaxDistance translates t into an absolute bit count for the given width.
// A ratio r allows width - round(r*width) differing bits.
func (t Threshold) MaxDistance(width int) (int, error) {
	if width <= 0 {
		return 0, errs.Configf("threshold", "width must be positive, got %d", width)
	}
	if t.isRatio {
		if math.IsNaN(t.ratio) || t.ratio < 0 || t.ratio > 1 {
			return 0, errs.Configf("threshold", "ratio must be within [0, 1], got %v", t.ratio)
		}
		return width - int(math.Round(t.ratio*float64(width))), nil
	}
	if t.bits < 0 || t.bits > width {
		return 0, errs.Configf("threshold", "bit threshold must be within [0, %d], got %d", width, t.bits)
	}
	return t.bits, nil
}

// IsDuplicate reports whether a and b are within threshold of each other.
func IsDuplicate(a, b Fingerprint, t Threshold) (bool, error) {
	res, err := Distance(a, b)
	if err != nil {
		return false, err
	}
	limit, err := t.MaxDistance(res.Width)
	if err != nil {
		return false, err
	}
	return res.Distance <= limit, nil
}
