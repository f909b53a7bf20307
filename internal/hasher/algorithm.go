package hasher

import (
	"fmt"
	"image"
	"strings"

	"github.com/corona10/goimagehash"
)

// Algorithm selects the single-image perceptual hash primitive.
type Algorithm string

const (
	PHash Algorithm = "phash"
	DHash Algorithm = "dhash"
	AHash Algorithm = "ahash"
)

// inputSize is the raster each primitive samples internally. Frames are
// reduced to this size before the primitive sees them so that its own
// resampling is a no-op.
var inputSize = map[Algorithm]image.Point{
	PHash: {X: 64, Y: 64},
	DHash: {X: 9, Y: 8},
	AHash: {X: 8, Y: 8},
}

// ParseAlgorithm accepts the lowercase algorithm names used in configuration.
func ParseAlgorithm(s string) (Algorithm, error) {
	a := Algorithm(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := inputSize[a]; !ok {
		return "", fmt.Errorf("unknown hash algorithm %q (want phash, dhash or ahash)", s)
	}
	return a, nil
}

// Valid reports whether a names a supported algorithm.
func (a Algorithm) Valid() bool {
	_, ok := inputSize[a]
	return ok
}

// InputSize returns the preprocessing target for 64-bit frame hashes.
func (a Algorithm) InputSize() image.Point {
	return inputSize[a]
}

// ExtInputSize returns the preprocessing target for a width×height
// extended hash, mirroring how goimagehash samples for each kind.
func (a Algorithm) ExtInputSize(width, height int) image.Point {
	switch a {
	case PHash:
		n := width * height
		return image.Point{X: n, Y: n}
	case DHash:
		return image.Point{X: width + 1, Y: height}
	default:
		return image.Point{X: width, Y: height}
	}
}

func (a Algorithm) hash(img image.Image) (*goimagehash.ImageHash, error) {
	switch a {
	case PHash:
		return goimagehash.PerceptionHash(img)
	case DHash:
		return goimagehash.DifferenceHash(img)
	case AHash:
		return goimagehash.AverageHash(img)
	}
	return nil, fmt.Errorf("unknown hash algorithm %q", string(a))
}

func (a Algorithm) extHash(img image.Image, width, height int) (*goimagehash.ExtImageHash, error) {
	switch a {
	case PHash:
		return goimagehash.ExtPerceptionHash(img, width, height)
	case DHash:
		return goimagehash.ExtDifferenceHash(img, width, height)
	case AHash:
		return goimagehash.ExtAverageHash(img, width, height)
	}
	return nil, fmt.Errorf("unknown hash algorithm %q", string(a))
}
