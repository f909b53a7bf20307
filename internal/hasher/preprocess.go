package hasher

import (
	"errors"
	"image"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// Preprocess reduces img to size with nearest-neighbour sampling and
// converts it to grayscale. Both steps are exact pixel operations, so the
// result does not depend on any library default filter.
func Preprocess(img image.Image, size image.Point) (*image.NRGBA, error) {
	if img == nil {
		return nil, errors.New("nil image")
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, errors.New("empty image")
	}
	if size.X <= 0 || size.Y <= 0 {
		return nil, errors.New("invalid target size")
	}
	small := resize.Resize(uint(size.X), uint(size.Y), img, resize.NearestNeighbor)
	return imaging.Grayscale(small), nil
}

// ExtHash hashes img into width*height bits with the extended variant of a.
// The result is most significant word first.
func (a Algorithm) ExtHash(img image.Image, width, height int) ([]uint64, error) {
	gray, err := Preprocess(img, a.ExtInputSize(width, height))
	if err != nil {
		return nil, err
	}
	h, err := a.extHash(gray, width, height)
	if err != nil {
		return nil, err
	}
	return h.GetHash(), nil
}
