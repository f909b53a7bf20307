package ffmpeg

import (
	"fmt"
	"strings"
)

// FilterBuilder helps construct ffmpeg filter chains
type FilterBuilder struct {
	filters []string
}

// NewFilterBuilder creates a new filter builder
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{
		filters: make([]string, 0),
	}
}

// ScaleNearest adds a scale filter pinned to nearest-neighbour sampling, so
// frame pixels do not depend on the resampler ffmpeg was built with.
func (fb *FilterBuilder) ScaleNearest(width, height int) *FilterBuilder {
	if width <= 0 || height <= 0 {
		return fb
	}
	fb.filters = append(fb.filters, fmt.Sprintf("scale=%d:%d:flags=neighbor", width, height))
	return fb
}

// Crop adds a crop filter
func (fb *FilterBuilder) Crop(c Crop) *FilterBuilder {
	if c.Width <= 0 || c.Height <= 0 {
		return fb
	}
	fb.filters = append(fb.filters, c.String())
	return fb
}

// CropDetect adds a cropdetect filter with ffmpeg's default limits
func (fb *FilterBuilder) CropDetect() *FilterBuilder {
	fb.filters = append(fb.filters, "cropdetect")
	return fb
}

// Custom adds a custom filter string
func (fb *FilterBuilder) Custom(filter string) *FilterBuilder {
	if filter == "" {
		return fb
	}
	fb.filters = append(fb.filters, filter)
	return fb
}

// Build returns the complete filter string joined with commas
func (fb *FilterBuilder) Build() string {
	if len(fb.filters) == 0 {
		return ""
	}
	return strings.Join(fb.filters, ",")
}

// String renders c as a crop filter.
func (c Crop) String() string {
	return fmt.Sprintf("crop=%d:%d:%d:%d", c.Width, c.Height, c.X, c.Y)
}

// ParseCrop reads a "crop=W:H:X:Y" filter.
func ParseCrop(s string) (Crop, error) {
	var c Crop
	n, err := fmt.Sscanf(s, "crop=%d:%d:%d:%d", &c.Width, &c.Height, &c.X, &c.Y)
	if err != nil || n != 4 {
		return Crop{}, fmt.Errorf("invalid crop %q", s)
	}
	if c.Width <= 0 || c.Height <= 0 || c.X < 0 || c.Y < 0 {
		return Crop{}, fmt.Errorf("invalid crop %q", s)
	}
	return c, nil
}
