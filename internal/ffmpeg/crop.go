package ffmpeg

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/keagan/videohash/pkg/util"
	"golang.org/x/sync/errgroup"
)

const (
	// cropSamples is the number of evenly spaced positions cropdetect looks at.
	cropSamples = 4
	// cropFrames is the number of frames analysed per position; cropdetect
	// needs at least two to report anything.
	cropFrames = 2
)

var cropPattern = regexp.MustCompile(`crop=[0-9]{1,5}:[0-9]{1,5}:[0-9]{1,5}:[0-9]{1,5}`)

// DetectCrop runs cropdetect at a few positions of the video and returns the
// most frequent black-bar crop as a filter string, or "" when none was found.
func (e *Executor) DetectCrop(ctx context.Context, input string, duration time.Duration) (string, error) {
	if duration <= 0 {
		return "", fmt.Errorf("crop detection needs a positive duration")
	}

	outputs := make([]string, cropSamples)
	g, gctx := errgroup.WithContext(ctx)
	for i := range cropSamples {
		ts := time.Duration(float64(duration) * float64(i+1) / float64(cropSamples+1))
		g.Go(func() error {
			var mu sync.Mutex
			var buf strings.Builder
			err := e.Run(gctx, RunOptions{
				Args: []string{
					"-ss", util.FormatDuration(ts),
					"-i", input,
					"-frames:v", fmt.Sprintf("%d", cropFrames),
					"-vf", NewFilterBuilder().CropDetect().Build(),
					"-f", "null",
					"-",
				},
				LogHandler: func(line string) {
					mu.Lock()
					buf.WriteString(line)
					buf.WriteByte('\n')
					mu.Unlock()
				},
			})
			if err != nil {
				return fmt.Errorf("cropdetect at %s: %w", util.FormatDuration(ts), err)
			}
			mu.Lock()
			outputs[i] = buf.String()
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return "", err
	}

	crop := modeCrop(outputs)
	e.logger.Debug().Str("input", input).Str("crop", crop).Msg("crop detection complete")
	return crop, nil
}

// modeCrop returns the most frequent crop across all outputs. Ties go to
// the crop seen first.
func modeCrop(outputs []string) string {
	counts := make(map[string]int)
	var order []string
	for _, out := range outputs {
		for _, c := range cropPattern.FindAllString(out, -1) {
			if _, err := ParseCrop(c); err != nil {
				continue
			}
			if counts[c] == 0 {
				order = append(order, c)
			}
			counts[c]++
		}
	}

	best := ""
	for _, c := range order {
		if counts[c] > counts[best] {
			best = c
		}
	}
	return best
}
