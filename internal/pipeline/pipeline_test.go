package pipeline

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math/rand"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/keagan/videohash/internal/errs"
	"github.com/keagan/videohash/internal/fingerprint"
	"github.com/keagan/videohash/internal/sampler"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// syntheticDecoder renders videos described by their file contents:
// "seed=<n> brightness=<b>". Each frame is block noise drawn from the seed
// and the frame timestamp, so equal files decode to equal frames.
type syntheticDecoder struct{}

type syntheticVideo struct {
	seed       int64
	brightness int
}

func readVideo(path string) (syntheticVideo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return syntheticVideo{}, err
	}
	var v syntheticVideo
	for _, field := range strings.Fields(string(data)) {
		key, val, _ := strings.Cut(field, "=")
		n, err := strconv.Atoi(val)
		if err != nil {
			return syntheticVideo{}, fmt.Errorf("bad field %q", field)
		}
		switch key {
		case "seed":
			v.seed = int64(n)
		case "brightness":
			v.brightness = n
		}
	}
	return v, nil
}

func (syntheticDecoder) Duration(ctx context.Context, path string) (time.Duration, error) {
	return 34 * time.Second, nil
}

func (syntheticDecoder) DetectCrop(ctx context.Context, path string, duration time.Duration) (string, error) {
	return "", nil
}

func (syntheticDecoder) ExtractFrame(ctx context.Context, path string, req sampler.FrameRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	v, err := readVideo(path)
	if err != nil {
		return err
	}

	r := rand.New(rand.NewSource(v.seed*1_000_003 + int64(req.Timestamp/time.Millisecond)))
	img := image.NewNRGBA(image.Rect(0, 0, req.Size, req.Size))
	const block = 4
	for by := 0; by < req.Size; by += block {
		for bx := 0; bx < req.Size; bx += block {
			g := uint8(20 + r.Intn(200) + v.brightness)
			for y := by; y < min(by+block, req.Size); y++ {
				for x := bx; x < min(bx+block, req.Size); x++ {
					img.SetNRGBA(x, y, color.NRGBA{R: g, G: g, B: g, A: 255})
				}
			}
		}
	}

	f, err := os.Create(req.Output)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, img)
}

func writeVideo(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testPipeline(t *testing.T, mutate func(*Config)) (*Pipeline, Config) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Sampling.FrameSize = 64
	cfg.Sampling.TempDir = t.TempDir()
	if mutate != nil {
		mutate(&cfg)
	}
	p, err := New(zerolog.Nop(), syntheticDecoder{}, cfg)
	require.NoError(t, err)
	return p, cfg
}

func TestIdenticalCopiesAreDuplicates(t *testing.T) {
	p, _ := testPipeline(t, nil)
	dir := t.TempDir()
	a := writeVideo(t, dir, "a.mp4", "seed=7")
	b := writeVideo(t, dir, "copy_of_a.mp4", "seed=7")

	va, err := p.Compute(context.Background(), a)
	require.NoError(t, err)
	vb, err := p.Compute(context.Background(), b)
	require.NoError(t, err)

	assert.Equal(t, Ready, va.State())
	assert.True(t, va.Equal(vb))

	d, err := va.Distance(vb)
	require.NoError(t, err)
	assert.Equal(t, 0, d.Distance)
	assert.Equal(t, 1.0, d.Similarity)

	dup, err := va.IsDuplicate(vb, fingerprint.Ratio(0.9))
	require.NoError(t, err)
	assert.True(t, dup)

	assert.Equal(t, 34*time.Second, va.Duration())
	assert.Equal(t, 16, va.FrameCount())
}

func TestUnrelatedVideosAreDistinct(t *testing.T) {
	p, _ := testPipeline(t, nil)
	dir := t.TempDir()

	va, err := p.Compute(context.Background(), writeVideo(t, dir, "a.mp4", "seed=1"))
	require.NoError(t, err)
	vb, err := p.Compute(context.Background(), writeVideo(t, dir, "b.mp4", "seed=2"))
	require.NoError(t, err)

	d, err := va.Distance(vb)
	require.NoError(t, err)
	assert.Less(t, d.Similarity, 0.6)

	dup, err := va.IsDuplicate(vb, fingerprint.Ratio(0.9))
	require.NoError(t, err)
	assert.False(t, dup)
}

func TestBrightenedCopyIsNearDuplicate(t *testing.T) {
	p, _ := testPipeline(t, nil)
	dir := t.TempDir()

	va, err := p.Compute(context.Background(), writeVideo(t, dir, "a.mp4", "seed=3"))
	require.NoError(t, err)
	vb, err := p.Compute(context.Background(), writeVideo(t, dir, "b.mp4", "seed=3 brightness=10"))
	require.NoError(t, err)

	d, err := va.Distance(vb)
	require.NoError(t, err)
	assert.LessOrEqual(t, d.Distance, d.Width/10)
}

func TestDeterministicAcrossRuns(t *testing.T) {
	p, _ := testPipeline(t, nil)
	path := writeVideo(t, t.TempDir(), "a.mp4", "seed=11")

	first, err := p.Compute(context.Background(), path)
	require.NoError(t, err)
	hex, err := first.Hex()
	require.NoError(t, err)
	assert.Len(t, hex, 64)

	for range 2 {
		again, err := p.Compute(context.Background(), path)
		require.NoError(t, err)
		h, err := again.Hex()
		require.NoError(t, err)
		assert.Equal(t, hex, h)
	}

	parsed, err := fingerprint.ParseWidth(hex, 256)
	require.NoError(t, err)
	d, err := first.DistanceTo(parsed)
	require.NoError(t, err)
	assert.Zero(t, d.Distance)
}

func TestFailureLeavesNoFingerprint(t *testing.T) {
	p, cfg := testPipeline(t, nil)

	v := p.NewVideoHash()
	assert.Equal(t, Uninitialized, v.State())
	_, err := v.Fingerprint()
	assert.ErrorIs(t, err, ErrNotReady)

	err = v.Compute(context.Background(), filepath.Join(t.TempDir(), "missing.mp4"))
	require.ErrorIs(t, err, errs.ErrDecode)

	assert.Equal(t, Failed, v.State())
	assert.ErrorIs(t, v.Err(), errs.ErrDecode)
	_, err = v.Fingerprint()
	assert.ErrorIs(t, err, errs.ErrDecode)
	_, err = v.Hex()
	assert.Error(t, err)
	assert.Zero(t, v.Duration())
	assert.False(t, v.Equal(v))

	entries, err := os.ReadDir(cfg.Sampling.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestComputeRunsOnce(t *testing.T) {
	p, _ := testPipeline(t, nil)
	path := writeVideo(t, t.TempDir(), "a.mp4", "seed=5")

	v, err := p.Compute(context.Background(), path)
	require.NoError(t, err)
	err = v.Compute(context.Background(), path)
	assert.ErrorIs(t, err, errs.ErrConfiguration)
	assert.Equal(t, Ready, v.State())
}

func TestCancelledComputation(t *testing.T) {
	p, cfg := testPipeline(t, nil)
	path := writeVideo(t, t.TempDir(), "a.mp4", "seed=5")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v, err := p.Compute(ctx, path)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Failed, v.State())

	entries, err := os.ReadDir(cfg.Sampling.TempDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestMinimumFrameGuard(t *testing.T) {
	p, _ := testPipeline(t, func(c *Config) {
		c.Sampling.FrameCount = 0
		c.Sampling.Interval = 30 * time.Second
		c.Aggregate.MinFrames = 4
	})
	path := writeVideo(t, t.TempDir(), "a.mp4", "seed=5")

	v, err := p.Compute(context.Background(), path)
	assert.ErrorIs(t, err, errs.ErrAggregation)
	assert.Equal(t, Failed, v.State())
}

func TestRunReportsStages(t *testing.T) {
	p, _ := testPipeline(t, nil)
	path := writeVideo(t, t.TempDir(), "a.mp4", "seed=5")

	var states []State
	res, err := p.Run(context.Background(), path, func(s State) { states = append(states, s) })
	require.NoError(t, err)
	assert.Equal(t, []State{Sampling, Hashing}, states)
	assert.Equal(t, "v1", res.Version)
	assert.Equal(t, path, res.Path)
}

func TestRunEmitsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	p, _ := testPipeline(t, nil)
	_, err := p.Run(context.Background(), writeVideo(t, t.TempDir(), "a.mp4", "seed=5"), nil)
	require.NoError(t, err)

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.ElementsMatch(t, []string{"sample_frames", "hash_frames", "aggregate", "videohash.compute"}, names)
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"sampling", func(c *Config) { c.Sampling.FrameSize = 0 }},
		{"algorithm", func(c *Config) { c.Algorithm = "nope" }},
		{"workers", func(c *Config) { c.Workers = 0 }},
		{"canvas", func(c *Config) { c.MaxCanvas = 0 }},
		{"aggregate", func(c *Config) { c.Aggregate.Width = 100 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			_, err := New(zerolog.Nop(), syntheticDecoder{}, cfg)
			assert.ErrorIs(t, err, errs.ErrConfiguration)
		})
	}
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "ready", Ready.String())
	assert.True(t, Failed.Terminal())
	assert.False(t, Hashing.Terminal())
}

func TestSignature(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "v1/phash/phash128/w256/n16/s240-crop", cfg.Signature())

	cfg.Sampling.FrameCount = 0
	cfg.Sampling.Interval = 2 * time.Second
	cfg.Sampling.CropDetect = false
	assert.Equal(t, "v1/phash/phash128/w256/i2s/s240", cfg.Signature())
}
