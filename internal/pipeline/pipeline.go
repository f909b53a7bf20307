// Package pipeline turns a video file into a fingerprint: sampling, frame
// hashing, collage construction and aggregation, run in that order.
package pipeline

import (
	"context"
	"time"

	"github.com/keagan/videohash/internal/aggregate"
	"github.com/keagan/videohash/internal/collage"
	"github.com/keagan/videohash/internal/hasher"
	"github.com/keagan/videohash/internal/metrics"
	"github.com/keagan/videohash/internal/sampler"
	"github.com/keagan/videohash/internal/tracing"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Pipeline computes fingerprints. It holds no per-video state, so one
// Pipeline can serve any number of concurrent computations.
type Pipeline struct {
	logger     zerolog.Logger
	config     Config
	sampler    *sampler.Sampler
	hasher     *hasher.Hasher
	builder    *collage.Builder
	aggregator *aggregate.Aggregator
	tracer     trace.Tracer
}

// New creates a pipeline reading videos through decoder.
func New(logger zerolog.Logger, decoder sampler.Decoder, cfg Config) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s, err := sampler.New(logger, decoder, cfg.Sampling)
	if err != nil {
		return nil, err
	}
	h, err := hasher.New(logger, cfg.Algorithm, cfg.Workers)
	if err != nil {
		return nil, err
	}
	b, err := collage.NewBuilder(cfg.Sampling.FrameSize, cfg.MaxCanvas)
	if err != nil {
		return nil, err
	}
	a, err := aggregate.New(cfg.Aggregate)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		logger:     logger.With().Str("component", "pipeline").Logger(),
		config:     cfg,
		sampler:    s,
		hasher:     h,
		builder:    b,
		aggregator: a,
		tracer:     tracing.Tracer("pipeline"),
	}, nil
}

// Config returns the configuration fingerprints are computed with.
func (p *Pipeline) Config() Config { return p.config }

// Run computes the fingerprint of the video at path. onState, when not nil,
// is told about each stage as it starts.
func (p *Pipeline) Run(ctx context.Context, path string, onState func(State)) (*Result, error) {
	if onState == nil {
		onState = func(State) {}
	}

	ctx, span := p.tracer.Start(ctx, "videohash.compute", trace.WithAttributes(
		attribute.String("video.path", path),
		attribute.String("hash.algorithm", string(p.config.Algorithm)),
		attribute.Int("hash.width", p.config.Aggregate.Width),
	))
	defer span.End()

	metrics.ActiveComputations.Inc()
	defer metrics.ActiveComputations.Dec()

	start := time.Now()
	log := p.logger.With().Str("video", path).Logger()

	res, err := p.run(ctx, path, onState)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.FingerprintsTotal.WithLabelValues("failed").Inc()
		log.Error().Err(err).Msg("fingerprint computation failed")
		return nil, err
	}

	res.Elapsed = time.Since(start)
	span.SetAttributes(attribute.String("fingerprint", res.Fingerprint.Hex()))
	metrics.FingerprintsTotal.WithLabelValues("ready").Inc()
	metrics.StageDuration.WithLabelValues("total").Observe(res.Elapsed.Seconds())

	log.Info().
		Str("fingerprint", res.Fingerprint.Hex()).
		Dur("duration", res.Duration).
		Int("frames", res.FrameCount).
		Dur("elapsed", res.Elapsed).
		Msg("fingerprint computed")

	return res, nil
}

func (p *Pipeline) run(ctx context.Context, path string, onState func(State)) (*Result, error) {
	onState(Sampling)
	stageStart := time.Now()
	sctx, span := p.tracer.Start(ctx, "sample_frames")
	sampled, err := p.sampler.Sample(sctx, path)
	if err != nil {
		span.End()
		return nil, err
	}
	span.SetAttributes(attribute.Int("frames", len(sampled.Frames)))
	span.End()
	metrics.StageDuration.WithLabelValues("sample").Observe(time.Since(stageStart).Seconds())
	metrics.FramesSampledTotal.Add(float64(len(sampled.Frames)))
	metrics.FramesReplacedTotal.Add(float64(sampled.Replaced))

	onState(Hashing)
	stageStart = time.Now()
	hctx, span := p.tracer.Start(ctx, "hash_frames")
	hashes, err := p.hasher.HashAll(hctx, sampled.Frames)
	span.End()
	if err != nil {
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("hash").Observe(time.Since(stageStart).Seconds())

	stageStart = time.Now()
	_, span = p.tracer.Start(ctx, "aggregate")
	defer span.End()
	c, err := p.builder.Build(sampled.Frames)
	if err != nil {
		return nil, err
	}
	fp, err := p.aggregator.Aggregate(c, hashes)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	metrics.StageDuration.WithLabelValues("aggregate").Observe(time.Since(stageStart).Seconds())

	return &Result{
		Path:        path,
		Fingerprint: fp,
		Version:     aggregate.Version,
		Signature:   p.config.Signature(),
		Duration:    sampled.Duration,
		FrameCount:  len(sampled.Frames),
		Replaced:    sampled.Replaced,
		Crop:        sampled.Crop,
	}, nil
}
