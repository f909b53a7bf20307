package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/keagan/videohash/internal/errs"
	"github.com/keagan/videohash/internal/metrics"
	"github.com/keagan/videohash/internal/pipeline"
	"github.com/keagan/videohash/internal/store"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

type Fetcher interface {
	Fetch(ctx context.Context, ref, destPath string) error
}

type Computer interface {
	Run(ctx context.Context, path string, onState func(pipeline.State)) (*pipeline.Result, error)
}

type StatusPublisher interface {
	PublishResult(ctx context.Context, msg []byte) error
}

type DeadLetterPublisher interface {
	PublishToDLQ(ctx context.Context, msg []byte, reason string) error
}

type HandlerConfig struct {
	TempDir     string
	MaxAttempts int
	// MaxDistance bounds the stored matches reported with a result.
	MaxDistance int
}

// Handler fingerprints one requested video per message: download, compute,
// look up near duplicates, store, publish.
type Handler struct {
	fetcher     Fetcher
	computer    Computer
	store       store.Store
	results     StatusPublisher
	dlq         DeadLetterPublisher
	logger      zerolog.Logger
	tempDir     string
	maxAttempts int
	maxDistance int
}

// NewHandler wires a handler. st may be nil, in which case nothing is stored
// and no matches are reported.
func NewHandler(
	fetcher Fetcher,
	computer Computer,
	st store.Store,
	results StatusPublisher,
	dlq DeadLetterPublisher,
	logger zerolog.Logger,
	cfg HandlerConfig,
) *Handler {
	return &Handler{
		fetcher:     fetcher,
		computer:    computer,
		store:       st,
		results:     results,
		dlq:         dlq,
		logger:      logger.With().Str("component", "handler").Logger(),
		tempDir:     cfg.TempDir,
		maxAttempts: max(cfg.MaxAttempts, 1),
		maxDistance: cfg.MaxDistance,
	}
}

// Handle is a MessageHandler. It returns an error only for failures worth
// retrying; everything else ends in a published result.
func (h *Handler) Handle(ctx context.Context, raw []byte, attempt int) error {
	tracer := otel.Tracer("queue")
	ctx, span := tracer.Start(ctx, "Handler.Handle")
	defer span.End()

	start := time.Now()

	var req HashRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		h.logger.Error().Err(err).Bytes("body", raw).Msg("failed to unmarshal message")
		_ = h.dlq.PublishToDLQ(ctx, raw, "unmarshal_error: "+err.Error())
		metrics.JobsTotal.WithLabelValues("dlq").Inc()
		return nil
	}
	if req.Video == "" {
		h.logger.Error().Str("job_id", req.JobID.String()).Msg("request names no video")
		_ = h.dlq.PublishToDLQ(ctx, raw, "invalid_request: missing video")
		metrics.JobsTotal.WithLabelValues("dlq").Inc()
		return nil
	}

	span.SetAttributes(
		attribute.String("job.id", req.JobID.String()),
		attribute.String("job.video", req.Video),
		attribute.Int("job.attempt", attempt),
	)
	log := h.logger.With().
		Str("job_id", req.JobID.String()).
		Str("video", req.Video).
		Int("attempt", attempt).
		Logger()

	res, matches, err := h.process(ctx, req, log)
	if err != nil {
		if permanent(err) || attempt >= h.maxAttempts {
			return h.permanentFailure(ctx, req, raw, attempt, err, log)
		}
		metrics.RetryTotal.WithLabelValues(strconv.Itoa(attempt)).Inc()
		h.publish(ctx, failedResult(req, attempt, h.maxAttempts, err), log)
		return fmt.Errorf("retryable failure (attempt %d/%d): %w", attempt, h.maxAttempts, err)
	}

	h.publish(ctx, completedResult(req, res, matches, attempt, h.maxAttempts), log)
	metrics.JobsTotal.WithLabelValues("completed").Inc()

	log.Info().
		Str("fingerprint", res.Fingerprint.Hex()).
		Int("matches", len(matches)).
		Dur("elapsed", time.Since(start)).
		Msg("job completed successfully")
	return nil
}

func (h *Handler) process(ctx context.Context, req HashRequest, log zerolog.Logger) (*pipeline.Result, []store.Match, error) {
	// Job ids are optional and may repeat, so every attempt gets its own dir.
	workDir := filepath.Join(h.tempDir, "vh-job-"+uuid.NewString())
	if err := os.MkdirAll(workDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	videoPath := filepath.Join(workDir, "input"+path.Ext(req.Video))
	if err := h.fetcher.Fetch(ctx, req.Video, videoPath); err != nil {
		log.Error().Err(err).Msg("failed to download video")
		return nil, nil, fmt.Errorf("download_video: %w", err)
	}

	res, err := h.computer.Run(ctx, videoPath, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("compute_fingerprint: %w", err)
	}
	res.Path = req.Video

	if h.store == nil {
		return res, nil, nil
	}

	found, err := h.store.FindSimilar(ctx, res.Fingerprint, res.Signature, h.maxDistance)
	if err != nil {
		return nil, nil, fmt.Errorf("find_similar: %w", err)
	}
	var matches []store.Match
	for _, m := range found {
		if m.Path != res.Path {
			matches = append(matches, m)
		}
	}

	if err := h.store.Save(ctx, store.FromResult(res)); err != nil {
		return nil, nil, fmt.Errorf("save_fingerprint: %w", err)
	}
	return res, matches, nil
}

func (h *Handler) permanentFailure(ctx context.Context, req HashRequest, raw []byte, attempt int, cause error, log zerolog.Logger) error {
	log.Error().Err(cause).Msg("job failed permanently, sending to DLQ")
	if err := h.dlq.PublishToDLQ(ctx, raw, cause.Error()); err != nil {
		log.Error().Err(err).Msg("failed to publish to DLQ")
	}
	h.publish(ctx, failedResult(req, attempt, h.maxAttempts, cause), log)
	metrics.JobsTotal.WithLabelValues("dlq").Inc()
	return nil
}

func (h *Handler) publish(ctx context.Context, msg HashResult, log zerolog.Logger) {
	data, _ := json.Marshal(msg)
	if err := h.results.PublishResult(ctx, data); err != nil {
		log.Error().Err(err).Msg("failed to publish result")
	}
}

// permanent reports whether retrying cannot change the outcome: the video
// itself is unreadable or unhashable, or the worker is misconfigured.
func permanent(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch errs.KindOf(err) {
	case errs.ErrDecode, errs.ErrHashing, errs.ErrAggregation, errs.ErrConfiguration:
		return true
	}
	return false
}

func completedResult(req HashRequest, res *pipeline.Result, matches []store.Match, attempt, maxAttempts int) HashResult {
	msg := HashResult{
		JobID:       req.JobID,
		Video:       req.Video,
		Status:      StatusCompleted,
		Fingerprint: res.Fingerprint.Hex(),
		Width:       res.Fingerprint.Width(),
		Signature:   res.Signature,
		Duration:    res.Duration.Seconds(),
		FrameCount:  res.FrameCount,
		Replaced:    res.Replaced,
		Attempt:     attempt,
		MaxAttempts: maxAttempts,
	}
	for _, m := range matches {
		msg.Matches = append(msg.Matches, Match{
			Video:       m.Path,
			Fingerprint: m.Fingerprint.Hex(),
			Distance:    m.Distance,
			Similarity:  m.Similarity,
		})
	}
	return msg
}

func failedResult(req HashRequest, attempt, maxAttempts int, err error) HashResult {
	return HashResult{
		JobID:        req.JobID,
		Video:        req.Video,
		Status:       StatusFailed,
		ErrorMessage: err.Error(),
		Attempt:      attempt,
		MaxAttempts:  maxAttempts,
	}
}
