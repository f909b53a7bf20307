package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/keagan/videohash/internal/config"
	"github.com/keagan/videohash/internal/logging"
	"github.com/keagan/videohash/internal/metrics"
	"github.com/keagan/videohash/internal/objectstore"
	"github.com/keagan/videohash/internal/queue"
	"github.com/keagan/videohash/internal/store"
	"github.com/keagan/videohash/internal/tracing"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Consume hash requests from RabbitMQ",
	Long:  "Runs the queue worker: videos named in hash requests are downloaded from MinIO, fingerprinted, stored and answered on the result queue.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.FromContext(cmd.Context())

		ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		// Tracing (non-fatal if the collector is unavailable)
		if cfg.Tracing.Endpoint != "" {
			tp, err := tracing.Init(ctx, cfg.Tracing.Endpoint)
			if err != nil {
				log.Warn().Err(err).Msg("tracing init failed, continuing without tracing")
			} else {
				defer tp.Shutdown(context.Background())
			}
		}

		p, err := newPipeline(cfg)
		if err != nil {
			return err
		}

		st, err := store.Open(ctx, cfg.Store.DSN)
		if err != nil {
			return err
		}
		defer st.Close()

		objects, err := objectstore.NewStorage(objectstore.StorageConfig{
			Endpoint:  cfg.MinIO.Endpoint,
			AccessKey: cfg.MinIO.AccessKey,
			SecretKey: cfg.MinIO.SecretKey,
			UseSSL:    cfg.MinIO.UseSSL,
			Bucket:    cfg.MinIO.Bucket,
		})
		if err != nil {
			return err
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			return err
		}

		maxDistance, err := workerFlags.threshold(cfg).MaxDistance(cfg.Hash.Width)
		if err != nil {
			return err
		}

		var handler *queue.Handler
		consumer, err := queue.NewConsumer(queue.ConsumerConfig{
			URL:         cfg.RabbitMQ.URL,
			Queue:       cfg.RabbitMQ.Queue,
			Exchange:    cfg.RabbitMQ.Exchange,
			DLQ:         cfg.RabbitMQ.DLQ,
			ResultQueue: cfg.RabbitMQ.ResultQueue,
			Prefetch:    cfg.RabbitMQ.Prefetch,
			WorkerCount: cfg.RabbitMQ.Workers,
			BaseDelay:   cfg.RabbitMQ.RetryBaseDelay,
		}, func(ctx context.Context, body []byte, attempt int) error {
			return handler.Handle(ctx, body, attempt)
		}, log.Logger)
		if err != nil {
			return err
		}
		defer consumer.Close()

		pub, err := queue.NewPublisher(consumer.Connection(), cfg.RabbitMQ.Exchange)
		if err != nil {
			return err
		}
		defer pub.Close()

		handler = queue.NewHandler(
			objects, p, st,
			queue.NewResultPublisher(pub),
			queue.NewDLQPublisher(pub, cfg.RabbitMQ.DLQ),
			log.Logger,
			queue.HandlerConfig{
				TempDir:     p.Config().Sampling.TempDir,
				MaxAttempts: cfg.RabbitMQ.MaxRetries + 1,
				MaxDistance: maxDistance,
			},
		)

		metricsSrv := metrics.StartServer(cfg.Metrics.Addr, logging.WithComponent("metrics"))

		log.Info().
			Str("queue", cfg.RabbitMQ.Queue).
			Str("signature", p.Config().Signature()).
			Msg("videohash worker started, consuming messages")

		if err := consumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("consumer error")
		}

		// Shutdown
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		metricsSrv.Shutdown(shutdownCtx)

		log.Info().Msg("videohash worker stopped")
		return nil
	},
}

var workerFlags thresholdFlags

func init() {
	workerFlags.register(workerCmd)
}
