package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/keagan/videohash/internal/config"
	"github.com/keagan/videohash/internal/ffmpeg"
	"github.com/keagan/videohash/internal/fingerprint"
	"github.com/keagan/videohash/internal/logging"
	"github.com/keagan/videohash/internal/pipeline"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	cfgFile   string
	verbose   bool
	logFormat string
)

// exitError ends the process with a specific status and no error message.
type exitError struct {
	code int
}

func (e exitError) Error() string { return fmt.Sprintf("exit status %d", e.code) }

func main() {
	os.Exit(run(context.Background()))
}

// run executes the root command and returns the process exit status. An
// interrupt cancels the command context so running computations release
// their temporary frames before the process exits.
func run(parent context.Context) int {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var exit exitError
		if errors.As(err, &exit) {
			return exit.code
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return 1
	}
	return 0
}

var rootCmd = &cobra.Command{
	Use:           "videohash",
	Short:         "videohash - perceptual video fingerprints",
	Long:          "Computes fixed-width perceptual fingerprints of videos and finds near duplicates by Hamming distance.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-format") {
			cfg.Log.Format = logFormat
		}

		// Initialize logging
		logging.Setup(os.Stderr, verbose, cfg.Log.Format)

		if err := cfg.Validate(); err != nil {
			return err
		}

		// Store config in context
		ctx := config.WithConfig(cmd.Context(), cfg)
		cmd.SetContext(ctx)

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./videohash.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "log format: console or json")

	rootCmd.AddCommand(hashCmd)
	rootCmd.AddCommand(compareCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(forgetCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(configCmd)
}

// newPipeline builds the ffmpeg-backed pipeline described by cfg.
func newPipeline(cfg *config.Config) (*pipeline.Pipeline, error) {
	pc, err := cfg.Pipeline()
	if err != nil {
		return nil, err
	}
	exec, err := ffmpeg.New(log.Logger, ffmpeg.Options{
		FFmpegPath:  cfg.FFmpeg.BinaryPath,
		FFprobePath: cfg.FFmpeg.FFprobePath,
		Threads:     cfg.FFmpeg.Threads,
	})
	if err != nil {
		return nil, err
	}
	log.Debug().Str("ffmpeg", exec.Version()).Str("signature", pc.Signature()).Msg("pipeline ready")
	return pipeline.New(log.Logger, exec, pc)
}

// thresholdFlags adds --threshold and --max-distance to cmd.
type thresholdFlags struct {
	ratio       float64
	maxDistance int
}

func (f *thresholdFlags) register(cmd *cobra.Command) {
	cmd.Flags().Float64Var(&f.ratio, "threshold", -1, "similarity ratio in [0, 1] (default from config hash.threshold)")
	cmd.Flags().IntVar(&f.maxDistance, "max-distance", -1, "maximum differing bits; overrides --threshold")
}

func (f *thresholdFlags) threshold(cfg *config.Config) fingerprint.Threshold {
	switch {
	case f.maxDistance >= 0:
		return fingerprint.Bits(f.maxDistance)
	case f.ratio >= 0:
		return fingerprint.Ratio(f.ratio)
	default:
		return fingerprint.Ratio(cfg.Hash.Threshold)
	}
}
