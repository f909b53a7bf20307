// Package ffmpeg drives the ffmpeg and ffprobe binaries to decode frames of
// the videos being fingerprinted.
package ffmpeg

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/keagan/videohash/internal/errs"
	"github.com/rs/zerolog"
)

// versionCheckTimeout bounds the `ffmpeg -version` probe run by New.
const versionCheckTimeout = 10 * time.Second

// Options locates the binaries. Empty paths are looked up in PATH.
type Options struct {
	FFmpegPath  string
	FFprobePath string
	Threads     int
}

// Executor handles all ffmpeg operations
type Executor struct {
	logger      zerolog.Logger
	ffmpegPath  string
	ffprobePath string
	threads     int
	version     string
}

// New creates an executor and verifies that the ffmpeg binary works.
func New(logger zerolog.Logger, opts Options) (*Executor, error) {
	ffmpegPath, err := lookPath(opts.FFmpegPath, "ffmpeg")
	if err != nil {
		return nil, err
	}
	ffprobePath, err := lookPath(opts.FFprobePath, "ffprobe")
	if err != nil {
		return nil, err
	}

	e := &Executor{
		logger:      logger.With().Str("component", "ffmpeg").Logger(),
		ffmpegPath:  ffmpegPath,
		ffprobePath: ffprobePath,
		threads:     opts.Threads,
	}

	ctx, cancel := context.WithTimeout(context.Background(), versionCheckTimeout)
	defer cancel()
	if e.version, err = e.checkVersion(ctx); err != nil {
		return nil, err
	}

	e.logger.Debug().
		Str("ffmpeg", ffmpegPath).
		Str("ffprobe", ffprobePath).
		Str("version", e.version).
		Msg("ffmpeg ready")
	return e, nil
}

func lookPath(configured, name string) (string, error) {
	if configured == "" {
		configured = name
	}
	path, err := exec.LookPath(configured)
	if err != nil {
		return "", errs.New(errs.ErrConfiguration, "ffmpeg", errs.NoFrame, err, "%s not found", name)
	}
	return path, nil
}

// Version returns the first line of `ffmpeg -version`.
func (e *Executor) Version() string { return e.version }

func (e *Executor) checkVersion(ctx context.Context) (string, error) {
	out, err := exec.CommandContext(ctx, e.ffmpegPath, "-version").CombinedOutput()
	if err != nil {
		return "", errs.New(errs.ErrConfiguration, "ffmpeg", errs.NoFrame, err, "run %s -version", e.ffmpegPath)
	}
	return parseVersion(string(out))
}

func parseVersion(out string) (string, error) {
	first, _, _ := strings.Cut(out, "\n")
	if !strings.Contains(first, "ffmpeg version") {
		return "", errs.Configf("ffmpeg", "unexpected ffmpeg -version output %q", first)
	}
	return strings.TrimSpace(first), nil
}

// Run executes ffmpeg with the given arguments and streams its output
func (e *Executor) Run(ctx context.Context, opts RunOptions) error {
	if len(opts.Args) == 0 {
		return fmt.Errorf("no arguments provided")
	}

	// Build args with threads BEFORE other arguments
	baseArgs := []string{"-y", "-hide_banner", "-loglevel", "info"}

	if e.threads > 0 {
		baseArgs = append(baseArgs, "-threads", fmt.Sprintf("%d", e.threads))
	}

	args := append(baseArgs, opts.Args...)

	e.logger.Debug().
		Str("cmd", "ffmpeg").
		Strs("args", args).
		Msg("executing ffmpeg")

	cmd := exec.CommandContext(ctx, e.ffmpegPath, args...)

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		streamOutput(stderr, opts.LogHandler)
	}()

	go func() {
		defer wg.Done()
		streamOutput(stdout, opts.LogHandler)
	}()

	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg execution failed: %w", err)
	}

	return nil
}

// streamOutput forwards every line of r to logHandler and drains r when
// there is no handler.
func streamOutput(r io.Reader, logHandler func(string)) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if logHandler != nil {
			logHandler(scanner.Text())
		}
	}
}
