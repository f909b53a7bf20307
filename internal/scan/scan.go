// Package scan fingerprints every video under a directory and groups the
// near duplicates it finds.
package scan

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"sort"

	"github.com/keagan/videohash/internal/fingerprint"
	"github.com/keagan/videohash/internal/pipeline"
	"github.com/keagan/videohash/internal/store"
	"github.com/keagan/videohash/pkg/util"
	"github.com/rs/zerolog"
	"github.com/schollz/progressbar/v3"
	"golang.org/x/sync/errgroup"
)

type Computer interface {
	Run(ctx context.Context, path string, onState func(pipeline.State)) (*pipeline.Result, error)
}

type Options struct {
	Workers   int
	Threshold fingerprint.Threshold
	// Store holds fingerprints of earlier scans. Reuse reads them instead
	// of recomputing and Save writes every newly computed one.
	Store     store.Store
	Reuse     bool
	Save      bool
	Signature string
	// Progress receives a progress bar; nil disables it.
	Progress io.Writer
}

// Item is the outcome for one file. Exactly one of Fingerprint and Err is set.
type Item struct {
	Path        string
	Fingerprint fingerprint.Fingerprint
	Result      *pipeline.Result
	Cached      bool
	Err         error
}

// Group is a set of videos that are pairwise reachable through duplicates.
type Group struct {
	Paths []string
	// MaxDistance is the largest distance between directly linked members.
	MaxDistance int
}

type Report struct {
	Items  []Item
	Groups []Group
	Failed int
}

type Scanner struct {
	logger   zerolog.Logger
	computer Computer
	opts     Options
}

func New(logger zerolog.Logger, computer Computer, opts Options) *Scanner {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	return &Scanner{
		logger:   logger.With().Str("component", "scan").Logger(),
		computer: computer,
		opts:     opts,
	}
}

// Find lists the video files under root in lexical order.
func Find(root string) ([]string, error) {
	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && util.IsVideoFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// Run fingerprints every video under root. A file that cannot be
// fingerprinted is reported in its Item and does not stop the scan;
// cancellation does.
func (s *Scanner) Run(ctx context.Context, root string) (*Report, error) {
	paths, err := Find(root)
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("root", root).Int("videos", len(paths)).Msg("scanning")

	bar := s.progressBar(len(paths))
	defer bar.Finish()

	items := make([]Item, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.opts.Workers)

	for i, path := range paths {
		g.Go(func() error {
			item := s.fingerprint(gctx, path)
			if errors.Is(item.Err, context.Canceled) || errors.Is(item.Err, context.DeadlineExceeded) {
				return item.Err
			}
			items[i] = item
			_ = bar.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Items: items}
	for _, item := range items {
		if item.Err != nil {
			report.Failed++
			s.logger.Warn().Err(item.Err).Str("video", item.Path).Msg("skipping video")
		}
	}
	report.Groups, err = GroupDuplicates(items, s.opts.Threshold)
	if err != nil {
		return nil, err
	}
	return report, nil
}

func (s *Scanner) fingerprint(ctx context.Context, path string) Item {
	if s.opts.Store != nil && s.opts.Reuse {
		rec, err := s.opts.Store.Get(ctx, path, s.opts.Signature)
		if err == nil {
			return Item{Path: path, Fingerprint: rec.Fingerprint, Cached: true}
		}
		if !errors.Is(err, store.ErrNotFound) {
			return Item{Path: path, Err: err}
		}
	}

	res, err := s.computer.Run(ctx, path, nil)
	if err != nil {
		return Item{Path: path, Err: err}
	}
	if s.opts.Store != nil && s.opts.Save {
		if err := s.opts.Store.Save(ctx, store.FromResult(res)); err != nil {
			return Item{Path: path, Err: err}
		}
	}
	return Item{Path: path, Fingerprint: res.Fingerprint, Result: res}
}

func (s *Scanner) progressBar(n int) *progressbar.ProgressBar {
	if s.opts.Progress == nil {
		return progressbar.DefaultSilent(int64(n))
	}
	return progressbar.NewOptions(n,
		progressbar.OptionSetWriter(s.opts.Progress),
		progressbar.OptionSetDescription("Hashing videos"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() {
			_, _ = io.WriteString(s.opts.Progress, "\n")
		}),
	)
}

// GroupDuplicates links every pair of fingerprinted items within threshold
// and returns the connected groups of two or more, each sorted by path.
func GroupDuplicates(items []Item, threshold fingerprint.Threshold) ([]Group, error) {
	var ok []Item
	for _, it := range items {
		if it.Err == nil && !it.Fingerprint.IsZero() {
			ok = append(ok, it)
		}
	}

	parent := make([]int, len(ok))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	linkDistance := make(map[int]int)
	for i := range ok {
		for j := i + 1; j < len(ok); j++ {
			d, err := fingerprint.Distance(ok[i].Fingerprint, ok[j].Fingerprint)
			if err != nil {
				return nil, err
			}
			limit, err := threshold.MaxDistance(d.Width)
			if err != nil {
				return nil, err
			}
			if d.Distance > limit {
				continue
			}
			ri, rj := find(i), find(j)
			if ri != rj {
				parent[rj] = ri
				linkDistance[ri] = max(linkDistance[ri], linkDistance[rj])
			}
			linkDistance[ri] = max(linkDistance[ri], d.Distance)
		}
	}

	members := make(map[int][]string)
	for i, it := range ok {
		r := find(i)
		members[r] = append(members[r], it.Path)
	}

	var groups []Group
	for r, paths := range members {
		if len(paths) < 2 {
			continue
		}
		sort.Strings(paths)
		groups = append(groups, Group{Paths: paths, MaxDistance: linkDistance[r]})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Paths[0] < groups[j].Paths[0] })
	return groups, nil
}
