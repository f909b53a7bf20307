// Package store persists computed fingerprints and answers near-duplicate
// lookups against them. SQLite backs local use; PostgreSQL backs the worker.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/keagan/videohash/internal/fingerprint"
	"github.com/keagan/videohash/internal/pipeline"
	"github.com/keagan/videohash/pkg/util"
)

// ErrNotFound is returned when no record matches a lookup.
var ErrNotFound = errors.New("fingerprint record not found")

// Record is one stored fingerprint. Path and Signature together are unique:
// recomputing a video with the same settings replaces its record.
type Record struct {
	ID          uuid.UUID
	Path        string
	Signature   string
	Fingerprint fingerprint.Fingerprint
	Duration    time.Duration
	FrameCount  int
	CreatedAt   time.Time
}

// Match is a stored record within a distance of a query fingerprint.
type Match struct {
	Record
	Distance   int
	Similarity float64
}

// FromResult builds the record for a computed fingerprint.
func FromResult(res *pipeline.Result) *Record {
	return &Record{
		ID:          uuid.New(),
		Path:        res.Path,
		Signature:   res.Signature,
		Fingerprint: res.Fingerprint,
		Duration:    res.Duration,
		FrameCount:  res.FrameCount,
		CreatedAt:   time.Now().UTC(),
	}
}

// Store is a fingerprint repository.
type Store interface {
	Save(ctx context.Context, rec *Record) error
	Get(ctx context.Context, path, signature string) (*Record, error)
	List(ctx context.Context, signature string) ([]Record, error)
	FindSimilar(ctx context.Context, fp fingerprint.Fingerprint, signature string, maxDistance int) ([]Match, error)
	Delete(ctx context.Context, path, signature string) error
	Close() error
}

// Open connects to the store named by dsn. postgres:// and postgresql://
// URLs select PostgreSQL; anything else is a SQLite file path, optionally
// prefixed with sqlite://.
func Open(ctx context.Context, dsn string) (Store, error) {
	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		return OpenPostgres(ctx, dsn)
	default:
		path := strings.TrimPrefix(dsn, "sqlite://")
		return OpenSQLite(ctx, util.ExpandHome(path))
	}
}

// rank keeps the records within maxDistance of fp, closest first. Records of
// a different width are skipped rather than failing the whole lookup.
func rank(records []Record, fp fingerprint.Fingerprint, maxDistance int) []Match {
	var matches []Match
	for _, rec := range records {
		d, err := fingerprint.Distance(fp, rec.Fingerprint)
		if err != nil || d.Distance > maxDistance {
			continue
		}
		matches = append(matches, Match{Record: rec, Distance: d.Distance, Similarity: d.Similarity})
	}
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Distance != matches[j].Distance {
			return matches[i].Distance < matches[j].Distance
		}
		return matches[i].Path < matches[j].Path
	})
	return matches
}
