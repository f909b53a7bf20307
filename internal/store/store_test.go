package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/keagan/videohash/internal/fingerprint"
	"github.com/keagan/videohash/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sig = "v1/phash/phash128/w256/n16/s240-crop"

func fp(t *testing.T, words ...uint64) fingerprint.Fingerprint {
	t.Helper()
	f, err := fingerprint.New(words)
	require.NoError(t, err)
	return f
}

func record(t *testing.T, path string, words ...uint64) *Record {
	t.Helper()
	return &Record{
		ID:          uuid.New(),
		Path:        path,
		Signature:   sig,
		Fingerprint: fp(t, words...),
		Duration:    34 * time.Second,
		FrameCount:  16,
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
}

// storeFactories returns every backend reachable from the test environment.
// PostgreSQL runs only when VIDEOHASH_TEST_POSTGRES_DSN is set.
func storeFactories(t *testing.T) map[string]func() Store {
	factories := map[string]func() Store{
		"sqlite": func() Store {
			s, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "db", "fp.db"))
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
	if dsn := os.Getenv("VIDEOHASH_TEST_POSTGRES_DSN"); dsn != "" {
		factories["postgres"] = func() Store {
			s, err := OpenPostgres(context.Background(), dsn)
			require.NoError(t, err)
			_, err = s.pool.Exec(context.Background(), `TRUNCATE fingerprints`)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		}
	}
	return factories
}

func TestSaveAndGet(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			ctx := context.Background()
			rec := record(t, "/videos/a.mp4", 0xdeadbeef, 0x1)

			require.NoError(t, s.Save(ctx, rec))

			got, err := s.Get(ctx, rec.Path, sig)
			require.NoError(t, err)
			assert.Equal(t, rec.ID, got.ID)
			assert.True(t, rec.Fingerprint.Equal(got.Fingerprint))
			assert.Equal(t, 34*time.Second, got.Duration)
			assert.Equal(t, 16, got.FrameCount)
			assert.True(t, rec.CreatedAt.Equal(got.CreatedAt))

			_, err = s.Get(ctx, rec.Path, "other")
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestSaveReplacesSamePathAndSignature(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			ctx := context.Background()

			require.NoError(t, s.Save(ctx, record(t, "/videos/a.mp4", 1, 1)))
			require.NoError(t, s.Save(ctx, record(t, "/videos/a.mp4", 2, 2)))

			records, err := s.List(ctx, sig)
			require.NoError(t, err)
			require.Len(t, records, 1)
			assert.Equal(t, []uint64{2, 2}, records[0].Fingerprint.Words())
		})
	}
}

func TestFindSimilar(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			ctx := context.Background()

			require.NoError(t, s.Save(ctx, record(t, "/videos/exact.mp4", 0xff, 0)))
			require.NoError(t, s.Save(ctx, record(t, "/videos/near.mp4", 0xf0, 0)))
			require.NoError(t, s.Save(ctx, record(t, "/videos/far.mp4", ^uint64(0), ^uint64(0))))
			other := record(t, "/videos/other-config.mp4", 0xff, 0)
			other.Signature = "v1/dhash/phash128/w256/n16/s240"
			require.NoError(t, s.Save(ctx, other))

			matches, err := s.FindSimilar(ctx, fp(t, 0xff, 0), sig, 10)
			require.NoError(t, err)
			require.Len(t, matches, 2)
			assert.Equal(t, "/videos/exact.mp4", matches[0].Path)
			assert.Equal(t, 0, matches[0].Distance)
			assert.Equal(t, 1.0, matches[0].Similarity)
			assert.Equal(t, "/videos/near.mp4", matches[1].Path)
			assert.Equal(t, 4, matches[1].Distance)

			matches, err = s.FindSimilar(ctx, fp(t, 0xff, 0), sig, 0)
			require.NoError(t, err)
			assert.Len(t, matches, 1)
		})
	}
}

func TestFindSimilarSkipsOtherWidths(t *testing.T) {
	s, err := OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, record(t, "/videos/wide.mp4", 0, 0, 0, 0)))
	require.NoError(t, s.Save(ctx, record(t, "/videos/narrow.mp4", 0, 0)))

	matches, err := s.FindSimilar(ctx, fp(t, 0, 0), sig, 256)
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, "/videos/narrow.mp4", matches[0].Path)
}

func TestDelete(t *testing.T) {
	for name, open := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := open()
			ctx := context.Background()
			require.NoError(t, s.Save(ctx, record(t, "/videos/a.mp4", 1)))

			require.NoError(t, s.Delete(ctx, "/videos/a.mp4", sig))
			_, err := s.Get(ctx, "/videos/a.mp4", sig)
			assert.ErrorIs(t, err, ErrNotFound)
			assert.ErrorIs(t, s.Delete(ctx, "/videos/a.mp4", sig), ErrNotFound)
		})
	}
}

func TestOpenSelectsSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fp.db")
	s, err := Open(context.Background(), "sqlite://"+path)
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &SQLiteStore{}, s)
	assert.FileExists(t, path)
}

func TestFromResult(t *testing.T) {
	res := &pipeline.Result{
		Path:        "/videos/a.mp4",
		Fingerprint: fp(t, 7),
		Signature:   sig,
		Duration:    time.Minute,
		FrameCount:  16,
	}
	rec := FromResult(res)
	assert.NotEqual(t, uuid.Nil, rec.ID)
	assert.Equal(t, res.Path, rec.Path)
	assert.Equal(t, sig, rec.Signature)
	assert.Equal(t, time.Minute, rec.Duration)
	assert.False(t, rec.CreatedAt.IsZero())
}
