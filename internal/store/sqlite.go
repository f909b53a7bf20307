package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/keagan/videohash/internal/fingerprint"
	"github.com/keagan/videohash/pkg/util"
	_ "modernc.org/sqlite"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS fingerprints (
	id          TEXT PRIMARY KEY,
	path        TEXT NOT NULL,
	signature   TEXT NOT NULL,
	width       INTEGER NOT NULL,
	hash        TEXT NOT NULL,
	duration_ms INTEGER NOT NULL,
	frame_count INTEGER NOT NULL,
	created_at  INTEGER NOT NULL,
	UNIQUE(path, signature)
);
CREATE INDEX IF NOT EXISTS fingerprints_signature ON fingerprints(signature);`

// SQLiteStore keeps fingerprints in a single SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the database at path.
// ":memory:" gives a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := util.EnsureDir(filepath.Dir(path)); err != nil {
			return nil, fmt.Errorf("create store directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one connection keeps :memory: databases shared and writes serialized
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate sqlite: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Save(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO fingerprints (id, path, signature, width, hash, duration_ms, frame_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path, signature) DO UPDATE SET
			width=excluded.width, hash=excluded.hash, duration_ms=excluded.duration_ms,
			frame_count=excluded.frame_count, created_at=excluded.created_at`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID.String(), rec.Path, rec.Signature, rec.Fingerprint.Width(), rec.Fingerprint.Hex(),
		rec.Duration.Milliseconds(), rec.FrameCount, rec.CreatedAt.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("insert fingerprint: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, path, signature string) (*Record, error) {
	query := `
		SELECT id, path, signature, width, hash, duration_ms, frame_count, created_at
		FROM fingerprints WHERE path=? AND signature=?`

	rec, err := scanSQLite(s.db.QueryRowContext(ctx, query, path, signature))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find fingerprint by path: %w", err)
	}
	return rec, nil
}

func (s *SQLiteStore) List(ctx context.Context, signature string) ([]Record, error) {
	query := `
		SELECT id, path, signature, width, hash, duration_ms, frame_count, created_at
		FROM fingerprints WHERE signature=? ORDER BY path`

	rows, err := s.db.QueryContext(ctx, query, signature)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanSQLite(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (s *SQLiteStore) FindSimilar(ctx context.Context, fp fingerprint.Fingerprint, signature string, maxDistance int) ([]Match, error) {
	records, err := s.List(ctx, signature)
	if err != nil {
		return nil, err
	}
	return rank(records, fp, maxDistance), nil
}

func (s *SQLiteStore) Delete(ctx context.Context, path, signature string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM fingerprints WHERE path=? AND signature=?`, path, signature)
	if err != nil {
		return fmt.Errorf("delete fingerprint: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLite(row rowScanner) (*Record, error) {
	var (
		rec        Record
		id, hash   string
		width      int
		durationMs int64
		createdMs  int64
	)
	if err := row.Scan(&id, &rec.Path, &rec.Signature, &width, &hash, &durationMs, &rec.FrameCount, &createdMs); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("record id %q: %w", id, err)
	}
	fp, err := fingerprint.ParseWidth(hash, width)
	if err != nil {
		return nil, err
	}

	rec.ID = parsed
	rec.Fingerprint = fp
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	rec.CreatedAt = time.UnixMilli(createdMs).UTC()
	return &rec, nil
}
