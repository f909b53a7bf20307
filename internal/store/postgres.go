package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/keagan/videohash/internal/fingerprint"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS fingerprints (
	id          UUID PRIMARY KEY,
	path        TEXT NOT NULL,
	signature   TEXT NOT NULL,
	width       INTEGER NOT NULL,
	hash        TEXT NOT NULL,
	duration_ms BIGINT NOT NULL,
	frame_count INTEGER NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	UNIQUE(path, signature)
);
CREATE INDEX IF NOT EXISTS fingerprints_signature ON fingerprints(signature);`

// PostgresStore keeps fingerprints in PostgreSQL through a pgx pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to connString and creates the schema.
func OpenPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Save(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO fingerprints (id, path, signature, width, hash, duration_ms, frame_count, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (path, signature) DO UPDATE SET
			width=EXCLUDED.width, hash=EXCLUDED.hash, duration_ms=EXCLUDED.duration_ms,
			frame_count=EXCLUDED.frame_count, created_at=EXCLUDED.created_at`

	_, err := s.pool.Exec(ctx, query,
		rec.ID, rec.Path, rec.Signature, rec.Fingerprint.Width(), rec.Fingerprint.Hex(),
		rec.Duration.Milliseconds(), rec.FrameCount, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert fingerprint: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, path, signature string) (*Record, error) {
	query := `
		SELECT id, path, signature, width, hash, duration_ms, frame_count, created_at
		FROM fingerprints WHERE path=$1 AND signature=$2`

	rec, err := scanPostgres(s.pool.QueryRow(ctx, query, path, signature))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find fingerprint by path: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context, signature string) ([]Record, error) {
	query := `
		SELECT id, path, signature, width, hash, duration_ms, frame_count, created_at
		FROM fingerprints WHERE signature=$1 ORDER BY path`

	rows, err := s.pool.Query(ctx, query, signature)
	if err != nil {
		return nil, fmt.Errorf("list fingerprints: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		rec, err := scanPostgres(rows)
		if err != nil {
			return nil, fmt.Errorf("scan fingerprint: %w", err)
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func (s *PostgresStore) FindSimilar(ctx context.Context, fp fingerprint.Fingerprint, signature string, maxDistance int) ([]Match, error) {
	records, err := s.List(ctx, signature)
	if err != nil {
		return nil, err
	}
	return rank(records, fp, maxDistance), nil
}

func (s *PostgresStore) Delete(ctx context.Context, path, signature string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM fingerprints WHERE path=$1 AND signature=$2`, path, signature)
	if err != nil {
		return fmt.Errorf("delete fingerprint: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func scanPostgres(row pgx.Row) (*Record, error) {
	var (
		rec        Record
		hash       string
		width      int
		durationMs int64
	)
	if err := row.Scan(&rec.ID, &rec.Path, &rec.Signature, &width, &hash, &durationMs, &rec.FrameCount, &rec.CreatedAt); err != nil {
		return nil, err
	}
	fp, err := fingerprint.ParseWidth(hash, width)
	if err != nil {
		return nil, err
	}
	rec.Fingerprint = fp
	rec.Duration = time.Duration(durationMs) * time.Millisecond
	return &rec, nil
}
