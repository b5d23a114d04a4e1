package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/shared"
)

const (
	defaultTrackBatchSize = 500
	defaultTrackTTL       = 30 * 24 * time.Hour
)

// TrackCacheRepository stores one resolved [models.TrackGenreRecord] per track id.
//
// Records older than the TTL are treated as absent by every read.
type TrackCacheRepository struct {
	db        *sql.DB
	batchSize int
	ttl       time.Duration
	logger    *log.Logger
	now       func() time.Time
}

// NewTrackCacheRepository creates a repository that writes at most batchSize records per transaction.
func NewTrackCacheRepository(db *sql.DB, batchSize int, logger *log.Logger) *TrackCacheRepository {
	if batchSize <= 0 {
		batchSize = defaultTrackBatchSize
	}
	return &TrackCacheRepository{db: db, batchSize: batchSize, ttl: defaultTrackTTL, logger: logger, now: time.Now}
}

// SetTTL sets how long a record stays fresh. Non-positive values keep the current TTL.
func (r *TrackCacheRepository) SetTTL(ttl time.Duration) {
	if ttl > 0 {
		r.ttl = ttl
	}
}

// cutoff is the oldest last_updated still considered fresh.
func (r *TrackCacheRepository) cutoff() time.Time {
	return r.now().Add(-r.ttl).UTC()
}

const trackCacheColumns = `track_id, genres, primary_genre, confidence, sources, last_updated`

// Get returns the fresh cached record for id or [shared.ErrCacheMiss].
func (r *TrackCacheRepository) Get(ctx context.Context, id string) (*models.TrackGenreRecord, error) {
	query := `SELECT ` + trackCacheColumns + ` FROM track_cache WHERE track_id = ? AND last_updated > ?`

	record, err := scanTrackRecord(r.db.QueryRowContext(ctx, query, id, r.cutoff()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: track %s", shared.ErrCacheMiss, id)
	}
	if err != nil {
		return nil, err
	}
	return record, nil
}

// GetMany returns the fresh cached records for ids. Missing and stale ids are absent from the result.
func (r *TrackCacheRepository) GetMany(ctx context.Context, ids []string) ([]models.TrackGenreRecord, error) {
	var records []models.TrackGenreRecord
	cutoff := r.cutoff()

	for _, chunk := range shared.Chunk(ids, r.batchSize) {
		args := make([]any, 0, len(chunk)+1)
		for _, id := range chunk {
			args = append(args, id)
		}
		args = append(args, cutoff)

		query := `SELECT ` + trackCacheColumns + ` FROM track_cache WHERE track_id IN (` + placeholders(len(chunk)) + `) AND last_updated > ?`
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, fmt.Errorf("failed to query track cache: %w", err)
		}

		for rows.Next() {
			record, err := scanTrackRecord(rows)
			if err != nil {
				rows.Close()
				return nil, err
			}
			records = append(records, *record)
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, fmt.Errorf("row iteration error: %w", err)
		}
		rows.Close()
	}

	return records, nil
}

// UpsertMany replaces records by track id in batches, one transaction per batch.
//
// A failed batch is logged and skipped; the remaining batches still run. Returns the number of records
// written and the joined errors of every failed batch.
func (r *TrackCacheRepository) UpsertMany(ctx context.Context, records []models.TrackGenreRecord) (int, error) {
	query := `
		INSERT INTO track_cache (` + trackCacheColumns + `)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(track_id) DO UPDATE SET
			genres = excluded.genres,
			primary_genre = excluded.primary_genre,
			confidence = excluded.confidence,
			sources = excluded.sources,
			last_updated = excluded.last_updated
	`

	written := 0
	var errs []error
	for i, batch := range shared.Chunk(records, r.batchSize) {
		err := shared.WithTx(ctx, r.db, func(tx *sql.Tx) error {
			stmt, err := tx.PrepareContext(ctx, query)
			if err != nil {
				return fmt.Errorf("failed to prepare upsert: %w", err)
			}
			defer stmt.Close()

			for _, record := range batch {
				args, err := r.trackArgs(record)
				if err != nil {
					return err
				}
				if _, err := stmt.ExecContext(ctx, args...); err != nil {
					return fmt.Errorf("failed to upsert track %s: %w", record.TrackID, err)
				}
			}
			return nil
		})
		if err != nil {
			if r.logger != nil {
				r.logger.Error("track cache batch failed", "batch", i, "size", len(batch), "error", err)
			}
			errs = append(errs, fmt.Errorf("batch %d: %w", i, err))
			continue
		}
		written += len(batch)
	}

	return written, errors.Join(errs...)
}

// Count returns the number of cached tracks.
func (r *TrackCacheRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM track_cache`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count track cache: %w", err)
	}
	return n, nil
}

// PurgeExpired deletes records older than the TTL and returns how many were removed.
func (r *TrackCacheRepository) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM track_cache WHERE last_updated <= ?`, r.cutoff())
	if err != nil {
		return 0, fmt.Errorf("failed to purge track cache: %w", err)
	}
	return result.RowsAffected()
}

func (r *TrackCacheRepository) trackArgs(record models.TrackGenreRecord) ([]any, error) {
	genres, err := encodeJSON(nonNil(record.Genres))
	if err != nil {
		return nil, err
	}

	sources := record.Sources
	if sources == nil {
		sources = map[string][]string{}
	}
	sourcesJSON, err := encodeJSON(sources)
	if err != nil {
		return nil, err
	}

	updated := record.LastUpdated
	if updated.IsZero() {
		updated = r.now()
	}
	return []any{record.TrackID, genres, record.PrimaryGenre, record.Confidence, sourcesJSON, updated.UTC()}, nil
}

func scanTrackRecord(row rowScanner) (*models.TrackGenreRecord, error) {
	var (
		record  models.TrackGenreRecord
		genres  string
		sources string
	)

	err := row.Scan(&record.TrackID, &genres, &record.PrimaryGenre, &record.Confidence, &sources, &record.LastUpdated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan track record: %w", err)
	}

	if err := decodeJSON(genres, &record.Genres); err != nil {
		return nil, err
	}
	if err := decodeJSON(sources, &record.Sources); err != nil {
		return nil, err
	}
	return &record, nil
}
