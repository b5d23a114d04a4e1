package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/shared"
)

// ArtistGenreRepository caches catalog genres per artist with an expiry.
type ArtistGenreRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewArtistGenreRepository(db *sql.DB) *ArtistGenreRepository {
	return &ArtistGenreRepository{db: db, now: time.Now}
}

// Get returns the record for artistID, or [shared.ErrCacheMiss] when it is absent or expired.
func (r *ArtistGenreRepository) Get(ctx context.Context, artistID string) (*models.ArtistGenreRecord, error) {
	query := `SELECT artist_id, genres, updated_at, expires_at FROM artist_genres WHERE artist_id = ?`

	var (
		record models.ArtistGenreRecord
		genres string
	)
	err := r.db.QueryRowContext(ctx, query, artistID).Scan(&record.ArtistID, &genres, &record.UpdatedAt, &record.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: artist %s", shared.ErrCacheMiss, artistID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query artist genres: %w", err)
	}

	if !record.ValidAt(r.now()) {
		return nil, fmt.Errorf("%w: artist %s expired", shared.ErrCacheMiss, artistID)
	}

	if err := decodeJSON(genres, &record.Genres); err != nil {
		return nil, err
	}
	return &record, nil
}

// Upsert stores genres for the artist, valid for ttl from now.
func (r *ArtistGenreRepository) Upsert(ctx context.Context, artistID string, genres []string, ttl time.Duration) (*models.ArtistGenreRecord, error) {
	now := r.now().UTC()
	record := &models.ArtistGenreRecord{
		ArtistID:  artistID,
		Genres:    nonNil(genres),
		UpdatedAt: now,
		ExpiresAt: now.Add(ttl),
	}

	encoded, err := encodeJSON(record.Genres)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO artist_genres (artist_id, genres, updated_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(artist_id) DO UPDATE SET
			genres = excluded.genres,
			updated_at = excluded.updated_at,
			expires_at = excluded.expires_at
	`
	if _, err := r.db.ExecContext(ctx, query, record.ArtistID, encoded, record.UpdatedAt, record.ExpiresAt); err != nil {
		return nil, fmt.Errorf("failed to upsert artist genres: %w", err)
	}
	return record, nil
}

// PurgeExpired deletes expired rows and returns how many were removed.
func (r *ArtistGenreRepository) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM artist_genres WHERE expires_at <= ?`, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge artist genres: %w", err)
	}
	return result.RowsAffected()
}
