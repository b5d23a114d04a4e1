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

// UserTrackRepository remembers each user's saved tracks, one row per (user, track).
type UserTrackRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewUserTrackRepository(db *sql.DB) *UserTrackRepository {
	return &UserTrackRepository{db: db, now: time.Now}
}

// SaveAll upserts tracks for userID in one transaction and returns how many rows were written.
func (r *UserTrackRepository) SaveAll(ctx context.Context, userID string, tracks []models.Track) (int, error) {
	if userID == "" {
		return 0, fmt.Errorf("%w: user id is required", shared.ErrMissingArgument)
	}
	if len(tracks) == 0 {
		return 0, nil
	}

	query := `
		INSERT INTO user_tracks (user_id, track_id, name, artist_id, artist_name, preview_url, added_at, last_updated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, track_id) DO UPDATE SET
			name = excluded.name,
			artist_id = excluded.artist_id,
			artist_name = excluded.artist_name,
			preview_url = excluded.preview_url,
			added_at = excluded.added_at,
			last_updated = excluded.last_updated
	`

	now := r.now().UTC()
	written := 0
	err := shared.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return fmt.Errorf("failed to prepare upsert: %w", err)
		}
		defer stmt.Close()

		for _, t := range tracks {
			if t.ID == "" {
				continue
			}
			if _, err := stmt.ExecContext(ctx, userID, t.ID, t.Name, t.ArtistID, t.ArtistName, t.PreviewURL, t.AddedAt, now); err != nil {
				return fmt.Errorf("failed to save track %s: %w", t.ID, err)
			}
			written++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

// List returns the user's tracks, most recently added first.
func (r *UserTrackRepository) List(ctx context.Context, userID string) ([]models.UserTrack, error) {
	query := `
		SELECT user_id, track_id, name, artist_id, artist_name, preview_url, added_at, last_updated
		FROM user_tracks
		WHERE user_id = ?
		ORDER BY added_at DESC, track_id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query user tracks: %w", err)
	}
	defer rows.Close()

	var tracks []models.UserTrack
	for rows.Next() {
		var ut models.UserTrack
		if err := rows.Scan(&ut.UserID, &ut.ID, &ut.Name, &ut.ArtistID, &ut.ArtistName, &ut.PreviewURL, &ut.AddedAt, &ut.LastUpdated); err != nil {
			return nil, fmt.Errorf("failed to scan user track: %w", err)
		}
		tracks = append(tracks, ut)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return tracks, nil
}

// AuthTokenRepository stores OAuth tokens per provider for a limited time.
type AuthTokenRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewAuthTokenRepository(db *sql.DB) *AuthTokenRepository {
	return &AuthTokenRepository{db: db, now: time.Now}
}

// Save stores token, kept for ttl from now.
func (r *AuthTokenRepository) Save(ctx context.Context, token *models.AuthToken, ttl time.Duration) error {
	if token.Provider == "" || token.AccessToken == "" {
		return fmt.Errorf("%w: token needs a provider and access token", shared.ErrInvalidInput)
	}

	now := r.now().UTC()
	token.ID = shared.GenerateID()
	token.CreatedAt = now
	token.ExpiresAt = now.Add(ttl)

	var expiry sql.NullTime
	if !token.Expiry.IsZero() {
		expiry = sql.NullTime{Time: token.Expiry.UTC(), Valid: true}
	}

	query := `
		INSERT INTO auth_tokens (id, provider, access_token, refresh_token, token_type, expiry, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		token.ID, token.Provider, token.AccessToken, token.RefreshToken, token.TokenType, expiry, token.CreatedAt, token.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}
	return nil
}

// Latest returns the newest unexpired token for provider, or [shared.ErrNotAuthenticated].
func (r *AuthTokenRepository) Latest(ctx context.Context, provider string) (*models.AuthToken, error) {
	query := `
		SELECT id, provider, access_token, refresh_token, token_type, expiry, created_at, expires_at
		FROM auth_tokens
		WHERE provider = ? AND expires_at > ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	var (
		token  models.AuthToken
		expiry sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, provider, r.now().UTC()).Scan(
		&token.ID, &token.Provider, &token.AccessToken, &token.RefreshToken, &token.TokenType,
		&expiry, &token.CreatedAt, &token.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no stored %s token", shared.ErrNotAuthenticated, provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query token: %w", err)
	}
	if expiry.Valid {
		token.Expiry = expiry.Time
	}
	return &token, nil
}

// PurgeExpired deletes expired tokens and returns how many were removed.
func (r *AuthTokenRepository) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE expires_at <= ?`, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge tokens: %w", err)
	}
	return result.RowsAffected()
}
