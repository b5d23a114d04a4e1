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

// PlaylistRecordRepository tracks playlists created for (owner, name) and the tracks added to them.
type PlaylistRecordRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewPlaylistRecordRepository(db *sql.DB) *PlaylistRecordRepository {
	return &PlaylistRecordRepository{db: db, now: time.Now}
}

const playlistColumns = `id, owner, name, genre, external_url, members, created_at, expires_at`

// FindActive returns the newest non-expired record for (owner, name), or [shared.ErrRecordNotFound].
func (r *PlaylistRecordRepository) FindActive(ctx context.Context, owner, name string) (*models.PlaylistRecord, error) {
	query := `
		SELECT ` + playlistColumns + `
		FROM playlist_records
		WHERE owner = ? AND name = ? AND expires_at > ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	record, err := scanPlaylistRecord(r.db.QueryRowContext(ctx, query, owner, name, r.now().UTC()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: playlist %q for %s", shared.ErrRecordNotFound, name, owner)
	}
	return record, err
}

// Get returns the record with the external playlist id, expired or not.
func (r *PlaylistRecordRepository) Get(ctx context.Context, id string) (*models.PlaylistRecord, error) {
	query := `SELECT ` + playlistColumns + ` FROM playlist_records WHERE id = ?`

	record, err := scanPlaylistRecord(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: playlist %s", shared.ErrRecordNotFound, id)
	}
	return record, err
}

// Create stores record, stamping CreatedAt now and ExpiresAt now + ttl.
func (r *PlaylistRecordRepository) Create(ctx context.Context, record *models.PlaylistRecord, ttl time.Duration) error {
	if record.ID == "" || record.Owner == "" || record.Name == "" {
		return fmt.Errorf("%w: playlist record needs id, owner and name", shared.ErrInvalidInput)
	}

	now := r.now().UTC()
	record.CreatedAt = now
	record.ExpiresAt = now.Add(ttl)
	record.Members = nonNil(record.Members)

	members, err := encodeJSON(record.Members)
	if err != nil {
		return err
	}

	query := `INSERT INTO playlist_records (` + playlistColumns + `) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	_, err = r.db.ExecContext(ctx, query,
		record.ID, record.Owner, record.Name, record.Genre, record.ExternalURL, members, record.CreatedAt, record.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: playlist record %s already exists", shared.ErrInvalidInput, record.ID)
		}
		return fmt.Errorf("failed to insert playlist record: %w", err)
	}
	return nil
}

// AppendMembers appends trackIDs to the record's members in order and returns the new member count.
func (r *PlaylistRecordRepository) AppendMembers(ctx context.Context, id string, trackIDs []string) (int, error) {
	var count int
	err := shared.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		var encoded string
		err := tx.QueryRowContext(ctx, `SELECT members FROM playlist_records WHERE id = ?`, id).Scan(&encoded)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("%w: playlist %s", shared.ErrRecordNotFound, id)
		}
		if err != nil {
			return fmt.Errorf("failed to read members: %w", err)
		}

		var members []string
		if err := decodeJSON(encoded, &members); err != nil {
			return err
		}
		members = append(members, trackIDs...)
		count = len(members)

		updated, err := encodeJSON(members)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `UPDATE playlist_records SET members = ? WHERE id = ?`, updated, id); err != nil {
			return fmt.Errorf("failed to update members: %w", err)
		}
		return nil
	})
	return count, err
}

// ListStale returns records created before cutoff whose names start with prefix, oldest first.
// An empty owner matches every owner.
func (r *PlaylistRecordRepository) ListStale(ctx context.Context, owner, prefix string, cutoff time.Time) ([]models.PlaylistRecord, error) {
	query := `
		SELECT ` + playlistColumns + `
		FROM playlist_records
		WHERE created_at < ? AND name LIKE ? ESCAPE '\'
	`
	args := []any{cutoff.UTC(), escapeLike(prefix) + "%"}
	if owner != "" {
		query += " AND owner = ?"
		args = append(args, owner)
	}
	query += " ORDER BY created_at ASC"

	return r.list(ctx, query, args...)
}

// ListByOwner returns the non-expired records for owner, newest first.
func (r *PlaylistRecordRepository) ListByOwner(ctx context.Context, owner string) ([]models.PlaylistRecord, error) {
	query := `
		SELECT ` + playlistColumns + `
		FROM playlist_records
		WHERE owner = ? AND expires_at > ?
		ORDER BY created_at DESC
	`
	return r.list(ctx, query, owner, r.now().UTC())
}

// Delete removes the record with the external playlist id.
func (r *PlaylistRecordRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM playlist_records WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete playlist record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("%w: playlist %s", shared.ErrRecordNotFound, id)
	}
	return nil
}

// PurgeExpired deletes expired records and returns how many were removed.
func (r *PlaylistRecordRepository) PurgeExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM playlist_records WHERE expires_at <= ?`, r.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge playlist records: %w", err)
	}
	return result.RowsAffected()
}

func (r *PlaylistRecordRepository) list(ctx context.Context, query string, args ...any) ([]models.PlaylistRecord, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query playlist records: %w", err)
	}
	defer rows.Close()

	var records []models.PlaylistRecord
	for rows.Next() {
		record, err := scanPlaylistRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return records, nil
}

func scanPlaylistRecord(row rowScanner) (*models.PlaylistRecord, error) {
	var (
		record  models.PlaylistRecord
		members string
	)
	err := row.Scan(&record.ID, &record.Owner, &record.Name, &record.Genre, &record.ExternalURL,
		&members, &record.CreatedAt, &record.ExpiresAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan playlist record: %w", err)
	}
	if err := decodeJSON(members, &record.Members); err != nil {
		return nil, err
	}
	record.Members = nonNil(record.Members)
	return &record, nil
}
