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

// AnalysisRepository stores immutable analysis snapshots.
type AnalysisRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewAnalysisRepository(db *sql.DB) *AnalysisRepository {
	return &AnalysisRepository{db: db, now: time.Now}
}

// Create inserts the analysis and its analysis_created audit row in one transaction.
// Either both rows are written or neither is.
func (r *AnalysisRepository) Create(ctx context.Context, record *models.AnalysisRecord) error {
	if record.ID == "" {
		record.ID = shared.GenerateID()
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = r.now().UTC()
	}
	if record.Genres == nil {
		record.Genres = models.GenreMap{}
	}
	if record.Tracks == nil {
		record.Tracks = []models.Track{}
	}

	tracks, err := encodeJSON(record.Tracks)
	if err != nil {
		return err
	}
	genres, err := encodeJSON(record.Genres)
	if err != nil {
		return err
	}

	return shared.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		query := `
			INSERT INTO analyses (id, user_id, source, tracks, genres, created_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`
		if _, err := tx.ExecContext(ctx, query, record.ID, record.UserID, record.Source, tracks, genres, record.CreatedAt); err != nil {
			return fmt.Errorf("failed to insert analysis: %w", err)
		}

		return insertAudit(ctx, tx, &models.AuditRow{
			Action:     models.AuditAnalysisCreated,
			Owner:      record.UserID,
			AnalysisID: record.ID,
			CreatedAt:  record.CreatedAt,
		}, r.now)
	})
}

// Get returns the analysis or [shared.ErrAnalysisNotFound].
func (r *AnalysisRepository) Get(ctx context.Context, id string) (*models.AnalysisRecord, error) {
	query := `SELECT id, user_id, source, tracks, genres, created_at FROM analyses WHERE id = ?`

	record, err := scanAnalysis(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", shared.ErrAnalysisNotFound, id)
	}
	return record, err
}

// ListByUser returns the user's analyses newest first. A non-positive limit returns all of them.
func (r *AnalysisRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.AnalysisRecord, error) {
	query := `
		SELECT id, user_id, source, tracks, genres, created_at
		FROM analyses
		WHERE user_id = ?
		ORDER BY created_at DESC
	`
	args := []any{userID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query analyses: %w", err)
	}
	defer rows.Close()

	var records []models.AnalysisRecord
	for rows.Next() {
		record, err := scanAnalysis(rows)
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

func scanAnalysis(row rowScanner) (*models.AnalysisRecord, error) {
	var (
		record models.AnalysisRecord
		tracks string
		genres string
	)
	if err := row.Scan(&record.ID, &record.UserID, &record.Source, &tracks, &genres, &record.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan analysis: %w", err)
	}
	if err := decodeJSON(tracks, &record.Tracks); err != nil {
		return nil, err
	}
	if err := decodeJSON(genres, &record.Genres); err != nil {
		return nil, err
	}
	if record.Genres == nil {
		record.Genres = models.GenreMap{}
	}
	return &record, nil
}
