package repositories

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/shared"
)

// AuditRepository appends to and reads the audit trail. Rows are never updated or deleted.
type AuditRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewAuditRepository(db *sql.DB) *AuditRepository {
	return &AuditRepository{db: db, now: time.Now}
}

// Append writes row, assigning an id and timestamp when unset.
func (r *AuditRepository) Append(ctx context.Context, row *models.AuditRow) error {
	return insertAudit(ctx, r.db, row, r.now)
}

// AuditFilter narrows [AuditRepository.List]. Zero fields match everything.
type AuditFilter struct {
	Action     string
	AnalysisID string
	Limit      int
}

// List returns audit rows newest first.
func (r *AuditRepository) List(ctx context.Context, filter AuditFilter) ([]models.AuditRow, error) {
	query := `SELECT id, action, owner, genre, analysis_id, playlist_id, track_ids, created_at FROM audit_logs WHERE 1 = 1`
	var args []any

	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, filter.Action)
	}
	if filter.AnalysisID != "" {
		query += " AND analysis_id = ?"
		args = append(args, filter.AnalysisID)
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var result []models.AuditRow
	for rows.Next() {
		var (
			row      models.AuditRow
			trackIDs string
		)
		if err := rows.Scan(&row.ID, &row.Action, &row.Owner, &row.Genre, &row.AnalysisID, &row.PlaylistID, &trackIDs, &row.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		if err := decodeJSON(trackIDs, &row.TrackIDs); err != nil {
			return nil, err
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return result, nil
}

func insertAudit(ctx context.Context, db execer, row *models.AuditRow, now func() time.Time) error {
	if row.Action == "" {
		return fmt.Errorf("%w: audit row needs an action", shared.ErrInvalidInput)
	}
	if row.ID == "" {
		row.ID = shared.GenerateID()
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = now().UTC()
	}

	trackIDs, err := encodeJSON(nonNil(row.TrackIDs))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO audit_logs (id, action, owner, genre, analysis_id, playlist_id, track_ids, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.ExecContext(ctx, query,
		row.ID, row.Action, row.Owner, row.Genre, row.AnalysisID, row.PlaylistID, trackIDs, row.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert audit row: %w", err)
	}
	return nil
}
