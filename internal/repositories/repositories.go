// package repositories persists genre analysis state in SQLite.
package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/genrelist/internal/shared"
	"github.com/mattn/go-sqlite3"
)

// Store bundles every repository around one injected database handle. The caller owns the handle.
type Store struct {
	db *sql.DB

	Tracks     *TrackCacheRepository
	Artists    *ArtistGenreRepository
	Playlists  *PlaylistRecordRepository
	Analyses   *AnalysisRepository
	Audit      *AuditRepository
	UserTracks *UserTrackRepository
	Tokens     *AuthTokenRepository
}

// NewStore builds all repositories on db. trackBatchSize bounds each track cache upsert transaction.
func NewStore(db *sql.DB, trackBatchSize int, logger *log.Logger) *Store {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Store{
		db:         db,
		Tracks:     NewTrackCacheRepository(db, trackBatchSize, logger),
		Artists:    NewArtistGenreRepository(db),
		Playlists:  NewPlaylistRecordRepository(db),
		Analyses:   NewAnalysisRepository(db),
		Audit:      NewAuditRepository(db),
		UserTracks: NewUserTrackRepository(db),
		Tokens:     NewAuthTokenRepository(db),
	}
}

// DB returns the underlying handle.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// SetClock replaces the time source of every repository.
func (s *Store) SetClock(now func() time.Time) {
	s.Tracks.now = now
	s.Artists.now = now
	s.Playlists.now = now
	s.Analyses.now = now
	s.Audit.now = now
	s.UserTracks.now = now
	s.Tokens.now = now
}

// PurgeStats counts rows removed by [Store.PurgeExpired].
type PurgeStats struct {
	Tracks    int64 `json:"tracks"`
	Artists   int64 `json:"artists"`
	Playlists int64 `json:"playlists"`
	Tokens    int64 `json:"tokens"`
}

func (p PurgeStats) Total() int64 {
	return p.Tracks + p.Artists + p.Playlists + p.Tokens
}

// PurgeExpired deletes every row whose expires_at has passed and track records past their TTL.
func (s *Store) PurgeExpired(ctx context.Context) (PurgeStats, error) {
	var stats PurgeStats
	var err error

	if stats.Tracks, err = s.Tracks.PurgeExpired(ctx); err != nil {
		return stats, err
	}
	if stats.Artists, err = s.Artists.PurgeExpired(ctx); err != nil {
		return stats, err
	}
	if stats.Playlists, err = s.Playlists.PurgeExpired(ctx); err != nil {
		return stats, err
	}
	if stats.Tokens, err = s.Tokens.PurgeExpired(ctx); err != nil {
		return stats, err
	}
	return stats, nil
}

// execer is satisfied by both [*sql.DB] and [*sql.Tx].
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// rowScanner is satisfied by both [*sql.Row] and [*sql.Rows].
type rowScanner interface {
	Scan(dest ...any) error
}

// encodeJSON stores v in a TEXT column.
func encodeJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to encode column: %w", err)
	}
	return string(data), nil
}

func decodeJSON(s string, v any) error {
	if s == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(s), v); err != nil {
		return fmt.Errorf("failed to decode column: %w", err)
	}
	return nil
}

// placeholders returns "?, ?, ?" for n arguments.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?, ", n-1) + "?"
}

// isUniqueViolation reports whether err is a SQLite UNIQUE or PRIMARY KEY constraint failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique || sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}

// escapeLike escapes LIKE wildcards in s for use with ESCAPE '\'.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
