// Package repositories implements SQLite persistence for genre analysis.
//
// A [Store] bundles every repository around one [*sql.DB] that the caller opens, migrates and closes.
//
// Key Implementations:
//   - [TrackCacheRepository] : resolved genre per track, bulk upserts in batches with one transaction each
//   - [ArtistGenreRepository] : catalog genres per artist, valid until expires_at
//   - [PlaylistRecordRepository] : playlists created per (owner, name) and their added members
//   - [AnalysisRepository] : immutable analysis snapshots, written together with their audit row
//   - [AuditRepository] : append-only audit trail
//   - [UserTrackRepository] : saved tracks, unique per (user, track)
//   - [AuthTokenRepository] : OAuth tokens kept for a limited time
//
// SQLite has no TTL index, so expiring tables carry an expires_at column that reads filter on and
// [Store.PurgeExpired] sweeps. List and map columns are stored as JSON text.
//
// Times are written in UTC so that the driver's text encoding sorts chronologically.
package repositories
