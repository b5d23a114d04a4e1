// Package models defines the domain entities shared by the resolver, the playlist pipeline and the store.
//
// The package contains three categories of types:
//
// 1. Analysis inputs
//   - [Track] : catalog track with its primary artist
//   - [GenreSignal] : one source's ordered genre labels for a track
//
// 2. Cache entries, replaced or expired by natural key
//   - [TrackGenreRecord] : resolved genre for a track
//   - [ArtistGenreRecord] : catalog genres for an artist, valid until ExpiresAt
//   - [PlaylistRecord] : playlist created for (owner, name), with the members actually added
//
// 3. Durable records
//   - [AnalysisRecord] : immutable snapshot of tracks and their [GenreMap]
//   - [AuditRow] : append-only trail of mutations
//
// Result types ([GenreOutcome], [GenreBreakdown], [AnalysisSummary]) are what callers of the workflow receive.
package models
