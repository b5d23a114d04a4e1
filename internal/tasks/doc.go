// Package tasks resolves track genres and turns them into playlists, with real-time progress reporting.
//
// # Core Operations
//
// [Workflow] drives the whole process and answers questions about stored analyses:
//
//  1. [Workflow.Run] : analyze saved tracks, then optionally create playlists
//     - Initialization: database ping and current user
//     - Track loading: paged, paced and bounded by max_tracks
//     - Genre analysis: [Resolver] plus a stored analysis and audit row
//     - Playlist creation: [Pipeline], only when confirmed
//
//  2. [Workflow.CreatePlaylistsForAnalysis] : re-run creation for a stored analysis
//
//  3. [Workflow.Breakdown], [Workflow.Details], [Workflow.FilteredGenres], [Workflow.History]
//
//  4. [Workflow.Cleanup] : unfollow old generated playlists
//
// # Scoring
//
// Each source contributes its labels best first. A label at rank r scores weight * (1 - r/10), with
// weights 2.0 for the catalog, 1.5 for Last.fm and 1.2 for MusicBrainz. The highest total wins and ties go
// to the label seen first. See [Score] and [Primary].
//
// # Outbound calls
//
// Every external call runs through an [outbound.Guard] from [Guards]: the limiter key is acquired once,
// then the call is retried inside it. Adding tracks is the exception: rate-limit errors reach
// the batch loop in [Pipeline], which pauses for the server hint and resumes at the same batch.
//
// # Progress Reporting
//
// All operations use non-blocking channels for progress updates.
//
// The [ProgressUpdate] struct contains phase, step counters, messages, and optional data for advanced UI rendering.
// Updates use select with default to prevent blocking.
package tasks
