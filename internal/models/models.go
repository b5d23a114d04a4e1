package models

import (
	"sort"
	"time"
)

// Source identifies where a genre signal came from.
type Source int

const (
	SourceUnknown Source = iota
	SourceCatalog
	SourceLastFM
	SourceMusicBrainz
)

// Sources lists the genre sources in scoring order. Ties between labels go to the earlier source.
var Sources = []Source{SourceCatalog, SourceLastFM, SourceMusicBrainz}

func (s Source) String() string {
	switch s {
	case SourceCatalog:
		return "spotify"
	case SourceLastFM:
		return "lastfm"
	case SourceMusicBrainz:
		return "musicbrainz"
	default:
		return "unknown"
	}
}

// Weight is the multiplier applied to every label from this source.
func (s Source) Weight() float64 {
	switch s {
	case SourceCatalog:
		return 2.0
	case SourceLastFM:
		return 1.5
	case SourceMusicBrainz:
		return 1.2
	default:
		return 1.0
	}
}

// UnknownGenre is the primary genre recorded for tracks no source could label.
const UnknownGenre = "unknown"

// Track is a catalog track used as analysis input.
type Track struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	ArtistID   string `json:"artist_id"`
	ArtistName string `json:"artist"`
	PreviewURL string `json:"preview_url,omitempty"`
	AddedAt    string `json:"added_at,omitempty"`
}

// GenreSignal is one source's opinion of a track's genres, best first.
type GenreSignal struct {
	Source    Source
	Labels    []string
	FetchedAt time.Time
}

// GenreScore accumulates weighted scores per label. Order records first appearance.
type GenreScore struct {
	Scores map[string]float64
	Order  []string
}

// TrackGenreRecord is the cached result of resolving one track.
type TrackGenreRecord struct {
	TrackID      string              `json:"track_id"`
	Genres       []string            `json:"genres"`
	PrimaryGenre string              `json:"primary_genre"`
	Confidence   float64             `json:"confidence"`
	Sources      map[string][]string `json:"sources"`
	LastUpdated  time.Time           `json:"last_updated"`
}

// Classified reports whether the record carries a real genre.
func (r TrackGenreRecord) Classified() bool {
	return r.PrimaryGenre != "" && r.PrimaryGenre != UnknownGenre
}

// ArtistGenreRecord caches catalog genres for an artist.
type ArtistGenreRecord struct {
	ArtistID  string    `json:"artist_id"`
	Genres    []string  `json:"genres"`
	UpdatedAt time.Time `json:"updated_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ValidAt reports whether the record may still be used at now.
func (r ArtistGenreRecord) ValidAt(now time.Time) bool {
	return now.Before(r.ExpiresAt)
}

// GenreMap assigns each classified track id to exactly one genre.
type GenreMap map[string][]string

// Genres returns the labels in sorted order.
func (m GenreMap) Genres() []string {
	genres := make([]string, 0, len(m))
	for g := range m {
		genres = append(genres, g)
	}
	sort.Strings(genres)
	return genres
}

// TrackCount is the number of assigned tracks across all genres.
func (m GenreMap) TrackCount() int {
	n := 0
	for _, ids := range m {
		n += len(ids)
	}
	return n
}

// PlaylistRecord tracks a playlist created for (Owner, Name).
type PlaylistRecord struct {
	ID          string    `json:"id"`
	Owner       string    `json:"owner"`
	Name        string    `json:"name"`
	Genre       string    `json:"genre"`
	ExternalURL string    `json:"external_url"`
	Members     []string  `json:"members"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// AnalysisRecord is an immutable snapshot of an analysis run.
type AnalysisRecord struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Source    string    `json:"source"`
	Tracks    []Track   `json:"tracks"`
	Genres    GenreMap  `json:"genres"`
	CreatedAt time.Time `json:"created_at"`
}

// Audit actions.
const (
	AuditAnalysisCreated     = "analysis_created"
	AuditPlaylistTracksAdded = "playlist_tracks_added"
	AuditPlaylistRemoved     = "playlist_removed"
)

// AuditRow is an append-only record of a mutation.
type AuditRow struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	Owner      string    `json:"owner,omitempty"`
	Genre      string    `json:"genre,omitempty"`
	AnalysisID string    `json:"analysis_id,omitempty"`
	PlaylistID string    `json:"playlist_id,omitempty"`
	TrackIDs   []string  `json:"track_ids,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// UserTrack is a saved track remembered per user.
type UserTrack struct {
	UserID string `json:"user_id"`
	Track
	LastUpdated time.Time `json:"last_updated"`
}

// AuthToken is a stored OAuth token for a provider.
type AuthToken struct {
	ID           string    `json:"id"`
	Provider     string    `json:"provider"`
	AccessToken  string    `json:"-"`
	RefreshToken string    `json:"-"`
	TokenType    string    `json:"token_type"`
	Expiry       time.Time `json:"expiry"`
	CreatedAt    time.Time `json:"created_at"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// GenreOutcome is the per-genre result of playlist creation. Error is set on failure.
type GenreOutcome struct {
	PlaylistID  string `json:"playlist_id,omitempty"`
	TrackCount  int    `json:"track_count"`
	ExternalURL string `json:"external_reference,omitempty"`
	Reused      bool   `json:"reused,omitempty"`
	Error       string `json:"error,omitempty"`
}

// Failed reports whether this genre failed.
func (o GenreOutcome) Failed() bool { return o.Error != "" }

// CreationStats summarizes a set of outcomes.
type CreationStats struct {
	TotalPlaylists int `json:"total_playlists"`
	TotalTracks    int `json:"total_tracks"`
	Failed         int `json:"failed"`
}

// Stats counts playlists and added tracks across successful outcomes.
func Stats(outcomes map[string]GenreOutcome) CreationStats {
	var s CreationStats
	for _, o := range outcomes {
		if o.Failed() {
			s.Failed++
			continue
		}
		s.TotalPlaylists++
		s.TotalTracks += o.TrackCount
	}
	return s
}

// GenreBreakdown is a genre's share of an analysis.
type GenreBreakdown struct {
	Count      int     `json:"count"`
	Percentage float64 `json:"percentage"`
}

// TrackDetail joins a track id with what is known about it.
type TrackDetail struct {
	ID         string  `json:"id"`
	Name       string  `json:"name"`
	Artist     string  `json:"artist"`
	PreviewURL string  `json:"preview_url,omitempty"`
	Confidence float64 `json:"confidence"`
}

// AnalysisSummary is a history entry.
type AnalysisSummary struct {
	AnalysisID string    `json:"analysis_id"`
	Source     string    `json:"source"`
	CreatedAt  time.Time `json:"created_at"`
	TrackCount int       `json:"track_count"`
	GenreCount int       `json:"genre_count"`
}
