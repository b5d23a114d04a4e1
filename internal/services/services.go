// package services defines the external capabilities genre analysis consumes
//
// Spotify (catalog), Last.fm and MusicBrainz (tag sources)
package services

import (
	"context"

	"github.com/desertthunder/genrelist/internal/models"
	"golang.org/x/oauth2"
)

// Catalog is the music catalog tracks are read from and playlists are written to.
//
// Any method may return a [*RateLimitError] carrying the server's wait hint, or a [*StatusError].
type Catalog interface {
	// CurrentUser returns the authenticated user.
	CurrentUser(ctx context.Context) (*User, error)

	// Track retrieves a single track with its primary artist.
	Track(ctx context.Context, trackID string) (*models.Track, error)

	// Artist retrieves an artist and the catalog's genres for it.
	Artist(ctx context.Context, artistID string) (*Artist, error)

	// SavedTracks returns one page of the user's saved tracks.
	SavedTracks(ctx context.Context, limit, offset int) (*TrackPage, error)

	// PlaylistTracks returns one page of a playlist's tracks.
	PlaylistTracks(ctx context.Context, playlistID string, limit, offset int) (*TrackPage, error)

	// SearchTrack returns the best match for a free-text query.
	SearchTrack(ctx context.Context, query string) (*models.Track, error)

	// CreatePlaylist creates a private playlist owned by ownerID.
	CreatePlaylist(ctx context.Context, ownerID, name, description string) (*Playlist, error)

	// AddTracks appends up to 100 tracks to a playlist.
	AddTracks(ctx context.Context, playlistID string, trackIDs []string) error

	FollowPlaylist(ctx context.Context, playlistID string) error
	UnfollowPlaylist(ctx context.Context, playlistID string) error
}

// TagSource returns genre-like tags for a track matched by artist and track name, best first.
type TagSource interface {
	Source() models.Source
	Tags(ctx context.Context, artist, track string) ([]string, error)
}

// OAuthService is implemented by catalogs that authenticate through the authorization code flow.
type OAuthService interface {
	GetAuthURL(state string) string
	GetOAuthConfig() *oauth2.Config
	OAuthenticate(ctx context.Context, token *oauth2.Token) error
	Token() (*oauth2.Token, error)
}

// User is the authenticated catalog user.
type User struct {
	ID          string
	DisplayName string
}

// Artist is a catalog artist with its genres.
type Artist struct {
	ID     string
	Name   string
	Genres []string
}

// Playlist is a playlist created in the catalog.
type Playlist struct {
	ID          string
	Name        string
	Description string
	ExternalURL string
	TrackCount  int
	Public      bool
}

// TrackPage is one page of a paginated track listing.
type TrackPage struct {
	Tracks  []models.Track
	Total   int
	Offset  int
	HasNext bool
}
