package testing

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/services"
	"github.com/desertthunder/genrelist/internal/shared"
)

// MockCatalog is an in-memory [services.Catalog]. It is safe for concurrent use.
//
// Configure it through the exported fields before use; read recorded calls through the accessor methods.
type MockCatalog struct {
	mu sync.Mutex

	User      *services.User
	UserErr   error
	Tracks    map[string]*models.Track
	TrackErrs map[string]error
	Artists   map[string]*services.Artist
	ArtistErr error
	Saved     []models.Track
	SavedErr  error
	Lists     map[string][]models.Track

	CreateErr   error
	FollowErr   error
	UnfollowErr error

	// AddErrs[n] is returned by the n-th AddTracks call when non-nil. Failed calls add nothing.
	AddErrs []error

	created    []services.Playlist
	added      map[string][][]string
	addCalls   int
	followed   []string
	unfollowed []string
	calls      map[string]int
}

// NewMockCatalog returns a catalog whose current user is "user-1".
func NewMockCatalog() *MockCatalog {
	return &MockCatalog{
		User:    &services.User{ID: "user-1", DisplayName: "Test User"},
		Tracks:  make(map[string]*models.Track),
		Artists: make(map[string]*services.Artist),
		Lists:   make(map[string][]models.Track),
	}
}

// AddTrack registers a track and its primary artist with genres.
func (m *MockCatalog) AddTrack(track models.Track, artistGenres ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Tracks[track.ID] = &track
	if track.ArtistID != "" {
		m.Artists[track.ArtistID] = &services.Artist{ID: track.ArtistID, Name: track.ArtistName, Genres: artistGenres}
	}
}

func (m *MockCatalog) record(name string) {
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[name]++
}

// Calls returns how many times method was invoked.
func (m *MockCatalog) Calls(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[method]
}

// Created returns the playlists created so far.
func (m *MockCatalog) Created() []services.Playlist {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]services.Playlist(nil), m.created...)
}

// Added returns the successful AddTracks batches for a playlist, in call order.
func (m *MockCatalog) Added(playlistID string) [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]string(nil), m.added[playlistID]...)
}

// Unfollowed returns the ids passed to UnfollowPlaylist.
func (m *MockCatalog) Unfollowed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.unfollowed...)
}

func (m *MockCatalog) CurrentUser(ctx context.Context) (*services.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CurrentUser")

	if m.UserErr != nil {
		return nil, m.UserErr
	}
	return m.User, nil
}

func (m *MockCatalog) Track(ctx context.Context, trackID string) (*models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Track")

	if err := m.TrackErrs[trackID]; err != nil {
		return nil, err
	}
	track, ok := m.Tracks[trackID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", shared.ErrTrackNotFound, trackID)
	}
	copied := *track
	return &copied, nil
}

func (m *MockCatalog) Artist(ctx context.Context, artistID string) (*services.Artist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("Artist")

	if m.ArtistErr != nil {
		return nil, m.ArtistErr
	}
	artist, ok := m.Artists[artistID]
	if !ok {
		return nil, fmt.Errorf("%w: artist %s", shared.ErrRecordNotFound, artistID)
	}
	return artist, nil
}

func (m *MockCatalog) SavedTracks(ctx context.Context, limit, offset int) (*services.TrackPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SavedTracks")

	if m.SavedErr != nil {
		return nil, m.SavedErr
	}
	return page(m.Saved, limit, offset), nil
}

func (m *MockCatalog) PlaylistTracks(ctx context.Context, playlistID string, limit, offset int) (*services.TrackPage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("PlaylistTracks")

	tracks, ok := m.Lists[playlistID]
	if !ok {
		return nil, &services.StatusError{Service: "mock", StatusCode: 404, Message: "playlist not found"}
	}
	return page(tracks, limit, offset), nil
}

func (m *MockCatalog) SearchTrack(ctx context.Context, query string) (*models.Track, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("SearchTrack")

	for _, track := range m.Tracks {
		if strings.Contains(strings.ToLower(query), strings.ToLower(track.Name)) {
			copied := *track
			return &copied, nil
		}
	}
	return nil, shared.ErrTrackNotFound
}

func (m *MockCatalog) CreatePlaylist(ctx context.Context, ownerID, name, description string) (*services.Playlist, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("CreatePlaylist")

	if m.CreateErr != nil {
		return nil, m.CreateErr
	}
	id := fmt.Sprintf("playlist-%d", len(m.created)+1)
	pl := services.Playlist{
		ID:          id,
		Name:        name,
		Description: description,
		ExternalURL: "https://open.spotify.com/playlist/" + id,
	}
	m.created = append(m.created, pl)
	return &pl, nil
}

func (m *MockCatalog) AddTracks(ctx context.Context, playlistID string, trackIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("AddTracks")

	n := m.addCalls
	m.addCalls++
	if n < len(m.AddErrs) && m.AddErrs[n] != nil {
		return m.AddErrs[n]
	}

	if m.added == nil {
		m.added = make(map[string][][]string)
	}
	m.added[playlistID] = append(m.added[playlistID], append([]string(nil), trackIDs...))
	return nil
}

func (m *MockCatalog) FollowPlaylist(ctx context.Context, playlistID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("FollowPlaylist")

	if m.FollowErr != nil {
		return m.FollowErr
	}
	m.followed = append(m.followed, playlistID)
	return nil
}

func (m *MockCatalog) UnfollowPlaylist(ctx context.Context, playlistID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("UnfollowPlaylist")

	if m.UnfollowErr != nil {
		return m.UnfollowErr
	}
	m.unfollowed = append(m.unfollowed, playlistID)
	return nil
}

func page(tracks []models.Track, limit, offset int) *services.TrackPage {
	total := len(tracks)
	if offset > total {
		offset = total
	}
	end := min(offset+limit, total)
	return &services.TrackPage{
		Tracks:  append([]models.Track(nil), tracks[offset:end]...),
		Total:   total,
		Offset:  offset,
		HasNext: end < total,
	}
}

// MockTagSource returns fixed tags keyed by "artist|track".
type MockTagSource struct {
	mu sync.Mutex

	Src     models.Source
	TagsFor map[string][]string
	Err     error

	calls int
}

func NewMockTagSource(src models.Source) *MockTagSource {
	return &MockTagSource{Src: src, TagsFor: make(map[string][]string)}
}

// Set registers tags for a track.
func (m *MockTagSource) Set(artist, track string, tags ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TagsFor[artist+"|"+track] = tags
}

func (m *MockTagSource) Source() models.Source { return m.Src }

func (m *MockTagSource) Tags(ctx context.Context, artist, track string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++

	if m.Err != nil {
		return nil, m.Err
	}
	return m.TagsFor[artist+"|"+track], nil
}

// Calls returns how many times Tags was invoked.
func (m *MockTagSource) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var (
	_ services.Catalog   = (*MockCatalog)(nil)
	_ services.TagSource = (*MockTagSource)(nil)
)
