package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/shared"
)

const (
	musicBrainzBaseURL = "https://musicbrainz.org/ws/2"
	musicBrainzMaxTags = 3
	defaultUserAgent   = "genrelist/0.1 (https://github.com/desertthunder/genrelist)"
)

// MusicBrainzClient reads recording tags from the MusicBrainz search API.
type MusicBrainzClient struct {
	userAgent  string
	baseURL    string
	httpClient *http.Client
}

// NewMusicBrainzClient creates a client. A nil client uses [http.DefaultClient].
func NewMusicBrainzClient(cfg shared.MusicBrainzConfig, client *http.Client) *MusicBrainzClient {
	if client == nil {
		client = http.DefaultClient
	}
	c := &MusicBrainzClient{userAgent: cfg.UserAgent, baseURL: cfg.BaseURL, httpClient: client}
	if c.userAgent == "" {
		c.userAgent = defaultUserAgent
	}
	if c.baseURL == "" {
		c.baseURL = musicBrainzBaseURL
	}
	c.baseURL = strings.TrimSuffix(c.baseURL, "/")
	return c
}

func (c *MusicBrainzClient) Source() models.Source { return models.SourceMusicBrainz }

type musicBrainzSearch struct {
	Recordings []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Tags  []struct {
			Count int    `json:"count"`
			Name  string `json:"name"`
		} `json:"tags"`
	} `json:"recordings"`
}

// Tags returns up to three lower-cased tags of the best matching recording.
func (c *MusicBrainzClient) Tags(ctx context.Context, artist, track string) ([]string, error) {
	if artist == "" || track == "" {
		return nil, fmt.Errorf("%w: artist and track are required", shared.ErrInvalidInput)
	}

	params := url.Values{
		"query": {buildRecordingQuery(artist, track)},
		"limit": {"1"},
		"fmt":   {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/recording/?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	// MusicBrainz throttles with 503 rather than 429.
	if resp.StatusCode == http.StatusServiceUnavailable {
		return nil, &RateLimitError{Service: "musicbrainz", Wait: parseRetryAfterNow(resp.Header.Get("Retry-After"))}
	}
	if err := checkResponse("musicbrainz", resp); err != nil {
		return nil, err
	}

	var search musicBrainzSearch
	if err := json.NewDecoder(resp.Body).Decode(&search); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(search.Recordings) == 0 {
		return []string{}, nil
	}

	tags := search.Recordings[0].Tags
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	return topTags(names, musicBrainzMaxTags), nil
}

// buildRecordingQuery builds a Lucene query, escaping quotes inside the phrases.
func buildRecordingQuery(artist, track string) string {
	escape := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace
	return fmt.Sprintf(`artist:"%s" AND recording:"%s"`, escape(artist), escape(track))
}
