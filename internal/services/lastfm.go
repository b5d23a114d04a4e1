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
	lastFMBaseURL = "http://ws.audioscrobbler.com/2.0/"
	lastFMMaxTags = 5

	// Last.fm reports failures in the body, sometimes with a 200 status.
	lastFMErrTrackNotFound = 6
	lastFMErrRateLimited   = 29
)

// LastFMClient reads track tags from Last.fm's track.getInfo.
type LastFMClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

// NewLastFMClient creates a client. A nil client uses [http.DefaultClient].
func NewLastFMClient(cfg shared.LastFMConfig, client *http.Client) *LastFMClient {
	if client == nil {
		client = http.DefaultClient
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = lastFMBaseURL
	}
	return &LastFMClient{apiKey: cfg.APIKey, baseURL: baseURL, httpClient: client}
}

func (c *LastFMClient) Source() models.Source { return models.SourceLastFM }

// lastFMTags decodes "tag" as either an array or, as Last.fm sends for a single tag, a bare object.
type lastFMTags []struct {
	Name string `json:"name"`
}

func (t *lastFMTags) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '{' {
		var one struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*t = lastFMTags{one}
		return nil
	}
	type plain lastFMTags
	return json.Unmarshal(data, (*plain)(t))
}

type lastFMTrackInfo struct {
	Track *struct {
		TopTags struct {
			Tag lastFMTags `json:"tag"`
		} `json:"toptags"`
	} `json:"track"`
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// Tags returns up to five lower-cased tags for the track, best first.
func (c *LastFMClient) Tags(ctx context.Context, artist, track string) ([]string, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("%w: lastfm api_key", shared.ErrMissingCredentials)
	}
	if artist == "" || track == "" {
		return nil, fmt.Errorf("%w: artist and track are required", shared.ErrInvalidInput)
	}

	params := url.Values{
		"method":      {"track.getInfo"},
		"api_key":     {c.apiKey},
		"artist":      {artist},
		"track":       {track},
		"autocorrect": {"1"},
		"format":      {"json"},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAPIRequest, err)
	}
	defer resp.Body.Close()

	if err := checkResponse("lastfm", resp); err != nil {
		return nil, err
	}

	var info lastFMTrackInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	switch info.Error {
	case 0:
	case lastFMErrTrackNotFound:
		return []string{}, nil
	case lastFMErrRateLimited:
		return nil, &RateLimitError{Service: "lastfm"}
	default:
		return nil, &StatusError{Service: "lastfm", StatusCode: resp.StatusCode, Message: info.Message}
	}

	if info.Track == nil {
		return []string{}, nil
	}
	return topTags(namesOf(info.Track.TopTags.Tag), lastFMMaxTags), nil
}

func namesOf(tags lastFMTags) []string {
	names := make([]string, len(tags))
	for i, t := range tags {
		names[i] = t.Name
	}
	return names
}

// topTags lower-cases names, drops blanks and keeps the first n.
func topTags(names []string, n int) []string {
	tags := make([]string, 0, min(len(names), n))
	for _, name := range names {
		if len(tags) == n {
			break
		}
		name = strings.ToLower(strings.TrimSpace(name))
		if name == "" {
			continue
		}
		tags = append(tags, name)
	}
	return tags
}
