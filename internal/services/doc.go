// Package services defines the external capabilities used by genre analysis and implements them for
// Spotify, Last.fm and MusicBrainz.
//
// # Catalog
//
// [Catalog] is the music catalog: track and artist lookups, paginated saved and playlist tracks, and the
// playlist mutations used by the creation pipeline. [SpotifyService] implements it on the Spotify Web API
// and also implements [OAuthService] for the authorization code flow.
//
// The [oauth2.Client] refreshes expired tokens with the refresh token. A callback registered with
// [SpotifyService.SetTokenRefreshCallback] sees every new token so it can be stored.
//
// # Tag Sources
//
// [TagSource] returns genre-like tags for a track matched by artist and track name:
//   - [LastFMClient]: track.getInfo, top five tags
//   - [MusicBrainzClient]: recording search limited to one result, top three tags
//
// Tags are lower-cased and ordered best first.
//
// # Error Handling
//
// Non-2xx responses become typed errors:
//   - [*RateLimitError] : 429 (or a MusicBrainz 503) with the Retry-After hint, matches [shared.ErrRateLimited]
//   - [*StatusError] : any other status; retryable for 408 and 5xx
//
// A 401 matches [shared.ErrTokenExpired] and a 404 matches [shared.ErrRecordNotFound].
// Both error types expose Retryable, which the retry executor uses to decide whether to try again.
package services
