package shared

import (
	_ "embed"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

//go:embed config.example.toml
var exampleConf []byte

// Config represents the application configuration loaded from a TOML file.
type Config struct {
	Credentials CredentialsConfig `toml:"credentials"`
	Database    DatabaseConfig    `toml:"database"`
	Server      ServerConfig      `toml:"server"`
	Resolver    ResolverConfig    `toml:"resolver"`
	Pipeline    PipelineConfig    `toml:"pipeline"`
	Workflow    WorkflowConfig    `toml:"workflow"`
	Cache       CacheConfig       `toml:"cache"`
	Retry       RetryConfig       `toml:"retry"`
	Limits      LimitsConfig      `toml:"limits"`
}

// CredentialsConfig contains service-specific credentials.
type CredentialsConfig struct {
	Spotify     SpotifyConfig     `toml:"spotify"`
	LastFM      LastFMConfig      `toml:"lastfm"`
	MusicBrainz MusicBrainzConfig `toml:"musicbrainz"`
}

// SpotifyConfig contains Spotify API credentials.
type SpotifyConfig struct {
	ClientID     string `toml:"client_id"`
	ClientSecret string `toml:"client_secret"`
	RedirectURI  string `toml:"redirect_uri"`
}

// Map returns the credentials in the shape expected by services.NewSpotifyService.
func (c SpotifyConfig) Map() map[string]string {
	return map[string]string{
		"client_id":     c.ClientID,
		"client_secret": c.ClientSecret,
		"redirect_uri":  c.RedirectURI,
	}
}

// LastFMConfig contains the Last.fm API key used for track tags.
type LastFMConfig struct {
	APIKey  string `toml:"api_key"`
	BaseURL string `toml:"base_url"`
}

// MusicBrainzConfig identifies this client to MusicBrainz, which rejects anonymous agents.
type MusicBrainzConfig struct {
	UserAgent string `toml:"user_agent"`
	BaseURL   string `toml:"base_url"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Path         string `toml:"path"`
	MaxOpenConns int    `toml:"max_open_conns"`
	MaxIdleConns int    `toml:"max_idle_conns"`
}

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// ResolverConfig tunes genre resolution.
type ResolverConfig struct {
	Workers       int      `toml:"workers"`
	SourceTimeout Duration `toml:"source_timeout"`
	ArtistTTL     Duration `toml:"artist_ttl"`
}

// PipelineConfig tunes playlist creation.
type PipelineConfig struct {
	BatchSize          int      `toml:"batch_size"`
	BatchPause         Duration `toml:"batch_pause"`
	PlaylistTTL        Duration `toml:"playlist_ttl"`
	PlaylistPrefix     string   `toml:"playlist_prefix"`
	DefaultRetryAfter  Duration `toml:"default_retry_after"`
	MaxRateLimitPauses int      `toml:"max_rate_limit_pauses"`
	CleanupPause       Duration `toml:"cleanup_pause"`
}

// WorkflowConfig tunes track loading.
type WorkflowConfig struct {
	MaxTracks        int      `toml:"max_tracks"`
	PageSize         int      `toml:"page_size"`
	PageDelay        Duration `toml:"page_delay"`
	EmptyPageRetries int      `toml:"empty_page_retries"`
}

// CacheConfig contains storage batch sizes and TTLs not owned by a single component.
type CacheConfig struct {
	TrackBatchSize int      `toml:"track_batch_size"`
	TrackTTL       Duration `toml:"track_ttl"`
	AuthTokenTTL   Duration `toml:"auth_token_ttl"`
}

// RetryConfig configures exponential backoff for outbound calls.
type RetryConfig struct {
	MinWait     Duration `toml:"min_wait"`
	MaxWait     Duration `toml:"max_wait"`
	MaxAttempts int      `toml:"max_attempts"`
}

// LimitConfig is a sliding-window budget of Calls per Period.
type LimitConfig struct {
	Calls  int      `toml:"calls"`
	Period Duration `toml:"period"`
}

// LimitsConfig holds one budget per outbound call site.
type LimitsConfig struct {
	Catalog      LimitConfig `toml:"catalog"`
	LastFM       LimitConfig `toml:"lastfm"`
	MusicBrainz  LimitConfig `toml:"musicbrainz"`
	TrackLoading LimitConfig `toml:"track_loading"`
	Pipeline     LimitConfig `toml:"pipeline"`
	Create       LimitConfig `toml:"create"`
}

// Duration is a [time.Duration] written as a string ("1.2s", "720h") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("%w: duration %q: %v", ErrInvalidConfig, text, err)
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// LoadConfig reads and parses a TOML configuration file from the specified path.
//
// Settings missing from the file keep their embedded defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if _, err := toml.Decode(string(data), config); err != nil {
		return nil, fmt.Errorf("%w: failed to parse config: %v", ErrInvalidConfig, err)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

// DefaultConfig returns a Config with sensible defaults loaded from the embedded example config.
func DefaultConfig() *Config {
	var config Config
	if err := toml.Unmarshal(exampleConf, &config); err != nil {
		panic(fmt.Sprintf("failed to parse embedded default config: %v", err))
	}
	return &config
}

// Validate rejects settings that would stall or disable a component.
func (c *Config) Validate() error {
	switch {
	case c.Resolver.Workers <= 0:
		return fmt.Errorf("%w: resolver.workers must be positive", ErrInvalidConfig)
	case c.Pipeline.BatchSize <= 0 || c.Pipeline.BatchSize > 100:
		return fmt.Errorf("%w: pipeline.batch_size must be between 1 and 100", ErrInvalidConfig)
	case c.Cache.TrackBatchSize <= 0:
		return fmt.Errorf("%w: cache.track_batch_size must be positive", ErrInvalidConfig)
	case c.Cache.TrackTTL.Duration <= 0:
		return fmt.Errorf("%w: cache.track_ttl must be positive", ErrInvalidConfig)
	case c.Workflow.MaxTracks <= 0:
		return fmt.Errorf("%w: workflow.max_tracks must be positive", ErrInvalidConfig)
	case c.Retry.MaxAttempts <= 0:
		return fmt.Errorf("%w: retry.max_attempts must be positive", ErrInvalidConfig)
	}

	for name, l := range map[string]LimitConfig{
		"catalog":       c.Limits.Catalog,
		"lastfm":        c.Limits.LastFM,
		"musicbrainz":   c.Limits.MusicBrainz,
		"track_loading": c.Limits.TrackLoading,
		"pipeline":      c.Limits.Pipeline,
		"create":        c.Limits.Create,
	} {
		if l.Calls <= 0 || l.Period.Duration <= 0 {
			return fmt.Errorf("%w: limits.%s needs positive calls and period", ErrInvalidConfig, name)
		}
	}
	return nil
}

// CreateConfigFile creates a config.toml file at the specified path using the embedded example config.
func CreateConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}

	if err := os.WriteFile(path, exampleConf, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
