package shared

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestConfig(t *testing.T) {
	t.Run("DefaultConfig", func(t *testing.T) {
		config := DefaultConfig()

		if config.Database.Path != "./genrelist.db" {
			t.Errorf("expected database path ./genrelist.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 3000 {
			t.Errorf("expected server port 3000, got %d", config.Server.Port)
		}

		if config.Credentials.Spotify.ClientID != "your_spotify_client_id" {
			t.Errorf("expected spotify client_id your_spotify_client_id, got %s", config.Credentials.Spotify.ClientID)
		}

		if err := config.Validate(); err != nil {
			t.Errorf("embedded defaults should validate: %v", err)
		}
	})

	t.Run("Defaults", func(t *testing.T) {
		config := DefaultConfig()

		tc := []struct {
			name string
			got  any
			want any
		}{
			{"resolver.workers", config.Resolver.Workers, 5},
			{"resolver.artist_ttl", config.Resolver.ArtistTTL.Duration, 30 * 24 * time.Hour},
			{"pipeline.batch_size", config.Pipeline.BatchSize, 90},
			{"pipeline.batch_pause", config.Pipeline.BatchPause.Duration, 1200 * time.Millisecond},
			{"pipeline.playlist_ttl", config.Pipeline.PlaylistTTL.Duration, 30 * 24 * time.Hour},
			{"cache.track_batch_size", config.Cache.TrackBatchSize, 500},
			{"cache.track_ttl", config.Cache.TrackTTL.Duration, 30 * 24 * time.Hour},
			{"cache.auth_token_ttl", config.Cache.AuthTokenTTL.Duration, 7 * 24 * time.Hour},
			{"workflow.max_tracks", config.Workflow.MaxTracks, 5000},
			{"retry.min_wait", config.Retry.MinWait.Duration, 2 * time.Second},
			{"retry.max_wait", config.Retry.MaxWait.Duration, 30 * time.Second},
			{"retry.max_attempts", config.Retry.MaxAttempts, 5},
			{"limits.pipeline.calls", config.Limits.Pipeline.Calls, 1},
			{"limits.pipeline.period", config.Limits.Pipeline.Period.Duration, 3 * time.Second},
			{"limits.create.calls", config.Limits.Create.Calls, 2},
			{"limits.create.period", config.Limits.Create.Period.Duration, 5 * time.Second},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				if tt.got != tt.want {
					t.Errorf("got %v, want %v", tt.got, tt.want)
				}
			})
		}
	})

	t.Run("CreateConfigFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		if err := CreateConfigFile(configPath); err != nil {
			t.Fatalf("failed to create config file: %v", err)
		}

		if _, err := os.Stat(configPath); err != nil {
			t.Fatalf("config file should exist: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load created config: %v", err)
		}

		defaultConfig := DefaultConfig()
		if config.Database.Path != defaultConfig.Database.Path {
			t.Errorf("created config database path doesn't match default")
		}

		if err := CreateConfigFile(configPath); err == nil {
			t.Error("creating config file again should fail")
		}
	})

	t.Run("LoadConfig", func(t *testing.T) {
		tmpDir := t.TempDir()
		configPath := filepath.Join(tmpDir, "config.toml")

		testConfig := `[database]
path = "/custom/path.db"

[server]
host = "0.0.0.0"
port = 8080

[credentials.spotify]
client_id = "test_client_id"
client_secret = "test_secret"

[pipeline]
batch_pause = "2s"

[limits.lastfm]
calls = 1
period = "1m"
`
		if err := os.WriteFile(configPath, []byte(testConfig), 0644); err != nil {
			t.Fatalf("failed to write test config: %v", err)
		}

		config, err := LoadConfig(configPath)
		if err != nil {
			t.Fatalf("failed to load config: %v", err)
		}

		if config.Database.Path != "/custom/path.db" {
			t.Errorf("expected database path /custom/path.db, got %s", config.Database.Path)
		}

		if config.Server.Port != 8080 {
			t.Errorf("expected server port 8080, got %d", config.Server.Port)
		}

		if config.Pipeline.BatchPause.Duration != 2*time.Second {
			t.Errorf("expected batch pause 2s, got %v", config.Pipeline.BatchPause)
		}

		if config.Limits.LastFM.Period.Duration != time.Minute {
			t.Errorf("expected lastfm period 1m, got %v", config.Limits.LastFM.Period)
		}

		if config.Pipeline.BatchSize != 90 {
			t.Errorf("unset settings should keep defaults, got batch size %d", config.Pipeline.BatchSize)
		}
	})

	t.Run("Invalid", func(t *testing.T) {
		tc := []struct {
			name string
			body string
		}{
			{"bad duration", "[pipeline]\nbatch_pause = \"soon\"\n"},
			{"zero workers", "[resolver]\nworkers = 0\n"},
			{"oversized batch", "[pipeline]\nbatch_size = 150\n"},
			{"empty limit", "[limits.create]\ncalls = 0\n"},
		}

		for _, tt := range tc {
			t.Run(tt.name, func(t *testing.T) {
				path := filepath.Join(t.TempDir(), "config.toml")
				if err := os.WriteFile(path, []byte(tt.body), 0644); err != nil {
					t.Fatalf("failed to write config: %v", err)
				}

				_, err := LoadConfig(path)
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, ErrInvalidConfig) {
					t.Errorf("expected ErrInvalidConfig, got %v", err)
				}
			})
		}
	})
}
