package main

import (
	"context"

	"github.com/urfave/cli/v3"
)

// cacheCommand inspects and trims the local caches.
func cacheCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "cache",
		Usage: "Manage cached genres, playlists and tokens",
		Commands: []*cli.Command{
			{
				Name:   "stats",
				Usage:  "Show how many tracks have cached genres",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.CacheStats,
			},
			{
				Name:   "purge",
				Usage:  "Delete stale track genres and expired artist genres, playlist records and tokens",
				Flags:  []cli.Flag{jsonFlag()},
				Action: r.CachePurge,
			},
		},
	}
}

// CacheStats reports the size of the track genre cache.
func (r *Runner) CacheStats(ctx context.Context, cmd *cli.Command) error {
	store, err := r.openStore(ctx)
	if err != nil {
		return err
	}

	count, err := store.Tracks.Count(ctx)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(map[string]int{"tracks": count}, false)
	}
	return r.writePlain("Cached tracks: %d\n", count)
}

// CachePurge removes expired rows from every TTL cache.
func (r *Runner) CachePurge(ctx context.Context, cmd *cli.Command) error {
	store, err := r.openStore(ctx)
	if err != nil {
		return err
	}

	stats, err := store.PurgeExpired(ctx)
	if err != nil {
		return err
	}
	r.logger.Info("purged expired cache entries", "tracks", stats.Tracks, "artists", stats.Artists, "playlists", stats.Playlists, "tokens", stats.Tokens)

	if cmd.Bool("json") {
		return r.writeJSON(stats, false)
	}

	r.writePlain("✓ Purged %d expired entries\n", stats.Total())
	r.writePlain("  Tracks: %d\n", stats.Tracks)
	r.writePlain("  Artists: %d\n", stats.Artists)
	r.writePlain("  Playlists: %d\n", stats.Playlists)
	r.writePlain("  Tokens: %d\n", stats.Tokens)
	return nil
}
