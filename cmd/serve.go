package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/genrelist/internal/repositories"
	"github.com/desertthunder/genrelist/internal/server"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

// serveCommand runs the read API.
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve stored analyses over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Listen host (defaults to server.host)",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Listen port (defaults to server.port)",
			},
			&cli.DurationFlag{
				Name:  "purge-interval",
				Usage: "How often to delete expired cache rows (0 disables)",
				Value: time.Hour,
			},
		},
		Action: r.Serve,
	}
}

// Serve runs the API until interrupted, purging expired cache rows in the background.
func (r *Runner) Serve(ctx context.Context, cmd *cli.Command) error {
	wf, err := r.ready(ctx, false)
	if err != nil {
		return err
	}

	host, port := r.config.Server.Host, r.config.Server.Port
	if cmd.IsSet("host") {
		host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		port = cmd.Int("port")
	}
	addr := fmt.Sprintf("%s:%d", host, port)

	router := server.NewBasicRouter()
	router.Use(server.Recover(r.logger), server.Logging(r.logger))
	router.Handler(server.NewAPIHandler(wf, r.store, r.logger))

	srv := server.NewServer(addr, router, r.logger)
	r.logger.Info("serving API", "addr", srv.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(ctx) })
	if interval := cmd.Duration("purge-interval"); interval > 0 {
		g.Go(func() error {
			r.purgeEvery(ctx, r.store, interval)
			return nil
		})
	}
	return g.Wait()
}

// purgeEvery deletes expired cache rows every interval until ctx is done.
func (r *Runner) purgeEvery(ctx context.Context, store *repositories.Store, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := store.PurgeExpired(ctx)
			if err != nil {
				r.logger.Warn("cache purge failed", "error", err)
				continue
			}
			if stats.Total() > 0 {
				r.logger.Info("purged expired cache entries", "tracks", stats.Tracks, "artists", stats.Artists, "playlists", stats.Playlists, "tokens", stats.Tokens)
			}
		}
	}
}
