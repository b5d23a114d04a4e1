package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/shared"
	"github.com/desertthunder/genrelist/internal/tasks"
	"github.com/urfave/cli/v3"
)

// playlistsCommand manages generated genre playlists.
func playlistsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:    "playlists",
		Aliases: []string{"pl"},
		Usage:   "Create and clean up genre playlists",
		Commands: []*cli.Command{
			{
				Name:  "create",
				Usage: "Create playlists for a stored analysis",
				Arguments: analysisArg(),
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "confirm",
						Usage: "Create the playlists instead of listing them",
					},
					&cli.StringSliceFlag{
						Name:    "genre",
						Aliases: []string{"g"},
						Usage:   "Only create playlists for these genres",
					},
					&cli.StringSliceFlag{
						Name:    "exclude",
						Aliases: []string{"x"},
						Usage:   "Track ids to leave out",
					},
					jsonFlag(),
					&cli.BoolFlag{
						Name:    "quiet",
						Aliases: []string{"q"},
						Usage:   "Hide progress bars",
					},
				},
				Action: r.PlaylistsCreate,
			},
			{
				Name:  "list",
				Usage: "List generated playlists",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "user",
						Usage: "Owner id (defaults to the logged in user)",
					},
					jsonFlag(),
				},
				Action: r.PlaylistsList,
			},
			{
				Name:  "cleanup",
				Usage: "Unfollow generated playlists older than a cutoff",
				Flags: []cli.Flag{
					&cli.DurationFlag{
						Name:  "older-than",
						Usage: "Age of playlists to remove (0 uses pipeline.playlist_ttl)",
					},
					&cli.BoolFlag{
						Name:  "confirm",
						Usage: "Remove the playlists",
					},
				},
				Action: r.PlaylistsCleanup,
			},
		},
	}
}

// PlaylistsCreate creates playlists for a stored analysis. Without --confirm it prints the plan.
func (r *Runner) PlaylistsCreate(ctx context.Context, cmd *cli.Command) error {
	analysisID, err := requireArg(cmd, "analysis-id")
	if err != nil {
		return err
	}

	wf, err := r.ready(ctx, false)
	if err != nil {
		return err
	}

	analysis, err := wf.Analysis(ctx, analysisID)
	if err != nil {
		return err
	}

	selected, err := selectGenres(analysis.Genres, cmd.StringSlice("genre"))
	if err != nil {
		return err
	}
	excluded := cmd.StringSlice("exclude")

	if !cmd.Bool("confirm") {
		plan, err := wf.FilteredGenres(ctx, analysisID, excluded)
		if err != nil {
			return err
		}
		if len(selected) > 0 {
			plan = intersect(plan, selected)
		}
		r.writePlainHeader(fmt.Sprintf("Playlists for analysis %s", analysisID))
		for _, genre := range plan.Genres() {
			r.writePlain("%s (%d tracks)\n", wf.Pipeline().PlaylistName(genre), len(plan[genre]))
		}
		r.writePlain("\n")
		return fmt.Errorf("%w: %d playlists not created", shared.ErrConfirmationRequired, len(plan))
	}

	if wf, err = r.ready(ctx, true); err != nil {
		return err
	}

	useJSON := cmd.Bool("json")
	progress := r.startProgress(useJSON || cmd.Bool("quiet"))
	result, err := wf.CreatePlaylistsForAnalysis(ctx, analysisID, true, tasks.CreateOptions{
		Selected: selected,
		Excluded: excluded,
		Progress: progress.Updates(),
	})
	progress.Stop()
	if err != nil {
		return err
	}

	if useJSON {
		return r.writeJSON(result, true)
	}
	r.printOutcomes(result.Outcomes)
	return nil
}

// PlaylistsList prints the stored playlist records for a user.
func (r *Runner) PlaylistsList(ctx context.Context, cmd *cli.Command) error {
	store, err := r.openStore(ctx)
	if err != nil {
		return err
	}

	owner, err := r.userID(ctx, cmd)
	if err != nil {
		return err
	}

	records, err := store.Playlists.ListByOwner(ctx, owner)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(records, true)
	}

	if len(records) == 0 {
		return r.writePlain("No playlists for %s\n", owner)
	}

	r.writePlain("Found %d playlists:\n\n", len(records))
	for i, p := range records {
		r.writePlain("%d. %s\n", i+1, p.Name)
		r.writePlain("   ID: %s\n", p.ID)
		r.writePlain("   Genre: %s\n", p.Genre)
		r.writePlain("   Tracks: %d\n", len(p.Members))
		r.writePlain("   Created: %s\n", p.CreatedAt.Local().Format(time.DateTime))
		if p.ExternalURL != "" {
			r.writePlain("   URL: %s\n", p.ExternalURL)
		}
		r.writePlain("\n")
	}
	return nil
}

// PlaylistsCleanup unfollows stale generated playlists. Without --confirm it lists them.
func (r *Runner) PlaylistsCleanup(ctx context.Context, cmd *cli.Command) error {
	wf, err := r.ready(ctx, true)
	if err != nil {
		return err
	}

	olderThan := cmd.Duration("older-than")
	if olderThan <= 0 {
		olderThan = r.config.Pipeline.PlaylistTTL.Duration
	}

	if !cmd.Bool("confirm") {
		owner, err := r.userID(ctx, cmd)
		if err != nil {
			return err
		}
		stale, err := r.store.Playlists.ListStale(ctx, owner, r.config.Pipeline.PlaylistPrefix, time.Now().Add(-olderThan))
		if err != nil {
			return err
		}
		for _, p := range stale {
			r.writePlain("%s  %s  created %s\n", p.ID, p.Name, p.CreatedAt.Local().Format(time.DateOnly))
		}
		return fmt.Errorf("%w: %d playlists older than %s not removed", shared.ErrConfirmationRequired, len(stale), olderThan)
	}

	progress := r.startProgress(false)
	result, err := wf.Cleanup(ctx, olderThan, progress.Updates())
	progress.Stop()
	if err != nil {
		return err
	}

	return r.writePlain("✓ Removed %d playlists (%d failed)\n", result.Removed, result.Failed)
}

// selectGenres picks the named genres from genres. Names match case-insensitively.
func selectGenres(genres models.GenreMap, names []string) (models.GenreMap, error) {
	if len(names) == 0 {
		return nil, nil
	}

	selected := make(models.GenreMap, len(names))
	for _, name := range names {
		genre := strings.ToLower(strings.TrimSpace(name))
		ids, ok := genres[genre]
		if !ok {
			return nil, fmt.Errorf("%w: genre %q is not in the analysis", shared.ErrInvalidArgument, name)
		}
		selected[genre] = ids
	}
	return selected, nil
}

// intersect keeps the genres of plan that are also in keep.
func intersect(plan, keep models.GenreMap) models.GenreMap {
	out := make(models.GenreMap, len(keep))
	for genre := range keep {
		if ids, ok := plan[genre]; ok {
			out[genre] = ids
		}
	}
	return out
}
