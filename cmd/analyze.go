package main

import (
	"context"
	"fmt"

	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/tasks"
	"github.com/urfave/cli/v3"
)

func analyzeFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:  "max-tracks",
			Usage: "Maximum number of tracks to load (0 uses workflow.max_tracks)",
		},
		&cli.BoolFlag{
			Name:  "confirm",
			Usage: "Create genre playlists after the analysis",
		},
		&cli.BoolFlag{
			Name:  "force-refresh",
			Usage: "Ignore cached track genres",
		},
		jsonFlag(),
		&cli.BoolFlag{
			Name:    "quiet",
			Aliases: []string{"q"},
			Usage:   "Hide progress bars",
		},
	}
}

// analyzeCommand resolves genres for saved tracks or a playlist.
func analyzeCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "analyze",
		Usage: "Resolve the genres of a set of tracks",
		Commands: []*cli.Command{
			{
				Name:   "liked",
				Usage:  "Analyze your saved tracks",
				Flags:  analyzeFlags(),
				Action: r.AnalyzeLiked,
			},
			{
				Name:  "playlist",
				Usage: "Analyze the tracks of a playlist",
				Arguments: []cli.Argument{
					&cli.StringArg{
						Name: "id",
					},
				},
				Flags:  analyzeFlags(),
				Action: r.AnalyzePlaylist,
			},
		},
	}
}

// AnalyzeLiked runs the full workflow over the user's saved tracks.
func (r *Runner) AnalyzeLiked(ctx context.Context, cmd *cli.Command) error {
	wf, err := r.ready(ctx, true)
	if err != nil {
		return err
	}

	useJSON := cmd.Bool("json")
	progress := r.startProgress(useJSON || cmd.Bool("quiet"))
	result, err := wf.Run(ctx, tasks.RunOptions{
		MaxTracks:    cmd.Int("max-tracks"),
		Confirm:      cmd.Bool("confirm"),
		ForceRefresh: cmd.Bool("force-refresh"),
		Progress:     progress.Updates(),
	})
	progress.Stop()

	if useJSON {
		if werr := r.writeJSON(result, true); werr != nil {
			return werr
		}
		return err
	}
	if err != nil {
		return err
	}

	r.writePlainHeader(fmt.Sprintf("Analysis %s", result.AnalysisID))
	r.writePlain("Tracks: %d  Genres: %d  Time: %.2fs\n\n", result.Stats.TotalTracks, result.Stats.UniqueGenres, result.ExecutionTime)
	if err := r.showBreakdown(ctx, wf, result.AnalysisID); err != nil {
		return err
	}

	if result.Outcomes != nil {
		r.writePlain("\n")
		r.printOutcomes(result.Outcomes)
		return nil
	}
	return r.writePlainln("Run 'genrelist playlists create %s --confirm' to create the playlists", result.AnalysisID)
}

// AnalyzePlaylist analyzes one playlist and optionally creates genre playlists from it.
func (r *Runner) AnalyzePlaylist(ctx context.Context, cmd *cli.Command) error {
	playlistID, err := requireArg(cmd, "id")
	if err != nil {
		return err
	}

	wf, err := r.ready(ctx, true)
	if err != nil {
		return err
	}

	useJSON := cmd.Bool("json")
	progress := r.startProgress(useJSON || cmd.Bool("quiet"))
	defer progress.Stop()

	analysis, err := wf.AnalyzePlaylist(ctx, playlistID, tasks.AnalyzeOptions{
		MaxTracks:    cmd.Int("max-tracks"),
		ForceRefresh: cmd.Bool("force-refresh"),
		Progress:     progress.Updates(),
	})
	if err != nil {
		return err
	}

	var creation *tasks.CreationResult
	if cmd.Bool("confirm") {
		creation, err = wf.CreatePlaylistsForAnalysis(ctx, analysis.ID, true, tasks.CreateOptions{Progress: progress.Updates()})
		if err != nil {
			return err
		}
	}
	progress.Stop()

	if useJSON {
		return r.writeJSON(struct {
			Analysis *models.AnalysisRecord `json:"analysis"`
			Creation *tasks.CreationResult  `json:"creation,omitempty"`
		}{analysis, creation}, true)
	}

	r.writePlainHeader(fmt.Sprintf("Analysis %s", analysis.ID))
	r.writePlain("Source: %s  Tracks: %d  Genres: %d\n\n", analysis.Source, len(analysis.Tracks), len(analysis.Genres))
	r.printBreakdown(tasks.Breakdown(analysis.Genres), summaryGenres)

	if creation != nil {
		r.writePlain("\n")
		r.printOutcomes(creation.Outcomes)
		return nil
	}
	return r.writePlainln("Run 'genrelist playlists create %s --confirm' to create the playlists", analysis.ID)
}

func (r *Runner) showBreakdown(ctx context.Context, wf *tasks.Workflow, analysisID string) error {
	breakdown, err := wf.Breakdown(ctx, analysisID)
	if err != nil {
		return err
	}
	r.printBreakdown(breakdown, summaryGenres)
	return nil
}
