package main

import (
	"context"
	"fmt"
	"time"

	"github.com/desertthunder/genrelist/internal/formatter"
	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/shared"
	"github.com/desertthunder/genrelist/internal/tasks"
	"github.com/urfave/cli/v3"
)

func jsonFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "json",
		Usage: "Output raw JSON",
	}
}

func analysisArg() []cli.Argument {
	return []cli.Argument{
		&cli.StringArg{
			Name: "analysis-id",
		},
	}
}

// historyCommand reads stored analyses.
func historyCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "Browse stored analyses",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List your analyses, newest first",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "user",
						Usage: "User id (defaults to the logged in user)",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of analyses to return",
						Value: 20,
					},
					jsonFlag(),
				},
				Action: r.HistoryList,
			},
			{
				Name:      "show",
				Usage:     "Show the genre breakdown of an analysis",
				Arguments: analysisArg(),
				Flags:     []cli.Flag{jsonFlag()},
				Action:    r.HistoryShow,
			},
			{
				Name:      "details",
				Usage:     "List the tracks of each genre",
				Arguments: analysisArg(),
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "genre",
						Aliases: []string{"g"},
						Usage:   "Only show this genre",
					},
					jsonFlag(),
				},
				Action: r.HistoryDetails,
			},
			{
				Name:      "export",
				Usage:     "Export an analysis as csv, markdown or text",
				Arguments: analysisArg(),
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Export format: csv, markdown, text",
						Value:   "markdown",
					},
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path, or - for stdout (default: <id>_genres.<ext>)",
					},
				},
				Action: r.HistoryExport,
			},
		},
	}
}

// HistoryList prints the user's analyses.
func (r *Runner) HistoryList(ctx context.Context, cmd *cli.Command) error {
	wf, err := r.ready(ctx, false)
	if err != nil {
		return err
	}

	userID, err := r.userID(ctx, cmd)
	if err != nil {
		return err
	}

	summaries, err := wf.History(ctx, userID, cmd.Int("limit"))
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(summaries, true)
	}

	if len(summaries) == 0 {
		return r.writePlain("No analyses for %s\n", userID)
	}

	for _, s := range summaries {
		r.writePlain("%s  %s  %-20s %5d tracks %4d genres\n",
			s.AnalysisID, s.CreatedAt.Local().Format(time.DateTime), s.Source, s.TrackCount, s.GenreCount)
	}
	return nil
}

// HistoryShow prints the breakdown of one analysis.
func (r *Runner) HistoryShow(ctx context.Context, cmd *cli.Command) error {
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
	breakdown, err := wf.Breakdown(ctx, analysisID)
	if err != nil {
		return err
	}

	if cmd.Bool("json") {
		return r.writeJSON(breakdown, true)
	}

	r.writePlainHeader(fmt.Sprintf("Analysis %s", analysis.ID))
	r.writePlain("Source: %s  Created: %s\n", analysis.Source, analysis.CreatedAt.Local().Format(time.DateTime))
	r.writePlain("Tracks: %d  Genres: %d\n\n", len(analysis.Tracks), len(analysis.Genres))
	r.printBreakdown(breakdown, 0)
	return nil
}

// HistoryDetails prints the tracks behind each genre.
func (r *Runner) HistoryDetails(ctx context.Context, cmd *cli.Command) error {
	analysisID, err := requireArg(cmd, "analysis-id")
	if err != nil {
		return err
	}

	wf, err := r.ready(ctx, false)
	if err != nil {
		return err
	}

	details, err := wf.Details(ctx, analysisID)
	if err != nil {
		return err
	}

	if genre := cmd.String("genre"); genre != "" {
		rows, ok := details[genre]
		if !ok {
			return fmt.Errorf("%w: genre %q is not in the analysis", shared.ErrInvalidArgument, genre)
		}
		details = map[string][]models.TrackDetail{genre: rows}
	}

	if cmd.Bool("json") {
		return r.writeJSON(details, true)
	}

	breakdown := make(map[string]models.GenreBreakdown, len(details))
	for genre, rows := range details {
		breakdown[genre] = models.GenreBreakdown{Count: len(rows)}
	}
	for _, genre := range formatter.RankGenres(breakdown) {
		r.writePlainln("%s (%d)", shared.TitleCase(genre), len(details[genre]))
		for _, d := range details[genre] {
			r.writePlain("  %s  %s - %s  [%.2f]\n", d.ID, d.Artist, d.Name, d.Confidence)
		}
	}
	return nil
}

// HistoryExport writes an analysis report to a file or stdout.
func (r *Runner) HistoryExport(ctx context.Context, cmd *cli.Command) error {
	analysisID, err := requireArg(cmd, "analysis-id")
	if err != nil {
		return err
	}

	format, err := formatter.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	wf, err := r.ready(ctx, false)
	if err != nil {
		return err
	}

	report, err := buildReport(ctx, wf, analysisID)
	if err != nil {
		return err
	}

	output := cmd.String("output")
	if output == "-" {
		return formatter.Write(r.output, report, format)
	}

	path, err := formatter.WriteFile(report, format, output)
	if err != nil {
		return err
	}
	r.logger.Info("export written", "analysis_id", analysisID, "format", format, "path", path)
	return r.writePlain("✓ Exported %s to %s\n", analysisID, path)
}

func buildReport(ctx context.Context, wf *tasks.Workflow, analysisID string) (*formatter.Report, error) {
	analysis, err := wf.Analysis(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	details, err := wf.Details(ctx, analysisID)
	if err != nil {
		return nil, err
	}
	return &formatter.Report{
		Analysis:  analysis,
		Breakdown: tasks.Breakdown(analysis.Genres),
		Details:   details,
	}, nil
}

func requireArg(cmd *cli.Command, name string) (string, error) {
	v := cmd.StringArg(name)
	if v == "" {
		return "", fmt.Errorf("%w: %s is required", shared.ErrMissingArgument, name)
	}
	return v, nil
}
