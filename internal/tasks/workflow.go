package tasks

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/outbound"
	"github.com/desertthunder/genrelist/internal/repositories"
	"github.com/desertthunder/genrelist/internal/services"
	"github.com/desertthunder/genrelist/internal/shared"
	"golang.org/x/time/rate"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed" // a stage failed; see RunResult.ErrorStage
	StatusError     = "error"  // the run stopped for any other reason, e.g. cancellation
)

// Analysis sources.
const (
	SourceLikedTracks    = "liked_tracks"
	sourcePlaylistPrefix = "playlist:"
)

const playlistPageSize = 100

// RunOptions configures [Workflow.Run].
type RunOptions struct {
	MaxTracks    int  // zero uses workflow.max_tracks
	Confirm      bool // create playlists after analysis
	ForceRefresh bool // ignore cached track genres
	Progress     chan<- ProgressUpdate
}

// AnalyzeOptions configures a single analysis.
type AnalyzeOptions struct {
	MaxTracks    int
	ForceRefresh bool
	Progress     chan<- ProgressUpdate
}

// CreateOptions narrows playlist creation for a stored analysis.
type CreateOptions struct {
	Selected models.GenreMap // used instead of the analysis genres when non-empty
	Excluded []string        // track ids to leave out
	Progress chan<- ProgressUpdate
}

// RunStats summarizes a run.
type RunStats struct {
	TotalTracks      int `json:"total_tracks"`
	UniqueGenres     int `json:"unique_genres"`
	TotalPlaylists   int `json:"total_playlists"`
	TotalTracksAdded int `json:"total_tracks_added"`
}

// RunResult is the outcome of [Workflow.Run]. It is returned even when the run fails.
type RunResult struct {
	Status        string                         `json:"status"`
	Stats         RunStats                       `json:"stats"`
	AnalysisID    string                         `json:"analysis_id,omitempty"`
	Outcomes      map[string]models.GenreOutcome `json:"results,omitempty"`
	Error         string                         `json:"error,omitempty"`
	ErrorStage    shared.Stage                   `json:"error_stage,omitempty"`
	ExecutionTime float64                        `json:"execution_time"`
}

// CreationResult is the outcome of [Workflow.CreatePlaylistsForAnalysis].
type CreationResult struct {
	Outcomes map[string]models.GenreOutcome `json:"results"`
	Stats    models.CreationStats           `json:"stats"`
}

// CleanupResult counts playlists handled by [Workflow.Cleanup].
type CleanupResult struct {
	Removed int `json:"removed"`
	Failed  int `json:"failed"`
}

// Workflow runs analyses end to end and answers questions about stored ones.
type Workflow struct {
	catalog  services.Catalog
	store    *repositories.Store
	resolver *Resolver
	pipeline *Pipeline
	guards   Guards
	cfg      shared.WorkflowConfig
	pipeCfg  shared.PipelineConfig
	logger   *log.Logger
	now      func() time.Time
}

// NewWorkflow assembles a Workflow from its parts.
func NewWorkflow(catalog services.Catalog, store *repositories.Store, resolver *Resolver, pipeline *Pipeline, guards Guards, cfg *shared.Config, logger *log.Logger) *Workflow {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}
	return &Workflow{
		catalog:  catalog,
		store:    store,
		resolver: resolver,
		pipeline: pipeline,
		guards:   guards,
		cfg:      cfg.Workflow,
		pipeCfg:  cfg.Pipeline,
		logger:   shared.WithLogger(logger, "component", "workflow"),
		now:      time.Now,
	}
}

// FromConfig builds the limiter, guards, resolver and pipeline described by cfg and wires them into a Workflow.
func FromConfig(cfg *shared.Config, catalog services.Catalog, sources []services.TagSource, store *repositories.Store, logger *log.Logger) *Workflow {
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	guards := NewGuards(NewLimiter(cfg.Limits, logger), cfg.Retry, logger)
	resolver := NewResolver(catalog, sources, store.Tracks, store.Artists, guards, ResolverConfig{
		Workers:       cfg.Resolver.Workers,
		ArtistTTL:     cfg.Resolver.ArtistTTL.Duration,
		SourceTimeout: cfg.Resolver.SourceTimeout.Duration,
	}, logger)
	pipeline := NewPipeline(catalog, store.Playlists, store.Audit, guards, cfg.Pipeline, logger)

	return NewWorkflow(catalog, store, resolver, pipeline, guards, cfg, logger)
}

// Resolver returns the workflow's genre resolver.
func (w *Workflow) Resolver() *Resolver { return w.resolver }

// Pipeline returns the workflow's playlist pipeline.
func (w *Workflow) Pipeline() *Pipeline { return w.pipeline }

// Run analyzes the user's saved tracks and, when confirmed, creates genre playlists.
//
// The analysis is stored before playlists are created, so a failed creation can be repeated with
// [Workflow.CreatePlaylistsForAnalysis]. A stage failure is returned as a [shared.Error] with its stage set.
func (w *Workflow) Run(ctx context.Context, opts RunOptions) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{}

	finish := func(err error) (*RunResult, error) {
		result.ExecutionTime = shared.Round2(time.Since(start).Seconds())
		if err == nil {
			result.Status = StatusCompleted
			return result, nil
		}

		result.Error = err.Error()
		if stage := shared.StageOf(err); stage != "" {
			result.Status = StatusFailed
			result.ErrorStage = stage
		} else {
			result.Status = StatusError
		}
		w.logger.Error("workflow failed", "stage", result.ErrorStage, "error", err)
		return result, err
	}

	analysis, err := w.AnalyzeLiked(ctx, AnalyzeOptions{
		MaxTracks:    opts.MaxTracks,
		ForceRefresh: opts.ForceRefresh,
		Progress:     opts.Progress,
	})
	if analysis != nil {
		result.Stats.TotalTracks = len(analysis.Tracks)
		result.Stats.UniqueGenres = len(analysis.Genres)
		result.AnalysisID = analysis.ID
	}
	if err != nil {
		return finish(err)
	}

	if !opts.Confirm {
		return finish(nil)
	}

	outcomes, err := w.pipeline.CreatePlaylistsWithProgress(ctx, analysis.Genres, true, opts.Progress)
	w.pipeline.Wait()
	result.Outcomes = outcomes
	stats := models.Stats(outcomes)
	result.Stats.TotalPlaylists = stats.TotalPlaylists
	result.Stats.TotalTracksAdded = stats.TotalTracks
	if err != nil {
		return finish(stageError(shared.StagePlaylistCreation, "workflow.create_playlists", err))
	}
	return finish(nil)
}

// AnalyzeLiked resolves genres for the user's saved tracks and stores the analysis.
//
// On failure the returned record, when not nil, holds whatever was loaded before the failing stage.
func (w *Workflow) AnalyzeLiked(ctx context.Context, opts AnalyzeOptions) (*models.AnalysisRecord, error) {
	return w.analyze(ctx, SourceLikedTracks, opts, func(ctx context.Context, limit, offset int) (*services.TrackPage, error) {
		return w.catalog.SavedTracks(ctx, limit, offset)
	}, w.cfg.PageSize)
}

// AnalyzePlaylist resolves genres for a playlist's tracks and stores the analysis.
func (w *Workflow) AnalyzePlaylist(ctx context.Context, playlistID string, opts AnalyzeOptions) (*models.AnalysisRecord, error) {
	if playlistID == "" {
		return nil, shared.NewError(shared.KindValidation, "workflow.analyze_playlist", shared.ErrMissingArgument)
	}
	return w.analyze(ctx, sourcePlaylistPrefix+playlistID, opts, func(ctx context.Context, limit, offset int) (*services.TrackPage, error) {
		return w.catalog.PlaylistTracks(ctx, playlistID, limit, offset)
	}, playlistPageSize)
}

type pageFunc func(ctx context.Context, limit, offset int) (*services.TrackPage, error)

func (w *Workflow) analyze(ctx context.Context, source string, opts AnalyzeOptions, fetch pageFunc, pageSize int) (*models.AnalysisRecord, error) {
	user, err := w.initialize(ctx)
	if err != nil {
		return nil, stageError(shared.StageInitialization, "workflow.initialize", err)
	}
	sendProgress(opts.Progress, initializeUpdate(user.DisplayName))

	maxTracks := opts.MaxTracks
	if maxTracks <= 0 {
		maxTracks = w.cfg.MaxTracks
	}

	tracks, err := w.loadTracks(ctx, fetch, pageSize, maxTracks, opts.Progress)
	if err != nil {
		return nil, stageError(shared.StageTrackLoading, "workflow.load_tracks", err)
	}
	record := &models.AnalysisRecord{UserID: user.ID, Source: source, Tracks: tracks}
	if len(tracks) == 0 {
		return record, stageError(shared.StageTrackLoading, "workflow.load_tracks", shared.ErrNoTracks)
	}

	ids := make([]string, len(tracks))
	for i, t := range tracks {
		ids[i] = t.ID
	}
	genres, err := w.resolver.ResolveWithOptions(ctx, ids, ResolveOptions{ForceRefresh: opts.ForceRefresh, Progress: opts.Progress})
	if err != nil {
		return record, stageError(shared.StageGenreAnalysis, "workflow.resolve_genres", err)
	}
	record.Genres = genres

	if err := w.store.Analyses.Create(ctx, record); err != nil {
		return record, stageError(shared.StageGenreAnalysis, "workflow.save_analysis", err)
	}
	sendProgress(opts.Progress, saveAnalysisUpdate(record.ID, len(genres)))

	if _, err := w.store.UserTracks.SaveAll(ctx, user.ID, tracks); err != nil {
		w.logger.Warn("failed to save user tracks", "user_id", user.ID, "error", err)
	}

	w.logger.Info("analysis stored", "analysis_id", record.ID, "source", source, "tracks", len(tracks), "genres", len(genres))
	return record, nil
}

// initialize checks the database and resolves the current user.
func (w *Workflow) initialize(ctx context.Context) (*services.User, error) {
	if err := w.store.Ping(ctx); err != nil {
		return nil, err
	}
	return outbound.Do(ctx, w.guards.Catalog, w.catalog.CurrentUser)
}

// loadTracks pages through fetch until maxTracks are loaded, the listing ends, or the same page comes
// back empty too many times in a row. An empty page is fetched again at the same offset. Pages are paced
// by workflow.page_delay.
func (w *Workflow) loadTracks(ctx context.Context, fetch pageFunc, pageSize, maxTracks int, progress chan<- ProgressUpdate) ([]models.Track, error) {
	if pageSize <= 0 {
		pageSize = 50
	}
	emptyLimit := max(w.cfg.EmptyPageRetries, 1)

	pacer := rate.NewLimiter(rate.Inf, 1)
	if d := w.cfg.PageDelay.Duration; d > 0 {
		pacer = rate.NewLimiter(rate.Every(d), 1)
	}

	tracks := make([]models.Track, 0, min(maxTracks, 1000))
	offset, empty := 0, 0
	for len(tracks) < maxTracks {
		if err := pacer.Wait(ctx); err != nil {
			return tracks, err
		}

		limit := min(pageSize, maxTracks-len(tracks))
		page, err := outbound.Do(ctx, w.guards.TrackLoading, func(ctx context.Context) (*services.TrackPage, error) {
			return fetch(ctx, limit, offset)
		})
		if err != nil {
			return tracks, fmt.Errorf("failed to load tracks at offset %d: %w", offset, err)
		}

		if len(page.Tracks) == 0 {
			empty++
			if !page.HasNext || empty >= emptyLimit {
				break
			}
			w.logger.Debug("empty page, retrying", "offset", offset, "attempt", empty)
			continue
		}
		empty = 0

		tracks = append(tracks, page.Tracks...)
		offset += limit
		sendProgress(progress, loadTracksUpdate(len(tracks), min(page.Total, maxTracks)))

		if !page.HasNext {
			break
		}
	}

	if len(tracks) > maxTracks {
		tracks = tracks[:maxTracks]
	}
	return tracks, nil
}

// CreatePlaylistsForAnalysis creates playlists for a stored analysis.
//
// A missing analysis is a [shared.KindNotFound] error and a missing confirmation a [shared.KindPermission]
// error; neither calls the catalog.
func (w *Workflow) CreatePlaylistsForAnalysis(ctx context.Context, analysisID string, confirmed bool, opts CreateOptions) (*CreationResult, error) {
	const op = "workflow.create_playlists_for_analysis"

	analysis, err := w.loadAnalysis(ctx, op, analysisID)
	if err != nil {
		return nil, err
	}
	if !confirmed {
		return nil, shared.NewError(shared.KindPermission, op, shared.ErrConfirmationRequired)
	}

	genres := analysis.Genres
	if len(opts.Selected) > 0 {
		genres = opts.Selected
	}
	genres = excludeTracks(genres, opts.Excluded)

	outcomes, err := w.pipeline.CreatePlaylistsWithProgress(ctx, genres, true, opts.Progress)
	w.pipeline.Wait()
	if err != nil {
		return nil, stageError(shared.StagePlaylistCreation, op, err)
	}
	return &CreationResult{Outcomes: outcomes, Stats: models.Stats(outcomes)}, nil
}

// Analysis returns a stored analysis.
func (w *Workflow) Analysis(ctx context.Context, analysisID string) (*models.AnalysisRecord, error) {
	return w.loadAnalysis(ctx, "workflow.analysis", analysisID)
}

// Breakdown returns each genre's track count and share of all assigned tracks.
func (w *Workflow) Breakdown(ctx context.Context, analysisID string) (map[string]models.GenreBreakdown, error) {
	analysis, err := w.loadAnalysis(ctx, "workflow.breakdown", analysisID)
	if err != nil {
		return nil, err
	}
	return Breakdown(analysis.Genres), nil
}

// Breakdown computes per-genre counts and percentages rounded to two places.
func Breakdown(genres models.GenreMap) map[string]models.GenreBreakdown {
	total := genres.TrackCount()
	breakdown := make(map[string]models.GenreBreakdown, len(genres))
	for genre, ids := range genres {
		b := models.GenreBreakdown{Count: len(ids)}
		if total > 0 {
			b.Percentage = shared.Round2(float64(len(ids)) / float64(total) * 100)
		}
		breakdown[genre] = b
	}
	return breakdown
}

// Details returns each genre's tracks joined with the analysis track metadata and cached confidence.
func (w *Workflow) Details(ctx context.Context, analysisID string) (map[string][]models.TrackDetail, error) {
	analysis, err := w.loadAnalysis(ctx, "workflow.details", analysisID)
	if err != nil {
		return nil, err
	}

	byID := make(map[string]models.Track, len(analysis.Tracks))
	for _, t := range analysis.Tracks {
		byID[t.ID] = t
	}

	ids := make([]string, 0, analysis.Genres.TrackCount())
	for _, genre := range analysis.Genres.Genres() {
		ids = append(ids, analysis.Genres[genre]...)
	}

	confidence := make(map[string]float64, len(ids))
	cached, err := w.store.Tracks.GetMany(ctx, ids)
	if err != nil {
		w.logger.Warn("failed to read cached confidence", "analysis_id", analysisID, "error", err)
	}
	for _, record := range cached {
		confidence[record.TrackID] = record.Confidence
	}

	details := make(map[string][]models.TrackDetail, len(analysis.Genres))
	for genre, ids := range analysis.Genres {
		rows := make([]models.TrackDetail, 0, len(ids))
		for _, id := range ids {
			t := byID[id]
			rows = append(rows, models.TrackDetail{
				ID:         id,
				Name:       t.Name,
				Artist:     t.ArtistName,
				PreviewURL: t.PreviewURL,
				Confidence: confidence[id],
			})
		}
		details[genre] = rows
	}
	return details, nil
}

// FilteredGenres returns the analysis genres without the excluded tracks. Genres left empty are dropped.
func (w *Workflow) FilteredGenres(ctx context.Context, analysisID string, excluded []string) (models.GenreMap, error) {
	analysis, err := w.loadAnalysis(ctx, "workflow.filtered_genres", analysisID)
	if err != nil {
		return nil, err
	}
	return excludeTracks(analysis.Genres, excluded), nil
}

// History lists the user's analyses, newest first.
func (w *Workflow) History(ctx context.Context, userID string, limit int) ([]models.AnalysisSummary, error) {
	analyses, err := w.store.Analyses.ListByUser(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	summaries := make([]models.AnalysisSummary, 0, len(analyses))
	for _, a := range analyses {
		summaries = append(summaries, models.AnalysisSummary{
			AnalysisID: a.ID,
			Source:     a.Source,
			CreatedAt:  a.CreatedAt,
			TrackCount: len(a.Tracks),
			GenreCount: len(a.Genres),
		})
	}
	return summaries, nil
}

// Cleanup unfollows the current user's generated playlists created more than olderThan ago and deletes
// their records. Only playlists named with pipeline.playlist_prefix are touched. A playlist that fails
// to unfollow keeps its record and is counted as failed.
func (w *Workflow) Cleanup(ctx context.Context, olderThan time.Duration, progress chan<- ProgressUpdate) (*CleanupResult, error) {
	const op = "workflow.cleanup"

	user, err := outbound.Do(ctx, w.guards.Catalog, w.catalog.CurrentUser)
	if err != nil {
		return nil, shared.NewError(shared.KindPipeline, op, fmt.Errorf("failed to resolve current user: %w", err))
	}

	cutoff := w.now().Add(-olderThan)
	stale, err := w.store.Playlists.ListStale(ctx, user.ID, w.pipeCfg.PlaylistPrefix, cutoff)
	if err != nil {
		return nil, err
	}

	pacer := rate.NewLimiter(rate.Inf, 1)
	if d := w.pipeCfg.CleanupPause.Duration; d > 0 {
		pacer = rate.NewLimiter(rate.Every(d), 1)
	}

	result := &CleanupResult{}
	for i, record := range stale {
		if err := pacer.Wait(ctx); err != nil {
			return result, err
		}

		err := w.guards.Catalog.Run(ctx, func(ctx context.Context) error {
			return w.catalog.UnfollowPlaylist(ctx, record.ID)
		})
		if err == nil {
			err = w.store.Playlists.Delete(ctx, record.ID)
		}
		sendProgress(progress, cleanupUpdate(i+1, len(stale), record, err))
		if err != nil {
			w.logger.Warn("failed to remove playlist", "playlist_id", record.ID, "name", record.Name, "error", err)
			result.Failed++
			continue
		}

		result.Removed++
		if err := w.store.Audit.Append(ctx, &models.AuditRow{
			Action:     models.AuditPlaylistRemoved,
			Owner:      record.Owner,
			Genre:      record.Genre,
			PlaylistID: record.ID,
		}); err != nil {
			w.logger.Warn("failed to write audit row", "playlist_id", record.ID, "error", err)
		}
	}

	w.logger.Info("cleanup finished", "removed", result.Removed, "failed", result.Failed)
	return result, nil
}

func (w *Workflow) loadAnalysis(ctx context.Context, op, analysisID string) (*models.AnalysisRecord, error) {
	analysis, err := w.store.Analyses.Get(ctx, analysisID)
	if errors.Is(err, shared.ErrAnalysisNotFound) {
		return nil, shared.NewError(shared.KindNotFound, op, err)
	}
	if err != nil {
		return nil, err
	}
	return analysis, nil
}

// excludeTracks copies genres without the excluded ids, dropping genres left empty.
func excludeTracks(genres models.GenreMap, excluded []string) models.GenreMap {
	skip := make(map[string]struct{}, len(excluded))
	for _, id := range excluded {
		skip[id] = struct{}{}
	}

	filtered := make(models.GenreMap, len(genres))
	for genre, ids := range genres {
		kept := make([]string, 0, len(ids))
		for _, id := range ids {
			if _, ok := skip[id]; !ok {
				kept = append(kept, id)
			}
		}
		if len(kept) > 0 {
			filtered[genre] = kept
		}
	}
	return filtered
}

// stageError tags err with stage unless it is a cancellation, which is not a stage failure.
func stageError(stage shared.Stage, op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return shared.StageError(stage, op, err)
}
