package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/genrelist/internal/limiter"
	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/outbound"
	"github.com/desertthunder/genrelist/internal/retry"
	"github.com/desertthunder/genrelist/internal/services"
	"github.com/desertthunder/genrelist/internal/shared"
)

// PlaylistStore is the pipeline's view of playlist records.
type PlaylistStore interface {
	FindActive(ctx context.Context, owner, name string) (*models.PlaylistRecord, error)
	Create(ctx context.Context, record *models.PlaylistRecord, ttl time.Duration) error
	AppendMembers(ctx context.Context, id string, trackIDs []string) (int, error)
}

// AuditLog appends audit rows.
type AuditLog interface {
	Append(ctx context.Context, row *models.AuditRow) error
}

// Pipeline creates one playlist per genre and fills it, at most once per (owner, name) while the
// playlist's record is unexpired.
type Pipeline struct {
	catalog   services.Catalog
	playlists PlaylistStore
	audit     AuditLog
	guards    Guards
	cfg       shared.PipelineConfig
	logger    *log.Logger

	// sleep is swapped in tests.
	sleep func(context.Context, time.Duration) error

	pending sync.WaitGroup
}

// NewPipeline creates a Pipeline. Unset config values fall back to the defaults in config.example.toml.
func NewPipeline(catalog services.Catalog, playlists PlaylistStore, audit AuditLog, guards Guards, cfg shared.PipelineConfig, logger *log.Logger) *Pipeline {
	defaults := shared.DefaultConfig().Pipeline
	if cfg.BatchSize <= 0 || cfg.BatchSize > 100 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.PlaylistTTL.Duration <= 0 {
		cfg.PlaylistTTL = defaults.PlaylistTTL
	}
	if cfg.DefaultRetryAfter.Duration <= 0 {
		cfg.DefaultRetryAfter = defaults.DefaultRetryAfter
	}
	if cfg.MaxRateLimitPauses <= 0 {
		cfg.MaxRateLimitPauses = defaults.MaxRateLimitPauses
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	return &Pipeline{
		catalog:   catalog,
		playlists: playlists,
		audit:     audit,
		guards:    guards,
		cfg:       cfg,
		logger:    shared.WithLogger(logger, "component", "pipeline"),
		sleep:     limiter.Sleep,
	}
}

// CreatePlaylists creates or reuses a playlist for every genre and adds its tracks.
//
// Nothing is called unless confirmed is true. A failure to resolve the current user fails the whole
// pipeline; any other failure is recorded in that genre's outcome and the remaining genres continue.
func (p *Pipeline) CreatePlaylists(ctx context.Context, genres models.GenreMap, confirmed bool) (map[string]models.GenreOutcome, error) {
	return p.CreatePlaylistsWithProgress(ctx, genres, confirmed, nil)
}

// CreatePlaylistsWithProgress is [Pipeline.CreatePlaylists] reporting one update per genre.
func (p *Pipeline) CreatePlaylistsWithProgress(ctx context.Context, genres models.GenreMap, confirmed bool, progress chan<- ProgressUpdate) (map[string]models.GenreOutcome, error) {
	const op = "pipeline.create_playlists"

	if !confirmed {
		return nil, shared.NewError(shared.KindPermission, op, shared.ErrConfirmationRequired)
	}

	user, err := outbound.Do(ctx, p.guards.Catalog, p.catalog.CurrentUser)
	if err != nil {
		return nil, shared.NewError(shared.KindPipeline, op, fmt.Errorf("failed to resolve current user: %w", err))
	}

	names := genres.Genres()
	outcomes := make(map[string]models.GenreOutcome, len(names))

	for i, genre := range names {
		ids := shared.NonBlank(genres[genre])
		if len(ids) == 0 {
			p.logger.Info("skipping genre without tracks", "genre", genre)
			continue
		}

		if err := acquire(ctx, p.guards.Limiter, KeyPipeline); err != nil {
			return outcomes, err
		}

		outcome, err := p.createForGenre(ctx, user.ID, genre, ids)
		if err != nil {
			if ctx.Err() != nil {
				return outcomes, ctx.Err()
			}
			p.logger.Error("failed to create genre playlist", "genre", genre, "error", err)
			outcomes[genre] = models.GenreOutcome{Error: err.Error()}
			sendProgress(progress, playlistFailedUpdate(i+1, len(names), genre, err))
			continue
		}

		outcomes[genre] = *outcome
		sendProgress(progress, playlistCreatedUpdate(i+1, len(names), genre, *outcome))
	}

	return outcomes, nil
}

// Wait blocks until every pending audit write has finished.
func (p *Pipeline) Wait() {
	p.pending.Wait()
}

// PlaylistName is the playlist title used for genre.
func (p *Pipeline) PlaylistName(genre string) string {
	return p.cfg.PlaylistPrefix + shared.TitleCase(genre)
}

func (p *Pipeline) createForGenre(ctx context.Context, owner, genre string, ids []string) (*models.GenreOutcome, error) {
	name := p.PlaylistName(genre)

	record, err := p.playlists.FindActive(ctx, owner, name)
	reused := err == nil
	switch {
	case reused:
		p.logger.Info("reusing playlist", "genre", genre, "playlist_id", record.ID)
	case errors.Is(err, shared.ErrRecordNotFound):
		if record, err = p.createPlaylist(ctx, owner, name, genre); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("failed to look up playlist record: %w", err)
	}

	added, err := p.addTracks(ctx, record, genre, ids)
	if err != nil {
		return nil, err
	}

	return &models.GenreOutcome{
		PlaylistID:  record.ID,
		TrackCount:  added,
		ExternalURL: record.ExternalURL,
		Reused:      reused,
	}, nil
}

// createPlaylist creates the catalog playlist, records it and follows it.
func (p *Pipeline) createPlaylist(ctx context.Context, owner, name, genre string) (*models.PlaylistRecord, error) {
	description := fmt.Sprintf("%s tracks from your library, grouped by genrelist", shared.TitleCase(genre))

	playlist, err := outbound.Do(ctx, p.guards.Create, func(ctx context.Context) (*services.Playlist, error) {
		return p.catalog.CreatePlaylist(ctx, owner, name, description)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create playlist %q: %w", name, err)
	}

	record := &models.PlaylistRecord{
		ID:          playlist.ID,
		Owner:       owner,
		Name:        name,
		Genre:       genre,
		ExternalURL: playlist.ExternalURL,
	}
	if err := p.recordPlaylist(ctx, record); err != nil {
		p.logger.Error("playlist created but not recorded, unfollowing it", "playlist_id", playlist.ID, "name", name, "error", err)
		uerr := p.guards.Catalog.Run(ctx, func(ctx context.Context) error {
			return p.catalog.UnfollowPlaylist(ctx, playlist.ID)
		})
		if uerr != nil {
			p.logger.Error("orphaned playlist left in catalog", "playlist_id", playlist.ID, "name", name, "error", uerr)
		}
		return nil, fmt.Errorf("failed to record playlist %s: %w", playlist.ID, err)
	}

	err = p.guards.Catalog.Run(ctx, func(ctx context.Context) error {
		return p.catalog.FollowPlaylist(ctx, playlist.ID)
	})
	if err != nil {
		p.logger.Warn("failed to follow playlist", "playlist_id", playlist.ID, "error", err)
	}

	p.logger.Info("created playlist", "genre", genre, "playlist_id", playlist.ID, "name", name)
	return record, nil
}

// recordPlaylist stores record, trying once more when the first insert fails.
func (p *Pipeline) recordPlaylist(ctx context.Context, record *models.PlaylistRecord) error {
	err := p.playlists.Create(ctx, record, p.cfg.PlaylistTTL.Duration)
	if err == nil || ctx.Err() != nil {
		return err
	}
	p.logger.Warn("failed to record playlist, retrying", "playlist_id", record.ID, "error", err)
	return p.playlists.Create(ctx, record, p.cfg.PlaylistTTL.Duration)
}

// addTracks adds the ids not yet in record, batch by batch.
//
// A rate-limited batch pauses for the server hint and is retried at the same cursor; batches already
// added are never sent again. Each added batch is appended to the record before the next one starts.
func (p *Pipeline) addTracks(ctx context.Context, record *models.PlaylistRecord, genre string, ids []string) (int, error) {
	seen := make(map[string]struct{}, len(record.Members)+len(ids))
	for _, id := range record.Members {
		seen[id] = struct{}{}
	}
	pending := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		pending = append(pending, id)
	}

	batches := shared.Chunk(pending, p.cfg.BatchSize)
	guard := p.guards.AddTracks()
	added, pauses := 0, 0

	for cursor := 0; cursor < len(batches); {
		batch := batches[cursor]

		err := guard.Run(ctx, func(ctx context.Context) error {
			return p.catalog.AddTracks(ctx, record.ID, batch)
		})
		if errors.Is(err, shared.ErrRateLimited) {
			if pauses >= p.cfg.MaxRateLimitPauses {
				return added, shared.NewError(shared.KindTerminal, "pipeline.add_tracks",
					fmt.Errorf("still rate limited after %d pauses: %w", pauses, err))
			}
			pauses++

			wait := retry.RetryAfterOf(err)
			if wait <= 0 {
				wait = p.cfg.DefaultRetryAfter.Duration
			}
			p.logger.Warn("rate limited while adding tracks, pausing",
				"playlist_id", record.ID, "batch", cursor+1, "of", len(batches), "wait", wait)
			if err := p.sleep(ctx, wait); err != nil {
				return added, err
			}
			continue
		}
		if err != nil {
			return added, fmt.Errorf("failed to add batch %d of %d: %w", cursor+1, len(batches), err)
		}

		if _, err := p.playlists.AppendMembers(ctx, record.ID, batch); err != nil {
			return added, fmt.Errorf("failed to record added tracks: %w", err)
		}
		record.Members = append(record.Members, batch...)
		added += len(batch)
		p.auditAsync(ctx, &models.AuditRow{
			Action:     models.AuditPlaylistTracksAdded,
			Owner:      record.Owner,
			Genre:      genre,
			PlaylistID: record.ID,
			TrackIDs:   batch,
		})

		cursor++
		if cursor < len(batches) {
			if err := p.sleep(ctx, p.cfg.BatchPause.Duration); err != nil {
				return added, err
			}
		}
	}
	return added, nil
}

// auditAsync writes row in the background. Failures are logged only.
func (p *Pipeline) auditAsync(ctx context.Context, row *models.AuditRow) {
	if p.audit == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	p.pending.Add(1)
	go func() {
		defer p.pending.Done()
		if err := p.audit.Append(ctx, row); err != nil {
			p.logger.Warn("failed to write audit row", "action", row.Action, "playlist_id", row.PlaylistID, "error", err)
		}
	}()
}
