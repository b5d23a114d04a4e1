package tasks

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/outbound"
	"github.com/desertthunder/genrelist/internal/services"
	"github.com/desertthunder/genrelist/internal/shared"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

// TrackCache is the resolver's view of the track genre cache.
type TrackCache interface {
	GetMany(ctx context.Context, ids []string) ([]models.TrackGenreRecord, error)
	UpsertMany(ctx context.Context, records []models.TrackGenreRecord) (int, error)
}

// ArtistCache is the resolver's view of the artist genre cache.
type ArtistCache interface {
	Get(ctx context.Context, artistID string) (*models.ArtistGenreRecord, error)
	Upsert(ctx context.Context, artistID string, genres []string, ttl time.Duration) (*models.ArtistGenreRecord, error)
}

// ResolveOptions tunes a single resolution.
type ResolveOptions struct {
	ForceRefresh bool                  // ignore cached track records
	Progress     chan<- ProgressUpdate // optional, never blocks
}

// ResolverConfig configures a [Resolver]. Zero values fall back to defaults.
type ResolverConfig struct {
	Workers       int
	ArtistTTL     time.Duration
	SourceTimeout time.Duration
}

// Resolver assigns each track a single primary genre by scoring labels from the catalog's artist
// genres and every tag source.
type Resolver struct {
	catalog services.Catalog
	sources []services.TagSource
	tracks  TrackCache
	artists ArtistCache
	guards  Guards
	cfg     ResolverConfig
	logger  *log.Logger
	now     func() time.Time

	artistFetches singleflight.Group
}

// NewResolver creates a Resolver. Tag sources are consulted in [models.Sources] order.
func NewResolver(catalog services.Catalog, sources []services.TagSource, tracks TrackCache, artists ArtistCache, guards Guards, cfg ResolverConfig, logger *log.Logger) *Resolver {
	if cfg.Workers <= 0 {
		cfg.Workers = 5
	}
	if cfg.ArtistTTL <= 0 {
		cfg.ArtistTTL = 30 * 24 * time.Hour
	}
	if cfg.SourceTimeout <= 0 {
		cfg.SourceTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = shared.NewLogger(nil)
	}

	ordered := append([]services.TagSource(nil), sources...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Source() < ordered[j].Source()
	})

	return &Resolver{
		catalog: catalog,
		sources: ordered,
		tracks:  tracks,
		artists: artists,
		guards:  guards,
		cfg:     cfg,
		logger:  shared.WithLogger(logger, "component", "resolver"),
		now:     time.Now,
	}
}

// Resolve maps track ids to genres using cached records where available.
func (r *Resolver) Resolve(ctx context.Context, trackIDs []string) (models.GenreMap, error) {
	return r.ResolveWithOptions(ctx, trackIDs, ResolveOptions{})
}

// ResolveWithOptions maps track ids to genres.
//
// Invalid and duplicate ids are dropped. Each remaining track lands in exactly one genre, in input order;
// tracks no source could label are cached as unknown and left out. A track whose lookup fails is logged
// and left out. Only context cancellation fails the whole call.
func (r *Resolver) ResolveWithOptions(ctx context.Context, trackIDs []string, opts ResolveOptions) (models.GenreMap, error) {
	genres := models.GenreMap{}

	ids := shared.ValidTrackIDs(trackIDs)
	if len(ids) == 0 {
		return genres, nil
	}
	if dropped := len(trackIDs) - len(ids); dropped > 0 {
		r.logger.Debug("dropped invalid or duplicate track ids", "count", dropped)
	}

	records := make(map[string]models.TrackGenreRecord, len(ids))
	pending := ids
	if !opts.ForceRefresh {
		pending = r.readCache(ctx, ids, records)
	}

	resolved, err := r.resolveAll(ctx, pending, opts.Progress)
	if err != nil {
		return nil, err
	}

	fresh := make([]models.TrackGenreRecord, 0, len(resolved))
	for _, id := range pending {
		if record, ok := resolved[id]; ok {
			records[id] = record
			fresh = append(fresh, record)
		}
	}
	if len(fresh) > 0 {
		written, err := r.tracks.UpsertMany(ctx, fresh)
		if err != nil {
			r.logger.Warn("failed to cache some track genres", "written", written, "total", len(fresh), "error", err)
		}
	}

	for _, id := range ids {
		record, ok := records[id]
		if !ok || !record.Classified() {
			continue
		}
		genres[record.PrimaryGenre] = append(genres[record.PrimaryGenre], id)
	}

	r.logger.Info("resolved genres",
		"tracks", len(ids), "cached", len(ids)-len(pending), "fetched", len(fresh), "genres", len(genres))
	return genres, nil
}

// readCache fills records from the track cache and returns the ids still to resolve.
func (r *Resolver) readCache(ctx context.Context, ids []string, records map[string]models.TrackGenreRecord) []string {
	cached, err := r.tracks.GetMany(ctx, ids)
	if err != nil {
		r.logger.Warn("track cache unavailable, resolving every track", "error", err)
		return ids
	}
	for _, record := range cached {
		records[record.TrackID] = record
	}

	pending := make([]string, 0, len(ids)-len(records))
	for _, id := range ids {
		if _, ok := records[id]; !ok {
			pending = append(pending, id)
		}
	}
	return pending
}

// resolveAll resolves ids on a bounded worker pool.
func (r *Resolver) resolveAll(ctx context.Context, ids []string, progress chan<- ProgressUpdate) (map[string]models.TrackGenreRecord, error) {
	results := make(map[string]models.TrackGenreRecord, len(ids))
	if len(ids) == 0 {
		return results, nil
	}

	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for _, id := range ids {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			record, err := r.resolveTrack(gctx, id)
			if err != nil && gctx.Err() != nil {
				return gctx.Err()
			}

			mu.Lock()
			done++
			step := done
			if err == nil {
				results[id] = *record
			}
			mu.Unlock()

			if err != nil {
				r.logger.Warn("failed to resolve track", "track_id", id, "error", err)
				sendProgress(progress, resolveTrackUpdate(step, len(ids), nil))
				return nil
			}
			sendProgress(progress, resolveTrackUpdate(step, len(ids), record))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// resolveTrack gathers every signal for one track and scores it.
func (r *Resolver) resolveTrack(ctx context.Context, id string) (*models.TrackGenreRecord, error) {
	track, err := outbound.Do(ctx, r.guards.Catalog, func(ctx context.Context) (*models.Track, error) {
		return r.catalog.Track(ctx, id)
	})
	if err != nil {
		return nil, err
	}

	now := r.now()
	signals := make([]models.GenreSignal, 0, len(r.sources)+1)
	signals = append(signals, models.GenreSignal{
		Source:    models.SourceCatalog,
		Labels:    r.artistGenres(ctx, track.ArtistID),
		FetchedAt: now,
	})
	for _, src := range r.sources {
		signals = append(signals, models.GenreSignal{
			Source:    src.Source(),
			Labels:    r.tags(ctx, src, track),
			FetchedAt: now,
		})
	}

	record := BuildRecord(id, signals, now)
	return &record, nil
}

// artistGenres returns the catalog genres for an artist through the artist cache.
// Concurrent misses for the same artist share one fetch. Failures yield no genres.
func (r *Resolver) artistGenres(ctx context.Context, artistID string) []string {
	if artistID == "" {
		return nil
	}

	record, err := r.artists.Get(ctx, artistID)
	if err == nil {
		return record.Genres
	}
	if !errors.Is(err, shared.ErrCacheMiss) {
		r.logger.Warn("artist cache read failed", "artist_id", artistID, "error", err)
	}

	v, err, _ := r.artistFetches.Do(artistID, func() (any, error) {
		artist, err := outbound.Do(ctx, r.guards.Catalog, func(ctx context.Context) (*services.Artist, error) {
			return r.catalog.Artist(ctx, artistID)
		})
		if err != nil {
			return nil, err
		}
		if _, err := r.artists.Upsert(ctx, artistID, artist.Genres, r.cfg.ArtistTTL); err != nil {
			r.logger.Warn("failed to cache artist genres", "artist_id", artistID, "error", err)
		}
		return artist.Genres, nil
	})
	if err != nil {
		r.logger.Warn("failed to fetch artist genres", "artist_id", artistID, "error", err)
		return nil
	}
	return v.([]string)
}

// tags asks one tag source for labels. Failures yield no labels.
//
// SourceTimeout bounds each request, not the wait for the source's gate or the backoff between attempts.
func (r *Resolver) tags(ctx context.Context, src services.TagSource, track *models.Track) []string {
	if track.ArtistName == "" || track.Name == "" {
		return nil
	}

	labels, err := outbound.Do(ctx, r.guards.ForSource(src.Source()), func(ctx context.Context) ([]string, error) {
		ctx, cancel := context.WithTimeout(ctx, r.cfg.SourceTimeout)
		defer cancel()
		return src.Tags(ctx, track.ArtistName, track.Name)
	})
	if err != nil {
		r.logger.Warn("tag source failed", "source", src.Source(), "track_id", track.ID, "error", err)
		return nil
	}
	return labels
}
