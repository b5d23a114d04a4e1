package tasks

import (
	"context"
	"errors"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/genrelist/internal/limiter"
	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/outbound"
	"github.com/desertthunder/genrelist/internal/retry"
	"github.com/desertthunder/genrelist/internal/shared"
)

// Limiter keys, one per outbound call site.
const (
	KeyCatalog      = "catalog"
	KeyLastFM       = "lastfm"
	KeyMusicBrainz  = "musicbrainz"
	KeyTrackLoading = "track_loading"
	KeyPipeline     = "pipeline"
	KeyCreate       = "create"
)

// NewLimiter builds a limiter with one budget per configured call site.
func NewLimiter(c shared.LimitsConfig, logger *log.Logger) *limiter.Limiter {
	budget := func(l shared.LimitConfig) limiter.Budget {
		return limiter.Budget{Calls: l.Calls, Period: l.Period.Duration}
	}
	return limiter.New(
		limiter.WithLogger(logger),
		limiter.WithBudget(KeyCatalog, budget(c.Catalog)),
		limiter.WithBudget(KeyLastFM, budget(c.LastFM)),
		limiter.WithBudget(KeyMusicBrainz, budget(c.MusicBrainz)),
		limiter.WithBudget(KeyTrackLoading, budget(c.TrackLoading)),
		limiter.WithBudget(KeyPipeline, budget(c.Pipeline)),
		limiter.WithBudget(KeyCreate, budget(c.Create)),
	)
}

// Guards holds the gate and retry policy of every outbound call site.
type Guards struct {
	Limiter      *limiter.Limiter
	Catalog      outbound.Guard
	LastFM       outbound.Guard
	MusicBrainz  outbound.Guard
	TrackLoading outbound.Guard
	Create       outbound.Guard
}

// NewGuards pairs each limiter key with a retry policy built from c.
func NewGuards(lim *limiter.Limiter, c shared.RetryConfig, logger *log.Logger) Guards {
	guard := func(key, op string) outbound.Guard {
		return outbound.Guard{
			Limiter: lim,
			Key:     key,
			Policy:  retry.FromConfig(op, c, logger),
			Logger:  logger,
		}
	}
	return Guards{
		Limiter:      lim,
		Catalog:      guard(KeyCatalog, "catalog"),
		LastFM:       guard(KeyLastFM, "lastfm.tags"),
		MusicBrainz:  guard(KeyMusicBrainz, "musicbrainz.tags"),
		TrackLoading: guard(KeyTrackLoading, "catalog.load_tracks"),
		Create:       guard(KeyCreate, "catalog.create_playlist"),
	}
}

// ForSource returns the guard for a tag source.
func (g Guards) ForSource(s models.Source) outbound.Guard {
	switch s {
	case models.SourceLastFM:
		return g.LastFM
	case models.SourceMusicBrainz:
		return g.MusicBrainz
	default:
		return g.Catalog
	}
}

// AddTracks is the catalog guard with rate-limit errors left to the caller, so a 429 surfaces to the
// batch loop instead of being retried inside it.
func (g Guards) AddTracks() outbound.Guard {
	guard := g.Catalog
	guard.Policy.Op = "catalog.add_tracks"
	guard.Policy.Retryable = func(err error) bool {
		return !errors.Is(err, shared.ErrRateLimited) && retry.Transient(err)
	}
	return guard
}

// acquire takes a slot on key, or returns immediately when lim is nil.
func acquire(ctx context.Context, lim *limiter.Limiter, key string) error {
	if lim == nil {
		return ctx.Err()
	}
	return lim.Acquire(ctx, key)
}
