package tasks

import (
	"context"
	"fmt"
	"io"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/outbound"
	"github.com/desertthunder/genrelist/internal/repositories"
	"github.com/desertthunder/genrelist/internal/retry"
	"github.com/desertthunder/genrelist/internal/services"
	"github.com/desertthunder/genrelist/internal/shared"
	tu "github.com/desertthunder/genrelist/internal/testing"
)

var testLogger = shared.NewLogger(io.Discard)

// setupTestStore creates an in-memory store with migrations applied
func setupTestStore(t *testing.T) *repositories.Store {
	t.Helper()

	db, err := shared.NewDatabase(":memory:")
	if err != nil {
		t.Fatalf("failed to create test database: %v", err)
	}
	if err := shared.RunMigrations(context.Background(), db); err != nil {
		db.Close()
		t.Fatalf("failed to run migrations: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return repositories.NewStore(db, 500, testLogger)
}

// testGuards has no gates and retries once after a millisecond.
func testGuards() Guards {
	g := outbound.Guard{
		Policy: retry.Policy{Op: "test", MaxAttempts: 2, MinWait: time.Millisecond, MaxWait: time.Millisecond},
	}
	return Guards{Catalog: g, LastFM: g, MusicBrainz: g, TrackLoading: g, Create: g}
}

// trackID returns a valid 22 character track id for n.
func trackID(n int) string {
	return fmt.Sprintf("track%017d", n)
}

func track(n int, artist string) models.Track {
	return models.Track{
		ID:         trackID(n),
		Name:       fmt.Sprintf("Song %d", n),
		ArtistID:   "artist-" + artist,
		ArtistName: artist,
		AddedAt:    time.Date(2024, 1, 1, 0, n, 0, 0, time.UTC).Format(time.RFC3339),
	}
}

// sleepRecorder replaces real pauses with a record of their durations.
type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sleeps = append(s.sleeps, d)
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.sleeps...)
}

func newTestPipeline(t *testing.T, catalog *tu.MockCatalog, store *repositories.Store, cfg shared.PipelineConfig) (*Pipeline, *sleepRecorder) {
	t.Helper()
	p := NewPipeline(catalog, store.Playlists, store.Audit, testGuards(), cfg, testLogger)
	rec := &sleepRecorder{}
	p.sleep = rec.sleep
	return p, rec
}

func testConfig() *shared.Config {
	cfg := shared.DefaultConfig()
	cfg.Workflow.PageDelay.Duration = 0
	cfg.Pipeline.CleanupPause.Duration = 0
	return cfg
}

func newTestWorkflow(t *testing.T, catalog *tu.MockCatalog, sources ...*tu.MockTagSource) (*Workflow, *repositories.Store) {
	t.Helper()

	store := setupTestStore(t)
	cfg := testConfig()
	guards := testGuards()

	tagSources := make([]services.TagSource, 0, len(sources))
	for _, s := range sources {
		tagSources = append(tagSources, s)
	}

	resolver := NewResolver(catalog, tagSources, store.Tracks, store.Artists, guards, ResolverConfig{Workers: 2}, testLogger)
	pipeline, _ := newTestPipeline(t, catalog, store, cfg.Pipeline)
	return NewWorkflow(catalog, store, resolver, pipeline, guards, cfg, testLogger), store
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-9
}
