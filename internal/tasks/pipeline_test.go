package tasks

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/repositories"
	"github.com/desertthunder/genrelist/internal/services"
	"github.com/desertthunder/genrelist/internal/shared"
	tu "github.com/desertthunder/genrelist/internal/testing"
)

func trackIDs(from, to int) []string {
	ids := make([]string, 0, to-from+1)
	for i := from; i <= to; i++ {
		ids = append(ids, trackID(i))
	}
	return ids
}

func flatten(batches [][]string) []string {
	var all []string
	for _, b := range batches {
		all = append(all, b...)
	}
	return all
}

// flakyPlaylists fails the first failures record inserts.
type flakyPlaylists struct {
	*repositories.PlaylistRecordRepository
	failures int
	creates  int
}

func (f *flakyPlaylists) Create(ctx context.Context, record *models.PlaylistRecord, ttl time.Duration) error {
	f.creates++
	if f.creates <= f.failures {
		return errors.New("database is locked")
	}
	return f.PlaylistRecordRepository.Create(ctx, record, ttl)
}

func defaultPipelineConfig() shared.PipelineConfig {
	return shared.DefaultConfig().Pipeline
}

func TestPipeline(t *testing.T) {
	ctx := context.Background()

	t.Run("Requires Confirmation", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		p, _ := newTestPipeline(t, catalog, setupTestStore(t), defaultPipelineConfig())

		_, err := p.CreatePlaylists(ctx, models.GenreMap{"rock": {trackID(1)}}, false)
		if shared.KindOf(err) != shared.KindPermission {
			t.Errorf("expected permission error, got %v", err)
		}
		if !errors.Is(err, shared.ErrConfirmationRequired) {
			t.Errorf("expected ErrConfirmationRequired, got %v", err)
		}
		if catalog.Calls("CurrentUser") != 0 {
			t.Error("expected no catalog calls")
		}
	})

	t.Run("Current User Failure Fails The Pipeline", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		catalog.UserErr = &services.StatusError{Service: "spotify", StatusCode: 401, Message: "expired"}
		p, _ := newTestPipeline(t, catalog, setupTestStore(t), defaultPipelineConfig())

		outcomes, err := p.CreatePlaylists(ctx, models.GenreMap{"rock": {trackID(1)}}, true)
		if shared.KindOf(err) != shared.KindPipeline {
			t.Errorf("expected pipeline error, got %v", err)
		}
		if !errors.Is(err, shared.ErrTokenExpired) {
			t.Errorf("expected the cause to be kept, got %v", err)
		}
		if outcomes != nil {
			t.Errorf("expected no outcomes, got %v", outcomes)
		}
		if catalog.Calls("CreatePlaylist") != 0 {
			t.Error("expected no playlist to be created")
		}
	})

	t.Run("Adds Tracks In Batches", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		store := setupTestStore(t)
		p, sleeps := newTestPipeline(t, catalog, store, defaultPipelineConfig())

		ids := trackIDs(1, 200)
		outcomes, err := p.CreatePlaylists(ctx, models.GenreMap{"rock": ids}, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p.Wait()

		outcome := outcomes["rock"]
		if outcome.Failed() || outcome.TrackCount != 200 || outcome.Reused {
			t.Fatalf("unexpected outcome %+v", outcome)
		}

		batches := catalog.Added(outcome.PlaylistID)
		if len(batches) != 3 || len(batches[0]) != 90 || len(batches[1]) != 90 || len(batches[2]) != 20 {
			t.Errorf("expected batches of 90, 90, 20; got %d batches", len(batches))
		}

		got := sleeps.recorded()
		if len(got) != 2 || got[0] != 1200*time.Millisecond || got[1] != 1200*time.Millisecond {
			t.Errorf("expected two 1.2s pauses between batches, got %v", got)
		}

		record, err := store.Playlists.Get(ctx, outcome.PlaylistID)
		if err != nil {
			t.Fatalf("expected playlist record: %v", err)
		}
		if record.Name != "Rock" || len(record.Members) != 200 {
			t.Errorf("unexpected record %s with %d members", record.Name, len(record.Members))
		}
		if catalog.Calls("FollowPlaylist") != 1 {
			t.Error("expected the new playlist to be followed")
		}

		rows, err := store.Audit.List(ctx, repositories.AuditFilter{Action: models.AuditPlaylistTracksAdded})
		if err != nil {
			t.Fatalf("failed to list audit rows: %v", err)
		}
		if len(rows) != 3 {
			t.Errorf("expected one audit row per batch, got %d", len(rows))
		}
	})

	t.Run("Rate Limit Resumes At Cursor", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		catalog.AddErrs = []error{nil, &services.RateLimitError{Service: "spotify", Wait: 7 * time.Second}}
		store := setupTestStore(t)
		p, sleeps := newTestPipeline(t, catalog, store, defaultPipelineConfig())

		ids := trackIDs(1, 200)
		outcomes, err := p.CreatePlaylists(ctx, models.GenreMap{"rock": ids}, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p.Wait()

		outcome := outcomes["rock"]
		if outcome.Failed() || outcome.TrackCount != 200 {
			t.Fatalf("unexpected outcome %+v", outcome)
		}
		if n := catalog.Calls("AddTracks"); n != 4 {
			t.Errorf("expected 4 add calls (3 batches + 1 rate limited), got %d", n)
		}

		added := flatten(catalog.Added(outcome.PlaylistID))
		if len(added) != 200 {
			t.Fatalf("expected every track added exactly once, got %d", len(added))
		}
		for i := range ids {
			if added[i] != ids[i] {
				t.Fatalf("tracks added out of order at %d", i)
			}
		}

		got := sleeps.recorded()
		want := []time.Duration{1200 * time.Millisecond, 7 * time.Second, 1200 * time.Millisecond}
		if len(got) != len(want) {
			t.Fatalf("expected pauses %v, got %v", want, got)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Errorf("expected pauses %v, got %v", want, got)
				break
			}
		}
	})

	t.Run("Rate Limit Without Hint Uses Default", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		catalog.AddErrs = []error{&services.RateLimitError{Service: "spotify"}}
		p, sleeps := newTestPipeline(t, catalog, setupTestStore(t), defaultPipelineConfig())

		if _, err := p.CreatePlaylists(ctx, models.GenreMap{"rock": {trackID(1)}}, true); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p.Wait()

		got := sleeps.recorded()
		if len(got) != 1 || got[0] != 30*time.Second {
			t.Errorf("expected a single 30s pause, got %v", got)
		}
	})

	t.Run("Rate Limit Pauses Are Bounded", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		limited := &services.RateLimitError{Service: "spotify", Wait: time.Second}
		catalog.AddErrs = []error{limited, limited, limited, limited}

		cfg := defaultPipelineConfig()
		cfg.MaxRateLimitPauses = 2
		p, sleeps := newTestPipeline(t, catalog, setupTestStore(t), cfg)

		outcomes, err := p.CreatePlaylists(ctx, models.GenreMap{"rock": {trackID(1)}}, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p.Wait()

		if !outcomes["rock"].Failed() {
			t.Errorf("expected rock to fail, got %+v", outcomes["rock"])
		}
		if n := catalog.Calls("AddTracks"); n != 3 {
			t.Errorf("expected 3 add attempts, got %d", n)
		}
		if got := sleeps.recorded(); len(got) != 2 {
			t.Errorf("expected 2 pauses, got %v", got)
		}
	})

	t.Run("Reuses Active Record", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		store := setupTestStore(t)
		existing := &models.PlaylistRecord{
			ID: "existing", Owner: "user-1", Name: "Rock", Genre: "rock", Members: []string{trackID(1)},
		}
		if err := store.Playlists.Create(ctx, existing, time.Hour); err != nil {
			t.Fatalf("failed to seed record: %v", err)
		}
		p, _ := newTestPipeline(t, catalog, store, defaultPipelineConfig())

		outcomes, err := p.CreatePlaylists(ctx, models.GenreMap{"rock": {trackID(1), trackID(2)}}, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p.Wait()

		outcome := outcomes["rock"]
		if !outcome.Reused || outcome.PlaylistID != "existing" || outcome.TrackCount != 1 {
			t.Errorf("unexpected outcome %+v", outcome)
		}
		if catalog.Calls("CreatePlaylist") != 0 {
			t.Error("expected no new playlist")
		}
		added := flatten(catalog.Added("existing"))
		if len(added) != 1 || added[0] != trackID(2) {
			t.Errorf("expected only the new track to be added, got %v", added)
		}
	})

	t.Run("Expired Record Is Not Reused", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		store := setupTestStore(t)
		past := time.Now().Add(-48 * time.Hour)
		store.SetClock(func() time.Time { return past })
		store.Playlists.Create(ctx, &models.PlaylistRecord{ID: "old", Owner: "user-1", Name: "Rock"}, time.Hour)
		store.SetClock(time.Now)

		p, _ := newTestPipeline(t, catalog, store, defaultPipelineConfig())
		outcomes, err := p.CreatePlaylists(ctx, models.GenreMap{"rock": {trackID(1)}}, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p.Wait()

		if outcomes["rock"].Reused || catalog.Calls("CreatePlaylist") != 1 {
			t.Errorf("expected a new playlist, got %+v", outcomes["rock"])
		}
	})

	t.Run("One Failed Genre Does Not Stop Others", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		catalog.AddErrs = []error{&services.StatusError{Service: "spotify", StatusCode: 400, Message: "bad uri"}}
		p, _ := newTestPipeline(t, catalog, setupTestStore(t), defaultPipelineConfig())

		outcomes, err := p.CreatePlaylists(ctx, models.GenreMap{
			"jazz": {trackID(1)},
			"rock": {trackID(2)},
		}, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p.Wait()

		if !outcomes["jazz"].Failed() {
			t.Errorf("expected jazz to fail, got %+v", outcomes["jazz"])
		}
		if outcomes["rock"].Failed() || outcomes["rock"].TrackCount != 1 {
			t.Errorf("expected rock to succeed, got %+v", outcomes["rock"])
		}

		stats := models.Stats(outcomes)
		if stats.TotalPlaylists != 1 || stats.TotalTracks != 1 || stats.Failed != 1 {
			t.Errorf("unexpected stats %+v", stats)
		}
	})

	t.Run("Create Failure Is Retried", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		catalog.CreateErr = &services.StatusError{Service: "spotify", StatusCode: 502, Message: "bad gateway"}
		p, _ := newTestPipeline(t, catalog, setupTestStore(t), defaultPipelineConfig())

		outcomes, err := p.CreatePlaylists(ctx, models.GenreMap{"rock": {trackID(1)}}, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !outcomes["rock"].Failed() {
			t.Errorf("expected failure, got %+v", outcomes["rock"])
		}
		if n := catalog.Calls("CreatePlaylist"); n != 2 {
			t.Errorf("expected 2 create attempts, got %d", n)
		}
	})

	t.Run("Record Insert Failure", func(t *testing.T) {
		tests := []struct {
			name       string
			failures   int
			wantFailed bool
		}{
			{"retried once", 1, false},
			{"unfollows the orphan", 5, true},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				catalog := tu.NewMockCatalog()
				store := setupTestStore(t)
				playlists := &flakyPlaylists{PlaylistRecordRepository: store.Playlists, failures: tt.failures}
				p := NewPipeline(catalog, playlists, store.Audit, testGuards(), defaultPipelineConfig(), testLogger)
				p.sleep = (&sleepRecorder{}).sleep

				outcomes, err := p.CreatePlaylists(ctx, models.GenreMap{"rock": {trackID(1)}}, true)
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				p.Wait()

				if got := outcomes["rock"].Failed(); got != tt.wantFailed {
					t.Errorf("expected failed=%v, got %+v", tt.wantFailed, outcomes["rock"])
				}
				if playlists.creates != 2 {
					t.Errorf("expected 2 insert attempts, got %d", playlists.creates)
				}

				unfollowed := catalog.Unfollowed()
				if tt.wantFailed {
					if len(unfollowed) != 1 || unfollowed[0] != "playlist-1" {
						t.Errorf("expected the unrecorded playlist to be unfollowed, got %v", unfollowed)
					}
					if len(catalog.Added("playlist-1")) != 0 {
						t.Error("expected no tracks added to the unrecorded playlist")
					}
					return
				}
				if len(unfollowed) != 0 {
					t.Errorf("expected nothing unfollowed, got %v", unfollowed)
				}
				if _, err := store.Playlists.Get(ctx, "playlist-1"); err != nil {
					t.Errorf("expected the playlist to be recorded: %v", err)
				}
			})
		}
	})

	t.Run("Follow Failure Is Ignored", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		catalog.FollowErr = errors.New("follow failed")
		p, _ := newTestPipeline(t, catalog, setupTestStore(t), defaultPipelineConfig())

		outcomes, err := p.CreatePlaylists(ctx, models.GenreMap{"rock": {trackID(1)}}, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if outcomes["rock"].Failed() {
			t.Errorf("follow failure should not fail the genre: %+v", outcomes["rock"])
		}
	})

	t.Run("Names And Skips", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		cfg := defaultPipelineConfig()
		cfg.PlaylistPrefix = "GL: "
		p, _ := newTestPipeline(t, catalog, setupTestStore(t), cfg)

		outcomes, err := p.CreatePlaylists(ctx, models.GenreMap{
			"hip hop": {trackID(1), "", "  "},
			"empty":   {"", " "},
		}, true)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p.Wait()

		if _, ok := outcomes["empty"]; ok {
			t.Error("genre without tracks should be skipped")
		}
		created := catalog.Created()
		if len(created) != 1 || created[0].Name != "GL: Hip Hop" {
			t.Errorf("expected one playlist named %q, got %+v", "GL: Hip Hop", created)
		}
		if outcomes["hip hop"].TrackCount != 1 {
			t.Errorf("blank ids should be filtered, got %+v", outcomes["hip hop"])
		}
	})

	t.Run("Reports Progress", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		p, _ := newTestPipeline(t, catalog, setupTestStore(t), defaultPipelineConfig())

		progress := make(chan ProgressUpdate, 10)
		if _, err := p.CreatePlaylistsWithProgress(ctx, models.GenreMap{"a": {trackID(1)}, "b": {trackID(2)}}, true, progress); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		p.Wait()
		close(progress)

		count := 0
		for update := range progress {
			if update.Phase != PhaseCreatePlaylists {
				t.Errorf("unexpected phase %v", update.Phase)
			}
			count++
		}
		if count != 2 {
			t.Errorf("expected 2 updates, got %d", count)
		}
	})
}
