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

// seedLibrary saves n tracks whose artists alternate between rock and jazz.
func seedLibrary(catalog *tu.MockCatalog, n int) {
	for i := 1; i <= n; i++ {
		artist, genre := "Rocker", "rock"
		if i%2 == 0 {
			artist, genre = "Jazzer", "jazz"
		}
		tr := track(i, artist)
		catalog.AddTrack(tr, genre)
		catalog.Saved = append(catalog.Saved, tr)
	}
}

func TestWorkflowRun(t *testing.T) {
	ctx := context.Background()

	t.Run("Analysis Only", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		seedLibrary(catalog, 4)
		w, store := newTestWorkflow(t, catalog)

		result, err := w.Run(ctx, RunOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Status != StatusCompleted {
			t.Errorf("expected completed, got %s", result.Status)
		}
		if result.Stats.TotalTracks != 4 || result.Stats.UniqueGenres != 2 {
			t.Errorf("unexpected stats %+v", result.Stats)
		}
		if result.Outcomes != nil || catalog.Calls("CreatePlaylist") != 0 {
			t.Error("playlists must not be created without confirmation")
		}

		analysis, err := store.Analyses.Get(ctx, result.AnalysisID)
		if err != nil {
			t.Fatalf("expected stored analysis: %v", err)
		}
		if analysis.Source != SourceLikedTracks || analysis.UserID != "user-1" || len(analysis.Genres["rock"]) != 2 {
			t.Errorf("unexpected analysis %+v", analysis)
		}

		saved, err := store.UserTracks.List(ctx, "user-1")
		if err != nil || len(saved) != 4 {
			t.Errorf("expected 4 user tracks, got %d (%v)", len(saved), err)
		}

		audit, err := store.Audit.List(ctx, repositories.AuditFilter{AnalysisID: result.AnalysisID})
		if err != nil || len(audit) != 1 {
			t.Errorf("expected one audit row for the analysis, got %d (%v)", len(audit), err)
		}
	})

	t.Run("With Confirmation", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		seedLibrary(catalog, 5)
		w, _ := newTestWorkflow(t, catalog)

		result, err := w.Run(ctx, RunOptions{Confirm: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Status != StatusCompleted {
			t.Errorf("expected completed, got %s", result.Status)
		}
		if result.Stats.TotalPlaylists != 2 || result.Stats.TotalTracksAdded != 5 {
			t.Errorf("unexpected stats %+v", result.Stats)
		}
		if len(result.Outcomes) != 2 {
			t.Errorf("expected an outcome per genre, got %v", result.Outcomes)
		}
	})

	t.Run("Max Tracks", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		seedLibrary(catalog, 120)
		w, _ := newTestWorkflow(t, catalog)

		result, err := w.Run(ctx, RunOptions{MaxTracks: 70})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Stats.TotalTracks != 70 {
			t.Errorf("expected 70 tracks, got %d", result.Stats.TotalTracks)
		}
		if n := catalog.Calls("SavedTracks"); n != 2 {
			t.Errorf("expected 2 pages (50 + 20), got %d", n)
		}
	})

	t.Run("No Tracks Fails Track Loading", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		w, _ := newTestWorkflow(t, catalog)

		result, err := w.Run(ctx, RunOptions{})
		if shared.StageOf(err) != shared.StageTrackLoading {
			t.Errorf("expected track_loading stage, got %v", err)
		}
		if !errors.Is(err, shared.ErrNoTracks) {
			t.Errorf("expected ErrNoTracks, got %v", err)
		}
		if result.Status != StatusFailed || result.ErrorStage != shared.StageTrackLoading || result.Error == "" {
			t.Errorf("unexpected result %+v", result)
		}
	})

	t.Run("Initialization Failure", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		catalog.UserErr = errors.New("unauthorized")
		w, _ := newTestWorkflow(t, catalog)

		result, err := w.Run(ctx, RunOptions{})
		if shared.KindOf(err) != shared.KindStage || shared.StageOf(err) != shared.StageInitialization {
			t.Errorf("expected initialization stage error, got %v", err)
		}
		if result.Status != StatusFailed {
			t.Errorf("expected failed, got %s", result.Status)
		}
	})

	t.Run("Track Loading Failure", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		catalog.SavedErr = &services.StatusError{Service: "spotify", StatusCode: 403, Message: "forbidden"}
		w, _ := newTestWorkflow(t, catalog)

		_, err := w.Run(ctx, RunOptions{})
		if shared.StageOf(err) != shared.StageTrackLoading {
			t.Errorf("expected track_loading stage, got %v", err)
		}
	})

	t.Run("Cancellation Is Not A Stage Failure", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		seedLibrary(catalog, 2)
		w, _ := newTestWorkflow(t, catalog)

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		result, err := w.Run(cctx, RunOptions{})
		if err == nil {
			t.Fatal("expected error")
		}
		if result.Status != StatusError || result.ErrorStage != "" {
			t.Errorf("expected error status without stage, got %+v", result)
		}
	})

	t.Run("Failed Creation Leaves Analysis To Retry", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		seedLibrary(catalog, 2)
		catalog.CreateErr = errors.New("quota exceeded")
		w, _ := newTestWorkflow(t, catalog)

		result, err := w.Run(ctx, RunOptions{Confirm: true})
		if err != nil {
			t.Fatalf("per-genre failures should not fail the run: %v", err)
		}
		if result.Stats.TotalPlaylists != 0 || len(result.Outcomes) != 2 {
			t.Fatalf("expected two failed outcomes, got %+v", result)
		}

		catalog.CreateErr = nil
		created, err := w.CreatePlaylistsForAnalysis(ctx, result.AnalysisID, true, CreateOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if created.Stats.TotalPlaylists != 2 || created.Stats.TotalTracks != 2 {
			t.Errorf("unexpected stats %+v", created.Stats)
		}
	})
}

func TestWorkflowAnalyzePlaylist(t *testing.T) {
	ctx := context.Background()

	catalog := tu.NewMockCatalog()
	for i := 1; i <= 3; i++ {
		tr := track(i, "Rocker")
		catalog.AddTrack(tr, "rock")
		catalog.Lists["mix"] = append(catalog.Lists["mix"], tr)
	}
	w, _ := newTestWorkflow(t, catalog)

	analysis, err := w.AnalyzePlaylist(ctx, "mix", AnalyzeOptions{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if analysis.Source != "playlist:mix" || len(analysis.Genres["rock"]) != 3 {
		t.Errorf("unexpected analysis %+v", analysis)
	}

	_, err = w.AnalyzePlaylist(ctx, "missing", AnalyzeOptions{})
	if shared.StageOf(err) != shared.StageTrackLoading || !errors.Is(err, shared.ErrRecordNotFound) {
		t.Errorf("expected track_loading not found error, got %v", err)
	}

	if _, err := w.AnalyzePlaylist(ctx, "", AnalyzeOptions{}); shared.KindOf(err) != shared.KindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
}

func TestWorkflowLoadTracks(t *testing.T) {
	ctx := context.Background()
	w, _ := newTestWorkflow(t, tu.NewMockCatalog())

	t.Run("Stops After Empty Pages", func(t *testing.T) {
		calls := 0
		fetch := func(ctx context.Context, limit, offset int) (*services.TrackPage, error) {
			calls++
			return &services.TrackPage{Total: 1000, Offset: offset, HasNext: true}, nil
		}

		tracks, err := w.loadTracks(ctx, fetch, 50, 500, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tracks) != 0 {
			t.Errorf("expected no tracks, got %d", len(tracks))
		}
		if calls != 3 {
			t.Errorf("expected 3 attempts, got %d", calls)
		}
	})

	t.Run("Empty Page Is Fetched Again", func(t *testing.T) {
		all := make([]models.Track, 60)
		for n := range all {
			all[n] = track(n+1, "A")
		}

		offsets := map[int]int{}
		fetch := func(ctx context.Context, limit, offset int) (*services.TrackPage, error) {
			offsets[offset]++
			if offset == 0 && offsets[0] == 1 {
				return &services.TrackPage{Total: len(all), HasNext: true}, nil
			}
			end := min(offset+limit, len(all))
			return &services.TrackPage{Tracks: all[offset:end], Total: len(all), Offset: offset, HasNext: end < len(all)}, nil
		}

		tracks, err := w.loadTracks(ctx, fetch, 50, 500, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(tracks) != 60 {
			t.Errorf("expected all 60 tracks, got %d", len(tracks))
		}
		if offsets[0] != 2 || offsets[50] != 1 {
			t.Errorf("expected offset 0 to be fetched twice then offset 50 once, got %v", offsets)
		}
	})
}

func TestWorkflowStoredAnalyses(t *testing.T) {
	ctx := context.Background()

	catalog := tu.NewMockCatalog()
	w, store := newTestWorkflow(t, catalog)

	analysis := &models.AnalysisRecord{
		UserID: "user-1",
		Source: SourceLikedTracks,
		Tracks: []models.Track{track(1, "A"), track(2, "A"), track(3, "A"), track(4, "B")},
		Genres: models.GenreMap{
			"rock": {trackID(1), trackID(2), trackID(3)},
			"jazz": {trackID(4)},
		},
	}
	if err := store.Analyses.Create(ctx, analysis); err != nil {
		t.Fatalf("failed to seed analysis: %v", err)
	}
	store.Tracks.UpsertMany(ctx, []models.TrackGenreRecord{{TrackID: trackID(1), PrimaryGenre: "rock", Confidence: 3.5}})

	t.Run("Breakdown", func(t *testing.T) {
		breakdown, err := w.Breakdown(ctx, analysis.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if b := breakdown["rock"]; b.Count != 3 || b.Percentage != 75 {
			t.Errorf("unexpected rock breakdown %+v", b)
		}
		if b := breakdown["jazz"]; b.Count != 1 || b.Percentage != 25 {
			t.Errorf("unexpected jazz breakdown %+v", b)
		}
	})

	t.Run("Breakdown Rounds", func(t *testing.T) {
		breakdown := Breakdown(models.GenreMap{"a": {"1"}, "b": {"2"}, "c": {"3"}})
		if got := breakdown["a"].Percentage; got != 33.33 {
			t.Errorf("expected 33.33, got %v", got)
		}
		if len(Breakdown(models.GenreMap{})) != 0 {
			t.Error("expected empty breakdown")
		}
	})

	t.Run("Details", func(t *testing.T) {
		details, err := w.Details(ctx, analysis.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		rock := details["rock"]
		if len(rock) != 3 || rock[0].Name != "Song 1" || rock[0].Artist != "A" {
			t.Fatalf("unexpected rock details %+v", rock)
		}
		if rock[0].Confidence != 3.5 || rock[1].Confidence != 0 {
			t.Errorf("expected cached confidence only for track 1, got %+v", rock)
		}
	})

	t.Run("FilteredGenres", func(t *testing.T) {
		genres, err := w.FilteredGenres(ctx, analysis.ID, []string{trackID(4), trackID(1)})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, ok := genres["jazz"]; ok {
			t.Error("emptied genre should be dropped")
		}
		if len(genres["rock"]) != 2 {
			t.Errorf("expected 2 rock tracks, got %v", genres["rock"])
		}
		if len(analysis.Genres["rock"]) != 3 {
			t.Error("filtering must not modify the analysis")
		}
	})

	t.Run("Missing Analysis", func(t *testing.T) {
		_, err := w.Breakdown(ctx, "missing")
		if shared.KindOf(err) != shared.KindNotFound || !errors.Is(err, shared.ErrAnalysisNotFound) {
			t.Errorf("expected not found, got %v", err)
		}
	})

	t.Run("History", func(t *testing.T) {
		history, err := w.History(ctx, "user-1", 10)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(history) != 1 || history[0].TrackCount != 4 || history[0].GenreCount != 2 {
			t.Errorf("unexpected history %+v", history)
		}
	})

	t.Run("Create Requires Analysis Then Confirmation", func(t *testing.T) {
		_, err := w.CreatePlaylistsForAnalysis(ctx, "missing", true, CreateOptions{})
		if shared.KindOf(err) != shared.KindNotFound {
			t.Errorf("expected not found, got %v", err)
		}

		_, err = w.CreatePlaylistsForAnalysis(ctx, analysis.ID, false, CreateOptions{})
		if shared.KindOf(err) != shared.KindPermission {
			t.Errorf("expected permission error, got %v", err)
		}
		if catalog.Calls("CurrentUser") != 0 {
			t.Error("expected no catalog calls")
		}
	})

	t.Run("Create With Selection And Exclusions", func(t *testing.T) {
		result, err := w.CreatePlaylistsForAnalysis(ctx, analysis.ID, true, CreateOptions{
			Selected: models.GenreMap{"rock": {trackID(1), trackID(2)}},
			Excluded: []string{trackID(2)},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(result.Outcomes) != 1 || result.Outcomes["rock"].TrackCount != 1 {
			t.Errorf("unexpected outcomes %+v", result.Outcomes)
		}
	})
}

func TestWorkflowCleanup(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, store *repositories.Store) {
		t.Helper()
		old := time.Now().Add(-10 * 24 * time.Hour)
		store.SetClock(func() time.Time { return old })
		store.Playlists.Create(ctx, &models.PlaylistRecord{ID: "old-1", Owner: "user-1", Name: "Rock"}, 30*24*time.Hour)
		store.Playlists.Create(ctx, &models.PlaylistRecord{ID: "old-2", Owner: "user-1", Name: "Jazz"}, 30*24*time.Hour)
		store.Playlists.Create(ctx, &models.PlaylistRecord{ID: "other", Owner: "user-2", Name: "Soul"}, 30*24*time.Hour)
		store.SetClock(time.Now)
		store.Playlists.Create(ctx, &models.PlaylistRecord{ID: "new", Owner: "user-1", Name: "Pop"}, 30*24*time.Hour)
	}

	t.Run("Removes Old Playlists", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		w, store := newTestWorkflow(t, catalog)
		seed(t, store)

		result, err := w.Cleanup(ctx, 7*24*time.Hour, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Removed != 2 || result.Failed != 0 {
			t.Errorf("unexpected result %+v", result)
		}
		if got := catalog.Unfollowed(); len(got) != 2 {
			t.Errorf("expected 2 unfollows, got %v", got)
		}
		for _, id := range []string{"old-1", "old-2"} {
			if _, err := store.Playlists.Get(ctx, id); !errors.Is(err, shared.ErrRecordNotFound) {
				t.Errorf("expected %s to be deleted, got %v", id, err)
			}
		}
		for _, id := range []string{"new", "other"} {
			if _, err := store.Playlists.Get(ctx, id); err != nil {
				t.Errorf("expected %s to remain: %v", id, err)
			}
		}

		rows, _ := store.Audit.List(ctx, repositories.AuditFilter{Action: models.AuditPlaylistRemoved})
		if len(rows) != 2 {
			t.Errorf("expected 2 removal audit rows, got %d", len(rows))
		}
	})

	t.Run("Unfollow Failure Keeps Record", func(t *testing.T) {
		catalog := tu.NewMockCatalog()
		catalog.UnfollowErr = errors.New("forbidden")
		w, store := newTestWorkflow(t, catalog)
		seed(t, store)

		result, err := w.Cleanup(ctx, 7*24*time.Hour, nil)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if result.Removed != 0 || result.Failed != 2 {
			t.Errorf("unexpected result %+v", result)
		}
		if _, err := store.Playlists.Get(ctx, "old-1"); err != nil {
			t.Errorf("record should remain after failed unfollow: %v", err)
		}
	})
}
