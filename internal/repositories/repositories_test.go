package repositories

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/shared"
)

// setupTestDB creates an in-memory SQLite database with migrations applied
func setupTestDB(t *testing.T) *sql.DB {
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
	return db
}

// setupTestStore returns a store on a fresh database whose clock reads the returned pointer.
func setupTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()

	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store := NewStore(setupTestDB(t), 2, shared.NewLogger(io.Discard))
	store.SetClock(func() time.Time { return now })
	return store, &now
}

func TestTrackCacheRepository(t *testing.T) {
	ctx := context.Background()

	record := func(id, primary string) models.TrackGenreRecord {
		return models.TrackGenreRecord{
			TrackID:      id,
			Genres:       []string{primary, "indie"},
			PrimaryGenre: primary,
			Confidence:   3.2,
			Sources:      map[string][]string{"spotify": {primary}, "lastfm": {"indie"}},
		}
	}

	t.Run("Get Miss", func(t *testing.T) {
		store, _ := setupTestStore(t)

		_, err := store.Tracks.Get(ctx, "missing")
		if !errors.Is(err, shared.ErrCacheMiss) {
			t.Errorf("expected ErrCacheMiss, got %v", err)
		}
	})

	t.Run("UpsertMany In Batches", func(t *testing.T) {
		store, _ := setupTestStore(t)

		records := []models.TrackGenreRecord{record("a", "rock"), record("b", "jazz"), record("c", "soul")}
		written, err := store.Tracks.UpsertMany(ctx, records)
		if err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}
		if written != 3 {
			t.Errorf("expected 3 written, got %d", written)
		}

		got, err := store.Tracks.Get(ctx, "b")
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if got.PrimaryGenre != "jazz" || got.Confidence != 3.2 {
			t.Errorf("unexpected record %+v", got)
		}
		if len(got.Sources["lastfm"]) != 1 || got.Genres[1] != "indie" {
			t.Errorf("json columns not round-tripped: %+v", got)
		}
		if got.LastUpdated.IsZero() {
			t.Error("expected last_updated to be stamped")
		}
	})

	t.Run("Upsert Replaces By Id", func(t *testing.T) {
		store, _ := setupTestStore(t)

		if _, err := store.Tracks.UpsertMany(ctx, []models.TrackGenreRecord{record("a", "rock")}); err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}
		if _, err := store.Tracks.UpsertMany(ctx, []models.TrackGenreRecord{record("a", "metal")}); err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}

		got, err := store.Tracks.Get(ctx, "a")
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if got.PrimaryGenre != "metal" {
			t.Errorf("expected replaced genre metal, got %s", got.PrimaryGenre)
		}

		n, err := store.Tracks.Count(ctx)
		if err != nil || n != 1 {
			t.Errorf("expected 1 row, got %d (%v)", n, err)
		}
	})

	t.Run("GetMany", func(t *testing.T) {
		store, _ := setupTestStore(t)

		records := []models.TrackGenreRecord{record("a", "rock"), record("b", "jazz"), record("c", "soul")}
		if _, err := store.Tracks.UpsertMany(ctx, records); err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}

		got, err := store.Tracks.GetMany(ctx, []string{"a", "c", "zzz"})
		if err != nil {
			t.Fatalf("failed to get many: %v", err)
		}
		if len(got) != 2 {
			t.Errorf("expected 2 records, got %d", len(got))
		}

		none, err := store.Tracks.GetMany(ctx, nil)
		if err != nil || len(none) != 0 {
			t.Errorf("expected nothing for no ids, got %v, %v", none, err)
		}
	})

	t.Run("Stale Records Are Misses", func(t *testing.T) {
		store, now := setupTestStore(t)
		store.Tracks.SetTTL(24 * time.Hour)

		old := record("old", "unknown")
		old.LastUpdated = now.Add(-48 * time.Hour)
		if _, err := store.Tracks.UpsertMany(ctx, []models.TrackGenreRecord{old, record("new", "rock")}); err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}

		got, err := store.Tracks.GetMany(ctx, []string{"old", "new"})
		if err != nil {
			t.Fatalf("failed to get many: %v", err)
		}
		if len(got) != 1 || got[0].TrackID != "new" {
			t.Errorf("expected only the fresh record, got %v", got)
		}
		if _, err := store.Tracks.Get(ctx, "old"); !errors.Is(err, shared.ErrCacheMiss) {
			t.Errorf("expected ErrCacheMiss for a stale record, got %v", err)
		}

		n, err := store.Tracks.PurgeExpired(ctx)
		if err != nil || n != 1 {
			t.Errorf("expected 1 purged, got %d (%v)", n, err)
		}
		if count, _ := store.Tracks.Count(ctx); count != 1 {
			t.Errorf("expected 1 row left, got %d", count)
		}
	})
}

func TestArtistGenreRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Valid Until Expiry", func(t *testing.T) {
		store, now := setupTestStore(t)

		if _, err := store.Artists.Upsert(ctx, "artist-1", []string{"shoegaze"}, 30*24*time.Hour); err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}

		got, err := store.Artists.Get(ctx, "artist-1")
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if len(got.Genres) != 1 || got.Genres[0] != "shoegaze" {
			t.Errorf("unexpected genres %v", got.Genres)
		}

		*now = now.Add(30 * 24 * time.Hour)
		if _, err := store.Artists.Get(ctx, "artist-1"); !errors.Is(err, shared.ErrCacheMiss) {
			t.Errorf("record at its expiry instant should miss, got %v", err)
		}
	})

	t.Run("Empty Genres Are Cached", func(t *testing.T) {
		store, _ := setupTestStore(t)

		if _, err := store.Artists.Upsert(ctx, "artist-2", nil, time.Hour); err != nil {
			t.Fatalf("failed to upsert: %v", err)
		}
		got, err := store.Artists.Get(ctx, "artist-2")
		if err != nil {
			t.Fatalf("an artist without genres is still a hit: %v", err)
		}
		if got.Genres == nil || len(got.Genres) != 0 {
			t.Errorf("expected empty genres, got %v", got.Genres)
		}
	})

	t.Run("PurgeExpired", func(t *testing.T) {
		store, now := setupTestStore(t)

		store.Artists.Upsert(ctx, "short", []string{"a"}, time.Hour)
		store.Artists.Upsert(ctx, "long", []string{"b"}, 48*time.Hour)

		*now = now.Add(2 * time.Hour)
		n, err := store.Artists.PurgeExpired(ctx)
		if err != nil {
			t.Fatalf("failed to purge: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 purged, got %d", n)
		}
		if _, err := store.Artists.Get(ctx, "long"); err != nil {
			t.Errorf("unexpired row should survive: %v", err)
		}
	})
}

func TestPlaylistRecordRepository(t *testing.T) {
	ctx := context.Background()

	newRecord := func(id, name string) *models.PlaylistRecord {
		return &models.PlaylistRecord{ID: id, Owner: "user-1", Name: name, Genre: "rock"}
	}

	t.Run("FindActive", func(t *testing.T) {
		store, now := setupTestStore(t)

		if err := store.Playlists.Create(ctx, newRecord("pl-1", "Rock"), 30*24*time.Hour); err != nil {
			t.Fatalf("failed to create: %v", err)
		}

		got, err := store.Playlists.FindActive(ctx, "user-1", "Rock")
		if err != nil {
			t.Fatalf("failed to find: %v", err)
		}
		if got.ID != "pl-1" {
			t.Errorf("expected pl-1, got %s", got.ID)
		}

		if _, err := store.Playlists.FindActive(ctx, "user-2", "Rock"); !errors.Is(err, shared.ErrRecordNotFound) {
			t.Errorf("other owner should not match, got %v", err)
		}

		*now = now.Add(31 * 24 * time.Hour)
		if _, err := store.Playlists.FindActive(ctx, "user-1", "Rock"); !errors.Is(err, shared.ErrRecordNotFound) {
			t.Errorf("expired record should not match, got %v", err)
		}
	})

	t.Run("Create Duplicate Id", func(t *testing.T) {
		store, _ := setupTestStore(t)

		if err := store.Playlists.Create(ctx, newRecord("pl-1", "Rock"), time.Hour); err != nil {
			t.Fatalf("failed to create: %v", err)
		}
		err := store.Playlists.Create(ctx, newRecord("pl-1", "Rock"), time.Hour)
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for duplicate id, got %v", err)
		}
	})

	t.Run("Create Requires Identity", func(t *testing.T) {
		store, _ := setupTestStore(t)

		err := store.Playlists.Create(ctx, &models.PlaylistRecord{ID: "pl-1"}, time.Hour)
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})

	t.Run("AppendMembers Keeps Order", func(t *testing.T) {
		store, _ := setupTestStore(t)

		if err := store.Playlists.Create(ctx, newRecord("pl-1", "Rock"), time.Hour); err != nil {
			t.Fatalf("failed to create: %v", err)
		}

		for _, batch := range [][]string{{"a", "b"}, {"c"}} {
			if _, err := store.Playlists.AppendMembers(ctx, "pl-1", batch); err != nil {
				t.Fatalf("failed to append: %v", err)
			}
		}

		got, err := store.Playlists.Get(ctx, "pl-1")
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		want := []string{"a", "b", "c"}
		if len(got.Members) != len(want) {
			t.Fatalf("expected %v, got %v", want, got.Members)
		}
		for i := range want {
			if got.Members[i] != want[i] {
				t.Errorf("expected %v, got %v", want, got.Members)
				break
			}
		}

		if _, err := store.Playlists.AppendMembers(ctx, "missing", []string{"x"}); !errors.Is(err, shared.ErrRecordNotFound) {
			t.Errorf("expected ErrRecordNotFound, got %v", err)
		}
	})

	t.Run("ListStale By Prefix", func(t *testing.T) {
		store, now := setupTestStore(t)

		store.Playlists.Create(ctx, newRecord("pl-1", "GL: Rock"), 90*24*time.Hour)
		store.Playlists.Create(ctx, newRecord("pl-2", "Rock"), 90*24*time.Hour)
		store.Playlists.Create(ctx, newRecord("pl-3", "GL_ Jazz"), 90*24*time.Hour)
		*now = now.Add(10 * 24 * time.Hour)
		store.Playlists.Create(ctx, newRecord("pl-4", "GL: Soul"), 90*24*time.Hour)

		stale, err := store.Playlists.ListStale(ctx, "user-1", "GL:", now.Add(-24*time.Hour))
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(stale) != 1 || stale[0].ID != "pl-1" {
			t.Errorf("expected only pl-1, got %+v", stale)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		store, _ := setupTestStore(t)

		store.Playlists.Create(ctx, newRecord("pl-1", "Rock"), time.Hour)
		if err := store.Playlists.Delete(ctx, "pl-1"); err != nil {
			t.Fatalf("failed to delete: %v", err)
		}
		if err := store.Playlists.Delete(ctx, "pl-1"); !errors.Is(err, shared.ErrRecordNotFound) {
			t.Errorf("expected ErrRecordNotFound on second delete, got %v", err)
		}
	})
}

func TestAnalysisRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Create Writes Audit Row", func(t *testing.T) {
		store, _ := setupTestStore(t)

		record := &models.AnalysisRecord{
			UserID: "user-1",
			Source: "liked_tracks",
			Tracks: []models.Track{{ID: "a", Name: "Song", ArtistName: "Band"}},
			Genres: models.GenreMap{"rock": {"a"}},
		}
		if err := store.Analyses.Create(ctx, record); err != nil {
			t.Fatalf("failed to create: %v", err)
		}
		if record.ID == "" {
			t.Fatal("expected id to be assigned")
		}

		got, err := store.Analyses.Get(ctx, record.ID)
		if err != nil {
			t.Fatalf("failed to get: %v", err)
		}
		if got.Genres["rock"][0] != "a" || got.Tracks[0].ArtistName != "Band" {
			t.Errorf("unexpected analysis %+v", got)
		}

		rows, err := store.Audit.List(ctx, AuditFilter{AnalysisID: record.ID})
		if err != nil {
			t.Fatalf("failed to list audit: %v", err)
		}
		if len(rows) != 1 || rows[0].Action != models.AuditAnalysisCreated {
			t.Errorf("expected one analysis_created row, got %+v", rows)
		}
	})

	t.Run("Get Missing", func(t *testing.T) {
		store, _ := setupTestStore(t)

		_, err := store.Analyses.Get(ctx, "nope")
		if !errors.Is(err, shared.ErrAnalysisNotFound) {
			t.Errorf("expected ErrAnalysisNotFound, got %v", err)
		}
	})

	t.Run("ListByUser Newest First", func(t *testing.T) {
		store, now := setupTestStore(t)

		for _, src := range []string{"first", "second", "third"} {
			if err := store.Analyses.Create(ctx, &models.AnalysisRecord{UserID: "user-1", Source: src}); err != nil {
				t.Fatalf("failed to create: %v", err)
			}
			*now = now.Add(time.Minute)
		}
		store.Analyses.Create(ctx, &models.AnalysisRecord{UserID: "user-2", Source: "other"})

		got, err := store.Analyses.ListByUser(ctx, "user-1", 2)
		if err != nil {
			t.Fatalf("failed to list: %v", err)
		}
		if len(got) != 2 || got[0].Source != "third" || got[1].Source != "second" {
			t.Errorf("expected third, second; got %+v", got)
		}
	})
}

func TestUserTrackRepository(t *testing.T) {
	ctx := context.Background()
	store, _ := setupTestStore(t)

	tracks := []models.Track{
		{ID: "a", Name: "One", AddedAt: "2024-01-01T00:00:00Z"},
		{ID: "b", Name: "Two", AddedAt: "2024-02-01T00:00:00Z"},
		{ID: "", Name: "Local"},
	}

	n, err := store.UserTracks.SaveAll(ctx, "user-1", tracks)
	if err != nil {
		t.Fatalf("failed to save: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 saved, got %d", n)
	}

	tracks[0].Name = "One (Remastered)"
	if _, err := store.UserTracks.SaveAll(ctx, "user-1", tracks[:1]); err != nil {
		t.Fatalf("failed to resave: %v", err)
	}

	got, err := store.UserTracks.List(ctx, "user-1")
	if err != nil {
		t.Fatalf("failed to list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected one row per (user, track), got %d", len(got))
	}
	if got[0].ID != "b" || got[1].Name != "One (Remastered)" {
		t.Errorf("unexpected tracks %+v", got)
	}

	if _, err := store.UserTracks.SaveAll(ctx, "", tracks); !errors.Is(err, shared.ErrMissingArgument) {
		t.Errorf("expected ErrMissingArgument, got %v", err)
	}
}

func TestAuthTokenRepository(t *testing.T) {
	ctx := context.Background()

	t.Run("Latest", func(t *testing.T) {
		store, now := setupTestStore(t)

		if _, err := store.Tokens.Latest(ctx, "spotify"); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expected ErrNotAuthenticated, got %v", err)
		}

		store.Tokens.Save(ctx, &models.AuthToken{Provider: "spotify", AccessToken: "old"}, 7*24*time.Hour)
		*now = now.Add(time.Hour)
		expiry := now.Add(time.Hour)
		store.Tokens.Save(ctx, &models.AuthToken{Provider: "spotify", AccessToken: "new", RefreshToken: "r", Expiry: expiry}, 7*24*time.Hour)

		got, err := store.Tokens.Latest(ctx, "spotify")
		if err != nil {
			t.Fatalf("failed to load: %v", err)
		}
		if got.AccessToken != "new" || got.RefreshToken != "r" {
			t.Errorf("expected newest token, got %+v", got)
		}
		if !got.Expiry.Equal(expiry) {
			t.Errorf("expected expiry %v, got %v", expiry, got.Expiry)
		}

		*now = now.Add(8 * 24 * time.Hour)
		if _, err := store.Tokens.Latest(ctx, "spotify"); !errors.Is(err, shared.ErrNotAuthenticated) {
			t.Errorf("expired tokens should not load, got %v", err)
		}
	})

	t.Run("Save Validates", func(t *testing.T) {
		store, _ := setupTestStore(t)

		err := store.Tokens.Save(ctx, &models.AuthToken{Provider: "spotify"}, time.Hour)
		if !errors.Is(err, shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", err)
		}
	})
}

func TestStore(t *testing.T) {
	ctx := context.Background()

	t.Run("Ping", func(t *testing.T) {
		store, _ := setupTestStore(t)
		if err := store.Ping(ctx); err != nil {
			t.Errorf("expected reachable database: %v", err)
		}
	})

	t.Run("PurgeExpired", func(t *testing.T) {
		store, now := setupTestStore(t)

		store.Tracks.SetTTL(time.Hour)
		store.Tracks.UpsertMany(ctx, []models.TrackGenreRecord{{TrackID: "t", PrimaryGenre: "rock"}})
		store.Artists.Upsert(ctx, "artist", []string{"rock"}, time.Hour)
		store.Playlists.Create(ctx, &models.PlaylistRecord{ID: "pl", Owner: "u", Name: "Rock"}, time.Hour)
		store.Tokens.Save(ctx, &models.AuthToken{Provider: "spotify", AccessToken: "t"}, time.Hour)
		store.Playlists.Create(ctx, &models.PlaylistRecord{ID: "keep", Owner: "u", Name: "Jazz"}, 48*time.Hour)

		*now = now.Add(2 * time.Hour)
		stats, err := store.PurgeExpired(ctx)
		if err != nil {
			t.Fatalf("failed to purge: %v", err)
		}
		if stats.Tracks != 1 || stats.Artists != 1 || stats.Playlists != 1 || stats.Tokens != 1 || stats.Total() != 4 {
			t.Errorf("unexpected stats %+v", stats)
		}
	})
}
