package tasks

import (
	"fmt"

	"github.com/desertthunder/genrelist/internal/models"
)

// ProgressUpdate represents a progress event during a long-running operation.
//
// Used to send real-time updates to the CLI or UI layer for display.
type ProgressUpdate struct {
	Phase   Phase  // Operation phase
	Step    int    // Current step number within phase
	Total   int    // Total steps in this phase
	Message string // Human-readable message for display
	Data    any    // Optional phase-specific data for advanced UIs
}

// Operation phase enumeration
type Phase int

const (
	PhaseInitialize Phase = iota
	PhaseLoadTracks
	PhaseResolveTracks
	PhaseSaveAnalysis
	PhaseCreatePlaylists
	PhaseCleanup
)

func (p Phase) String() string {
	switch p {
	case PhaseInitialize:
		return "initialize"
	case PhaseLoadTracks:
		return "load_tracks"
	case PhaseResolveTracks:
		return "resolve_tracks"
	case PhaseSaveAnalysis:
		return "save_analysis"
	case PhaseCreatePlaylists:
		return "create_playlists"
	case PhaseCleanup:
		return "cleanup"
	default:
		return ""
	}
}

// sendProgress sends a progress update through the channel without blocking.
// Uses select with default to ensure progress reporting never blocks execution.
func sendProgress(progress chan<- ProgressUpdate, update ProgressUpdate) {
	if progress == nil {
		return
	}
	select {
	case progress <- update:
	default:
	}
}

func initializeUpdate(user string) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhaseInitialize,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Signed in as %s", user),
	}
}

func loadTracksUpdate(loaded, total int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhaseLoadTracks,
		Step:    loaded,
		Total:   total,
		Message: fmt.Sprintf("Loaded %d of %d tracks...", loaded, total),
	}
}

func resolveTrackUpdate(step, total int, record *models.TrackGenreRecord) ProgressUpdate {
	if record == nil {
		return ProgressUpdate{
			Phase:   PhaseResolveTracks,
			Step:    step,
			Total:   total,
			Message: fmt.Sprintf("[%d/%d] failed to resolve track", step, total),
		}
	}
	return ProgressUpdate{
		Phase:   PhaseResolveTracks,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] %s → %s", step, total, record.TrackID, record.PrimaryGenre),
		Data:    record,
	}
}

func saveAnalysisUpdate(analysisID string, genres int) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhaseSaveAnalysis,
		Step:    1,
		Total:   1,
		Message: fmt.Sprintf("Saved analysis %s (%d genres)", analysisID, genres),
	}
}

func playlistCreatedUpdate(step, total int, genre string, outcome models.GenreOutcome) ProgressUpdate {
	verb := "created"
	if outcome.Reused {
		verb = "reused"
	}
	return ProgressUpdate{
		Phase:   PhaseCreatePlaylists,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ %s: %s playlist, %d tracks added", step, total, genre, verb, outcome.TrackCount),
		Data:    outcome,
	}
}

func playlistFailedUpdate(step, total int, genre string, err error) ProgressUpdate {
	return ProgressUpdate{
		Phase:   PhaseCreatePlaylists,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, genre, err),
	}
}

func cleanupUpdate(step, total int, record models.PlaylistRecord, err error) ProgressUpdate {
	if err != nil {
		return ProgressUpdate{
			Phase:   PhaseCleanup,
			Step:    step,
			Total:   total,
			Message: fmt.Sprintf("[%d/%d] ✗ %s: %v", step, total, record.Name, err),
		}
	}
	return ProgressUpdate{
		Phase:   PhaseCleanup,
		Step:    step,
		Total:   total,
		Message: fmt.Sprintf("[%d/%d] ✓ removed %s", step, total, record.Name),
	}
}
