package tasks

import (
	"strings"
	"time"

	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/shared"
)

// Score sums weighted label scores across signals, in signal order.
//
// A label at rank r (0-based) from source s scores s.Weight() * (1 - r/10). Labels are compared
// case-insensitively and scores never go below zero.
func Score(signals []models.GenreSignal) models.GenreScore {
	score := models.GenreScore{Scores: make(map[string]float64)}

	for _, signal := range signals {
		weight := signal.Source.Weight()
		for rank, label := range signal.Labels {
			label = normalizeLabel(label)
			if label == "" {
				continue
			}
			if _, seen := score.Scores[label]; !seen {
				score.Order = append(score.Order, label)
			}
			score.Scores[label] += weight * max(0, 1-float64(rank)/10)
		}
	}
	return score
}

// Primary returns the highest-scoring label and its score rounded to two places.
//
// Ties go to the label that appeared first. An empty score yields [models.UnknownGenre] and 0.
func Primary(score models.GenreScore) (string, float64) {
	best, bestScore := "", 0.0
	for _, label := range score.Order {
		if s := score.Scores[label]; best == "" || s > bestScore {
			best, bestScore = label, s
		}
	}
	if best == "" {
		return models.UnknownGenre, 0
	}
	return best, shared.Round2(bestScore)
}

// BuildRecord scores signals into the cacheable record for trackID.
func BuildRecord(trackID string, signals []models.GenreSignal, now time.Time) models.TrackGenreRecord {
	score := Score(signals)
	primary, confidence := Primary(score)

	sources := make(map[string][]string, len(signals))
	for _, signal := range signals {
		labels := make([]string, 0, len(signal.Labels))
		for _, l := range signal.Labels {
			if l = normalizeLabel(l); l != "" {
				labels = append(labels, l)
			}
		}
		sources[signal.Source.String()] = labels
	}

	genres := score.Order
	if genres == nil {
		genres = []string{}
	}

	return models.TrackGenreRecord{
		TrackID:      trackID,
		Genres:       genres,
		PrimaryGenre: primary,
		Confidence:   confidence,
		Sources:      sources,
		LastUpdated:  now.UTC(),
	}
}

func normalizeLabel(label string) string {
	return strings.ToLower(strings.TrimSpace(label))
}
