package ui

import (
	"fmt"

	"github.com/charmbracelet/bubbles/list"
	"github.com/desertthunder/genrelist/internal/models"
)

var (
	_ list.Item = analysisItem{}
	_ list.Item = genreItem{}
	_ list.Item = trackItem{}
)

// analysisItem wraps [models.AnalysisSummary] to implement [list.Item].
type analysisItem struct {
	summary models.AnalysisSummary
}

func (i analysisItem) FilterValue() string { return i.summary.Source }
func (i analysisItem) Title() string {
	return fmt.Sprintf("%s • %s", i.summary.CreatedAt.Local().Format("2006-01-02 15:04"), i.summary.Source)
}
func (i analysisItem) Description() string {
	return fmt.Sprintf("%d tracks • %d genres • %s", i.summary.TrackCount, i.summary.GenreCount, i.summary.AnalysisID)
}

// genreItem is one row of an analysis breakdown.
type genreItem struct {
	genre     string
	breakdown models.GenreBreakdown
}

func (i genreItem) FilterValue() string { return i.genre }
func (i genreItem) Title() string       { return i.genre }
func (i genreItem) Description() string {
	return fmt.Sprintf("%d tracks • %.2f%% %s", i.breakdown.Count, i.breakdown.Percentage, Bar(i.breakdown.Percentage, 20))
}

// trackItem wraps [models.TrackDetail] to implement [list.Item].
type trackItem struct {
	track models.TrackDetail
}

func (i trackItem) FilterValue() string { return i.track.Name }
func (i trackItem) Title() string       { return i.track.Name }
func (i trackItem) Description() string {
	return fmt.Sprintf("%s • confidence %.2f", i.track.Artist, i.track.Confidence)
}
