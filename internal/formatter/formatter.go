// package formatter renders genre analyses as CSV, Markdown or plain text
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/shared"
)

// Format is an export file format.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "markdown"
	FormatText     Format = "text"
)

// ParseFormat accepts "csv", "markdown"/"md" and "text"/"txt".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "csv":
		return FormatCSV, nil
	case "markdown", "md":
		return FormatMarkdown, nil
	case "text", "txt", "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, s)
	}
}

// Ext is the file extension for the format, without the dot.
func (f Format) Ext() string {
	switch f {
	case FormatCSV:
		return "csv"
	case FormatMarkdown:
		return "md"
	default:
		return "txt"
	}
}

// Report is everything an export shows about one analysis. Details may be nil.
type Report struct {
	Analysis  *models.AnalysisRecord
	Breakdown map[string]models.GenreBreakdown
	Details   map[string][]models.TrackDetail
}

// RankGenres orders genres by track count, largest first, then by name.
func RankGenres(breakdown map[string]models.GenreBreakdown) []string {
	genres := make([]string, 0, len(breakdown))
	for g := range breakdown {
		genres = append(genres, g)
	}
	sort.Slice(genres, func(i, j int) bool {
		a, b := breakdown[genres[i]], breakdown[genres[j]]
		if a.Count != b.Count {
			return a.Count > b.Count
		}
		return genres[i] < genres[j]
	})
	return genres
}

// ExportToCSV writes one row per genre, or one row per track when the report has details.
//
// Breakdown columns: Genre, Count, Percentage. Detail columns: Genre, Track ID, Name, Artist, Confidence, Preview URL.
func ExportToCSV(report *Report) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	rows := [][]string{{"Genre", "Count", "Percentage"}}
	if report.Details != nil {
		rows = [][]string{{"Genre", "Track ID", "Name", "Artist", "Confidence", "Preview URL"}}
	}

	for _, genre := range RankGenres(report.Breakdown) {
		if report.Details == nil {
			b := report.Breakdown[genre]
			rows = append(rows, []string{genre, strconv.Itoa(b.Count), formatFloat(b.Percentage)})
			continue
		}
		for _, d := range report.Details[genre] {
			rows = append(rows, []string{genre, d.ID, d.Name, d.Artist, formatFloat(d.Confidence), d.PreviewURL})
		}
	}

	if err := writer.WriteAll(rows); err != nil {
		return nil, fmt.Errorf("failed to write CSV: %w", err)
	}
	return buf.Bytes(), nil
}

// ExportToMarkdown renders a summary, a breakdown table and, when present, a track list per genre.
func ExportToMarkdown(report *Report) ([]byte, error) {
	var buf bytes.Buffer
	a := report.Analysis

	fmt.Fprintf(&buf, "# Genre analysis %s\n\n", a.ID)
	fmt.Fprintf(&buf, "**Source**: %s\n", a.Source)
	fmt.Fprintf(&buf, "**Created**: %s\n", a.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(&buf, "**Tracks**: %d\n", len(a.Tracks))
	fmt.Fprintf(&buf, "**Genres**: %d\n\n", len(report.Breakdown))

	genres := RankGenres(report.Breakdown)

	buf.WriteString("## Breakdown\n\n")
	buf.WriteString("| Genre | Tracks | Share |\n")
	buf.WriteString("|-------|-------:|------:|\n")
	for _, g := range genres {
		b := report.Breakdown[g]
		fmt.Fprintf(&buf, "| %s | %d | %s%% |\n", escapeCell(g), b.Count, formatFloat(b.Percentage))
	}

	if report.Details != nil {
		for _, g := range genres {
			fmt.Fprintf(&buf, "\n## %s\n\n", shared.TitleCase(g))
			for i, d := range report.Details[g] {
				fmt.Fprintf(&buf, "%d. %s - %s (confidence %s)\n", i+1, d.Artist, d.Name, formatFloat(d.Confidence))
			}
		}
	}

	return buf.Bytes(), nil
}

// ExportToText renders the report as plain text.
func ExportToText(report *Report) ([]byte, error) {
	var buf bytes.Buffer
	a := report.Analysis

	fmt.Fprintf(&buf, "Analysis: %s\n", a.ID)
	fmt.Fprintf(&buf, "Source: %s\n", a.Source)
	fmt.Fprintf(&buf, "Tracks: %d\n", len(a.Tracks))
	fmt.Fprintf(&buf, "Genres: %d\n\n", len(report.Breakdown))

	for _, g := range RankGenres(report.Breakdown) {
		b := report.Breakdown[g]
		fmt.Fprintf(&buf, "%s: %d tracks (%s%%)\n", g, b.Count, formatFloat(b.Percentage))
		for _, d := range report.Details[g] {
			fmt.Fprintf(&buf, "  - %s - %s\n", d.Artist, d.Name)
		}
	}

	return buf.Bytes(), nil
}

// Export renders report in format.
func Export(report *Report, format Format) ([]byte, error) {
	if report == nil || report.Analysis == nil {
		return nil, fmt.Errorf("%w: empty report", shared.ErrInvalidInput)
	}

	switch format {
	case FormatCSV:
		return ExportToCSV(report)
	case FormatMarkdown:
		return ExportToMarkdown(report)
	case FormatText:
		return ExportToText(report)
	default:
		return nil, fmt.Errorf("%w: unknown export format %q", shared.ErrInvalidArgument, format)
	}
}

// Write renders report in format to w.
func Write(w io.Writer, report *Report, format Format) error {
	data, err := Export(report, format)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("failed to write export: %w", err)
	}
	return nil
}

// WriteFile exports report to path, creating parent directories.
//
// Defaults to {analysis id}_genres.{ext} in the working directory.
func WriteFile(report *Report, format Format, path string) (string, error) {
	if report == nil || report.Analysis == nil {
		return "", fmt.Errorf("%w: empty report", shared.ErrInvalidInput)
	}
	if path == "" {
		path = fmt.Sprintf("%s_genres.%s", report.Analysis.ID, format.Ext())
	}

	data, err := Export(report, format)
	if err != nil {
		return "", err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write export file: %w", err)
	}
	return path, nil
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(shared.Round2(f), 'f', -1, 64)
}

func escapeCell(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
