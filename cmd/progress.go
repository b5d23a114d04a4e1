package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/desertthunder/genrelist/internal/formatter"
	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/shared"
	"github.com/desertthunder/genrelist/internal/tasks"
	"github.com/desertthunder/genrelist/internal/ui"
	"github.com/k0kubun/go-ansi"
	"github.com/schollz/progressbar/v3"
)

const summaryGenres = 15

// progressReporter draws one bar per multi-step phase from workflow updates.
type progressReporter struct {
	w       io.Writer
	updates chan tasks.ProgressUpdate
	done    chan struct{}
	bar     *progressbar.ProgressBar
	phase   tasks.Phase
	once    sync.Once
}

// startProgress starts drawing updates. A quiet reporter has a nil channel, which the workflow skips.
func (r *Runner) startProgress(quiet bool) *progressReporter {
	p := &progressReporter{w: r.progressWriter(), done: make(chan struct{})}
	if quiet {
		close(p.done)
		return p
	}

	p.updates = make(chan tasks.ProgressUpdate, 64)
	go p.run()
	return p
}

func (r *Runner) progressWriter() io.Writer {
	if r.output == os.Stdout {
		return ansi.NewAnsiStdout()
	}
	return r.output
}

// Updates is passed to the workflow as its progress channel.
func (p *progressReporter) Updates() chan<- tasks.ProgressUpdate {
	if p.updates == nil {
		return nil
	}
	return p.updates
}

// Stop drains pending updates. Call it after the workflow call returns; later calls do nothing.
func (p *progressReporter) Stop() {
	p.once.Do(func() {
		if p.updates != nil {
			close(p.updates)
		}
		<-p.done
	})
}

func (p *progressReporter) run() {
	defer close(p.done)

	for u := range p.updates {
		if u.Total <= 1 {
			p.finish()
			fmt.Fprintf(p.w, "→ %s\n", u.Message)
			continue
		}

		if p.bar == nil || u.Phase != p.phase {
			p.finish()
			p.phase = u.Phase
			p.bar = progressbar.NewOptions(u.Total,
				progressbar.OptionSetWriter(p.w),
				progressbar.OptionEnableColorCodes(true),
				progressbar.OptionSetTheme(progressbar.ThemeASCII),
				progressbar.OptionFullWidth(),
				progressbar.OptionShowCount(),
				progressbar.OptionSetDescription(fmt.Sprintf("[cyan][%d/%d][reset] %s", int(u.Phase)+1, int(tasks.PhaseCleanup)+1, u.Phase)),
			)
		}
		if u.Total != p.bar.GetMax() {
			p.bar.ChangeMax(u.Total)
		}
		p.bar.Set(u.Step)
	}
	p.finish()
}

func (p *progressReporter) finish() {
	if p.bar == nil {
		return
	}
	p.bar.Finish()
	fmt.Fprintln(p.w)
	p.bar = nil
}

// printBreakdown lists the largest genres with a bar for their share.
func (r *Runner) printBreakdown(breakdown map[string]models.GenreBreakdown, limit int) {
	ranked := formatter.RankGenres(breakdown)
	width := 0
	for _, genre := range ranked {
		width = max(width, len(genre))
	}

	for i, genre := range ranked {
		if limit > 0 && i == limit {
			r.writePlain("… and %d more genres\n", len(ranked)-limit)
			break
		}
		b := breakdown[genre]
		r.writePlain("%-*s %5d %6.2f%% %s\n", width, genre, b.Count, b.Percentage, ui.Bar(b.Percentage, 30))
	}
}

// printOutcomes lists each genre's playlist result, then the totals.
func (r *Runner) printOutcomes(outcomes map[string]models.GenreOutcome) {
	genres := make([]string, 0, len(outcomes))
	for genre := range outcomes {
		genres = append(genres, genre)
	}
	sort.Strings(genres)

	for _, genre := range genres {
		o := outcomes[genre]
		switch {
		case o.Failed():
			r.writePlain("✗ %s: %s\n", shared.TitleCase(genre), o.Error)
		case o.Reused:
			r.writePlain("✓ %s: %d tracks added to existing playlist %s\n", shared.TitleCase(genre), o.TrackCount, o.ExternalURL)
		default:
			r.writePlain("✓ %s: %d tracks %s\n", shared.TitleCase(genre), o.TrackCount, o.ExternalURL)
		}
	}

	stats := models.Stats(outcomes)
	r.writePlainln("Playlists: %d  Tracks added: %d  Failed: %d", stats.TotalPlaylists, stats.TotalTracks, stats.Failed)
}
