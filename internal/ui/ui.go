package ui

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/genrelist/internal/formatter"
	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/tasks"
)

// ViewState represents the current view in the TUI.
type ViewState int

const (
	HistoryView ViewState = iota
	GenreListView
	TrackListView
	ConfirmView
	CreateView
	ResultView
)

const historyLimit = 50

// Backend is what the browser reads and runs. The workflow satisfies it.
type Backend interface {
	History(ctx context.Context, userID string, limit int) ([]models.AnalysisSummary, error)
	Breakdown(ctx context.Context, analysisID string) (map[string]models.GenreBreakdown, error)
	Details(ctx context.Context, analysisID string) (map[string][]models.TrackDetail, error)
	CreatePlaylistsForAnalysis(ctx context.Context, analysisID string, confirmed bool, opts tasks.CreateOptions) (*tasks.CreationResult, error)
}

// Model represents the TUI application state.
type Model struct {
	ctx     context.Context
	backend Backend
	userID  string
	view    ViewState
	width   int
	height  int

	historyList list.Model
	genreList   list.Model
	trackList   list.Model

	analysisID string
	breakdown  map[string]models.GenreBreakdown
	details    map[string][]models.TrackDetail
	genre      string

	progressChan chan tasks.ProgressUpdate
	done         chan Msg
	progress     tasks.ProgressUpdate
	result       *tasks.CreationResult
	err          error

	help help.Model
	keys keyMap
}

// NewModel creates a browser over userID's analyses.
func NewModel(ctx context.Context, backend Backend, userID string) *Model {
	m := &Model{
		ctx:     ctx,
		backend: backend,
		userID:  userID,
		view:    HistoryView,
		help:    help.New(),
		keys:    newKeyMap(),
	}
	m.historyList = m.newList(nil, "Analyses")
	m.genreList = m.newList(nil, "Genres")
	m.trackList = m.newList(nil, "Tracks")
	return m
}

// Init loads the user's history.
func (m *Model) Init() tea.Cmd {
	return m.fetchHistory()
}

// Update handles incoming messages and updates the model state.
func (m *Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.historyList.SetSize(msg.Width-4, msg.Height-8)
		m.genreList.SetSize(msg.Width-4, msg.Height-8)
		m.trackList.SetSize(msg.Width-4, msg.Height-8)
		return m, nil

	case tea.KeyMsg:
		if key.Matches(msg, m.keys.quit) && m.view != CreateView {
			return m, tea.Quit
		}
		switch m.view {
		case HistoryView:
			return m.handleHistoryKeys(msg)
		case GenreListView:
			return m.handleGenreKeys(msg)
		case TrackListView:
			return m.handleTrackKeys(msg)
		case ConfirmView:
			return m.handleConfirmKeys(msg)
		case ResultView:
			return m.handleResultKeys(msg)
		}
		return m, nil

	case Msg:
		return m.handleMsg(msg)
	}

	return m.updateLists(msg)
}

func (m *Model) handleMsg(msg Msg) (tea.Model, tea.Cmd) {
	switch msg.kind {
	case MsgHistoryFetched:
		data := msg.data.(historyData)
		if data.err != nil {
			m.err = data.err
			return m, nil
		}
		items := make([]list.Item, len(data.history))
		for i, s := range data.history {
			items[i] = analysisItem{summary: s}
		}
		m.historyList = m.newList(items, "Analyses")
		m.view = HistoryView
		return m, nil

	case MsgAnalysisFetched:
		data := msg.data.(analysisData)
		if data.err != nil {
			m.err = data.err
			return m, nil
		}
		m.analysisID = data.analysisID
		m.breakdown = data.breakdown
		m.details = data.details

		genres := formatter.RankGenres(data.breakdown)
		items := make([]list.Item, len(genres))
		for i, g := range genres {
			items[i] = genreItem{genre: g, breakdown: data.breakdown[g]}
		}
		m.genreList = m.newList(items, fmt.Sprintf("Genres in %s", data.analysisID))
		m.view = GenreListView
		return m, nil

	case MsgProgressUpdate:
		m.progress = msg.data.(tasks.ProgressUpdate)
		return m, m.waitForProgress()

	case MsgCreateComplete:
		data := msg.data.(createData)
		m.result = data.result
		m.err = data.err
		m.progressChan = nil
		m.done = nil
		m.view = ResultView
		return m, nil
	}
	return m, nil
}

// View renders the UI based on the current view state.
func (m *Model) View() string {
	if m.err != nil && m.view != ResultView {
		return styles.err.Render(fmt.Sprintf("Error: %v\n\nPress q to quit", m.err))
	}

	switch m.view {
	case HistoryView:
		return m.renderList(m.historyList, m.keys.enter, m.keys.quit)
	case GenreListView:
		return m.renderList(m.genreList, m.keys.enter, m.keys.create, m.keys.back, m.keys.quit)
	case TrackListView:
		return m.renderList(m.trackList, m.keys.back, m.keys.quit)
	case ConfirmView:
		return m.renderConfirm()
	case CreateView:
		return m.renderCreate()
	case ResultView:
		return m.renderResult()
	default:
		return ""
	}
}

func (m *Model) handleHistoryKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.enter) {
		if item, ok := m.historyList.SelectedItem().(analysisItem); ok {
			return m, m.fetchAnalysis(item.summary.AnalysisID)
		}
	}

	var cmd tea.Cmd
	m.historyList, cmd = m.historyList.Update(msg)
	return m, cmd
}

func (m *Model) handleGenreKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.back):
		m.view = HistoryView
		return m, nil
	case key.Matches(msg, m.keys.create):
		m.view = ConfirmView
		return m, nil
	case key.Matches(msg, m.keys.enter):
		if item, ok := m.genreList.SelectedItem().(genreItem); ok {
			m.genre = item.genre
			tracks := m.details[item.genre]
			items := make([]list.Item, len(tracks))
			for i, t := range tracks {
				items[i] = trackItem{track: t}
			}
			m.trackList = m.newList(items, fmt.Sprintf("Tracks in '%s'", item.genre))
			m.view = TrackListView
			return m, nil
		}
	}

	var cmd tea.Cmd
	m.genreList, cmd = m.genreList.Update(msg)
	return m, cmd
}

func (m *Model) handleTrackKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.back) {
		m.view = GenreListView
		return m, nil
	}

	var cmd tea.Cmd
	m.trackList, cmd = m.trackList.Update(msg)
	return m, cmd
}

func (m *Model) handleConfirmKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.yes):
		m.view = CreateView
		return m, m.startCreate()
	case key.Matches(msg, m.keys.no), key.Matches(msg, m.keys.back):
		m.view = GenreListView
	}
	return m, nil
}

func (m *Model) handleResultKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if key.Matches(msg, m.keys.reload) {
		m.result = nil
		m.err = nil
		return m, m.fetchHistory()
	}
	return m, nil
}

func (m *Model) updateLists(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd
	switch m.view {
	case HistoryView:
		m.historyList, cmd = m.historyList.Update(msg)
	case GenreListView:
		m.genreList, cmd = m.genreList.Update(msg)
	case TrackListView:
		m.trackList, cmd = m.trackList.Update(msg)
	}
	return m, cmd
}

func (m *Model) newList(items []list.Item, title string) list.Model {
	l := list.New(items, list.NewDefaultDelegate(), 0, 0)
	l.Title = title
	l.SetSize(max(m.width-4, 0), max(m.height-8, 0))
	return l
}

func (m *Model) fetchHistory() tea.Cmd {
	return func() tea.Msg {
		history, err := m.backend.History(m.ctx, m.userID, historyLimit)
		return historyFetchedMsg(history, err)
	}
}

func (m *Model) fetchAnalysis(analysisID string) tea.Cmd {
	return func() tea.Msg {
		breakdown, err := m.backend.Breakdown(m.ctx, analysisID)
		if err != nil {
			return analysisFetchedMsg(analysisID, nil, nil, err)
		}
		details, err := m.backend.Details(m.ctx, analysisID)
		return analysisFetchedMsg(analysisID, breakdown, details, err)
	}
}

// startCreate runs the pipeline in the background. Results arrive on done; progress on progressChan.
func (m *Model) startCreate() tea.Cmd {
	progress := make(chan tasks.ProgressUpdate, 50)
	done := make(chan Msg, 1)
	m.progressChan = progress
	m.done = done
	m.progress = tasks.ProgressUpdate{}

	ctx, backend, analysisID := m.ctx, m.backend, m.analysisID
	go func() {
		result, err := backend.CreatePlaylistsForAnalysis(ctx, analysisID, true, tasks.CreateOptions{Progress: progress})
		done <- createCompleteMsg(result, err)
	}()

	return m.waitForProgress()
}

func (m *Model) waitForProgress() tea.Cmd {
	progress, done := m.progressChan, m.done
	if done == nil {
		return nil
	}
	return func() tea.Msg {
		select {
		case update := <-progress:
			return progressUpdateMsg(update)
		case msg := <-done:
			return msg
		}
	}
}

func (m *Model) renderList(l list.Model, keys ...key.Binding) string {
	return fmt.Sprintf("%s\n\n%s", l.View(), m.help.ShortHelpView(keys))
}

func (m *Model) renderConfirm() string {
	title := styles.title.Render(fmt.Sprintf("Create %d genre playlists?", len(m.breakdown)))

	tracks := 0
	for _, b := range m.breakdown {
		tracks += b.Count
	}
	info := fmt.Sprintf("\nAnalysis: %s\nTracks: %d\n", m.analysisID, tracks)

	return fmt.Sprintf("%s\n%s\n%s", title, info, m.help.ShortHelpView([]key.Binding{m.keys.yes, m.keys.no}))
}

func (m *Model) renderCreate() string {
	title := styles.title.Render("Creating Playlists")

	phase := "Starting..."
	if m.progress.Phase == tasks.PhaseCreatePlaylists && m.progress.Total > 0 {
		phase = fmt.Sprintf("Genre %d/%d", m.progress.Step, m.progress.Total)
	}
	return fmt.Sprintf("%s\n\n%s\n%s", title, phase, m.progress.Message)
}

func (m *Model) renderResult() string {
	helpView := m.help.ShortHelpView([]key.Binding{m.keys.reload, m.keys.quit})

	if m.err != nil {
		return styles.err.Render(fmt.Sprintf("Playlist creation failed: %v", m.err)) + "\n\n" + helpView
	}
	if m.result == nil {
		return styles.err.Render("No result available") + "\n\n" + helpView
	}

	var b strings.Builder
	b.WriteString(styles.ok.Render("✓ Playlists Created"))
	fmt.Fprintf(&b, "\n\nPlaylists: %d\nTracks added: %d\n", m.result.Stats.TotalPlaylists, m.result.Stats.TotalTracks)

	genres := make([]string, 0, len(m.result.Outcomes))
	for g := range m.result.Outcomes {
		genres = append(genres, g)
	}
	sort.Strings(genres)

	for _, g := range genres {
		o := m.result.Outcomes[g]
		if o.Failed() {
			fmt.Fprintf(&b, "\n  %s", styles.warn.Render(fmt.Sprintf("✗ %s: %s", g, o.Error)))
			continue
		}
		fmt.Fprintf(&b, "\n  ✓ %s: %d tracks %s", g, o.TrackCount, o.ExternalURL)
	}

	return b.String() + "\n\n" + helpView
}
