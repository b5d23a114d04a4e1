package ui

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/tasks"
)

// MsgKind enumerates all message types in the application.
type MsgKind int

// Msg represents all possible messages in the TUI (Elm-style message union).
type Msg struct {
	kind MsgKind
	data any
}

var (
	_ tea.Msg = Msg{}
)

const (
	MsgHistoryFetched MsgKind = iota
	MsgAnalysisFetched
	MsgProgressUpdate
	MsgCreateComplete
)

type historyData struct {
	history []models.AnalysisSummary
	err     error
}

type analysisData struct {
	analysisID string
	breakdown  map[string]models.GenreBreakdown
	details    map[string][]models.TrackDetail
	err        error
}

type createData struct {
	result *tasks.CreationResult
	err    error
}

// historyFetchedMsg is the constructor for [MsgHistoryFetched]
func historyFetchedMsg(history []models.AnalysisSummary, err error) Msg {
	return Msg{kind: MsgHistoryFetched, data: historyData{history, err}}
}

// analysisFetchedMsg is the constructor for [MsgAnalysisFetched]
func analysisFetchedMsg(id string, breakdown map[string]models.GenreBreakdown, details map[string][]models.TrackDetail, err error) Msg {
	return Msg{kind: MsgAnalysisFetched, data: analysisData{id, breakdown, details, err}}
}

// progressUpdateMsg is the constructor for [MsgProgressUpdate]
func progressUpdateMsg(update tasks.ProgressUpdate) Msg {
	return Msg{kind: MsgProgressUpdate, data: update}
}

// createCompleteMsg is the constructor for [MsgCreateComplete]
func createCompleteMsg(result *tasks.CreationResult, err error) Msg {
	return Msg{kind: MsgCreateComplete, data: createData{result, err}}
}
