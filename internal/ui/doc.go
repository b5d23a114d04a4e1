// Package ui implements the history browser, an interactive terminal interface using bubbletea's Elm architecture.
//
// The TUI moves through these views:
//  1. [HistoryView] : Browse the user's stored analyses, newest first
//  2. [GenreListView] : Genres of the selected analysis with their share of tracks
//  3. [TrackListView] : Tracks of the selected genre with resolver confidence
//  4. [ConfirmView] : Confirm playlist creation for the analysis
//  5. [CreateView] : Monitor pipeline progress updates
//  6. [ResultView] : Per-genre outcomes and totals
//
// The (view) [Model] implements the standard Init/Update/View pattern and receives data through the [Msg] union type.
// Progress updates flow through a channel from the playlist pipeline, so the UI never blocks on network calls.
//
// Keyboard navigation uses vim-style bindings (j/k, enter, esc, c, y/n, q) with contextual help displayed via
// charmbracelet/bubbles/help.
package ui
