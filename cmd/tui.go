package main

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/desertthunder/genrelist/internal/shared"
	"github.com/desertthunder/genrelist/internal/ui"
	"github.com/urfave/cli/v3"
)

// tuiCommand launches the analysis browser.
func tuiCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "tui",
		Usage: "Browse analyses and create playlists interactively",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Where to write logs while the UI is running",
				Value: "./tmp/genrelist-tui.log",
			},
		},
		Action: r.TUI,
	}
}

// TUI launches the interactive terminal UI for stored analyses.
func (r *Runner) TUI(ctx context.Context, cmd *cli.Command) error {
	// Redirect logs to file to avoid interfering with TUI rendering
	fileLogger, err := shared.NewFileLogger(cmd.String("log-file"))
	if err != nil {
		return fmt.Errorf("failed to create file logger: %w", err)
	}
	r.SetLogger(fileLogger)

	wf, err := r.ready(ctx, true)
	if err != nil {
		return err
	}

	userID, err := r.userID(ctx, cmd)
	if err != nil {
		return err
	}

	model := ui.NewModel(ctx, wf, userID)
	p := tea.NewProgram(model, tea.WithContext(ctx), tea.WithAltScreen())

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("error running TUI: %w", err)
	}

	return nil
}
