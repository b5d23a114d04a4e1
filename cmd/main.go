package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/desertthunder/genrelist/internal/shared"
)

func main() {
	logger := shared.NewLogger(nil)
	runner := NewRunner(RunnerOpts{Logger: logger})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := runner.App().Run(ctx, os.Args)
	stop()

	if closeErr := runner.Close(); closeErr != nil {
		logger.Warn("failed to close resources", "error", closeErr)
	}

	if err == nil {
		return
	}

	switch {
	case errors.Is(err, shared.ErrNotAuthenticated):
		logger.Error("not logged in", "error", err, "hint", "run 'genrelist auth login'")
	case errors.Is(err, shared.ErrConfirmationRequired):
		logger.Warn("nothing changed", "error", err, "hint", "pass --confirm to proceed")
	case errors.Is(err, context.Canceled):
		logger.Warn("interrupted")
	default:
		logger.Error("application error", "error", err)
	}
	os.Exit(1)
}
