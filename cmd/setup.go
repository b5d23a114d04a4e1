package main

import (
	"context"
	"fmt"
	"os"

	"github.com/desertthunder/genrelist/internal/shared"
	"github.com/urfave/cli/v3"
)

// setupCommand handles setup operations for the config file and database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:   "database",
				Usage:  "Initialize database and run migrations",
				Action: r.SetupDatabase,
			},
			{
				Name:   "config",
				Usage:  "Write a config file from the built-in template",
				Action: r.SetupConfig,
			},
		},
	}
}

// SetupDatabase initializes the database and runs migrations, creating the config file when missing.
func (r *Runner) SetupDatabase(ctx context.Context, cmd *cli.Command) error {
	if _, err := os.Stat(r.configPath); err != nil {
		r.logger.Info("config file not found, creating from template", "path", r.configPath)
		if err := shared.CreateConfigFile(r.configPath); err != nil {
			r.logger.Warn("failed to create config file, using defaults", "error", err)
		} else {
			r.logger.Info("config file created", "path", r.configPath)
		}
	}

	config, err := r.loadConfig()
	if err != nil {
		return err
	}

	r.logger.Info("initializing database", "path", config.Database.Path)
	store, err := r.openStore(ctx)
	if err != nil {
		return fmt.Errorf("failed to create database: %w", err)
	}

	if err := store.Ping(ctx); err != nil {
		return err
	}

	r.logger.Infof("setup complete for database: %v", config.Database.Path)
	r.writePlain("✓ Database ready at %s\n", config.Database.Path)
	if config.Credentials.Spotify.ClientID == shared.DefaultConfig().Credentials.Spotify.ClientID {
		r.writePlainln("Next steps:")
		r.writePlain("1. Set credentials.spotify client_id and client_secret in %s\n", r.configPath)
		r.writePlain("2. Run 'genrelist auth login'\n")
	}
	return nil
}

// SetupConfig writes the example config to the --config path.
func (r *Runner) SetupConfig(ctx context.Context, cmd *cli.Command) error {
	if err := shared.CreateConfigFile(r.configPath); err != nil {
		return fmt.Errorf("%w: %v", shared.ErrInvalidArgument, err)
	}
	return r.writePlain("✓ Config written to %s\n", r.configPath)
}
