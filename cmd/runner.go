package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/charmbracelet/log"
	"github.com/desertthunder/genrelist/internal/models"
	"github.com/desertthunder/genrelist/internal/repositories"
	"github.com/desertthunder/genrelist/internal/services"
	"github.com/desertthunder/genrelist/internal/shared"
	"github.com/desertthunder/genrelist/internal/tasks"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

// tokenProvider keys stored catalog tokens.
var tokenProvider = models.SourceCatalog.String()

// Runner holds all dependencies for CLI commands and provides methods for each command action.
//
// Dependencies not supplied through [RunnerOpts] are built on first use, so commands that only read
// the database never need catalog credentials.
type Runner struct {
	config     *shared.Config
	configPath string
	catalog    services.Catalog
	sources    []services.TagSource
	store      *repositories.Store
	workflow   *tasks.Workflow
	httpClient *http.Client
	logger     *log.Logger
	output     io.Writer
	closers    []func() error
}

// RunnerOpts contains configuration options for creating a Runner.
type RunnerOpts struct {
	Config     *shared.Config
	ConfigPath string
	Catalog    services.Catalog
	Sources    []services.TagSource
	Store      *repositories.Store
	HTTPClient *http.Client
	Logger     *log.Logger
	Output     io.Writer
}

// NewRunner creates a new Runner with the provided configuration
func NewRunner(opts RunnerOpts) *Runner {
	if opts.Logger == nil {
		opts.Logger = shared.NewLogger(nil)
	}
	if opts.Output == nil {
		opts.Output = os.Stdout
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	return &Runner{
		config:     opts.Config,
		configPath: opts.ConfigPath,
		catalog:    opts.Catalog,
		sources:    opts.Sources,
		store:      opts.Store,
		httpClient: opts.HTTPClient,
		logger:     opts.Logger,
		output:     opts.Output,
	}
}

// App returns the root command.
func (r *Runner) App() *cli.Command {
	return &cli.Command{
		Name:    "genrelist",
		Usage:   "Sort your saved tracks into genre playlists",
		Version: "0.1.0",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file",
				Value:   "config.toml",
				Sources: cli.EnvVars("GENRELIST_CONFIG"),
			},
			&cli.BoolFlag{
				Name:  "debug",
				Usage: "Enable debug logging",
			},
		},
		Before:   r.before,
		Commands: r.register(),
	}
}

func (r *Runner) before(ctx context.Context, cmd *cli.Command) (context.Context, error) {
	if r.configPath == "" {
		r.configPath = cmd.String("config")
	}
	if cmd.Bool("debug") {
		shared.SetLogLevel(r.logger, log.DebugLevel)
	}
	return ctx, nil
}

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, authCommand, analyzeCommand, playlistsCommand, historyCommand, cacheCommand, serveCommand, tuiCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// SetLogger replaces the logger. Components built afterwards log through it.
func (r *Runner) SetLogger(logger *log.Logger) {
	r.logger = logger
}

// Close waits for pending audit writes and closes the database.
func (r *Runner) Close() error {
	if r.workflow != nil {
		r.workflow.Pipeline().Wait()
	}

	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		if err := r.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}

// loadConfig reads the config file once. A missing file means defaults; an invalid one is an error.
func (r *Runner) loadConfig() (*shared.Config, error) {
	if r.config != nil {
		return r.config, nil
	}

	if _, err := os.Stat(r.configPath); err != nil {
		r.logger.Debug("config file not found, using defaults", "path", r.configPath)
		r.config = shared.DefaultConfig()
		return r.config, nil
	}

	config, err := shared.LoadConfig(r.configPath)
	if err != nil {
		return nil, err
	}
	r.config = config
	return config, nil
}

// openStore opens the configured database and applies pending migrations.
func (r *Runner) openStore(ctx context.Context) (*repositories.Store, error) {
	if r.store != nil {
		return r.store, nil
	}

	config, err := r.loadConfig()
	if err != nil {
		return nil, err
	}

	db, err := shared.NewDatabase(config.Database.Path)
	if err != nil {
		return nil, err
	}
	shared.ConfigureDatabase(db, config.Database.MaxOpenConns, config.Database.MaxIdleConns)

	if err := shared.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	r.closers = append(r.closers, db.Close)
	r.store = repositories.NewStore(db, config.Cache.TrackBatchSize, r.logger)
	r.store.Tracks.SetTTL(config.Cache.TrackTTL.Duration)
	return r.store, nil
}

// spotifyService builds an unauthenticated catalog client from the configured credentials.
func (r *Runner) spotifyService() (*services.SpotifyService, error) {
	config, err := r.loadConfig()
	if err != nil {
		return nil, err
	}

	creds := config.Credentials.Spotify
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, fmt.Errorf("%w: spotify client_id and client_secret must be set in %s", shared.ErrMissingCredentials, r.configPath)
	}

	svc, err := services.NewSpotifyService(creds.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to create Spotify service: %w", err)
	}
	return svc, nil
}

// connectCatalog authenticates the catalog client with the newest stored token.
// Refreshed tokens are written back to the store.
func (r *Runner) connectCatalog(ctx context.Context) (services.Catalog, error) {
	if r.catalog != nil {
		return r.catalog, nil
	}

	store, err := r.openStore(ctx)
	if err != nil {
		return nil, err
	}

	svc, err := r.spotifyService()
	if err != nil {
		return nil, err
	}

	stored, err := store.Tokens.Latest(ctx, tokenProvider)
	if err != nil {
		return nil, err
	}

	svc.SetTokenRefreshCallback(func(token *oauth2.Token) {
		if err := r.saveToken(context.WithoutCancel(ctx), token); err != nil {
			r.logger.Warn("failed to persist refreshed token", "error", err)
			return
		}
		r.logger.Debug("refreshed token saved", "expiry", token.Expiry)
	})

	token := &oauth2.Token{
		AccessToken:  stored.AccessToken,
		RefreshToken: stored.RefreshToken,
		TokenType:    stored.TokenType,
		Expiry:       stored.Expiry,
	}
	if err := svc.OAuthenticate(ctx, token); err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
	}

	r.catalog = svc
	return svc, nil
}

// saveToken stores token for the configured auth token TTL.
func (r *Runner) saveToken(ctx context.Context, token *oauth2.Token) error {
	if token == nil {
		return fmt.Errorf("%w: token cannot be nil", shared.ErrInvalidInput)
	}

	config, err := r.loadConfig()
	if err != nil {
		return err
	}

	store, err := r.openStore(ctx)
	if err != nil {
		return err
	}

	record := &models.AuthToken{
		Provider:     tokenProvider,
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		TokenType:    token.TokenType,
		Expiry:       token.Expiry,
	}
	return store.Tokens.Save(ctx, record, config.Cache.AuthTokenTTL.Duration)
}

// tagSources returns the configured tag sources. Last.fm is skipped without an API key.
func (r *Runner) tagSources() []services.TagSource {
	if r.sources != nil {
		return r.sources
	}

	creds := r.config.Credentials
	sources := []services.TagSource{}
	if creds.LastFM.APIKey != "" {
		sources = append(sources, services.NewLastFMClient(creds.LastFM, r.httpClient))
	} else {
		r.logger.Debug("lastfm api_key not set, skipping source")
	}
	sources = append(sources, services.NewMusicBrainzClient(creds.MusicBrainz, r.httpClient))

	r.sources = sources
	return sources
}

// ready returns the workflow, connecting the catalog first when online is set.
//
// Offline workflows only answer questions about stored analyses.
func (r *Runner) ready(ctx context.Context, online bool) (*tasks.Workflow, error) {
	if r.workflow != nil && (!online || r.catalog != nil) {
		return r.workflow, nil
	}

	config, err := r.loadConfig()
	if err != nil {
		return nil, err
	}

	store, err := r.openStore(ctx)
	if err != nil {
		return nil, err
	}

	catalog := r.catalog
	if online {
		if catalog, err = r.connectCatalog(ctx); err != nil {
			return nil, err
		}
	}

	if r.workflow != nil {
		r.workflow.Pipeline().Wait()
	}
	r.workflow = tasks.FromConfig(config, catalog, r.tagSources(), store, r.logger)
	return r.workflow, nil
}

// userID returns the --user flag, or the logged in catalog user.
func (r *Runner) userID(ctx context.Context, cmd *cli.Command) (string, error) {
	if id := cmd.String("user"); id != "" {
		return id, nil
	}

	catalog, err := r.connectCatalog(ctx)
	if err != nil {
		return "", err
	}

	user, err := catalog.CurrentUser(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get current user: %w", err)
	}
	return user.ID, nil
}

func (r *Runner) writeJSON(data any, pretty bool) error {
	var output []byte
	var err error

	if pretty {
		output, err = json.MarshalIndent(data, "", "  ")
	} else {
		output, err = json.Marshal(data)
	}

	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}

	if _, err := r.output.Write(output); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}

	if _, err := r.output.Write([]byte("\n")); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}

	return nil
}

func (r *Runner) writePlain(format string, args ...any) error {
	text := fmt.Sprintf(format, args...)
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainln(format string, args ...any) error {
	text := "\n" + fmt.Sprintf(format, args...) + "\n"
	if _, err := r.output.Write([]byte(text)); err != nil {
		return fmt.Errorf("failed to write output: %w", err)
	}
	return nil
}

func (r *Runner) writePlainHeader(title string) {
	r.writePlain("═══════════════════════════════════════\n")
	r.writePlain("%v\n", title)
	r.writePlain("═══════════════════════════════════════\n")
}
