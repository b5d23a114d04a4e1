package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/desertthunder/genrelist/internal/server"
	"github.com/desertthunder/genrelist/internal/services"
	"github.com/desertthunder/genrelist/internal/shared"
	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"
)

const authTimeout = 2 * time.Minute

// authCommand handles catalog authorization.
func authCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authorize access to your Spotify library",
		Commands: []*cli.Command{
			{
				Name:   "login",
				Usage:  "Authenticate with Spotify using OAuth2",
				Action: r.AuthLogin,
			},
			{
				Name:  "status",
				Usage: "Show the stored token",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "check",
						Usage: "Call the API to verify the token",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.AuthStatus,
			},
		},
	}
}

// AuthLogin performs the OAuth2 authorization code flow and stores the token.
//
// Starts a local HTTP server, opens browser for user authorization, and exchanges auth code for tokens.
func (r *Runner) AuthLogin(ctx context.Context, cmd *cli.Command) error {
	svc, err := r.spotifyService()
	if err != nil {
		return err
	}

	token, err := r.doOAuth(ctx, svc)
	if err != nil {
		return err
	}

	if err := r.saveToken(ctx, token); err != nil {
		return fmt.Errorf("failed to save token: %w", err)
	}

	r.writePlainln("✓ Authorization successful")
	if err := svc.OAuthenticate(ctx, token); err == nil {
		if user, err := svc.CurrentUser(ctx); err == nil {
			r.writePlain("✓ Logged in as %s\n", user.DisplayName)
		} else {
			r.logger.Warn("could not fetch profile", "error", err)
		}
	}
	r.writePlain("\nYou can now use: genrelist analyze liked\n")
	return nil
}

// AuthStatus reports whether a usable token is stored.
func (r *Runner) AuthStatus(ctx context.Context, cmd *cli.Command) error {
	store, err := r.openStore(ctx)
	if err != nil {
		return err
	}

	status := struct {
		Authenticated bool      `json:"authenticated"`
		Provider      string    `json:"provider"`
		Expiry        time.Time `json:"expiry,omitzero"`
		StoredUntil   time.Time `json:"stored_until,omitzero"`
		User          string    `json:"user,omitempty"`
	}{Provider: tokenProvider}

	token, err := store.Tokens.Latest(ctx, tokenProvider)
	switch {
	case errors.Is(err, shared.ErrNotAuthenticated):
	case err != nil:
		return err
	default:
		status.Authenticated = true
		status.Expiry = token.Expiry
		status.StoredUntil = token.ExpiresAt
	}

	if status.Authenticated && cmd.Bool("check") {
		catalog, err := r.connectCatalog(ctx)
		if err != nil {
			return err
		}
		user, err := catalog.CurrentUser(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", shared.ErrAuthFailed, err)
		}
		status.User = user.DisplayName
	}

	if cmd.Bool("json") {
		return r.writeJSON(status, true)
	}

	if !status.Authenticated {
		r.writePlain("✗ Not authenticated\n")
		return r.writePlain("Run 'genrelist auth login' to authorize\n")
	}

	r.writePlain("✓ Authenticated with %s\n", status.Provider)
	if !status.Expiry.IsZero() {
		r.writePlain("Access token expires: %s\n", status.Expiry.Local().Format(time.RFC1123))
	}
	r.writePlain("Stored until: %s\n", status.StoredUntil.Local().Format(time.RFC1123))
	if status.User != "" {
		r.writePlain("User: %s\n", status.User)
	}
	return nil
}

// doOAuth runs the browser authorization and waits for the callback on the configured server address.
func (r *Runner) doOAuth(ctx context.Context, oauthSrv services.OAuthService) (*oauth2.Token, error) {
	state, err := shared.GenerateState()
	if err != nil {
		return nil, fmt.Errorf("failed to generate state token: %w", err)
	}

	authURL := oauthSrv.GetAuthURL(state)
	handler := server.NewOAuthHandler(oauthSrv.GetOAuthConfig(), state)
	addr := fmt.Sprintf("%s:%d", r.config.Server.Host, r.config.Server.Port)

	r.writePlain("→ Opening browser for Spotify authorization...\n")
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	r.writePlain("→ Waiting for authorization (%s timeout)...\n", authTimeout)
	r.logger.Info("starting OAuth callback server", "addr", addr)

	token, err := server.AwaitCallback(ctx, addr, handler, authTimeout, r.logger)
	if err != nil {
		return nil, fmt.Errorf("authorization failed: %w", err)
	}
	return token, nil
}
