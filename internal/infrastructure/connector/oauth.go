package connector

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/pulsedeck/backend/internal/domain/integration"
	"github.com/pulsedeck/backend/internal/infrastructure/config"
)

// refreshOAuthToken exchanges a refresh token at the provider's token
// endpoint. A rejected refresh token is an auth failure; network trouble
// stays transient so the caller can retry a later run.
func refreshOAuthToken(ctx context.Context, app config.OAuthAppConfig, tokenURL string, creds integration.Credentials) (*integration.Credentials, error) {
	if creds.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token on record", integration.ErrAuthFailed)
	}

	conf := &oauth2.Config{
		ClientID:     app.ClientID,
		ClientSecret: app.ClientSecret,
		Endpoint:     oauth2.Endpoint{TokenURL: tokenURL},
	}

	token, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: creds.RefreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && retrieveErr.Response != nil {
			switch retrieveErr.Response.StatusCode {
			case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
				return nil, fmt.Errorf("%w: token refresh rejected: %v", integration.ErrAuthFailed, err)
			}
		}
		return nil, fmt.Errorf("%w: token refresh failed: %v", integration.ErrTransient, err)
	}

	refreshed := creds
	refreshed.AccessToken = token.AccessToken
	if token.RefreshToken != "" {
		// some providers rotate the refresh token on every exchange
		refreshed.RefreshToken = token.RefreshToken
	}
	if !token.Expiry.IsZero() {
		expiry := token.Expiry
		refreshed.ExpiresAt = &expiry
	}
	return &refreshed, nil
}
