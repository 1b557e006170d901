package credential

import (
	"context"
	"fmt"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// ConfigFromFile reads an OAuth client file downloaded from the Google
// Cloud console and requests every scope both clients need.
func ConfigFromFile(path string) (*oauth2.Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read client credentials: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, AllScopes()...)
	if err != nil {
		return nil, fmt.Errorf("failed to parse client credentials: %w", err)
	}
	return cfg, nil
}

// AuthCodeURL returns the consent URL for the out-of-band grant. Offline
// access with forced consent makes Google issue a refresh token.
func (s *Store) AuthCodeURL(state string) string {
	return s.oauth.AuthCodeURL(state, oauth2.AccessTypeOffline, oauth2.ApprovalForce)
}

// Exchange trades an authorization code for a credential and persists it
// before returning.
func (s *Store) Exchange(ctx context.Context, code string) (*Credential, error) {
	tok, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		return nil, fmt.Errorf("failed to exchange authorization code: %w", err)
	}

	cred := FromToken(tok, s.oauth.Scopes)
	if missing := cred.MissingScopes(AllScopes()); len(missing) > 0 {
		s.logger.Warn("Grant is missing scopes", "missing", missing)
	}

	if err := s.Put(ctx, cred); err != nil {
		return nil, err
	}
	s.logger.Info("Credential granted", "scopes", len(cred.Scopes), "expiry", cred.Expiry)
	return cred, nil
}
