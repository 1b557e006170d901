package credential

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/oauth2"
)

// Store hands out valid credentials and refreshes them when needed. All
// refreshes go through one mutex so an expired refresh token is never
// spent twice.
type Store struct {
	mu        sync.Mutex
	oauth     *oauth2.Config
	persister Persister
	cached    *Credential
	now       func() time.Time
	logger    *log.Logger
}

func NewStore(oauthCfg *oauth2.Config, persister Persister, logger *log.Logger) *Store {
	return &Store{
		oauth:     oauthCfg,
		persister: persister,
		now:       time.Now,
		logger:    logger.WithPrefix("credential"),
	}
}

// GetValid returns a credential usable for api. It refreshes silently when
// the access token is expired and a refresh token exists. Scheduled runs
// have no interactive channel, so every other gap is ErrAuthRequired.
func (s *Store) GetValid(ctx context.Context, api API) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.loadLocked(ctx)
	if err != nil {
		return nil, err
	}

	if missing := cred.MissingScopes(ScopesFor(api)); len(missing) > 0 {
		return nil, fmt.Errorf("%w: credential lacks scopes %v", ErrAuthRequired, missing)
	}

	if !cred.ExpiredAt(s.now()) {
		return cred, nil
	}

	s.logger.Info("Access token expired, refreshing", "api", api, "expiry", cred.Expiry)
	return s.refreshLocked(ctx, cred)
}

// ForceRefresh refreshes regardless of expiry. Used after errors that
// suggest a stale client.
func (s *Store) ForceRefresh(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	cred, err := s.loadLocked(ctx)
	if err != nil {
		return err
	}
	_, err = s.refreshLocked(ctx, cred)
	return err
}

// Current returns the cached or stored credential without refreshing.
func (s *Store) Current(ctx context.Context) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

// Put persists cred and makes it current. Used by the interactive grant.
func (s *Store) Put(ctx context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.persister.Save(ctx, cred); err != nil {
		return fmt.Errorf("failed to persist credential: %w", err)
	}
	s.cached = cred
	return nil
}

// TokenSource adapts the store for API clients. Each Token call goes
// through GetValid, so clients never hold a stale token of their own.
func (s *Store) TokenSource(ctx context.Context, api API) oauth2.TokenSource {
	return &storeTokenSource{ctx: ctx, store: s, api: api}
}

func (s *Store) loadLocked(ctx context.Context) (*Credential, error) {
	if s.cached != nil {
		return s.cached, nil
	}
	cred, err := s.persister.Load(ctx)
	if err != nil {
		if errors.Is(err, ErrNoCredential) {
			return nil, fmt.Errorf("%w: %v", ErrAuthRequired, err)
		}
		return nil, err
	}
	s.cached = cred
	return cred, nil
}

func (s *Store) refreshLocked(ctx context.Context, cred *Credential) (*Credential, error) {
	if cred.RefreshToken == "" {
		return nil, fmt.Errorf("%w: no refresh token", ErrAuthRequired)
	}

	// An empty access token forces the token source to hit the endpoint.
	tok, err := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			s.logger.Error("Token refresh rejected", "code", retrieveErr.ErrorCode, "error", err)
			return nil, fmt.Errorf("%w: refresh rejected: %v", ErrAuthRequired, err)
		}
		return nil, fmt.Errorf("failed to refresh token: %w", err)
	}

	next := FromToken(tok, cred.Scopes)
	if next.RefreshToken == "" {
		// Google only returns a refresh token when it rotates.
		next.RefreshToken = cred.RefreshToken
	}

	if err := s.persister.Save(ctx, next); err != nil {
		return nil, fmt.Errorf("failed to persist refreshed credential: %w", err)
	}
	s.cached = next

	s.logger.Info("Token refreshed", "expiry", next.Expiry)
	return next, nil
}

type storeTokenSource struct {
	ctx   context.Context
	store *Store
	api   API
}

func (ts *storeTokenSource) Token() (*oauth2.Token, error) {
	cred, err := ts.store.GetValid(ts.ctx, ts.api)
	if err != nil {
		return nil, err
	}
	return cred.Token(), nil
}
