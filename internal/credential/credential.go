// Package credential owns the OAuth credential shared by the mail and task
// clients: loading, silent refresh, persistence and the operator grant.
package credential

import (
	"errors"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/tasks/v1"
)

var (
	// ErrAuthRequired means an operator has to run the interactive grant.
	ErrAuthRequired = errors.New("authorization required")
	// ErrNoCredential is returned by a Persister that holds nothing.
	ErrNoCredential = errors.New("no stored credential")
)

// ExpiryMargin treats a credential as expired this long before its expiry.
const ExpiryMargin = 5 * time.Minute

// API identifies an external API served by the credential.
type API string

const (
	APIMail  API = "mail"
	APITasks API = "tasks"
)

// Scopes needed per API. All of them are requested together so one grant
// serves both clients.
var apiScopes = map[API][]string{
	APIMail:  {gmail.GmailModifyScope, gmail.GmailSendScope},
	APITasks: {tasks.TasksScope},
}

// AllScopes returns the combined scope set for every API.
func AllScopes() []string {
	var scopes []string
	for _, api := range []API{APIMail, APITasks} {
		scopes = append(scopes, apiScopes[api]...)
	}
	return scopes
}

// ScopesFor returns the scopes an API needs.
func ScopesFor(api API) []string {
	return apiScopes[api]
}

// Credential is the persisted OAuth state. The JSON shape is a superset of
// oauth2.Token, so a plain token.json loads too.
type Credential struct {
	AccessToken  string    `json:"access_token"`
	TokenType    string    `json:"token_type,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry"`
	Scopes       []string  `json:"scopes,omitempty"`
}

// FromToken builds a credential from an oauth2 token. Granted scopes come
// from the token response when present, otherwise requested is used.
func FromToken(tok *oauth2.Token, requested []string) *Credential {
	scopes := requested
	if raw, ok := tok.Extra("scope").(string); ok && strings.TrimSpace(raw) != "" {
		scopes = strings.Fields(raw)
	}
	return &Credential{
		AccessToken:  tok.AccessToken,
		TokenType:    tok.TokenType,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		Scopes:       append([]string(nil), scopes...),
	}
}

// Token converts the credential to an oauth2 token.
func (c *Credential) Token() *oauth2.Token {
	tokenType := c.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return &oauth2.Token{
		AccessToken:  c.AccessToken,
		TokenType:    tokenType,
		RefreshToken: c.RefreshToken,
		Expiry:       c.Expiry,
	}
}

// ExpiredAt reports whether the access token is missing, expired, or will
// expire within ExpiryMargin of now.
func (c *Credential) ExpiredAt(now time.Time) bool {
	if c.AccessToken == "" {
		return true
	}
	if c.Expiry.IsZero() {
		return false
	}
	return now.Add(ExpiryMargin).After(c.Expiry)
}

// HasScopes reports whether every required scope was granted. A credential
// with no recorded scopes predates scope tracking and is trusted.
func (c *Credential) HasScopes(required []string) bool {
	return len(c.MissingScopes(required)) == 0
}

// MissingScopes returns the required scopes that were not granted.
func (c *Credential) MissingScopes(required []string) []string {
	if len(c.Scopes) == 0 {
		return nil
	}
	granted := make(map[string]bool, len(c.Scopes))
	for _, s := range c.Scopes {
		granted[s] = true
	}
	var missing []string
	for _, s := range required {
		if !granted[s] {
			missing = append(missing, s)
		}
	}
	return missing
}
