package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/jmarchant/cvsync/internal/orcid"
)

var (
	// ErrAuthorizationPending means BeginAuthorization was called while a
	// request for the same identity/environment is still outstanding.
	ErrAuthorizationPending = errors.New("an authorization request is already pending")

	// ErrInvalidState means the callback state matched no pending request.
	// Either the value was tampered with or the request was never begun
	// here.
	ErrInvalidState = errors.New("authorization state does not match any pending request")

	// ErrAuthorizationDenied means the registry rejected the code exchange.
	ErrAuthorizationDenied = errors.New("registry denied the authorization")

	// ErrReauthorizationRequired means the stored credential is expired and
	// cannot be refreshed; the user must run the authorization flow again.
	ErrReauthorizationRequired = errors.New("reauthorization required")
)

// expirySkew is subtracted from a token's expiry when deciding whether it
// is still usable, so a token never expires mid-request.
const expirySkew = 60 * time.Second

// defaultScopes are the member-API scopes sync needs: writing activities
// and reading limited-visibility works.
var defaultScopes = []string{"/activities/update", "/read-limited"}

var defaultEndpoints = map[orcid.Environment]oauth2.Endpoint{
	orcid.EnvironmentProduction: {
		AuthURL:  "https://orcid.org/oauth/authorize",
		TokenURL: "https://orcid.org/oauth/token",
	},
	orcid.EnvironmentSandbox: {
		AuthURL:  "https://sandbox.orcid.org/oauth/authorize",
		TokenURL: "https://sandbox.orcid.org/oauth/token",
	},
}

// ClientConfig is the registered OAuth client this installation acts as.
type ClientConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
}

// AuthorizationRequest is the first half of the two-phase flow: send the
// user to URL, hold on to State until the callback arrives.
type AuthorizationRequest struct {
	URL   string
	State string
}

// Flow drives the authorization-code OAuth flow against the registry and
// keeps the TokenStore current.
//
// The flow is an explicit two-phase protocol: BeginAuthorization records a
// pending request and hands back a URL; CompleteAuthorization consumes the
// callback, possibly much later. Nothing blocks in between.
type Flow struct {
	client    ClientConfig
	store     TokenStore
	pending   *pendingStore
	endpoints map[orcid.Environment]oauth2.Endpoint
	http      *http.Client
	now       func() time.Time
}

// FlowOption configures a Flow.
type FlowOption func(*Flow)

// WithEndpoint overrides the OAuth endpoints for one environment. Used by
// tests to point the flow at a local fake authorization server.
func WithEndpoint(env orcid.Environment, ep oauth2.Endpoint) FlowOption {
	return func(f *Flow) { f.endpoints[env] = ep }
}

// WithFlowHTTPClient overrides the HTTP client used for token exchanges.
func WithFlowHTTPClient(hc *http.Client) FlowOption {
	return func(f *Flow) { f.http = hc }
}

// WithNow overrides the flow's clock. Used by tests.
func WithNow(now func() time.Time) FlowOption {
	return func(f *Flow) { f.now = now }
}

// NewFlow returns a Flow storing credentials in store.
func NewFlow(client ClientConfig, store TokenStore, opts ...FlowOption) *Flow {
	f := &Flow{
		client:    client,
		store:     store,
		pending:   newPendingStore(),
		endpoints: make(map[orcid.Environment]oauth2.Endpoint, len(defaultEndpoints)),
		now:       time.Now,
	}
	for env, ep := range defaultEndpoints {
		f.endpoints[env] = ep
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *Flow) oauthConfig(env orcid.Environment) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     f.client.ClientID,
		ClientSecret: f.client.ClientSecret,
		RedirectURL:  f.client.RedirectURL,
		Endpoint:     f.endpoints[env],
		Scopes:       defaultScopes,
	}
}

// ctx returns a context that routes oauth2's token requests through the
// flow's HTTP client when one was injected.
func (f *Flow) ctx(ctx context.Context) context.Context {
	if f.http == nil {
		return ctx
	}
	return context.WithValue(ctx, oauth2.HTTPClient, f.http)
}

// BeginAuthorization starts the flow for an identity/environment pair and
// returns the URL the user must visit. Fails with ErrAuthorizationPending
// if a request for the same pair is already outstanding.
func (f *Flow) BeginAuthorization(orcidID string, env orcid.Environment) (AuthorizationRequest, error) {
	id, err := orcid.ValidateID(orcidID)
	if err != nil {
		return AuthorizationRequest{}, err
	}
	if !env.Valid() {
		return AuthorizationRequest{}, fmt.Errorf("unknown environment %q", env)
	}

	pa, ok := f.pending.begin(id, env, f.now())
	if !ok {
		return AuthorizationRequest{}, fmt.Errorf("%w for %s (%s)", ErrAuthorizationPending, id, env)
	}

	return AuthorizationRequest{
		URL:   f.oauthConfig(env).AuthCodeURL(pa.State),
		State: pa.State,
	}, nil
}

// CancelAuthorization abandons a pending request, allowing a new Begin.
func (f *Flow) CancelAuthorization(orcidID string, env orcid.Environment) {
	if id, err := orcid.ValidateID(orcidID); err == nil {
		f.pending.cancel(id, env)
	}
}

// CompleteAuthorization validates the callback state, exchanges the code
// for tokens, and stores the resulting credential.
func (f *Flow) CompleteAuthorization(ctx context.Context, code, state string) (Credential, error) {
	pa, ok := f.pending.take(state)
	if !ok {
		return Credential{}, ErrInvalidState
	}

	tok, err := f.oauthConfig(pa.Environment).Exchange(f.ctx(ctx), code)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return Credential{}, fmt.Errorf("%w: %v", ErrAuthorizationDenied, err)
		}
		return Credential{}, fmt.Errorf("exchange authorization code: %w", err)
	}

	cred := f.credentialFromToken(pa.OrcidID, pa.Environment, tok, Credential{})
	if err := f.store.Put(cred); err != nil {
		return Credential{}, fmt.Errorf("store credential: %w", err)
	}
	return cred, nil
}

// EnsureValid returns a usable credential for the identity/environment
// pair: the stored one if it has not expired, a refreshed one if it has
// and a refresh token exists, and ErrReauthorizationRequired otherwise.
func (f *Flow) EnsureValid(ctx context.Context, orcidID string, env orcid.Environment) (Credential, error) {
	cred, err := f.store.Get(orcidID, env)
	if err != nil {
		return Credential{}, err
	}

	if cred.ExpiresAt.IsZero() || f.now().Before(cred.ExpiresAt.Add(-expirySkew)) {
		return cred, nil
	}
	return f.Refresh(ctx, orcidID, env)
}

// Refresh forces a token refresh regardless of the stored credential's
// expiry. The executor uses this when the registry answers 401 with a
// token that still looked valid locally.
func (f *Flow) Refresh(ctx context.Context, orcidID string, env orcid.Environment) (Credential, error) {
	cred, err := f.store.Get(orcidID, env)
	if err != nil {
		return Credential{}, err
	}
	if cred.RefreshToken == "" {
		return Credential{}, fmt.Errorf("%w: credential for %s (%s) has no refresh token", ErrReauthorizationRequired, orcidID, env)
	}

	src := f.oauthConfig(env).TokenSource(f.ctx(ctx), &oauth2.Token{RefreshToken: cred.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return Credential{}, fmt.Errorf("%w: refresh failed: %v", ErrReauthorizationRequired, err)
	}

	fresh := f.credentialFromToken(orcidID, env, tok, cred)
	if err := f.store.Put(fresh); err != nil {
		return Credential{}, fmt.Errorf("store refreshed credential: %w", err)
	}
	return fresh, nil
}

// credentialFromToken builds a Credential from a token response. prev
// supplies fields the registry may omit on refresh (refresh token, scope).
func (f *Flow) credentialFromToken(orcidID string, env orcid.Environment, tok *oauth2.Token, prev Credential) Credential {
	cred := Credential{
		OrcidID:      orcidID,
		Environment:  env,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if cred.RefreshToken == "" {
		cred.RefreshToken = prev.RefreshToken
	}
	if scope, ok := tok.Extra("scope").(string); ok && scope != "" {
		cred.Scope = scope
	} else {
		cred.Scope = prev.Scope
	}
	return cred
}
