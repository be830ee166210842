package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/jmarchant/cvsync/internal/orcid"
)

// fakeTokenEndpoint serves the registry's token endpoint. It records the
// grants it saw and can be told to reject exchanges.
type fakeTokenEndpoint struct {
	srv       *httptest.Server
	grants    []string
	denyAll   bool
	accessSeq int
}

func newFakeTokenEndpoint(t *testing.T) *fakeTokenEndpoint {
	f := &fakeTokenEndpoint{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		f.grants = append(f.grants, r.PostFormValue("grant_type"))
		if f.denyAll {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":"invalid_grant","error_description":"code expired"}`)
			return
		}
		f.accessSeq++
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{
			"access_token": "at-%d",
			"token_type": "bearer",
			"refresh_token": "rt-%d",
			"expires_in": 3600,
			"scope": "/activities/update /read-limited",
			"orcid": %q
		}`, f.accessSeq, f.accessSeq, testID)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeTokenEndpoint) endpoint() oauth2.Endpoint {
	return oauth2.Endpoint{
		AuthURL:  f.srv.URL + "/authorize",
		TokenURL: f.srv.URL + "/token",
	}
}

func newTestFlow(t *testing.T, ep *fakeTokenEndpoint, opts ...FlowOption) (*Flow, *FileTokenStore) {
	store := NewFileTokenStore(filepath.Join(t.TempDir(), "credentials.yaml"))
	opts = append([]FlowOption{WithEndpoint(orcid.EnvironmentSandbox, ep.endpoint())}, opts...)
	return NewFlow(ClientConfig{
		ClientID:     "APP-1",
		ClientSecret: "secret",
		RedirectURL:  "https://localhost/callback",
	}, store, opts...), store
}

func TestFlow_BeginAuthorization(t *testing.T) {
	flow, _ := newTestFlow(t, newFakeTokenEndpoint(t))

	req, err := flow.BeginAuthorization(testID, orcid.EnvironmentSandbox)
	require.NoError(t, err)
	assert.NotEmpty(t, req.State)

	u, err := url.Parse(req.URL)
	require.NoError(t, err)
	q := u.Query()
	assert.Equal(t, "APP-1", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, req.State, q.Get("state"))
	assert.Equal(t, "https://localhost/callback", q.Get("redirect_uri"))
	assert.Contains(t, q.Get("scope"), "/activities/update")
}

func TestFlow_BeginAuthorization_AlreadyPending(t *testing.T) {
	flow, _ := newTestFlow(t, newFakeTokenEndpoint(t))

	_, err := flow.BeginAuthorization(testID, orcid.EnvironmentSandbox)
	require.NoError(t, err)

	_, err = flow.BeginAuthorization(testID, orcid.EnvironmentSandbox)
	assert.ErrorIs(t, err, ErrAuthorizationPending)

	// Cancelling clears the way for a fresh request.
	flow.CancelAuthorization(testID, orcid.EnvironmentSandbox)
	_, err = flow.BeginAuthorization(testID, orcid.EnvironmentSandbox)
	assert.NoError(t, err)
}

func TestFlow_BeginAuthorization_RejectsBadInput(t *testing.T) {
	flow, _ := newTestFlow(t, newFakeTokenEndpoint(t))

	_, err := flow.BeginAuthorization("not-an-orcid", orcid.EnvironmentSandbox)
	assert.Error(t, err)

	_, err = flow.BeginAuthorization(testID, orcid.Environment("staging"))
	assert.Error(t, err)
}

func TestFlow_CompleteAuthorization(t *testing.T) {
	ep := newFakeTokenEndpoint(t)
	flow, store := newTestFlow(t, ep)

	req, err := flow.BeginAuthorization(testID, orcid.EnvironmentSandbox)
	require.NoError(t, err)

	cred, err := flow.CompleteAuthorization(context.Background(), "code-1", req.State)
	require.NoError(t, err)
	assert.Equal(t, testID, cred.OrcidID)
	assert.Equal(t, "at-1", cred.AccessToken)
	assert.Equal(t, "rt-1", cred.RefreshToken)
	assert.Equal(t, "/activities/update /read-limited", cred.Scope)
	assert.Equal(t, []string{"authorization_code"}, ep.grants)

	stored, err := store.Get(testID, orcid.EnvironmentSandbox)
	require.NoError(t, err)
	assert.Equal(t, "at-1", stored.AccessToken)

	// The pending request was consumed; replaying the state fails.
	_, err = flow.CompleteAuthorization(context.Background(), "code-1", req.State)
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestFlow_CompleteAuthorization_InvalidState(t *testing.T) {
	flow, _ := newTestFlow(t, newFakeTokenEndpoint(t))

	_, err := flow.BeginAuthorization(testID, orcid.EnvironmentSandbox)
	require.NoError(t, err)

	_, err = flow.CompleteAuthorization(context.Background(), "code-1", "forged-state")
	assert.ErrorIs(t, err, ErrInvalidState)
}

func TestFlow_CompleteAuthorization_Denied(t *testing.T) {
	ep := newFakeTokenEndpoint(t)
	ep.denyAll = true
	flow, _ := newTestFlow(t, ep)

	req, err := flow.BeginAuthorization(testID, orcid.EnvironmentSandbox)
	require.NoError(t, err)

	_, err = flow.CompleteAuthorization(context.Background(), "bad-code", req.State)
	assert.ErrorIs(t, err, ErrAuthorizationDenied)
}

func TestFlow_EnsureValid(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	t.Run("no credential", func(t *testing.T) {
		flow, _ := newTestFlow(t, newFakeTokenEndpoint(t), WithNow(func() time.Time { return now }))
		_, err := flow.EnsureValid(context.Background(), testID, orcid.EnvironmentSandbox)
		assert.ErrorIs(t, err, ErrCredentialNotFound)
	})

	t.Run("still valid", func(t *testing.T) {
		ep := newFakeTokenEndpoint(t)
		flow, store := newTestFlow(t, ep, WithNow(func() time.Time { return now }))
		cred := testCredential()
		cred.ExpiresAt = now.Add(time.Hour)
		require.NoError(t, store.Put(cred))

		got, err := flow.EnsureValid(context.Background(), testID, orcid.EnvironmentSandbox)
		require.NoError(t, err)
		assert.Equal(t, "at-1", got.AccessToken)
		assert.Empty(t, ep.grants, "valid token must not hit the network")
	})

	t.Run("inside skew window refreshes", func(t *testing.T) {
		ep := newFakeTokenEndpoint(t)
		flow, store := newTestFlow(t, ep, WithNow(func() time.Time { return now }))
		cred := testCredential()
		cred.ExpiresAt = now.Add(30 * time.Second) // < 60s skew
		require.NoError(t, store.Put(cred))

		got, err := flow.EnsureValid(context.Background(), testID, orcid.EnvironmentSandbox)
		require.NoError(t, err)
		assert.Equal(t, "at-1", got.AccessToken)
		assert.Equal(t, []string{"refresh_token"}, ep.grants)

		stored, err := store.Get(testID, orcid.EnvironmentSandbox)
		require.NoError(t, err)
		assert.Equal(t, got.AccessToken, stored.AccessToken, "refresh persists")
	})

	t.Run("expired without refresh token", func(t *testing.T) {
		flow, store := newTestFlow(t, newFakeTokenEndpoint(t), WithNow(func() time.Time { return now }))
		cred := testCredential()
		cred.ExpiresAt = now.Add(-time.Hour)
		cred.RefreshToken = ""
		require.NoError(t, store.Put(cred))

		_, err := flow.EnsureValid(context.Background(), testID, orcid.EnvironmentSandbox)
		assert.ErrorIs(t, err, ErrReauthorizationRequired)
	})

	t.Run("refresh rejected", func(t *testing.T) {
		ep := newFakeTokenEndpoint(t)
		ep.denyAll = true
		flow, store := newTestFlow(t, ep, WithNow(func() time.Time { return now }))
		cred := testCredential()
		cred.ExpiresAt = now.Add(-time.Hour)
		require.NoError(t, store.Put(cred))

		_, err := flow.EnsureValid(context.Background(), testID, orcid.EnvironmentSandbox)
		assert.ErrorIs(t, err, ErrReauthorizationRequired)
	})
}

func TestFlow_Refresh_KeepsRefreshTokenWhenOmitted(t *testing.T) {
	// The registry may omit refresh_token on refresh; the stored one must
	// survive so the next refresh still works.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"access_token":"at-new","token_type":"bearer","expires_in":3600}`)
	}))
	defer srv.Close()

	store := NewFileTokenStore(filepath.Join(t.TempDir(), "credentials.yaml"))
	flow := NewFlow(ClientConfig{ClientID: "APP-1", ClientSecret: "s"}, store,
		WithEndpoint(orcid.EnvironmentSandbox, oauth2.Endpoint{
			AuthURL:  srv.URL + "/authorize",
			TokenURL: srv.URL + "/token",
		}))
	require.NoError(t, store.Put(testCredential()))

	got, err := flow.Refresh(context.Background(), testID, orcid.EnvironmentSandbox)
	require.NoError(t, err)
	assert.Equal(t, "at-new", got.AccessToken)
	assert.Equal(t, "rt-1", got.RefreshToken)
	assert.Equal(t, testCredential().Scope, got.Scope, "scope carried over when omitted")
}
