package auth

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmarchant/cvsync/internal/orcid"
)

const testID = "0000-0002-1825-0097"

func testCredential() Credential {
	return Credential{
		OrcidID:      testID,
		Environment:  orcid.EnvironmentSandbox,
		AccessToken:  "at-1",
		RefreshToken: "rt-1",
		ExpiresAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		Scope:        "/activities/update /read-limited",
	}
}

func TestFileTokenStore_RoundTrip(t *testing.T) {
	s := NewFileTokenStore(filepath.Join(t.TempDir(), "credentials.yaml"))

	_, err := s.Get(testID, orcid.EnvironmentSandbox)
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	cred := testCredential()
	require.NoError(t, s.Put(cred))

	got, err := s.Get(testID, orcid.EnvironmentSandbox)
	require.NoError(t, err)
	assert.Equal(t, cred.AccessToken, got.AccessToken)
	assert.Equal(t, cred.RefreshToken, got.RefreshToken)
	assert.True(t, cred.ExpiresAt.Equal(got.ExpiresAt))
	assert.Equal(t, cred.Scope, got.Scope)
}

func TestFileTokenStore_OneCredentialPerKey(t *testing.T) {
	s := NewFileTokenStore(filepath.Join(t.TempDir(), "credentials.yaml"))

	first := testCredential()
	require.NoError(t, s.Put(first))

	second := first
	second.AccessToken = "at-2"
	require.NoError(t, s.Put(second))

	got, err := s.Get(testID, orcid.EnvironmentSandbox)
	require.NoError(t, err)
	assert.Equal(t, "at-2", got.AccessToken, "put overwrites")

	// Same identity, other environment, is a distinct key.
	prod := first
	prod.Environment = orcid.EnvironmentProduction
	prod.AccessToken = "at-prod"
	require.NoError(t, s.Put(prod))

	got, err = s.Get(testID, orcid.EnvironmentSandbox)
	require.NoError(t, err)
	assert.Equal(t, "at-2", got.AccessToken)
}

func TestFileTokenStore_OwnerOnlyPermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.yaml")
	s := NewFileTokenStore(path)
	require.NoError(t, s.Put(testCredential()))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestFileTokenStore_Delete(t *testing.T) {
	s := NewFileTokenStore(filepath.Join(t.TempDir(), "credentials.yaml"))
	require.NoError(t, s.Put(testCredential()))

	require.NoError(t, s.Delete(testID, orcid.EnvironmentSandbox))
	_, err := s.Get(testID, orcid.EnvironmentSandbox)
	assert.ErrorIs(t, err, ErrCredentialNotFound)

	// Deleting again is a no-op.
	require.NoError(t, s.Delete(testID, orcid.EnvironmentSandbox))
}
