// Package auth owns ORCID OAuth credentials: their acquisition through the
// two-phase authorization-code flow, their refresh, and their on-disk
// storage.
package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/jmarchant/cvsync/internal/orcid"
)

// ErrCredentialNotFound is returned when no credential is stored for an
// identity/environment pair. Callers must not synthesize a token in
// response; the fix is to run the authorization flow.
var ErrCredentialNotFound = errors.New("no stored credential")

// Credential is one identity's OAuth grant for one environment.
type Credential struct {
	OrcidID      string            `yaml:"orcid_id"`
	Environment  orcid.Environment `yaml:"environment"`
	AccessToken  string            `yaml:"access_token"`
	RefreshToken string            `yaml:"refresh_token,omitempty"`
	ExpiresAt    time.Time         `yaml:"expires_at"`
	Scope        string            `yaml:"scope,omitempty"`
}

// key returns the storage key for a credential: "{orcid_id}:{environment}".
func credentialKey(orcidID string, env orcid.Environment) string {
	return orcidID + ":" + string(env)
}

// TokenStore persists credentials, one per (identity, environment).
type TokenStore interface {
	Get(orcidID string, env orcid.Environment) (Credential, error)
	Put(cred Credential) error
	Delete(orcidID string, env orcid.Environment) error
}

// FileTokenStore keeps credentials in a single YAML file keyed by
// "{orcid_id}:{environment}". The file is written owner-read/write only;
// it holds live bearer tokens.
type FileTokenStore struct {
	path string
}

// NewFileTokenStore returns a store backed by the given path. The file is
// created lazily on the first Put.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

func (s *FileTokenStore) load() (map[string]Credential, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Credential{}, nil
		}
		return nil, fmt.Errorf("read %s: %w", s.path, err)
	}
	creds := map[string]Credential{}
	if err := yaml.Unmarshal(data, &creds); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return creds, nil
}

func (s *FileTokenStore) save(creds map[string]Credential) error {
	data, err := yaml.Marshal(creds)
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".credentials-*.yaml")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	// 0600 before any bytes land: tokens must never be world-readable,
	// even transiently.
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("restrict temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("replace %s: %w", s.path, err)
	}
	return nil
}

// Get returns the credential for the identity/environment pair, or
// ErrCredentialNotFound.
func (s *FileTokenStore) Get(orcidID string, env orcid.Environment) (Credential, error) {
	creds, err := s.load()
	if err != nil {
		return Credential{}, err
	}
	cred, ok := creds[credentialKey(orcidID, env)]
	if !ok {
		return Credential{}, fmt.Errorf("%w for %s (%s)", ErrCredentialNotFound, orcidID, env)
	}
	return cred, nil
}

// Put stores the credential, overwriting any previous one for the same key.
func (s *FileTokenStore) Put(cred Credential) error {
	creds, err := s.load()
	if err != nil {
		return err
	}
	creds[credentialKey(cred.OrcidID, cred.Environment)] = cred
	return s.save(creds)
}

// Delete removes the credential for the identity/environment pair.
// Deleting an absent credential is not an error.
func (s *FileTokenStore) Delete(orcidID string, env orcid.Environment) error {
	creds, err := s.load()
	if err != nil {
		return err
	}
	delete(creds, credentialKey(orcidID, env))
	return s.save(creds)
}
