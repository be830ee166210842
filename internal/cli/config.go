package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmarchant/cvsync/internal/auth"
	"github.com/jmarchant/cvsync/internal/orcid"
)

// Environment variables carrying the registered OAuth client. The client
// id/secret come from registering the application with ORCID; they are
// deliberately not flags so they never end up in shell history.
const (
	envClientID     = "ORCID_CLIENT_ID"
	envClientSecret = "ORCID_CLIENT_SECRET"
	envRedirectURL  = "ORCID_REDIRECT_URL"
	envHome         = "CVSYNC_HOME"
)

// clientConfigFromEnv reads the OAuth client registration from the
// environment. The redirect URL defaults to ORCID's out-of-band value for
// installed applications, which shows the authorization code to the user
// instead of redirecting.
func clientConfigFromEnv() (auth.ClientConfig, error) {
	cfg := auth.ClientConfig{
		ClientID:     os.Getenv(envClientID),
		ClientSecret: os.Getenv(envClientSecret),
		RedirectURL:  os.Getenv(envRedirectURL),
	}
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return auth.ClientConfig{}, fmt.Errorf("%s and %s must be set", envClientID, envClientSecret)
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = "urn:ietf:wg:oauth:2.0:oob"
	}
	return cfg, nil
}

// defaultDir is where cvsync keeps its files unless overridden by flags:
// credentials, the publication list, and the run history database.
// CVSYNC_HOME overrides the default ~/.cvsync.
func defaultDir() (string, error) {
	dir := os.Getenv(envHome)
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		dir = filepath.Join(home, ".cvsync")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	return dir, nil
}

// resolvePath returns flagValue unless it is empty, in which case the
// named file under the default directory is used.
func resolvePath(flagValue, filename string) (string, error) {
	if flagValue != "" {
		return flagValue, nil
	}
	dir, err := defaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, filename), nil
}

// environmentFor maps the --sandbox flag to a registry environment.
func environmentFor(sandbox bool) orcid.Environment {
	if sandbox {
		return orcid.EnvironmentSandbox
	}
	return orcid.EnvironmentProduction
}
