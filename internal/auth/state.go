package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"sync"
	"time"

	"github.com/jmarchant/cvsync/internal/orcid"
)

// pendingAuth is an authorization request that has been started but whose
// callback has not yet arrived. The user may take arbitrarily long between
// opening the authorization URL and pasting the code back.
type pendingAuth struct {
	OrcidID     string
	Environment orcid.Environment
	State       string
	StartedAt   time.Time
}

// pendingStore tracks outstanding authorization requests keyed by
// identity/environment. At most one request may be pending per key; a
// second Begin for the same key would make the eventual state value
// ambiguous.
type pendingStore struct {
	mu      sync.Mutex
	pending map[string]pendingAuth
}

func newPendingStore() *pendingStore {
	return &pendingStore{pending: make(map[string]pendingAuth)}
}

// begin records a new pending request with a fresh random state. Reports
// ok=false if a request for the same key is already outstanding.
func (p *pendingStore) begin(orcidID string, env orcid.Environment, now time.Time) (pendingAuth, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	key := credentialKey(orcidID, env)
	if _, exists := p.pending[key]; exists {
		return pendingAuth{}, false
	}

	pa := pendingAuth{
		OrcidID:     orcidID,
		Environment: env,
		State:       newState(),
		StartedAt:   now,
	}
	p.pending[key] = pa
	return pa, true
}

// take finds the pending request whose state matches and removes it.
// The comparison is constant-time; state is the anti-CSRF secret.
func (p *pendingStore) take(state string) (pendingAuth, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for key, pa := range p.pending {
		if subtle.ConstantTimeCompare([]byte(pa.State), []byte(state)) == 1 {
			delete(p.pending, key)
			return pa, true
		}
	}
	return pendingAuth{}, false
}

// cancel drops any pending request for the key.
func (p *pendingStore) cancel(orcidID string, env orcid.Environment) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pending, credentialKey(orcidID, env))
}

// newState returns 32 bytes of cryptographic randomness, URL-safe encoded.
func newState() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// crypto/rand never fails on supported platforms; if it does,
		// issuing a guessable state would be worse than crashing.
		panic("auth: crypto/rand unavailable: " + err.Error())
	}
	return base64.RawURLEncoding.EncodeToString(b)
}
