package sync

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/jmarchant/cvsync/internal/auth"
	"github.com/jmarchant/cvsync/internal/cv"
	"github.com/jmarchant/cvsync/internal/orcid"
)

// LocalStore is the slice of the local record store the engine consumes:
// listing publications and attaching registry identifiers after creates.
// *cv.Store satisfies it.
type LocalStore interface {
	List() []cv.Publication
	AttachExternalRef(key, remoteID string) error
}

// Registry is the full registry API surface a run needs. *orcid.Client
// satisfies it.
type Registry interface {
	Works(ctx context.Context, orcidID, token string) ([]orcid.RemoteWork, error)
	RegistryWriter
}

// Authorizer produces valid credentials. *auth.Flow satisfies it.
type Authorizer interface {
	EnsureValid(ctx context.Context, orcidID string, env orcid.Environment) (auth.Credential, error)
	TokenRefresher
}

// Engine orchestrates a full sync run: credential, remote state, match,
// plan, execute, report.
type Engine struct {
	store    LocalStore
	registry Registry
	flow     Authorizer
	matcher  *Matcher
	planner  *Planner
	executor *Executor
	now      func() time.Time

	mu       gosync.Mutex
	inflight map[string]bool
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithEngineNow overrides the engine's clock. Used by tests.
func WithEngineNow(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine wires an Engine from its collaborators.
func NewEngine(store LocalStore, registry Registry, flow Authorizer, mapper *orcid.Mapper, executor *Executor, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		registry: registry,
		flow:     flow,
		matcher:  NewMatcher(),
		planner:  NewPlanner(mapper),
		executor: executor,
		now:      time.Now,
		inflight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run performs one sync run for an identity/environment pair.
//
// Authentication-level failures abort before any action executes.
// Per-action failures never abort: the run completes and the report says
// what happened. Overlapping runs for the same pair are rejected with
// ErrRunInFlight.
func (e *Engine) Run(ctx context.Context, orcidID string, env orcid.Environment, dryRun bool) (RunReport, error) {
	id, err := orcid.ValidateID(orcidID)
	if err != nil {
		return RunReport{}, newRunError(CodeInvalidIdentity, err)
	}

	if !e.acquire(id, env) {
		return RunReport{}, newRunError(CodeRunInFlight, fmt.Errorf("%w: %s (%s)", ErrRunInFlight, id, env))
	}
	defer e.release(id, env)

	cred, err := e.flow.EnsureValid(ctx, id, env)
	if err != nil {
		return RunReport{}, newRunError(CodeAuthorization, err)
	}

	remotes, err := e.registry.Works(ctx, id, cred.AccessToken)
	if err != nil {
		return RunReport{}, newRunError(CodeRegistryUnavailable, err)
	}

	locals := syncable(e.store.List())
	matches := e.matcher.Match(locals, remotes)
	plan := e.planner.Plan(matches)

	report := RunReport{
		OrcidID:     id,
		Environment: env,
		DryRun:      dryRun,
		StartedAt:   e.now(),
		RemoteOnly:  plan.RemoteOnly,
		Failures:    plan.Failures,
	}

	results, execErr := e.executor.Execute(ctx, cred, plan, dryRun)
	report.Results = e.attachCreated(results)
	report.tally(matches)

	// A cancelled run still reports everything it completed.
	return report, execErr
}

// attachCreated records registry-assigned identifiers on the local store.
// The store write is the one local mutation sync performs; a failure to
// record it is noted on the result but does not fail the action, which
// did succeed remotely.
func (e *Engine) attachCreated(results []Result) []Result {
	for i, res := range results {
		if res.Outcome != OutcomeSucceeded || res.Action.Kind != ActionCreate || res.AssignedRemoteID == "" {
			continue
		}
		if err := e.store.AttachExternalRef(res.Action.Local.Key, res.AssignedRemoteID); err != nil {
			results[i].Detail += fmt.Sprintf(" (warning: could not record external ref locally: %v)", err)
		}
	}
	return results
}

// syncable filters out categories that never sync (unmapped imports).
func syncable(pubs []cv.Publication) []cv.Publication {
	out := pubs[:0]
	for _, p := range pubs {
		if p.Category.Syncable() {
			out = append(out, p)
		}
	}
	return out
}

func (e *Engine) acquire(id string, env orcid.Environment) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	key := id + ":" + string(env)
	if e.inflight[key] {
		return false
	}
	e.inflight[key] = true
	return true
}

func (e *Engine) release(id string, env orcid.Environment) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.inflight, id+":"+string(env))
}
