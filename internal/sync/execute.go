package sync

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/jmarchant/cvsync/internal/auth"
	"github.com/jmarchant/cvsync/internal/orcid"
)

// RegistryWriter is the slice of the registry API the executor mutates
// through.
type RegistryWriter interface {
	CreateWork(ctx context.Context, orcidID, token string, payload []byte) (string, error)
	UpdateWork(ctx context.Context, orcidID, token, remoteID string, payload []byte) error
}

// TokenRefresher forces a token refresh after the registry rejects a
// request with 401. *auth.Flow satisfies it.
type TokenRefresher interface {
	Refresh(ctx context.Context, orcidID string, env orcid.Environment) (auth.Credential, error)
}

// Sleeper abstracts backoff delays so tests can run retries instantly.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// RetryPolicy bounds per-action retries: exponential backoff from
// BaseDelay, capped at MaxDelay, with up to JitterFraction of the delay
// added randomly to spread concurrent clients apart.
type RetryPolicy struct {
	MaxAttempts    int
	BaseDelay      time.Duration
	MaxDelay       time.Duration
	JitterFraction float64
}

// DefaultRetryPolicy is the policy sync runs use unless overridden.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:    4,
	BaseDelay:      500 * time.Millisecond,
	MaxDelay:       8 * time.Second,
	JitterFraction: 0.2,
}

// Delay returns the backoff before retry number attempt (1-based: the
// delay after the attempt'th failure).
func (p RetryPolicy) Delay(attempt int, jitter func() float64) time.Duration {
	d := p.BaseDelay << (attempt - 1)
	if d > p.MaxDelay || d <= 0 {
		d = p.MaxDelay
	}
	if p.JitterFraction > 0 && jitter != nil {
		d += time.Duration(float64(d) * p.JitterFraction * jitter())
	}
	return d
}

// Executor applies a plan against the registry, one action at a time, in
// plan order. A per-action failure is recorded and the batch continues;
// the executor only returns an error for run-level conditions (context
// cancellation).
type Executor struct {
	registry  RegistryWriter
	refresher TokenRefresher
	policy    RetryPolicy
	sleeper   Sleeper
	jitter    func() float64
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithRetryPolicy overrides the default retry policy.
func WithRetryPolicy(p RetryPolicy) ExecutorOption {
	return func(e *Executor) { e.policy = p }
}

// WithSleeper overrides the backoff sleeper. Tests inject a manual one.
func WithSleeper(s Sleeper) ExecutorOption {
	return func(e *Executor) { e.sleeper = s }
}

// WithJitter overrides the jitter source. Tests pin it to zero.
func WithJitter(j func() float64) ExecutorOption {
	return func(e *Executor) { e.jitter = j }
}

// NewExecutor returns an Executor writing through registry and refreshing
// tokens through refresher.
func NewExecutor(registry RegistryWriter, refresher TokenRefresher, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:  registry,
		refresher: refresher,
		policy:    DefaultRetryPolicy,
		sleeper:   realSleeper{},
		jitter:    rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs the plan's actions sequentially. When dryRun is set no
// network call is made; every create/update is reported as skipped with a
// "dry-run: would ..." detail instead.
//
// On context cancellation the results collected so far are returned along
// with the context error; they remain valid and reportable.
func (e *Executor) Execute(ctx context.Context, cred auth.Credential, plan Plan, dryRun bool) ([]Result, error) {
	results := make([]Result, 0, len(plan.Actions))

	for _, action := range plan.Actions {
		if err := ctx.Err(); err != nil {
			return results, err
		}

		switch {
		case action.Kind == ActionSkip:
			results = append(results, Result{Action: action, Outcome: OutcomeSkipped, Detail: action.Reason})
		case dryRun:
			results = append(results, Result{
				Action:  action,
				Outcome: OutcomeSkipped,
				Detail:  "dry-run: would " + string(action.Kind),
			})
		default:
			results = append(results, e.executeOne(ctx, &cred, action))
		}
	}
	return results, nil
}

// executeOne performs a single mutating action with retry. cred is a
// pointer so a mid-batch token refresh carries over to later actions.
func (e *Executor) executeOne(ctx context.Context, cred *auth.Credential, action Action) Result {
	refreshed := false

	for attempt := 1; ; attempt++ {
		assignedID, err := e.do(ctx, *cred, action)
		if err == nil {
			detail := "created as " + assignedID
			if action.Kind == ActionUpdate {
				detail = "updated " + action.Remote.RemoteID
			}
			return Result{Action: action, Outcome: OutcomeSucceeded, Detail: detail, AssignedRemoteID: assignedID}
		}

		var se *orcid.StatusError
		isStatus := errors.As(err, &se)

		// A 401 means the token died underneath us: refresh once and
		// retry the same action immediately. A second 401 is final.
		if isStatus && se.StatusCode == http.StatusUnauthorized {
			if refreshed {
				return failedResult(action, fmt.Errorf("still unauthorized after token refresh: %w", err))
			}
			refreshed = true
			fresh, refreshErr := e.refresher.Refresh(ctx, cred.OrcidID, cred.Environment)
			if refreshErr != nil {
				return failedResult(action, fmt.Errorf("token refresh after 401 failed: %w", refreshErr))
			}
			*cred = fresh
			continue
		}

		// Permanent 4xx: report and move on.
		if isStatus && !se.Transient() {
			return failedResult(action, err)
		}

		// Transient (rate limit, 5xx, network): back off and retry
		// until the attempt ceiling.
		if attempt >= e.policy.MaxAttempts {
			return failedResult(action, fmt.Errorf("giving up after %d attempts: %w", attempt, err))
		}
		if sleepErr := e.sleeper.Sleep(ctx, e.policy.Delay(attempt, e.jitter)); sleepErr != nil {
			return failedResult(action, fmt.Errorf("cancelled during retry backoff: %w", sleepErr))
		}
	}
}

// do issues the single network call for an action. Payload bytes were
// fixed at planning time, so a retry sends exactly the same request.
func (e *Executor) do(ctx context.Context, cred auth.Credential, action Action) (string, error) {
	switch action.Kind {
	case ActionCreate:
		return e.registry.CreateWork(ctx, cred.OrcidID, cred.AccessToken, action.Payload)
	case ActionUpdate:
		return "", e.registry.UpdateWork(ctx, cred.OrcidID, cred.AccessToken, action.Remote.RemoteID, action.Payload)
	default:
		return "", fmt.Errorf("unexpected action kind %q", action.Kind)
	}
}

func failedResult(action Action, err error) Result {
	return Result{Action: action, Outcome: OutcomeFailed, Detail: err.Error()}
}
