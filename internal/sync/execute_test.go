package sync

import (
	"context"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmarchant/cvsync/internal/auth"
	"github.com/jmarchant/cvsync/internal/orcid"
	"github.com/jmarchant/cvsync/internal/testutil"
)

// scriptedRegistry replays a queue of responses per remote call and
// records every token it saw, letting tests assert both call counts and
// which credential each attempt used.
type scriptedRegistry struct {
	createErrs []error
	updateErrs []error
	createID   string

	createCalls int
	updateCalls int
	tokens      []string
}

func (r *scriptedRegistry) CreateWork(_ context.Context, _, token string, _ []byte) (string, error) {
	r.tokens = append(r.tokens, token)
	r.createCalls++
	if len(r.createErrs) > 0 {
		err := r.createErrs[0]
		r.createErrs = r.createErrs[1:]
		if err != nil {
			return "", err
		}
	}
	if r.createID == "" {
		return "900001", nil
	}
	return r.createID, nil
}

func (r *scriptedRegistry) UpdateWork(_ context.Context, _, token, _ string, _ []byte) error {
	r.tokens = append(r.tokens, token)
	r.updateCalls++
	if len(r.updateErrs) > 0 {
		err := r.updateErrs[0]
		r.updateErrs = r.updateErrs[1:]
		return err
	}
	return nil
}

type fakeRefresher struct {
	cred  auth.Credential
	err   error
	calls int
}

func (f *fakeRefresher) Refresh(context.Context, string, orcid.Environment) (auth.Credential, error) {
	f.calls++
	if f.err != nil {
		return auth.Credential{}, f.err
	}
	return f.cred, nil
}

func testCred() auth.Credential {
	return auth.Credential{
		OrcidID:     "0000-0002-1825-0097",
		Environment: orcid.EnvironmentProduction,
		AccessToken: "stale-token",
	}
}

func createAction(key string) Action {
	return Action{
		Kind:    ActionCreate,
		Local:   pub(key, "Paper "+key, 2020),
		Payload: []byte(`{"title":{"title":{"value":"Paper ` + key + `"}}}`),
		Reason:  "not present on registry",
	}
}

func status(code int) *orcid.StatusError {
	return &orcid.StatusError{StatusCode: code}
}

func newTestExecutor(reg RegistryWriter, ref TokenRefresher, sleeper Sleeper) *Executor {
	return NewExecutor(reg, ref,
		WithSleeper(sleeper),
		WithJitter(func() float64 { return 0 }),
	)
}

func TestExecutor_PartialFailureContinuesBatch(t *testing.T) {
	reg := &scriptedRegistry{createErrs: []error{nil, status(http.StatusBadRequest), nil}}
	ex := newTestExecutor(reg, &fakeRefresher{}, testutil.NewManualSleeper())

	plan := Plan{Actions: []Action{createAction("a"), createAction("b"), createAction("c")}}
	results, err := ex.Execute(context.Background(), testCred(), plan, false)

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, OutcomeSucceeded, results[0].Outcome)
	assert.Equal(t, OutcomeFailed, results[1].Outcome, "a permanent 4xx fails only its own action")
	assert.Equal(t, OutcomeSucceeded, results[2].Outcome)
}

func TestExecutor_UnauthorizedRefreshesOnceAndRetries(t *testing.T) {
	reg := &scriptedRegistry{createErrs: []error{status(http.StatusUnauthorized), nil}}
	ref := &fakeRefresher{cred: auth.Credential{
		OrcidID:     "0000-0002-1825-0097",
		Environment: orcid.EnvironmentProduction,
		AccessToken: "fresh-token",
	}}
	ex := newTestExecutor(reg, ref, testutil.NewManualSleeper())

	results, err := ex.Execute(context.Background(), testCred(), Plan{Actions: []Action{createAction("a")}}, false)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeSucceeded, results[0].Outcome)
	assert.Equal(t, 1, ref.calls, "exactly one refresh per 401")
	assert.Equal(t, []string{"stale-token", "fresh-token"}, reg.tokens,
		"the retry carries the refreshed token")
}

func TestExecutor_SecondUnauthorizedIsFinal(t *testing.T) {
	reg := &scriptedRegistry{createErrs: []error{
		status(http.StatusUnauthorized),
		status(http.StatusUnauthorized),
	}}
	ref := &fakeRefresher{cred: testCred()}
	ex := newTestExecutor(reg, ref, testutil.NewManualSleeper())

	results, err := ex.Execute(context.Background(), testCred(), Plan{Actions: []Action{createAction("a")}}, false)

	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	assert.Contains(t, results[0].Detail, "still unauthorized")
	assert.Equal(t, 1, ref.calls)
	assert.Equal(t, 2, reg.createCalls, "no third attempt after the retry also 401s")
}

func TestExecutor_RefreshFailureFailsAction(t *testing.T) {
	reg := &scriptedRegistry{createErrs: []error{status(http.StatusUnauthorized)}}
	ref := &fakeRefresher{err: auth.ErrReauthorizationRequired}
	ex := newTestExecutor(reg, ref, testutil.NewManualSleeper())

	results, err := ex.Execute(context.Background(), testCred(), Plan{Actions: []Action{createAction("a")}}, false)

	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	assert.Contains(t, results[0].Detail, "token refresh after 401 failed")
}

func TestExecutor_RefreshedTokenCarriesToLaterActions(t *testing.T) {
	reg := &scriptedRegistry{createErrs: []error{status(http.StatusUnauthorized), nil, nil}}
	ref := &fakeRefresher{cred: auth.Credential{AccessToken: "fresh-token"}}
	ex := newTestExecutor(reg, ref, testutil.NewManualSleeper())

	plan := Plan{Actions: []Action{createAction("a"), createAction("b")}}
	_, err := ex.Execute(context.Background(), testCred(), plan, false)

	require.NoError(t, err)
	assert.Equal(t, []string{"stale-token", "fresh-token", "fresh-token"}, reg.tokens)
}

func TestExecutor_TransientErrorsBackOffUntilCeiling(t *testing.T) {
	reg := &scriptedRegistry{createErrs: []error{
		status(http.StatusTooManyRequests),
		status(http.StatusServiceUnavailable),
		status(http.StatusInternalServerError),
		status(http.StatusBadGateway),
	}}
	sleeper := testutil.NewManualSleeper()
	ex := newTestExecutor(reg, &fakeRefresher{}, sleeper)

	results, err := ex.Execute(context.Background(), testCred(), Plan{Actions: []Action{createAction("a")}}, false)

	require.NoError(t, err)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	assert.Contains(t, results[0].Detail, "giving up after 4 attempts")
	assert.Equal(t, DefaultRetryPolicy.MaxAttempts, reg.createCalls)

	// Three failures before the ceiling means three backoffs, doubling
	// from the base with jitter pinned to zero.
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		1 * time.Second,
		2 * time.Second,
	}, sleeper.Slept())
}

func TestExecutor_RateLimitRecoversOnRetry(t *testing.T) {
	reg := &scriptedRegistry{createErrs: []error{status(http.StatusTooManyRequests), nil}}
	sleeper := testutil.NewManualSleeper()
	ex := newTestExecutor(reg, &fakeRefresher{}, sleeper)

	results, err := ex.Execute(context.Background(), testCred(), Plan{Actions: []Action{createAction("a")}}, false)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, results[0].Outcome)
	assert.Len(t, sleeper.Slept(), 1)
}

func TestExecutor_DryRunMakesNoNetworkCalls(t *testing.T) {
	reg := &scriptedRegistry{}
	ex := newTestExecutor(reg, &fakeRefresher{}, testutil.NewManualSleeper())

	r := remote("R1", "Old", 2020, "")
	plan := Plan{Actions: []Action{
		createAction("a"),
		{Kind: ActionUpdate, Local: pub("b", "B", 2020), Remote: &r, Payload: []byte(`{}`)},
		{Kind: ActionSkip, Local: pub("c", "C", 2020), Reason: "already in sync"},
	}}

	results, err := ex.Execute(context.Background(), testCred(), plan, true)

	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, 0, reg.createCalls+reg.updateCalls)
	assert.Equal(t, OutcomeSkipped, results[0].Outcome)
	assert.Equal(t, "dry-run: would create", results[0].Detail)
	assert.Equal(t, "dry-run: would update", results[1].Detail)
	assert.Equal(t, "already in sync", results[2].Detail)
}

func TestExecutor_CancellationReturnsPartialResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	reg := &scriptedRegistry{}
	ex := newTestExecutor(reg, &fakeRefresher{}, testutil.NewManualSleeper())

	// Cancel after the first action by racing deliberately: run with an
	// already-cancelled context and confirm nothing executes but the
	// results collected so far come back.
	cancel()
	results, err := ex.Execute(ctx, testCred(), Plan{Actions: []Action{createAction("a")}}, false)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, results)
	assert.Equal(t, 0, reg.createCalls)
}

func TestRetryPolicy_DelayCapsAtMax(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 10, BaseDelay: time.Second, MaxDelay: 4 * time.Second}
	zero := func() float64 { return 0 }

	assert.Equal(t, time.Second, p.Delay(1, zero))
	assert.Equal(t, 2*time.Second, p.Delay(2, zero))
	assert.Equal(t, 4*time.Second, p.Delay(3, zero))
	assert.Equal(t, 4*time.Second, p.Delay(4, zero), "delay never exceeds the cap")
	assert.Equal(t, 4*time.Second, p.Delay(40, zero), "shift overflow still lands on the cap")
}

func TestRetryPolicy_JitterIsAdditiveAndBounded(t *testing.T) {
	p := RetryPolicy{MaxAttempts: 4, BaseDelay: time.Second, MaxDelay: 8 * time.Second, JitterFraction: 0.2}

	low := p.Delay(1, func() float64 { return 0 })
	high := p.Delay(1, func() float64 { return 1 })

	assert.Equal(t, time.Second, low)
	assert.Equal(t, 1200*time.Millisecond, high)
}

func TestExecutor_UpdateDetailNamesRemote(t *testing.T) {
	reg := &scriptedRegistry{}
	ex := newTestExecutor(reg, &fakeRefresher{}, testutil.NewManualSleeper())

	r := remote("R42", "Old", 2020, "")
	plan := Plan{Actions: []Action{{
		Kind:    ActionUpdate,
		Local:   pub("b", "B", 2020),
		Remote:  &r,
		Payload: []byte(`{}`),
	}}}

	results, err := ex.Execute(context.Background(), testCred(), plan, false)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, results[0].Outcome)
	assert.Equal(t, "updated R42", results[0].Detail)
	assert.Empty(t, results[0].AssignedRemoteID, "updates never assign a new remote id")
}

func TestExecutor_NonStatusErrorIsTransient(t *testing.T) {
	reg := &scriptedRegistry{createErrs: []error{fmt.Errorf("dial tcp: connection refused"), nil}}
	sleeper := testutil.NewManualSleeper()
	ex := newTestExecutor(reg, &fakeRefresher{}, sleeper)

	results, err := ex.Execute(context.Background(), testCred(), Plan{Actions: []Action{createAction("a")}}, false)

	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, results[0].Outcome, "network errors retry like 5xx")
	assert.Len(t, sleeper.Slept(), 1)
}
