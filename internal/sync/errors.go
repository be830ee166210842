package sync

import (
	"errors"
	"fmt"
)

// ErrRunInFlight means a sync run for the same identity/environment pair
// is already executing. Overlapping runs for one identity would race on
// the registry side, so they are rejected outright.
var ErrRunInFlight = errors.New("a sync run is already in flight for this identity")

// RunErrorCode categorizes run-level failures, the ones that abort a run
// before (or instead of) producing a report.
type RunErrorCode string

const (
	// CodeAuthorization covers every credential problem: missing, expired
	// without refresh, refresh rejected. No action executes without a
	// valid credential.
	CodeAuthorization RunErrorCode = "AUTHORIZATION"

	// CodeRegistryUnavailable means the initial works read failed, so
	// there was nothing to match against.
	CodeRegistryUnavailable RunErrorCode = "REGISTRY_UNAVAILABLE"

	// CodeRunInFlight mirrors ErrRunInFlight.
	CodeRunInFlight RunErrorCode = "RUN_IN_FLIGHT"

	// CodeInvalidIdentity means the ORCID iD failed validation.
	CodeInvalidIdentity RunErrorCode = "INVALID_IDENTITY"
)

// RunError is a run-level failure with a stable code for callers that
// branch (exit codes, JSON output) and a wrapped cause for callers that
// use errors.Is.
type RunError struct {
	Code RunErrorCode
	Err  error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *RunError) Unwrap() error {
	return e.Err
}

func newRunError(code RunErrorCode, err error) *RunError {
	return &RunError{Code: code, Err: err}
}

// RunErrorCodeOf extracts the code from a run-level error, or "" when the
// error is not a RunError.
func RunErrorCodeOf(err error) RunErrorCode {
	var re *RunError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
