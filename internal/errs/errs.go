// Package errs implements the typed error taxonomy from spec §7 (its
// ConfigError lives in internal/config). Each error is a small struct
// implementing error, and ScannerAPIError also implements Unwrap, so
// callers use errors.As instead of string-matching, the way the
// teacher's CloneAuthException-equivalent failures are structured.
package errs

import "fmt"

// RouteNotFoundError is returned when no configured route matches an
// incoming webhook (spec §7: "warn, 4xx to caller").
type RouteNotFoundError struct {
	SCM  string
	Repo string
}

func (e *RouteNotFoundError) Error() string {
	return fmt.Sprintf("errs: no route matches repo %q on %s", e.Repo, e.SCM)
}

// SignatureInvalidError is returned when a shared-secret/HMAC check fails
// (spec §7: "warn, 401/403; payload dropped").
type SignatureInvalidError struct {
	Reason string
}

func (e *SignatureInvalidError) Error() string {
	return fmt.Sprintf("errs: signature invalid: %s", e.Reason)
}

// NotAuthorizedError is returned when a bearer JWT fails verification.
type NotAuthorizedError struct {
	Reason string
}

func (e *NotAuthorizedError) Error() string {
	return fmt.Sprintf("errs: not authorized: %s", e.Reason)
}

// CloneAuthError wraps a git clone failure detected as an authentication
// problem (exit 128 plus a matching stderr pattern). Spec §7: "retry once,
// then surface."
type CloneAuthError struct {
	CloneURL string
	Stderr   string
}

func (e *CloneAuthError) Error() string {
	return fmt.Sprintf("errs: clone auth failure for %q: %s", e.CloneURL, e.Stderr)
}

// ScannerAPIError wraps any failure talking to the scanner. Spec §7:
// "abort current workflow for that scan; ack to prevent redelivery storm."
type ScannerAPIError struct {
	Op  string
	Err error
}

func (e *ScannerAPIError) Error() string {
	return fmt.Sprintf("errs: scanner api error during %s: %v", e.Op, e.Err)
}

func (e *ScannerAPIError) Unwrap() error { return e.Err }

// ResolverSoftFailureError: the resolver exited non-zero but a scan was
// still submitted; polling proceeds with a resolver=failure tag.
type ResolverSoftFailureError struct {
	ExitCode int
	ScanID   string
}

func (e *ResolverSoftFailureError) Error() string {
	return fmt.Sprintf("errs: resolver soft failure (exit %d), scan %s submitted anyway", e.ExitCode, e.ScanID)
}

// ResolverHardFailureError: the agent never got far enough to submit a
// scan; no scan_id, no downstream polling.
type ResolverHardFailureError struct {
	Reason string
}

func (e *ResolverHardFailureError) Error() string {
	return fmt.Sprintf("errs: resolver hard failure: %s", e.Reason)
}

// ScanTimeoutError: a scan-await chain's cumulative drop_by deadline
// passed before the scan reached a terminal state.
type ScanTimeoutError struct {
	ProjectID string
	ScanID    string
}

func (e *ScanTimeoutError) Error() string {
	return fmt.Sprintf("errs: scan %s/%s timed out waiting for completion", e.ProjectID, e.ScanID)
}
