package kratos

import "errors"

// ErrFlowNotFound means the backend reports the flow as expired or
// unknown. Callers must create a fresh flow, never retry the same id.
var ErrFlowNotFound = errors.New("flow not found or expired")

// ValidationError is the normal "bad password" path, not an exceptional
// case: the backend rejected the submission and returned a replacement
// Flow with per-field errors and a rotated anti-CSRF token. Callers
// must render the replacement flow, never the stale one.
type ValidationError struct {
	Flow *Flow
}

func (e *ValidationError) Error() string {
	return "submission rejected by the flow API"
}
