// Package errs defines the orchestration engine's error kinds (spec.md §7).
// Each kind is a sentinel or a small struct type with an Is-style predicate,
// the same idiom the teacher uses for jobs.ErrInvalidRunTransition /
// jobs.IsInvalidRunTransition rather than one large error-code enum.
package errs

import (
	"errors"
	"fmt"
)

var (
	ErrUsage               = errors.New("usage error")
	ErrSchema              = errors.New("schema validation failed")
	ErrCycleDetected       = errors.New("cycle detected")
	ErrUnknownTool         = errors.New("unknown tool")
	ErrUnknownAgent        = errors.New("unknown agent")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrTenantPolicyViolation = errors.New("tenant policy violation")
	ErrBudgetExceeded      = errors.New("budget exceeded")
	ErrConsentRequired     = errors.New("consent required")
	ErrMissingAPIKey       = errors.New("missing api key")
	ErrSafetyBlocked       = errors.New("safety blocked")
	ErrBrokerUnavailable   = errors.New("broker unavailable")
	ErrResumeStateMissing  = errors.New("resume requested but no state")
	ErrJobTimeout          = errors.New("job timeout")
	ErrJobCancelled        = errors.New("job cancelled")
	ErrExecutorTransient   = errors.New("executor transient error")
	ErrExecutorPermanent   = errors.New("executor permanent error")
	ErrCvfArtifactMissing  = errors.New("cvf artifact missing")
)

// CvfValidatorFailed reports a domain-specific CVF validator failure
// (spec.md §4.4 step 4: data/charts/seo/media/db).
type CvfValidatorFailed struct {
	Domain  string
	Reason  string
}

func (e *CvfValidatorFailed) Error() string {
	return fmt.Sprintf("cvf validator failed (%s): %s", e.Domain, e.Reason)
}

// IsCvfValidatorFailed reports whether err is a CvfValidatorFailed, and
// if so for which domain.
func IsCvfValidatorFailed(err error) (domain string, ok bool) {
	var v *CvfValidatorFailed
	if errors.As(err, &v) {
		return v.Domain, true
	}
	return "", false
}

// SchemaError wraps a JSON-schema validation failure with the subject
// that failed validation (registry, policies, graph, job, artifact).
type SchemaError struct {
	Subject string
	Err     error
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema error (%s): %v", e.Subject, e.Err)
}

func (e *SchemaError) Unwrap() error { return ErrSchema }

// NewSchemaError builds a SchemaError for subject, wrapping cause.
func NewSchemaError(subject string, cause error) error {
	return &SchemaError{Subject: subject, Err: cause}
}
