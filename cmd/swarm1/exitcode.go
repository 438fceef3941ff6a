/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/swarm1/engine/internal/errs"
)

// cliError is a command failure tagged with the component that raised it
// and the exit code the CLI should return (spec.md §6 "Exit codes", §7
// "Every failing command prints a one-line error with component prefix
// ... and exits with a typed code").
type cliError struct {
	component string
	code      int
	err       error
}

func (e *cliError) Error() string { return e.err.Error() }
func (e *cliError) Unwrap() error { return e.err }

// failf builds a cliError for component, classifying the exit code from
// err's errs sentinel (or 1 if unrecognized).
func failf(component string, err error) error {
	return &cliError{component: component, code: classify(err), err: err}
}

// failCode builds a cliError with an explicit exit code, bypassing
// classification (used where the caller already knows the precise code,
// e.g. CVF's per-domain 305-309).
func failCode(component string, code int, err error) error {
	return &cliError{component: component, code: code, err: err}
}

// classify maps an error to its spec.md §6 exit code via errs sentinels.
func classify(err error) int {
	switch {
	case errors.Is(err, errs.ErrUsage):
		return 2
	case errors.Is(err, errs.ErrCycleDetected):
		return 1
	case errors.Is(err, errs.ErrBrokerUnavailable):
		return 401
	case errors.Is(err, errs.ErrPermissionDenied), errors.Is(err, errs.ErrTenantPolicyViolation):
		return 405
	case errors.Is(err, errs.ErrResumeStateMissing):
		return 406
	case errors.Is(err, errs.ErrJobCancelled):
		return 407
	case errors.Is(err, errs.ErrJobTimeout):
		return 408
	case errors.Is(err, errs.ErrSchema):
		return 409
	default:
		if _, ok := errs.IsCvfValidatorFailed(err); ok {
			_, code := cvfDomainCode(err)
			return code
		}
		return 1
	}
}

// cvfDomainCode extracts the per-domain exit code for a CvfValidatorFailed.
func cvfDomainCode(err error) (string, int) {
	domain, _ := errs.IsCvfValidatorFailed(err)
	switch domain {
	case "data":
		return domain, 305
	case "charts":
		return domain, 306
	case "seo":
		return domain, 307
	case "media":
		return domain, 308
	case "db":
		return domain, 309
	default:
		return domain, 1
	}
}

// exitCodeFor prints the user-visible one-line error (if any) and returns
// the process exit code for err.
func exitCodeFor(err error) int {
	if err == nil {
		return 0
	}
	var ce *cliError
	if errors.As(err, &ce) {
		fmt.Fprintf(os.Stderr, "[%s] %v\n", ce.component, ce.err)
		return ce.code
	}
	fmt.Fprintf(os.Stderr, "[swarm1] %v\n", err)
	return 1
}
