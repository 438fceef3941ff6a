/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package jobqueue

import "time"

// RetryPolicy configures exponential backoff for a job's retries (spec.md
// §3 "Retries: bounded attempts with exponential backoff and ceiling"),
// the same shape as legator's jobs.RetryPolicy/resolvedRetryPolicy.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
}

// DefaultRetryPolicy mirrors spec.md §6's MAX_JOB_RETRIES/BACKOFF_DELAY_MS
// defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:    3,
		InitialBackoff: 5 * time.Second,
		Multiplier:     2.0,
		MaxBackoff:     5 * time.Minute,
	}
}

// NextDelay returns the backoff before scheduling the attempt after
// failedAttempt (1-indexed) has completed.
func (p RetryPolicy) NextDelay(failedAttempt int) time.Duration {
	if failedAttempt < 1 {
		failedAttempt = 1
	}
	delay := p.InitialBackoff
	for i := 1; i < failedAttempt; i++ {
		delay = time.Duration(float64(delay) * p.Multiplier)
		if p.MaxBackoff > 0 && delay > p.MaxBackoff {
			delay = p.MaxBackoff
			break
		}
	}
	return delay
}
