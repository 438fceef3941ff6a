/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package jobqueue implements the durable job queue and worker (spec.md
// §4.3): durable submission, tenant-scoped routing, exactly-one-attempt-
// per-worker semantics with bounded retries, and admin operations. It has
// no event pub/sub; `engine monitor` polls the store. Its status machine and CAS-by-current-status
// transition idiom are grounded directly on legator's
// internal/controlplane/jobs.{Store,transitionRun,resolvedRetryPolicy} —
// the same queued/running/terminal vocabulary and the same
// "UPDATE ... WHERE id = ? AND status = ?" optimistic-concurrency update —
// generalized from "job run on a fleet probe" to "graph run on a worker".
package jobqueue

import "time"

// Status is a job's lifecycle state (spec.md §3 "Job").
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

func isKnownStatus(s Status) bool {
	switch s {
	case StatusQueued, StatusRunning, StatusSucceeded, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Constraints carries the tenant-policy-checked fields of a job payload
// (spec.md §4.6 "Tenant policy checks (pre-enqueue)").
type Constraints struct {
	BudgetUSD            float64  `json:"budget_usd,omitempty"`
	RequiredCapabilities []string `json:"required_capabilities,omitempty"`
}

// Payload is a job's submission payload (spec.md §3 "Job... payload").
type Payload struct {
	Type      string            `json:"type"`
	GraphFile string            `json:"graph_file"`
	Tenant    string            `json:"tenant"`
	RunID     string            `json:"run_id,omitempty"`
	Priority  int               `json:"priority,omitempty"`
	Resume    bool              `json:"resume,omitempty"`
	Constraints *Constraints    `json:"constraints,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
}

// Job is one durable queue entry (spec.md §3 "Job").
type Job struct {
	ID               string     `json:"id"`
	Payload          Payload    `json:"payload"`
	Status           Status     `json:"status"`
	Priority         int        `json:"priority"`
	Attempts         int        `json:"attempts"`
	MaxAttempts      int        `json:"max_attempts"`
	StalledCount     int        `json:"stalled_count"`
	LockedBy         string     `json:"locked_by,omitempty"`
	LockExpiresAt    *time.Time `json:"lock_expires_at,omitempty"`
	LastError        string     `json:"last_error,omitempty"`
	ExitCode         *int       `json:"exit_code,omitempty"`
	RunID            string     `json:"run_id,omitempty"`
	Artifacts        []string   `json:"artifacts,omitempty"`
	ProgressPercent  int        `json:"progress_percent,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	RetryScheduledAt *time.Time `json:"retry_scheduled_at,omitempty"`
}

// ListQuery filters the job listing (spec.md §4.3 "list by state").
type ListQuery struct {
	Status Status
	Tenant string
	Limit  int
}

// Metrics summarizes queue-wide counts (spec.md §4.3 "metrics").
type Metrics struct {
	Queued    int `json:"queued"`
	Running   int `json:"running"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
	Paused    bool `json:"paused"`
}
