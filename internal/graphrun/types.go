/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package graphrun implements the graph runner (spec.md §4.2): loads a
// graph spec, topologically schedules typed nodes under bounded
// concurrency, runs executors, persists state atomically, and supports
// resume. Its scheduling-loop shape is grounded on legator's
// internal/scheduler.Scheduler.tick/triggerRun (list-ready ->
// start-up-to-concurrency -> wait -> re-evaluate), adapted from CRD
// polling over a cluster-wide agent list to an in-process ready-set over
// one run's node map.
package graphrun

import "time"

// NodeState is a node's lifecycle phase (spec.md §3 "Node lifecycle
// state").
type NodeState string

const (
	NodePending   NodeState = "pending"
	NodeReady     NodeState = "ready"
	NodeRunning   NodeState = "running"
	NodeSucceeded NodeState = "succeeded"
	NodeFailed    NodeState = "failed"
	NodeCancelled NodeState = "cancelled"
	NodeSkipped   NodeState = "skipped"
)

func (s NodeState) Terminal() bool {
	switch s {
	case NodeSucceeded, NodeFailed, NodeCancelled, NodeSkipped:
		return true
	default:
		return false
	}
}

// Node is one entry in a graph spec (spec.md §3 "node").
type Node struct {
	ID             string         `json:"id" yaml:"id"`
	Type           string         `json:"type" yaml:"type"`
	Requires       []string       `json:"requires,omitempty" yaml:"requires,omitempty"`
	Params         map[string]any `json:"params,omitempty" yaml:"params,omitempty"`
	ResourceTags   []string       `json:"resource_tags,omitempty" yaml:"resource_tags,omitempty"`
	TimeoutSeconds int            `json:"timeout_seconds,omitempty" yaml:"timeout_seconds,omitempty"`
}

// Spec is a graph spec (spec.md §3 "Graph spec").
type Spec struct {
	ProjectID          string `json:"project_id" yaml:"project_id"`
	DefaultMaxAttempts int    `json:"default_max_attempts" yaml:"default_max_attempts"`
	DefaultTimeoutSec  int    `json:"default_timeout_seconds" yaml:"default_timeout_seconds"`
	Nodes              []Node `json:"nodes" yaml:"nodes"`
}

// NodeRunState is the per-node persisted state (spec.md §3 "Node lifecycle
// state" attributes).
type NodeRunState struct {
	State         NodeState  `json:"state"`
	Attempts      int        `json:"attempts"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	LastError     string     `json:"last_error,omitempty"`
	Checkpoint    []byte     `json:"checkpoint,omitempty"`
	NextAttemptAt *time.Time `json:"next_attempt_at,omitempty"`
}

// RunState is the full persisted run state (spec.md §3 "Run state"),
// written atomically after every state-changing transition.
type RunState struct {
	RunID     string                  `json:"run_id"`
	ProjectID string                  `json:"project_id"`
	Nodes     map[string]*NodeRunState `json:"nodes"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

// Completed reports whether every node has reached a terminal state.
func (rs *RunState) Completed() bool {
	for _, n := range rs.Nodes {
		if !n.State.Terminal() {
			return false
		}
	}
	return true
}

// Failed reports whether any node ended in the failed state.
func (rs *RunState) Failed() bool {
	for _, n := range rs.Nodes {
		if n.State == NodeFailed {
			return true
		}
	}
	return false
}
