/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package graphrun

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"

	"github.com/swarm1/engine/internal/errs"
	"github.com/swarm1/engine/internal/executor"
	"github.com/swarm1/engine/internal/observability"
)

// Runner executes one graph spec to completion under bounded concurrency
// (spec.md §4.2). Its scheduling loop generalizes legator's
// internal/scheduler.Scheduler.tick: instead of periodically listing
// cluster-wide agents and triggering due ones, it maintains an in-process
// ready-set over one run's node map and dispatches ready nodes up to a
// concurrency limit, looping until every node reaches a terminal state.
type Runner struct {
	Executors   *executor.Registry
	Concurrency int
	Sink        *observability.Sink
	Log         logr.Logger
	RetryPolicy NodeRetryPolicy
}

// NewRunner constructs a Runner with the given executor registry and
// worker pool size.
func NewRunner(executors *executor.Registry, concurrency int, sink *observability.Sink, log logr.Logger) *Runner {
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Runner{Executors: executors, Concurrency: concurrency, Sink: sink, Log: log, RetryPolicy: DefaultNodeRetryPolicy()}
}

// NodeRetryPolicy configures the backoff between a failed node's retry
// attempts (spec.md §4.2 "re-enqueue the node after a backoff"), the
// node-level analogue of jobqueue.RetryPolicy's exponential-backoff
// formula.
type NodeRetryPolicy struct {
	InitialBackoff time.Duration
	Multiplier     float64
	MaxBackoff     time.Duration
}

// DefaultNodeRetryPolicy is the backoff used when a Runner is not given
// one explicitly.
func DefaultNodeRetryPolicy() NodeRetryPolicy {
	return NodeRetryPolicy{InitialBackoff: 2 * time.Second, Multiplier: 2.0, MaxBackoff: 30 * time.Second}
}

// NextDelay returns the backoff to wait before the attempt that follows
// failedAttempt (1-indexed).
func (p NodeRetryPolicy) NextDelay(failedAttempt int) time.Duration {
	if p.InitialBackoff <= 0 {
		return 0
	}
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

// nodeResult is sent back to the scheduling loop when a node's executor
// invocation finishes.
type nodeResult struct {
	nodeID string
	ok     bool
	err    error
	class  errorClass
}

type errorClass string

const (
	classTransient errorClass = "transient"
	classPermanent errorClass = "permanent"
	classTimeout   errorClass = "timeout"
	classCancelled errorClass = "cancelled"
)

// classify maps an executor error to a retry class (spec.md §4.2 "Failure
// semantics"). A permanent error (bad params, missing binary, a node type
// with no registered executor) short-circuits without retry; unknown
// errors default to transient.
func classify(err error) errorClass {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, errs.ErrExecutorPermanent):
		return classPermanent
	case errors.Is(err, context.Canceled):
		return classCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return classTimeout
	case errors.Is(err, errs.ErrExecutorTransient):
		return classTransient
	default:
		return classTransient
	}
}

// Run executes spec under run, persisting state to statePath after every
// transition, until every node reaches a terminal state or ctx is
// cancelled. Whenever a prior state exists at statePath the run continues
// from it, whether or not resume is set (spec.md §4.2's resume contract);
// non-terminal nodes continue, terminal nodes are left untouched. If
// resume is true and no prior state exists, Run returns
// errs.ErrResumeStateMissing.
func (r *Runner) Run(ctx context.Context, runID string, spec *Spec, statePath string, tenantDir, auvID string, resume bool) (*RunState, error) {
	existing, err := LoadState(statePath)
	if err != nil {
		return nil, err
	}

	var state *RunState
	switch {
	case resume && existing == nil:
		return nil, errs.ErrResumeStateMissing
	case existing != nil:
		state = existing
		RehydrateForResume(state)
	default:
		state = NewRunState(runID, spec)
	}

	if err := SaveState(statePath, state); err != nil {
		return nil, err
	}

	nodeByID := make(map[string]Node, len(spec.Nodes))
	for _, n := range spec.Nodes {
		nodeByID[n.ID] = n
	}

	if len(spec.Nodes) == 0 {
		return state, nil
	}

	maxAttempts := spec.DefaultMaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var (
		mu            sync.Mutex
		resourceLocks = map[string]bool{}
		running       = map[string]bool{}
		resultsCh     = make(chan nodeResult, len(spec.Nodes))
		inFlight      int
	)

	emit := func(name, nodeID string) {
		if r.Sink == nil {
			return
		}
		_ = r.Sink.Emit(observability.Event{Name: name, RunID: runID, Payload: map[string]any{"node": nodeID}})
	}

	// reconcile advances pending nodes whose predecessors have all
	// succeeded and whose retry backoff (if any) has elapsed into ready,
	// and cascades a predecessor's terminal failure/cancellation down to
	// skipped (spec.md §4.2 "mark failed and cancel transitively-dependent
	// nodes (mark cancelled or skipped per policy)"). It loops to a fixed
	// point so a skip propagates through an arbitrarily long dependency
	// chain in one call, and returns the ids newly marked skipped so the
	// caller can emit events for them outside the lock.
	reconcile := func() []string {
		mu.Lock()
		defer mu.Unlock()
		var skipped []string
		for {
			changed := false
			now := time.Now().UTC()
			for _, n := range spec.Nodes {
				ns := state.Nodes[n.ID]
				if ns.State != NodePending {
					continue
				}
				blocked := false
				for _, dep := range n.Requires {
					switch state.Nodes[dep].State {
					case NodeFailed, NodeCancelled, NodeSkipped:
						blocked = true
					}
				}
				if blocked {
					ns.State = NodeSkipped
					ns.FinishedAt = &now
					skipped = append(skipped, n.ID)
					changed = true
					continue
				}
				if ns.NextAttemptAt != nil && ns.NextAttemptAt.After(now) {
					continue
				}
				if allPredecessorsSucceeded(n, state) {
					ns.State = NodeReady
				}
			}
			if !changed {
				break
			}
		}
		return skipped
	}

	// pendingRetryWait reports the shortest remaining backoff among
	// pending nodes whose predecessors have already succeeded, so the
	// scheduling loop can sleep until it elapses instead of declaring a
	// stall while a retry is merely waiting out its backoff.
	pendingRetryWait := func() (time.Duration, bool) {
		mu.Lock()
		defer mu.Unlock()
		now := time.Now().UTC()
		var wait time.Duration
		found := false
		for _, n := range spec.Nodes {
			ns := state.Nodes[n.ID]
			if ns.State != NodePending || ns.NextAttemptAt == nil {
				continue
			}
			if !allPredecessorsSucceeded(n, state) {
				continue
			}
			d := ns.NextAttemptAt.Sub(now)
			if d < 0 {
				d = 0
			}
			if !found || d < wait {
				wait = d
				found = true
			}
		}
		return wait, found
	}

	canStart := func(n Node) bool {
		for _, tag := range n.ResourceTags {
			if resourceLocks[tag] {
				return false
			}
		}
		return true
	}

	startNode := func(n Node) {
		mu.Lock()
		ns := state.Nodes[n.ID]
		ns.State = NodeRunning
		now := time.Now().UTC()
		ns.StartedAt = &now
		ns.Attempts++
		for _, tag := range n.ResourceTags {
			resourceLocks[tag] = true
		}
		running[n.ID] = true
		inFlight++
		mu.Unlock()

		_ = SaveState(statePath, state)
		emit("node.started", n.ID)

		go func() {
			timeout := time.Duration(n.TimeoutSeconds) * time.Second
			if timeout <= 0 {
				timeout = time.Duration(spec.DefaultTimeoutSec) * time.Second
			}
			if timeout <= 0 {
				timeout = 30 * time.Minute
			}
			nodeCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			res, execErr := r.Executors.Execute(nodeCtx, n.Type, executor.Params{
				NodeID:    n.ID,
				TenantDir: tenantDir,
				AUVID:     auvID,
				Args:      n.Params,
			})
			ok := execErr == nil && res.OK
			resultsCh <- nodeResult{nodeID: n.ID, ok: ok, err: execErr, class: classify(execErr)}
		}()
	}

	finishNode := func(res nodeResult) {
		mu.Lock()
		defer mu.Unlock()

		n := nodeByID[res.nodeID]
		ns := state.Nodes[res.nodeID]
		for _, tag := range n.ResourceTags {
			delete(resourceLocks, tag)
		}
		delete(running, res.nodeID)
		inFlight--
		now := time.Now().UTC()
		ns.FinishedAt = &now

		switch {
		case res.ok:
			ns.State = NodeSucceeded
		case res.class == classCancelled:
			ns.State = NodeCancelled
			if res.err != nil {
				ns.LastError = res.err.Error()
			}
		case ns.Attempts < maxAttempts && (res.class == classTransient || res.class == classTimeout):
			ns.State = NodePending // retry: re-enters the ready evaluation once its backoff elapses
			delay := r.RetryPolicy.NextDelay(ns.Attempts)
			next := now.Add(delay)
			ns.NextAttemptAt = &next
			if res.err != nil {
				ns.LastError = res.err.Error()
			}
		default:
			ns.State = NodeFailed
			if res.err != nil {
				ns.LastError = res.err.Error()
			}
		}

		state.UpdatedAt = now
	}

	for {
		skipped := reconcile()
		for _, id := range skipped {
			emit("node.skipped", id)
		}
		if len(skipped) > 0 {
			if err := SaveState(statePath, state); err != nil {
				return state, err
			}
		}

		mu.Lock()
		var started []Node
		for _, n := range spec.Nodes {
			if inFlight+len(started) >= r.Concurrency {
				break
			}
			if state.Nodes[n.ID].State == NodeReady && canStart(n) {
				started = append(started, n)
			}
		}
		mu.Unlock()

		for _, n := range started {
			startNode(n)
		}

		mu.Lock()
		done := state.Completed()
		noProgress := inFlight == 0 && len(started) == 0 && !done
		mu.Unlock()

		if done {
			break
		}
		if noProgress {
			if wait, ok := pendingRetryWait(); ok {
				select {
				case <-ctx.Done():
					return state, ctx.Err()
				case <-time.After(wait):
				}
				continue
			}
			return state, fmt.Errorf("graph run %s stalled: no ready nodes and none in flight", runID)
		}

		select {
		case <-ctx.Done():
			return state, ctx.Err()
		case res := <-resultsCh:
			finishNode(res)
			emit(nodeEventName(res), res.nodeID)
			if err := SaveState(statePath, state); err != nil {
				return state, err
			}
		}
	}

	return state, nil
}

func nodeEventName(res nodeResult) string {
	if res.ok {
		return "node.succeeded"
	}
	return "node.failed"
}

func allPredecessorsSucceeded(n Node, state *RunState) bool {
	for _, dep := range n.Requires {
		if state.Nodes[dep].State != NodeSucceeded {
			return false
		}
	}
	return true
}
