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
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/go-logr/logr"

	"github.com/swarm1/engine/internal/errs"
	"github.com/swarm1/engine/internal/executor"
	"github.com/swarm1/engine/internal/observability"
)

// permanentFailExecutor always fails with errs.ErrExecutorPermanent,
// simulating bad params or a missing binary (spec.md §4.2 "Failure
// semantics": permanent errors are not retried).
type permanentFailExecutor struct{ nodeType string }

func (e permanentFailExecutor) Type() string { return e.nodeType }

func (e permanentFailExecutor) Execute(ctx context.Context, p executor.Params) (executor.Result, error) {
	return executor.Result{OK: false}, fmt.Errorf("%s: bad params: %w", e.nodeType, errs.ErrExecutorPermanent)
}

// countingExecutor fails transiently on its first failUntil invocations,
// then succeeds, recording the wall-clock time of each attempt so tests
// can assert a backoff elapsed between retries.
type countingExecutor struct {
	mu        sync.Mutex
	nodeType  string
	failUntil int
	calls     []time.Time
}

func (e *countingExecutor) Type() string { return e.nodeType }

func (e *countingExecutor) Execute(ctx context.Context, p executor.Params) (executor.Result, error) {
	e.mu.Lock()
	e.calls = append(e.calls, time.Now())
	n := len(e.calls)
	e.mu.Unlock()
	if n <= e.failUntil {
		return executor.Result{OK: false}, fmt.Errorf("%s: attempt %d: transient failure", e.nodeType, n)
	}
	return executor.Result{OK: true}, nil
}

func newTestRunner(t *testing.T, reg *executor.Registry, concurrency int) (*Runner, string) {
	t.Helper()
	dir := t.TempDir()
	sink, err := observability.NewSink(dir, logr.Discard())
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	return NewRunner(reg, concurrency, sink, logr.Discard()), dir
}

func TestClassify(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want errorClass
	}{
		{"nil", nil, ""},
		{"permanent", fmt.Errorf("bad params: %w", errs.ErrExecutorPermanent), classPermanent},
		{"unknown tool is permanent", fmt.Errorf("%w: %w: node type %q", errs.ErrExecutorPermanent, errs.ErrUnknownTool, "ghost"), classPermanent},
		{"deadline exceeded", context.DeadlineExceeded, classTimeout},
		{"wrapped deadline", fmt.Errorf("node x: %w", context.DeadlineExceeded), classTimeout},
		{"cancelled", context.Canceled, classCancelled},
		{"unknown defaults to transient", errors.New("connection reset"), classTransient},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := classify(tc.err); got != tc.want {
				t.Errorf("classify(%v) = %q, want %q", tc.err, got, tc.want)
			}
		})
	}
}

// TestRunner_PermanentFailureCascadesToSkipped verifies spec.md §4.2: a
// node that fails permanently short-circuits without retry, is marked
// failed, and its transitively-dependent nodes are marked skipped rather
// than left pending forever (which would otherwise surface as a bogus
// "run stalled" error).
func TestRunner_PermanentFailureCascadesToSkipped(t *testing.T) {
	reg := executor.NewRegistry()
	reg.Register(permanentFailExecutor{nodeType: "fail-perm"})
	reg.Register(executor.WorkSimulation{})

	spec := &Spec{
		ProjectID:          "proj-cascade",
		DefaultMaxAttempts: 3,
		DefaultTimeoutSec:  5,
		Nodes: []Node{
			{ID: "a", Type: "fail-perm"},
			{ID: "b", Type: "work_simulation", Requires: []string{"a"}, Params: map[string]any{"duration_ms": float64(10)}},
			{ID: "c", Type: "work_simulation", Requires: []string{"b"}, Params: map[string]any{"duration_ms": float64(10)}},
			{ID: "d", Type: "work_simulation", Params: map[string]any{"duration_ms": float64(10)}},
		},
	}

	runner, dir := newTestRunner(t, reg, 2)
	statePath := filepath.Join(dir, "state.json")

	state, err := runner.Run(context.Background(), "run-cascade", spec, statePath, dir, "", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if state.Nodes["a"].State != NodeFailed {
		t.Errorf("a state = %s, want failed", state.Nodes["a"].State)
	}
	if state.Nodes["a"].Attempts != 1 {
		t.Errorf("a attempts = %d, want 1 (permanent errors are never retried)", state.Nodes["a"].Attempts)
	}
	if state.Nodes["b"].State != NodeSkipped {
		t.Errorf("b state = %s, want skipped", state.Nodes["b"].State)
	}
	if state.Nodes["c"].State != NodeSkipped {
		t.Errorf("c state = %s, want skipped (transitively, via b)", state.Nodes["c"].State)
	}
	if state.Nodes["d"].State != NodeSucceeded {
		t.Errorf("d state = %s, want succeeded (independent of a)", state.Nodes["d"].State)
	}
	if !state.Failed() {
		t.Error("expected state.Failed() == true")
	}
}

// TestRunner_RetryWithBackoff verifies spec.md §4.2 "re-enqueue the node
// after a backoff": a transiently-failing node is retried, but only
// after its backoff elapses, not on the very next scheduling iteration.
func TestRunner_RetryWithBackoff(t *testing.T) {
	reg := executor.NewRegistry()
	flaky := &countingExecutor{nodeType: "flaky", failUntil: 2}
	reg.Register(flaky)

	spec := &Spec{
		DefaultMaxAttempts: 3,
		DefaultTimeoutSec:  5,
		Nodes:              []Node{{ID: "a", Type: "flaky"}},
	}

	runner, dir := newTestRunner(t, reg, 1)
	runner.RetryPolicy = NodeRetryPolicy{InitialBackoff: 60 * time.Millisecond, Multiplier: 1, MaxBackoff: 60 * time.Millisecond}
	statePath := filepath.Join(dir, "state.json")

	start := time.Now()
	state, err := runner.Run(context.Background(), "run-backoff", spec, statePath, dir, "", false)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if state.Nodes["a"].State != NodeSucceeded {
		t.Fatalf("a state = %s, want succeeded", state.Nodes["a"].State)
	}
	if state.Nodes["a"].Attempts != 3 {
		t.Errorf("a attempts = %d, want 3", state.Nodes["a"].Attempts)
	}
	// Two 60ms backoffs must separate the three attempts; an unthrottled
	// retry loop would finish in microseconds.
	if elapsed < 120*time.Millisecond {
		t.Errorf("elapsed = %s, want >= 120ms (backoff between retries not honored)", elapsed)
	}
}

// TestRunner_TransientRetryExhaustsMaxAttempts verifies that a node which
// never succeeds is retried up to its max attempts and then marked
// failed, rather than retried forever.
func TestRunner_TransientRetryExhaustsMaxAttempts(t *testing.T) {
	reg := executor.NewRegistry()
	reg.Register(&countingExecutor{nodeType: "always-fails", failUntil: 1000})

	spec := &Spec{
		DefaultMaxAttempts: 2,
		DefaultTimeoutSec:  5,
		Nodes:              []Node{{ID: "a", Type: "always-fails"}},
	}

	runner, dir := newTestRunner(t, reg, 1)
	runner.RetryPolicy = NodeRetryPolicy{InitialBackoff: time.Millisecond, Multiplier: 1, MaxBackoff: time.Millisecond}
	statePath := filepath.Join(dir, "state.json")

	state, err := runner.Run(context.Background(), "run-exhaust", spec, statePath, dir, "", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if state.Nodes["a"].State != NodeFailed {
		t.Errorf("a state = %s, want failed", state.Nodes["a"].State)
	}
	if state.Nodes["a"].Attempts != 2 {
		t.Errorf("a attempts = %d, want 2 (max_attempts)", state.Nodes["a"].Attempts)
	}
}

// TestRunner_CrashResume implements spec.md §8 scenario 4: graph A->B->C,
// the worker is killed (context cancelled) mid-run while B is executing,
// and a fresh Runner resumes the same run id. A (already terminal) is
// left untouched; B re-runs from ready; finished_at(B) <= started_at(C).
func TestRunner_CrashResume(t *testing.T) {
	reg := executor.NewRegistry()
	reg.Register(executor.WorkSimulation{})

	spec := &Spec{
		DefaultMaxAttempts: 1,
		DefaultTimeoutSec:  5,
		Nodes: []Node{
			{ID: "a", Type: "work_simulation", Params: map[string]any{"duration_ms": float64(40)}},
			{ID: "b", Type: "work_simulation", Requires: []string{"a"}, Params: map[string]any{"duration_ms": float64(400)}},
			{ID: "c", Type: "work_simulation", Requires: []string{"b"}, Params: map[string]any{"duration_ms": float64(40)}},
		},
	}

	dir := t.TempDir()
	sink, err := observability.NewSink(dir, logr.Discard())
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}
	statePath := filepath.Join(dir, "state.json")

	runner1 := NewRunner(reg, 1, sink, logr.Discard())
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, err := runner1.Run(ctx, "run-crash", spec, statePath, dir, "", false); err == nil {
		t.Fatal("expected first Run to be interrupted by context cancellation")
	}

	mid, err := LoadState(statePath)
	if err != nil {
		t.Fatalf("LoadState: %v", err)
	}
	if mid.Nodes["a"].State != NodeSucceeded {
		t.Fatalf("a state after crash = %s, want succeeded", mid.Nodes["a"].State)
	}
	if mid.Nodes["b"].State != NodeRunning {
		t.Fatalf("b state after crash = %s, want running (interrupted mid-flight)", mid.Nodes["b"].State)
	}
	if mid.Nodes["c"].State != NodePending {
		t.Fatalf("c state after crash = %s, want pending", mid.Nodes["c"].State)
	}

	runner2 := NewRunner(reg, 1, sink, logr.Discard())
	final, err := runner2.Run(context.Background(), "run-crash", spec, statePath, dir, "", true)
	if err != nil {
		t.Fatalf("resumed Run: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if final.Nodes[id].State != NodeSucceeded {
			t.Errorf("%s state = %s, want succeeded", id, final.Nodes[id].State)
		}
	}
	if final.Nodes["a"].Attempts != 1 {
		t.Errorf("a attempts = %d, want 1 (terminal nodes are left untouched on resume)", final.Nodes["a"].Attempts)
	}

	bFinished, cStarted := final.Nodes["b"].FinishedAt, final.Nodes["c"].StartedAt
	if bFinished == nil || cStarted == nil {
		t.Fatalf("missing timestamps: b.FinishedAt=%v c.StartedAt=%v", bFinished, cStarted)
	}
	if bFinished.After(*cStarted) {
		t.Errorf("finished_at(b)=%s must be <= started_at(c)=%s", bFinished, cStarted)
	}

	// Resume is re-entrant: resuming an already-completed run is a no-op.
	again, err := runner2.Run(context.Background(), "run-crash", spec, statePath, dir, "", true)
	if err != nil {
		t.Fatalf("re-resumed Run: %v", err)
	}
	if again.Nodes["a"].Attempts != final.Nodes["a"].Attempts ||
		again.Nodes["b"].Attempts != final.Nodes["b"].Attempts ||
		again.Nodes["c"].Attempts != final.Nodes["c"].Attempts {
		t.Error("resuming a completed run re-executed a node")
	}
}

// TestRunner_ParallelSpeedup implements spec.md §8 scenario 5: three
// independent two-node chains, each node sleeping 400ms. Serial
// (concurrency=1) takes at least 2400ms; parallel (concurrency=3) stays
// well under that, and a sweep-line over nodes' [started_at, finished_at]
// intervals shows at least two nodes running at once.
func TestRunner_ParallelSpeedup(t *testing.T) {
	reg := executor.NewRegistry()
	reg.Register(executor.WorkSimulation{})

	build := func() []Node {
		var nodes []Node
		for _, chain := range []string{"a", "b", "c"} {
			nodes = append(nodes,
				Node{ID: chain + "1", Type: "work_simulation", Params: map[string]any{"duration_ms": float64(400)}},
				Node{ID: chain + "2", Type: "work_simulation", Requires: []string{chain + "1"}, Params: map[string]any{"duration_ms": float64(400)}},
			)
		}
		return nodes
	}

	dir := t.TempDir()
	sink, err := observability.NewSink(dir, logr.Discard())
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	serialSpec := &Spec{DefaultMaxAttempts: 1, DefaultTimeoutSec: 5, Nodes: build()}
	serialRunner := NewRunner(reg, 1, sink, logr.Discard())
	start := time.Now()
	serialState, err := serialRunner.Run(context.Background(), "run-serial", serialSpec, filepath.Join(dir, "serial.json"), dir, "", false)
	serialDuration := time.Since(start)
	if err != nil {
		t.Fatalf("serial Run: %v", err)
	}
	if serialState.Failed() {
		t.Fatalf("serial run had failed nodes")
	}
	if serialDuration < 2400*time.Millisecond {
		t.Errorf("serial duration = %s, want >= 2400ms", serialDuration)
	}

	parallelSpec := &Spec{DefaultMaxAttempts: 1, DefaultTimeoutSec: 5, Nodes: build()}
	parallelRunner := NewRunner(reg, 3, sink, logr.Discard())
	start = time.Now()
	parallelState, err := parallelRunner.Run(context.Background(), "run-parallel", parallelSpec, filepath.Join(dir, "parallel.json"), dir, "", false)
	parallelDuration := time.Since(start)
	if err != nil {
		t.Fatalf("parallel Run: %v", err)
	}
	if parallelState.Failed() {
		t.Fatalf("parallel run had failed nodes")
	}
	if parallelDuration > 1700*time.Millisecond {
		t.Errorf("parallel duration = %s, want <= ~1700ms (1400ms + scheduling overhead)", parallelDuration)
	}

	if got := maxConcurrentIntervals(parallelState); got < 2 {
		t.Errorf("max concurrent nodes = %d, want >= 2", got)
	}
}

// maxConcurrentIntervals sweeps every node's [started_at, finished_at]
// interval and returns the highest number simultaneously open, mirroring
// spec.md §8 scenario 5's "sweep-line over nodes' intervals".
func maxConcurrentIntervals(state *RunState) int {
	type point struct {
		at    time.Time
		delta int
	}
	var points []point
	for _, ns := range state.Nodes {
		if ns.StartedAt == nil || ns.FinishedAt == nil {
			continue
		}
		points = append(points, point{*ns.StartedAt, 1}, point{*ns.FinishedAt, -1})
	}
	sort.Slice(points, func(i, j int) bool { return points[i].at.Before(points[j].at) })

	cur, max := 0, 0
	for _, p := range points {
		cur += p.delta
		if cur > max {
			max = cur
		}
	}
	return max
}

// TestRunner_EmptyGraphSucceedsImmediately is spec.md §4.2's edge case:
// a graph with zero nodes succeeds immediately.
func TestRunner_EmptyGraphSucceedsImmediately(t *testing.T) {
	reg := executor.NewRegistry()
	runner, dir := newTestRunner(t, reg, 1)
	spec := &Spec{ProjectID: "empty"}
	state, err := runner.Run(context.Background(), "run-empty", spec, filepath.Join(dir, "state.json"), dir, "", false)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !state.Completed() {
		t.Error("expected an empty graph to report Completed()")
	}
	if state.Failed() {
		t.Error("expected an empty graph to report Failed() == false")
	}
}
