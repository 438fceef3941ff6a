/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package executor implements the dispatch table from node type to
// executor implementation (spec.md §4.5). The runner never inspects an
// executor's internals; it only calls Execute and reacts to the returned
// Result. The Executor/Registry shape is grounded on legator's
// internal/tools.Tool/Registry (register-by-name, look-up-by-name,
// execute-with-args), generalized from "LLM-issued tool call" to
// "graph-node execution" — the registry is keyed by node type rather than
// tool name, and Execute returns artifact paths rather than a result
// string, since node executors are expected to leave files behind under
// the tenant's AUV directory rather than return inline text.
package executor

import (
	"context"
	"fmt"
	"sync"

	"github.com/swarm1/engine/internal/errs"
)

// Params bundles the inputs a node executor needs (spec.md §3 "node" has:
// id, type, params bag, resource tags, timeout override).
type Params struct {
	NodeID    string
	TenantDir string
	AUVID     string
	Args      map[string]any
	Env       map[string]string
}

// Result is an executor's return value (spec.md §4.5 "execute(ctx, params)
// -> { ok, artifacts[], metadata?, error? }").
type Result struct {
	OK        bool
	Artifacts []string
	Metadata  map[string]any
	Err       error
}

// Executor is the contract every node type implements.
type Executor interface {
	// Type returns the node type this executor handles (e.g. "perf-audit").
	Type() string

	// Execute runs the node to completion or until ctx is cancelled.
	Execute(ctx context.Context, p Params) (Result, error)
}

// Registry is the dispatch table from node type to Executor.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty executor registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds an executor, indexed by its declared Type().
func (r *Registry) Register(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[e.Type()] = e
}

// Get looks up an executor by node type.
func (r *Registry) Get(nodeType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[nodeType]
	return e, ok
}

// Types lists every registered node type.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.executors))
	for t := range r.executors {
		types = append(types, t)
	}
	return types
}

// Execute dispatches to the executor registered for nodeType.
func (r *Registry) Execute(ctx context.Context, nodeType string, p Params) (Result, error) {
	e, ok := r.Get(nodeType)
	if !ok {
		return Result{}, fmt.Errorf("%w: %w: node type %q", errs.ErrExecutorPermanent, errs.ErrUnknownTool, nodeType)
	}
	return e.Execute(ctx, p)
}
