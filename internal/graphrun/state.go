/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package graphrun

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StatePath is the well-known location of a run's state file relative to
// the tenant root (spec.md §6 "graph/<run_id>/state.json").
func StatePath(tenantDir, runID string) string {
	return filepath.Join(tenantDir, "graph", runID, "state.json")
}

// SaveState writes state atomically: write to a temp sibling, then rename
// (spec.md §3 "Run state... Persisted atomically").
func SaveState(path string, state *RunState) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	raw, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal run state: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename state file: %w", err)
	}
	return nil
}

// LoadState reads a persisted run state. Returns (nil, nil) if the file
// does not exist (a fresh run rather than a resume).
func LoadState(path string) (*RunState, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read run state: %w", err)
	}
	var state RunState
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("unmarshal run state: %w", err)
	}
	return &state, nil
}

// NewRunState builds the initial state for a fresh run: every node starts
// pending.
func NewRunState(runID string, spec *Spec) *RunState {
	nodes := make(map[string]*NodeRunState, len(spec.Nodes))
	for _, n := range spec.Nodes {
		nodes[n.ID] = &NodeRunState{State: NodePending}
	}
	now := time.Now().UTC()
	return &RunState{
		RunID:     runID,
		ProjectID: spec.ProjectID,
		Nodes:     nodes,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// RehydrateForResume resets any node left in the running state back to
// ready (its executor did not observably complete) and leaves terminal
// nodes untouched (spec.md §4.2 "On resume, rehydrate the state file...").
// Resume is re-entrant: resuming a resumed run is safe because running
// nodes are the only ones mutated, and a resumed run that completed
// cleanly has none left.
func RehydrateForResume(state *RunState) {
	for _, n := range state.Nodes {
		if n.State == NodeRunning {
			n.State = NodeReady
		}
	}
}
