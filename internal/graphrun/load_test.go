/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package graphrun

import (
	"errors"
	"testing"

	"github.com/swarm1/engine/internal/errs"
)

func TestLoadSpecBytes_Valid(t *testing.T) {
	spec, err := LoadSpecBytes([]byte(`
project_id: proj-1
nodes:
  - id: a
    type: work_simulation
  - id: b
    type: work_simulation
    requires: [a]
`))
	if err != nil {
		t.Fatalf("LoadSpecBytes: %v", err)
	}
	if len(spec.Nodes) != 2 {
		t.Fatalf("len(Nodes) = %d, want 2", len(spec.Nodes))
	}
}

func TestLoadSpecBytes_DuplicateNodeID(t *testing.T) {
	_, err := LoadSpecBytes([]byte(`
nodes:
  - id: a
    type: work_simulation
  - id: a
    type: work_simulation
`))
	if err == nil {
		t.Fatal("expected error for duplicate node id")
	}
}

func TestLoadSpecBytes_DanglingDependency(t *testing.T) {
	_, err := LoadSpecBytes([]byte(`
nodes:
  - id: a
    type: work_simulation
    requires: [ghost]
`))
	if err == nil {
		t.Fatal("expected error for dangling dependency")
	}
}

func TestLoadSpecBytes_CycleDetected(t *testing.T) {
	_, err := LoadSpecBytes([]byte(`
nodes:
  - id: a
    type: work_simulation
    requires: [b]
  - id: b
    type: work_simulation
    requires: [a]
`))
	if !errors.Is(err, errs.ErrCycleDetected) {
		t.Fatalf("expected ErrCycleDetected, got %v", err)
	}
}

func TestLoadSpecBytes_EmptyGraphIsValid(t *testing.T) {
	spec, err := LoadSpecBytes([]byte(`project_id: empty`))
	if err != nil {
		t.Fatalf("LoadSpecBytes: %v", err)
	}
	if len(spec.Nodes) != 0 {
		t.Errorf("expected zero nodes, got %d", len(spec.Nodes))
	}
}
