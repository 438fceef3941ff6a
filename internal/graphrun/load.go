/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package graphrun

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/swarm1/engine/internal/errs"
)

// LoadSpec reads and validates a graph spec from path (spec.md §4.2 "Edge
// cases": duplicate node ids, dangling dependency references, and cycles
// are all load-time errors).
func LoadSpec(path string) (*Spec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read graph spec: %w", err)
	}
	return LoadSpecBytes(raw)
}

// LoadSpecBytes is the byte-slice form of LoadSpec, used directly by
// tests.
func LoadSpecBytes(raw []byte) (*Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(raw, &spec); err != nil {
		return nil, errs.NewSchemaError("graph-spec", err)
	}
	if err := Validate(&spec); err != nil {
		return nil, err
	}
	return &spec, nil
}

// Validate checks a graph spec for duplicate ids, dangling dependency
// references, and cycles (spec.md §4.2 "Edge cases").
func Validate(spec *Spec) error {
	seen := make(map[string]bool, len(spec.Nodes))
	for _, n := range spec.Nodes {
		if seen[n.ID] {
			return fmt.Errorf("%w: duplicate node id %q", errs.ErrSchema, n.ID)
		}
		seen[n.ID] = true
	}
	for _, n := range spec.Nodes {
		for _, dep := range n.Requires {
			if !seen[dep] {
				return fmt.Errorf("%w: node %q requires non-existent node %q", errs.ErrSchema, n.ID, dep)
			}
		}
	}
	return detectCycle(spec)
}

// detectCycle runs a DFS-based cycle check over the requires edges.
func detectCycle(spec *Spec) error {
	adj := make(map[string][]string, len(spec.Nodes))
	for _, n := range spec.Nodes {
		adj[n.ID] = n.Requires
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(spec.Nodes))
	var path []string

	var visit func(id string) error
	visit = func(id string) error {
		color[id] = gray
		path = append(path, id)
		for _, dep := range adj[id] {
			switch color[dep] {
			case gray:
				return fmt.Errorf("%w: %v -> %s", errs.ErrCycleDetected, append(append([]string{}, path...), dep), dep)
			case white:
				if err := visit(dep); err != nil {
					return err
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return nil
	}

	for _, n := range spec.Nodes {
		if color[n.ID] == white {
			if err := visit(n.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
