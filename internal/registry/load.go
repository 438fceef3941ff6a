/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package registry

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/swarm1/engine/internal/errs"
)

type registryFile struct {
	Tools []Tool `yaml:"tools"`
}

// Load reads the registry and policy bundle from YAML files, validates each
// against its JSON Schema (via a YAML-decoded-to-JSON intermediate form,
// the same two-step approach the teacher uses for CRD yaml round-trips),
// and cross-references them (spec.md §4.1 "Load-time validation").
func Load(registryPath, policiesPath string) (*Registry, []string, error) {
	regRaw, err := os.ReadFile(registryPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read registry: %w", err)
	}
	polRaw, err := os.ReadFile(policiesPath)
	if err != nil {
		return nil, nil, fmt.Errorf("read policies: %w", err)
	}
	return LoadBytes(regRaw, polRaw)
}

// LoadBytes is the byte-slice form of Load, used directly by tests.
func LoadBytes(regRaw, polRaw []byte) (*Registry, []string, error) {
	regSchema, err := compile("registry.json", registrySchema)
	if err != nil {
		return nil, nil, err
	}
	polSchemaCompiled, err := compile("policy.json", policySchema)
	if err != nil {
		return nil, nil, err
	}

	regJSON, err := yamlToJSON(regRaw)
	if err != nil {
		return nil, nil, errs.NewSchemaError("registry", err)
	}
	if err := validateAgainst(regSchema, regJSON); err != nil {
		return nil, nil, errs.NewSchemaError("registry", err)
	}

	polJSON, err := yamlToJSON(polRaw)
	if err != nil {
		return nil, nil, errs.NewSchemaError("policies", err)
	}
	if err := validateAgainst(polSchemaCompiled, polJSON); err != nil {
		return nil, nil, errs.NewSchemaError("policies", err)
	}

	var rf registryFile
	if err := yaml.Unmarshal(regRaw, &rf); err != nil {
		return nil, nil, errs.NewSchemaError("registry", err)
	}
	var bundle Bundle
	if err := yaml.Unmarshal(polRaw, &bundle); err != nil {
		return nil, nil, errs.NewSchemaError("policies", err)
	}

	tools := make(map[string]Tool, len(rf.Tools))
	for _, t := range rf.Tools {
		if t.CostModel == "" {
			return nil, nil, errs.NewSchemaError("registry", fmt.Errorf("tool %q: cost_model is required", t.ID))
		}
		tools[t.ID] = t
	}

	reg := &Registry{Tools: tools, Policies: bundle}

	warnings, err := crossReference(reg)
	if err != nil {
		return nil, nil, err
	}
	reg.OrphanTools = orphanTools(reg)

	return reg, warnings, nil
}

// crossReference verifies every tool id mentioned in the capability map or
// any agent allowlist exists in the registry (spec.md §3 Invariants, §4.1).
// Unknown tool ids are a hard load-time error, per spec.md §4.1 "Hard
// errors (raised, not returned)".
func crossReference(reg *Registry) ([]string, error) {
	var warnings []string

	check := func(source, toolID string) error {
		if _, ok := reg.Tools[toolID]; !ok {
			return fmt.Errorf("%w: tool %q referenced by %s not found in registry", errs.ErrUnknownTool, toolID, source)
		}
		return nil
	}

	for cap, ids := range reg.Policies.CapabilityMap {
		for _, id := range ids {
			if err := check(fmt.Sprintf("capability_map[%s]", cap), id); err != nil {
				return nil, err
			}
		}
	}
	for agent, ids := range reg.Policies.AgentAllowlists {
		for _, id := range ids {
			if err := check(fmt.Sprintf("agent_allowlists[%s]", agent), id); err != nil {
				return nil, err
			}
		}
	}

	return warnings, nil
}

// orphanTools returns registered tool ids referenced by neither the
// capability map nor any agent allowlist.
func orphanTools(reg *Registry) []string {
	referenced := map[string]bool{}
	for _, ids := range reg.Policies.CapabilityMap {
		for _, id := range ids {
			referenced[id] = true
		}
	}
	for _, ids := range reg.Policies.AgentAllowlists {
		for _, id := range ids {
			referenced[id] = true
		}
	}

	var orphans []string
	for id := range reg.Tools {
		if !referenced[id] {
			orphans = append(orphans, id)
		}
	}
	return orphans
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	return json.Marshal(doc)
}
