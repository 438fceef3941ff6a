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

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// registrySchema and policySchema are the JSON Schemas validated at load
// time (spec.md §4.1 "Load-time validation", §6 "Schemas at the boundary").
const registrySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["tools"],
  "properties": {
    "tools": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["id", "tier", "capabilities", "cost_model"],
        "properties": {
          "id": {"type": "string", "minLength": 1},
          "tier": {"type": "string", "enum": ["primary", "secondary"]},
          "capabilities": {"type": "array", "items": {"type": "string"}, "minItems": 1},
          "cost_model": {"type": "string", "enum": ["flat_per_run", "legacy_score"]},
          "flat_cost_usd": {"type": "number", "minimum": 0},
          "cost_score": {"type": "number", "minimum": 0},
          "api_key_env": {"type": "string"},
          "side_effects": {
            "type": "array",
            "items": {"type": "string", "enum": ["network", "file_read", "file_write", "exec", "database"]}
          },
          "version": {"type": "string"}
        }
      }
    }
  }
}`

const policySchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["capability_map"],
  "properties": {
    "capability_map": {
      "type": "object",
      "additionalProperties": {"type": "array", "items": {"type": "string"}}
    },
    "tier_defaults": {
      "type": "object",
      "properties": {
        "prefer_tier": {"type": "string", "enum": ["primary", "secondary", ""]},
        "default_budget_usd": {"type": "number"},
        "secondary_default_budget_usd": {"type": "number"},
        "require_secondary_consent": {"type": "boolean"}
      }
    },
    "agent_allowlists": {
      "type": "object",
      "additionalProperties": {"type": "array", "items": {"type": "string"}}
    },
    "tenant_ceilings": {
      "type": "object",
      "additionalProperties": {
        "type": "object",
        "properties": {
          "budget_ceiling_usd": {"type": "number"},
          "allowed_capabilities": {"type": "array", "items": {"type": "string"}}
        }
      }
    },
    "safety": {
      "type": "object",
      "properties": {
        "allow_production_mutations": {"type": "boolean"},
        "require_test_mode_for": {"type": "array", "items": {"type": "string"}}
      }
    },
    "on_missing_primary": {"type": "string"}
  }
}`

func compile(name, schemaSrc string) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal([]byte(schemaSrc), &doc); err != nil {
		return nil, fmt.Errorf("parse %s schema: %w", name, err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add %s schema resource: %w", name, err)
	}
	schema, err := c.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", name, err)
	}
	return schema, nil
}

func validateAgainst(schema *jsonschema.Schema, raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("unmarshal for validation: %w", err)
	}
	return schema.Validate(doc)
}
