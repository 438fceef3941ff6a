/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package jobqueue

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/swarm1/engine/internal/errs"
)

// payloadSchema is validated at submission time (spec.md §4.3 "Validate
// payload against the job schema"), the same compile/validate idiom as
// internal/registry's load-time schemas.
const payloadSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "graph_file", "tenant"],
  "properties": {
    "type": {"type": "string", "minLength": 1},
    "graph_file": {"type": "string", "minLength": 1},
    "tenant": {"type": "string", "minLength": 1},
    "run_id": {"type": "string"},
    "priority": {"type": "integer"},
    "resume": {"type": "boolean"},
    "constraints": {
      "type": "object",
      "properties": {
        "budget_usd": {"type": "number", "minimum": 0},
        "required_capabilities": {"type": "array", "items": {"type": "string"}}
      }
    },
    "env": {"type": "object", "additionalProperties": {"type": "string"}},
    "metadata": {"type": "object"}
  }
}`

var compiledPayloadSchema *jsonschema.Schema

func init() {
	schema, err := compilePayloadSchema()
	if err != nil {
		panic(err)
	}
	compiledPayloadSchema = schema
}

func compilePayloadSchema() (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal([]byte(payloadSchema), &doc); err != nil {
		return nil, fmt.Errorf("parse job payload schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("jobqueue-payload.json", doc); err != nil {
		return nil, fmt.Errorf("add job payload schema resource: %w", err)
	}
	schema, err := c.Compile("jobqueue-payload.json")
	if err != nil {
		return nil, fmt.Errorf("compile job payload schema: %w", err)
	}
	return schema, nil
}

// ValidatePayload validates raw JSON against the job payload schema
// (spec.md §4.3 step 2). Returned errors wrap errs.ErrSchema.
func ValidatePayload(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errs.NewSchemaError("job payload", fmt.Errorf("invalid JSON: %w", err))
	}
	if err := compiledPayloadSchema.Validate(doc); err != nil {
		return errs.NewSchemaError("job payload", err)
	}
	return nil
}

// DecodePayload validates and unmarshals raw JSON into a Payload.
func DecodePayload(raw []byte) (Payload, error) {
	var p Payload
	if err := ValidatePayload(raw); err != nil {
		return p, err
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return p, errs.NewSchemaError("job payload", err)
	}
	return p, nil
}
