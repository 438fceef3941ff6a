/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/swarm1/engine/internal/provider"
)

// ToolInvoker executes one tool call by name and returns its result text.
// Supplied by the caller so the gateway never hardcodes which tools exist.
// The gateway does not consult router.PlanTools: every tool in ToolDefs
// is offered to the model, and every call goes to the invoker.
type ToolInvoker func(ctx context.Context, toolName string, args map[string]any) (string, error)

// SubagentGatewayExecutor calls an external LLM-style agent with a bounded
// step and time budget and a caller-supplied tool set (spec.md §4.5
// "subagent gateway").
// It reuses legator's provider.Provider tool-use loop shape (Complete,
// inspect ToolCalls, feed ToolResults back) verbatim, since that loop is
// LLM-vendor-agnostic and identical in spirit to what a subagent gateway
// needs; what changes is that each tool call's destination is the
// caller-supplied Invoker, not a fixed registry. There is no cost cap.
type SubagentGatewayExecutor struct {
	Provider  provider.Provider
	Invoker   ToolInvoker
	ToolDefs  []provider.ToolDefinition
	MaxSteps  int
	MaxSeconds int
	Model     string
}

func (*SubagentGatewayExecutor) Type() string { return "subagent_gateway" }

type gatewayTranscript struct {
	ToolRequests []provider.ToolCall   `json:"tool_requests"`
	ToolResults  []provider.ToolResult `json:"tool_results"`
	FinalText    string                `json:"final_text"`
	Steps        int                   `json:"steps"`
}

func (e *SubagentGatewayExecutor) Execute(ctx context.Context, p Params) (Result, error) {
	maxSeconds := e.MaxSeconds
	if maxSeconds <= 0 {
		maxSeconds = 120
	}
	runCtx, cancel := context.WithTimeout(ctx, time.Duration(maxSeconds)*time.Second)
	defer cancel()

	systemPrompt, _ := p.Args["system_prompt"].(string)
	userPrompt, _ := p.Args["prompt"].(string)

	messages := []provider.Message{{Role: "user", Content: userPrompt}}
	transcript := gatewayTranscript{}

	maxSteps := e.MaxSteps
	if maxSteps <= 0 {
		maxSteps = 10
	}

	for step := 0; step < maxSteps; step++ {
		transcript.Steps = step + 1

		resp, err := e.Provider.Complete(runCtx, &provider.CompletionRequest{
			SystemPrompt: systemPrompt,
			Messages:     messages,
			Tools:        e.ToolDefs,
			Model:        e.Model,
		})
		if err != nil {
			return Result{OK: false, Metadata: metadataFor(transcript)}, fmt.Errorf("subagent gateway node %s: %w", p.NodeID, err)
		}

		if !resp.HasToolCalls() {
			transcript.FinalText = resp.Content
			break
		}

		transcript.ToolRequests = append(transcript.ToolRequests, resp.ToolCalls...)

		var results []provider.ToolResult
		for _, call := range resp.ToolCalls {
			content, err := e.Invoker(runCtx, call.Name, call.Args)
			result := provider.ToolResult{ToolCallID: call.ID, Content: content}
			if err != nil {
				result.IsError = true
				result.Content = err.Error()
			}
			results = append(results, result)
		}
		transcript.ToolResults = append(transcript.ToolResults, results...)

		messages = append(messages,
			provider.Message{Role: "assistant", Content: resp.Content, ToolCalls: resp.ToolCalls},
			provider.Message{Role: "tool", ToolResults: results},
		)
	}

	return Result{OK: true, Metadata: metadataFor(transcript)}, nil
}

func metadataFor(t gatewayTranscript) map[string]any {
	raw, _ := json.Marshal(t)
	var m map[string]any
	_ = json.Unmarshal(raw, &m)
	return m
}

var _ Executor = (*SubagentGatewayExecutor)(nil)
