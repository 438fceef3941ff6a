/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package router implements the capability router: a pure, deterministic
// mapping from requested capabilities to permitted tools under
// tier/consent/budget/policy constraints (spec.md §4.1). PlanTools never
// reads a process-wide global; all environment-dependent behavior is
// threaded through an explicit Context (spec.md §9 "Global mutable
// configuration"), generalizing the staged pre-flight pipeline in
// legator's internal/engine.Engine.Evaluate (match -> classify ->
// protection-class check -> autonomy/consent check -> budget check,
// first-failure-wins) from "is this tool call allowed" to "which tool
// satisfies this capability".
package router

import (
	"fmt"
	"strings"

	"github.com/swarm1/engine/internal/registry"
)

// Context carries the environment variables PlanTools is sensitive to
// (spec.md §6 "Environment variables"). It is passed explicitly rather
// than read from os.Getenv inside the pure core.
type Context struct {
	Env map[string]string
}

func (c Context) get(key string) string {
	if c.Env == nil {
		return ""
	}
	return c.Env[key]
}

func (c Context) bool(key string) bool {
	v := c.get(key)
	return v == "true" || v == "1"
}

// Hints carries caller-provided scale hints (spec.md §4.1 step 3(b)).
type Hints struct {
	CrawlPages int
	CrawlDepth int
}

// RejectedCandidate records why a candidate tool was not chosen to serve a
// capability.
type RejectedCandidate struct {
	Capability string `json:"capability"`
	ToolID     string `json:"tool_id"`
	Reason     string `json:"reason"`
}

// Alternative records one candidate considered for a capability, whether
// or not it was ultimately selected.
type Alternative struct {
	ToolID   string `json:"tool_id"`
	Selected bool   `json:"selected"`
	Reason   string `json:"reason"`
}

// PlanEntry is one tool selected by the plan, and the capabilities it
// serves (a tool may be coalesced across more than one capability).
type PlanEntry struct {
	ToolID           string               `json:"tool_id"`
	Capabilities     []string             `json:"capabilities"`
	EstimatedCostUSD float64              `json:"estimated_cost_usd"`
	Rationale        string               `json:"rationale"`
	SideEffects      []registry.SideEffect `json:"side_effects,omitempty"`
}

// DecisionRecord is the router's audit artifact (spec.md §3 "Decision
// record", §6 "router/<run>/decision.json").
type DecisionRecord struct {
	Version               string                   `json:"version"`
	AgentID               string                   `json:"agent_id"`
	RequestedCapabilities []string                 `json:"requested_capabilities"`
	EffectiveBudgetUSD    float64                  `json:"effective_budget_usd"`
	Plan                  []PlanEntry              `json:"plan"`
	Rejected              []RejectedCandidate      `json:"rejected"`
	Alternatives          map[string][]Alternative `json:"alternatives"`
	Warnings              []string                 `json:"warnings"`
	TotalCostUSD          float64                  `json:"total_cost_usd"`
	OK                    bool                     `json:"ok"`
}

// Result is PlanTools' return value.
type Result struct {
	OK                   bool
	Plan                 []PlanEntry
	Rejected             []RejectedCandidate
	Alternatives         map[string][]Alternative
	Warnings             []string
	TotalCostUSD         float64
	MinFeasibleBudgetUSD float64
	Decision             DecisionRecord
}

// decisionVersion is bumped whenever PlanTools' algorithm changes in a way
// that would alter a previously-recorded decision for the same inputs.
const decisionVersion = "1"

// PlanTools is the capability router's single public operation (spec.md
// §4.1). It is pure: identical inputs produce bitwise-identical Results.
func PlanTools(
	ctx Context,
	reg *registry.Registry,
	agentID string,
	requestedCapabilities []string,
	budgetUSD *float64,
	secondaryConsent bool,
	hints Hints,
) *Result {
	requested := dedup(requestedCapabilities)

	effectiveBudget := resolveEffectiveBudget(reg, agentID, requested, budgetUSD)

	plan := map[string]*PlanEntry{} // tool id -> entry, preserves coalescing
	var planOrder []string
	var rejected []RejectedCandidate
	alternatives := map[string][]Alternative{}
	var warnings []string
	var totalCost float64
	var budgetShortfall float64 // summed cheapest over-budget cost of unserved capabilities
	blockedByPolicy := false    // some capability is unserved for a non-budget reason

	for _, capability := range requested {
		candidates := append([]string(nil), reg.Policies.CapabilityMap[capability]...)
		candidates = reorderCandidates(reg, capability, candidates, hints)

		allowFallback := capabilityAllowsSecondaryFallback(reg, candidates)
		if allowFallback && reg.Policies.TierDefaults.SecondaryDefaultBudget > effectiveBudget {
			effectiveBudget = reg.Policies.TierDefaults.SecondaryDefaultBudget
		}

		var alts []Alternative
		chosen := ""
		cheapestOverBudget := 0.0
		for _, toolID := range candidates {
			reason, cost, ok := evaluateCandidate(reg, ctx, agentID, capability, toolID, secondaryConsent, allowFallback, plan, totalCost, effectiveBudget)
			if !ok {
				if cost > 0 && (cheapestOverBudget == 0 || cost < cheapestOverBudget) {
					cheapestOverBudget = cost
				}
				rejected = append(rejected, RejectedCandidate{Capability: capability, ToolID: toolID, Reason: reason})
				alts = append(alts, Alternative{ToolID: toolID, Selected: false, Reason: reason})
				continue
			}
			// Survived all filters.
			chosen = toolID
			alts = append(alts, Alternative{ToolID: toolID, Selected: true, Reason: reason})
			if entry, exists := plan[toolID]; exists {
				entry.Capabilities = append(entry.Capabilities, capability)
			} else {
				tool := reg.Tools[toolID]
				entry := &PlanEntry{
					ToolID:           toolID,
					Capabilities:     []string{capability},
					EstimatedCostUSD: cost,
					Rationale:        rationale(tool, secondaryConsent, allowFallback, effectiveBudget, totalCost+cost),
					SideEffects:      tool.SideEffects,
				}
				plan[toolID] = entry
				planOrder = append(planOrder, toolID)
				totalCost += cost
			}
			break
		}
		alternatives[capability] = alts
		if chosen == "" {
			if cheapestOverBudget > 0 {
				budgetShortfall += cheapestOverBudget
			} else {
				blockedByPolicy = true
			}
		}
		if chosen == "" && len(candidates) == 0 {
			rejected = append(rejected, RejectedCandidate{Capability: capability, ToolID: "", Reason: "no candidates defined for capability"})
		}
	}

	satisfied := allCapabilitiesServed(requested, plan)
	ok := len(requested) == 0 || (satisfied && totalCost <= effectiveBudget)

	var minFeasible float64
	if !ok && satisfied && totalCost > effectiveBudget {
		minFeasible = totalCost
	}
	if !ok && !blockedByPolicy && budgetShortfall > 0 {
		minFeasible = totalCost + budgetShortfall
	}

	orderedPlan := make([]PlanEntry, 0, len(planOrder))
	for _, id := range planOrder {
		orderedPlan = append(orderedPlan, *plan[id])
	}

	decision := DecisionRecord{
		Version:               decisionVersion,
		AgentID:               agentID,
		RequestedCapabilities: requested,
		EffectiveBudgetUSD:    effectiveBudget,
		Plan:                  orderedPlan,
		Rejected:              rejected,
		Alternatives:          alternatives,
		Warnings:              warnings,
		TotalCostUSD:          totalCost,
		OK:                    ok,
	}

	return &Result{
		OK:                   ok,
		Plan:                 orderedPlan,
		Rejected:             rejected,
		Alternatives:         alternatives,
		Warnings:             warnings,
		TotalCostUSD:         totalCost,
		MinFeasibleBudgetUSD: minFeasible,
		Decision:             decision,
	}
}

func dedup(in []string) []string {
	seen := map[string]bool{}
	out := make([]string, 0, len(in))
	for _, c := range in {
		if seen[c] {
			continue
		}
		seen[c] = true
		out = append(out, c)
	}
	return out
}

func resolveEffectiveBudget(reg *registry.Registry, agentID string, requested []string, budgetUSD *float64) float64 {
	var budget float64
	if budgetUSD != nil {
		budget = *budgetUSD
	} else if allCandidatesSecondary(reg, requested) {
		budget = reg.Policies.TierDefaults.SecondaryDefaultBudget
	} else {
		budget = reg.Policies.TierDefaults.DefaultBudgetUSD
	}

	if ceiling, ok := reg.Policies.AgentBudgetCeilings[agentID]; ok && budget > ceiling {
		budget = ceiling
	}
	return budget
}

func allCandidatesSecondary(reg *registry.Registry, requested []string) bool {
	any := false
	for _, cap := range requested {
		for _, id := range reg.Policies.CapabilityMap[cap] {
			any = true
			tool, ok := reg.Tools[id]
			if !ok || tool.Tier != registry.TierSecondary {
				return false
			}
		}
	}
	return any
}

func reorderCandidates(reg *registry.Registry, capability string, candidates []string, hints Hints) []string {
	crawlEscalates := capability == "web.crawl" && (hints.CrawlPages > 100 || hints.CrawlDepth > 2)

	preferSecondary := crawlEscalates
	preferPrimary := !crawlEscalates && reg.Policies.TierDefaults.PreferTier == registry.TierPrimary

	if !preferSecondary && !preferPrimary {
		return candidates
	}

	var first, second []string
	for _, id := range candidates {
		tool := reg.Tools[id]
		isPrimary := tool.Tier == registry.TierPrimary
		switch {
		case preferSecondary && !isPrimary:
			first = append(first, id)
		case preferSecondary && isPrimary:
			second = append(second, id)
		case preferPrimary && isPrimary:
			first = append(first, id)
		default:
			second = append(second, id)
		}
	}
	return append(first, second...)
}

func capabilityAllowsSecondaryFallback(reg *registry.Registry, candidates []string) bool {
	if reg.Policies.OnMissingPrimary != registry.OnMissingPrimaryProposeSecondaryBudget {
		return false
	}
	for _, id := range candidates {
		if tool, ok := reg.Tools[id]; ok && tool.Tier == registry.TierPrimary {
			return false
		}
	}
	return true
}

// evaluateCandidate applies the ordered filter chain of spec.md §4.1 step
// 3(d). It returns the human-readable reason for the outcome (used both
// for rejections and for the chosen candidate's alternative entry), the
// computed marginal cost, and whether the candidate survives.
func evaluateCandidate(
	reg *registry.Registry,
	ctx Context,
	agentID, capability, toolID string,
	secondaryConsent, allowFallback bool,
	plan map[string]*PlanEntry,
	totalCostSoFar, effectiveBudget float64,
) (reason string, cost float64, ok bool) {
	// (i) registry presence
	tool, exists := reg.Tools[toolID]
	if !exists {
		return "tool not found in registry", 0, false
	}

	// (ii) agent allowlist, if defined
	if allowlist, defined := reg.Policies.AgentAllowlists[agentID]; defined {
		if !contains(allowlist, toolID) {
			return "tool not in agent allowlist", 0, false
		}
	}

	// (iii) secondary requires consent unless fallback allowed
	if tool.Tier == registry.TierSecondary && !secondaryConsent && !allowFallback {
		return "secondary tool requires consent", 0, false
	}

	// (iv) production-mutation safety
	if ctx.get("NODE_ENV") == "production" &&
		(tool.HasSideEffect(registry.SideEffectExec) || tool.HasSideEffect(registry.SideEffectFileWrite) || tool.HasSideEffect(registry.SideEffectDatabase)) &&
		!reg.Policies.Safety.AllowProductionMutations &&
		!ctx.bool("SAFETY_ALLOW_PROD") {
		return "production mutation safety", 0, false
	}

	// (v) test-mode requirement
	if requiresTestMode(reg, capability, tool) && !ctx.bool("TEST_MODE") {
		return "requires test mode", 0, false
	}

	// (vi) API key presence
	if tool.APIKeyEnv != "" && ctx.get(tool.APIKeyEnv) == "" && !ctx.bool("TEST_MODE") {
		return "missing api key " + tool.APIKeyEnv, 0, false
	}

	// (vii) budget
	toolCost := tool.Cost()
	if override, ok := reg.Policies.SecondaryBudgetOverrides[capability]; ok {
		if v, ok := override[toolID]; ok {
			toolCost = v
		}
	}
	if ceiling, ok := reg.Policies.AgentCapabilityBudgetCeilings[agentID][capability]; ok && toolCost > ceiling {
		return fmt.Sprintf("exceeds per-capability agent budget ceiling ($%.2f > $%.2f)", toolCost, ceiling), 0, false
	}

	marginal := toolCost
	if _, already := plan[toolID]; already {
		marginal = 0 // coalesced: already paid for
	}
	if totalCostSoFar+marginal > effectiveBudget {
		return fmt.Sprintf("exceeds effective budget ($%.2f > $%.2f)", totalCostSoFar+marginal, effectiveBudget), marginal, false
	}

	return "within budget", marginal, true
}

func requiresTestMode(reg *registry.Registry, capability string, tool registry.Tool) bool {
	domains := reg.Policies.Safety.RequireTestModeFor
	if len(domains) == 0 {
		return false
	}
	candidates := append([]string{capability}, tool.Capabilities...)
	for _, d := range domains {
		for _, c := range candidates {
			if c == d {
				return true
			}
		}
	}
	return false
}

func allCapabilitiesServed(requested []string, plan map[string]*PlanEntry) bool {
	served := map[string]bool{}
	for _, entry := range plan {
		for _, c := range entry.Capabilities {
			served[c] = true
		}
	}
	for _, c := range requested {
		if !served[c] {
			return false
		}
	}
	return true
}

func rationale(tool registry.Tool, consent, fallback bool, effectiveBudget, costSoFar float64) string {
	var parts []string
	parts = append(parts, string(tool.Tier))
	if tool.Tier == registry.TierSecondary && (consent || fallback) {
		parts = append(parts, "with consent")
	}
	if costSoFar <= effectiveBudget {
		parts = append(parts, "within budget")
	} else {
		parts = append(parts, "over budget")
	}
	return strings.Join(parts, ", ")
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
