/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package registry loads and validates the tool registry and policy bundle
// (spec.md §3 "Tool"/"Capability"/"Policy bundle", §4.1 "Load-time
// validation"). Loading is schema-validated and cross-referenced; the
// capability router (internal/router) consumes the typed result.
package registry

// Tier is a tool's trust/cost tier.
type Tier string

const (
	TierPrimary   Tier = "primary"
	TierSecondary Tier = "secondary"
)

// CostModel selects how a tool's cost is computed (spec.md §9 Open
// Question 2). Every loaded tool must declare one of the two (Load
// rejects a tool without cost_model); CostLegacyScore is kept for tools
// predating the flat-cost convention and is still accepted.
type CostModel string

const (
	CostFlatPerRun   CostModel = "flat_per_run"
	CostLegacyScore  CostModel = "legacy_score"
)

// SideEffect is one of the declared side-effect kinds a tool may have.
type SideEffect string

const (
	SideEffectNetwork  SideEffect = "network"
	SideEffectFileRead SideEffect = "file_read"
	SideEffectFileWrite SideEffect = "file_write"
	SideEffectExec     SideEffect = "exec"
	SideEffectDatabase SideEffect = "database"
)

// Tool is one entry in the registry (spec.md §3 "Tool").
type Tool struct {
	ID              string       `json:"id" yaml:"id"`
	Tier            Tier         `json:"tier" yaml:"tier"`
	Capabilities    []string     `json:"capabilities" yaml:"capabilities"`
	CostModel       CostModel    `json:"cost_model" yaml:"cost_model"`
	FlatCostUSD     float64      `json:"flat_cost_usd,omitempty" yaml:"flat_cost_usd,omitempty"`
	LegacyCostScore float64      `json:"cost_score,omitempty" yaml:"cost_score,omitempty"`
	APIKeyEnv       string       `json:"api_key_env,omitempty" yaml:"api_key_env,omitempty"`
	SideEffects     []SideEffect `json:"side_effects,omitempty" yaml:"side_effects,omitempty"`
	Version         string       `json:"version,omitempty" yaml:"version,omitempty"`
}

// Cost returns the tool's declared cost in USD under its cost model.
func (t Tool) Cost() float64 {
	if t.CostModel == CostLegacyScore {
		return t.LegacyCostScore * 0.01
	}
	return t.FlatCostUSD
}

// HasSideEffect reports whether the tool declares the given side effect.
func (t Tool) HasSideEffect(e SideEffect) bool {
	for _, s := range t.SideEffects {
		if s == e {
			return true
		}
	}
	return false
}

// TierDefaults holds per-tier policy defaults.
type TierDefaults struct {
	PreferTier              Tier    `json:"prefer_tier,omitempty" yaml:"prefer_tier,omitempty"`
	DefaultBudgetUSD        float64 `json:"default_budget_usd" yaml:"default_budget_usd"`
	SecondaryDefaultBudget  float64 `json:"secondary_default_budget_usd" yaml:"secondary_default_budget_usd"`
	RequireSecondaryConsent bool    `json:"require_secondary_consent" yaml:"require_secondary_consent"`
}

// TenantCeiling caps a tenant's admissible budget and capability set.
type TenantCeiling struct {
	BudgetCeilingUSD     float64  `json:"budget_ceiling_usd" yaml:"budget_ceiling_usd"`
	AllowedCapabilities  []string `json:"allowed_capabilities,omitempty" yaml:"allowed_capabilities,omitempty"`
}

// Safety holds the production-mutation and test-mode safety flags.
type Safety struct {
	AllowProductionMutations bool     `json:"allow_production_mutations" yaml:"allow_production_mutations"`
	RequireTestModeFor       []string `json:"require_test_mode_for,omitempty" yaml:"require_test_mode_for,omitempty"`
}

// OnMissingPrimary is the fallback policy when a capability has no primary
// candidate.
type OnMissingPrimary string

const (
	OnMissingPrimaryReject               OnMissingPrimary = "reject"
	OnMissingPrimaryProposeSecondaryBudget OnMissingPrimary = "propose_secondary_with_budget"
)

// CapabilityBudgetOverride overrides a tool's cost for a specific capability
// when it is selected under secondary-fallback budget (spec.md §4.1 step
// 3(d)(vii) "secondary.budget_overrides[tool]").
type CapabilityBudgetOverride map[string]float64 // tool id -> override USD

// Bundle is the full policy bundle (spec.md §3 "Policy bundle").
type Bundle struct {
	CapabilityMap map[string][]string `json:"capability_map" yaml:"capability_map"`

	TierDefaults TierDefaults `json:"tier_defaults" yaml:"tier_defaults"`

	AgentAllowlists map[string][]string `json:"agent_allowlists,omitempty" yaml:"agent_allowlists,omitempty"`

	TenantCeilings map[string]TenantCeiling `json:"tenant_ceilings,omitempty" yaml:"tenant_ceilings,omitempty"`

	Safety Safety `json:"safety" yaml:"safety"`

	OnMissingPrimary OnMissingPrimary `json:"on_missing_primary" yaml:"on_missing_primary"`

	// SecondaryBudgetOverrides is keyed by capability, then tool id.
	SecondaryBudgetOverrides map[string]CapabilityBudgetOverride `json:"secondary_budget_overrides,omitempty" yaml:"secondary_budget_overrides,omitempty"`

	// AgentCapabilityBudgetCeilings caps total spend per agent per
	// capability (spec.md §4.1 step 3(d)(vii) "clamp to per-capability
	// agent ceiling if set").
	AgentCapabilityBudgetCeilings map[string]map[string]float64 `json:"agent_capability_budget_ceilings,omitempty" yaml:"agent_capability_budget_ceilings,omitempty"`

	// AgentBudgetCeilings caps the total effective budget per agent
	// (spec.md §4.1 step 2 "clamp to the per-agent total ceiling if
	// configured").
	AgentBudgetCeilings map[string]float64 `json:"agent_budget_ceilings,omitempty" yaml:"agent_budget_ceilings,omitempty"`
}

// Registry is the loaded, cross-referenced tool registry plus policy bundle.
type Registry struct {
	Tools    map[string]Tool
	Policies Bundle

	// OrphanTools lists registered tool ids that are referenced by neither
	// the capability map nor any agent allowlist (spec.md §4.1
	// "Load-time validation").
	OrphanTools []string
}

// Tool looks up a tool by id.
func (r *Registry) Tool(id string) (Tool, bool) {
	t, ok := r.Tools[id]
	return t, ok
}
