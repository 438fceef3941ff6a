/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package router

import (
	"testing"

	"github.com/swarm1/engine/internal/registry"
)

func testRegistry() *registry.Registry {
	return &registry.Registry{
		Tools: map[string]registry.Tool{
			"playwright": {
				ID:           "playwright",
				Tier:         registry.TierPrimary,
				Capabilities: []string{"browser.automation", "screenshot"},
				CostModel:    registry.CostFlatPerRun,
				FlatCostUSD:  0,
			},
			"vercel": {
				ID:           "vercel",
				Tier:         registry.TierSecondary,
				Capabilities: []string{"deploy.preview"},
				CostModel:    registry.CostFlatPerRun,
				FlatCostUSD:  0.10,
				APIKeyEnv:    "VERCEL_API_KEY",
				SideEffects:  []registry.SideEffect{registry.SideEffectNetwork, registry.SideEffectExec},
			},
		},
		Policies: registry.Bundle{
			CapabilityMap: map[string][]string{
				"browser.automation": {"playwright"},
				"screenshot":         {"playwright"},
				"deploy.preview":     {"vercel"},
			},
			TierDefaults: registry.TierDefaults{
				PreferTier:             registry.TierPrimary,
				DefaultBudgetUSD:       1.0,
				SecondaryDefaultBudget: 0.5,
			},
			Safety: registry.Safety{
				AllowProductionMutations: false,
			},
			OnMissingPrimary: registry.OnMissingPrimaryReject,
		},
	}
}

func ctxWithEnv(env map[string]string) Context {
	return Context{Env: env}
}

// spec.md §8 scenario 1: primary-only plan for agent B7.
func TestPlanTools_PrimaryOnly(t *testing.T) {
	reg := testRegistry()
	budget := 0.25
	res := PlanTools(ctxWithEnv(map[string]string{"TEST_MODE": "true"}), reg, "B7", []string{"browser.automation", "screenshot"}, &budget, false, Hints{})

	if !res.OK {
		t.Fatalf("expected ok=true, got false; rejected=%+v", res.Rejected)
	}
	if len(res.Plan) != 1 {
		t.Fatalf("expected plan of length 1, got %d: %+v", len(res.Plan), res.Plan)
	}
	if res.Plan[0].ToolID != "playwright" {
		t.Errorf("tool = %q, want playwright", res.Plan[0].ToolID)
	}
	if res.Plan[0].EstimatedCostUSD != 0 {
		t.Errorf("cost = %v, want 0", res.Plan[0].EstimatedCostUSD)
	}
	if res.TotalCostUSD != 0 {
		t.Errorf("total cost = %v, want 0", res.TotalCostUSD)
	}
}

// spec.md §8 scenario 2: secondary tool requires consent for agent C16.
func TestPlanTools_SecondaryConsentGate(t *testing.T) {
	reg := testRegistry()
	budget := 0.5
	env := map[string]string{"TEST_MODE": "true"}

	t.Run("consent withheld", func(t *testing.T) {
		res := PlanTools(ctxWithEnv(env), reg, "C16", []string{"deploy.preview"}, &budget, false, Hints{})
		if res.OK {
			t.Fatal("expected ok=false when consent withheld")
		}
		found := false
		for _, r := range res.Rejected {
			if r.ToolID == "vercel" && r.Reason == "secondary tool requires consent" {
				found = true
			}
		}
		if !found {
			t.Errorf("expected rejection reason 'secondary tool requires consent', got %+v", res.Rejected)
		}
	})

	t.Run("consent granted", func(t *testing.T) {
		res := PlanTools(ctxWithEnv(env), reg, "C16", []string{"deploy.preview"}, &budget, true, Hints{})
		if !res.OK {
			t.Fatalf("expected ok=true when consent granted; rejected=%+v", res.Rejected)
		}
		if len(res.Plan) != 1 || res.Plan[0].ToolID != "vercel" {
			t.Fatalf("expected plan=[vercel], got %+v", res.Plan)
		}
		if res.TotalCostUSD != 0.10 {
			t.Errorf("total cost = %v, want 0.10", res.TotalCostUSD)
		}
	})
}

// spec.md §8 scenario 3: determinism.
func TestPlanTools_Deterministic(t *testing.T) {
	reg := testRegistry()
	budget := 1.0
	env := map[string]string{"TEST_MODE": "true"}

	first := PlanTools(ctxWithEnv(env), reg, "B7", []string{"browser.automation", "screenshot", "deploy.preview"}, &budget, true, Hints{})
	second := PlanTools(ctxWithEnv(env), reg, "B7", []string{"browser.automation", "screenshot", "deploy.preview"}, &budget, true, Hints{})

	if first.OK != second.OK || first.TotalCostUSD != second.TotalCostUSD || len(first.Plan) != len(second.Plan) {
		t.Fatalf("PlanTools not deterministic: %+v vs %+v", first, second)
	}
	for i := range first.Plan {
		if first.Plan[i].ToolID != second.Plan[i].ToolID {
			t.Fatalf("plan order differs at %d: %q vs %q", i, first.Plan[i].ToolID, second.Plan[i].ToolID)
		}
	}
}

func TestPlanTools_MissingAPIKeyOutsideTestMode(t *testing.T) {
	reg := testRegistry()
	budget := 0.5
	res := PlanTools(ctxWithEnv(map[string]string{}), reg, "C16", []string{"deploy.preview"}, &budget, true, Hints{})
	if res.OK {
		t.Fatal("expected ok=false without api key and outside test mode")
	}
	found := false
	for _, r := range res.Rejected {
		if r.ToolID == "vercel" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected vercel rejected for missing api key, got %+v", res.Rejected)
	}
}

func TestPlanTools_ProductionMutationSafety(t *testing.T) {
	reg := testRegistry()
	budget := 0.5
	env := map[string]string{"NODE_ENV": "production", "VERCEL_API_KEY": "key"}
	res := PlanTools(ctxWithEnv(env), reg, "C16", []string{"deploy.preview"}, &budget, true, Hints{})
	if res.OK {
		t.Fatal("expected ok=false: production mutation not allowed")
	}
}

func TestPlanTools_ProductionMutationAllowedWithFlag(t *testing.T) {
	reg := testRegistry()
	reg.Policies.Safety.AllowProductionMutations = true
	budget := 0.5
	env := map[string]string{"NODE_ENV": "production", "VERCEL_API_KEY": "key"}
	res := PlanTools(ctxWithEnv(env), reg, "C16", []string{"deploy.preview"}, &budget, true, Hints{})
	if !res.OK {
		t.Fatalf("expected ok=true with AllowProductionMutations: rejected=%+v", res.Rejected)
	}
}

func TestPlanTools_BudgetExceeded(t *testing.T) {
	reg := testRegistry()
	budget := 0.05
	res := PlanTools(ctxWithEnv(map[string]string{"TEST_MODE": "true"}), reg, "C16", []string{"deploy.preview"}, &budget, true, Hints{})
	if res.OK {
		t.Fatal("expected ok=false: over budget")
	}
	if res.MinFeasibleBudgetUSD != 0.10 {
		t.Errorf("MinFeasibleBudgetUSD = %v, want 0.10", res.MinFeasibleBudgetUSD)
	}
}

func TestPlanTools_AgentAllowlistBlocksTool(t *testing.T) {
	reg := testRegistry()
	reg.Policies.AgentAllowlists = map[string][]string{
		"restricted-agent": {"playwright"},
	}
	budget := 1.0
	res := PlanTools(ctxWithEnv(map[string]string{"TEST_MODE": "true"}), reg, "restricted-agent", []string{"deploy.preview"}, &budget, true, Hints{})
	if res.OK {
		t.Fatal("expected ok=false: vercel not in allowlist")
	}
}

func TestPlanTools_AgentBudgetCeilingClampsEffectiveBudget(t *testing.T) {
	reg := testRegistry()
	reg.Policies.AgentBudgetCeilings = map[string]float64{"C16": 0.05}
	budget := 1.0
	res := PlanTools(ctxWithEnv(map[string]string{"TEST_MODE": "true"}), reg, "C16", []string{"deploy.preview"}, &budget, true, Hints{})
	if res.OK {
		t.Fatal("expected ok=false: agent budget ceiling clamps effective budget below tool cost")
	}
}

func TestPlanTools_CoalescesToolAcrossCapabilities(t *testing.T) {
	reg := testRegistry()
	budget := 1.0
	res := PlanTools(ctxWithEnv(map[string]string{"TEST_MODE": "true"}), reg, "B7", []string{"browser.automation", "screenshot"}, &budget, false, Hints{})
	if len(res.Plan) != 1 {
		t.Fatalf("expected single coalesced plan entry, got %d: %+v", len(res.Plan), res.Plan)
	}
	if len(res.Plan[0].Capabilities) != 2 {
		t.Errorf("expected tool to serve 2 capabilities, got %+v", res.Plan[0].Capabilities)
	}
}

func TestPlanTools_EmptyRequestIsOK(t *testing.T) {
	reg := testRegistry()
	res := PlanTools(ctxWithEnv(nil), reg, "B7", nil, nil, false, Hints{})
	if !res.OK {
		t.Error("expected ok=true for empty capability request")
	}
	if len(res.Plan) != 0 {
		t.Errorf("expected empty plan, got %+v", res.Plan)
	}
}

func TestPlanTools_SecondaryFallbackWhenNoPrimary(t *testing.T) {
	reg := testRegistry()
	delete(reg.Tools, "playwright")
	reg.Policies.CapabilityMap["deploy.preview"] = []string{"vercel"}
	reg.Policies.OnMissingPrimary = registry.OnMissingPrimaryProposeSecondaryBudget

	res := PlanTools(ctxWithEnv(map[string]string{"TEST_MODE": "true"}), reg, "agent-x", []string{"deploy.preview"}, nil, false, Hints{})
	if !res.OK {
		t.Fatalf("expected fallback to secondary without explicit consent; rejected=%+v", res.Rejected)
	}
}
