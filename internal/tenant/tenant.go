/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package tenant provides multi-tenant foundations for the orchestration
// engine. Tenants are isolated by filesystem root. Each tenant has:
//   - Resource quotas (max concurrent runs, token budget, runs per day)
//   - A capability ceiling (the most a tenant's policy bundle may grant)
//   - Cost attribution (token usage tracked per tenant)
package tenant

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// runsDir is the name of the top-level artifact root (spec.md §4.7).
const runsDir = "runs"

// validName matches the characters allowed in a tenant identifier. Tenant
// names are used verbatim as a path component under runs/tenants/, so they
// must not contain path separators or traversal sequences.
var validName = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_-]{0,63}$`)

// Tenant represents one isolation unit in the multi-tenant model.
type Tenant struct {
	// Name is the tenant identifier, also the runs/tenants/<Name>/ path
	// component. Empty Name denotes the default (non-multi-tenant) root.
	Name string

	// Quotas define resource limits for this tenant.
	Quotas Quotas

	// Usage tracks current resource consumption.
	Usage Usage
}

// Quotas defines resource limits and the capability ceiling per tenant.
type Quotas struct {
	// MaxConcurrentRuns is the maximum simultaneous graph runs for this tenant.
	MaxConcurrentRuns int `json:"maxConcurrentRuns"`

	// MaxTokenBudgetPerHour is the aggregate token budget per hour.
	MaxTokenBudgetPerHour int64 `json:"maxTokenBudgetPerHour"`

	// MaxRunsPerDay is the maximum total runs per day.
	MaxRunsPerDay int `json:"maxRunsPerDay"`

	// MaxCostUSDPerRun caps the per-run dollar budget (spec.md §4.1 budget gate).
	MaxCostUSDPerRun float64 `json:"maxCostUsdPerRun"`

	// CapabilityCeiling lists the capabilities this tenant's policy bundle
	// is permitted to grant; CheckCapability tests a capability against
	// it. Nothing at registry load time consults it. A nil slice means no
	// ceiling (the tenant may grant anything the registry defines).
	CapabilityCeiling []string `json:"capabilityCeiling,omitempty"`
}

// Usage tracks current resource consumption.
type Usage struct {
	ConcurrentRuns     int       `json:"concurrentRuns"`
	RunsToday          int       `json:"runsToday"`
	TokensUsedThisHour int64     `json:"tokensUsedThisHour"`
	TotalTokensAllTime int64     `json:"totalTokensAllTime"`
	LastUpdated        time.Time `json:"lastUpdated"`
}

// QuotaEnforcer checks tenant quotas before allowing run admission.
type QuotaEnforcer struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
	log     logr.Logger
}

// NewQuotaEnforcer creates a quota enforcer.
func NewQuotaEnforcer(log logr.Logger) *QuotaEnforcer {
	return &QuotaEnforcer{
		tenants: make(map[string]*Tenant),
		log:     log,
	}
}

// RegisterTenant adds or updates a tenant's quotas.
func (qe *QuotaEnforcer) RegisterTenant(t Tenant) {
	qe.mu.Lock()
	defer qe.mu.Unlock()
	qe.tenants[t.Name] = &t
}

// GetTenant returns a tenant by name.
func (qe *QuotaEnforcer) GetTenant(name string) (*Tenant, bool) {
	qe.mu.RLock()
	defer qe.mu.RUnlock()
	t, ok := qe.tenants[name]
	if !ok {
		return nil, false
	}
	cp := *t
	return &cp, true
}

// CheckCanStartRun verifies the tenant hasn't exceeded run quotas.
func (qe *QuotaEnforcer) CheckCanStartRun(name string) error {
	qe.mu.RLock()
	defer qe.mu.RUnlock()

	t, ok := qe.tenants[name]
	if !ok {
		return nil // no quotas registered = no limits
	}

	if t.Quotas.MaxConcurrentRuns > 0 && t.Usage.ConcurrentRuns >= t.Quotas.MaxConcurrentRuns {
		return fmt.Errorf("tenant %q exceeded max concurrent runs (%d/%d)", name, t.Usage.ConcurrentRuns, t.Quotas.MaxConcurrentRuns)
	}
	if t.Quotas.MaxRunsPerDay > 0 && t.Usage.RunsToday >= t.Quotas.MaxRunsPerDay {
		return fmt.Errorf("tenant %q exceeded max runs per day (%d/%d)", name, t.Usage.RunsToday, t.Quotas.MaxRunsPerDay)
	}
	if t.Quotas.MaxTokenBudgetPerHour > 0 && t.Usage.TokensUsedThisHour >= t.Quotas.MaxTokenBudgetPerHour {
		return fmt.Errorf("tenant %q exceeded hourly token budget (%d/%d)", name, t.Usage.TokensUsedThisHour, t.Quotas.MaxTokenBudgetPerHour)
	}
	return nil
}

// CheckCapability reports whether capability is within the tenant's ceiling.
func (qe *QuotaEnforcer) CheckCapability(name, capability string) error {
	qe.mu.RLock()
	defer qe.mu.RUnlock()

	t, ok := qe.tenants[name]
	if !ok || len(t.Quotas.CapabilityCeiling) == 0 {
		return nil
	}
	for _, c := range t.Quotas.CapabilityCeiling {
		if c == capability {
			return nil
		}
	}
	return fmt.Errorf("tenant %q capability ceiling does not include %q", name, capability)
}

// RecordRunStart increments concurrent run count.
func (qe *QuotaEnforcer) RecordRunStart(name string) {
	qe.mu.Lock()
	defer qe.mu.Unlock()
	t, ok := qe.tenants[name]
	if !ok {
		return
	}
	t.Usage.ConcurrentRuns++
	t.Usage.RunsToday++
	t.Usage.LastUpdated = time.Now()
}

// RecordRunEnd decrements concurrent run count and adds token usage.
func (qe *QuotaEnforcer) RecordRunEnd(name string, tokensUsed int64) {
	qe.mu.Lock()
	defer qe.mu.Unlock()
	t, ok := qe.tenants[name]
	if !ok {
		return
	}
	if t.Usage.ConcurrentRuns > 0 {
		t.Usage.ConcurrentRuns--
	}
	t.Usage.TokensUsedThisHour += tokensUsed
	t.Usage.TotalTokensAllTime += tokensUsed
	t.Usage.LastUpdated = time.Now()
}

// ResetHourlyUsage resets the hourly token counter for all tenants. Intended
// to be called by a periodic job (e.g. the cron facility in internal/jobqueue).
func (qe *QuotaEnforcer) ResetHourlyUsage() {
	qe.mu.Lock()
	defer qe.mu.Unlock()
	for _, t := range qe.tenants {
		t.Usage.TokensUsedThisHour = 0
	}
}

// ResetDailyUsage resets the daily run counter for all tenants.
func (qe *QuotaEnforcer) ResetDailyUsage() {
	qe.mu.Lock()
	defer qe.mu.Unlock()
	for _, t := range qe.tenants {
		t.Usage.RunsToday = 0
	}
}

// CostReport is a snapshot of tenant resource usage.
type CostReport struct {
	Tenant             string  `json:"tenant"`
	RunsToday          int     `json:"runsToday"`
	TokensThisHour     int64   `json:"tokensThisHour"`
	TokensAllTime      int64   `json:"tokensAllTime"`
	ConcurrentRuns     int     `json:"concurrentRuns"`
	QuotaConcurrent    int     `json:"quotaConcurrent"`
	QuotaTokensPerHour int64   `json:"quotaTokensPerHour"`
	QuotaRunsPerDay    int     `json:"quotaRunsPerDay"`
	QuotaCostPerRun    float64 `json:"quotaCostPerRunUsd"`
}

// CostReport generates a cost summary for a tenant.
func (qe *QuotaEnforcer) CostReport(name string) (*CostReport, error) {
	qe.mu.RLock()
	defer qe.mu.RUnlock()
	t, ok := qe.tenants[name]
	if !ok {
		return nil, fmt.Errorf("tenant %q not registered", name)
	}
	return &CostReport{
		Tenant:             t.Name,
		RunsToday:          t.Usage.RunsToday,
		TokensThisHour:     t.Usage.TokensUsedThisHour,
		TokensAllTime:      t.Usage.TotalTokensAllTime,
		ConcurrentRuns:     t.Usage.ConcurrentRuns,
		QuotaConcurrent:    t.Quotas.MaxConcurrentRuns,
		QuotaTokensPerHour: t.Quotas.MaxTokenBudgetPerHour,
		QuotaRunsPerDay:    t.Quotas.MaxRunsPerDay,
		QuotaCostPerRun:    t.Quotas.MaxCostUSDPerRun,
	}, nil
}

// ValidName reports whether name is safe to use as a runs/tenants/<name>/
// path component.
func ValidName(name string) bool {
	return validName.MatchString(name)
}

// Root returns the artifact root directory for a tenant under baseDir.
// The empty tenant name resolves to baseDir/runs (spec.md §4.7: untenanted
// runs live directly under runs/); a named tenant resolves to
// baseDir/runs/tenants/<name>/.
func Root(baseDir, name string) (string, error) {
	if name == "" {
		return filepath.Join(baseDir, runsDir), nil
	}
	if !ValidName(name) {
		return "", fmt.Errorf("invalid tenant name %q", name)
	}
	return filepath.Join(baseDir, runsDir, "tenants", name), nil
}
