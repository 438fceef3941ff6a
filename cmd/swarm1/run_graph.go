/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/swarm1/engine/internal/errs"
	"github.com/swarm1/engine/internal/executor"
	"github.com/swarm1/engine/internal/graphrun"
	"github.com/swarm1/engine/internal/jobqueue"
	"github.com/swarm1/engine/internal/mcp"
	"github.com/swarm1/engine/internal/observability"
	"github.com/swarm1/engine/internal/provider"
	"github.com/swarm1/engine/internal/tenant"
)

var (
	flagResumeRunID string
	flagConcurrency int
	flagRunID       string
)

var runGraphCmd = &cobra.Command{
	Use:   "run-graph <graph>",
	Short: "Execute a graph spec",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID := flagRunID
		if flagResumeRunID != "" {
			runID = flagResumeRunID
		}
		return executeGraph(cmd.Context(), args[0], runID, flagResumeRunID != "", flagConcurrency)
	},
}

func init() {
	runGraphCmd.Flags().StringVar(&flagResumeRunID, "resume", "", "resume a previous run id")
	runGraphCmd.Flags().IntVar(&flagConcurrency, "concurrency", 3, "bounded worker pool size")
	runGraphCmd.Flags().StringVar(&flagRunID, "run-id", "", "run id (generated if empty)")
}

// executeGraph loads, validates, and runs graphPath under the current
// tenant, persisting state under <tenant-root>/graph/<run_id>/state.json
// (spec.md §4.2, §6).
func executeGraph(ctx context.Context, graphPath, runID string, resume bool, concurrency int) error {
	spec, err := graphrun.LoadSpec(graphPath)
	if err != nil {
		return failf("runner", err)
	}
	if err := graphrun.Validate(spec); err != nil {
		return failf("runner", err)
	}

	tenantDir, err := tenant.Root(cfg.engine.DataDir, cfg.engine.DefaultTenant)
	if err != nil {
		return failf("runner", err)
	}

	if runID == "" {
		runID = jobqueue.GenerateRunID()
	}
	statePath := graphrun.StatePath(tenantDir, runID)

	if resume {
		existing, err := graphrun.LoadState(statePath)
		if err != nil {
			return failf("runner", err)
		}
		if existing == nil {
			return failf("runner", fmt.Errorf("%w: run %s", errs.ErrResumeStateMissing, runID))
		}
	}

	sink, err := observability.NewSink(tenantDir, log)
	if err != nil {
		return failf("runner", err)
	}

	reg := buildExecutorRegistry(ctx)
	runner := graphrun.NewRunner(reg, concurrency, sink, log)

	start := time.Now()
	state, runErr := runner.Run(ctx, runID, spec, statePath, tenantDir, "", resume)
	duration := time.Since(start)

	if runErr != nil {
		return failf("runner", runErr)
	}

	fmt.Printf("run %s finished in %s\n", runID, duration.Round(time.Millisecond))
	if state.Failed() {
		return failCode("runner", 101, fmt.Errorf("run %s completed with failed nodes", runID))
	}
	return nil
}

// buildExecutorRegistry wires every required executor type (spec.md
// §4.5) from the current configuration: command-backed domain executors
// read their binaries from the BINARY_<TYPE> environment convention,
// server and work_simulation are built in, and the subagent gateway (when
// a provider is configured) calls out over MCP for its tool invocations.
func buildExecutorRegistry(ctx context.Context) *executor.Registry {
	reg := executor.NewRegistry()
	reg.Register(executor.NewServerExecutor())
	reg.Register(executor.WorkSimulation{})
	executor.RegisterDomainExecutors(reg, domainBinaries(), 5*time.Minute)
	if gw := buildSubagentGateway(ctx); gw != nil {
		reg.Register(gw)
	}
	return reg
}

// buildSubagentGateway wires internal/provider and internal/mcp into a
// SubagentGatewayExecutor when PROVIDER_KIND is configured. MCP server
// connections (if any are configured via MCP_SERVER_<NAME>_ENDPOINT) are
// best-effort: a server that fails to connect is skipped, not fatal,
// matching internal/mcp's own degrade-gracefully stance.
func buildSubagentGateway(ctx context.Context) *executor.SubagentGatewayExecutor {
	if cfg.engine.ProviderKind == "" {
		return nil
	}
	p, err := provider.NewProvider(provider.ProviderConfig{
		Type:   cfg.engine.ProviderKind,
		APIKey: cfg.engine.ProviderAPIKey,
	})
	if err != nil {
		log.Error(err, "subagent gateway: provider unavailable, gateway disabled")
		return nil
	}

	manager := mcp.NewManager(log)
	servers := map[string]mcp.ServerSpec{}
	for name, endpoint := range cfg.engine.MCPServers {
		servers[name] = mcp.ServerSpec{Endpoint: endpoint}
	}
	if len(servers) > 0 {
		if err := manager.ConnectAll(ctx, servers); err != nil {
			log.Error(err, "subagent gateway: MCP connect failed, continuing without MCP tools")
		}
	}

	return &executor.SubagentGatewayExecutor{
		Provider:   p,
		Invoker:    manager.Invoke,
		ToolDefs:   manager.ToolDefs(),
		MaxSteps:   cfg.engine.SubagentMaxSteps,
		MaxSeconds: cfg.engine.SubagentMaxSeconds,
		Model:      cfg.engine.ProviderModel,
	}
}

func domainBinaries() executor.BinaryConfig {
	binaries := executor.BinaryConfig{}
	for _, nodeType := range []string{
		"browser-test", "api-test", "perf-audit", "visual-capture", "visual-compare",
		"security.scan", "secrets.scan", "data.ingest", "data.insights", "chart.render",
		"audio.tts", "video.compose", "seo.audit", "db.migration",
	} {
		if path := envBinaryPath(nodeType); path != "" {
			binaries[nodeType] = path
		}
	}
	return binaries
}

// runAUVShortcut runs a single AUV end-to-end via a small built-in graph:
// server bring-up, api-test, perf-audit (spec.md §6 "<AUV-ID> | Run a
// single AUV end-to-end (shortcut for a small built-in graph)").
func runAUVShortcut(cmd *cobra.Command, auvID string) error {
	spec := &graphrun.Spec{
		ProjectID:          auvID,
		DefaultMaxAttempts: 2,
		DefaultTimeoutSec:  300,
		Nodes: []graphrun.Node{
			{ID: "server", Type: "server", ResourceTags: []string{"server"}},
			{ID: "api-test", Type: "api-test", Requires: []string{"server"}, Params: map[string]any{"auv_id": auvID}},
			{ID: "perf-audit", Type: "perf-audit", Requires: []string{"server"}, Params: map[string]any{"auv_id": auvID}},
		},
	}
	tenantDir, err := tenant.Root(cfg.engine.DataDir, cfg.engine.DefaultTenant)
	if err != nil {
		return failf("runner", err)
	}
	sink, err := observability.NewSink(tenantDir, log)
	if err != nil {
		return failf("runner", err)
	}
	reg := buildExecutorRegistry(cmd.Context())
	runner := graphrun.NewRunner(reg, 3, sink, log)

	runID := jobqueue.GenerateRunID()
	statePath := graphrun.StatePath(tenantDir, runID)
	state, err := runner.Run(cmd.Context(), runID, spec, statePath, tenantDir, auvID, false)
	if err != nil {
		return failf("runner", err)
	}
	fmt.Printf("AUV %s run %s finished\n", auvID, runID)
	if state.Failed() {
		return failCode("runner", 101, fmt.Errorf("AUV %s failed", auvID))
	}
	return nil
}
