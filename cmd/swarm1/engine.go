/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/swarm1/engine/internal/auth"
	"github.com/swarm1/engine/internal/backup"
	"github.com/swarm1/engine/internal/errs"
	"github.com/swarm1/engine/internal/jobqueue"
	"github.com/swarm1/engine/internal/registry"
	"github.com/swarm1/engine/internal/tenant"
)

var engineCmd = &cobra.Command{
	Use:   "engine",
	Short: "Operate the durable job queue and worker (spec.md §4.3)",
}

var (
	flagPriority    int
	flagAuthToken   string
	flagJobID       string
	flagListState   string
	flagBackupTenant string
)

func init() {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start a queue worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			return engineStart(cmd)
		},
	}

	enqueueCmd := &cobra.Command{
		Use:   "enqueue <graph>",
		Short: "Submit a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return engineEnqueue(cmd, args[0])
		},
	}
	enqueueCmd.Flags().IntVar(&flagPriority, "priority", 0, "job priority (higher runs first)")
	enqueueCmd.Flags().StringVar(&flagAuthToken, "auth-token", "", "bearer token asserting identity and tenant (if AUTH_REQUIRED)")

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show one job's status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return engineStatus(cmd)
		},
	}
	statusCmd.Flags().StringVar(&flagJobID, "job", "", "job id")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs by state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return engineList(cmd)
		},
	}
	listCmd.Flags().StringVar(&flagListState, "state", "", "filter by status (queued/running/succeeded/failed/cancelled)")

	metricsCmd := &cobra.Command{
		Use:   "metrics",
		Short: "Show queue-wide counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return engineMetrics(cmd)
		},
	}

	monitorCmd := &cobra.Command{
		Use:   "monitor",
		Short: "Stream queue events live",
		RunE: func(cmd *cobra.Command, args []string) error {
			return engineMonitor(cmd)
		},
	}

	pauseCmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause the queue (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return engineAdmin(cmd, func(s *jobqueue.Store) error { return s.Pause() })
		},
	}
	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume the queue (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return engineAdmin(cmd, func(s *jobqueue.Store) error { return s.Resume() })
		},
	}
	cancelCmd := &cobra.Command{
		Use:   "cancel",
		Short: "Cancel a job (admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return engineAdmin(cmd, func(s *jobqueue.Store) error { return s.Cancel(flagJobID, "cancelled by operator") })
		},
	}
	cancelCmd.Flags().StringVar(&flagJobID, "job", "", "job id to cancel")

	emitStatusCmd := &cobra.Command{
		Use:   "emit-status",
		Short: "Write a tenant-aware status JSON for dashboards",
		RunE: func(cmd *cobra.Command, args []string) error {
			return engineEmitStatus(cmd)
		},
	}

	backupCmd := &cobra.Command{
		Use:   "backup [runs|dist|both]",
		Short: "Produce a tenant-scoped archive",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := backup.ScopeBoth
			if len(args) == 1 {
				scope = backup.Scope(args[0])
			}
			return engineBackup(cmd, scope)
		},
	}
	backupCmd.Flags().StringVar(&flagBackupTenant, "tenant", "", "tenant to back up (overrides --tenant)")

	engineCmd.AddCommand(startCmd, enqueueCmd, statusCmd, listCmd, metricsCmd, monitorCmd,
		pauseCmd, resumeCmd, cancelCmd, emitStatusCmd, backupCmd)
}

func queueStorePath() string {
	return filepath.Join(cfg.engine.DataDir, ".swarm1", "queue.db")
}

func openQueueStore() (*jobqueue.Store, error) {
	if err := os.MkdirAll(filepath.Dir(queueStorePath()), 0o755); err != nil {
		return nil, err
	}
	return jobqueue.NewStore(queueStorePath())
}

func engineStart(cmd *cobra.Command) error {
	store, err := openQueueStore()
	if err != nil {
		return failCode("engine", 401, err)
	}
	defer store.Close()

	binary, err := os.Executable()
	if err != nil {
		return failf("engine", err)
	}
	worker := jobqueue.NewWorker(store, binary, cfg.engine.DataDir, log)
	if err := worker.Run(cmd.Context()); err != nil {
		return failf("engine", err)
	}
	return nil
}

// engineEnqueue implements spec.md §4.3 "Job submission": authorize,
// confirm the graph file exists, apply tenant policy, submit. The store
// assigns the job id. The payload is not checked against the job payload
// schema here, and no run id is assigned; the worker generates one when
// it runs the job.
func engineEnqueue(cmd *cobra.Command, graphFile string) error {
	tenantName := cfg.engine.DefaultTenant

	var claims *auth.Claims
	if cfg.engine.AuthRequired {
		verifier := auth.NewVerifier(cfg.engine.AuthJWTSecret, cfg.engine.AuthIssuer, cfg.engine.AuthAudience)
		token := flagAuthToken
		if token == "" {
			token = cfg.engine.AuthToken
		}
		c, err := verifier.Verify(token)
		if err != nil {
			return failCode("engine", 405, err)
		}
		claims = c
	}
	if err := auth.RequirePermission(claims, auth.PermEnqueueJobs, cfg.engine.AuthRequired); err != nil {
		return failCode("engine", 405, err)
	}
	if cfg.engine.AuthRequired {
		if err := auth.AuthorizeTenant(claims, tenantName); err != nil {
			return failCode("engine", 405, err)
		}
	}

	if _, err := os.Stat(graphFile); err != nil {
		return failf("engine", fmt.Errorf("%w: graph file %q not found", errs.ErrUsage, graphFile))
	}

	bundle := loadPolicyBundleOrEmpty()
	if err := auth.CheckTenantPolicy(bundle, auth.TenantPolicyCheck{Tenant: tenantName}); err != nil {
		return failCode("engine", 405, err)
	}

	store, err := openQueueStore()
	if err != nil {
		return failCode("engine", 401, err)
	}
	defer store.Close()

	job := jobqueue.Job{
		Payload: jobqueue.Payload{
			Type:      "run-graph",
			GraphFile: graphFile,
			Tenant:    tenantName,
			Priority:  flagPriority,
		},
		Priority: flagPriority,
	}
	created, err := store.Enqueue(job)
	if err != nil {
		return failf("engine", err)
	}
	fmt.Printf("enqueued job %s\n", created.ID)
	return nil
}

func engineStatus(cmd *cobra.Command) error {
	if flagJobID == "" {
		return failf("engine", fmt.Errorf("%w: --job is required", errs.ErrUsage))
	}
	store, err := openQueueStore()
	if err != nil {
		return failCode("engine", 401, err)
	}
	defer store.Close()

	job, err := store.Get(flagJobID)
	if err != nil {
		return failf("engine", err)
	}
	logs, _ := store.Logs(flagJobID)
	return printJSON(struct {
		*jobqueue.Job
		Logs []string `json:"logs,omitempty"`
	}{job, logs})
}

func engineList(cmd *cobra.Command) error {
	store, err := openQueueStore()
	if err != nil {
		return failCode("engine", 401, err)
	}
	defer store.Close()

	jobs, err := store.List(jobqueue.ListQuery{Status: jobqueue.Status(flagListState), Tenant: cfg.engine.DefaultTenant})
	if err != nil {
		return failf("engine", err)
	}
	return printJSON(jobs)
}

func engineMetrics(cmd *cobra.Command) error {
	store, err := openQueueStore()
	if err != nil {
		return failCode("engine", 401, err)
	}
	defer store.Close()

	m, err := store.Metrics()
	if err != nil {
		return failf("engine", err)
	}
	return printJSON(m)
}

// engineMonitor polls the queue's job listing at a short interval and
// prints each observed change, a simple stand-in for a live event stream
// since the store has no pub/sub of its own (spec.md §4.3 "monitor";
// §9 "if cross-process sync is required, route through the queue
// broker's pub/sub" — here the broker is polled, not subscribed to).
func engineMonitor(cmd *cobra.Command) error {
	store, err := openQueueStore()
	if err != nil {
		return failCode("engine", 401, err)
	}
	defer store.Close()

	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	seen := map[string]jobqueue.Status{}
	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case <-ticker.C:
			jobs, err := store.List(jobqueue.ListQuery{Tenant: cfg.engine.DefaultTenant})
			if err != nil {
				return failf("engine", err)
			}
			for _, j := range jobs {
				if seen[j.ID] != j.Status {
					fmt.Printf("%s %s -> %s\n", time.Now().UTC().Format(time.RFC3339), j.ID, j.Status)
					seen[j.ID] = j.Status
				}
			}
		}
	}
}

func engineAdmin(cmd *cobra.Command, op func(*jobqueue.Store) error) error {
	var claims *auth.Claims
	if cfg.engine.AuthRequired {
		verifier := auth.NewVerifier(cfg.engine.AuthJWTSecret, cfg.engine.AuthIssuer, cfg.engine.AuthAudience)
		c, err := verifier.Verify(cfg.engine.AuthToken)
		if err != nil {
			return failCode("engine", 405, err)
		}
		claims = c
	}
	if err := auth.RequirePermission(claims, auth.PermQueueAdmin, cfg.engine.AuthRequired); err != nil {
		return failCode("engine", 405, err)
	}

	store, err := openQueueStore()
	if err != nil {
		return failCode("engine", 401, err)
	}
	defer store.Close()
	if err := op(store); err != nil {
		return failf("engine", err)
	}
	fmt.Println("ok")
	return nil
}

func engineEmitStatus(cmd *cobra.Command) error {
	store, err := openQueueStore()
	if err != nil {
		return failCode("engine", 401, err)
	}
	defer store.Close()

	m, err := store.Metrics()
	if err != nil {
		return failf("engine", err)
	}
	status := map[string]any{
		"tenant":     cfg.engine.DefaultTenant,
		"queue":      m,
		"updated_at": time.Now().UTC(),
	}
	raw, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return failf("engine", err)
	}
	tenantDir, err := tenant.Root(cfg.engine.DataDir, cfg.engine.DefaultTenant)
	if err != nil {
		return failf("engine", err)
	}
	reportsDir := filepath.Join(tenantDir, "reports")
	if err := os.MkdirAll(reportsDir, 0o755); err != nil {
		return failf("engine", err)
	}
	path := filepath.Join(reportsDir, "status.json")
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return failf("engine", err)
	}
	fmt.Println(path)
	return nil
}

func engineBackup(cmd *cobra.Command, scope backup.Scope) error {
	tenantName := flagBackupTenant
	if tenantName == "" {
		tenantName = cfg.engine.DefaultTenant
	}
	archiver := backup.NewArchiver(cfg.engine.DataDir, filepath.Join(cfg.engine.DataDir, "dist", "backups"))
	report, err := archiver.Backup(scope, tenantName)
	if err != nil {
		return failf("engine", err)
	}
	return printJSON(report)
}

func loadPolicyBundleOrEmpty() *registry.Bundle {
	regPath := filepath.Join(cfg.engine.DataDir, "registry.yaml")
	polPath := filepath.Join(cfg.engine.DataDir, "policies.yaml")
	reg, _, err := registry.Load(regPath, polPath)
	if err != nil {
		return &registry.Bundle{}
	}
	return &reg.Policies
}

func printJSON(v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return failf("engine", err)
	}
	fmt.Println(string(raw))
	return nil
}
