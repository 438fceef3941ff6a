/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package jobqueue

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
)

// Worker claims and executes jobs by invoking the runner binary as a child
// process (spec.md §4.3 "Worker loop": isolation + resource bounds come
// from running the graph to completion out-of-process rather than
// in-process, the same separation legator draws between a control-plane
// process and the probe binaries it shells out to).
type Worker struct {
	Store        *Store
	RetryPolicy  RetryPolicy
	BinaryPath   string        // path to the swarm1 binary, re-invoked as `run-graph`
	DataDir      string        // root tenant directory passed to the child
	ID           string        // worker identity used for lock ownership
	LeaseDuration time.Duration
	PollInterval  time.Duration
	MaxStalled    int
	Log           logr.Logger
}

// NewWorker constructs a Worker with sane defaults for unset fields.
func NewWorker(store *Store, binaryPath, dataDir string, log logr.Logger) *Worker {
	return &Worker{
		Store:         store,
		RetryPolicy:   DefaultRetryPolicy(),
		BinaryPath:    binaryPath,
		DataDir:       dataDir,
		ID:            fmt.Sprintf("worker-%s", uuid.NewString()[:8]),
		LeaseDuration: 2 * time.Minute,
		PollInterval:  1 * time.Second,
		MaxStalled:    3,
		Log:           log,
	}
}

// Run polls the queue and processes jobs one at a time until ctx is
// cancelled (spec.md §4.3 "Worker loop"). Callers typically run several
// Workers concurrently to get parallelism across jobs (graph-internal
// concurrency is separately bounded by the runner's own --concurrency).
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.PollInterval)
	defer ticker.Stop()

	reclaimTicker := time.NewTicker(w.LeaseDuration)
	defer reclaimTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-reclaimTicker.C:
			if n, err := w.Store.ReclaimStalled(w.MaxStalled); err != nil {
				w.Log.Error(err, "reclaim stalled jobs failed")
			} else if n > 0 {
				w.Log.Info("reclaimed stalled jobs", "count", n)
			}
		case <-ticker.C:
			job, err := w.Store.Claim(w.ID, w.LeaseDuration)
			if err != nil {
				w.Log.Error(err, "claim failed")
				continue
			}
			if job == nil {
				continue
			}
			w.process(ctx, job)
		}
	}
}

// process runs one claimed job to completion, renewing its lock while the
// child process is in flight.
func (w *Worker) process(ctx context.Context, job *Job) {
	log := w.Log.WithValues("job", job.ID, "tenant", job.Payload.Tenant)
	log.Info("job started", "attempt", job.Attempts)

	runID := job.Payload.RunID
	if runID == "" {
		runID = GenerateRunID()
	}

	renewCtx, cancelRenew := context.WithCancel(ctx)
	defer cancelRenew()
	go w.renewLockPeriodically(renewCtx, job.ID)

	args := []string{"run-graph", job.Payload.GraphFile, "--tenant", job.Payload.Tenant, "--run-id", runID}
	if job.Payload.Resume {
		args = append(args, "--resume", runID)
	}

	cmd := exec.CommandContext(ctx, w.BinaryPath, args...)
	cmd.Dir = w.DataDir
	cmd.Env = childEnv(job.Payload.Env)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		w.fail(job.ID, fmt.Sprintf("stdout pipe: %v", err), nil)
		return
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		w.fail(job.ID, fmt.Sprintf("stderr pipe: %v", err), nil)
		return
	}

	if err := cmd.Start(); err != nil {
		w.fail(job.ID, fmt.Sprintf("start child: %v", err), nil)
		return
	}

	var stdoutTail, stderrTail ring
	done := make(chan struct{}, 2)
	go w.streamOutput(job.ID, stdout, &stdoutTail, done)
	go w.streamOutput(job.ID, stderr, &stderrTail, done)
	<-done
	<-done

	waitErr := cmd.Wait()
	exitCode := cmd.ProcessState.ExitCode()

	if waitErr == nil && exitCode == 0 {
		artifacts := discoverArtifacts(filepath.Join(w.DataDir, job.Payload.Tenant, runID))
		if err := w.Store.CompleteSuccess(job.ID, runID, artifacts); err != nil {
			log.Error(err, "record success failed")
		} else {
			log.Info("job succeeded", "run_id", runID)
		}
		return
	}

	reason := stderrTail.String()
	if reason == "" && waitErr != nil {
		reason = waitErr.Error()
	}
	code := exitCode
	w.fail(job.ID, reason, &code)
}

func (w *Worker) fail(jobID, reason string, exitCode *int) {
	if err := w.Store.CompleteFailure(jobID, reason, exitCode, w.RetryPolicy); err != nil {
		w.Log.Error(err, "record failure failed", "job", jobID)
	} else {
		w.Log.Info("job failed", "job", jobID, "reason", reason)
	}
}

func (w *Worker) renewLockPeriodically(ctx context.Context, jobID string) {
	interval := w.LeaseDuration / 2
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.Store.RenewLock(jobID, w.ID, w.LeaseDuration); err != nil {
				w.Log.Error(err, "renew lock failed", "job", jobID)
			}
		}
	}
}

var progressPattern = regexp.MustCompile(`progress:\s*(\d{1,3})%`)

// streamOutput copies one pipe's lines into the job's log ring buffer,
// extracting progress percentages and keeping the last maxRingBytes of
// text in tail for failure reporting (spec.md §4.3 "Stream its stdout/stderr into the
// job's log ring buffer" / "Extract progress percentages").
func (w *Worker) streamOutput(jobID string, r io.Reader, tail *ring, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if err := w.Store.AppendLog(jobID, line); err != nil {
			w.Log.Error(err, "append log failed", "job", jobID)
		}
		tail.Write(line)
		if m := progressPattern.FindStringSubmatch(line); m != nil {
			if pct, err := strconv.Atoi(m[1]); err == nil {
				if err := w.Store.UpdateProgress(jobID, pct); err != nil {
					w.Log.Error(err, "update progress failed", "job", jobID)
				}
			}
		}
	}
}

// ring keeps the last maxRingBytes of concatenated lines for failure
// reports, avoiding unbounded memory growth on noisy children.
type ring struct {
	buf strings.Builder
}

const maxRingBytes = 8 * 1024

func (r *ring) Write(line string) {
	r.buf.WriteString(line)
	r.buf.WriteByte('\n')
	if r.buf.Len() > maxRingBytes {
		s := r.buf.String()
		r.buf.Reset()
		r.buf.WriteString(s[len(s)-maxRingBytes:])
	}
}

func (r *ring) String() string { return r.buf.String() }

// childEnv builds the child process environment: the worker's own
// environment plus the job's declared overrides (spec.md §4.3 payload
// "env").
func childEnv(overrides map[string]string) []string {
	env := os.Environ()
	for k, v := range overrides {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// discoverArtifacts walks a run's output directory and returns paths
// relative to it (spec.md §4.3 "Collect artifacts under the tenant root
// on exit 0").
func discoverArtifacts(runDir string) []string {
	var artifacts []string
	_ = filepath.Walk(runDir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info == nil || info.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(runDir, path)
		if relErr != nil {
			return nil
		}
		artifacts = append(artifacts, rel)
		return nil
	})
	return artifacts
}

// GenerateRunID produces a run id of the form RUN-YYYY-MM-DD-<4hex>
// (spec.md §4.3 step 5).
func GenerateRunID() string {
	return fmt.Sprintf("RUN-%s-%s", time.Now().UTC().Format("2006-01-02"), uuid.NewString()[:4])
}
