/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/swarm1/engine/internal/errs"
)

// maxCapturedOutput bounds how much of a command's stdout/stderr is kept
// in the result metadata (spec.md's executors are opaque external
// collaborators; only their exit status and declared artifacts matter to
// the runner, but a bounded tail of output helps diagnose a crash).
const maxCapturedOutput = 64 * 1024

// CommandExecutor runs an external, opaque tool binary as a child process
// and reports the artifact paths it was configured to expect (spec.md
// §1 "invoked as opaque executors that consume inputs and emit files",
// §4.5's browser-test/api-test/perf-audit/visual-*/security.scan/
// secrets.scan/data.*/chart.render/audio.tts/video.compose/seo.audit/
// db.migration). Grounded on legator's internal/probe/executor.Executor:
// same os/exec-with-timeout-and-captured-output shape, simplified because
// Swarm1's executors are trusted domain tools configured by the operator,
// not untrusted commands requiring policy classification.
type CommandExecutor struct {
	NodeType        string
	Binary          string
	BuildArgs       func(p Params) []string
	ExpectArtifacts func(p Params) []string
	Timeout         time.Duration
}

func (c *CommandExecutor) Type() string { return c.NodeType }

func (c *CommandExecutor) Execute(ctx context.Context, p Params) (Result, error) {
	if c.Binary == "" {
		return Result{OK: false}, fmt.Errorf("%s node %s: %w: no binary configured", c.NodeType, p.NodeID, errs.ErrExecutorPermanent)
	}

	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var args []string
	if c.BuildArgs != nil {
		args = c.BuildArgs(p)
	}

	cmd := exec.CommandContext(runCtx, c.Binary, args...)
	cmd.Env = envSlice(p.Env)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	metadata := map[string]any{
		"stdout_tail": tail(stdout.Bytes(), maxCapturedOutput),
		"stderr_tail": tail(stderr.Bytes(), maxCapturedOutput),
	}

	if runErr != nil {
		if isNonRetryableExec(runErr) {
			return Result{OK: false, Metadata: metadata, Err: runErr}, fmt.Errorf("%s node %s: %w: %v", c.NodeType, p.NodeID, errs.ErrExecutorPermanent, runErr)
		}
		return Result{OK: false, Metadata: metadata, Err: runErr}, fmt.Errorf("%s node %s: %w", c.NodeType, p.NodeID, runErr)
	}

	var artifacts []string
	if c.ExpectArtifacts != nil {
		for _, rel := range c.ExpectArtifacts(p) {
			path := filepath.Join(p.TenantDir, p.AUVID, rel)
			if _, err := os.Stat(path); err != nil {
				return Result{OK: false, Metadata: metadata}, fmt.Errorf("%s node %s: %w: expected artifact %s not produced", c.NodeType, p.NodeID, errs.ErrExecutorPermanent, rel)
			}
			artifacts = append(artifacts, path)
		}
	}

	return Result{OK: true, Artifacts: artifacts, Metadata: metadata}, nil
}

// isNonRetryableExec reports whether err comes from resolving or starting
// the binary itself (missing executable, not-a-file, permission denied)
// rather than from the command's own exit status — retrying won't help
// a binary that was never found.
func isNonRetryableExec(err error) bool {
	var execErr *exec.Error
	return errors.As(err, &execErr)
}

func envSlice(env map[string]string) []string {
	if len(env) == 0 {
		return nil
	}
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

func tail(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}

var _ Executor = (*CommandExecutor)(nil)
