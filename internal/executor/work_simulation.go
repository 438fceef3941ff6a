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
	"time"
)

// WorkSimulation sleeps for duration_ms, honoring context cancellation.
// Used for scheduling correctness tests (spec.md §4.5 "work_simulation").
type WorkSimulation struct{}

func (WorkSimulation) Type() string { return "work_simulation" }

func (WorkSimulation) Execute(ctx context.Context, p Params) (Result, error) {
	ms, _ := p.Args["duration_ms"].(float64)
	if ms <= 0 {
		if i, ok := p.Args["duration_ms"].(int); ok {
			ms = float64(i)
		}
	}
	d := time.Duration(ms) * time.Millisecond

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return Result{OK: false, Err: ctx.Err()}, ctx.Err()
	case <-timer.C:
		return Result{OK: true, Metadata: map[string]any{"slept_ms": ms}}, nil
	}
}

var _ Executor = WorkSimulation{}
