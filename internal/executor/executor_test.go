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
	"errors"
	"testing"
	"time"

	"github.com/swarm1/engine/internal/errs"
)

type fakeExecutor struct {
	typ string
}

func (f fakeExecutor) Type() string { return f.typ }
func (f fakeExecutor) Execute(ctx context.Context, p Params) (Result, error) {
	return Result{OK: true}, nil
}

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := NewRegistry()
	reg.Register(fakeExecutor{typ: "perf-audit"})

	e, ok := reg.Get("perf-audit")
	if !ok {
		t.Fatal("expected perf-audit to be registered")
	}
	if e.Type() != "perf-audit" {
		t.Errorf("Type() = %q, want perf-audit", e.Type())
	}
}

func TestRegistry_ExecuteUnknownType(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Execute(context.Background(), "nonexistent", Params{})
	if !errors.Is(err, errs.ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestRegistry_Execute(t *testing.T) {
	reg := NewRegistry()
	reg.Register(fakeExecutor{typ: "work_simulation"})
	res, err := reg.Execute(context.Background(), "work_simulation", Params{})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.OK {
		t.Error("expected OK result")
	}
}

func TestWorkSimulation_Sleeps(t *testing.T) {
	ws := WorkSimulation{}
	start := time.Now()
	res, err := ws.Execute(context.Background(), Params{Args: map[string]any{"duration_ms": float64(20)}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.OK {
		t.Error("expected OK")
	}
	if time.Since(start) < 15*time.Millisecond {
		t.Error("expected execute to actually sleep")
	}
}

func TestWorkSimulation_CancelledContext(t *testing.T) {
	ws := WorkSimulation{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := ws.Execute(ctx, Params{Args: map[string]any{"duration_ms": float64(5000)}})
	if err == nil {
		t.Fatal("expected error for cancelled context")
	}
	if res.OK {
		t.Error("expected not-OK result")
	}
}

func TestServerExecutor_BringsUpAndShutsDown(t *testing.T) {
	se := NewServerExecutor()
	res, err := se.Execute(context.Background(), Params{NodeID: "n1", Args: map[string]any{}})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !res.OK {
		t.Fatal("expected server to start")
	}
	addr, _ := res.Metadata["addr"].(string)
	if addr == "" {
		t.Error("expected addr in metadata")
	}

	if err := se.Shutdown(context.Background(), "n1"); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestServerExecutor_ShutdownUnknownNodeIsNoop(t *testing.T) {
	se := NewServerExecutor()
	if err := se.Shutdown(context.Background(), "never-started"); err != nil {
		t.Fatalf("Shutdown on unknown node should be a no-op, got %v", err)
	}
}

func TestRegisterDomainExecutors_SkipsUnconfigured(t *testing.T) {
	reg := NewRegistry()
	RegisterDomainExecutors(reg, BinaryConfig{}, time.Second)
	if len(reg.Types()) != 0 {
		t.Errorf("expected no executors registered without binaries, got %v", reg.Types())
	}
}

func TestRegisterDomainExecutors_RegistersConfigured(t *testing.T) {
	reg := NewRegistry()
	RegisterDomainExecutors(reg, BinaryConfig{"perf-audit": "/bin/true"}, time.Second)
	if _, ok := reg.Get("perf-audit"); !ok {
		t.Fatal("expected perf-audit executor to be registered")
	}
}
