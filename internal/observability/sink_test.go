/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package observability

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/go-logr/logr"
)

func TestSink_EmitAndReadEvents(t *testing.T) {
	root := t.TempDir()
	sink, err := NewSink(root, logr.Discard())
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	if err := sink.Emit(Event{Name: "run.started", RunID: "RUN-2026-07-29-ab12"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if err := sink.Emit(Event{Name: "node.completed", RunID: "RUN-2026-07-29-ab12", Payload: map[string]any{"node": "n1"}}); err != nil {
		t.Fatalf("Emit: %v", err)
	}

	events, err := sink.ReadEvents()
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Name != "run.started" || events[1].Name != "node.completed" {
		t.Errorf("unexpected event order: %+v", events)
	}

	if _, err := filepath.Abs(filepath.Join(root, "observability", "hooks.jsonl")); err != nil {
		t.Fatalf("path: %v", err)
	}
}

func TestSink_RecordSpendAndTotal(t *testing.T) {
	root := t.TempDir()
	sink, err := NewSink(root, logr.Discard())
	if err != nil {
		t.Fatalf("NewSink: %v", err)
	}

	entries := []SpendEntry{
		{SessionID: "sess-1", ToolID: "vercel", Capabilities: []string{"deploy.preview"}, EstimatedCostUSD: 0.10},
		{SessionID: "sess-1", ToolID: "playwright", Capabilities: []string{"screenshot"}, EstimatedCostUSD: 0},
	}
	for _, e := range entries {
		if err := sink.RecordSpend(e); err != nil {
			t.Fatalf("RecordSpend: %v", err)
		}
	}

	total, err := sink.TotalSpend("sess-1")
	if err != nil {
		t.Fatalf("TotalSpend: %v", err)
	}
	if total != 0.10 {
		t.Errorf("TotalSpend = %v, want 0.10", total)
	}

	got, err := sink.ReadSpend("sess-1")
	if err != nil {
		t.Fatalf("ReadSpend: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len(entries) = %d, want 2", len(got))
	}
}

func TestSink_RecordSpendRequiresSessionID(t *testing.T) {
	root := t.TempDir()
	sink, _ := NewSink(root, logr.Discard())
	if err := sink.RecordSpend(SpendEntry{ToolID: "vercel"}); err == nil {
		t.Fatal("expected error for missing session id")
	}
}

func TestSink_ReadEventsEmptyWhenAbsent(t *testing.T) {
	root := t.TempDir()
	sink, _ := NewSink(root, logr.Discard())
	events, err := sink.ReadEvents()
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %+v", events)
	}
}

func TestSink_ConcurrentEmit(t *testing.T) {
	root := t.TempDir()
	sink, _ := NewSink(root, logr.Discard())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = sink.Emit(Event{Name: "node.completed", RunID: "concurrent-run"})
		}(i)
	}
	wg.Wait()

	events, err := sink.ReadEvents()
	if err != nil {
		t.Fatalf("ReadEvents: %v", err)
	}
	if len(events) != 50 {
		t.Errorf("len(events) = %d, want 50", len(events))
	}
}
