/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package observability implements the append-only event log and spend
// ledger (spec.md §3 "Observability event", §6 "observability/hooks.jsonl",
// "observability/ledgers/<session>.jsonl"). It generalizes the event
// lifecycle of legator's internal/events.Bus (publish, consume, severity,
// correlation ids) from a CRD-backed, in-cluster model to a file-backed,
// single-tenant-root model: events are append-only JSON lines rather than
// mutable custom resources, since Swarm1 has no cluster to host CRDs in.
package observability

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-logr/logr"
)

// Severity mirrors legator's EventSeverity enum.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Event is one append-only record in hooks.jsonl (spec.md §3
// "Observability event"): monotonic timestamp, verb-phrase name,
// correlation ids, and a free-form payload.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Name      string         `json:"name"`
	Severity  Severity       `json:"severity,omitempty"`
	AgentID   string         `json:"agent_id,omitempty"`
	JobID     string         `json:"job_id,omitempty"`
	RunID     string         `json:"run_id,omitempty"`
	AUV       string         `json:"auv,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// SpendEntry is one append-only record in ledgers/<session>.jsonl
// (spec.md §3 "Spend ledger event").
type SpendEntry struct {
	Timestamp        time.Time `json:"timestamp"`
	SessionID        string    `json:"session_id"`
	ToolID           string    `json:"tool_id"`
	Capabilities     []string  `json:"capabilities"`
	EstimatedCostUSD float64   `json:"estimated_cost_usd"`
}

// Sink is the observability write path for one tenant root. Every write is
// an O_APPEND write of a single JSON line, serialized by a mutex so
// concurrent workers never interleave partial lines (the teacher's bus
// relied on the API server to serialize CRD writes; a flat file needs its
// own lock).
type Sink struct {
	mu       sync.Mutex
	hooksDir string
	log      logr.Logger
}

// NewSink opens (creating if necessary) the observability tree rooted at
// tenantRoot/observability.
func NewSink(tenantRoot string, log logr.Logger) (*Sink, error) {
	dir := filepath.Join(tenantRoot, "observability")
	if err := os.MkdirAll(filepath.Join(dir, "ledgers"), 0o755); err != nil {
		return nil, fmt.Errorf("create observability dir: %w", err)
	}
	return &Sink{hooksDir: dir, log: log}, nil
}

// Emit appends one event to hooks.jsonl.
func (s *Sink) Emit(e Event) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := appendJSONLine(filepath.Join(s.hooksDir, "hooks.jsonl"), e); err != nil {
		return fmt.Errorf("emit event %q: %w", e.Name, err)
	}
	s.log.V(1).Info("event emitted", "name", e.Name, "run_id", e.RunID, "job_id", e.JobID)
	return nil
}

// RecordSpend appends one entry to ledgers/<session>.jsonl.
func (s *Sink) RecordSpend(entry SpendEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now().UTC()
	}
	if entry.SessionID == "" {
		return fmt.Errorf("record spend: session id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.hooksDir, "ledgers", entry.SessionID+".jsonl")
	if err := appendJSONLine(path, entry); err != nil {
		return fmt.Errorf("record spend for session %q: %w", entry.SessionID, err)
	}
	return nil
}

func appendJSONLine(path string, v any) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	raw = append(raw, '\n')
	_, err = f.Write(raw)
	return err
}

// ReadEvents reads and decodes every event in hooks.jsonl, in order. Only
// tests call it (the CLI's status/monitor commands read the job store);
// it is not on any write-path hot loop so no streaming API is needed.
func (s *Sink) ReadEvents() ([]Event, error) {
	return readJSONLines[Event](filepath.Join(s.hooksDir, "hooks.jsonl"))
}

// ReadSpend reads and decodes every spend entry for a session.
func (s *Sink) ReadSpend(session string) ([]SpendEntry, error) {
	return readJSONLines[SpendEntry](filepath.Join(s.hooksDir, "ledgers", session+".jsonl"))
}

// TotalSpend sums EstimatedCostUSD across every recorded entry for a
// session.
func (s *Sink) TotalSpend(session string) (float64, error) {
	entries, err := s.ReadSpend(session)
	if err != nil {
		return 0, err
	}
	var total float64
	for _, e := range entries {
		total += e.EstimatedCostUSD
	}
	return total, nil
}

func readJSONLines[T any](path string) ([]T, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []T
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var v T
		if err := json.Unmarshal(line, &v); err != nil {
			return nil, fmt.Errorf("decode line: %w", err)
		}
		out = append(out, v)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
