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
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

// ServerExecutor brings up a test HTTP server bound to the "server"
// resource tag (spec.md §4.5 "server"). Teardown is the responsibility of
// a terminal cleanup node or the runner on finalize — ServerExecutor only
// tracks the listener so a later call to Shutdown (invoked by that
// cleanup node) can find it.
type ServerExecutor struct {
	mu      sync.Mutex
	servers map[string]*http.Server
}

// NewServerExecutor constructs a ServerExecutor with no servers running.
func NewServerExecutor() *ServerExecutor {
	return &ServerExecutor{servers: make(map[string]*http.Server)}
}

func (*ServerExecutor) Type() string { return "server" }

func (e *ServerExecutor) Execute(ctx context.Context, p Params) (Result, error) {
	addr, _ := p.Args["addr"].(string)
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	readyTimeout := 10 * time.Second
	if v, ok := p.Args["ready_timeout_ms"].(float64); ok && v > 0 {
		readyTimeout = time.Duration(v) * time.Millisecond
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return Result{OK: false, Err: err}, fmt.Errorf("server node %s: listen: %w", p.NodeID, err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Handler: mux}

	readyCh := make(chan error, 1)
	go func() {
		readyCh <- srv.Serve(ln)
	}()

	if !waitReady(ctx, ln.Addr().String(), readyTimeout) {
		_ = srv.Close()
		return Result{OK: false}, fmt.Errorf("server node %s: not ready within %s", p.NodeID, readyTimeout)
	}

	e.mu.Lock()
	e.servers[p.NodeID] = srv
	e.mu.Unlock()

	return Result{
		OK:       true,
		Metadata: map[string]any{"addr": ln.Addr().String()},
	}, nil
}

// Shutdown stops a server started for the given node id, if one exists.
func (e *ServerExecutor) Shutdown(ctx context.Context, nodeID string) error {
	e.mu.Lock()
	srv, ok := e.servers[nodeID]
	if ok {
		delete(e.servers, nodeID)
	}
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return srv.Shutdown(ctx)
}

func waitReady(ctx context.Context, addr string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			conn.Close()
			return true
		}
		time.Sleep(50 * time.Millisecond)
	}
	return false
}

var _ Executor = (*ServerExecutor)(nil)
