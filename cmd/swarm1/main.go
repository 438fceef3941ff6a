/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// The `swarm1` CLI is the orchestration engine's command surface (spec.md
// §6): run a single AUV, run a graph spec directly, or operate the
// durable job queue (start a worker, enqueue jobs, inspect and administer
// the queue, emit a dashboard status snapshot, back up a tenant's
// artifacts). Command-tree shape grounded on the cobra idiom used
// elsewhere in the example pack (agentops's cmd/ao/root.go); the teacher
// itself hand-rolls its CLIs without a framework, so this is adopted from
// the wider pack rather than the teacher.
package main

import "os"

func main() {
	os.Exit(run())
}

func run() int {
	if err := Execute(); err != nil {
		return exitCodeFor(err)
	}
	return 0
}
