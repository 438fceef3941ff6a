/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package executor

import "time"

// BinaryConfig maps a node type to the external binary that implements it.
// Operators configure one path per domain executor (spec.md's browser
// driver, headless perf auditor, diff engine, static analyzers, TTS/video
// composers are out of scope as implementations — only their contracts
// matter here).
type BinaryConfig map[string]string

// domainSpecs lists the expected-artifact relative path for each
// command-backed node type named in spec.md §4.5.
var domainSpecs = map[string][]string{
	"browser-test":   {"ui/result.json"},
	"api-test":       {"api/result.json"},
	"perf-audit":     {"perf/lighthouse.json"},
	"visual-capture":  {"visual/screenshots"},
	"visual-compare":  {"visual/diff-summary.json"},
	"security.scan":   {"security/summary.json"},
	"secrets.scan":    {"security/secrets-summary.json"},
	"data.ingest":     {"data/ingested.json"},
	"data.insights":   {"data/insights.json"},
	"chart.render":    {"charts"},
	"audio.tts":       {"media/audio.mp3"},
	"video.compose":   {"media/compose-metadata.json"},
	"seo.audit":       {"reports/seo/audit.json"},
	"db.migration":    {"db/migration-result.json"},
}

// RegisterDomainExecutors builds one CommandExecutor per configured node
// type and registers it into reg. A node type with no configured binary is
// skipped (operators may run a subset of domains).
func RegisterDomainExecutors(reg *Registry, binaries BinaryConfig, timeout time.Duration) {
	for nodeType, artifacts := range domainSpecs {
		binary, ok := binaries[nodeType]
		if !ok || binary == "" {
			continue
		}
		expected := artifacts
		reg.Register(&CommandExecutor{
			NodeType: nodeType,
			Binary:   binary,
			BuildArgs: func(p Params) []string {
				return []string{"--node-id", p.NodeID, "--auv", p.AUVID, "--out", p.TenantDir}
			},
			ExpectArtifacts: func(p Params) []string { return expected },
			Timeout:         timeout,
		})
	}
}
