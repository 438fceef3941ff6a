/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package main

import (
	"os"
	"strings"
)

// envBinaryPath resolves the operator-configured binary for a command-
// backed executor node type via BINARY_<TYPE> (dots and dashes become
// underscores, uppercased), e.g. "perf-audit" -> BINARY_PERF_AUDIT.
func envBinaryPath(nodeType string) string {
	key := "BINARY_" + strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(nodeType))
	return os.Getenv(key)
}
