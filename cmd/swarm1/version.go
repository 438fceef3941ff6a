/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"
)

// buildVersion is overridden at link time via -ldflags, mirroring the
// teacher's cmd/legator version stamping.
var buildVersion = "dev"

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("swarm1 %s (%s/%s, %s)\n", buildVersion, runtime.GOOS, runtime.GOARCH, runtime.Version())
		return nil
	},
}
