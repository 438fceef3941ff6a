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
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/swarm1/engine/internal/graphrun"
	"github.com/swarm1/engine/internal/registry"
)

var flagDoctorGraph string

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Validate registry, policy bundle, and an optional graph without submitting a job",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runDoctor(cmd)
	},
}

func init() {
	doctorCmd.Flags().StringVar(&flagDoctorGraph, "graph", "", "also validate this graph spec")
}

// runDoctor performs the load-time checks spec.md §4.1 requires before any
// job is accepted: registry/policy cross-reference, and (if given) graph
// DAG validation. It never mutates state.
func runDoctor(cmd *cobra.Command) error {
	problems := 0

	regPath := filepath.Join(cfg.engine.DataDir, "registry.yaml")
	polPath := filepath.Join(cfg.engine.DataDir, "policies.yaml")
	reg, warnings, err := registry.Load(regPath, polPath)
	if err != nil {
		fmt.Printf("registry: FAIL: %v\n", err)
		problems++
	} else {
		fmt.Printf("registry: OK (%d tools, %d orphaned)\n", len(reg.Tools), len(reg.OrphanTools))
		for _, w := range warnings {
			fmt.Printf("registry: warning: %s\n", w)
		}
	}

	if flagDoctorGraph != "" {
		spec, err := graphrun.LoadSpec(flagDoctorGraph)
		if err != nil {
			fmt.Printf("graph %s: FAIL: %v\n", flagDoctorGraph, err)
			problems++
		} else if err := graphrun.Validate(spec); err != nil {
			fmt.Printf("graph %s: FAIL: %v\n", flagDoctorGraph, err)
			problems++
		} else {
			fmt.Printf("graph %s: OK (%d nodes)\n", flagDoctorGraph, len(spec.Nodes))
		}
	}

	if problems > 0 {
		return failCode("doctor", 1, fmt.Errorf("%d check(s) failed", problems))
	}
	fmt.Println("doctor: all checks passed")
	return nil
}
