/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

package main

import (
	"regexp"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/swarm1/engine/internal/config"
)

var (
	flagConfigFile string
	flagDataDir    string
	flagTenant     string

	cfg Config
	log logr.Logger
)

// Config holds the loaded, env-overlaid engine settings. The shared
// structured logger is not part of it; it is the package-level log
// variable.
type Config struct {
	engine config.Config
}

var rootCmd = &cobra.Command{
	Use:   "swarm1",
	Short: "Swarm1 durable orchestration engine",
	Long: `swarm1 runs the durable orchestration engine: graph runner, job
queue, capability router, and evidence gate described in the Swarm1
system design.

  swarm1 <AUV-ID>                run a single AUV end-to-end
  swarm1 run-graph <graph>       execute a graph spec directly
  swarm1 engine start            start a queue worker
  swarm1 engine enqueue <graph>  submit a job
  swarm1 engine backup runs      archive a tenant's artifacts`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Args:          cobra.ArbitraryArgs,
	// A bare "<AUV-ID>" invocation (spec.md §6) is handled here rather
	// than as a registered subcommand, since the AUV id namespace is
	// operator-defined and cannot be enumerated at command-tree
	// construction time.
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(args) == 1 && auvIDPattern.MatchString(args[0]) {
			return runAUVShortcut(cmd, args[0])
		}
		return cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, err := config.Load(flagConfigFile)
		if err != nil {
			return failf("swarm1", err)
		}
		if flagDataDir != "" {
			loaded.DataDir = flagDataDir
		}
		if flagTenant != "" {
			loaded.DefaultTenant = flagTenant
		}
		cfg = Config{engine: loaded}
		log = newLogger(loaded.LogLevel)
		return nil
	},
}

var auvIDPattern = regexp.MustCompile(`^AUV-[0-9]{3,}$`)

// Execute runs the root command and returns its error for main to turn
// into a one-line message and typed exit code.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFile, "config", "", "path to a JSON config file")
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "engine working root (overrides config)")
	rootCmd.PersistentFlags().StringVar(&flagTenant, "tenant", "", "tenant id (overrides TENANT_ID/DEFAULT_TENANT)")

	rootCmd.AddCommand(runGraphCmd)
	rootCmd.AddCommand(engineCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(doctorCmd)
}

func newLogger(level string) logr.Logger {
	var zcfg zap.Config
	switch level {
	case "debug":
		zcfg = zap.NewDevelopmentConfig()
	default:
		zcfg = zap.NewProductionConfig()
	}
	zl, err := zcfg.Build()
	if err != nil {
		zl = zap.NewNop()
	}
	return zapr.NewLogger(zl)
}
