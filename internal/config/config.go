/*
Copyright 2026.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0
*/

// Package config provides configuration loading for the orchestration
// engine. Configuration sources, in priority order: environment variables
// override a config file, which overrides built-in defaults.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all engine configuration (spec.md §6 "Environment variables").
type Config struct {
	// StagingURL / APIBase are targets handed to test executors.
	StagingURL string `json:"staging_url,omitempty"`
	APIBase    string `json:"api_base,omitempty"`

	// NodeEnv gates the router's production-mutation safety check.
	NodeEnv string `json:"node_env,omitempty"`
	// TestMode bypasses API-key and domain-restriction gates in the router.
	TestMode bool `json:"test_mode"`
	// SafetyAllowProd overrides the production mutation gate.
	SafetyAllowProd bool `json:"safety_allow_prod"`

	// DefaultTenant is used when a request carries no explicit tenant.
	DefaultTenant string `json:"default_tenant,omitempty"`

	// BrokerURL is the queue broker endpoint (spec.md's REDIS_URL stand-in;
	// Swarm1's default broker is the SQLite-backed internal/jobqueue store,
	// so this is only consulted when an external broker is configured).
	BrokerURL string `json:"broker_url,omitempty"`

	// Engine tuning.
	EngineConcurrency int           `json:"engine_concurrency"`
	EngineNamespace   string        `json:"engine_namespace,omitempty"`
	JobTimeout        time.Duration `json:"job_timeout"`
	MaxJobRetries     int           `json:"max_job_retries"`
	BackoffDelay      time.Duration `json:"backoff_delay"`

	// Auth.
	AuthRequired bool   `json:"auth_required"`
	AuthJWTSecret string `json:"auth_jwt_secret,omitempty"`
	AuthIssuer   string `json:"auth_issuer,omitempty"`
	AuthAudience string `json:"auth_audience,omitempty"`
	AuthToken    string `json:"auth_token,omitempty"`

	// Backup.
	BackupS3Bucket      string `json:"backup_s3_bucket,omitempty"`
	BackupRetentionDays int    `json:"backup_retention_days"`

	// DataDir is the engine's working root (runs/, registry, queue store).
	DataDir string `json:"data_dir"`

	// LogLevel is one of debug|info|warn|error.
	LogLevel string `json:"log_level"`

	// Subagent gateway (spec.md §9 "subagent gateway's bounded budgets").
	ProviderKind   string `json:"provider_kind,omitempty"`
	ProviderAPIKey string `json:"provider_api_key,omitempty"`
	ProviderModel  string `json:"provider_model,omitempty"`

	SubagentMaxSteps   int     `json:"subagent_max_steps"`
	SubagentMaxSeconds int     `json:"subagent_max_seconds"`
	SubagentMaxCostUSD float64 `json:"subagent_max_cost_usd"`

	// MCPServers maps a server name to its Streamable HTTP endpoint
	// (MCP_SERVER_<NAME>_ENDPOINT), for the subagent gateway's tool
	// invoker (internal/mcp).
	MCPServers map[string]string `json:"mcp_servers,omitempty"`
}

// Default returns configuration with sensible defaults.
func Default() Config {
	return Config{
		DataDir:             "./",
		LogLevel:            "info",
		EngineConcurrency:   3,
		EngineNamespace:     "default",
		JobTimeout:          30 * time.Minute,
		MaxJobRetries:       2,
		BackoffDelay:        5 * time.Second,
		BackupRetentionDays: 30,
		SubagentMaxSteps:    10,
		SubagentMaxSeconds:  120,
		SubagentMaxCostUSD:  1.0,
	}
}

// Load reads configuration from a JSON file (if path is non-empty), then
// overlays recognized environment variables (spec.md §6).
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

// LoadFromEnv loads configuration from defaults plus environment variables
// only (no config file).
func LoadFromEnv() Config {
	cfg, _ := Load("")
	return cfg
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("STAGING_URL"); v != "" {
		cfg.StagingURL = v
	}
	if v := os.Getenv("API_BASE"); v != "" {
		cfg.APIBase = v
	}
	if v := os.Getenv("NODE_ENV"); v != "" {
		cfg.NodeEnv = v
	}
	if v := os.Getenv("TEST_MODE"); v != "" {
		cfg.TestMode = v == "true" || v == "1"
	}
	if v := os.Getenv("SAFETY_ALLOW_PROD"); v != "" {
		cfg.SafetyAllowProd = v == "true" || v == "1"
	}
	if v := os.Getenv("TENANT_ID"); v != "" {
		cfg.DefaultTenant = v
	} else if v := os.Getenv("DEFAULT_TENANT"); v != "" {
		cfg.DefaultTenant = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.BrokerURL = v
	}
	if v := os.Getenv("ENGINE_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EngineConcurrency = n
		}
	}
	if v := os.Getenv("ENGINE_NAMESPACE"); v != "" {
		cfg.EngineNamespace = v
	}
	if v := os.Getenv("JOB_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.JobTimeout = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("MAX_JOB_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxJobRetries = n
		}
	}
	if v := os.Getenv("BACKOFF_DELAY_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BackoffDelay = time.Duration(n) * time.Millisecond
		}
	}
	if v := os.Getenv("AUTH_REQUIRED"); v != "" {
		cfg.AuthRequired = v == "true" || v == "1"
	}
	if v := os.Getenv("AUTH_JWT_SECRET"); v != "" {
		cfg.AuthJWTSecret = v
	}
	if v := os.Getenv("AUTH_ISSUER"); v != "" {
		cfg.AuthIssuer = v
	}
	if v := os.Getenv("AUTH_AUDIENCE"); v != "" {
		cfg.AuthAudience = v
	}
	if v := os.Getenv("AUTH_TOKEN"); v != "" {
		cfg.AuthToken = v
	}
	if v := os.Getenv("BACKUP_S3_BUCKET"); v != "" {
		cfg.BackupS3Bucket = v
	}
	if v := os.Getenv("BACKUP_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BackupRetentionDays = n
		}
	}
	if v := os.Getenv("SWARM1_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("SWARM1_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("PROVIDER_KIND"); v != "" {
		cfg.ProviderKind = v
	}
	if v := os.Getenv("PROVIDER_API_KEY"); v != "" {
		cfg.ProviderAPIKey = v
	}
	if v := os.Getenv("PROVIDER_MODEL"); v != "" {
		cfg.ProviderModel = v
	}
	if v := os.Getenv("SUBAGENT_MAX_STEPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SubagentMaxSteps = n
		}
	}
	if v := os.Getenv("SUBAGENT_MAX_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.SubagentMaxSeconds = n
		}
	}
	if v := os.Getenv("SUBAGENT_MAX_COST_USD"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.SubagentMaxCostUSD = n
		}
	}
	for _, env := range os.Environ() {
		const prefix = "MCP_SERVER_"
		const suffix = "_ENDPOINT"
		if !strings.HasPrefix(env, prefix) {
			continue
		}
		kv := strings.SplitN(env, "=", 2)
		if len(kv) != 2 || !strings.HasSuffix(kv[0], suffix) {
			continue
		}
		name := strings.TrimSuffix(strings.TrimPrefix(kv[0], prefix), suffix)
		if name == "" || kv[1] == "" {
			continue
		}
		if cfg.MCPServers == nil {
			cfg.MCPServers = map[string]string{}
		}
		cfg.MCPServers[strings.ToLower(name)] = kv[1]
	}
}

// Save writes configuration to a file.
func (c Config) Save(path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

// IsProduction reports whether the production-mutation safety gate applies.
func (c Config) IsProduction() bool {
	return c.NodeEnv == "production"
}
