// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in
// order. The first file found wins.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/artgrid/config.yaml",
	"/etc/artgrid/config.yml",
}

// ConfigPathEnvVar overrides the config file path when set.
const ConfigPathEnvVar = "CONFIG_PATH"

// defaultConfig returns a Config with all defaults populated. These are
// applied first, then overridden by the config file and env vars.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              4326,
			Timeout:           30 * time.Second,
			CORSOrigins:       []string{"*"},
			RateLimitReqs:     100,
			RateLimitWindow:   time.Minute,
			RateLimitDisabled: false,
		},
		Database: DatabaseConfig{
			Path:      "/data/artgrid.duckdb",
			MaxMemory: "2GB",
			Threads:   0, // 0 = use runtime.NumCPU()
		},
		SOS: SOSConfig{
			BaseURL:       "https://api.artdatabanken.se/species-observation-system/v1",
			APIVersion:    "1.5",
			Timeout:       180 * time.Second,
			MinInterval:   15 * time.Second,
			MaxRetries:    8,
			MaxSplitDepth: 12,
			Sensitive:     false,
		},
		Pipeline: PipelineConfig{
			Zooms:            []int{15},
			Alpha:            2.0,
			Beta:             0.5,
			TaxaListPath:     "/data/taxa.csv",
			InterTaxonPacing: 2 * time.Second,
			DefaultYearFrom:  2000,
		},
		Cache: CacheConfig{
			Capacity: 256,
			TTL:      5 * time.Minute,
		},
		Export: ExportConfig{
			TopSitesLimit: 200,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Caller: false,
		},
	}
}

// Load loads configuration using Koanf v2 with layered sources:
//  1. Built-in defaults
//  2. Optional YAML config file
//  3. Environment variables (highest priority)
func Load() (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	envProvider := env.Provider("", ".", envTransformFunc)
	if err := k.Load(envProvider, nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	// Env vars arrive as strings; known list fields need splitting.
	if err := processListFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile searches for a config file, env override first.
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// envMappings maps recognized environment variable names (lowercased) to
// config paths. The ARTDATABANKEN_* names are the credential variables
// the upstream documentation tells operators to set; everything else uses
// the ARTGRID_ prefix.
var envMappings = map[string]string{
	"artgrid_host":                "server.host",
	"artgrid_port":                "server.port",
	"artgrid_timeout":             "server.timeout",
	"artgrid_cors_origins":        "server.cors_origins",
	"artgrid_rate_limit_reqs":     "server.rate_limit_reqs",
	"artgrid_rate_limit_window":   "server.rate_limit_window",
	"artgrid_rate_limit_disabled": "server.rate_limit_disabled",

	"artgrid_db":         "database.path",
	"artgrid_max_memory": "database.max_memory",
	"artgrid_db_threads": "database.threads",

	"artgrid_sos_base_url":           "sos.base_url",
	"artdatabanken_x_api_version":    "sos.api_version",
	"artdatabanken_subscription_key": "sos.subscription_key",
	"artdatabanken_authorization":    "sos.authorization",
	"artgrid_sos_timeout":            "sos.timeout",
	"artgrid_sos_min_interval":       "sos.min_interval",
	"artgrid_sos_max_retries":        "sos.max_retries",
	"artgrid_sos_max_split_depth":    "sos.max_split_depth",
	"artgrid_sos_sensitive":          "sos.sensitive",

	"artgrid_zooms":              "pipeline.zooms",
	"artgrid_alpha":              "pipeline.alpha",
	"artgrid_beta":               "pipeline.beta",
	"artgrid_taxa_list":          "pipeline.taxa_list_path",
	"artgrid_inter_taxon_pacing": "pipeline.inter_taxon_pacing",
	"artgrid_year_from":          "pipeline.default_year_from",

	"artgrid_cache_capacity": "cache.capacity",
	"artgrid_cache_ttl":      "cache.ttl",

	"artgrid_top_sites_limit": "export.top_sites_limit",

	"artgrid_log_level":  "logging.level",
	"artgrid_log_format": "logging.format",
	"artgrid_log_caller": "logging.caller",
}

// envTransformFunc maps environment variable names to koanf paths.
// Unrecognized variables are dropped so unrelated environment noise
// never leaks into the configuration.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

// processListFields converts comma-separated env strings into typed
// slices for the known list-valued config paths.
func processListFields(k *koanf.Koanf) error {
	if val, ok := k.Get("server.cors_origins").(string); ok {
		k.Delete("server.cors_origins")
		if err := k.Set("server.cors_origins", splitTrimmed(val)); err != nil {
			return fmt.Errorf("failed to set server.cors_origins: %w", err)
		}
	}

	if val, ok := k.Get("pipeline.zooms").(string); ok {
		zooms := make([]int, 0, 4)
		for _, part := range splitTrimmed(val) {
			z, err := strconv.Atoi(part)
			if err != nil {
				return fmt.Errorf("invalid zoom %q in ARTGRID_ZOOMS: %w", part, err)
			}
			zooms = append(zooms, z)
		}
		k.Delete("pipeline.zooms")
		if err := k.Set("pipeline.zooms", zooms); err != nil {
			return fmt.Errorf("failed to set pipeline.zooms: %w", err)
		}
	}

	return nil
}

func splitTrimmed(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
