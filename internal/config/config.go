// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

// Package config provides layered configuration loading for Artgrid.
//
// Configuration is loaded via Koanf v2 with clear precedence
// (highest wins): environment variables > YAML config file > built-in
// defaults. All options live in one Config struct populated once at
// startup; packages never read the environment themselves.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Artgrid server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	SOS      SOSConfig      `koanf:"sos"`
	Pipeline PipelineConfig `koanf:"pipeline"`
	Cache    CacheConfig    `koanf:"cache"`
	Export   ExportConfig   `koanf:"export"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
//
// The default port 4326 references EPSG:4326 (WGS84), the coordinate
// system of every latitude and longitude this service handles.
type ServerConfig struct {
	Host              string        `koanf:"host"`
	Port              int           `koanf:"port"`
	Timeout           time.Duration `koanf:"timeout"`
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// DatabaseConfig holds DuckDB settings. Threads 0 means runtime.NumCPU().
type DatabaseConfig struct {
	Path      string `koanf:"path"`
	MaxMemory string `koanf:"max_memory"`
	Threads   int    `koanf:"threads"`
}

// SOSConfig holds settings for the Species Observation System upstream.
type SOSConfig struct {
	BaseURL         string        `koanf:"base_url"`
	APIVersion      string        `koanf:"api_version"`
	SubscriptionKey string        `koanf:"subscription_key"`
	Authorization   string        `koanf:"authorization"`
	Timeout         time.Duration `koanf:"timeout"`
	MinInterval     time.Duration `koanf:"min_interval"`
	MaxRetries      int           `koanf:"max_retries"`
	MaxSplitDepth   int           `koanf:"max_split_depth"`
	Sensitive       bool          `koanf:"sensitive"`
}

// PipelineConfig holds ingest pipeline defaults. Request bodies may
// override zooms, alpha and beta per build.
type PipelineConfig struct {
	Zooms            []int         `koanf:"zooms"`
	Alpha            float64       `koanf:"alpha"`
	Beta             float64       `koanf:"beta"`
	TaxaListPath     string        `koanf:"taxa_list_path"`
	InterTaxonPacing time.Duration `koanf:"inter_taxon_pacing"`
	DefaultYearFrom  int           `koanf:"default_year_from"`
}

// CacheConfig holds the hotmap response cache settings.
type CacheConfig struct {
	Capacity int           `koanf:"capacity"`
	TTL      time.Duration `koanf:"ttl"`
}

// ExportConfig holds export writer settings.
type ExportConfig struct {
	TopSitesLimit int `koanf:"top_sites_limit"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks the configuration for values that would make the
// server misbehave at runtime rather than fail fast at startup.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range 1..65535", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.SOS.BaseURL == "" {
		return fmt.Errorf("sos.base_url must not be empty")
	}
	if c.SOS.MaxRetries < 0 {
		return fmt.Errorf("sos.max_retries must not be negative")
	}
	if c.SOS.MaxSplitDepth < 0 {
		return fmt.Errorf("sos.max_split_depth must not be negative")
	}
	if len(c.Pipeline.Zooms) == 0 {
		return fmt.Errorf("pipeline.zooms must list at least one zoom level")
	}
	for _, z := range c.Pipeline.Zooms {
		if z < 0 || z > 20 {
			return fmt.Errorf("pipeline.zooms entry %d out of range 0..20", z)
		}
	}
	if c.Pipeline.Alpha <= 0 {
		return fmt.Errorf("pipeline.alpha must be positive")
	}
	if c.Pipeline.Beta < 0 {
		return fmt.Errorf("pipeline.beta must not be negative")
	}
	if c.Cache.Capacity < 0 {
		return fmt.Errorf("cache.capacity must not be negative")
	}
	if c.Export.TopSitesLimit < 1 {
		return fmt.Errorf("export.top_sites_limit must be at least 1")
	}
	return nil
}

// BaseZoom returns the finest configured zoom, the level ingested from
// the upstream before coarser zooms are derived locally.
func (p PipelineConfig) BaseZoom() int {
	base := p.Zooms[0]
	for _, z := range p.Zooms[1:] {
		if z > base {
			base = z
		}
	}
	return base
}
