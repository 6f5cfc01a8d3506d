// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 4326 {
		t.Errorf("Server.Port = %d, want 4326", cfg.Server.Port)
	}
	if cfg.Server.Timeout != 30*time.Second {
		t.Errorf("Server.Timeout = %v, want 30s", cfg.Server.Timeout)
	}
	if len(cfg.Pipeline.Zooms) != 1 || cfg.Pipeline.Zooms[0] != 15 {
		t.Errorf("Pipeline.Zooms = %v, want [15]", cfg.Pipeline.Zooms)
	}
	if cfg.Pipeline.Alpha != 2.0 || cfg.Pipeline.Beta != 0.5 {
		t.Errorf("Alpha/Beta = %v/%v, want 2.0/0.5", cfg.Pipeline.Alpha, cfg.Pipeline.Beta)
	}
	if cfg.SOS.MaxSplitDepth != 12 {
		t.Errorf("SOS.MaxSplitDepth = %d, want 12", cfg.SOS.MaxSplitDepth)
	}
	if cfg.Cache.Capacity != 256 {
		t.Errorf("Cache.Capacity = %d, want 256", cfg.Cache.Capacity)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("ARTGRID_PORT", "8080")
	t.Setenv("ARTGRID_DB", "/tmp/test.duckdb")
	t.Setenv("ARTGRID_ZOOMS", "15, 14,13")
	t.Setenv("ARTGRID_CORS_ORIGINS", "https://a.example, https://b.example")
	t.Setenv("ARTGRID_SOS_MIN_INTERVAL", "1s")
	t.Setenv("ARTDATABANKEN_SUBSCRIPTION_KEY", "sekrit")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.Database.Path != "/tmp/test.duckdb" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	wantZooms := []int{15, 14, 13}
	if len(cfg.Pipeline.Zooms) != len(wantZooms) {
		t.Fatalf("Pipeline.Zooms = %v, want %v", cfg.Pipeline.Zooms, wantZooms)
	}
	for i, z := range wantZooms {
		if cfg.Pipeline.Zooms[i] != z {
			t.Errorf("Pipeline.Zooms[%d] = %d, want %d", i, cfg.Pipeline.Zooms[i], z)
		}
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("Server.CORSOrigins = %v", cfg.Server.CORSOrigins)
	}
	if cfg.SOS.MinInterval != time.Second {
		t.Errorf("SOS.MinInterval = %v, want 1s", cfg.SOS.MinInterval)
	}
	if cfg.SOS.SubscriptionKey != "sekrit" {
		t.Errorf("SOS.SubscriptionKey = %q", cfg.SOS.SubscriptionKey)
	}
}

func TestLoadConfigFileAndEnvPrecedence(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := []byte("server:\n  port: 9000\npipeline:\n  alpha: 3.0\n")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	t.Setenv("ARTGRID_PORT", "9001")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	// Env beats file; file beats defaults.
	if cfg.Server.Port != 9001 {
		t.Errorf("Server.Port = %d, want 9001", cfg.Server.Port)
	}
	if cfg.Pipeline.Alpha != 3.0 {
		t.Errorf("Pipeline.Alpha = %v, want 3.0", cfg.Pipeline.Alpha)
	}
}

func TestLoadInvalidZoomEnv(t *testing.T) {
	t.Setenv("ARTGRID_ZOOMS", "15,abc")

	if _, err := Load(); err == nil {
		t.Fatal("Load() succeeded with malformed ARTGRID_ZOOMS")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"port zero", func(c *Config) { c.Server.Port = 0 }},
		{"empty db path", func(c *Config) { c.Database.Path = "" }},
		{"empty base url", func(c *Config) { c.SOS.BaseURL = "" }},
		{"negative retries", func(c *Config) { c.SOS.MaxRetries = -1 }},
		{"no zooms", func(c *Config) { c.Pipeline.Zooms = nil }},
		{"zoom out of range", func(c *Config) { c.Pipeline.Zooms = []int{21} }},
		{"alpha zero", func(c *Config) { c.Pipeline.Alpha = 0 }},
		{"negative beta", func(c *Config) { c.Pipeline.Beta = -0.1 }},
		{"top sites limit zero", func(c *Config) { c.Export.TopSitesLimit = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := defaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("Validate() accepted invalid config")
			}
		})
	}

	if err := defaultConfig().Validate(); err != nil {
		t.Errorf("Validate() rejected defaults: %v", err)
	}
}

func TestBaseZoom(t *testing.T) {
	t.Parallel()

	p := PipelineConfig{Zooms: []int{13, 15, 14}}
	if got := p.BaseZoom(); got != 15 {
		t.Errorf("BaseZoom() = %d, want 15", got)
	}
	p = PipelineConfig{Zooms: []int{15}}
	if got := p.BaseZoom(); got != 15 {
		t.Errorf("BaseZoom() = %d, want 15", got)
	}
}
