package config

import (
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Engine.BlockSize != 1<<20 {
		t.Errorf("expected 1MiB block size, got %d", cfg.Engine.BlockSize)
	}
	if cfg.Verify.MaxRewipes != 1 {
		t.Errorf("expected one automatic re-wipe, got %d", cfg.Verify.MaxRewipes)
	}
	if cfg.Inventory.IncludeSystem {
		t.Error("system volume must be excluded by default")
	}
	if cfg.Server.RequestIDHeader != "X-Sayonara-Request-ID" {
		t.Errorf("expected X-Sayonara-Request-ID, got %q", cfg.Server.RequestIDHeader)
	}
	if cfg.Server.MaxBodyBytes != 16<<10 {
		t.Errorf("expected a 16KiB body limit, got %d", cfg.Server.MaxBodyBytes)
	}
	if cfg.Database.URL != "" {
		t.Errorf("expected file journal by default, got DATABASE_URL=%q", cfg.Database.URL)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("ENGINE_BLOCK_SIZE", "65536")
	t.Setenv("VERIFY_MAX_SAMPLES", "64")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Engine.BlockSize != 65536 {
		t.Errorf("expected 65536, got %d", cfg.Engine.BlockSize)
	}
	if cfg.Verify.MaxSamples != 64 {
		t.Errorf("expected 64, got %d", cfg.Verify.MaxSamples)
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		c := &Config{}
		c.Engine.BlockSize = 4096
		c.Verify.SampleSize = 512
		c.Verify.MinSamples = 1
		c.Verify.MaxSamples = 8
		c.Worker.PoolSize = 1
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero block size", func(c *Config) { c.Engine.BlockSize = 0 }, true},
		{"unaligned block size", func(c *Config) { c.Engine.BlockSize = 1000 }, true},
		{"max below min samples", func(c *Config) { c.Verify.MaxSamples = 0 }, true},
		{"negative rewipes", func(c *Config) { c.Verify.MaxRewipes = -1 }, true},
		{"empty pool", func(c *Config) { c.Worker.PoolSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := base()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
