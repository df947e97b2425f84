package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"binsync/internal/models"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("BINSYNC_API_KEY", "secret")

	yamlContent := `
storage:
  driver: memory
remote:
  base_url: "https://api.example.com"
  api_key: "${BINSYNC_API_KEY}"
sync:
  auto_sync: true
  interval: 5m
cache:
  resources:
    - name: bins
      path: /api/v1/bins
      ttl: 30m
    - name: routes
      path: /api/v1/routes
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Remote.APIKey != "secret" {
		t.Errorf("expected api key from env, got %q", cfg.Remote.APIKey)
	}
	if cfg.Sync.Interval != 5*time.Minute {
		t.Errorf("expected sync interval 5m, got %s", cfg.Sync.Interval)
	}
	if len(cfg.Cache.Resources) != 2 || cfg.Cache.Resources[0].TTL != 30*time.Minute {
		t.Errorf("unexpected cache resources: %+v", cfg.Cache.Resources)
	}
	if cfg.Connectivity.ProbeURL != "https://api.example.com/health" {
		t.Errorf("expected derived probe url, got %s", cfg.Connectivity.ProbeURL)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		cfg := Config{
			Storage: StorageConfig{Driver: "sqlite", Path: "x.db"},
			Remote:  RemoteConfig{BaseURL: "http://remote"},
		}
		cfg.applyDefaults()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "unknown driver", mutate: func(c *Config) { c.Storage.Driver = "bolt" }, wantErr: true},
		{name: "redis without address", mutate: func(c *Config) { c.Storage.Driver = "redis" }, wantErr: true},
		{name: "missing base url", mutate: func(c *Config) { c.Remote.BaseURL = "" }, wantErr: true},
		{name: "zero attempts", mutate: func(c *Config) { c.Retry.MaxAttempts = 0 }, wantErr: true},
		{name: "auth without keys", mutate: func(c *Config) { c.API.Auth.Enabled = true }, wantErr: true},
		{
			name: "duplicate resource",
			mutate: func(c *Config) {
				c.Cache.Resources = []CacheResource{{Name: "bins"}, {Name: "bins"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Storage.Driver != "sqlite" || cfg.Storage.Path == "" {
		t.Errorf("expected sqlite default storage, got %+v", cfg.Storage)
	}
	if cfg.Cache.DefaultTTL != models.DefaultCacheTTL {
		t.Errorf("expected default ttl %s, got %s", models.DefaultCacheTTL, cfg.Cache.DefaultTTL)
	}
	if cfg.Retry.MaxAttempts != models.DefaultRetryAttempts {
		t.Errorf("expected default attempts %d, got %d", models.DefaultRetryAttempts, cfg.Retry.MaxAttempts)
	}
	if cfg.API.GRPC.Port != 8081 {
		t.Errorf("expected default gRPC port 8081, got %d", cfg.API.GRPC.Port)
	}
}

func TestValidateResources(t *testing.T) {
	tests := []struct {
		name      string
		resources []CacheResource
		wantErr   bool
	}{
		{name: "Valid", resources: []CacheResource{{Name: "bins"}, {Name: "routes", TTL: time.Minute}}},
		{name: "Empty name", resources: []CacheResource{{Path: "/x"}}, wantErr: true},
		{name: "Slash in name", resources: []CacheResource{{Name: "a/b"}}, wantErr: true},
		{name: "Negative ttl", resources: []CacheResource{{Name: "bins", TTL: -time.Second}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateResources(tt.resources)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateResources() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCacheTTLs(t *testing.T) {
	cfg := CacheConfig{Resources: []CacheResource{{Name: "bins", TTL: time.Minute}, {Name: "routes"}}}
	ttls := cfg.TTLs()
	if ttls["bins"] != time.Minute {
		t.Errorf("expected bins ttl 1m, got %s", ttls["bins"])
	}
	if _, ok := ttls["routes"]; ok {
		t.Errorf("expected no override for routes")
	}
}
