package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"binsync/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App          AppConfig          `yaml:"app"`
	Logging      LoggingConfig      `yaml:"logging"`
	Storage      StorageConfig      `yaml:"storage"`
	Redis        RedisConfig        `yaml:"redis"`
	Remote       RemoteConfig       `yaml:"remote"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Retry        RetryConfig        `yaml:"retry"`
	Sync         SyncConfig         `yaml:"sync"`
	Cache        CacheConfig        `yaml:"cache"`
	API          APIConfig          `yaml:"api"`
	Monitoring   MonitoringConfig   `yaml:"monitoring"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
}

// StorageConfig selects the durable key-value backend.
type StorageConfig struct {
	Driver string `yaml:"driver"` // sqlite, redis, memory
	Path   string `yaml:"path"`
	// FailoverToMemory keeps the engine usable when the primary store errors.
	FailoverToMemory bool          `yaml:"failover_to_memory"`
	RecoveryInterval time.Duration `yaml:"recovery_interval"`
	Backup           BackupConfig  `yaml:"backup"`
}

// BackupConfig schedules snapshots of the sqlite store.
type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	Dir           string        `yaml:"dir"`
	RetentionDays int           `yaml:"retention_days"`
}

type RedisConfig struct {
	Address   string `yaml:"address"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	PoolSize  int    `yaml:"pool_size"`
	KeyPrefix string `yaml:"key_prefix"`
}

type RemoteConfig struct {
	BaseURL   string          `yaml:"base_url"`
	APIKey    string          `yaml:"api_key"`
	Timeout   time.Duration   `yaml:"timeout"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ConnectivityConfig struct {
	ProbeURL     string        `yaml:"probe_url"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

type RetryConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	Timeout     time.Duration `yaml:"timeout"`
}

type SyncConfig struct {
	AutoSync        bool          `yaml:"auto_sync"`
	Interval        time.Duration `yaml:"interval"`
	DeliveryTimeout time.Duration `yaml:"delivery_timeout"`
}

type CacheConfig struct {
	DefaultTTL time.Duration   `yaml:"default_ttl"`
	Resources  []CacheResource `yaml:"resources"`
}

// CacheResource binds a logical resource name to a remote path and TTL.
type CacheResource struct {
	Name string        `yaml:"name"`
	Path string        `yaml:"path"`
	TTL  time.Duration `yaml:"ttl"`
}

type APIConfig struct {
	Enabled   bool            `yaml:"enabled"`
	Auth      APIAuthConfig   `yaml:"auth"`
	HTTP      APIHTTPConfig   `yaml:"http"`
	GRPC      APIGRPCConfig   `yaml:"grpc"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
}

// APIAuthConfig protects the local API with static keys.
type APIAuthConfig struct {
	Enabled      bool     `yaml:"enabled"`
	HeaderAPIKey string   `yaml:"header_api_key"`
	APIKeys      []string `yaml:"api_keys"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool `yaml:"enabled"`
	Port       int  `yaml:"port"`
	Reflection bool `yaml:"reflection"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

func Load(configPath string) (*Config, error) {
	// .env опционален
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// Предварительная замена переменных окружения в YAML
	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Storage.Driver {
	case "sqlite":
		if c.Storage.Path == "" {
			return errors.New("storage path is required for sqlite driver")
		}
	case "redis":
		if c.Redis.Address == "" {
			return errors.New("redis address is required for redis driver")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown storage driver: %q", c.Storage.Driver)
	}

	if c.Remote.BaseURL == "" {
		return errors.New("remote base_url is required")
	}
	if c.Retry.MaxAttempts < 1 {
		return errors.New("retry max_attempts must be >= 1")
	}

	if c.API.Auth.Enabled && len(c.API.Auth.APIKeys) == 0 {
		return errors.New("api auth enabled but no api_keys configured")
	}

	return ValidateResources(c.Cache.Resources)
}

func ValidateResources(resources []CacheResource) error {
	names := make(map[string]bool)
	for _, r := range resources {
		if strings.TrimSpace(r.Name) == "" {
			return fmt.Errorf("cache resource with path '%s' has empty name", r.Path)
		}
		if strings.Contains(r.Name, "/") {
			return fmt.Errorf("cache resource name %q must not contain '/'", r.Name)
		}
		if names[r.Name] {
			return fmt.Errorf("duplicate cache resource: %s", r.Name)
		}
		if r.TTL < 0 {
			return fmt.Errorf("cache resource %s has negative ttl", r.Name)
		}
		names[r.Name] = true
	}
	return nil
}

// TTLs returns the per-resource TTL overrides.
func (c CacheConfig) TTLs() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.Resources))
	for _, r := range c.Resources {
		if r.TTL > 0 {
			out[r.Name] = r.TTL
		}
	}
	return out
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "binsync"
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = "sqlite"
	}
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		c.Storage.Path = "data/binsync.db"
	}
	if c.Storage.Backup.Interval == 0 {
		c.Storage.Backup.Interval = 24 * time.Hour
	}
	if c.Storage.Backup.Dir == "" {
		c.Storage.Backup.Dir = "data/backups"
	}
	if c.Storage.RecoveryInterval == 0 {
		c.Storage.RecoveryInterval = time.Minute
	}
	if c.Redis.KeyPrefix == "" {
		c.Redis.KeyPrefix = "binsync:"
	}
	if c.Remote.Timeout == 0 {
		c.Remote.Timeout = models.DefaultOperationTimeout
	}
	if c.Connectivity.ProbeTimeout == 0 {
		c.Connectivity.ProbeTimeout = 3 * time.Second
	}
	if c.Connectivity.PollInterval == 0 {
		c.Connectivity.PollInterval = models.DefaultProbeInterval
	}
	if c.Connectivity.ProbeURL == "" && c.Remote.BaseURL != "" {
		c.Connectivity.ProbeURL = strings.TrimRight(c.Remote.BaseURL, "/") + "/health"
	}

	if c.Retry.MaxAttempts == 0 {
		c.Retry.MaxAttempts = models.DefaultRetryAttempts
	}
	if c.Retry.BaseDelay == 0 {
		c.Retry.BaseDelay = models.DefaultRetryBaseDelay
	}
	if c.Retry.Timeout == 0 {
		c.Retry.Timeout = models.DefaultOperationTimeout
	}
	if c.Sync.DeliveryTimeout == 0 {
		c.Sync.DeliveryTimeout = models.DefaultDeliveryTimeout
	}
	if c.Cache.DefaultTTL == 0 {
		c.Cache.DefaultTTL = models.DefaultCacheTTL
	}

	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
}
