package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/org/sessionguard/pkg/models"
)

type storageConfig struct {
	Driver        string `yaml:"driver"` // memory or postgres
	DBUrl         string `yaml:"db_url"`
	MigrationsDir string `yaml:"migrations_dir"`
}

type gasEstimateConfig struct {
	Default   uint64            `yaml:"default"`
	Overrides map[string]uint64 `yaml:"overrides"`
}

type config struct {
	ListenAddr   string                           `yaml:"listen_addr"`
	TLSCertFile  string                           `yaml:"tls_cert"`
	TLSKeyFile   string                           `yaml:"tls_key"`
	LogLevel     string                           `yaml:"log_level"`
	LogFormat    string                           `yaml:"log_format"`
	Storage      storageConfig                    `yaml:"storage"`
	RedisURL     string                           `yaml:"redis_url"`
	Window       time.Duration                    `yaml:"window"`
	RateLimit    float64                          `yaml:"rate_limit"`
	RateBurst    int                              `yaml:"rate_burst"`
	APIKeyHashes []string                         `yaml:"api_key_hashes"`
	GasEstimate  gasEstimateConfig                `yaml:"gas_estimate"`
	Projects     map[string]models.GasPolicyInput `yaml:"projects"`
}

func defaultConfig() config {
	return config{
		ListenAddr: ":8300",
		LogLevel:   "info",
		LogFormat:  "console",
		Storage: storageConfig{
			Driver:        "memory",
			MigrationsDir: "migrations",
		},
		Window:    24 * time.Hour,
		RateLimit: 100,
		RateBurst: 200,
		GasEstimate: gasEstimateConfig{
			Default: 21000,
		},
	}
}

// loadConfig reads path over the defaults and then applies env overrides.
// A missing file is not an error; found reports whether it existed.
func loadConfig(path string, getenv func(string) string) (cfg config, found bool, err error) {
	cfg = defaultConfig()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		found = true
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, found, fmt.Errorf("parsing %s: %w", path, err)
		}
	case !errors.Is(err, fs.ErrNotExist):
		return cfg, false, fmt.Errorf("reading %s: %w", path, err)
	}

	if v := getenv("SESSIONGUARD_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := getenv("DATABASE_URL"); v != "" {
		cfg.Storage.DBUrl = v
		if cfg.Storage.Driver == "memory" {
			cfg.Storage.Driver = "postgres"
		}
	}
	if v := getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}
	if v := getenv("SESSIONGUARD_API_KEY_HASHES"); v != "" {
		cfg.APIKeyHashes = strings.Split(v, ",")
	}
	return cfg, found, cfg.validate()
}

func (c config) validate() error {
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DBUrl == "" {
			return errors.New("storage.db_url must be configured (or DATABASE_URL env var) for the postgres driver")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Window <= 0 {
		return errors.New("window must be positive")
	}
	if c.LogFormat != "console" && c.LogFormat != "json" {
		return fmt.Errorf("unknown log_format %q", c.LogFormat)
	}
	return nil
}
