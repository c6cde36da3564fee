// Package config loads the engine's process-wide configuration: a YAML file
// overlaid with .env values, the same two-step pipeline the teacher scanner
// uses (Load -> applyEnvOverrides -> setDefaults).
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the complete engine configuration.
type Config struct {
	Engine  EngineConfig  `yaml:"engine"`
	Market  MarketConfig  `yaml:"market"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

// EngineConfig controls sandbox limits and the default commission rate
// applied by the matcher.
type EngineConfig struct {
	StorageRoot       string  `yaml:"storage_root"`        // process-wide root path, read once at Load
	SandboxMemoryMiB  int     `yaml:"sandbox_memory_mib"`  // per-sandbox memory cap
	SandboxFuel       int64   `yaml:"sandbox_fuel"`        // per-invocation execution fuel budget
	CommissionRate    float64 `yaml:"commission_rate"`     // matcher commission rate, may be zero
	HostCallTimeoutMs int     `yaml:"host_call_timeout_ms"`
}

// MarketConfig holds the upstream market-data provider endpoints plus history
// rate-limit and rolling-buffer settings. Load fills defaults for all of
// them, but the market registry does not read the rate-limit or
// rolling-buffer fields: it uses fixed values of its own.
type MarketConfig struct {
	ProviderWSURL      string  `yaml:"provider_ws_url"`
	ProviderHTTPURL    string  `yaml:"provider_http_url"`
	HistoryRatePerSec  float64 `yaml:"history_rate_per_sec"`
	HistoryBurst       int     `yaml:"history_burst"`
	RollingBufferSize  int     `yaml:"rolling_buffer_size"`
}

// StorageConfig controls where the OLTP (strategy/ledger) and OLAP
// (historical candle) stores persist their data.
type StorageConfig struct {
	OLTPDSN  string `yaml:"oltp_dsn"`  // sqlite DSN, or ":memory:"
	OLAPPath string `yaml:"olap_path"` // duckdb database file path
}

// LogConfig controls logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// loaded guards against a second Load call in the same process:
// configuration is read once at startup, and Load itself rejects late
// re-configuration.
var loaded bool

// Load reads the YAML config at path, overlays any present .env values, and
// fills defaults for anything left unset. A second call to Load within the
// same process returns an error: the storage root is process-wide global
// state and must not change after components have been constructed from it.
func Load(path string) (*Config, error) {
	if loaded {
		return nil, fmt.Errorf("config.Load: already loaded once in this process")
	}

	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	loaded = true
	return &cfg, nil
}

// HostCallTimeout returns the per-host-call timeout as a time.Duration.
func (c *Config) HostCallTimeout() time.Duration {
	return time.Duration(c.Engine.HostCallTimeoutMs) * time.Millisecond
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("KESTREL_STORAGE_ROOT"); v != "" {
		cfg.Engine.StorageRoot = v
	}
	if v := os.Getenv("KESTREL_OLTP_DSN"); v != "" {
		cfg.Storage.OLTPDSN = v
	}
	if v := os.Getenv("KESTREL_OLAP_PATH"); v != "" {
		cfg.Storage.OLAPPath = v
	}
}

func setDefaults(cfg *Config) {
	if cfg.Engine.StorageRoot == "" {
		cfg.Engine.StorageRoot = "./data"
	}
	if cfg.Engine.SandboxMemoryMiB <= 0 {
		cfg.Engine.SandboxMemoryMiB = 32
	}
	if cfg.Engine.SandboxFuel <= 0 {
		cfg.Engine.SandboxFuel = 10_000_000
	}
	if cfg.Engine.HostCallTimeoutMs <= 0 {
		cfg.Engine.HostCallTimeoutMs = 5000
	}
	if cfg.Market.HistoryRatePerSec <= 0 {
		cfg.Market.HistoryRatePerSec = 5
	}
	if cfg.Market.HistoryBurst <= 0 {
		cfg.Market.HistoryBurst = 5
	}
	if cfg.Market.RollingBufferSize <= 0 {
		cfg.Market.RollingBufferSize = 500
	}
	if cfg.Storage.OLTPDSN == "" {
		cfg.Storage.OLTPDSN = "kestrel.db"
	}
	if cfg.Storage.OLAPPath == "" {
		cfg.Storage.OLAPPath = "kestrel_candles.duckdb"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
