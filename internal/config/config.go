package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the remediation engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Collector CollectorConfig `yaml:"collector"`
	Scorer    ScorerConfig    `yaml:"scorer"`
	Rules     RulesConfig     `yaml:"rules"`
	Gate      GateConfig      `yaml:"gate"`
	Executor  ExecutorConfig  `yaml:"executor"`
	Store     StoreConfig     `yaml:"store"`
	Cache     CacheConfig     `yaml:"cache"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig controls listener behaviour for the probe and API servers.
type ServerConfig struct {
	GRPCAddress     string        `yaml:"grpcAddress"`
	HTTPAddress     string        `yaml:"httpAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
	DrainTimeout    time.Duration `yaml:"drainTimeout"`
}

// CollectorConfig controls how metric snapshots reach the engine.
type CollectorConfig struct {
	Mode         string        `yaml:"mode"`
	Interval     time.Duration `yaml:"interval"`
	BaseURL      string        `yaml:"baseURL"`
	SnapshotPath string        `yaml:"snapshotPath"`
	Timeout      time.Duration `yaml:"timeout"`
	PushBuffer   int           `yaml:"pushBuffer"`
}

// ScorerConfig configures the anomaly scoring model and its failure policy.
type ScorerConfig struct {
	Mode           string        `yaml:"mode"`
	URL            string        `yaml:"url"`
	Timeout        time.Duration `yaml:"timeout"`
	HealthWindow   int           `yaml:"healthWindow"`
	MaxErrorRate   float64       `yaml:"maxErrorRate"`
	BaselineWindow int           `yaml:"baselineWindow"`
	MinBaseline    int           `yaml:"minBaseline"`
}

// RulesConfig controls rule-pack loading and hot reload.
type RulesConfig struct {
	Path  string `yaml:"path"`
	Watch bool   `yaml:"watch"`
}

// GateConfig bounds what the safety gate lets through.
type GateConfig struct {
	GlobalMaxConcurrent int `yaml:"globalMaxConcurrent"`
}

// ExecutorConfig configures dispatch to the action collaborator.
type ExecutorConfig struct {
	BaseURL      string        `yaml:"baseURL"`
	DispatchPath string        `yaml:"dispatchPath"`
	StatusPath   string        `yaml:"statusPath"`
	APIKey       string        `yaml:"apiKey"`
	Timeout      time.Duration `yaml:"timeout"`
	BackoffBase  time.Duration `yaml:"backoffBase"`
	BackoffCap   time.Duration `yaml:"backoffCap"`
}

// StoreConfig controls the durable audit and execution store.
type StoreConfig struct {
	Path      string        `yaml:"path"`
	Retention time.Duration `yaml:"retention"`
}

// CacheConfig controls in-memory caching of scorer results.
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	TTL       time.Duration `yaml:"ttl"`
	MaxSizeMB int           `yaml:"maxSizeMB"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Collector modes.
const (
	CollectorModeLocal  = "local"
	CollectorModeRemote = "remote"
	CollectorModePush   = "push"
)

// Scorer modes.
const (
	ScorerModeBuiltin = "builtin"
	ScorerModeRemote  = "remote"
)

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_REMEDIATE_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			GRPCAddress:     ":50052",
			HTTPAddress:     ":8085",
			GracefulTimeout: 10 * time.Second,
			DrainTimeout:    30 * time.Second,
		},
		Collector: CollectorConfig{
			Mode:         CollectorModeLocal,
			Interval:     15 * time.Second,
			SnapshotPath: "/api/v1/snapshot",
			Timeout:      5 * time.Second,
			PushBuffer:   16,
		},
		Scorer: ScorerConfig{
			Mode:           ScorerModeBuiltin,
			Timeout:        2 * time.Second,
			HealthWindow:   20,
			MaxErrorRate:   0.5,
			BaselineWindow: 120,
			MinBaseline:    12,
		},
		Rules: RulesConfig{Path: "configs/rules/default.yaml"},
		Gate:  GateConfig{GlobalMaxConcurrent: 3},
		Executor: ExecutorConfig{
			DispatchPath: "/api/v1/actions",
			StatusPath:   "/api/v1/actions/status",
			Timeout:      30 * time.Second,
			BackoffBase:  500 * time.Millisecond,
			BackoffCap:   8 * time.Second,
		},
		Store: StoreConfig{Path: "data/remediate.db"},
		Cache: CacheConfig{
			Enabled:   true,
			TTL:       2 * time.Minute,
			MaxSizeMB: 64,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_REMEDIATE_GRPC_ADDRESS"); v != "" {
		cfg.Server.GRPCAddress = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_DRAIN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.DrainTimeout = d
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_COLLECTOR_MODE"); v != "" {
		cfg.Collector.Mode = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_COLLECTOR_URL"); v != "" {
		cfg.Collector.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_COLLECTOR_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Collector.Interval = d
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_SCORER_MODE"); v != "" {
		cfg.Scorer.Mode = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_SCORER_URL"); v != "" {
		cfg.Scorer.URL = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_SCORER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Scorer.Timeout = d
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_RULES_WATCH"); v != "" {
		cfg.Rules.Watch = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_GATE_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Gate.GlobalMaxConcurrent = n
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_EXECUTOR_URL"); v != "" {
		cfg.Executor.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_EXECUTOR_API_KEY"); v != "" {
		cfg.Executor.APIKey = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_EXECUTOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Executor.Timeout = d
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_STORE_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Store.Retention = d
		}
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = strings.EqualFold(v, "true") || strings.EqualFold(v, "1")
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_REMEDIATE_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
}

// Validate reports every configuration problem at once so operators can fix
// a bad file in a single pass.
func (c *Config) Validate() error {
	var errs []error

	switch c.Collector.Mode {
	case CollectorModeLocal, CollectorModePush:
	case CollectorModeRemote:
		if c.Collector.BaseURL == "" {
			errs = append(errs, fmt.Errorf("collector.baseURL is required in remote mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("collector.mode %q is not one of local, remote, push", c.Collector.Mode))
	}
	if c.Collector.Interval <= 0 {
		errs = append(errs, fmt.Errorf("collector.interval must be positive"))
	}
	if c.Collector.PushBuffer < 1 {
		errs = append(errs, fmt.Errorf("collector.pushBuffer must be at least 1"))
	}

	switch c.Scorer.Mode {
	case ScorerModeBuiltin:
	case ScorerModeRemote:
		if c.Scorer.URL == "" {
			errs = append(errs, fmt.Errorf("scorer.url is required in remote mode"))
		}
	default:
		errs = append(errs, fmt.Errorf("scorer.mode %q is not one of builtin, remote", c.Scorer.Mode))
	}
	if c.Scorer.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("scorer.timeout must be positive"))
	}
	if c.Scorer.HealthWindow < 1 {
		errs = append(errs, fmt.Errorf("scorer.healthWindow must be at least 1"))
	}
	if c.Scorer.MaxErrorRate <= 0 || c.Scorer.MaxErrorRate > 1 {
		errs = append(errs, fmt.Errorf("scorer.maxErrorRate must be in (0, 1]"))
	}
	if c.Scorer.MinBaseline < 2 {
		errs = append(errs, fmt.Errorf("scorer.minBaseline must be at least 2"))
	}
	if c.Scorer.BaselineWindow < c.Scorer.MinBaseline {
		errs = append(errs, fmt.Errorf("scorer.baselineWindow must be >= scorer.minBaseline"))
	}

	if c.Rules.Path == "" {
		errs = append(errs, fmt.Errorf("rules.path is required"))
	}
	if c.Gate.GlobalMaxConcurrent < 1 {
		errs = append(errs, fmt.Errorf("gate.globalMaxConcurrent must be at least 1"))
	}

	if c.Executor.BaseURL == "" {
		errs = append(errs, fmt.Errorf("executor.baseURL is required"))
	}
	if c.Executor.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("executor.timeout must be positive"))
	}
	if c.Executor.BackoffBase <= 0 {
		errs = append(errs, fmt.Errorf("executor.backoffBase must be positive"))
	}
	if c.Executor.BackoffCap < c.Executor.BackoffBase {
		errs = append(errs, fmt.Errorf("executor.backoffCap must be >= executor.backoffBase"))
	}

	if c.Store.Path == "" {
		errs = append(errs, fmt.Errorf("store.path is required"))
	}
	if c.Store.Retention < 0 {
		errs = append(errs, fmt.Errorf("store.retention must not be negative"))
	}

	if c.Cache.Enabled {
		if c.Cache.TTL <= 0 {
			errs = append(errs, fmt.Errorf("cache.ttl must be positive when cache is enabled"))
		}
		if c.Cache.MaxSizeMB < 1 {
			errs = append(errs, fmt.Errorf("cache.maxSizeMB must be at least 1 when cache is enabled"))
		}
	}

	if c.Server.GracefulTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.gracefulTimeout must be positive"))
	}
	if c.Server.DrainTimeout <= 0 {
		errs = append(errs, fmt.Errorf("server.drainTimeout must be positive"))
	}

	return errors.Join(errs...)
}
