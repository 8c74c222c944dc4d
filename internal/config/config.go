// Package config loads the control plane's bootstrap configuration:
// layered defaults, an optional YAML file, then environment overrides,
// validated with struct tags before the rest of the process starts.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config captures every subsystem's bootstrap settings.
type Config struct {
	Server   ServerConfig   `koanf:"server" validate:"required"`
	Logging  LoggingConfig  `koanf:"logging" validate:"required"`
	SLO      SLOConfig      `koanf:"slo" validate:"required"`
	Cost     CostConfig     `koanf:"cost" validate:"required"`
	Breaker  BreakerConfig  `koanf:"breaker" validate:"required"`
	Incident IncidentConfig `koanf:"incident" validate:"required"`
	Alert    AlertConfig    `koanf:"alert" validate:"required"`
	Fleet    FleetConfig    `koanf:"fleet" validate:"required"`
	Chaos    ChaosConfig    `koanf:"chaos" validate:"required"`
	Cache    CacheConfig    `koanf:"cache"`
}

// ServerConfig controls the process's own HTTP surface: the metrics
// endpoint and the task-end telemetry endpoint, no RPC transport.
type ServerConfig struct {
	MetricsAddress  string        `koanf:"metricsAddress" validate:"required"`
	GracefulTimeout time.Duration `koanf:"gracefulTimeout" validate:"required,gt=0"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
	JSON  bool   `koanf:"json"`
}

// SLOConfig sets defaults for SLOs that don't declare their own budget.
type SLOConfig struct {
	DefaultWindow    time.Duration `koanf:"defaultWindow" validate:"required,gt=0"`
	BurnRateWarn     float64       `koanf:"burnRateWarn" validate:"gt=0"`
	BurnRateCritical float64       `koanf:"burnRateCritical" validate:"gt=0"`
}

// CostConfig sets fleet-wide cost-guard defaults; per-agent limits may
// override these at registration time.
type CostConfig struct {
	DefaultPerTaskLimit float64 `koanf:"defaultPerTaskLimit" validate:"gt=0"`
	DefaultDailyLimit   float64 `koanf:"defaultDailyLimit" validate:"gt=0"`
	OrgMonthlyBudget    float64 `koanf:"orgMonthlyBudget" validate:"gt=0"`
	ThrottleThreshold   float64 `koanf:"throttleThreshold" validate:"gt=0,lt=1"`
	KillSwitchThreshold float64 `koanf:"killSwitchThreshold" validate:"gt=0,lte=1"`
}

// BreakerConfig sets fleet-wide circuit-breaker defaults.
type BreakerConfig struct {
	FailureThreshold  int           `koanf:"failureThreshold" validate:"gt=0"`
	RecoveryTimeout   time.Duration `koanf:"recoveryTimeout" validate:"gt=0"`
	HalfOpenMaxTrials int           `koanf:"halfOpenMaxTrials" validate:"gt=0"`
	CascadeThreshold  int           `koanf:"cascadeThreshold" validate:"gt=0"`
}

// IncidentConfig configures the incident detector.
type IncidentConfig struct {
	CorrelationWindow time.Duration `koanf:"correlationWindow" validate:"gt=0"`
}

// AlertConfig configures alert dedup, batching, and optional persistence.
type AlertConfig struct {
	DedupWindow     time.Duration `koanf:"dedupWindow" validate:"gt=0"`
	BatchFlushEvery time.Duration `koanf:"batchFlushEvery" validate:"gt=0"`
	BatchMaxSize    int           `koanf:"batchMaxSize" validate:"gt=0"`
	StorePath       string        `koanf:"storePath"`
}

// FleetConfig configures fleet health classification thresholds.
type FleetConfig struct {
	HeartbeatStaleAfter time.Duration `koanf:"heartbeatStaleAfter" validate:"gt=0"`
	MinSuccessRate      float64       `koanf:"minSuccessRate" validate:"gt=0,lte=1"`
}

// ChaosConfig holds the configured maximum chaos blast radius. It is
// loaded and validated here only; chaos.New does not consult it and checks
// just that an experiment's blast radius lies in [0,1].
type ChaosConfig struct {
	MaxBlastRadius float64 `koanf:"maxBlastRadius" validate:"gt=0,lte=1"`
}

// CacheConfig controls the optional Valkey-backed cache for fleet heartbeat
// and SLI aggregate snapshots.
type CacheConfig struct {
	Enabled      bool          `koanf:"enabled"`
	Addr         string        `koanf:"addr"`
	Username     string        `koanf:"username"`
	Password     string        `koanf:"password"`
	DB           int           `koanf:"db"`
	DialTimeout  time.Duration `koanf:"dialTimeout"`
	ReadTimeout  time.Duration `koanf:"readTimeout"`
	WriteTimeout time.Duration `koanf:"writeTimeout"`
	MaxRetries   int           `koanf:"maxRetries"`
	TLS          bool          `koanf:"tls"`
}

var envPrefix = "AGENT_SRE_"

// Load builds a Config from layered defaults, an optional YAML file at
// path (or $AGENT_SRE_CONFIG if path is empty), then environment
// overrides of the form AGENT_SRE_SERVER_METRICSADDRESS, and validates
// the result.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(envPrefix + "CONFIG")
	}

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKeyMap), nil); err != nil {
		return nil, fmt.Errorf("load config env overrides: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

// envKeyMap turns AGENT_SRE_SERVER_METRICSADDRESS into
// "server.metricsaddress", matching koanf's lowercase, dot-delimited key
// convention.
func envKeyMap(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.ReplaceAll(s, "_", ".")
}

func defaults() map[string]any {
	return map[string]any{
		"server.metricsaddress":       ":9090",
		"server.gracefultimeout":      "10s",
		"logging.level":               "info",
		"logging.json":                false,
		"slo.defaultwindow":           "720h",
		"slo.burnratewarn":            2.0,
		"slo.burnratecritical":        10.0,
		"cost.defaultpertasklimit":    5.0,
		"cost.defaultdailylimit":      500.0,
		"cost.orgmonthlybudget":       50000.0,
		"cost.throttlethreshold":      0.85,
		"cost.killswitchthreshold":    0.95,
		"breaker.failurethreshold":    5,
		"breaker.recoverytimeout":     "30s",
		"breaker.halfopenmaxtrials":   1,
		"breaker.cascadethreshold":    3,
		"incident.correlationwindow": "300s",
		"alert.dedupwindow":           "300s",
		"alert.batchflushevery":       "60s",
		"alert.batchmaxsize":          20,
		"alert.storepath":             "",
		"fleet.heartbeatstaleafter":   "90s",
		"fleet.minsuccessrate":        0.90,
		"chaos.maxblastradius":        0.25,
		"cache.enabled":               false,
		"cache.dialtimeout":           "2s",
		"cache.readtimeout":           "500ms",
		"cache.writetimeout":          "500ms",
		"cache.maxretries":            2,
	}
}
