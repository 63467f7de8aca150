// Package config loads ledgerline configuration.
//
// Precedence, lowest first: built-in defaults, an optional YAML file,
// LEDGERLINE_* environment variables. The result is validated before use.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/roach88/ledgerline/internal/policy"
	"github.com/roach88/ledgerline/internal/store"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "LEDGERLINE_"

// Config is the full process configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store"`
	HTTP      HTTPConfig      `yaml:"http"`
	Log       LogConfig       `yaml:"log"`
	Rules     RulesConfig     `yaml:"rules"`
	VV        VVConfig        `yaml:"vv"`
	Policy    PolicyConfig    `yaml:"policy"`
	Ledger    LedgerConfig    `yaml:"ledger"`
	Redis     RedisConfig     `yaml:"redis"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type StoreConfig struct {
	// Driver is one of "sqlite", "sqlite-purego", "postgres" or "memory".
	Driver string `yaml:"driver"`
	// DSN is a file path for SQLite drivers and a connection string for postgres.
	DSN string `yaml:"dsn"`
}

type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	RateLimit       float64       `yaml:"rate_limit"`
	RateBurst       int           `yaml:"rate_burst"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type RulesConfig struct {
	// Path to a CUE rule table; empty uses the built-in table.
	Path string `yaml:"path"`
	// Require is an optional semver constraint the table version must satisfy.
	Require string `yaml:"require"`
}

type VVConfig struct {
	WindowDays int `yaml:"window_days"`
	MinSamples int `yaml:"min_samples"`
}

type PolicyConfig struct {
	Thresholds policy.Thresholds `yaml:"thresholds"`
}

type LedgerConfig struct {
	MaxAppendAttempts int `yaml:"max_append_attempts"`
	PageSize          int `yaml:"page_size"`
}

type RedisConfig struct {
	// Addr enables the VV cache when set.
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Store drivers.
const (
	DriverSQLite       = "sqlite"
	DriverSQLitePureGo = "sqlite-purego"
	DriverPostgres     = "postgres"
	DriverMemory       = "memory"
)

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{Driver: DriverSQLite, DSN: "ledgerline.db"},
		HTTP: HTTPConfig{
			Addr:            "127.0.0.1:8080",
			RateLimit:       50,
			RateBurst:       100,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Log:    LogConfig{Level: "info", Format: "text"},
		VV:     VVConfig{WindowDays: 7, MinSamples: 10},
		Policy: PolicyConfig{Thresholds: policy.DefaultThresholds()},
		Ledger: LedgerConfig{MaxAppendAttempts: 32, PageSize: 500},
		Redis:  RedisConfig{TTL: time.Minute},
	}
}

// Load reads path (if not empty), applies environment overrides from
// lookup (os.LookupEnv when nil) and validates the result.
func Load(path string, lookup func(string) (string, bool)) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, err
		}
	}
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := applyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	return nil
}

// Validate checks value ranges and enumerations.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Driver {
	case DriverSQLite, DriverSQLitePureGo, DriverPostgres:
		if c.Store.DSN == "" {
			errs = append(errs, fmt.Errorf("store.dsn is required for driver %s", c.Store.Driver))
		}
	case DriverMemory:
	default:
		errs = append(errs, fmt.Errorf("store.driver %q is not supported", c.Store.Driver))
	}
	if c.HTTP.RateLimit < 0 || c.HTTP.RateBurst < 0 {
		errs = append(errs, errors.New("http.rate_limit and http.rate_burst must be non-negative"))
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q is not one of text, json", c.Log.Format))
	}
	if c.VV.WindowDays <= 0 || c.VV.MinSamples <= 0 {
		errs = append(errs, errors.New("vv.window_days and vv.min_samples must be positive"))
	}
	th := c.Policy.Thresholds
	for name, v := range map[string]float64{
		"candidate_confidence": th.CandidateConfidence,
		"promoted_confidence":  th.PromotedConfidence,
	} {
		if v < 0 || v > 1 {
			errs = append(errs, fmt.Errorf("policy.thresholds.%s must be within [0, 1]", name))
		}
	}
	if th.CandidateObservations < 0 || th.PromotedObservations < 0 {
		errs = append(errs, errors.New("policy observation thresholds must be non-negative"))
	}
	if c.Ledger.MaxAppendAttempts <= 0 || c.Ledger.PageSize <= 0 {
		errs = append(errs, errors.New("ledger.max_append_attempts and ledger.page_size must be positive"))
	}
	if c.Redis.Addr != "" && c.Redis.TTL <= 0 {
		errs = append(errs, errors.New("redis.ttl must be positive when redis.addr is set"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// StoreDriver maps the configured SQLite flavour to its database/sql driver name.
func (c StoreConfig) StoreDriver() string {
	if c.Driver == DriverSQLitePureGo {
		return store.DriverModernc
	}
	return store.DriverMattn
}

// applyEnv overrides cfg from LEDGERLINE_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	strs := map[string]*string{
		"STORE_DRIVER":   &cfg.Store.Driver,
		"STORE_DSN":      &cfg.Store.DSN,
		"HTTP_ADDR":      &cfg.HTTP.Addr,
		"LOG_LEVEL":      &cfg.Log.Level,
		"LOG_FORMAT":     &cfg.Log.Format,
		"RULES_PATH":     &cfg.Rules.Path,
		"RULES_REQUIRE":  &cfg.Rules.Require,
		"REDIS_ADDR":     &cfg.Redis.Addr,
		"REDIS_PASSWORD": &cfg.Redis.Password,
	}
	ints := map[string]*int{
		"HTTP_RATE_BURST":               &cfg.HTTP.RateBurst,
		"VV_WINDOW_DAYS":                &cfg.VV.WindowDays,
		"VV_MIN_SAMPLES":                &cfg.VV.MinSamples,
		"POLICY_CANDIDATE_OBSERVATIONS": &cfg.Policy.Thresholds.CandidateObservations,
		"POLICY_PROMOTED_OBSERVATIONS":  &cfg.Policy.Thresholds.PromotedObservations,
		"LEDGER_MAX_APPEND_ATTEMPTS":    &cfg.Ledger.MaxAppendAttempts,
		"LEDGER_PAGE_SIZE":              &cfg.Ledger.PageSize,
		"REDIS_DB":                      &cfg.Redis.DB,
	}
	floats := map[string]*float64{
		"HTTP_RATE_LIMIT":             &cfg.HTTP.RateLimit,
		"POLICY_CANDIDATE_CONFIDENCE": &cfg.Policy.Thresholds.CandidateConfidence,
		"POLICY_PROMOTED_CONFIDENCE":  &cfg.Policy.Thresholds.PromotedConfidence,
	}
	bools := map[string]*bool{
		"POLICY_REQUIRE_EVALUATED": &cfg.Policy.Thresholds.RequireEvaluated,
		"TELEMETRY_ENABLED":        &cfg.Telemetry.Enabled,
	}
	durations := map[string]*time.Duration{
		"REDIS_TTL":             &cfg.Redis.TTL,
		"HTTP_READ_TIMEOUT":     &cfg.HTTP.ReadTimeout,
		"HTTP_WRITE_TIMEOUT":    &cfg.HTTP.WriteTimeout,
		"HTTP_SHUTDOWN_TIMEOUT": &cfg.HTTP.ShutdownTimeout,
	}

	var errs []error
	for key, dst := range strs {
		if v, ok := lookup(EnvPrefix + key); ok {
			*dst = v
		}
	}
	for key, dst := range ints {
		if v, ok := lookup(EnvPrefix + key); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				continue
			}
			*dst = n
		}
	}
	for key, dst := range floats {
		if v, ok := lookup(EnvPrefix + key); ok {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				continue
			}
			*dst = f
		}
	}
	for key, dst := range bools {
		if v, ok := lookup(EnvPrefix + key); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				continue
			}
			*dst = b
		}
	}
	for key, dst := range durations {
		if v, ok := lookup(EnvPrefix + key); ok {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, key, err))
				continue
			}
			*dst = d
		}
	}
	return errors.Join(errs...)
}
