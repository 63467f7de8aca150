package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/roach88/ledgerline/internal/classify"
	"github.com/roach88/ledgerline/internal/config"
	"github.com/roach88/ledgerline/internal/contract"
	"github.com/roach88/ledgerline/internal/engine"
	"github.com/roach88/ledgerline/internal/ledger"
	"github.com/roach88/ledgerline/internal/lifecycle"
	"github.com/roach88/ledgerline/internal/policy"
	"github.com/roach88/ledgerline/internal/store"
	"github.com/roach88/ledgerline/internal/telemetry"
	"github.com/roach88/ledgerline/internal/vv"
)

// app is the explicitly wired set of components a command works with.
type app struct {
	cfg      config.Config
	log      *slog.Logger
	store    store.Store
	rules    *classify.Table
	ledger   *ledger.Ledger
	policies *policy.Engine
	machine  *lifecycle.Machine
	engine   *engine.Engine
	vv       *vv.Aggregator

	cache    *vv.RedisCache
	provider *sdkmetric.MeterProvider
	reader   *sdkmetric.ManualReader
}

// loadConfig reads the config file and environment, then applies flag overrides.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.ConfigPath, nil)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	if opts.Database != "" {
		cfg.Store.DSN = opts.Database
		if cfg.Store.Driver == config.DriverMemory {
			cfg.Store.Driver = config.DriverSQLite
		}
	}
	if opts.Verbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, hopts))
	}
	return slog.New(slog.NewTextHandler(w, hopts))
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.NewMemory(), nil
	case config.DriverPostgres:
		pg, err := store.OpenPostgres(ctx, cfg.DSN)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		lite, err := store.OpenWithDriver(cfg.StoreDriver(), cfg.DSN)
		if err != nil {
			return nil, err
		}
		return lite, nil
	}
}

func loadRules(cfg config.RulesConfig) (*classify.Table, error) {
	rules := classify.Default()
	if cfg.Path != "" {
		var err error
		if rules, err = classify.LoadFile(cfg.Path); err != nil {
			return nil, err
		}
	}
	if cfg.Require != "" {
		ok, err := rules.Satisfies(cfg.Require)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("rule table version %s does not satisfy %s", rules.Version(), cfg.Require)
		}
	}
	return rules, nil
}

// openApp builds every component from configuration and restores the
// policy and contract views from the ledger. Callers must Close it.
func openApp(ctx context.Context, opts *RootOptions, logOut io.Writer) (*app, error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg.Log, logOut)

	rules, err := loadRules(cfg.Rules)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to load rules", err)
	}

	a := &app{cfg: cfg, log: logger, rules: rules}

	var metrics *telemetry.Metrics
	if cfg.Telemetry.Enabled {
		a.provider, a.reader = telemetry.NewManualReaderProvider()
		if metrics, err = telemetry.New(a.provider); err != nil {
			return nil, WrapExitError(ExitCommandError, "failed to create metrics", err)
		}
	}

	if a.store, err = openStore(ctx, cfg.Store); err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	a.ledger = ledger.New(a.store, ledger.Options{
		MaxAppendAttempts: cfg.Ledger.MaxAppendAttempts,
		PageSize:          cfg.Ledger.PageSize,
		Logger:            logger.With("component", "ledger"),
		Metrics:           metrics,
	})

	th := cfg.Policy.Thresholds
	a.policies, err = policy.New(a.ledger, policy.Options{
		Thresholds: &th,
		Rules:      rules,
		Logger:     logger.With("component", "policy"),
		Metrics:    metrics,
	})
	if err != nil {
		a.Close()
		return nil, WrapExitError(ExitCommandError, "failed to create policy engine", err)
	}

	a.machine = lifecycle.New(contract.NewIndex(), a.ledger, lifecycle.Options{
		Rules:   rules,
		Logger:  logger.With("component", "lifecycle"),
		Metrics: metrics,
	})
	a.engine = engine.New(rules, a.ledger, a.policies, a.machine, logger.With("component", "engine"))

	vvOpts := vv.Options{
		MinSamples: cfg.VV.MinSamples,
		CacheTTL:   cfg.Redis.TTL,
		Logger:     logger.With("component", "vv"),
	}
	if cfg.Redis.Addr != "" {
		a.cache = vv.NewRedisCache(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := a.cache.Ping(ctx); err != nil {
			logger.Warn("vv cache unreachable, continuing without it", "addr", cfg.Redis.Addr, "error", err)
		}
		vvOpts.Cache = a.cache
	}
	a.vv = vv.New(a.ledger, rules, vvOpts)

	if err := a.engine.Restore(ctx); err != nil {
		a.Close()
		return nil, operationError("failed to restore state from ledger", err)
	}
	logger.Debug("state restored",
		"policies", len(a.policies.List()),
		"contracts", a.machine.Index().Len(),
		"rules_version", rules.Version(),
	)
	return a, nil
}

// metricSums collects the process's counters, or nil when telemetry is off.
func (a *app) metricSums(ctx context.Context) map[string]int64 {
	if a.reader == nil {
		return nil
	}
	var rm metricdata.ResourceMetrics
	if err := a.reader.Collect(ctx, &rm); err != nil {
		a.log.Warn("metrics collection failed", "error", err)
		return nil
	}
	return telemetry.Sums(rm)
}

func (a *app) Close() {
	if a.cache != nil {
		_ = a.cache.Close()
	}
	if a.provider != nil {
		_ = a.provider.Shutdown(context.Background())
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close failed", "error", err)
		}
	}
}
