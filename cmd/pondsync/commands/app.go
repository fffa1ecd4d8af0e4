package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/rs/zerolog"

	"github.com/farmops/pondsync/pkg/config"
	"github.com/farmops/pondsync/pkg/farmapi"
	"github.com/farmops/pondsync/pkg/policy"
	"github.com/farmops/pondsync/pkg/ponds"
	"github.com/farmops/pondsync/pkg/stores"
	"github.com/farmops/pondsync/pkg/telemetry"
)

const telemetryShutdownTimeout = 5 * time.Second

// app holds everything a command needs to talk to the FarmBot account.
type app struct {
	cfg      *config.Config
	loader   *config.Loader
	tel      *telemetry.Telemetry
	logger   zerolog.Logger
	client   *farmapi.Client
	store    *stores.SQLiteStore
	policies *policy.Engine
	manager  *ponds.Manager
	sweeper  *ponds.Sweeper
}

func loadConfig() (*config.Config, *config.Loader, error) {
	loader, err := config.NewLoader()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := loader.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if verbose {
		cfg.Telemetry.Logging.Level = "debug"
	}
	if cfg.Telemetry.ServiceVersion == "" || cfg.Telemetry.ServiceVersion == "dev" {
		cfg.Telemetry.ServiceVersion = buildVersion
	}
	return cfg, loader, nil
}

// newApp loads the configuration, applies flag overrides and wires the
// client, journal, policies, manager and sweeper. Callers must Close the
// result.
func newApp(ctx context.Context, overrides ...func(*config.Config)) (a *app, err error) {
	cfg, loader, err := loadConfig()
	if err != nil {
		return nil, err
	}
	for _, override := range overrides {
		override(cfg)
	}

	tel, err := telemetry.NewTelemetry(&cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	a = &app{
		cfg:    cfg,
		loader: loader,
		tel:    tel,
		logger: tel.Logger.Zerolog(),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.client, err = farmapi.NewClient(farmapi.Config{
		BaseURL: cfg.FarmBot.URL,
		Credentials: farmapi.Credentials{
			Email:    cfg.FarmBot.Email,
			Password: cfg.FarmBot.Password,
		},
		Timeout: cfg.FarmBot.Timeout,
		Logger:  tel.Logger.NewComponentLogger("farmapi"),
		Metrics: tel.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create FarmBot client: %w", err)
	}

	mcfg, err := cfg.ManagerConfig()
	if err != nil {
		return nil, err
	}
	opts := []ponds.Option{
		ponds.WithLogger(a.logger),
		ponds.WithMetrics(tel.Metrics),
	}

	var journal ponds.Journal
	if cfg.Journal.Enabled {
		a.store, err = stores.Open(ctx, cfg.StoreConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		journal = a.store
		opts = append(opts, ponds.WithJournal(a.store))
	}

	if cfg.Policy.Enabled {
		a.policies, err = newPolicyEngine(ctx, cfg, a.logger)
		if err != nil {
			return nil, err
		}
		opts = append(opts, ponds.WithAdmission(a.policies))
	}

	a.manager = ponds.NewManager(a.client, mcfg, opts...)
	a.sweeper = ponds.NewSweeper(a.client, ponds.SweepConfig{
		Naming:   mcfg.Naming,
		Interval: cfg.Sweep.Interval,
		FailFast: cfg.Sweep.FailFast,
		Journal:  journal,
		Logger:   a.logger,
		Metrics:  tel.Metrics,
	})

	return a, nil
}

// newPolicyEngine builds the admission engine described by cfg.Policy.
func newPolicyEngine(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*policy.Engine, error) {
	engine, err := policy.NewEngine(logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create policy engine: %w", err)
	}
	if !cfg.Policy.TemplateProtection {
		if err := engine.DisablePolicy(policy.TemplateProtection); err != nil {
			return nil, err
		}
	}
	if err := engine.SetBounds(ctx, bedBounds(cfg)); err != nil {
		return nil, err
	}
	if len(cfg.Policy.Paths) > 0 {
		if err := engine.LoadPolicies(ctx, cfg.Policy.Paths); err != nil {
			return nil, err
		}
	}
	return engine, nil
}

func bedBounds(cfg *config.Config) *policy.Bounds {
	b := cfg.Policy.BedBounds
	if !b.Enabled {
		return nil
	}
	return &policy.Bounds{MinX: b.MinX, MaxX: b.MaxX, MinY: b.MinY, MaxY: b.MaxY}
}

// reload applies the settings that can change without a restart.
func (a *app) reload(ctx context.Context, cfg *config.Config) {
	a.sweeper.SetInterval(cfg.Sweep.Interval)
	a.tel.Logger.SetLevel(cfg.Telemetry.Logging.Level)

	if a.policies != nil {
		if err := a.policies.SetBounds(ctx, bedBounds(cfg)); err != nil {
			a.logger.Warn().Err(err).Msg("Keeping previous bed bounds")
		}
	}

	a.logger.Info().
		Dur("sweep_interval", a.sweeper.Interval()).
		Str("log_level", cfg.Telemetry.Logging.Level).
		Msg("Configuration reloaded")
}

// Close releases the journal and flushes telemetry.
func (a *app) Close() error {
	var result *multierror.Error
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close journal: %w", err))
		}
	}
	if a.tel != nil {
		ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer cancel()
		if err := a.tel.Shutdown(ctx); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to flush telemetry: %w", err))
		}
	}
	return result.ErrorOrNil()
}
