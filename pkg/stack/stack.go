// Package stack assembles the attention services (storage driver, entity
// registry, ledger and budget selector) from a resolved configuration.
package stack

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/papercomputeco/attend/pkg/budget"
	"github.com/papercomputeco/attend/pkg/clock"
	"github.com/papercomputeco/attend/pkg/config"
	"github.com/papercomputeco/attend/pkg/dotdir"
	"github.com/papercomputeco/attend/pkg/eventstream"
	"github.com/papercomputeco/attend/pkg/eventstream/kafka"
	"github.com/papercomputeco/attend/pkg/eventstream/nop"
	"github.com/papercomputeco/attend/pkg/ledger"
	"github.com/papercomputeco/attend/pkg/registry"
	"github.com/papercomputeco/attend/pkg/storage"
	"github.com/papercomputeco/attend/pkg/storage/inmemory"
	"github.com/papercomputeco/attend/pkg/storage/postgres"
	"github.com/papercomputeco/attend/pkg/storage/sqlite"
)

// Stack holds the wired services. Close releases the storage driver.
type Stack struct {
	Config   *config.Config
	Driver   storage.Driver
	Registry *registry.Registry
	Ledger   *ledger.Ledger
	Selector *budget.Selector
}

// Options tune Open.
type Options struct {
	// ConfigDir overrides .attend/ resolution for the default SQLite path.
	ConfigDir string

	// Clock defaults to clock.Real().
	Clock clock.Clock

	Logger *zap.Logger
}

// Open validates cfg and wires every service on top of the configured
// storage driver.
func Open(ctx context.Context, cfg *config.Config, opts Options) (*Stack, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	driver, err := NewStorageDriver(ctx, cfg.Storage, opts.ConfigDir, opts.Logger)
	if err != nil {
		return nil, err
	}

	s, err := wire(ctx, cfg, driver, opts)
	if err != nil {
		driver.Close()
		return nil, err
	}
	return s, nil
}

func wire(ctx context.Context, cfg *config.Config, driver storage.Driver, opts Options) (*Stack, error) {
	reg, err := registry.New(ctx, registry.Config{
		Store:  driver,
		Caps:   cfg.Ledger.CategoryCaps(),
		Groups: budget.CategoryGroups(cfg.Budget.Groups),
		Clock:  opts.Clock,
		Logger: opts.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("loading registry: %w", err)
	}

	threshold, err := cfg.Ledger.DecayThresholdDuration()
	if err != nil {
		return nil, err
	}
	cadence, err := cfg.Ledger.DecayCadenceDuration()
	if err != nil {
		return nil, err
	}

	led, err := ledger.New(ledger.Config{
		Store:                   driver,
		Entities:                reg,
		PropagationFactor:       cfg.Ledger.PropagationFactor,
		GlobalPropagationFactor: cfg.Ledger.GlobalPropagationFactor,
		SpilloverFactor:         cfg.Ledger.SpilloverFactor,
		WarmThreshold:           cfg.Ledger.WarmThreshold,
		MaxHops:                 cfg.Ledger.MaxHops,
		DecayThreshold:          threshold,
		DecayRate:               cfg.Ledger.DecayRate,
		DecayCadence:            cadence,
		RetentionRate:           cfg.Ledger.RetentionRate,
		Weights:                 cfg.Ledger.Weights,
		Focus:                   cfg.Ledger.Focus,
		Clock:                   opts.Clock,
		Logger:                  opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	selector, err := budget.NewSelector(budget.Config{
		Total:    cfg.Budget.Total,
		SelfPool: cfg.Budget.SelfPool,
		Groups:   cfg.Budget.Groups,
		Accounts: led,
		Entities: reg,
		Logger:   opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Stack{
		Config:   cfg,
		Driver:   driver,
		Registry: reg,
		Ledger:   led,
		Selector: selector,
	}, nil
}

// Close closes the storage driver.
func (s *Stack) Close() error {
	return s.Driver.Close()
}

// NewStorageDriver opens the configured storage backend. An empty SQLite
// path resolves to attend.db in the .attend/ directory.
func NewStorageDriver(ctx context.Context, c config.StorageConfig, configDir string, logger *zap.Logger) (storage.Driver, error) {
	switch c.Driver {
	case config.DriverInMemory:
		logger.Info("using in-memory storage")
		return inmemory.NewDriver(), nil

	case config.DriverPostgres:
		driver, err := postgres.NewDriver(ctx, c.PostgresDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to create PostgreSQL storer: %w", err)
		}
		logger.Info("using PostgreSQL storage")
		return driver, nil

	case config.DriverSQLite, "":
		path := c.SQLitePath
		if path == "" {
			var err error
			path, err = dotdir.NewManager().DatabasePath(configDir)
			if err != nil {
				return nil, fmt.Errorf("resolving database path: %w", err)
			}
		}
		driver, err := sqlite.NewDriver(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("failed to create SQLite storer: %w", err)
		}
		logger.Info("using SQLite storage", zap.String("path", path))
		return driver, nil

	default:
		return nil, fmt.Errorf("%w: unknown storage driver %q", config.ErrInvalidConfig, c.Driver)
	}
}

// NewPublisher creates the configured run event publisher.
func NewPublisher(c config.EventStreamConfig, logger *zap.Logger) (eventstream.Publisher, error) {
	switch c.Provider {
	case config.EventStreamKafka:
		p, err := kafka.NewPublisher(kafka.Config{
			Brokers:       c.BrokerList(),
			RunTopic:      c.RunTopic,
			ArtifactTopic: c.ArtifactTopic,
			Logger:        logger,
		})
		if err != nil {
			return nil, fmt.Errorf("creating kafka publisher: %w", err)
		}
		logger.Info("publishing run events to kafka",
			zap.Strings("brokers", c.BrokerList()),
			zap.String("run_topic", c.RunTopic),
		)
		return p, nil

	case config.EventStreamNop, "":
		return nop.NewPublisher(), nil

	default:
		return nil, fmt.Errorf("%w: unknown eventstream provider %q", config.ErrInvalidConfig, c.Provider)
	}
}
