// Package conjugo wires the scheduling engine, the difficulty manager
// and a storage backend into one ready-to-use core. The platform embeds
// the core in-process; there is no transport layer here.
package conjugo

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mbatyrev/conjugo/config"
	"github.com/mbatyrev/conjugo/difficulty"
	"github.com/mbatyrev/conjugo/review"
	"github.com/mbatyrev/conjugo/srs"
	"github.com/mbatyrev/conjugo/store"
	"github.com/mbatyrev/conjugo/store/memory"
	"github.com/mbatyrev/conjugo/store/postgres"
	"github.com/mbatyrev/conjugo/store/sqlite"
)

// OpenStore opens the storage backend cfg names. The memory driver
// needs nothing, sqlite a file path, postgres a connection string from
// the environment.
func OpenStore(ctx context.Context, cfg config.Storage, logger *zap.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return memory.NewStore(), nil
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.Path, logger)
	case config.DriverPostgres:
		dsn, err := cfg.DSN()
		if err != nil {
			return nil, err
		}
		return postgres.Open(ctx, postgres.Config{
			DSN:             dsn,
			MaxConns:        int32(cfg.MaxConnections),
			MaxConnLifetime: cfg.MaxConnLifetime,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrUnknownDriver, cfg.Driver)
	}
}

// Core bundles the review services over one opened store.
type Core struct {
	Reviews *review.Service
	Queue   *review.QueueService

	store store.Store
}

// New opens the configured store and wires the services on top of it.
// Closing the core closes the store.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Core, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	st, err := OpenStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	engine := srs.NewEngine(srs.EngineConfig{
		MaxIntervalDays: cfg.Engine.MaxIntervalDays,
		Logger:          logger,
	})
	manager := difficulty.NewManager(difficulty.Config{
		WindowSize:       cfg.Difficulty.WindowSize,
		PromoteAccuracy:  cfg.Difficulty.PromoteAccuracy,
		DemoteAccuracy:   cfg.Difficulty.DemoteAccuracy,
		DemoteMinSamples: cfg.Difficulty.DemoteMinSamples,
	})

	return &Core{
		Reviews: review.NewService(st, engine, manager, review.ServiceConfig{
			Thresholds:      srs.Thresholds{Fast: cfg.Engine.FastAnswer, Slow: cfg.Engine.SlowAnswer},
			MaxSaveAttempts: cfg.Review.MaxSaveAttempts,
			Logger:          logger,
		}),
		Queue: review.NewQueueService(st, review.QueueConfig{
			DefaultLimit: cfg.Review.QueueLimit,
		}),
		store: st,
	}, nil
}

// Store exposes the opened backend for tests and maintenance jobs.
func (c *Core) Store() store.Store {
	return c.store
}

// Close releases the storage backend.
func (c *Core) Close() error {
	return c.store.Close()
}
