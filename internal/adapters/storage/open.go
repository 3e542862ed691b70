// Package storage opens the realtime store and account repository selected
// by STORAGE_BACKEND.
package storage

import (
	"context"
	"fmt"
	"log/slog"

	memaccountrepo "github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/memory/accountrepo"
	memrealtime "github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/memory/realtime"
	postgres "github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/postgres"
	pgaccountrepo "github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/postgres/accountrepo"
	pgrealtime "github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/postgres/realtime"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/sqlite"
	sqliteaccountrepo "github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/sqlite/accountrepo"
	sqliterealtime "github.com/Overland-East-Bay/bookkeeping-relay/internal/adapters/sqlite/realtime"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/platform/config"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/accountrepo"
	"github.com/Overland-East-Bay/bookkeeping-relay/internal/ports/out/realtime"
)

// Storage is an opened backend. Close releases it.
type Storage struct {
	Store    realtime.Store
	Accounts accountrepo.Repository
	Close    func()
}

// Check reports whether the store is still delivering change events. Stores
// without a remote change feed are always healthy.
func (s *Storage) Check(ctx context.Context) error {
	if c, ok := s.Store.(interface{ Check(context.Context) error }); ok {
		return c.Check(ctx)
	}
	return nil
}

func Open(ctx context.Context, cfg config.ServerConfig, logger *slog.Logger) (*Storage, error) {
	switch cfg.StorageBackend {
	case config.StoragePostgres:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, postgres.PoolOptions{})
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		store, err := pgrealtime.NewStore(ctx, pool, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		return &Storage{
			Store:    store,
			Accounts: pgaccountrepo.NewRepo(pool),
			Close: func() {
				store.Close()
				pool.Close()
			},
		}, nil
	case config.StorageSQLite:
		db, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return &Storage{
			Store:    sqliterealtime.NewStore(db),
			Accounts: sqliteaccountrepo.NewRepo(db),
			Close: func() {
				_ = db.Close()
			},
		}, nil
	case config.StorageMemory, "":
		return &Storage{
			Store:    memrealtime.NewStore(),
			Accounts: memaccountrepo.NewRepo(),
			Close:    func() {},
		}, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}
