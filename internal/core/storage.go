package core

import (
	"coexcore/internal/infra/persistence/memory"
	"coexcore/internal/infra/persistence/postgres"
	"coexcore/internal/infra/persistence/sqlite"
	"coexcore/pkg/domain"
	"context"
	"fmt"
	"io"
	"os"
)

// StorageDriver identifies a concrete persistent storage implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

type (
	Transaction     = domain.Transaction
	TransactionView = domain.TransactionView
	PersistentStore = domain.PersistentStore
	StateBuckets    = domain.StateBuckets
)

// Backend is a catalog store that can also checkpoint opaque state.
type Backend interface {
	PersistentStore
	StateBuckets
}

// StorageConfig selects and parameterizes a backend.
type StorageConfig struct {
	Driver      StorageDriver
	SQLitePath  string
	PostgresDSN string
}

// StorageConfigFromEnv reads the backend selection from the environment.
// Defaults to sqlite when unset.
//
//	COEXCORE_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	COEXCORE_SQLITE_PATH: path to sqlite file (default ./coexcore.db)
//	COEXCORE_POSTGRES_DSN: postgres DSN when driver=postgres
func StorageConfigFromEnv() StorageConfig {
	driver := os.Getenv("COEXCORE_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	return StorageConfig{
		Driver:      StorageDriver(driver),
		SQLitePath:  os.Getenv("COEXCORE_SQLITE_PATH"),
		PostgresDSN: os.Getenv("COEXCORE_POSTGRES_DSN"),
	}
}

// OpenPersistentStore opens the backend described by cfg.
func OpenPersistentStore(ctx context.Context, cfg StorageConfig, engine *RulesEngine) (Backend, error) {
	switch cfg.Driver {
	case StorageMemory:
		return memory.NewStore(engine), nil
	case StorageSQLite, "":
		return sqlite.NewStore(cfg.SQLitePath, engine)
	case StoragePostgres:
		if cfg.PostgresDSN == "" {
			return nil, fmt.Errorf("%w: postgres driver needs a DSN", domain.ErrInvalidArgument)
		}
		return postgres.NewStore(ctx, cfg.PostgresDSN, engine)
	default:
		return nil, fmt.Errorf("unknown storage driver %s", cfg.Driver)
	}
}

// CloseBackend releases resources held by backends that own a connection.
func CloseBackend(b Backend) error {
	if c, ok := b.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
