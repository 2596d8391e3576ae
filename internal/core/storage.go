package core

import (
	"context"
	"fmt"
	"os"

	"conservatory/internal/infra/persistence/memory"
	"conservatory/internal/infra/persistence/postgres"
	"conservatory/internal/infra/persistence/sqlite"
	"conservatory/pkg/domain"
)

// StorageDriver identifies a concrete backend implementation.
type StorageDriver string

const (
	StorageMemory   StorageDriver = "memory"   // in-memory only (tests / ephemeral)
	StorageSQLite   StorageDriver = "sqlite"   // embedded sqlite file
	StoragePostgres StorageDriver = "postgres" // PostgreSQL server
)

// CloseFunc releases a backend's resources.
type CloseFunc func() error

// OpenBackend selects a backend using environment variables.
// Defaults to sqlite when unset.
//
//	CONSERVATORY_STORAGE_DRIVER: memory|sqlite|postgres (default sqlite)
//	CONSERVATORY_SQLITE_PATH: path to sqlite file (default ./conservatory.db)
//	CONSERVATORY_POSTGRES_DSN: postgres DSN when driver=postgres
func OpenBackend(ctx context.Context) (domain.Backend, CloseFunc, error) {
	driver := os.Getenv("CONSERVATORY_STORAGE_DRIVER")
	if driver == "" {
		driver = string(StorageSQLite)
	}
	switch StorageDriver(driver) {
	case StorageMemory:
		return memory.NewStore(), func() error { return nil }, nil
	case StorageSQLite:
		store, err := sqlite.NewStore(os.Getenv("CONSERVATORY_SQLITE_PATH"))
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	case StoragePostgres:
		dsn := os.Getenv("CONSERVATORY_POSTGRES_DSN")
		if dsn == "" {
			return nil, nil, fmt.Errorf("CONSERVATORY_POSTGRES_DSN is required for the postgres driver")
		}
		store, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %s", driver)
	}
}
