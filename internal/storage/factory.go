package storage

import (
	"context"
	"fmt"

	"bedsync/internal/common/errors"
	"bedsync/internal/storage/postgres"
	"bedsync/internal/storage/sqlite"
)

// NewSettingsStore opens the backend named by config.GetType() and creates
// the settings table if needed.
func NewSettingsStore(ctx context.Context, config StorageConfig) (SettingsStore, error) {
	if err := config.Validate(); err != nil {
		return nil, errors.ConfigError(fmt.Sprintf("invalid %s config: %v", config.GetType(), err))
	}

	var (
		store SettingsStore
		err   error
	)
	switch cfg := config.(type) {
	case *sqlite.Config:
		store, err = openSQLite(ctx, cfg)
	case *postgres.Config:
		store, err = openPostgres(ctx, cfg)
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unsupported database type: %s", config.GetType()))
	}
	if err != nil {
		return nil, errors.PersistenceError(fmt.Sprintf("failed to open %s settings store", config.GetType()), err)
	}
	return store, nil
}

func openSQLite(ctx context.Context, cfg *sqlite.Config) (SettingsStore, error) {
	adapter, err := sqlite.NewAdapter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return adapter, nil
}

func openPostgres(ctx context.Context, cfg *postgres.Config) (SettingsStore, error) {
	adapter, err := postgres.NewAdapter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return adapter, nil
}
