package app

import (
	"context"

	"bedsync/internal/common/errors"
	"bedsync/internal/common/logging"
	"bedsync/internal/config"
	"bedsync/internal/oauth2"
	"bedsync/internal/storage"
	"bedsync/internal/storage/postgres"
	"bedsync/internal/storage/sqlite"
)

func (app *App) initializeTokenStorage(ctx context.Context) error {
	switch app.Config.TokenStore {
	case config.StoreFile, "":
		app.Logger.Info("Token store: file", logging.String("path", app.Config.TokenFile))
		app.TokenStore = oauth2.NewFileTokenStorage(app.Config.TokenFile)

	case config.StoreRedis:
		if app.RedisClient == nil {
			return errors.ConfigError("redis token store requires REDIS_ADDRESS")
		}
		app.Logger.Info("Token store: Redis", logging.String("address", app.Config.RedisAddress))
		app.TokenStore = oauth2.NewRedisTokenStorage(app.RedisClient)

	case config.StoreSQLite:
		app.Logger.Info("Token store: SQLite", logging.String("path", app.Config.DatabasePath))
		return app.openSettingsStore(ctx, &sqlite.Config{DatabasePath: app.Config.DatabasePath})

	case config.StorePostgres:
		pgConfig, err := postgres.NewConfigFromURL(app.Config.PostgresDSN)
		if err != nil {
			return err
		}
		app.Logger.Info("Token store: PostgreSQL",
			logging.String("host", pgConfig.Host),
			logging.String("database", pgConfig.Database),
		)
		return app.openSettingsStore(ctx, pgConfig)

	default:
		return errors.ConfigError("unknown token store: " + app.Config.TokenStore)
	}
	return nil
}

func (app *App) openSettingsStore(ctx context.Context, cfg storage.StorageConfig) error {
	store, err := storage.NewSettingsStore(ctx, cfg)
	if err != nil {
		return err
	}
	app.Settings = store
	app.TokenStore = oauth2.NewDBTokenStorage(store)
	return nil
}
