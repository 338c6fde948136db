// Package storage provides the SQL key/value settings table used by the
// database-backed token store. SQLite and PostgreSQL are supported.
package storage

import "context"

// SettingsStore is a durable key/value table. SetSetting is a single upsert
// statement, so a reader never observes a half-written value.
type SettingsStore interface {
	// GetSetting returns "" when the key does not exist
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
	GetAllSettings(ctx context.Context) (map[string]string, error)
	DeleteSetting(ctx context.Context, key string) error

	Health(ctx context.Context) error
	Close() error
}

// StorageConfig is implemented by each backend's Config.
type StorageConfig interface {
	Validate() error
	GetType() string
	GetConnectionString() string
}
