package sqlite

import (
	"fmt"
	"strings"
)

type Config struct {
	DatabasePath string
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database path is required")
	}
	return nil
}

func (c *Config) GetType() string {
	return "sqlite"
}

// GetConnectionString enables WAL and a busy timeout so the refresh worker
// and request handlers do not trip over each other's locks.
func (c *Config) GetConnectionString() string {
	if c.DatabasePath == ":memory:" || strings.Contains(c.DatabasePath, "?") {
		return c.DatabasePath
	}
	return c.DatabasePath + "?_journal_mode=WAL&_busy_timeout=5000"
}

func DefaultConfig() *Config {
	return &Config{
		DatabasePath: "./bedsync.db",
	}
}
