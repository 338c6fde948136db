package oauth2

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"bedsync/internal/common/errors"
)

// TokenStorage persists the single credential record.
//
// LoadToken returns (nil, nil) when nothing has been stored yet. SaveToken
// must replace the record atomically: a concurrent LoadToken sees either the
// old or the new record, never a mix.
type TokenStorage interface {
	LoadToken(ctx context.Context) (*Token, error)
	SaveToken(ctx context.Context, token *Token) error
}

// FileTokenStorage keeps the record as one JSON object on disk.
type FileTokenStorage struct {
	path string
	mu   sync.Mutex
}

// NewFileTokenStorage returns a storage writing to path. The parent
// directory is created on the first save.
func NewFileTokenStorage(path string) *FileTokenStorage {
	return &FileTokenStorage{path: path}
}

// Path returns the token file location.
func (s *FileTokenStorage) Path() string {
	return s.path
}

func (s *FileTokenStorage) LoadToken(ctx context.Context) (*Token, error) {
	data, err := os.ReadFile(s.path)
	if stderrors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.PersistenceError("failed to read token file", err).WithContext("path", s.path)
	}
	return decodeToken(data)
}

// SaveToken writes to a temp file in the same directory, fsyncs it and
// renames it over the old file.
func (s *FileTokenStorage) SaveToken(ctx context.Context, token *Token) error {
	if err := token.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(token, "", "  ")
	if err != nil {
		return errors.PersistenceError("failed to serialize token", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return errors.PersistenceError("failed to create token directory", err).WithContext("dir", dir)
	}

	tmpFile, err := os.CreateTemp(dir, ".tokens-*.tmp")
	if err != nil {
		return errors.PersistenceError("failed to create temp token file", err)
	}
	tmpPath := tmpFile.Name()

	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmpFile.Write(data); err != nil {
		tmpFile.Close()
		return errors.PersistenceError("failed to write token file", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		return errors.PersistenceError("failed to sync token file", err)
	}
	if err := tmpFile.Close(); err != nil {
		return errors.PersistenceError("failed to close token file", err)
	}
	if err := os.Rename(tmpPath, s.path); err != nil {
		return errors.PersistenceError("failed to replace token file", err).WithContext("path", s.path)
	}

	success = true
	return nil
}

// SettingsStorage is the key/value contract DBTokenStorage needs. The
// settings table in internal/storage implements it for SQLite and PostgreSQL.
type SettingsStorage interface {
	// GetSetting returns "" when the key does not exist
	GetSetting(ctx context.Context, key string) (string, error)
	SetSetting(ctx context.Context, key, value string) error
}

// settingsKey is where the record lives in the settings table.
const settingsKey = "withings_oauth2_token"

// DBTokenStorage stores the record as JSON in a database settings table.
type DBTokenStorage struct {
	store SettingsStorage
}

func NewDBTokenStorage(store SettingsStorage) *DBTokenStorage {
	return &DBTokenStorage{store: store}
}

func (s *DBTokenStorage) LoadToken(ctx context.Context) (*Token, error) {
	data, err := s.store.GetSetting(ctx, settingsKey)
	if err != nil {
		return nil, errors.PersistenceError("failed to load token setting", err)
	}
	if data == "" {
		return nil, nil
	}
	return decodeToken([]byte(data))
}

func (s *DBTokenStorage) SaveToken(ctx context.Context, token *Token) error {
	if err := token.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(token)
	if err != nil {
		return errors.PersistenceError("failed to serialize token", err)
	}
	if err := s.store.SetSetting(ctx, settingsKey, string(data)); err != nil {
		return errors.PersistenceError("failed to save token setting", err)
	}
	return nil
}

// MemoryTokenStorage keeps the record in memory. Nothing survives a restart,
// so it is only suitable for tests and dry runs.
type MemoryTokenStorage struct {
	mu    sync.RWMutex
	token *Token
}

func NewMemoryTokenStorage() *MemoryTokenStorage {
	return &MemoryTokenStorage{}
}

func (s *MemoryTokenStorage) LoadToken(ctx context.Context) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.token == nil {
		return nil, nil
	}
	copied := *s.token
	return &copied, nil
}

func (s *MemoryTokenStorage) SaveToken(ctx context.Context, token *Token) error {
	if err := token.Validate(); err != nil {
		return err
	}
	copied := *token
	s.mu.Lock()
	s.token = &copied
	s.mu.Unlock()
	return nil
}

func decodeToken(data []byte) (*Token, error) {
	var token Token
	if err := json.Unmarshal(data, &token); err != nil {
		return nil, errors.PersistenceError("failed to deserialize token", err)
	}
	if err := token.Validate(); err != nil {
		return nil, errors.PersistenceError(fmt.Sprintf("stored token is incomplete: %s", err.Error()), err)
	}
	return &token, nil
}
