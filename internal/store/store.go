// Package store is the local persisted key-value storage. Values are stored
// as serialized JSON strings, like the browser storage it replaces.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/droptrack/internal/config"
	"github.com/zulandar/droptrack/internal/db"
	"github.com/zulandar/droptrack/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is a string key-value store backed by GORM.
type Store struct {
	db *gorm.DB
}

// Open connects to the configured database and migrates the kv table.
func Open(cfg config.StoreConfig) (*Store, error) {
	gdb, err := db.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return New(gdb)
}

// New wraps an existing connection, migrating the kv table.
func New(gdb *gorm.DB) (*Store, error) {
	if gdb == nil {
		return nil, fmt.Errorf("store: db is required")
	}
	if err := db.AutoMigrate(gdb); err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}
	return &Store{db: gdb}, nil
}

// Get returns the value for key. The bool is false when the key is absent.
func (s *Store) Get(key string) (string, bool, error) {
	var entry models.KVEntry
	err := s.db.Where("`key` = ?", key).First(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("store: get %s: %w", key, err)
	}
	return entry.Value, true, nil
}

// Set upserts key.
func (s *Store) Set(key, value string) error {
	entry := models.KVEntry{Key: key, Value: value, UpdatedAt: time.Now()}
	err := s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (s *Store) Delete(keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := s.db.Where("`key` IN ?", keys).Delete(&models.KVEntry{}).Error; err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	return nil
}

// GetJSON decodes the value for key into v. The bool is false when the key
// is absent. Malformed JSON returns false with a decode error.
func (s *Store) GetJSON(key string, v any) (bool, error) {
	raw, ok, err := s.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		return false, fmt.Errorf("store: decode %s: %w", key, err)
	}
	return true, nil
}

// SetJSON encodes v and stores it under key.
func (s *Store) SetJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	return s.Set(key, string(data))
}

// Close releases the underlying connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return sqlDB.Close()
}
