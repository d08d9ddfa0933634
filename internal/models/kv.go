// Package models defines the persisted and wire-level types shared by droptrack packages.
package models

import "time"

// KVEntry is one row of the local key-value store. Values are serialized JSON
// strings (auth token, user profile, per-conversation message cache).
type KVEntry struct {
	Key       string `gorm:"primaryKey;size:191"`
	Value     string `gorm:"type:text"`
	UpdatedAt time.Time
}

// TableName pins the table name regardless of naming strategy.
func (KVEntry) TableName() string { return "kv_entries" }
