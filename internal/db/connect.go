// Package db opens the GORM connection backing the local key-value store.
package db

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/zulandar/droptrack/internal/config"
	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect opens a GORM connection for the configured driver.
func Connect(cfg config.StoreConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "", "sqlite":
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		if path != ":memory:" {
			if dir := filepath.Dir(path); dir != "." {
				if err := os.MkdirAll(dir, 0o755); err != nil {
					return nil, fmt.Errorf("db: create %s: %w", dir, err)
				}
			}
		}
		dialector = sqlite.Open(path)
	case "mysql":
		dialector = mysql.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("db: unsupported driver %q", cfg.Driver)
	}

	gdb, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("db: connect (%s): %w", cfg.Driver, err)
	}
	if cfg.Driver != "mysql" {
		// Every sqlite connection to :memory: is its own database.
		sqlDB, err := gdb.DB()
		if err != nil {
			return nil, fmt.Errorf("db: pool: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return gdb, nil
}
