package db

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agnosto/toot-scraper/logger"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	// Pure Go driver, registered as "sqlite".
	_ "modernc.org/sqlite"
)

const driverName = "sqlite"

// Database represents the database connection
type Database struct {
	DB   *gorm.DB
	Path string
}

// NewDatabase opens the toot database at dbPath and brings its schema up to
// date. Any error here is fatal for the run.
func NewDatabase(dbPath string) (*Database, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	// Configure GORM logger
	logConfig := gormlogger.Config{
		SlowThreshold: 2 * time.Second,
		LogLevel:      gormlogger.Warn, // Log only warnings and errors
		Colorful:      false,
	}

	db, err := gorm.Open(sqlite.New(sqlite.Config{
		DriverName: driverName,
		DSN:        dbPath + "?_pragma=busy_timeout(5000)",
	}), &gorm.Config{
		Logger: gormlogger.New(logger.Logger, logConfig),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := migrate(db); err != nil {
		if sqlDB, derr := db.DB(); derr == nil {
			sqlDB.Close()
		}
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Database{DB: db, Path: dbPath}, nil
}

// FileSize returns the size of the database file on disk.
func (d *Database) FileSize() (int64, error) {
	info, err := os.Stat(d.Path)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
