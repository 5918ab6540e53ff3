package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"slices"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// SchemaStatus describes a database file as found on disk.
type SchemaStatus struct {
	Exists  bool
	Version int
	// Legacy is set when the toots table predates sortid.
	Legacy bool
	Toots  int64
	Size   int64
}

// Pending reports whether opening the database would run migrations.
func (s SchemaStatus) Pending() bool {
	return s.Exists && s.Version < LatestSchemaVersion()
}

func readOnlyDSN(dbPath string) string {
	return "file:" + dbPath + "?mode=ro"
}

// Inspect reads the schema state of dbPath without migrating it. A missing
// file is reported, not created.
func Inspect(dbPath string) (SchemaStatus, error) {
	var status SchemaStatus
	info, err := os.Stat(dbPath)
	if errors.Is(err, os.ErrNotExist) {
		return status, nil
	}
	if err != nil {
		return status, err
	}
	status.Exists = true
	status.Size = info.Size()

	sqlDB, err := sql.Open(driverName, readOnlyDSN(dbPath))
	if err != nil {
		return status, fmt.Errorf("failed to open database: %w", err)
	}
	defer sqlDB.Close()

	var count int
	err = sqlDB.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='schema_version'`).Scan(&count)
	if err != nil {
		return status, fmt.Errorf("failed to read schema: %w", err)
	}
	if count > 0 {
		err := sqlDB.QueryRow(`SELECT version FROM schema_version WHERE id = 1`).Scan(&status.Version)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return status, fmt.Errorf("failed to read schema version: %w", err)
		}
	}

	rows, err := sqlDB.Query(`SELECT name FROM pragma_table_info('toots')`)
	if err != nil {
		return status, fmt.Errorf("failed to read toots columns: %w", err)
	}
	var cols []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			rows.Close()
			return status, err
		}
		cols = append(cols, col)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return status, err
	}
	if len(cols) == 0 {
		return status, nil
	}

	status.Legacy = !slices.Contains(cols, "sortid")
	if err := sqlDB.QueryRow(`SELECT COUNT(*) FROM toots`).Scan(&status.Toots); err != nil {
		return status, fmt.Errorf("failed to count toots: %w", err)
	}
	return status, nil
}

// OpenReadOnly opens an existing, migrated database for reading. Writes
// through the returned handle fail.
func OpenReadOnly(dbPath string) (*Database, error) {
	status, err := Inspect(dbPath)
	if err != nil {
		return nil, err
	}
	if !status.Exists {
		return nil, fmt.Errorf("database %s does not exist", dbPath)
	}
	if status.Pending() {
		return nil, fmt.Errorf("database needs migration from version %d to %d", status.Version, LatestSchemaVersion())
	}

	db, err := gorm.Open(sqlite.New(sqlite.Config{
		DriverName: driverName,
		DSN:        readOnlyDSN(dbPath),
	}), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Database{DB: db, Path: dbPath}, nil
}
