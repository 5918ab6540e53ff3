package db

import (
	"fmt"
	"slices"

	"github.com/agnosto/toot-scraper/db/models"
	"github.com/agnosto/toot-scraper/logger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type migration struct {
	version int
	name    string
	up      func(tx *gorm.DB) error
}

// migrations run in order, each in its own transaction, and are recorded in
// schema_version so they apply exactly once.
var migrations = []migration{
	{version: 1, name: "create toots", up: createToots},
	{version: 2, name: "dedup trigger", up: createDedupTrigger},
}

// LatestSchemaVersion is the version a freshly opened database ends up at.
func LatestSchemaVersion() int {
	return migrations[len(migrations)-1].version
}

const createTootsSQL = `CREATE TABLE IF NOT EXISTS toots (
	sortid INTEGER UNIQUE PRIMARY KEY AUTOINCREMENT,
	id VARCHAR NOT NULL,
	cw INT NOT NULL DEFAULT 0,
	userid VARCHAR NOT NULL,
	uri VARCHAR NOT NULL,
	content VARCHAR NOT NULL
)`

// The newest insert for a uri wins, older rows are purged in the same statement.
const createDedupTriggerSQL = `CREATE TRIGGER IF NOT EXISTS toots_dedup AFTER INSERT ON toots FOR EACH ROW
BEGIN
	DELETE FROM toots WHERE uri = NEW.uri AND sortid < NEW.sortid;
END`

func migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(&models.SchemaVersion{}); err != nil {
		return fmt.Errorf("failed to create schema_version: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= current {
			continue
		}

		logger.Logger.Infof("Migrating database to version %d (%s)", m.version, m.name)
		err := db.Transaction(func(tx *gorm.DB) error {
			if err := m.up(tx); err != nil {
				return err
			}
			return setVersion(tx, m.version)
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s): %w", m.version, m.name, err)
		}
	}

	return nil
}

func currentVersion(db *gorm.DB) (int, error) {
	var v models.SchemaVersion
	res := db.Where("id = ?", 1).Limit(1).Find(&v)
	if res.Error != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return 0, nil
	}
	return v.Version, nil
}

func setVersion(tx *gorm.DB, version int) error {
	return tx.Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&models.SchemaVersion{ID: 1, Version: version}).Error
}

func tableColumns(tx *gorm.DB, table string) ([]string, error) {
	var cols []string
	err := tx.Raw("SELECT name FROM pragma_table_info(?)", table).Scan(&cols).Error
	return cols, err
}

// createToots creates the toots table. Databases from releases before
// sortid existed are copied over in their original insertion order.
func createToots(tx *gorm.DB) error {
	cols, err := tableColumns(tx, "toots")
	if err != nil {
		return err
	}

	if len(cols) == 0 {
		return tx.Exec(createTootsSQL).Error
	}
	if slices.Contains(cols, "sortid") {
		return nil
	}

	logger.Logger.Warn("Migrating toots to the sortid format, this can take a while")

	cw := "0"
	if slices.Contains(cols, "cw") {
		cw = "cw"
	}

	steps := []string{
		"DROP TRIGGER IF EXISTS dedup",
		"DROP TABLE IF EXISTS toots_legacy",
		"ALTER TABLE toots RENAME TO toots_legacy",
		createTootsSQL,
		fmt.Sprintf("INSERT INTO toots (id, cw, userid, uri, content) SELECT id, %s, userid, uri, content FROM toots_legacy ORDER BY rowid", cw),
		"DROP TABLE toots_legacy",
	}
	for _, stmt := range steps {
		if err := tx.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}

// createDedupTrigger replaces the old trigger, which kept the oldest
// duplicate, and purges duplicates left behind by it.
func createDedupTrigger(tx *gorm.DB) error {
	steps := []string{
		"DROP TRIGGER IF EXISTS dedup",
		"DELETE FROM toots WHERE sortid NOT IN (SELECT MAX(sortid) FROM toots GROUP BY uri)",
		createDedupTriggerSQL,
		"CREATE INDEX IF NOT EXISTS idx_toots_userid_sortid ON toots(userid, sortid)",
		"CREATE INDEX IF NOT EXISTS idx_toots_uri ON toots(uri)",
	}
	for _, stmt := range steps {
		if err := tx.Exec(stmt).Error; err != nil {
			return err
		}
	}
	return nil
}
