package db

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agnosto/toot-scraper/db/models"
)

func TestInspectMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toots.db")

	status, err := Inspect(path)
	require.NoError(t, err)
	assert.False(t, status.Exists)
	assert.False(t, status.Pending())

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "inspecting must not create the file")
}

func TestInspectLegacyTableLeavesItUntouched(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toots.db")
	seedLegacy(t, path,
		"CREATE TABLE toots (id VARCHAR NOT NULL, userid VARCHAR NOT NULL, uri VARCHAR NOT NULL, content VARCHAR NOT NULL)",
		"INSERT INTO toots VALUES ('10', 'a', 'https://x/10', 'first')",
	)

	status, err := Inspect(path)
	require.NoError(t, err)
	assert.True(t, status.Exists)
	assert.True(t, status.Legacy)
	assert.Equal(t, 0, status.Version)
	assert.True(t, status.Pending())
	assert.EqualValues(t, 1, status.Toots)

	_, err = OpenReadOnly(path)
	assert.ErrorContains(t, err, "needs migration from version 0")

	raw, err := sql.Open(driverName, path)
	require.NoError(t, err)
	defer raw.Close()
	var cols []string
	rows, err := raw.Query("SELECT name FROM pragma_table_info('toots')")
	require.NoError(t, err)
	for rows.Next() {
		var col string
		require.NoError(t, rows.Scan(&col))
		cols = append(cols, col)
	}
	require.NoError(t, rows.Close())
	assert.Equal(t, []string{"id", "userid", "uri", "content"}, cols)

	var tables int
	require.NoError(t, raw.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE name='schema_version'").Scan(&tables))
	assert.Zero(t, tables)
}

func TestInspectMigratedDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "toots.db")
	database, err := NewDatabase(path)
	require.NoError(t, err)
	require.NoError(t, database.DB.Create(&models.Toot{RemoteID: "1", AccountID: "a", URI: "u1", Content: "hi"}).Error)
	require.NoError(t, database.Close())

	status, err := Inspect(path)
	require.NoError(t, err)
	assert.Equal(t, LatestSchemaVersion(), status.Version)
	assert.False(t, status.Legacy)
	assert.False(t, status.Pending())
	assert.EqualValues(t, 1, status.Toots)
	assert.Positive(t, status.Size)

	ro, err := OpenReadOnly(path)
	require.NoError(t, err)
	defer ro.Close()

	var count int64
	require.NoError(t, ro.DB.Model(&models.Toot{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
	assert.Error(t, ro.DB.Create(&models.Toot{RemoteID: "2", AccountID: "a", URI: "u2", Content: "no"}).Error)
}
