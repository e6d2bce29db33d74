package migration

import (
	"io/fs"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)

	names := make(map[string]bool)
	for _, entry := range entries {
		names[entry.Name()] = true
	}
	assert.True(t, names["000001_init.up.sql"])
	assert.True(t, names["000001_init.down.sql"])
}

func TestRunMigrations_RequiresHandle(t *testing.T) {
	assert.Error(t, RunMigrations(nil))
}

func TestAutoMigrate_CreatesPartialUniqueIndexes(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:automigrate?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Discard,
	})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(conn))

	for _, model := range Models() {
		assert.True(t, conn.Migrator().HasTable(model))
	}

	var sql string
	require.NoError(t, conn.Raw(`SELECT sql FROM sqlite_master WHERE type = 'index' AND name = ?`, "ux_visits_active_player_day").Scan(&sql).Error)
	assert.Contains(t, sql, "ended_at IS NULL")

	require.NoError(t, conn.Raw(`SELECT sql FROM sqlite_master WHERE type = 'index' AND name = ?`, "ux_rating_slips_open_per_visit").Scan(&sql).Error)
	assert.Contains(t, sql, "status <> 'closed'")
}
