package migrations

import (
	"fmt"
	"testing"

	"github.com/alxbtnk/duck/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	return db
}

func TestMigratorRunsPendingOnce(t *testing.T) {
	db := openTestDB(t)

	ran, err := NewMigrator(db).Run()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_create_asset_entries", "002_index_asset_checksum"}, ran)
	assert.True(t, db.Migrator().HasTable(&models.AssetEntry{}))

	ran, err = NewMigrator(db).Run()
	require.NoError(t, err)
	assert.Empty(t, ran)

	var count int64
	require.NoError(t, db.Model(&MigrationRecord{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestMigratorMissingDependency(t *testing.T) {
	db := openTestDB(t)

	m := &Migrator{
		db: db,
		migrations: []Migration{{
			ID:        "010_orphan",
			Name:      "orphan",
			DependsOn: []string{"009_missing"},
			Up:        func(*gorm.DB) error { return nil },
		}},
	}

	_, err := m.Run()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "009_missing")
}
