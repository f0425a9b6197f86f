package migrations

import (
	"github.com/alxbtnk/duck/internal/models"
	"gorm.io/gorm"
)

// Migration001CreateAssetEntries creates the table holding persisted asset overrides.
func Migration001CreateAssetEntries() Migration {
	return Migration{
		ID:   "001_create_asset_entries",
		Name: "Create asset_entries",
		Up: func(db *gorm.DB) error {
			return db.AutoMigrate(&models.AssetEntry{})
		},
	}
}

// Migration002IndexAssetChecksum lets operators find duplicate uploads across slots.
func Migration002IndexAssetChecksum() Migration {
	return Migration{
		ID:        "002_index_asset_checksum",
		Name:      "Index asset_entries.checksum",
		DependsOn: []string{"001_create_asset_entries"},
		Up: func(db *gorm.DB) error {
			return db.Exec(`CREATE INDEX IF NOT EXISTS idx_asset_entries_checksum ON asset_entries (checksum)`).Error
		},
	}
}
