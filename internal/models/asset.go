package models

import (
	"time"
)

// AssetEntry is a persisted override for one asset slot.
// Exactly one of URL or Data is expected to be set.
type AssetEntry struct {
	Key         string    `gorm:"column:slot;primaryKey;type:varchar(64)" json:"key"`
	URL         string    `gorm:"type:text" json:"url,omitempty"`
	Data        []byte    `json:"-"`
	ContentType string    `gorm:"type:varchar(128)" json:"contentType,omitempty"`
	Size        int64     `gorm:"not null;default:0" json:"size"`
	Checksum    string    `gorm:"type:char(64);not null" json:"checksum"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `gorm:"index" json:"updatedAt"`
}

func (AssetEntry) TableName() string {
	return "asset_entries"
}
