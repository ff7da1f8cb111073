package domain

import (
	"time"
)

// AppConfig represents user-specific configuration (Key-Value)
type AppConfig struct {
	Key       string    `gorm:"primaryKey" json:"key"`
	Value     string    `json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Holding is a persisted portfolio position.
// Quantity is stored as a decimal string to avoid float rounding in SQLite.
type Holding struct {
	AssetID   string    `gorm:"primaryKey" json:"asset_id"`
	Quantity  string    `json:"quantity"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FavoritesKey is the AppConfig key holding the ordered favorites list (JSON array).
const FavoritesKey = "favorites"
