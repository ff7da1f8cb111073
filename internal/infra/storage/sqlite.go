package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"crypto_view/internal/domain"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Storage persists user preferences in SQLite. It implements domain.PreferenceStore.
type Storage struct {
	db *gorm.DB
}

// NewStorage opens (or creates) the database file at dbPath.
func NewStorage(dbPath string) (*Storage, error) {
	// Ensure directory exists
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}
	return Open(dbPath)
}

// Open connects to dsn and migrates the schema. Tests pass ":memory:" or a temp file.
func Open(dsn string) (*Storage, error) {
	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Auto Migration
	if err := db.AutoMigrate(&domain.AppConfig{}, &domain.Holding{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// Close releases the underlying connection.
func (s *Storage) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// ======================================================================================
// Favorites
// ======================================================================================

// LoadFavorites reads the ordered favorites list. A missing or unreadable entry
// yields an empty list.
func (s *Storage) LoadFavorites() ([]domain.AssetID, error) {
	value, ok, err := s.GetConfig(domain.FavoritesKey)
	if err != nil {
		return nil, err
	}
	if !ok || value == "" {
		return []domain.AssetID{}, nil
	}

	var raw []string
	if err := json.Unmarshal([]byte(value), &raw); err != nil {
		// the next toggle rewrites it
		slog.Warn("Stored favorites unreadable, starting empty", slog.Any("error", err))
		return []domain.AssetID{}, nil
	}

	seen := make(map[domain.AssetID]bool, len(raw))
	ids := make([]domain.AssetID, 0, len(raw))
	for _, r := range raw {
		id := domain.NormalizeAssetID(r)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

// SaveFavorites rewrites the whole list as a JSON array.
func (s *Storage) SaveFavorites(ids []domain.AssetID) error {
	raw := make([]string, len(ids))
	for i, id := range ids {
		raw[i] = string(id)
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	return s.SaveConfig(domain.FavoritesKey, string(data))
}

// ======================================================================================
// Holdings
// ======================================================================================

// LoadHoldings returns every stored quantity. Unparseable rows are skipped.
func (s *Storage) LoadHoldings() (map[domain.AssetID]decimal.Decimal, error) {
	var rows []domain.Holding
	if err := s.db.Find(&rows).Error; err != nil {
		return nil, err
	}

	result := make(map[domain.AssetID]decimal.Decimal, len(rows))
	for _, h := range rows {
		qty, err := decimal.NewFromString(h.Quantity)
		if err != nil || qty.IsNegative() {
			continue
		}
		result[domain.AssetID(h.AssetID)] = qty
	}
	return result, nil
}

// SaveHolding upserts a quantity; zero deletes the row.
func (s *Storage) SaveHolding(id domain.AssetID, quantity decimal.Decimal) error {
	if quantity.IsNegative() {
		return domain.ErrNegativeQuantity
	}
	if quantity.IsZero() {
		return s.db.Where("asset_id = ?", string(id)).Delete(&domain.Holding{}).Error
	}
	h := domain.Holding{
		AssetID:   string(id),
		Quantity:  quantity.String(),
		UpdatedAt: time.Now(),
	}
	return s.db.Clauses(clause.OnConflict{UpdateAll: true}).Create(&h).Error
}

// ======================================================================================
// Config Operations
// ======================================================================================

// SaveConfig saves a user configuration
func (s *Storage) SaveConfig(key, value string) error {
	config := domain.AppConfig{
		Key:   key,
		Value: value,
	}
	return s.db.Save(&config).Error
}

// GetConfig loads a single configuration value.
func (s *Storage) GetConfig(key string) (string, bool, error) {
	var cfg domain.AppConfig
	err := s.db.First(&cfg, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil // Not found is not an error
	}
	if err != nil {
		return "", false, err
	}
	return cfg.Value, true, nil
}

// LoadConfigMap loads all user configurations as a map
func (s *Storage) LoadConfigMap() (map[string]string, error) {
	var configs []domain.AppConfig
	if err := s.db.Find(&configs).Error; err != nil {
		return nil, err
	}

	result := make(map[string]string)
	for _, cfg := range configs {
		result[cfg.Key] = cfg.Value
	}
	return result, nil
}
