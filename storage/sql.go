package storage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"citetrack/models"
)

// SQLBackend legt den geteilten Scope in der Tabelle shared_settings ab. Alle Prozesse, die
// dieselbe Datenbank nutzen, sehen denselben Stand.
type SQLBackend struct {
	db *gorm.DB
}

func NewSQLBackend(db *gorm.DB) *SQLBackend {
	return &SQLBackend{db: db}
}

func (b *SQLBackend) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var row models.SharedSetting
	err := b.db.WithContext(ctx).Where("key = ?", key).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("shared setting %s: %w", key, err)
	}
	return row.Value, true, nil
}

func (b *SQLBackend) Set(ctx context.Context, key string, value []byte) error {
	row := models.SharedSetting{Key: key, Value: value, UpdatedAt: time.Now().UTC()}
	err := b.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("upsert shared setting %s: %w", key, err)
	}
	return nil
}

func (b *SQLBackend) Remove(ctx context.Context, key string) error {
	if err := b.db.WithContext(ctx).Where("key = ?", key).Delete(&models.SharedSetting{}).Error; err != nil {
		return fmt.Errorf("delete shared setting %s: %w", key, err)
	}
	return nil
}

func (b *SQLBackend) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	if err := b.db.WithContext(ctx).Model(&models.SharedSetting{}).Pluck("key", &keys).Error; err != nil {
		return nil, fmt.Errorf("list shared settings: %w", err)
	}
	sort.Strings(keys)
	return keys, nil
}
