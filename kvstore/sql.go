package kvstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/cppla/goaltrack/models"
)

// SQL stores keys in the kv_entries table through gorm. It runs on MySQL for
// shared deployments and on SQLite for a single device.
type SQL struct {
	db  *gorm.DB
	now func() time.Time
}

// NewSQL wraps an open gorm connection whose schema includes models.KVEntry.
func NewSQL(db *gorm.DB) *SQL {
	return &SQL{db: db, now: time.Now}
}

func (s *SQL) Get(ctx context.Context, key string) (string, bool, error) {
	var entry models.KVEntry
	err := s.db.WithContext(ctx).Where("entry_key = ?", key).Take(&entry).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sql get %s: %w", key, err)
	}
	if entry.ExpiresAt != nil && !s.now().Before(*entry.ExpiresAt) {
		return "", false, nil
	}
	return entry.Value, true, nil
}

func (s *SQL) Set(ctx context.Context, key, value string) error {
	entry := models.KVEntry{Key: key, Value: value}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "entry_key"}},
		DoUpdates: clause.Assignments(map[string]interface{}{"entry_value": value, "expires_at": nil, "updated_at": s.now()}),
	}).Create(&entry).Error
	if err != nil {
		return fmt.Errorf("sql set %s: %w", key, err)
	}
	return nil
}

func (s *SQL) Remove(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("entry_key = ?", key).Delete(&models.KVEntry{}).Error; err != nil {
		return fmt.Errorf("sql remove %s: %w", key, err)
	}
	return nil
}

func (s *SQL) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	now := s.now()
	entry := models.KVEntry{Key: key, Value: value}
	if ttl > 0 {
		expires := now.Add(ttl)
		entry.ExpiresAt = &expires
	}
	var stored bool
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("entry_key = ? AND expires_at IS NOT NULL AND expires_at <= ?", key, now).
			Delete(&models.KVEntry{}).Error; err != nil {
			return err
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&entry)
		if res.Error != nil {
			return res.Error
		}
		stored = res.RowsAffected == 1
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("sql setnx %s: %w", key, err)
	}
	return stored, nil
}

func (s *SQL) CompareAndDelete(ctx context.Context, key, value string) (bool, error) {
	res := s.db.WithContext(ctx).Where("entry_key = ? AND entry_value = ?", key, value).Delete(&models.KVEntry{})
	if res.Error != nil {
		return false, fmt.Errorf("sql compare-and-delete %s: %w", key, res.Error)
	}
	return res.RowsAffected > 0, nil
}
