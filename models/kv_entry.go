package models

import "time"

// KVEntry is one row of the SQL-backed key-value store (reset markers, reset
// leases and goal snapshots).
type KVEntry struct {
	Key       string     `gorm:"column:entry_key;primaryKey;size:191" json:"key"`
	Value     string     `gorm:"column:entry_value;type:text;not null" json:"value"`
	ExpiresAt *time.Time `gorm:"index" json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// TableName pins the table name independent of gorm's pluralization.
func (KVEntry) TableName() string {
	return "kv_entries"
}
