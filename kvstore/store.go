// Package kvstore provides the durable key-value storage the goal client and
// the daily reset coordinator keep their local state in.
package kvstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Store is a string key-value store. Get reports a missing key with ok=false
// and a nil error.
type Store interface {
	Get(ctx context.Context, key string) (value string, ok bool, err error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, key string) error
	// SetNX stores value only when key is absent or expired. ttl <= 0 means no expiry.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// CompareAndDelete removes key only while it still holds value.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)
}

// Backend names accepted by Open.
const (
	BackendMemory = "memory"
	BackendRedis  = "redis"
	BackendSQL    = "sql"
)

// Dependencies carries the connections Open may need for a backend.
type Dependencies struct {
	Redis RedisClient
	SQL   *gorm.DB
}

// Open selects a backend by name.
func Open(backend string, deps Dependencies) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendMemory:
		return NewMemory(), nil
	case BackendRedis:
		if deps.Redis == nil {
			return nil, fmt.Errorf("kvstore: redis backend selected without a redis client")
		}
		return NewRedis(deps.Redis, ""), nil
	case BackendSQL:
		if deps.SQL == nil {
			return nil, fmt.Errorf("kvstore: sql backend selected without a database")
		}
		return NewSQL(deps.SQL), nil
	default:
		return nil, fmt.Errorf("kvstore: unknown backend %q", backend)
	}
}
