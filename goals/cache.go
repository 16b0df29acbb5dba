package goals

import (
	"context"
	"encoding/json"
	"strconv"

	"go.uber.org/zap"

	"github.com/cppla/goaltrack/kvstore"
)

const snapshotKeyPrefix = "goalSnapshot_"

// Cache keeps the last known copy of every goal the client has seen, per user.
// It backs local-only goals and the optimistic fallbacks of failed writes. A
// nil *Cache is valid and remembers nothing.
type Cache struct {
	store kvstore.Store
	log   *zap.SugaredLogger
}

// NewCache stores snapshots in store.
func NewCache(store kvstore.Store, log *zap.SugaredLogger) *Cache {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Cache{store: store, log: log}
}

func snapshotKey(userID string, id int64) string {
	return snapshotKeyPrefix + userID + "_" + strconv.FormatInt(id, 10)
}

// Get returns userID's cached snapshot of id.
func (c *Cache) Get(ctx context.Context, userID string, id int64) (Goal, bool) {
	if c == nil || c.store == nil {
		return Goal{}, false
	}
	raw, ok, err := c.store.Get(ctx, snapshotKey(userID, id))
	if err != nil {
		c.log.Warnf("goal snapshot read failed user=%s id=%d err=%v", userID, id, err)
		return Goal{}, false
	}
	if !ok {
		return Goal{}, false
	}
	var g Goal
	if err := json.Unmarshal([]byte(raw), &g); err != nil {
		c.log.Warnf("goal snapshot corrupt user=%s id=%d err=%v", userID, id, err)
		return Goal{}, false
	}
	return g, true
}

// Put records g as userID's latest snapshot.
func (c *Cache) Put(ctx context.Context, userID string, g Goal) {
	if c == nil || c.store == nil {
		return
	}
	b, err := json.Marshal(g)
	if err != nil {
		return
	}
	if err := c.store.Set(ctx, snapshotKey(userID, g.ID), string(b)); err != nil {
		c.log.Warnf("goal snapshot write failed user=%s id=%d err=%v", userID, g.ID, err)
	}
}

// PutAll records every goal in list.
func (c *Cache) PutAll(ctx context.Context, userID string, list []Goal) {
	for _, g := range list {
		c.Put(ctx, userID, g)
	}
}

// Delete forgets userID's snapshot of id.
func (c *Cache) Delete(ctx context.Context, userID string, id int64) {
	if c == nil || c.store == nil {
		return
	}
	if err := c.store.Remove(ctx, snapshotKey(userID, id)); err != nil {
		c.log.Warnf("goal snapshot delete failed user=%s id=%d err=%v", userID, id, err)
	}
}
