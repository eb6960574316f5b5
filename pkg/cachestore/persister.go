package cachestore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/clawbotneo/nl-verkeer/pkg/traffic"
	"github.com/eko/gocache/lib/v4/cache"
	"github.com/eko/gocache/lib/v4/store"
	redisstore "github.com/eko/gocache/store/redis/v4"
	"github.com/redis/go-redis/v9"
)

const snapshotKey = "nl-verkeer:snapshot"

// SnapshotPersister keeps a copy of the last good snapshot outside the process so
// a restarted instance still has something to stale-serve.
type SnapshotPersister struct {
	Cache *cache.Cache[string]
}

func NewRedisPersister(client *redis.Client, expiration time.Duration) *SnapshotPersister {
	redisStore := redisstore.NewRedis(client, store.WithExpiration(expiration))

	return &SnapshotPersister{
		Cache: cache.New[string](redisStore),
	}
}

func (p *SnapshotPersister) Save(ctx context.Context, snapshot traffic.Snapshot) error {
	snapshotJson, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}

	return p.Cache.Set(ctx, snapshotKey, string(snapshotJson))
}

// Load returns the persisted snapshot; ok is false when nothing was stored.
func (p *SnapshotPersister) Load(ctx context.Context) (snapshot traffic.Snapshot, ok bool, err error) {
	snapshotJson, err := p.Cache.Get(ctx, snapshotKey)
	if isNotFound(err) {
		return snapshot, false, nil
	} else if err != nil {
		return snapshot, false, err
	}

	if err := json.Unmarshal([]byte(snapshotJson), &snapshot); err != nil {
		return snapshot, false, err
	}

	return snapshot, true, nil
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}

	return errors.Is(err, redis.Nil) || strings.Contains(err.Error(), "not found")
}
