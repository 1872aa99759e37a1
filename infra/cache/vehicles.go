package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"

	"github.com/kilianp07/citro80/core/model"
	"github.com/kilianp07/citro80/infra/logger"
)

// VehicleTTL is how long a user's vehicle listing is served from cache.
const VehicleTTL = 60 * time.Second

// Loader fetches a user's vehicle listing from the provider.
type Loader func(ctx context.Context, userID string) ([]model.Vehicle, error)

// VehicleCache caches per-user vehicle listings in Redis. Concurrent misses
// for the same user share one load.
type VehicleCache struct {
	rdb   redis.Cmdable
	ttl   time.Duration
	group singleflight.Group
	log   logger.Logger
}

// NewVehicleCache creates a cache. A non-positive ttl uses VehicleTTL.
func NewVehicleCache(rdb redis.Cmdable, ttl time.Duration) *VehicleCache {
	if ttl <= 0 {
		ttl = VehicleTTL
	}
	return &VehicleCache{rdb: rdb, ttl: ttl, log: logger.New("vehicle_cache")}
}

func vehiclesKey(userID string) string { return "enode-vehicles:" + userID }

// List returns the cached listing of userID, calling load on a miss.
// Redis failures fall back to load.
func (c *VehicleCache) List(ctx context.Context, userID string, load Loader) ([]model.Vehicle, error) {
	key := vehiclesKey(userID)
	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var vs []model.Vehicle
		if jerr := json.Unmarshal(raw, &vs); jerr == nil {
			return vs, nil
		}
		c.log.Warnf("discarding corrupt cache entry %s", key)
	case !errors.Is(err, redis.Nil):
		c.log.Warnf("cache get %s: %v", key, err)
	}

	v, err, _ := c.group.Do(userID, func() (any, error) {
		vs, err := load(ctx, userID)
		if err != nil {
			return nil, err
		}
		data, err := json.Marshal(vs)
		if err == nil {
			err = c.rdb.Set(ctx, key, data, c.ttl).Err()
		}
		if err != nil {
			c.log.Warnf("cache set %s: %v", key, err)
		}
		return vs, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]model.Vehicle), nil
}

// Invalidate drops the cached listing of userID.
func (c *VehicleCache) Invalidate(ctx context.Context, userID string) error {
	return c.rdb.Del(ctx, vehiclesKey(userID)).Err()
}

// OnSettingsCommit is registered as a settings store commit hook.
func (c *VehicleCache) OnSettingsCommit(ctx context.Context, s model.VehicleSettings) {
	if s.UserID == "" {
		return
	}
	if err := c.Invalidate(ctx, s.UserID); err != nil {
		c.log.Warnf("invalidate vehicles of %s: %v", s.UserID, err)
	}
}
