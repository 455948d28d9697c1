package util

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

type Deduper struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewDeduper(rdb *redis.Client, ttl time.Duration) *Deduper {
	return &Deduper{rdb: rdb, ttl: ttl}
}

// AcquireOnce tries to acquire a dedup lock for a handler + key.
// Returns true if this is the FIRST time processing, false on duplicate.
// When redis is unavailable it fails open and allows processing; downstream
// guards (idempotent SQL) catch the duplicate.
func (d *Deduper) AcquireOnce(ctx context.Context, handler string, key string) bool {
	redisKey := fmt.Sprintf("dedup:%s:%s", handler, key)

	ok, err := d.rdb.SetNX(ctx, redisKey, 1, d.ttl).Result()
	if err != nil {
		return true
	}
	return ok
}

// Release drops the dedup lock so a nacked message can be reprocessed on
// redelivery. Without this the redelivered message would look like a
// duplicate and be acked away unprocessed.
func (d *Deduper) Release(ctx context.Context, handler string, key string) {
	redisKey := fmt.Sprintf("dedup:%s:%s", handler, key)
	d.rdb.Del(ctx, redisKey)
}
