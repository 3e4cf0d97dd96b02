package storage

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	availabilityKeyPrefix = "availability:"
	idempotencyKeyPrefix  = "idempotency:"
	idempotencyKeyTTL     = 24 * time.Hour
	availabilityKeyTTL    = time.Hour
)

// Overwrites the mirror only if the incoming version is not older.
var setAvailabilityScript = redis.NewScript(`
local key = KEYS[1]
local available = ARGV[1]
local version = tonumber(ARGV[2])
local ttl = tonumber(ARGV[3])

local current = redis.call('HGET', key, 'version')
if current and tonumber(current) > version then
	return 0
end

redis.call('HSET', key, 'available', available, 'version', version)
redis.call('PEXPIRE', key, ttl)
return 1
`)

// RedisAdapter implements port.CacheRepository.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) SetIdempotency(ctx context.Context, key string) (bool, error) {
	ok, err := r.client.SetNX(ctx, idempotencyKeyPrefix+key, 1, idempotencyKeyTTL).Result()
	if err != nil {
		return false, err
	}

	return ok, nil
}

func (r *RedisAdapter) ReleaseIdempotency(ctx context.Context, key string) error {
	return r.client.Del(ctx, idempotencyKeyPrefix+key).Err()
}

func (r *RedisAdapter) SetAvailability(ctx context.Context, bookID string, available int, version int64) error {
	key := availabilityKeyPrefix + bookID
	return setAvailabilityScript.Run(ctx, r.client, []string{key},
		available, version, availabilityKeyTTL.Milliseconds()).Err()
}

func (r *RedisAdapter) DeleteAvailability(ctx context.Context, bookID string) error {
	return r.client.Del(ctx, availabilityKeyPrefix+bookID).Err()
}

func (r *RedisAdapter) GetAvailability(ctx context.Context, bookID string) (int, bool, error) {
	available, err := r.client.HGet(ctx, availabilityKeyPrefix+bookID, "available").Int()
	if errors.Is(err, redis.Nil) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}

	return available, true, nil
}
