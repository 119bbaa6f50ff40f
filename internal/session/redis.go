package session

import (
	"context"
	"time"

	pkgredis "shuq/pkg/redis"

	"github.com/redis/go-redis/v9"
)

// RedisStore 每台设备一个 Redis hash，用于服务端保存设备状态。
type RedisStore struct {
	rdb      *redis.Client
	deviceID string
	ttl      time.Duration
}

func NewRedisStore(rdb *redis.Client, deviceID string, ttl time.Duration) *RedisStore {
	return &RedisStore{rdb: rdb, deviceID: deviceID, ttl: ttl}
}

func (s *RedisStore) Load(ctx context.Context, key string) (string, bool, error) {
	return pkgredis.GetDeviceValue(ctx, s.rdb, s.deviceID, key)
}

func (s *RedisStore) Save(ctx context.Context, key, value string) error {
	return pkgredis.PutDeviceValue(ctx, s.rdb, s.deviceID, key, value, s.ttl)
}
