package redis

import (
	"context"
	"time"

	rd "github.com/redis/go-redis/v9"
)

// GetDeviceValue 读取设备存储中的单个字段。found=false 表示字段不存在。
func GetDeviceValue(ctx context.Context, rdb *rd.Client, deviceID, field string) (string, bool, error) {
	v, err := rdb.HGet(ctx, DeviceKey(deviceID), field).Result()
	if err != nil {
		if err == rd.Nil {
			return "", false, nil
		}
		return "", false, err
	}
	return v, true, nil
}

// PutDeviceValue 写入单个字段，并刷新整个设备 hash 的 TTL。
func PutDeviceValue(ctx context.Context, rdb *rd.Client, deviceID, field, value string, ttl time.Duration) error {
	key := DeviceKey(deviceID)
	pipe := rdb.TxPipeline()
	pipe.HSet(ctx, key, field, value)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}
