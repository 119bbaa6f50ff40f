package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	rd "github.com/redis/go-redis/v9"
)

// luaReleaseLockIfMatch 仅当锁值匹配持有者 token 时才删除，避免误删其他设备的新锁。
const luaReleaseLockIfMatch = `
local lockKey = KEYS[1]
local token = ARGV[1]
if redis.call('GET', lockKey) == token then
  return redis.call('DEL', lockKey)
end
return 0
`

// SubmitLocker 用 SET NX PX 串行化同一 (session, sku) 的出价提交。
// 共享同一个会话 id 的多台设备并发提交时，只有一个能进入议价流程。
type SubmitLocker struct {
	rdb *rd.Client
	ttl time.Duration
}

func NewSubmitLocker(rdb *rd.Client, ttl time.Duration) *SubmitLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &SubmitLocker{rdb: rdb, ttl: ttl}
}

// TryLock 抢锁；acquired=false 表示已有提交在处理中。
// TTL 兜底：持有者崩溃后锁会自动过期。
func (l *SubmitLocker) TryLock(ctx context.Context, sessionID, sku string) (func(), bool, error) {
	key := SubmitLockKey(sessionID, sku)
	token := uuid.NewString()
	ok, err := l.rdb.SetNX(ctx, key, token, l.ttl).Result()
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	release := func() {
		// 释放不跟随请求 ctx，请求被取消后也要尽量释放。
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = ReleaseLockIfMatch(ctx, l.rdb, key, token)
	}
	return release, true, nil
}

// ReleaseLockIfMatch 安全释放锁。
func ReleaseLockIfMatch(ctx context.Context, rdb *rd.Client, lockKey, token string) error {
	_, err := rdb.Eval(ctx, luaReleaseLockIfMatch, []string{lockKey}, token).Int()
	return err
}
