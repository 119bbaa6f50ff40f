package redis

import "fmt"

// ProductKey 商品参考数据的读穿缓存（hash）。
func ProductKey(sku string) string {
	return fmt.Sprintf("shuq:product:%s", sku)
}

// DeviceKey 设备本地存储降级到 Redis 时使用的 hash。
func DeviceKey(deviceID string) string {
	return fmt.Sprintf("shuq:device:%s", deviceID)
}

// SubmitLockKey 同一会话在同一商品上的出价互斥锁。
func SubmitLockKey(sessionID, sku string) string {
	return fmt.Sprintf("shuq:offer:lock:%s:%s", sessionID, sku)
}

// OfferRateLimitKey 按会话限流；会话缺失时按 IP。
func OfferRateLimitKey(sessionID, clientIP string) string {
	if sessionID != "" {
		return fmt.Sprintf("rate_limit:shuq:offer:session:%s", sessionID)
	}
	return fmt.Sprintf("rate_limit:shuq:offer:ip:%s", clientIP)
}

// GlobalOfferChannel 全局 Pub/Sub 频道（管理端）。
func GlobalOfferChannel() string {
	return "shuq:offers:global"
}

// SessionOfferChannel 会话级 Pub/Sub 频道。
func SessionOfferChannel(sessionID string) string {
	return fmt.Sprintf("shuq:offers:session:%s", sessionID)
}
