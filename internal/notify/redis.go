package notify

import (
	"context"
	"encoding/json"

	rediskey "shuq/pkg/redis"

	"github.com/cockroachdb/errors"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisBus 基于 Redis Pub/Sub：全局频道 + 会话频道，支持多实例之间广播。
type RedisBus struct {
	rdb *rd.Client
	log *zap.Logger
}

func NewRedisBus(rdb *rd.Client, log *zap.Logger) *RedisBus {
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisBus{rdb: rdb, log: log.Named("redis_bus")}
}

// Publish 同一 payload 同时写入全局频道和会话频道。
func (b *RedisBus) Publish(ctx context.Context, m Mutation) error {
	payload, err := json.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshal mutation")
	}
	pipe := b.rdb.Pipeline()
	pipe.Publish(ctx, rediskey.GlobalOfferChannel(), payload)
	pipe.Publish(ctx, rediskey.SessionOfferChannel(m.SessionID()), payload)
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "publish mutation")
	}
	return nil
}

func (b *RedisBus) SubscribeSession(ctx context.Context, sessionID string, h Handler) (*Subscription, error) {
	return b.subscribe(ctx, rediskey.SessionOfferChannel(sessionID), h)
}

func (b *RedisBus) SubscribeGlobal(ctx context.Context, h Handler) (*Subscription, error) {
	return b.subscribe(ctx, rediskey.GlobalOfferChannel(), h)
}

func (b *RedisBus) subscribe(ctx context.Context, channel string, h Handler) (*Subscription, error) {
	ps := b.rdb.Subscribe(ctx, channel)
	// 等待订阅确认，保证返回后发布的消息一定能收到。
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, errors.Wrapf(err, "subscribe %s", channel)
	}

	done := make(chan struct{})
	msgs := ps.Channel()
	go func() {
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var m Mutation
				if err := json.Unmarshal([]byte(msg.Payload), &m); err != nil {
					b.log.Warn("drop malformed mutation", zap.String("channel", channel), zap.Error(err))
					continue
				}
				select {
				case <-done:
					return
				default:
				}
				b.dispatch(h, m)
			}
		}
	}()

	return newSubscription(func() {
		close(done)
		_ = ps.Close()
	}), nil
}

func (b *RedisBus) dispatch(h Handler, m Mutation) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("subscriber panicked", zap.Any("panic", r), zap.String("kind", string(m.Kind)))
		}
	}()
	h(m)
}

var _ Bus = (*RedisBus)(nil)
