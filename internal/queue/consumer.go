package queue

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"shuq/internal/notify"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// InstanceGroupID 为每个进程生成独立的消费组，每个实例都能收到全部分区的变更，
// 而不是和其他实例分摊分区。
func InstanceGroupID(prefix string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	host = strings.ReplaceAll(host, ".", "-")
	return prefix + "-" + host + "-" + uuid.NewString()[:8]
}

// Consumer 从 Kafka 读取账本变更并投递到本地总线（管理端全局订阅）。
// groupID 应来自 InstanceGroupID；新组从最新位置开始读，不回放历史。
type Consumer struct {
	r   *kafka.Reader
	pub notify.Publisher
	log *zap.Logger
}

func NewConsumer(brokers []string, topic, groupID string, pub notify.Publisher, log *zap.Logger) *Consumer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Consumer{
		r: kafka.NewReader(kafka.ReaderConfig{
			Brokers:  brokers,
			Topic:    topic,
			GroupID:     groupID,
			StartOffset: kafka.LastOffset,
			MinBytes:    1,
			MaxBytes:    1e6,
		}),
		pub: pub,
		log: log.Named("consumer"),
	}
}

func (c *Consumer) Close() error { return c.r.Close() }

func (c *Consumer) Run(ctx context.Context) {
	for {
		m, err := c.r.ReadMessage(ctx)
		if err != nil {
			return // ctx cancel / 连接断开等
		}
		if err := c.handle(ctx, m.Value); err != nil {
			c.log.Warn("handle offer event", zap.Int64("offset", m.Offset), zap.Error(err))
		}
	}
}

// handle 解码并转发一条事件；重复投递无害，订阅方按 id 去重。
func (c *Consumer) handle(ctx context.Context, value []byte) error {
	var msg OfferMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		return errors.Wrap(err, "unmarshal")
	}
	if err := msg.Validate(); err != nil {
		return err
	}
	return c.pub.Publish(ctx, msg.Mutation())
}
