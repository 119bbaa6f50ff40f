package queue

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/segmentio/kafka-go"
)

// Producer 把账本变更写入 Kafka topic，供 Relay 使用。
type Producer struct {
	writer *kafka.Writer
}

// NewProducer 按 session_id 做 Hash 分区，同一会话的变更在分区内保持顺序；
// 写入等待全部 ISR 确认，失败最多重试 5 次。
func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			MaxAttempts:  5,
			WriteTimeout: 5 * time.Second,
			ReadTimeout:  5 * time.Second,
			BatchTimeout: 50 * time.Millisecond,
		},
	}
}

func (p *Producer) Close() error { return p.writer.Close() }

// Publish 同步写入；返回 nil 后 Relay 才会 ACK stream 中的消息。
func (p *Producer) Publish(ctx context.Context, msg OfferMessage) error {
	km, err := kafkaMessage(msg)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, km)
}

// kafkaMessage 编码一条变更。kind 与 attempt_id 放进 header，消费方不解码 value 也能过滤。
func kafkaMessage(msg OfferMessage) (kafka.Message, error) {
	value, err := json.Marshal(msg)
	if err != nil {
		return kafka.Message{}, errors.Wrap(err, "encode offer message")
	}
	return kafka.Message{
		Key:   []byte(msg.Attempt.SessionID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(msg.Kind)},
			{Key: "attempt_id", Value: []byte(msg.Attempt.ID)},
		},
		Time: msg.OccurredAt,
	}, nil
}
