package queue

import (
	"time"

	"shuq/internal/model"
	"shuq/internal/notify"

	"github.com/cockroachdb/errors"
)

// OfferMessage 是写入 Stream / Kafka 的账本变更事件，携带完整的出价记录。
type OfferMessage struct {
	Kind       notify.Kind        `json:"kind"`
	Attempt    model.OfferAttempt `json:"attempt"`
	OccurredAt time.Time          `json:"occurred_at"`
}

func FromMutation(m notify.Mutation, at time.Time) OfferMessage {
	return OfferMessage{Kind: m.Kind, Attempt: m.Attempt, OccurredAt: at}
}

// Mutation 还原为进程内的变更通知。
func (m OfferMessage) Mutation() notify.Mutation {
	return notify.Mutation{Kind: m.Kind, Attempt: m.Attempt}
}

// Validate 做最小字段校验，防止消费者处理脏消息。
func (m OfferMessage) Validate() error {
	switch m.Kind {
	case notify.KindAppended, notify.KindRedeemed:
	default:
		return errors.Newf("unknown kind %q", m.Kind)
	}
	if m.Attempt.ID == "" {
		return errors.New("attempt.id is required")
	}
	if m.Attempt.SessionID == "" {
		return errors.New("attempt.session_id is required")
	}
	if m.Attempt.ProductSKU == "" {
		return errors.New("attempt.product_sku is required")
	}
	return nil
}
