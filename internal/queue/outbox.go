package queue

import (
	"context"
	"encoding/json"

	"shuq/internal/clock"
	"shuq/internal/notify"

	"github.com/cockroachdb/errors"
	rd "github.com/redis/go-redis/v9"
)

// StreamOutbox 把账本变更写入 Redis Stream，由 Relay 异步转发到 Kafka。
// 实现 notify.Publisher，可与 RedisBus 组合为 notify.Multi。
type StreamOutbox struct {
	rdb    *rd.Client
	stream string
	clock  clock.Clock
}

func NewStreamOutbox(rdb *rd.Client, stream string, clk clock.Clock) *StreamOutbox {
	return &StreamOutbox{rdb: rdb, stream: stream, clock: clk}
}

func (o *StreamOutbox) Publish(ctx context.Context, m notify.Mutation) error {
	payload, err := json.Marshal(FromMutation(m, o.clock.Now()))
	if err != nil {
		return errors.Wrap(err, "encode offer event")
	}
	err = o.rdb.XAdd(ctx, &rd.XAddArgs{
		Stream: o.stream,
		Values: map[string]any{
			"kind":       string(m.Kind),
			"session_id": m.SessionID(),
			"attempt_id": m.Attempt.ID,
			"payload":    string(payload),
		},
	}).Err()
	return errors.Wrap(err, "xadd offer event")
}
