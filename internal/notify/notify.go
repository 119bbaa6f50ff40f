package notify

import (
	"context"
	"sync"

	"shuq/internal/model"

	"github.com/cockroachdb/errors"
)

// Kind 描述账本变更类型。
type Kind string

const (
	KindAppended Kind = "offer.appended"
	KindRedeemed Kind = "offer.redeemed"
)

// Mutation carries the full mutated ledger row.
type Mutation struct {
	Kind    Kind               `json:"kind"`
	Attempt model.OfferAttempt `json:"attempt"`
}

// SessionID 返回变更所属的会话。
func (m Mutation) SessionID() string { return m.Attempt.SessionID }

// Handler 处理一次变更通知。可能与账本读取并发执行，不保证订阅者之间的顺序。
type Handler func(Mutation)

// Publisher 由账本在每次追加或兑换后调用。
type Publisher interface {
	Publish(ctx context.Context, m Mutation) error
}

// Subscriber 提供会话级与全局订阅。
type Subscriber interface {
	SubscribeSession(ctx context.Context, sessionID string, h Handler) (*Subscription, error)
	SubscribeGlobal(ctx context.Context, h Handler) (*Subscription, error)
}

// Bus combines both sides of the notifier.
type Bus interface {
	Publisher
	Subscriber
}

// Subscription is the handle returned by Subscribe*. Unsubscribe stops future
// deliveries; it never cancels an append that is already in flight.
type Subscription struct {
	once   sync.Once
	cancel func()
}

func newSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

// Unsubscribe 幂等，可重复调用。
func (s *Subscription) Unsubscribe() {
	if s == nil {
		return
	}
	s.once.Do(s.cancel)
}

// Multi 将同一变更投递给多个发布者（例如 Redis Pub/Sub + Stream outbox）。
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, mu Mutation) error {
	var errs error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, mu); err != nil {
			errs = errors.CombineErrors(errs, err)
		}
	}
	return errs
}

// Nop discards every mutation.
type Nop struct{}

func (Nop) Publish(context.Context, Mutation) error { return nil }
