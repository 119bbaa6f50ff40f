package notify

import (
	"context"
	"sync"

	"shuq/internal/metrics"

	"go.uber.org/zap"
)

const defaultBuffer = 64

// MemoryBus is an in-process fan-out. Every subscriber owns a buffered channel
// drained by its own goroutine; a full buffer drops the mutation, which is
// acceptable because consumers can always re-query the ledger.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[uint64]*subscriber
	next   uint64
	buffer int
	log    *zap.Logger
}

type subscriber struct {
	sessionID string // 为空表示全局订阅
	ch        chan Mutation
	done      chan struct{}
}

func NewMemoryBus(buffer int, log *zap.Logger) *MemoryBus {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &MemoryBus{
		subs:   make(map[uint64]*subscriber),
		buffer: buffer,
		log:    log.Named("memory_bus"),
	}
}

// Publish 非阻塞投递。
func (b *MemoryBus) Publish(_ context.Context, m Mutation) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		if s.sessionID != "" && s.sessionID != m.SessionID() {
			continue
		}
		select {
		case s.ch <- m:
		default:
			metrics.NotificationsDropped.Inc()
			b.log.Warn("subscriber buffer full, mutation dropped",
				zap.String("kind", string(m.Kind)),
				zap.String("attempt_id", m.Attempt.ID),
			)
		}
	}
	return nil
}

func (b *MemoryBus) SubscribeSession(_ context.Context, sessionID string, h Handler) (*Subscription, error) {
	return b.add(sessionID, h), nil
}

func (b *MemoryBus) SubscribeGlobal(_ context.Context, h Handler) (*Subscription, error) {
	return b.add("", h), nil
}

func (b *MemoryBus) add(sessionID string, h Handler) *Subscription {
	s := &subscriber{
		sessionID: sessionID,
		ch:        make(chan Mutation, b.buffer),
		done:      make(chan struct{}),
	}

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = s
	b.mu.Unlock()

	go b.loop(s, h)

	return newSubscription(func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
		close(s.done)
	})
}

func (b *MemoryBus) loop(s *subscriber, h Handler) {
	for {
		select {
		case <-s.done:
			return
		case m := <-s.ch:
			// 退订后缓冲区里剩余的变更不再投递。
			select {
			case <-s.done:
				return
			default:
			}
			b.dispatch(h, m)
		}
	}
}

func (b *MemoryBus) dispatch(h Handler, m Mutation) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("subscriber panicked", zap.Any("panic", r), zap.String("kind", string(m.Kind)))
		}
	}()
	h(m)
}

var _ Bus = (*MemoryBus)(nil)
