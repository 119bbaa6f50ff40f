package session

import (
	"context"
	"sync"
)

// KeySessionID 设备存储中保存匿名会话 id 的键。
const KeySessionID = "session_id"

// Store is device-scoped key/value storage. It is always passed in explicitly;
// there is no process-wide instance.
type Store interface {
	Load(ctx context.Context, key string) (string, bool, error)
	Save(ctx context.Context, key, value string) error
}

// MemoryStore 进程内实现，测试与单设备场景使用。
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Load(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *MemoryStore) Save(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = value
	return nil
}

type prefixed struct {
	next Store
	ns   string
}

// Prefixed 给所有键加上命名空间，多个设备可共用一个后端。
func Prefixed(next Store, ns string) Store {
	if ns == "" {
		return next
	}
	return &prefixed{next: next, ns: ns}
}

func (p *prefixed) Load(ctx context.Context, key string) (string, bool, error) {
	return p.next.Load(ctx, p.ns+":"+key)
}

func (p *prefixed) Save(ctx context.Context, key, value string) error {
	return p.next.Save(ctx, p.ns+":"+key, value)
}
