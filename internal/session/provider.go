package session

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Provider 提供稳定的匿名会话 id：首次读取时生成 UUID 并写回设备存储。
type Provider struct {
	store Store
}

func NewProvider(store Store) *Provider {
	return &Provider{store: store}
}

// ID returns the session id persisted in the store, creating one if absent.
// The id is never validated server-side.
func (p *Provider) ID(ctx context.Context) (string, error) {
	id, ok, err := p.store.Load(ctx, KeySessionID)
	if err != nil {
		return "", errors.Wrap(err, "load session id")
	}
	if ok && id != "" {
		return id, nil
	}
	id = uuid.NewString()
	if err := p.store.Save(ctx, KeySessionID, id); err != nil {
		return "", errors.Wrap(err, "save session id")
	}
	return id, nil
}
