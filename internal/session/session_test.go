package session

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, ok, err := s.Load(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Save(ctx, "k", "v1"))
	require.NoError(t, s.Save(ctx, "k", "v2"))
	v, ok, err := s.Load(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestMemoryStore(t *testing.T) {
	exerciseStore(t, NewMemoryStore())
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "device", "store.json")
	exerciseStore(t, NewFileStore(path))

	// 新实例读取同一文件，数据持久
	v, ok, err := NewFileStore(path).Load(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v2", v)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	exerciseStore(t, NewRedisStore(rdb, "device-1", time.Hour))
	assert.True(t, mr.TTL("shuq:device:device-1") > 0)
}

func TestPrefixed(t *testing.T) {
	base := NewMemoryStore()
	a := Prefixed(base, "a")
	b := Prefixed(base, "b")
	ctx := context.Background()

	require.NoError(t, a.Save(ctx, "k", "from-a"))
	_, ok, err := b.Load(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)

	v, ok, err := base.Load(ctx, "a:k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "from-a", v)
}

func TestProvider_IDIsStable(t *testing.T) {
	store := NewMemoryStore()
	p := NewProvider(store)
	ctx := context.Background()

	id, err := p.ID(ctx)
	require.NoError(t, err)
	_, err = uuid.Parse(id)
	require.NoError(t, err)

	again, err := NewProvider(store).ID(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again)
}
