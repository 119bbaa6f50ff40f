package catalog

import (
	"context"
	"strconv"
	"time"

	"shuq/internal/model"
	rediskey "shuq/pkg/redis"

	"github.com/cockroachdb/errors"
	rd "github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Cached 在任意 Catalog 前加一层 Redis hash 读穿缓存。
// Redis 出错时直接回源，不影响议价。
type Cached struct {
	next Catalog
	rdb  *rd.Client
	ttl  time.Duration
	log  *zap.Logger
}

func NewCached(next Catalog, rdb *rd.Client, ttl time.Duration, log *zap.Logger) *Cached {
	if log == nil {
		log = zap.NewNop()
	}
	return &Cached{next: next, rdb: rdb, ttl: ttl, log: log.Named("catalog_cache")}
}

func (c *Cached) Get(ctx context.Context, sku string) (model.Product, error) {
	if p, ok := c.lookup(ctx, sku); ok {
		return p, nil
	}
	p, err := c.next.Get(ctx, sku)
	if err != nil {
		return model.Product{}, err
	}
	if err := c.Warm(ctx, p); err != nil {
		c.log.Warn("warm product cache failed", zap.String("sku", sku), zap.Error(err))
	}
	return p, nil
}

// Warm 把商品写入缓存（预热接口也走这里）。
func (c *Cached) Warm(ctx context.Context, p model.Product) error {
	key := rediskey.ProductKey(p.SKU)
	pipe := c.rdb.TxPipeline()
	pipe.HSet(ctx, key, map[string]any{
		"sku":          p.SKU,
		"name":         p.Name,
		"price":        p.Price.String(),
		"max_discount": strconv.Itoa(p.MaxDiscountPercentage),
	})
	if c.ttl > 0 {
		pipe.Expire(ctx, key, c.ttl)
	}
	_, err := pipe.Exec(ctx)
	return errors.Wrap(err, "warm product cache")
}

// Invalidate 改价后删除缓存。
func (c *Cached) Invalidate(ctx context.Context, sku string) error {
	return errors.Wrap(c.rdb.Del(ctx, rediskey.ProductKey(sku)).Err(), "invalidate product cache")
}

func (c *Cached) lookup(ctx context.Context, sku string) (model.Product, bool) {
	vals, err := c.rdb.HGetAll(ctx, rediskey.ProductKey(sku)).Result()
	if err != nil {
		c.log.Warn("read product cache failed", zap.String("sku", sku), zap.Error(err))
		return model.Product{}, false
	}
	if len(vals) == 0 {
		return model.Product{}, false
	}
	price, err := decimal.NewFromString(vals["price"])
	if err != nil {
		return model.Product{}, false
	}
	pct, err := strconv.Atoi(vals["max_discount"])
	if err != nil {
		return model.Product{}, false
	}
	return model.Product{
		SKU:                   vals["sku"],
		Name:                  vals["name"],
		Price:                 price,
		MaxDiscountPercentage: pct,
	}, true
}
