package negotiation

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"shuq/internal/model"
	"shuq/internal/session"

	"github.com/cockroachdb/errors"
)

func snapshotKey(sku string) string { return "negotiation:" + sku }

// snapshotTTL 还没有出价的快照只在这段时间内有效，过期后按目录当前价格重新快照。
const snapshotTTL = time.Hour

// snapshot 商品快照的存储形态；MaxDiscountPercentage 在 Product 的 JSON 中隐藏，这里单独带上。
type snapshot struct {
	model.Product
	MaxDiscount int       `json:"max_discount_percentage"`
	CapturedAt  time.Time `json:"captured_at"`
}

func budgetKey(sku string) string { return "attempts:" + sku }

// loadSnapshot 读取会话开始时保存的商品快照。
func loadSnapshot(ctx context.Context, store session.Store, sku string) (snapshot, bool, error) {
	raw, ok, err := store.Load(ctx, snapshotKey(sku))
	if err != nil || !ok || raw == "" {
		return snapshot{}, false, err
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return snapshot{}, false, errors.Wrap(err, "decode product snapshot")
	}
	snap.Product.MaxDiscountPercentage = snap.MaxDiscount
	return snap, true, nil
}

// freshAt 快照在 now 时是否仍可直接使用（不含进行中周期的情况）。
func (s snapshot) freshAt(now time.Time) bool {
	return !s.CapturedAt.IsZero() && now.Sub(s.CapturedAt) <= snapshotTTL
}

func saveSnapshot(ctx context.Context, store session.Store, p model.Product, now time.Time) error {
	raw, err := json.Marshal(snapshot{Product: p, MaxDiscount: p.MaxDiscountPercentage, CapturedAt: now})
	if err != nil {
		return errors.Wrap(err, "encode product snapshot")
	}
	return store.Save(ctx, snapshotKey(p.SKU), string(raw))
}

func clearSnapshot(ctx context.Context, store session.Store, sku string) error {
	return store.Save(ctx, snapshotKey(sku), "")
}

// loadBudget 读取设备端镜像的剩余次数；不存在时视为新周期。
func loadBudget(ctx context.Context, store session.Store, sku string) (int, error) {
	raw, ok, err := store.Load(ctx, budgetKey(sku))
	if err != nil {
		return 0, err
	}
	if !ok || raw == "" {
		return MaxAttempts, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return MaxAttempts, nil
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

func saveBudget(ctx context.Context, store session.Store, sku string, n int) error {
	return store.Save(ctx, budgetKey(sku), strconv.Itoa(n))
}
