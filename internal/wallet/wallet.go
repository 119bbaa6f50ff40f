package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"shuq/internal/coupon"
	"shuq/internal/session"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
)

// Key 设备存储中保存本地优惠券的键。
const Key = "local_coupons"

const (
	kindAccepted    = "accepted_offer"
	kindConsolation = "consolation_discount"
)

// record 是优惠券在设备存储中的 JSON 形态，kind 区分两种变体。
type record struct {
	Kind            string          `json:"kind"`
	ID              string          `json:"id"`
	SessionID       string          `json:"session_id"`
	ProductSKU      string          `json:"product_sku"`
	ProductName     string          `json:"product_name"`
	ProductPrice    decimal.Decimal `json:"product_price"`
	Code            string          `json:"code"`
	CreatedAt       time.Time       `json:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at"`
	OfferedAmount   decimal.Decimal `json:"offered_amount"`
	DiscountPct     int             `json:"discount_percentage,omitempty"`
	DiscountedPrice decimal.Decimal `json:"discounted_price"`
}

func toRecord(c coupon.Coupon) record {
	switch v := c.(type) {
	case coupon.AcceptedOffer:
		return record{
			Kind: kindAccepted, ID: v.ID, SessionID: v.SessionID,
			ProductSKU: v.ProductSKU, ProductName: v.ProductName, ProductPrice: v.ProductPrice,
			Code: v.AcceptanceCode, CreatedAt: v.CreatedAt, ExpiresAt: v.ExpiresAt,
			OfferedAmount: v.OfferedAmount,
		}
	case coupon.ConsolationDiscount:
		return record{
			Kind: kindConsolation, ID: v.ID, SessionID: v.SessionID,
			ProductSKU: v.ProductSKU, ProductName: v.ProductName, ProductPrice: v.ProductPrice,
			Code: v.Code, CreatedAt: v.CreatedAt, ExpiresAt: v.ExpiresAt,
			DiscountPct: v.DiscountPercentage, DiscountedPrice: v.DiscountedPrice,
		}
	default:
		panic(fmt.Sprintf("wallet: unknown coupon variant %T", c))
	}
}

func (r record) coupon(now time.Time) (coupon.Coupon, error) {
	switch r.Kind {
	case kindAccepted:
		return coupon.Refresh(coupon.AcceptedOffer{
			ID: r.ID, SessionID: r.SessionID,
			ProductSKU: r.ProductSKU, ProductName: r.ProductName, ProductPrice: r.ProductPrice,
			OfferedAmount: r.OfferedAmount, AcceptanceCode: r.Code,
			CreatedAt: r.CreatedAt, ExpiresAt: r.ExpiresAt, Local: true,
		}, now), nil
	case kindConsolation:
		return coupon.Refresh(coupon.ConsolationDiscount{
			ID: r.ID, SessionID: r.SessionID,
			ProductSKU: r.ProductSKU, ProductName: r.ProductName, ProductPrice: r.ProductPrice,
			DiscountPercentage: r.DiscountPct, DiscountedPrice: r.DiscountedPrice,
			Code: r.Code, CreatedAt: r.CreatedAt, ExpiresAt: r.ExpiresAt,
		}, now), nil
	default:
		return nil, errors.Newf("unknown local coupon kind %q", r.Kind)
	}
}

// Wallet 设备本地的优惠券列表：账本不可用时的接受记录，以及安慰折扣。
type Wallet struct {
	store session.Store
}

func New(store session.Store) *Wallet {
	return &Wallet{store: store}
}

// Add 追加一张优惠券；id 已存在时覆盖。
func (w *Wallet) Add(ctx context.Context, c coupon.Coupon) error {
	list, err := w.load(ctx)
	if err != nil {
		return err
	}
	rec := toRecord(c)
	replaced := false
	for i := range list {
		if list[i].ID == rec.ID {
			list[i] = rec
			replaced = true
			break
		}
	}
	if !replaced {
		list = append(list, rec)
	}
	raw, err := json.Marshal(list)
	if err != nil {
		return errors.Wrap(err, "encode local coupons")
	}
	return w.store.Save(ctx, Key, string(raw))
}

// List 返回本地优惠券，状态按 now 重新计算，时间倒序。
func (w *Wallet) List(ctx context.Context, now time.Time) ([]coupon.Coupon, error) {
	list, err := w.load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]coupon.Coupon, 0, len(list))
	for _, r := range list {
		c, err := r.coupon(now)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	coupon.SortNewestFirst(out)
	return out, nil
}

func (w *Wallet) load(ctx context.Context) ([]record, error) {
	raw, ok, err := w.store.Load(ctx, Key)
	if err != nil {
		return nil, errors.Wrap(err, "load local coupons")
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var list []record
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		return nil, errors.Wrap(err, "decode local coupons")
	}
	return list, nil
}

// Merge 合并账本与本地优惠券：按 id 去重，冲突时以账本为准，时间倒序。
func Merge(fromLedger, local []coupon.Coupon) []coupon.Coupon {
	seen := make(map[string]struct{}, len(fromLedger)+len(local))
	out := make([]coupon.Coupon, 0, len(fromLedger)+len(local))
	for _, c := range fromLedger {
		seen[c.CouponID()] = struct{}{}
		out = append(out, c)
	}
	for _, c := range local {
		if _, dup := seen[c.CouponID()]; dup {
			continue
		}
		seen[c.CouponID()] = struct{}{}
		out = append(out, c)
	}
	coupon.SortNewestFirst(out)
	return out
}
