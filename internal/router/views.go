package router

import (
	"fmt"
	"time"

	"shuq/internal/coupon"
	"shuq/internal/model"
	"shuq/internal/negotiation"

	"github.com/gin-gonic/gin"
)

// couponView 渲染优惠券；两种变体字段不同，必须穷举。
func couponView(c coupon.Coupon) gin.H {
	switch v := c.(type) {
	case coupon.AcceptedOffer:
		return gin.H{
			"type":            "accepted_offer",
			"id":              v.ID,
			"product_sku":     v.ProductSKU,
			"product_name":    v.ProductName,
			"product_price":   v.ProductPrice,
			"offered_amount":  v.OfferedAmount,
			"acceptance_code": v.AcceptanceCode,
			"status":          v.Status,
			"is_redeemed":     v.IsRedeemed,
			"local":           v.Local,
			"created_at":      v.CreatedAt,
			"expires_at":      v.ExpiresAt,
		}
	case coupon.ConsolationDiscount:
		return gin.H{
			"type":                "consolation_discount",
			"id":                  v.ID,
			"product_sku":         v.ProductSKU,
			"product_name":        v.ProductName,
			"product_price":       v.ProductPrice,
			"discount_percentage": v.DiscountPercentage,
			"discounted_price":    v.DiscountedPrice,
			"code":                v.Code,
			"status":              v.Status,
			"created_at":          v.CreatedAt,
			"expires_at":          v.ExpiresAt,
		}
	default:
		panic(fmt.Sprintf("router: unknown coupon variant %T", c))
	}
}

func couponViews(list []coupon.Coupon) []gin.H {
	out := make([]gin.H, 0, len(list))
	for _, c := range list {
		out = append(out, couponView(c))
	}
	return out
}

// offerView 出价记录 + 派生的优惠券状态（仅 accepted 有）。
// 顾客可见，不含最大折扣，避免反推接受阈值。
func offerView(a model.OfferAttempt, now time.Time) gin.H {
	h := gin.H{
		"id":                 a.ID,
		"session_id":         a.SessionID,
		"product_sku":        a.ProductSKU,
		"product_name":       a.ProductName,
		"product_price":      a.ProductPrice,
		"offered_amount":     a.OfferedAmount,
		"status":             a.Status,
		"attempts_remaining": a.AttemptsRemaining,
		"is_redeemed":        a.IsRedeemed,
		"created_at":         a.CreatedAt,
	}
	if c, ok := coupon.Project(a, now); ok {
		h["acceptance_code"] = c.AcceptanceCode
		h["expires_at"] = c.ExpiresAt
		h["coupon_status"] = c.Status
	}
	return h
}

// adminOfferView 管理端视图，额外带出价时的最大折扣。
func adminOfferView(a model.OfferAttempt, now time.Time) gin.H {
	h := offerView(a, now)
	h["product_max_discount_percentage"] = a.ProductMaxDiscountPercentage
	return h
}

type viewFunc func(model.OfferAttempt, time.Time) gin.H

func offerViews(list []model.OfferAttempt, now time.Time, view viewFunc) []gin.H {
	out := make([]gin.H, 0, len(list))
	for _, a := range list {
		out = append(out, view(a, now))
	}
	return out
}

func outcomeView(o negotiation.Outcome) gin.H {
	h := gin.H{
		"result":             o.Result,
		"attempts_remaining": o.AttemptsRemaining,
		"degraded":           o.Degraded,
	}
	if o.Attempt != nil {
		h["attempt_id"] = o.Attempt.ID
	}
	if o.Coupon != nil {
		h["coupon"] = couponView(o.Coupon)
	}
	return h
}

func openingView(o negotiation.Opening) gin.H {
	h := gin.H{
		"product": gin.H{
			"sku":   o.Product.SKU,
			"name":  o.Product.Name,
			"price": o.Product.Price,
		},
		"attempts_remaining": o.AttemptsRemaining,
		"exhausted":          o.Exhausted,
		"degraded":           o.Degraded,
	}
	if o.Active != nil {
		h["active_coupon"] = couponView(*o.Active)
	}
	if o.Consolation != nil {
		h["consolation"] = couponView(*o.Consolation)
	}
	return h
}
