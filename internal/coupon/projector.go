package coupon

import (
	"fmt"
	"time"

	"shuq/internal/model"
)

// StatusAt is the single place where coupon status is derived:
// used if redeemed, cancelled once RedemptionWindow has elapsed since creation,
// pending otherwise. used and cancelled are terminal.
func StatusAt(createdAt time.Time, redeemed bool, now time.Time) Status {
	if redeemed {
		return StatusUsed
	}
	if now.Sub(createdAt) > RedemptionWindow {
		return StatusCancelled
	}
	return StatusPending
}

// Project 将 accepted 出价投影为优惠券视图；非 accepted 返回 false。
func Project(attempt model.OfferAttempt, now time.Time) (AcceptedOffer, bool) {
	if attempt.Status != model.OfferAccepted {
		return AcceptedOffer{}, false
	}
	out := AcceptedOffer{
		ID:            attempt.ID,
		SessionID:     attempt.SessionID,
		ProductSKU:    attempt.ProductSKU,
		ProductName:   attempt.ProductName,
		ProductPrice:  attempt.ProductPrice,
		OfferedAmount: attempt.OfferedAmount,
		IsRedeemed:    attempt.IsRedeemed,
		CreatedAt:     attempt.CreatedAt,
		Status:        StatusAt(attempt.CreatedAt, attempt.IsRedeemed, now),
	}
	if attempt.AcceptanceCode != nil {
		out.AcceptanceCode = *attempt.AcceptanceCode
	}
	if attempt.ExpiresAt != nil {
		out.ExpiresAt = *attempt.ExpiresAt
	} else {
		out.ExpiresAt = attempt.CreatedAt.Add(AcceptanceTTL)
	}
	return out, true
}

// ProjectAll 投影一组出价，跳过非 accepted 的记录。
func ProjectAll(attempts []model.OfferAttempt, now time.Time) []Coupon {
	out := make([]Coupon, 0, len(attempts))
	for _, a := range attempts {
		if c, ok := Project(a, now); ok {
			out = append(out, c)
		}
	}
	return out
}

// Refresh recomputes the status of any coupon at now.
func Refresh(c Coupon, now time.Time) Coupon {
	switch v := c.(type) {
	case AcceptedOffer:
		v.Status = StatusAt(v.CreatedAt, v.IsRedeemed, now)
		return v
	case ConsolationDiscount:
		v.Status = StatusAt(v.CreatedAt, false, now)
		return v
	default:
		panic(fmt.Sprintf("coupon: unknown variant %T", c))
	}
}
