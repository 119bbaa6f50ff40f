package coupon

import (
	"sort"
	"time"

	"shuq/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status 是优惠券的派生状态，每次读取时重新计算，从不落库。
type Status string

const (
	StatusPending   Status = "pending"
	StatusUsed      Status = "used"
	StatusCancelled Status = "cancelled"
)

// Coupon is either an AcceptedOffer or a ConsolationDiscount.
// The interface is sealed; switch on the concrete type to handle each case.
type Coupon interface {
	CouponID() string
	SKU() string
	IssuedAt() time.Time
	sealed()
}

// AcceptedOffer 由一条 accepted 的出价记录派生。
type AcceptedOffer struct {
	ID             string
	SessionID      string
	ProductSKU     string
	ProductName    string
	ProductPrice   decimal.Decimal
	OfferedAmount  decimal.Decimal
	AcceptanceCode string
	IsRedeemed     bool
	CreatedAt      time.Time
	ExpiresAt      time.Time
	Status         Status
	// Local 为 true 表示账本写入失败，仅保存在设备本地。
	Local bool
}

func (a AcceptedOffer) CouponID() string    { return a.ID }
func (a AcceptedOffer) SKU() string         { return a.ProductSKU }
func (a AcceptedOffer) IssuedAt() time.Time { return a.CreatedAt }
func (AcceptedOffer) sealed()               {}

// ActiveAt reports whether the offer still blocks a new negotiation for its product.
func (a AcceptedOffer) ActiveAt(now time.Time) bool {
	return now.Before(a.ExpiresAt)
}

// ConsolationDiscount 次数用尽后强制发放的固定折扣。
type ConsolationDiscount struct {
	ID                 string
	SessionID          string
	ProductSKU         string
	ProductName        string
	ProductPrice       decimal.Decimal
	DiscountPercentage int
	DiscountedPrice    decimal.Decimal
	Code               string
	CreatedAt          time.Time
	ExpiresAt          time.Time
	Status             Status
}

func (c ConsolationDiscount) CouponID() string    { return c.ID }
func (c ConsolationDiscount) SKU() string         { return c.ProductSKU }
func (c ConsolationDiscount) IssuedAt() time.Time { return c.CreatedAt }
func (ConsolationDiscount) sealed()               {}

// NewConsolation issues a consolation discount for the product snapshot.
// The discounted price is rounded to precision decimal places.
func NewConsolation(sessionID string, p model.Product, precision int32, now time.Time) (ConsolationDiscount, error) {
	code, err := NewCode()
	if err != nil {
		return ConsolationDiscount{}, err
	}
	discounted := p.Price.
		Mul(decimal.NewFromInt(100 - ConsolationPercentage)).
		Div(decimal.NewFromInt(100)).
		Round(precision)
	return ConsolationDiscount{
		ID:                 uuid.NewString(),
		SessionID:          sessionID,
		ProductSKU:         p.SKU,
		ProductName:        p.Name,
		ProductPrice:       p.Price,
		DiscountPercentage: ConsolationPercentage,
		DiscountedPrice:    discounted,
		Code:               code,
		CreatedAt:          now,
		ExpiresAt:          now.Add(AcceptanceTTL),
		Status:             StatusAt(now, false, now),
	}, nil
}

// SortNewestFirst 按签发时间倒序，时间相同保持原顺序。
func SortNewestFirst(list []Coupon) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].IssuedAt().After(list[j].IssuedAt())
	})
}
