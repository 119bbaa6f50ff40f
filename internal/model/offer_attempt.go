package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxAttempts 每个 (session, sku) 议价周期的出价次数上限。
const MaxAttempts = 3

// OfferStatus 描述单次出价的结果。
type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

// OfferAttempt is one row of the offer ledger: a single negotiation attempt.
// Rows are append-only; IsRedeemed is the only column ever updated.
type OfferAttempt struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	CreatedAt time.Time `gorm:"not null;index" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`

	SessionID  string `gorm:"size:64;not null;index:idx_offer_session_sku,priority:1" json:"session_id"`
	ProductSKU string `gorm:"size:64;not null;index:idx_offer_session_sku,priority:2" json:"product_sku"`
	// 商品信息为出价时的快照，后续改价不影响历史记录。
	ProductName                  string          `gorm:"size:128;not null" json:"product_name"`
	ProductPrice                 decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"product_price"`
	ProductMaxDiscountPercentage int             `gorm:"not null" json:"product_max_discount_percentage"`

	OfferedAmount decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"offered_amount"`
	Status        OfferStatus     `gorm:"size:16;not null;index" json:"status"`
	// AcceptanceCode 仅在 accepted 时存在。
	AcceptanceCode    *string    `gorm:"size:8;uniqueIndex" json:"acceptance_code"`
	AttemptsRemaining int        `gorm:"not null" json:"attempts_remaining"`
	IsRedeemed        bool       `gorm:"not null;default:false" json:"is_redeemed"`
	ExpiresAt         *time.Time `json:"expires_at"`
}

func (OfferAttempt) TableName() string { return "offer_attempts" }

// Accepted reports whether the attempt was accepted.
func (a OfferAttempt) Accepted() bool { return a.Status == OfferAccepted }

// ActiveAt 表示已接受且尚未到 expiresAt 的出价（同一商品不可再开新议价）。
func (a OfferAttempt) ActiveAt(now time.Time) bool {
	return a.Accepted() && a.ExpiresAt != nil && now.Before(*a.ExpiresAt)
}
