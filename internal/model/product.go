package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Product 商品参考数据：SKU、名称、价格、隐藏的最大折扣。
// 对议价核心而言只读，管理员可以在外部修改价格。
type Product struct {
	ID        uint      `gorm:"primarykey" json:"-"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	SKU   string          `gorm:"size:64;uniqueIndex;not null" json:"sku"`
	Name  string          `gorm:"size:128;not null" json:"name"`
	Price decimal.Decimal `gorm:"type:decimal(20,2);not null" json:"price"`
	// MaxDiscountPercentage 对顾客不可见，只参与接受阈值计算。
	MaxDiscountPercentage int `gorm:"not null;default:0" json:"-"`
}

func (Product) TableName() string { return "products" }

// Validate 校验商品参考数据的基本约束。
func (p Product) Validate() error {
	if strings.TrimSpace(p.SKU) == "" {
		return fmt.Errorf("sku is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if !p.Price.IsPositive() {
		return fmt.Errorf("price must be > 0")
	}
	if p.MaxDiscountPercentage < 0 || p.MaxDiscountPercentage > 100 {
		return fmt.Errorf("max_discount_percentage must be between 0 and 100")
	}
	return nil
}
