package negotiation

import (
	"shuq/internal/model"

	"github.com/shopspring/decimal"
)

// MaxAttempts 每个 (session, sku) 议价周期的出价次数上限。
const MaxAttempts = model.MaxAttempts

// DefaultPrecision 金额比较时使用的小数位数，与展示精度一致。
const DefaultPrecision int32 = 2

// Decision is the outcome of a single offer. The acceptance threshold is
// deliberately absent.
type Decision struct {
	Accepted               bool
	AttemptsRemainingAfter int
}

// Engine 纯函数式的接受/拒绝判定，无副作用。
type Engine struct {
	precision int32
}

func NewEngine(precision int32) *Engine {
	if precision < 0 {
		precision = DefaultPrecision
	}
	return &Engine{precision: precision}
}

// Precision 返回金额精度。
func (e *Engine) Precision() int32 { return e.precision }

// Decide accepts iff offered >= price*(1-maxDiscount/100), both sides rounded to
// the engine precision. Acceptance keeps the budget; rejection consumes one
// attempt and never goes below zero.
func (e *Engine) Decide(p model.Product, offered decimal.Decimal, attemptsBefore int) Decision {
	if attemptsBefore < 0 {
		attemptsBefore = 0
	}
	if offered.Round(e.precision).GreaterThanOrEqual(e.threshold(p)) {
		return Decision{Accepted: true, AttemptsRemainingAfter: attemptsBefore}
	}
	after := attemptsBefore - 1
	if after < 0 {
		after = 0
	}
	return Decision{Accepted: false, AttemptsRemainingAfter: after}
}

func (e *Engine) threshold(p model.Product) decimal.Decimal {
	pct := p.MaxDiscountPercentage
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return p.Price.
		Mul(decimal.NewFromInt(int64(100 - pct))).
		Div(decimal.NewFromInt(100)).
		Round(e.precision)
}
