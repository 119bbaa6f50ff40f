package coupon

import (
	"crypto/rand"
	"math/big"
	"regexp"
	"time"
)

const (
	// CodeLength 兑换码长度，字符集为 [A-Z0-9]。
	CodeLength   = 8
	codeAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	// AcceptanceTTL 接受后的出价在该时长内阻止同一商品再次议价。
	AcceptanceTTL = time.Hour
	// RedemptionWindow 优惠券在该窗口内可兑换，超时未用即作废。
	RedemptionWindow = 30 * time.Minute
	// ConsolationPercentage 次数用尽后的安慰折扣。
	ConsolationPercentage = 15
)

var codeRegex = regexp.MustCompile(`^[A-Z0-9]{8}$`)

// NewCode draws CodeLength symbols uniformly from [A-Z0-9].
// Collisions are not checked here; the ledger's unique index catches them.
func NewCode() (string, error) {
	max := big.NewInt(int64(len(codeAlphabet)))
	buf := make([]byte, CodeLength)
	for i := range buf {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		buf[i] = codeAlphabet[n.Int64()]
	}
	return string(buf), nil
}

// ValidCode 校验兑换码格式（管理端手工输入时使用）。
func ValidCode(code string) bool {
	return codeRegex.MatchString(code)
}
