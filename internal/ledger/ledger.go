package ledger

import (
	"context"
	"strings"

	"shuq/internal/clock"
	"shuq/internal/coupon"
	"shuq/internal/metrics"
	"shuq/internal/model"
	"shuq/internal/notify"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrUnavailable marks storage failures; callers fall back to device-only persistence.
	ErrUnavailable = errors.New("offer ledger unavailable")
	// ErrNotFound 出价记录不存在。
	ErrNotFound = errors.New("offer attempt not found")
)

// maxCodeAttempts 兑换码撞库时的最大重试次数。
const maxCodeAttempts = 5

// Draft 是一次出价在写入账本前的内容，id/时间/兑换码由账本分配。
type Draft struct {
	SessionID         string
	Product           model.Product
	OfferedAmount     decimal.Decimal
	Accepted          bool
	AttemptsRemaining int
}

// Ledger is the durable, append-only offer log. It is the source of truth for
// remaining attempts and acceptance state.
type Ledger struct {
	db    *gorm.DB
	pub   notify.Publisher
	clock clock.Clock
	log   *zap.Logger
}

func New(db *gorm.DB, pub notify.Publisher, clk clock.Clock, log *zap.Logger) *Ledger {
	if pub == nil {
		pub = notify.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{db: db, pub: pub, clock: clk, log: log.Named("ledger")}
}

// Append 追加一条出价；accepted 时分配 8 位兑换码与 createdAt+1h 的过期时间。
func (l *Ledger) Append(ctx context.Context, d Draft) (model.OfferAttempt, error) {
	now := l.clock.Now()
	row := model.OfferAttempt{
		ID:                           uuid.NewString(),
		CreatedAt:                    now,
		UpdatedAt:                    now,
		SessionID:                    d.SessionID,
		ProductSKU:                   d.Product.SKU,
		ProductName:                  d.Product.Name,
		ProductPrice:                 d.Product.Price,
		ProductMaxDiscountPercentage: d.Product.MaxDiscountPercentage,
		OfferedAmount:                d.OfferedAmount,
		Status:                       model.OfferRejected,
		AttemptsRemaining:            d.AttemptsRemaining,
	}

	if !d.Accepted {
		if err := l.db.WithContext(ctx).Create(&row).Error; err != nil {
			return model.OfferAttempt{}, unavailable(err, "append offer attempt")
		}
		l.publish(ctx, notify.KindAppended, row)
		return row, nil
	}

	row.Status = model.OfferAccepted
	expires := now.Add(coupon.AcceptanceTTL)
	row.ExpiresAt = &expires

	for i := 0; i < maxCodeAttempts; i++ {
		code, err := coupon.NewCode()
		if err != nil {
			return model.OfferAttempt{}, errors.Wrap(err, "generate acceptance code")
		}
		row.AcceptanceCode = &code

		err = l.db.WithContext(ctx).Create(&row).Error
		if err == nil {
			l.publish(ctx, notify.KindAppended, row)
			return row, nil
		}
		if !isUniqueViolation(err) {
			return model.OfferAttempt{}, unavailable(err, "append accepted offer")
		}
		// 兑换码冲突：换新 id 和新码重试。
		l.log.Warn("acceptance code collision, retrying", zap.Int("attempt", i+1))
		row.ID = uuid.NewString()
	}
	return model.OfferAttempt{}, errors.Newf("could not allocate a unique acceptance code after %d attempts", maxCodeAttempts)
}

// Get 按 id 查询。
func (l *Ledger) Get(ctx context.Context, id string) (model.OfferAttempt, error) {
	var row model.OfferAttempt
	err := l.db.WithContext(ctx).Where("id = ?", id).First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.OfferAttempt{}, errors.Mark(errors.Newf("offer attempt %q", id), ErrNotFound)
		}
		return model.OfferAttempt{}, unavailable(err, "get offer attempt")
	}
	return row, nil
}

// ListBySession 按时间倒序返回会话的全部出价。
func (l *Ledger) ListBySession(ctx context.Context, sessionID string) ([]model.OfferAttempt, error) {
	var list []model.OfferAttempt
	err := l.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("created_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, unavailable(err, "list offers by session")
	}
	return list, nil
}

// ListByProduct 按时间倒序返回会话在某商品上的出价。
func (l *Ledger) ListByProduct(ctx context.Context, sessionID, sku string) ([]model.OfferAttempt, error) {
	var list []model.OfferAttempt
	err := l.db.WithContext(ctx).
		Where("session_id = ? AND product_sku = ?", sessionID, sku).
		Order("created_at DESC").
		Find(&list).Error
	if err != nil {
		return nil, unavailable(err, "list offers by product")
	}
	return list, nil
}

// ListAll 管理端使用：全部会话的出价，时间倒序。
func (l *Ledger) ListAll(ctx context.Context) ([]model.OfferAttempt, error) {
	var list []model.OfferAttempt
	if err := l.db.WithContext(ctx).Order("created_at DESC").Find(&list).Error; err != nil {
		return nil, unavailable(err, "list all offers")
	}
	return list, nil
}

// RemainingAttempts 查询当前议价周期剩余次数。
func (l *Ledger) RemainingAttempts(ctx context.Context, sessionID, sku string) (int, error) {
	history, err := l.ListByProduct(ctx, sessionID, sku)
	if err != nil {
		return 0, err
	}
	return RemainingFrom(history), nil
}

// RemainingFrom derives the attempt budget from a newest-first history:
// MaxAttempts when empty or when the most recent attempt was accepted,
// otherwise that attempt's snapshot clamped to >= 0.
func RemainingFrom(history []model.OfferAttempt) int {
	if len(history) == 0 {
		return model.MaxAttempts
	}
	latest := history[0]
	if latest.Accepted() {
		return model.MaxAttempts
	}
	if latest.AttemptsRemaining < 0 {
		return 0
	}
	return latest.AttemptsRemaining
}

// MarkRedeemed 由管理端触发，是唯一会修改已有记录的操作；重复调用结果相同。
func (l *Ledger) MarkRedeemed(ctx context.Context, id string) (model.OfferAttempt, error) {
	row, err := l.Get(ctx, id)
	if err != nil {
		return model.OfferAttempt{}, err
	}
	if row.IsRedeemed {
		return row, nil
	}

	now := l.clock.Now()
	err = l.db.WithContext(ctx).
		Model(&model.OfferAttempt{}).
		Where("id = ?", id).
		UpdateColumns(map[string]any{
			"is_redeemed": true,
			"updated_at":  now,
		}).Error
	if err != nil {
		return model.OfferAttempt{}, unavailable(err, "mark offer redeemed")
	}
	row.IsRedeemed = true
	row.UpdatedAt = now

	metrics.CouponsRedeemed.Inc()
	l.publish(ctx, notify.KindRedeemed, row)
	return row, nil
}

// publish 尽力而为：通知失败只记日志，订阅方可随时重新查询账本。
func (l *Ledger) publish(ctx context.Context, kind notify.Kind, row model.OfferAttempt) {
	if err := l.pub.Publish(ctx, notify.Mutation{Kind: kind, Attempt: row}); err != nil {
		l.log.Warn("publish mutation failed",
			zap.String("kind", string(kind)),
			zap.String("attempt_id", row.ID),
			zap.Error(err),
		)
	}
}

func unavailable(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrUnavailable)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE") || strings.Contains(s, "unique")
}
