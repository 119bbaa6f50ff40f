package negotiation

import (
	"context"
	"sync"
	"time"

	"shuq/internal/catalog"
	"shuq/internal/clock"
	"shuq/internal/coupon"
	"shuq/internal/ledger"
	"shuq/internal/metrics"
	"shuq/internal/model"
	"shuq/internal/session"
	"shuq/internal/wallet"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrInvalidAmount      = errors.New("offered amount must be > 0")
	ErrSubmissionInFlight = errors.New("another offer for this product is being processed")
)

// Result 一次出价提交的结果，预期内的情况都在这里表达而不是作为错误返回。
type Result string

const (
	ResultAccepted           Result = "accepted"
	ResultRejected           Result = "rejected"
	ResultExhausted          Result = "exhausted"
	ResultAlreadyApproved    Result = "already_approved"
	ResultProductUnavailable Result = "product_unavailable"
)

// Ledger 是 Service 依赖的账本能力。
type Ledger interface {
	Append(ctx context.Context, d ledger.Draft) (model.OfferAttempt, error)
	ListByProduct(ctx context.Context, sessionID, sku string) ([]model.OfferAttempt, error)
	ListBySession(ctx context.Context, sessionID string) ([]model.OfferAttempt, error)
}

// Locker 串行化同一 (session, sku) 的提交。release 必须调用。
type Locker interface {
	TryLock(ctx context.Context, sessionID, sku string) (release func(), acquired bool, err error)
}

// Opening 打开议价页时的状态。
type Opening struct {
	// Unavailable 商品不存在，其余字段为空。
	Unavailable       bool
	Product           model.Product
	AttemptsRemaining int
	// Active 非空表示已有未过期的接受出价，不可再议价。
	Active      *coupon.AcceptedOffer
	Exhausted   bool
	Consolation *coupon.ConsolationDiscount
	Degraded    bool
}

// Outcome 一次提交的结果。Attempt 仅在写入账本成功时非空。
type Outcome struct {
	Result            Result
	Attempt           *model.OfferAttempt
	Coupon            coupon.Coupon
	AttemptsRemaining int
	Degraded          bool
}

// Service 编排一次议价：商品快照、次数预算、判定、写账本与本地降级。
type Service struct {
	engine  *Engine
	ledger  Ledger
	catalog catalog.Catalog
	locker  Locker
	clock   clock.Clock
	log     *zap.Logger
}

func NewService(engine *Engine, l Ledger, cat catalog.Catalog, locker Locker, clk clock.Clock, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		engine:  engine,
		ledger:  l,
		catalog: cat,
		locker:  locker,
		clock:   clk,
		log:     log.Named("negotiation"),
	}
}

// state 当前议价周期的状态。degraded 表示账本不可用，预算来自设备镜像。
type state struct {
	remaining int
	active    *coupon.AcceptedOffer
	degraded  bool
}

func (s *Service) state(ctx context.Context, sessionID string, store session.Store, sku string, now time.Time) (state, error) {
	var st state
	history, err := s.ledger.ListByProduct(ctx, sessionID, sku)
	switch {
	case err == nil:
		st.remaining = ledger.RemainingFrom(history)
		for _, a := range history {
			if !a.ActiveAt(now) {
				continue
			}
			if c, ok := coupon.Project(a, now); ok {
				st.active = &c
				break
			}
		}
	case errors.Is(err, ledger.ErrUnavailable):
		s.log.Warn("ledger unavailable, using device budget",
			zap.String("session_id", sessionID), zap.String("sku", sku), zap.Error(err))
		st.degraded = true
		if st.remaining, err = loadBudget(ctx, store, sku); err != nil {
			return state{}, errors.Wrap(err, "load device budget")
		}
	default:
		return state{}, err
	}

	if st.active == nil {
		local, err := wallet.New(store).List(ctx, now)
		if err != nil {
			return state{}, err
		}
		for _, c := range local {
			if a, ok := c.(coupon.AcceptedOffer); ok && a.ProductSKU == sku && a.SessionID == sessionID && a.ActiveAt(now) {
				st.active = &a
				break
			}
		}
	}
	return st, nil
}

// Open 进入某商品的议价页。新周期开始时刷新价格快照。
func (s *Service) Open(ctx context.Context, sessionID string, store session.Store, sku string) (Opening, error) {
	now := s.clock.Now()
	st, err := s.state(ctx, sessionID, store, sku, now)
	if err != nil {
		return Opening{}, err
	}

	// 新周期开始时重新快照价格；周期内沿用快照。
	p, found, err := s.product(ctx, store, sku, st, now, st.remaining == MaxAttempts)
	if err != nil {
		return Opening{}, err
	}
	if !found {
		return Opening{Unavailable: true}, nil
	}

	out := Opening{
		Product:           p,
		AttemptsRemaining: st.remaining,
		Active:            st.active,
		Degraded:          st.degraded,
	}
	if st.active == nil && st.remaining == 0 {
		c, err := s.consolation(ctx, sessionID, store, p, now)
		if err != nil {
			return Opening{}, err
		}
		out.Exhausted = true
		out.Consolation = &c
	}
	return out, nil
}

// Submit 提交一次出价。
func (s *Service) Submit(ctx context.Context, sessionID string, store session.Store, sku string, amount decimal.Decimal) (Outcome, error) {
	if !amount.IsPositive() {
		return Outcome{}, ErrInvalidAmount
	}

	if s.locker != nil {
		release, acquired, err := s.locker.TryLock(ctx, sessionID, sku)
		switch {
		case err != nil:
			// 锁服务不可用时放行，一个会话内的并发提交本就少见。
			s.log.Warn("submit lock unavailable", zap.String("session_id", sessionID), zap.Error(err))
		case !acquired:
			return Outcome{}, ErrSubmissionInFlight
		default:
			defer release()
		}
	}

	out, err := s.submit(ctx, sessionID, store, sku, amount)
	if err != nil {
		return Outcome{}, err
	}
	metrics.OffersTotal.WithLabelValues(string(out.Result)).Inc()
	return out, nil
}

func (s *Service) submit(ctx context.Context, sessionID string, store session.Store, sku string, amount decimal.Decimal) (Outcome, error) {
	now := s.clock.Now()

	st, err := s.state(ctx, sessionID, store, sku, now)
	if err != nil {
		return Outcome{}, err
	}
	p, found, err := s.product(ctx, store, sku, st, now, false)
	if err != nil {
		return Outcome{}, err
	}
	if !found {
		return Outcome{Result: ResultProductUnavailable}, nil
	}
	if st.active != nil {
		return Outcome{Result: ResultAlreadyApproved, Coupon: *st.active, AttemptsRemaining: st.remaining, Degraded: st.degraded}, nil
	}
	if st.remaining == 0 {
		c, err := s.consolation(ctx, sessionID, store, p, now)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Result: ResultExhausted, Coupon: c, Degraded: st.degraded}, nil
	}

	d := s.engine.Decide(p, amount, st.remaining)
	out := Outcome{AttemptsRemaining: d.AttemptsRemainingAfter, Degraded: st.degraded}

	row, err := s.ledger.Append(ctx, ledger.Draft{
		SessionID:         sessionID,
		Product:           p,
		OfferedAmount:     amount,
		Accepted:          d.Accepted,
		AttemptsRemaining: d.AttemptsRemainingAfter,
	})
	switch {
	case err == nil:
		out.Attempt = &row
	case errors.Is(err, ledger.ErrUnavailable):
		s.log.Warn("ledger append failed, keeping offer on device",
			zap.String("session_id", sessionID), zap.String("sku", sku), zap.Error(err))
		metrics.LedgerFallback.Inc()
		out.Degraded = true
	default:
		return Outcome{}, err
	}

	if d.Accepted {
		out.Result = ResultAccepted
		out.AttemptsRemaining = MaxAttempts
		if out.Attempt != nil {
			c, _ := coupon.Project(row, now)
			out.Coupon = c
		} else {
			c, err := s.localAcceptance(ctx, sessionID, store, p, amount, now)
			if err != nil {
				return Outcome{}, err
			}
			out.Coupon = c
		}
		if err := saveBudget(ctx, store, sku, MaxAttempts); err != nil {
			s.log.Warn("mirror budget failed", zap.Error(err))
		}
		if err := clearSnapshot(ctx, store, sku); err != nil {
			s.log.Warn("clear product snapshot failed", zap.Error(err))
		}
		return out, nil
	}

	if err := saveBudget(ctx, store, sku, d.AttemptsRemainingAfter); err != nil {
		s.log.Warn("mirror budget failed", zap.Error(err))
	}
	if d.AttemptsRemainingAfter > 0 {
		out.Result = ResultRejected
		return out, nil
	}

	c, err := s.consolation(ctx, sessionID, store, p, now)
	if err != nil {
		return Outcome{}, err
	}
	out.Result = ResultExhausted
	out.Coupon = c
	return out, nil
}

// product 返回本次议价使用的商品快照，found=false 表示商品不存在。
// 进行中的周期（已有拒绝）一律沿用快照；尚未出价时快照超过 snapshotTTL 或 refresh 为 true 则按目录重新快照。
// 目录暂时不可用时退回已有快照。
func (s *Service) product(ctx context.Context, store session.Store, sku string, st state, now time.Time, refresh bool) (model.Product, bool, error) {
	snap, ok, err := loadSnapshot(ctx, store, sku)
	if err != nil {
		return model.Product{}, false, err
	}
	if ok && !refresh && (st.remaining < MaxAttempts || snap.freshAt(now)) {
		return snap.Product, true, nil
	}

	fresh, err := s.catalog.Get(ctx, sku)
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		return model.Product{}, false, nil
	case err != nil:
		if !ok {
			return model.Product{}, false, err
		}
		s.log.Warn("refresh product snapshot failed", zap.String("sku", sku), zap.Error(err))
		return snap.Product, true, nil
	}
	if err := saveSnapshot(ctx, store, fresh, now); err != nil {
		return model.Product{}, false, err
	}
	return fresh, true, nil
}

// localAcceptance 账本不可用时在设备上保存接受记录，形态与账本一致。
func (s *Service) localAcceptance(ctx context.Context, sessionID string, store session.Store, p model.Product, amount decimal.Decimal, now time.Time) (coupon.AcceptedOffer, error) {
	code, err := coupon.NewCode()
	if err != nil {
		return coupon.AcceptedOffer{}, errors.Wrap(err, "generate acceptance code")
	}
	c := coupon.AcceptedOffer{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		ProductSKU:     p.SKU,
		ProductName:    p.Name,
		ProductPrice:   p.Price,
		OfferedAmount:  amount,
		AcceptanceCode: code,
		CreatedAt:      now,
		ExpiresAt:      now.Add(coupon.AcceptanceTTL),
		Status:         coupon.StatusAt(now, false, now),
		Local:          true,
	}
	if err := wallet.New(store).Add(ctx, c); err != nil {
		return coupon.AcceptedOffer{}, err
	}
	return c, nil
}

// consolation 同一商品只发一次安慰折扣，设备上已有则直接复用。
func (s *Service) consolation(ctx context.Context, sessionID string, store session.Store, p model.Product, now time.Time) (coupon.ConsolationDiscount, error) {
	w := wallet.New(store)
	local, err := w.List(ctx, now)
	if err != nil {
		return coupon.ConsolationDiscount{}, err
	}
	for _, c := range local {
		if cd, ok := c.(coupon.ConsolationDiscount); ok && cd.ProductSKU == p.SKU && cd.SessionID == sessionID {
			return cd, nil
		}
	}
	cd, err := coupon.NewConsolation(sessionID, p, s.engine.Precision(), now)
	if err != nil {
		return coupon.ConsolationDiscount{}, errors.Wrap(err, "issue consolation")
	}
	if err := w.Add(ctx, cd); err != nil {
		return coupon.ConsolationDiscount{}, err
	}
	return cd, nil
}

// Coupons 返回会话的全部优惠券：账本投影 + 设备本地，按 id 去重。
func (s *Service) Coupons(ctx context.Context, sessionID string, store session.Store) ([]coupon.Coupon, bool, error) {
	now := s.clock.Now()
	degraded := false

	var fromLedger []coupon.Coupon
	rows, err := s.ledger.ListBySession(ctx, sessionID)
	switch {
	case err == nil:
		fromLedger = coupon.ProjectAll(rows, now)
	case errors.Is(err, ledger.ErrUnavailable):
		degraded = true
	default:
		return nil, false, err
	}

	local, err := wallet.New(store).List(ctx, now)
	if err != nil {
		return nil, degraded, err
	}
	mine := local[:0]
	for _, c := range local {
		if sessionOf(c) == sessionID {
			mine = append(mine, c)
		}
	}
	return wallet.Merge(fromLedger, mine), degraded, nil
}

func sessionOf(c coupon.Coupon) string {
	switch v := c.(type) {
	case coupon.AcceptedOffer:
		return v.SessionID
	case coupon.ConsolationDiscount:
		return v.SessionID
	default:
		return ""
	}
}

// MemoryLocker 进程内的 Locker 实现。
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{held: make(map[string]struct{})}
}

func (l *MemoryLocker) TryLock(_ context.Context, sessionID, sku string) (func(), bool, error) {
	key := sessionID + "|" + sku
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, busy := l.held[key]; busy {
		return nil, false, nil
	}
	l.held[key] = struct{}{}
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, true, nil
}
