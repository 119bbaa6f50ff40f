package negotiation

import (
	"context"
	"testing"
	"time"

	"shuq/internal/catalog"
	"shuq/internal/clock"
	"shuq/internal/coupon"
	"shuq/internal/ledger"
	"shuq/internal/model"
	"shuq/internal/session"
	"shuq/internal/storage"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

type ServiceSuite struct {
	suite.Suite
	ctx     context.Context
	clk     *clock.MockClock
	ledger  *ledger.Ledger
	catalog *catalog.Store
	locker  *MemoryLocker
	svc     *Service
	store   *session.MemoryStore
}

func (s *ServiceSuite) SetupTest() {
	db, err := storage.Open(storage.DriverSQLite, ":memory:", nil)
	s.Require().NoError(err)
	s.T().Cleanup(func() { _ = storage.Close(db) })

	s.ctx = context.Background()
	s.clk = clock.NewMockClock(t0)
	s.ledger = ledger.New(db, nil, s.clk, nil)
	s.catalog = catalog.NewStore(db)
	s.locker = NewMemoryLocker()
	s.svc = NewService(NewEngine(DefaultPrecision), s.ledger, s.catalog, s.locker, s.clk, nil)
	s.store = session.NewMemoryStore()

	s.Require().NoError(s.catalog.Create(s.ctx, &model.Product{
		SKU: "LAMP-1", Name: "Desk Lamp", Price: decimal.NewFromInt(100000), MaxDiscountPercentage: 50,
	}))
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) submit(amount int64) Outcome {
	s.clk.Add(time.Second)
	out, err := s.svc.Submit(s.ctx, "s1", s.store, "LAMP-1", decimal.NewFromInt(amount))
	s.Require().NoError(err)
	return out
}

func (s *ServiceSuite) TestRejectThenAcceptThenRedeem() {
	out := s.submit(40000)
	s.Equal(ResultRejected, out.Result)
	s.Equal(2, out.AttemptsRemaining)
	s.Nil(out.Coupon)

	out = s.submit(60000)
	s.Equal(ResultAccepted, out.Result)
	s.Require().NotNil(out.Attempt)
	s.True(out.Attempt.OfferedAmount.Equal(decimal.NewFromInt(60000)))
	s.Equal(out.Attempt.CreatedAt.Add(time.Hour), *out.Attempt.ExpiresAt)

	accepted, ok := out.Coupon.(coupon.AcceptedOffer)
	s.Require().True(ok)
	s.Equal(coupon.StatusPending, accepted.Status)
	s.False(accepted.Local)

	_, err := s.ledger.MarkRedeemed(s.ctx, accepted.ID)
	s.Require().NoError(err)

	s.clk.Add(2 * time.Hour)
	list, degraded, err := s.svc.Coupons(s.ctx, "s1", s.store)
	s.Require().NoError(err)
	s.False(degraded)
	s.Require().Len(list, 1)
	s.Equal(coupon.StatusUsed, list[0].(coupon.AcceptedOffer).Status)
}

func (s *ServiceSuite) TestThreeRejectionsIssueConsolation() {
	s.Equal(ResultRejected, s.submit(10000).Result)
	s.Equal(ResultRejected, s.submit(10000).Result)

	out := s.submit(10000)
	s.Equal(ResultExhausted, out.Result)
	s.Equal(0, out.AttemptsRemaining)
	s.Require().NotNil(out.Attempt)
	cd, ok := out.Coupon.(coupon.ConsolationDiscount)
	s.Require().True(ok)
	s.Equal(15, cd.DiscountPercentage)
	s.True(cd.DiscountedPrice.Equal(decimal.NewFromInt(85000)))

	// 用尽后再提交：不写账本，复用同一张安慰券
	again := s.submit(99999)
	s.Equal(ResultExhausted, again.Result)
	s.Nil(again.Attempt)
	s.Equal(cd.ID, again.Coupon.CouponID())

	rows, err := s.ledger.ListByProduct(s.ctx, "s1", "LAMP-1")
	s.Require().NoError(err)
	s.Len(rows, 3)

	opening, err := s.svc.Open(s.ctx, "s1", s.store, "LAMP-1")
	s.Require().NoError(err)
	s.True(opening.Exhausted)
	s.Require().NotNil(opening.Consolation)
	s.Equal(cd.ID, opening.Consolation.ID)

	list, _, err := s.svc.Coupons(s.ctx, "s1", s.store)
	s.Require().NoError(err)
	s.Require().Len(list, 1)
	_, isConsolation := list[0].(coupon.ConsolationDiscount)
	s.True(isConsolation)
}

func (s *ServiceSuite) TestAlreadyApprovedUntilExpiry() {
	first := s.submit(70000)
	s.Require().Equal(ResultAccepted, first.Result)

	out := s.submit(80000)
	s.Equal(ResultAlreadyApproved, out.Result)
	s.Equal(first.Coupon.CouponID(), out.Coupon.CouponID())

	opening, err := s.svc.Open(s.ctx, "s1", s.store, "LAMP-1")
	s.Require().NoError(err)
	s.Require().NotNil(opening.Active)
	s.Equal(MaxAttempts, opening.AttemptsRemaining)

	s.clk.Add(time.Hour)
	out = s.submit(10000)
	s.Equal(ResultRejected, out.Result)
	s.Equal(2, out.AttemptsRemaining)
}

func (s *ServiceSuite) TestOpenKeepsPriceSnapshotDuringCycle() {
	opening, err := s.svc.Open(s.ctx, "s1", s.store, "LAMP-1")
	s.Require().NoError(err)
	s.Equal(MaxAttempts, opening.AttemptsRemaining)
	s.Equal(50, opening.Product.MaxDiscountPercentage)

	s.submit(10000)
	_, err = s.catalog.UpdatePrice(s.ctx, "LAMP-1", decimal.NewFromInt(20000))
	s.Require().NoError(err)

	opening, err = s.svc.Open(s.ctx, "s1", s.store, "LAMP-1")
	s.Require().NoError(err)
	s.True(opening.Product.Price.Equal(decimal.NewFromInt(100000)))

	// 按快照价 100000 判定，10000 仍被拒绝
	out := s.submit(10000)
	s.Equal(ResultRejected, out.Result)
	s.True(out.Attempt.ProductPrice.Equal(decimal.NewFromInt(100000)))
}

func (s *ServiceSuite) TestProductUnavailable() {
	s.clk.Add(time.Second)
	out, err := s.svc.Submit(s.ctx, "s1", s.store, "NOPE", decimal.NewFromInt(1))
	s.Require().NoError(err)
	s.Equal(ResultProductUnavailable, out.Result)

	opening, err := s.svc.Open(s.ctx, "s1", s.store, "NOPE")
	s.Require().NoError(err)
	s.True(opening.Unavailable)
	s.Empty(opening.Product.SKU)
}

func (s *ServiceSuite) TestStaleSnapshotRefreshedBeforeFirstOffer() {
	_, err := s.svc.Open(s.ctx, "s1", s.store, "LAMP-1")
	s.Require().NoError(err)

	s.clk.Add(7 * 24 * time.Hour)
	_, err = s.catalog.UpdatePrice(s.ctx, "LAMP-1", decimal.NewFromInt(200000))
	s.Require().NoError(err)

	// 周期尚未开始，按当前价 200000 判定：阈值 100000
	out := s.submit(60000)
	s.Equal(ResultRejected, out.Result)
	s.True(out.Attempt.ProductPrice.Equal(decimal.NewFromInt(200000)))
}

func (s *ServiceSuite) TestRecentSnapshotUsedForFirstOffer() {
	_, err := s.svc.Open(s.ctx, "s1", s.store, "LAMP-1")
	s.Require().NoError(err)

	s.clk.Add(10 * time.Minute)
	_, err = s.catalog.UpdatePrice(s.ctx, "LAMP-1", decimal.NewFromInt(200000))
	s.Require().NoError(err)

	out := s.submit(60000)
	s.Equal(ResultAccepted, out.Result)
	s.True(out.Attempt.ProductPrice.Equal(decimal.NewFromInt(100000)))
}

func (s *ServiceSuite) TestSnapshotKeptForCycleInProgress() {
	_, err := s.svc.Open(s.ctx, "s1", s.store, "LAMP-1")
	s.Require().NoError(err)
	s.Equal(ResultRejected, s.submit(10000).Result)

	s.clk.Add(7 * 24 * time.Hour)
	_, err = s.catalog.UpdatePrice(s.ctx, "LAMP-1", decimal.NewFromInt(200000))
	s.Require().NoError(err)

	out := s.submit(60000)
	s.Equal(ResultAccepted, out.Result)
	s.True(out.Attempt.ProductPrice.Equal(decimal.NewFromInt(100000)))
}

func (s *ServiceSuite) TestInvalidAmount() {
	for _, amt := range []decimal.Decimal{decimal.Zero, decimal.NewFromInt(-5)} {
		_, err := s.svc.Submit(s.ctx, "s1", s.store, "LAMP-1", amt)
		s.True(errors.Is(err, ErrInvalidAmount))
	}
}

func (s *ServiceSuite) TestSubmissionInFlight() {
	release, ok, err := s.locker.TryLock(s.ctx, "s1", "LAMP-1")
	s.Require().NoError(err)
	s.Require().True(ok)

	_, err = s.svc.Submit(s.ctx, "s1", s.store, "LAMP-1", decimal.NewFromInt(60000))
	s.True(errors.Is(err, ErrSubmissionInFlight))

	release()
	s.Equal(ResultAccepted, s.submit(60000).Result)
}

// failingLedger 模拟数据库不可用。
type failingLedger struct{}

var errDown = errors.Mark(errors.New("database is down"), ledger.ErrUnavailable)

func (failingLedger) Append(context.Context, ledger.Draft) (model.OfferAttempt, error) {
	return model.OfferAttempt{}, errDown
}

func (failingLedger) ListByProduct(context.Context, string, string) ([]model.OfferAttempt, error) {
	return nil, errDown
}

func (failingLedger) ListBySession(context.Context, string) ([]model.OfferAttempt, error) {
	return nil, errDown
}

func TestService_DegradesToDeviceStorage(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMockClock(t0)
	cat := staticCatalog{"LAMP-1": {SKU: "LAMP-1", Name: "Desk Lamp", Price: decimal.NewFromInt(100000), MaxDiscountPercentage: 50}}
	svc := NewService(NewEngine(DefaultPrecision), failingLedger{}, cat, NewMemoryLocker(), clk, nil)
	store := session.NewMemoryStore()

	out, err := svc.Submit(ctx, "s1", store, "LAMP-1", decimal.NewFromInt(10000))
	require.NoError(t, err)
	assert.Equal(t, ResultRejected, out.Result)
	assert.True(t, out.Degraded)
	assert.Nil(t, out.Attempt)

	clk.Add(time.Second)
	out, err = svc.Submit(ctx, "s1", store, "LAMP-1", decimal.NewFromInt(10000))
	require.NoError(t, err)
	assert.Equal(t, 1, out.AttemptsRemaining)

	clk.Add(time.Second)
	out, err = svc.Submit(ctx, "s1", store, "LAMP-1", decimal.NewFromInt(55000))
	require.NoError(t, err)
	require.Equal(t, ResultAccepted, out.Result)
	assert.True(t, out.Degraded)
	local, ok := out.Coupon.(coupon.AcceptedOffer)
	require.True(t, ok)
	assert.True(t, local.Local)
	assert.True(t, coupon.ValidCode(local.AcceptanceCode))
	assert.Equal(t, local.CreatedAt.Add(time.Hour), local.ExpiresAt)

	// 本地接受记录同样阻止再次议价
	clk.Add(time.Second)
	out, err = svc.Submit(ctx, "s1", store, "LAMP-1", decimal.NewFromInt(90000))
	require.NoError(t, err)
	assert.Equal(t, ResultAlreadyApproved, out.Result)

	list, degraded, err := svc.Coupons(ctx, "s1", store)
	require.NoError(t, err)
	assert.True(t, degraded)
	require.Len(t, list, 1)
	assert.Equal(t, local.ID, list[0].CouponID())
}

type staticCatalog map[string]model.Product

func (c staticCatalog) Get(_ context.Context, sku string) (model.Product, error) {
	p, ok := c[sku]
	if !ok {
		return model.Product{}, errors.Mark(errors.New(sku), catalog.ErrNotFound)
	}
	return p, nil
}

func TestMemoryLocker(t *testing.T) {
	l := NewMemoryLocker()
	ctx := context.Background()

	release, ok, err := l.TryLock(ctx, "s1", "A")
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, _ = l.TryLock(ctx, "s1", "A")
	assert.False(t, ok)
	_, ok, _ = l.TryLock(ctx, "s1", "B")
	assert.True(t, ok)

	release()
	release()
	_, ok, _ = l.TryLock(ctx, "s1", "A")
	assert.True(t, ok)
}
