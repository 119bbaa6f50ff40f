package ledger

import (
	"context"
	"sync"
	"testing"
	"time"

	"shuq/internal/clock"
	"shuq/internal/coupon"
	"shuq/internal/model"
	"shuq/internal/notify"
	"shuq/internal/storage"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPublisher struct {
	mu  sync.Mutex
	got []notify.Mutation
	err error
}

func (p *recordingPublisher) Publish(_ context.Context, m notify.Mutation) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.got = append(p.got, m)
	return p.err
}

func (p *recordingPublisher) kinds() []notify.Kind {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]notify.Kind, 0, len(p.got))
	for _, m := range p.got {
		out = append(out, m.Kind)
	}
	return out
}

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestLedger(t *testing.T) (*Ledger, *clock.MockClock, *recordingPublisher) {
	t.Helper()
	db, err := storage.Open(storage.DriverSQLite, ":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = storage.Close(db) })

	clk := clock.NewMockClock(t0)
	pub := &recordingPublisher{}
	return New(db, pub, clk, nil), clk, pub
}

func lamp() model.Product {
	return model.Product{SKU: "LAMP-1", Name: "Desk Lamp", Price: decimal.NewFromInt(100000), MaxDiscountPercentage: 50}
}

func TestAppend_Rejected(t *testing.T) {
	l, _, pub := newTestLedger(t)
	ctx := context.Background()

	row, err := l.Append(ctx, Draft{
		SessionID: "s1", Product: lamp(), OfferedAmount: decimal.NewFromInt(40000), AttemptsRemaining: 2,
	})
	require.NoError(t, err)

	assert.NotEmpty(t, row.ID)
	assert.Equal(t, model.OfferRejected, row.Status)
	assert.Nil(t, row.AcceptanceCode)
	assert.Nil(t, row.ExpiresAt)
	assert.Equal(t, 2, row.AttemptsRemaining)
	assert.Equal(t, "Desk Lamp", row.ProductName)
	assert.Equal(t, []notify.Kind{notify.KindAppended}, pub.kinds())
}

func TestAppend_AcceptedAssignsCodeAndExpiry(t *testing.T) {
	l, _, _ := newTestLedger(t)

	row, err := l.Append(context.Background(), Draft{
		SessionID: "s1", Product: lamp(), OfferedAmount: decimal.NewFromInt(60000), Accepted: true, AttemptsRemaining: 2,
	})
	require.NoError(t, err)

	require.NotNil(t, row.AcceptanceCode)
	assert.True(t, coupon.ValidCode(*row.AcceptanceCode))
	require.NotNil(t, row.ExpiresAt)
	assert.Equal(t, row.CreatedAt.Add(time.Hour), *row.ExpiresAt)
	assert.Equal(t, model.OfferAccepted, row.Status)
}

func TestAppend_PublishFailureDoesNotFail(t *testing.T) {
	l, _, pub := newTestLedger(t)
	pub.err = errors.New("redis down")

	_, err := l.Append(context.Background(), Draft{SessionID: "s1", Product: lamp(), OfferedAmount: decimal.NewFromInt(1), AttemptsRemaining: 2})
	require.NoError(t, err)
}

func TestListOrderingAndFilters(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()
	other := model.Product{SKU: "MUG-1", Name: "Mug", Price: decimal.NewFromInt(500), MaxDiscountPercentage: 10}

	first, err := l.Append(ctx, Draft{SessionID: "s1", Product: lamp(), OfferedAmount: decimal.NewFromInt(10), AttemptsRemaining: 2})
	require.NoError(t, err)
	clk.Add(time.Second)
	second, err := l.Append(ctx, Draft{SessionID: "s1", Product: other, OfferedAmount: decimal.NewFromInt(10), AttemptsRemaining: 2})
	require.NoError(t, err)
	clk.Add(time.Second)
	third, err := l.Append(ctx, Draft{SessionID: "s2", Product: lamp(), OfferedAmount: decimal.NewFromInt(10), AttemptsRemaining: 2})
	require.NoError(t, err)

	bySession, err := l.ListBySession(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, bySession, 2)
	assert.Equal(t, second.ID, bySession[0].ID)
	assert.Equal(t, first.ID, bySession[1].ID)

	byProduct, err := l.ListByProduct(ctx, "s1", "LAMP-1")
	require.NoError(t, err)
	require.Len(t, byProduct, 1)
	assert.Equal(t, first.ID, byProduct[0].ID)

	all, err := l.ListAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, third.ID, all[0].ID)
}

func TestRemainingAttempts(t *testing.T) {
	l, clk, _ := newTestLedger(t)
	ctx := context.Background()

	n, err := l.RemainingAttempts(ctx, "s1", "LAMP-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for _, left := range []int{2, 1, 0} {
		clk.Add(time.Second)
		_, err := l.Append(ctx, Draft{SessionID: "s1", Product: lamp(), OfferedAmount: decimal.NewFromInt(10000), AttemptsRemaining: left})
		require.NoError(t, err)
		n, err = l.RemainingAttempts(ctx, "s1", "LAMP-1")
		require.NoError(t, err)
		assert.Equal(t, left, n)
	}

	// 用尽后保持 0，直到出现一次接受
	n, err = l.RemainingAttempts(ctx, "s1", "LAMP-1")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	clk.Add(time.Second)
	_, err = l.Append(ctx, Draft{SessionID: "s1", Product: lamp(), OfferedAmount: decimal.NewFromInt(90000), Accepted: true})
	require.NoError(t, err)
	n, err = l.RemainingAttempts(ctx, "s1", "LAMP-1")
	require.NoError(t, err)
	assert.Equal(t, 3, n)
}

func TestRemainingFrom(t *testing.T) {
	assert.Equal(t, 3, RemainingFrom(nil))
	assert.Equal(t, 3, RemainingFrom([]model.OfferAttempt{{Status: model.OfferAccepted, AttemptsRemaining: 1}}))
	assert.Equal(t, 1, RemainingFrom([]model.OfferAttempt{{Status: model.OfferRejected, AttemptsRemaining: 1}}))
	assert.Equal(t, 0, RemainingFrom([]model.OfferAttempt{{Status: model.OfferRejected, AttemptsRemaining: -4}}))
}

func TestMarkRedeemed(t *testing.T) {
	l, clk, pub := newTestLedger(t)
	ctx := context.Background()

	row, err := l.Append(ctx, Draft{SessionID: "s1", Product: lamp(), OfferedAmount: decimal.NewFromInt(60000), Accepted: true, AttemptsRemaining: 2})
	require.NoError(t, err)

	clk.Add(2 * time.Hour)
	redeemed, err := l.MarkRedeemed(ctx, row.ID)
	require.NoError(t, err)
	assert.True(t, redeemed.IsRedeemed)

	got, err := l.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.True(t, got.IsRedeemed)

	c, ok := coupon.Project(got, clk.Now())
	require.True(t, ok)
	assert.Equal(t, coupon.StatusUsed, c.Status)

	// 重复兑换幂等，不再发布通知
	_, err = l.MarkRedeemed(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, []notify.Kind{notify.KindAppended, notify.KindRedeemed}, pub.kinds())
}

func TestMarkRedeemed_NotFound(t *testing.T) {
	l, _, _ := newTestLedger(t)

	_, err := l.MarkRedeemed(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNotFound))
	assert.False(t, errors.Is(err, ErrUnavailable))
}

func TestStorageFailureIsUnavailable(t *testing.T) {
	l, _, _ := newTestLedger(t)
	require.NoError(t, storage.Close(l.db))

	_, err := l.Append(context.Background(), Draft{SessionID: "s1", Product: lamp(), OfferedAmount: decimal.NewFromInt(1), AttemptsRemaining: 2})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable))

	_, err = l.ListBySession(context.Background(), "s1")
	assert.True(t, errors.Is(err, ErrUnavailable))
}

func TestIsUniqueViolation(t *testing.T) {
	assert.False(t, isUniqueViolation(nil))
	assert.True(t, isUniqueViolation(errors.New("UNIQUE constraint failed: offer_attempts.acceptance_code")))
	assert.False(t, isUniqueViolation(errors.New("connection refused")))
}
