package wallet

import (
	"context"
	"testing"
	"time"

	"shuq/internal/coupon"
	"shuq/internal/model"
	"shuq/internal/session"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func TestWallet_RoundTripsBothVariants(t *testing.T) {
	ctx := context.Background()
	w := New(session.NewMemoryStore())

	p := model.Product{SKU: "LAMP-1", Name: "Lamp", Price: decimal.NewFromInt(100000), MaxDiscountPercentage: 50}
	consolation, err := coupon.NewConsolation("s1", p, 2, t0)
	require.NoError(t, err)
	accepted := coupon.AcceptedOffer{
		ID: "local-1", SessionID: "s1", ProductSKU: "MUG-1", ProductName: "Mug",
		ProductPrice: decimal.NewFromInt(500), OfferedAmount: decimal.NewFromInt(450),
		AcceptanceCode: "ABCD1234", CreatedAt: t0.Add(time.Minute), ExpiresAt: t0.Add(61 * time.Minute), Local: true,
	}

	require.NoError(t, w.Add(ctx, consolation))
	require.NoError(t, w.Add(ctx, accepted))

	list, err := w.List(ctx, t0.Add(5*time.Minute))
	require.NoError(t, err)
	require.Len(t, list, 2)

	first, ok := list[0].(coupon.AcceptedOffer)
	require.True(t, ok)
	assert.Equal(t, "ABCD1234", first.AcceptanceCode)
	assert.True(t, first.Local)
	assert.Equal(t, coupon.StatusPending, first.Status)

	second, ok := list[1].(coupon.ConsolationDiscount)
	require.True(t, ok)
	assert.Equal(t, 15, second.DiscountPercentage)
	assert.True(t, second.DiscountedPrice.Equal(decimal.NewFromInt(85000)))
}

func TestWallet_StatusRecomputedOnRead(t *testing.T) {
	ctx := context.Background()
	w := New(session.NewMemoryStore())
	p := model.Product{SKU: "LAMP-1", Name: "Lamp", Price: decimal.NewFromInt(100), MaxDiscountPercentage: 50}
	c, err := coupon.NewConsolation("s1", p, 2, t0)
	require.NoError(t, err)
	require.NoError(t, w.Add(ctx, c))

	list, err := w.List(ctx, t0.Add(31*time.Minute))
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, coupon.StatusCancelled, list[0].(coupon.ConsolationDiscount).Status)
}

func TestWallet_AddReplacesSameID(t *testing.T) {
	ctx := context.Background()
	w := New(session.NewMemoryStore())
	a := coupon.AcceptedOffer{ID: "x", CreatedAt: t0, ExpiresAt: t0.Add(time.Hour), AcceptanceCode: "AAAAAAAA"}
	require.NoError(t, w.Add(ctx, a))
	a.AcceptanceCode = "BBBBBBBB"
	require.NoError(t, w.Add(ctx, a))

	list, err := w.List(ctx, t0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "BBBBBBBB", list[0].(coupon.AcceptedOffer).AcceptanceCode)
}

func TestMerge_DedupesPreferringLedger(t *testing.T) {
	fromLedger := []coupon.Coupon{
		coupon.AcceptedOffer{ID: "a", CreatedAt: t0, AcceptanceCode: "LEDGER01"},
	}
	local := []coupon.Coupon{
		coupon.AcceptedOffer{ID: "a", CreatedAt: t0, AcceptanceCode: "LOCAL001", Local: true},
		coupon.ConsolationDiscount{ID: "b", CreatedAt: t0.Add(time.Minute)},
	}

	out := Merge(fromLedger, local)
	require.Len(t, out, 2)
	assert.Equal(t, "b", out[0].CouponID())
	assert.Equal(t, "LEDGER01", out[1].(coupon.AcceptedOffer).AcceptanceCode)
}
