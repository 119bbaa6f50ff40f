package router

import (
	"net/http"

	"shuq/internal/clock"
	"shuq/internal/ledger"
	"shuq/internal/middleware"
	"shuq/internal/negotiation"
	"shuq/internal/summary"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

func getSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		ok(c, gin.H{"session_id": middleware.GetSessionID(c)})
	}
}

// openNegotiation 进入议价页：快照价格，返回剩余次数与已有优惠券。
func openNegotiation(svc *negotiation.Service, device DeviceStoreFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := middleware.GetSessionID(c)
		o, err := svc.Open(c.Request.Context(), sid, device(c, sid), c.Param("sku"))
		if err != nil {
			writeError(c, err)
			return
		}
		if o.Unavailable {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "product unavailable"})
			return
		}
		ok(c, openingView(o))
	}
}

// submitOffer 出价入口。接受/拒绝/用尽等都以 200 + result 返回。
func submitOffer(svc *negotiation.Service, device DeviceStoreFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			SKU    string          `json:"sku" binding:"required"`
			Amount decimal.Decimal `json:"amount"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		sid := middleware.GetSessionID(c)
		out, err := svc.Submit(c.Request.Context(), sid, device(c, sid), req.SKU, req.Amount)
		if err != nil {
			writeError(c, err)
			return
		}
		if out.Result == negotiation.ResultProductUnavailable {
			c.JSON(http.StatusNotFound, gin.H{"code": 404, "msg": "product unavailable", "data": outcomeView(out)})
			return
		}
		ok(c, outcomeView(out))
	}
}

// listOffers 当前会话的出价历史，?sku= 过滤。
func listOffers(l *ledger.Ledger, clk clock.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := middleware.GetSessionID(c)
		ctx := c.Request.Context()

		if sku := c.Query("sku"); sku != "" {
			list, err := l.ListByProduct(ctx, sid, sku)
			if err != nil {
				writeError(c, err)
				return
			}
			ok(c, gin.H{"offers": offerViews(list, clk.Now(), offerView), "attempts_remaining": ledger.RemainingFrom(list)})
			return
		}
		list, err := l.ListBySession(ctx, sid)
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"offers": offerViews(list, clk.Now(), offerView)})
	}
}

func listCoupons(svc *negotiation.Service, device DeviceStoreFunc) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := middleware.GetSessionID(c)
		list, degraded, err := svc.Coupons(c.Request.Context(), sid, device(c, sid))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, gin.H{"coupons": couponViews(list), "degraded": degraded})
	}
}

// listAllOffers 管理端：全部出价，附带派生的优惠券状态。
func listAllOffers(l *ledger.Ledger, clk clock.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := l.ListAll(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, offerViews(list, clk.Now(), adminOfferView))
	}
}

// redeemOffer 管理端核销，幂等。
func redeemOffer(l *ledger.Ledger, clk clock.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		row, err := l.Get(ctx, c.Param("id"))
		if err != nil {
			writeError(c, err)
			return
		}
		if !row.Accepted() {
			badRequest(c, "only accepted offers can be redeemed")
			return
		}
		if row, err = l.MarkRedeemed(ctx, row.ID); err != nil {
			writeError(c, err)
			return
		}
		ok(c, adminOfferView(row, clk.Now()))
	}
}

func summarize(l *ledger.Ledger) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := l.ListAll(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, summary.Summarize(list))
	}
}
