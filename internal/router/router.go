package router

import (
	"net/http"

	"shuq/internal/catalog"
	"shuq/internal/clock"
	"shuq/internal/config"
	"shuq/internal/ledger"
	"shuq/internal/logger"
	"shuq/internal/middleware"
	"shuq/internal/negotiation"
	"shuq/internal/notify"
	"shuq/internal/session"

	"github.com/cockroachdb/errors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	rd "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// DeviceStoreFunc 为当前请求的会话返回设备存储。
type DeviceStoreFunc func(c *gin.Context, sessionID string) session.Store

// Deps 路由依赖。Cache / Redis 可为空：为空时跳过缓存与限流。
type Deps struct {
	Service     *negotiation.Service
	Ledger      *ledger.Ledger
	Products    *catalog.Store
	Cache       *catalog.Cached
	SessionFeed notify.Subscriber
	AdminFeed   notify.Subscriber
	DeviceStore DeviceStoreFunc
	Redis       *rd.Client
	Config      config.AppConfig
	Clock       clock.Clock
	Log         *zap.Logger
}

// Setup 注册全部 HTTP 路由。
func Setup(r *gin.Engine, d Deps) {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.DeviceStore == nil {
		prefix := d.Config.HTTP.SessionCookie
		d.DeviceStore = func(c *gin.Context, _ string) session.Store {
			return middleware.NewCookieStore(c, prefix)
		}
	}
	var productReader catalog.Catalog = d.Products
	if d.Cache != nil {
		productReader = d.Cache
	}

	r.Use(logger.GinMiddleware(d.Log), logger.Recovery(d.Log))

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"msg": "pong"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	admin := api.Group("", middleware.AdminToken(d.Config.Admin.Token))

	// Products
	api.GET("/products", listProducts(d.Products))
	api.GET("/products/:sku", getProduct(productReader))
	admin.POST("/products", createProduct(d.Products))
	admin.PUT("/products/:sku/price", updatePrice(d.Products, d.Cache, d.Log))
	admin.POST("/products/:sku/preload", preloadProduct(d.Products, d.Cache))

	// Shopper, session scoped
	shopper := api.Group("", middleware.Session(d.Config.HTTP.SessionCookie))
	shopper.GET("/session", getSession())
	shopper.POST("/negotiations/:sku", openNegotiation(d.Service, d.DeviceStore))
	submitChain := []gin.HandlerFunc{}
	if d.Redis != nil {
		submitChain = append(submitChain, middleware.RedisRateLimit(d.Redis, d.Config.Offer.RateLimit, d.Config.Offer.RateWindow, d.Log))
	}
	submitChain = append(submitChain, submitOffer(d.Service, d.DeviceStore))
	shopper.POST("/offers", submitChain...)
	shopper.GET("/offers", listOffers(d.Ledger, d.Clock))
	shopper.GET("/coupons", listCoupons(d.Service, d.DeviceStore))
	shopper.GET("/events", sessionEvents(d.SessionFeed, d.Clock))

	// Admin dashboard
	admin.GET("/admin/offers", listAllOffers(d.Ledger, d.Clock))
	admin.POST("/admin/offers/:id/redeem", redeemOffer(d.Ledger, d.Clock))
	admin.GET("/admin/summary", summarize(d.Ledger))
	admin.GET("/admin/events", adminEvents(d.AdminFeed, d.Clock))
}

// writeError 将错误类别映射为 HTTP 状态码。
func writeError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, negotiation.ErrInvalidAmount):
		status = http.StatusBadRequest
	case errors.Is(err, negotiation.ErrSubmissionInFlight):
		status = http.StatusConflict
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, ledger.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ledger.ErrUnavailable):
		status = http.StatusServiceUnavailable
	}
	_ = c.Error(err)
	c.JSON(status, gin.H{"code": status, "msg": err.Error()})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"code": 400, "msg": msg})
}

func ok(c *gin.Context, data any) {
	c.JSON(http.StatusOK, gin.H{"code": 0, "data": data})
}
