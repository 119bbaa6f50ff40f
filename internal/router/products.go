package router

import (
	"net/http"

	"shuq/internal/catalog"
	"shuq/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// listProducts 查询商品列表（不含最大折扣）。
func listProducts(store *catalog.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := store.List(c.Request.Context())
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, list)
	}
}

func getProduct(cat catalog.Catalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		p, err := cat.Get(c.Request.Context(), c.Param("sku"))
		if err != nil {
			writeError(c, err)
			return
		}
		ok(c, p)
	}
}

// createProduct 管理员录入商品参考数据。
func createProduct(store *catalog.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			SKU                   string          `json:"sku" binding:"required"`
			Name                  string          `json:"name" binding:"required"`
			Price                 decimal.Decimal `json:"price"`
			MaxDiscountPercentage int             `json:"max_discount_percentage" binding:"min=0,max=100"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		p := &model.Product{
			SKU:                   req.SKU,
			Name:                  req.Name,
			Price:                 req.Price,
			MaxDiscountPercentage: req.MaxDiscountPercentage,
		}
		if err := p.Validate(); err != nil {
			badRequest(c, err.Error())
			return
		}
		if err := store.Create(c.Request.Context(), p); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, gin.H{"code": 0, "data": p})
	}
}

// updatePrice 改价并删除缓存；进行中的议价沿用会话开始时的快照价。
func updatePrice(store *catalog.Store, cache *catalog.Cached, log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Price decimal.Decimal `json:"price"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		if !req.Price.IsPositive() {
			badRequest(c, "price must be > 0")
			return
		}
		sku := c.Param("sku")
		p, err := store.UpdatePrice(c.Request.Context(), sku, req.Price)
		if err != nil {
			writeError(c, err)
			return
		}
		if cache != nil {
			if err := cache.Invalidate(c.Request.Context(), sku); err != nil {
				log.Warn("invalidate product cache", zap.String("sku", sku), zap.Error(err))
			}
		}
		ok(c, p)
	}
}

// preloadProduct 将商品预热到 Redis 缓存。
func preloadProduct(store *catalog.Store, cache *catalog.Cached) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cache == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"code": 503, "msg": "product cache disabled"})
			return
		}
		p, err := store.Get(c.Request.Context(), c.Param("sku"))
		if err != nil {
			writeError(c, err)
			return
		}
		if err := cache.Warm(c.Request.Context(), p); err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"code": 0, "msg": "preloaded"})
	}
}
