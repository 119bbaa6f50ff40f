package router

import (
	"context"
	"net/http"
	"time"

	"shuq/internal/clock"
	"shuq/internal/middleware"
	"shuq/internal/notify"

	"github.com/gin-gonic/gin"
)

const (
	eventBuffer   = 32
	keepAliveTick = 15 * time.Second
)

type subscribeFunc func(ctx context.Context, h notify.Handler) (*notify.Subscription, error)

// sessionEvents SSE：仅推送当前会话的账本变更。
func sessionEvents(feed notify.Subscriber, clk clock.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		sid := middleware.GetSessionID(c)
		stream(c, clk, offerView, func(ctx context.Context, h notify.Handler) (*notify.Subscription, error) {
			return feed.SubscribeSession(ctx, sid, h)
		})
	}
}

// adminEvents SSE：全局变更，供管理端实时刷新。
func adminEvents(feed notify.Subscriber, clk clock.Clock) gin.HandlerFunc {
	return func(c *gin.Context) {
		stream(c, clk, adminOfferView, feed.SubscribeGlobal)
	}
}

// stream 订阅后先发送 ready 事件，之后逐条推送；客户端断开即退订。
// 慢客户端的缓冲满时丢弃，客户端可重新拉取列表。
func stream(c *gin.Context, clk clock.Clock, view viewFunc, subscribe subscribeFunc) {
	ctx := c.Request.Context()
	ch := make(chan notify.Mutation, eventBuffer)
	sub, err := subscribe(ctx, func(m notify.Mutation) {
		select {
		case ch <- m:
		default:
		}
	})
	if err != nil {
		writeError(c, err)
		return
	}
	defer sub.Unsubscribe()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)
	c.SSEvent("ready", gin.H{"at": clk.Now()})
	c.Writer.Flush()

	tick := time.NewTicker(keepAliveTick)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-ch:
			c.SSEvent(string(m.Kind), view(m.Attempt, clk.Now()))
			c.Writer.Flush()
		case <-tick.C:
			c.SSEvent("ping", gin.H{"at": clk.Now()})
			c.Writer.Flush()
		}
	}
}
