package middleware

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"shuq/internal/session"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderSessionID 非浏览器客户端（压测工具等）直接携带会话 id。
	HeaderSessionID = "X-Session-ID"
	ctxSessionID    = "session_id"
	cookieMaxAge    = 365 * 24 * 3600
)

// CookieStore 以浏览器 cookie 作为设备存储，每个键一个 cookie。
type CookieStore struct {
	c      *gin.Context
	prefix string
	// 本次请求内写入的值，Set-Cookie 在下一次请求前不会出现在 Request.Cookies 中。
	written map[string]string
}

func NewCookieStore(c *gin.Context, prefix string) *CookieStore {
	return &CookieStore{c: c, prefix: prefix, written: make(map[string]string)}
}

func (s *CookieStore) name(key string) string {
	return s.prefix + strings.NewReplacer(":", "_", "/", "_").Replace(key)
}

func (s *CookieStore) Load(_ context.Context, key string) (string, bool, error) {
	if v, ok := s.written[key]; ok {
		return v, true, nil
	}
	raw, err := s.c.Cookie(s.name(key))
	if err != nil {
		if err == http.ErrNoCookie {
			return "", false, nil
		}
		return "", false, err
	}
	return raw, true, nil
}

func (s *CookieStore) Save(_ context.Context, key, value string) error {
	s.written[key] = value
	s.c.SetSameSite(http.SameSiteLaxMode)
	s.c.SetCookie(s.name(key), url.QueryEscape(value), cookieMaxAge, "/", "", false, true)
	return nil
}

// Session 解析匿名会话 id：优先 X-Session-ID 头，否则读写 cookie（<prefix>session_id）。
func Session(cookiePrefix string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := strings.TrimSpace(c.GetHeader(HeaderSessionID)); id != "" {
			c.Set(ctxSessionID, id)
			c.Next()
			return
		}
		id, err := session.NewProvider(NewCookieStore(c, cookiePrefix)).ID(c.Request.Context())
		if err != nil {
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"code": 500, "msg": err.Error()})
			return
		}
		c.Set(ctxSessionID, id)
		c.Next()
	}
}

// GetSessionID 读取 Session 中间件写入的会话 id。
func GetSessionID(c *gin.Context) string {
	return c.GetString(ctxSessionID)
}
